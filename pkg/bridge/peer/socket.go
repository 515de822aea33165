package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal framed-message transport PeerConnection drives.
// Abstracting over *websocket.Conn keeps the handshake/backoff/queue logic
// testable without a real network.
type Socket interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a Socket to a peer endpoint. The default implementation
// dials a websocket; tests substitute an in-memory Dialer.
type Dialer func(ctx context.Context, endpoint string) (Socket, error)

// DefaultDialer probes TCP reachability (brief, fail-fast) then opens a
// websocket connection, matching the connect algorithm's steps 1-2.
func DefaultDialer(dialTimeout time.Duration) Dialer {
	return func(ctx context.Context, endpoint string) (Socket, error) {
		if err := probeReachable(ctx, endpoint, dialTimeout); err != nil {
			return nil, fmt.Errorf("peer: reachability probe failed: %w", err)
		}

		dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
		conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("peer: websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("peer: websocket dial failed: %w", err)
		}
		return &wsSocket{conn: conn}, nil
	}
}

// probeReachable performs a brief TCP-level check so an unreachable peer
// fails fast rather than waiting out the full websocket handshake timeout.
func probeReachable(ctx context.Context, endpoint string, timeout time.Duration) error {
	host, err := hostPortFromWS(endpoint)
	if err != nil {
		return err
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	return conn.Close()
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) WriteJSON(v interface{}) error      { return s.conn.WriteJSON(v) }
func (s *wsSocket) ReadJSON(v interface{}) error       { return s.conn.ReadJSON(v) }
func (s *wsSocket) Close() error                       { return s.conn.Close() }
func (s *wsSocket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *wsSocket) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
