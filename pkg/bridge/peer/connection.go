// Package peer implements the PeerConnection: one outbound socket to a
// named peer, driven through disconnected -> connecting -> handshaking ->
// ready and back, with exponential-backoff reconnection and a durable
// outbound queue.
package peer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
	"github.com/qhp-bridge/bridge/pkg/bridge/queue"
)

// Status is the PeerLink lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusHandshaking  Status = "handshaking"
	StatusReady        Status = "ready"
	StatusClosing      Status = "closing"
)

// LinkTrust is the PeerLink's own record of who it is talking to,
// distinct from the TrustTable entry (which additionally carries the
// derived session key and is shared across the bridge).
type LinkTrust struct {
	PeerFingerprint string
	ExpiresAt       time.Time
}

// Link is the observable PeerLink state snapshot described in the data
// model: endpoint, socket presence, status, session key presence,
// activity, backoff, and trust.
type Link struct {
	Name            string
	Endpoint        string
	Status          Status
	HasSessionKey   bool
	LastActivity    time.Time
	BackoffAttempts int
	Trust           *LinkTrust
	SelectedVersion string
}

// FrameValidator is the slice of the Validator the peer boundary uses:
// full verification (signature, freshness, replay) of inbound frames and
// signing of outbound ones. Satisfied by validate.Validator.
type FrameValidator interface {
	CheckInbound(f *message.Frame) error
	SignOutbound(f *message.Frame, id string)
}

// Config configures a Connection.
type Config struct {
	Name              string
	Endpoint          string
	LocalIdentity     string
	Dialer            Dialer
	Codec             message.Codec
	Queue             *queue.Queue
	TrustTable        *TrustTable
	SupportedVersions []string
	PreferredVersion  string
	Backoff           Backoff
	HandshakeTimeout  time.Duration
	Validator         FrameValidator
	Logger            logger.Logger
}

// Connection is a single PeerConnection: it owns one outbound socket, its
// PeerLink state, and the DurableQueue for messages awaiting delivery.
type Connection struct {
	mu sync.Mutex

	name          string
	endpoint      string
	localIdentity string

	dialer     Dialer
	codec      message.Codec
	q          *queue.Queue
	trustTable *TrustTable
	backoff    Backoff
	validator  FrameValidator

	supportedVersions []string
	preferredVersion  string
	handshakeTimeout  time.Duration

	link   Link
	socket Socket

	ourFingerprint string
	ourChallenge   string

	inbound chan *message.Message
	log     logger.Logger

	closed    bool
	closeOnce sync.Once
}

// NewConnection constructs a Connection in the disconnected state.
func NewConnection(cfg Config) *Connection {
	log := cfg.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	backoff := cfg.Backoff
	if backoff.Base == 0 {
		backoff = DefaultBackoff
	}
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = HandshakeTimeout
	}
	return &Connection{
		name:              cfg.Name,
		endpoint:          cfg.Endpoint,
		localIdentity:     cfg.LocalIdentity,
		dialer:            cfg.Dialer,
		codec:             cfg.Codec,
		q:                 cfg.Queue,
		trustTable:        cfg.TrustTable,
		backoff:           backoff,
		validator:         cfg.Validator,
		supportedVersions: cfg.SupportedVersions,
		preferredVersion:  cfg.PreferredVersion,
		handshakeTimeout:  timeout,
		link: Link{
			Name:     cfg.Name,
			Endpoint: cfg.Endpoint,
			Status:   StatusDisconnected,
		},
		inbound: make(chan *message.Message, 64),
		log:     log.WithFields(logger.String("peer", cfg.Name)),
	}
}

// Inbound returns the stream of inbound Messages emitted once the frame
// has cleared handshake/version negotiation. Router owns and reads this
// channel; Connection does not know about Router.
func (c *Connection) Inbound() <-chan *message.Message { return c.inbound }

// Snapshot returns a copy of the current Link state.
func (c *Connection) Snapshot() Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// Status returns the current PeerLink status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Status
}

// Ready reports whether a Send would transmit on the wire right now
// rather than enter the durable queue.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Status == StatusReady && c.q.Len() == 0
}

// Run drives the connect/backoff/receive cycle until ctx is cancelled.
// Attempts never give up; there is no maximum attempt count.
func (c *Connection) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.log.Warn("peer: connect failed, scheduling reconnect", logger.Error(err))
			metrics.ReconnectAttempts.WithLabelValues(c.name).Inc()
			delay := c.backoff.Delay(attempt)
			attempt++
			c.mu.Lock()
			c.link.BackoffAttempts = attempt
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.pumpQueue()
		c.receiveLoop(ctx) // blocks until disconnect or ctx cancellation
		if ctx.Err() != nil {
			return
		}
	}
}

// connect runs the connect-and-handshake algorithm end to end.
func (c *Connection) connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	metrics.HandshakesInitiated.WithLabelValues(c.name).Inc()
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	sock, err := c.dialer(dialCtx, c.endpoint)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues(c.name, "dial").Inc()
		return err
	}

	c.setStatus(StatusHandshaking)

	if err := c.runHandshake(sock); err != nil {
		sock.Close()
		metrics.HandshakesFailed.WithLabelValues(c.name, "handshake").Inc()
		metrics.GetGlobalCollector().RecordHandshake(false, time.Since(start))
		c.setStatus(StatusDisconnected)
		return err
	}

	c.mu.Lock()
	c.socket = sock
	c.link.Status = StatusReady
	c.link.HasSessionKey = true
	c.link.LastActivity = time.Now()
	c.link.BackoffAttempts = 0
	c.mu.Unlock()

	metrics.HandshakesCompleted.WithLabelValues(c.name).Inc()
	metrics.HandshakeDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	metrics.GetGlobalCollector().RecordHandshake(true, time.Since(start))
	c.log.Info("peer: handshake complete, link ready")
	return nil
}

// runHandshake performs steps 3-7 of the connect algorithm: init, await
// response, verify, ack, and (folded into the ack round trip) version
// selection.
func (c *Connection) runHandshake(sock Socket) error {
	fingerprint, err := newFingerprint(c.localIdentity)
	if err != nil {
		return err
	}
	challenge, err := newChallenge()
	if err != nil {
		return err
	}
	c.ourFingerprint = fingerprint
	c.ourChallenge = challenge

	init := message.Frame{
		Kind: message.KindHandshake,
		ID:   message.NewID(),
		Content: HandshakeInitPayload{
			Fingerprint:       fingerprint,
			Challenge:         challenge,
			SupportedVersions: c.supportedVersions,
			PreferredVersion:  c.preferredVersion,
		},
	}
	if err := c.writeFrame(sock, &init, c.handshakeTimeout); err != nil {
		return fmt.Errorf("peer: send handshake init: %w", err)
	}

	if err := sock.SetReadDeadline(time.Now().Add(c.handshakeTimeout)); err != nil {
		return err
	}
	var respFrame message.Frame
	if err := sock.ReadJSON(&respFrame); err != nil {
		return fmt.Errorf("peer: await handshake response: %w", err)
	}
	if respFrame.Kind != message.KindHandshakeResponse {
		return fmt.Errorf("peer: expected handshake response, got %q", respFrame.Kind)
	}
	var resp HandshakeResponsePayload
	if err := decodeInto(respFrame.Content, &resp); err != nil {
		return fmt.Errorf("peer: decode handshake response: %w", err)
	}
	if !verifyChallengeResponse(challenge, resp.Fingerprint, resp.Response) {
		return fmt.Errorf("peer: handshake response verification failed")
	}

	ourResponse := challengeResponse(resp.Challenge, fingerprint)

	ack := message.Frame{
		Kind:    message.KindHandshakeAck,
		ID:      message.NewID(),
		Content: HandshakeAckPayload{Response: ourResponse},
	}
	if err := c.writeFrame(sock, &ack, c.handshakeTimeout); err != nil {
		return fmt.Errorf("peer: send handshake ack: %w", err)
	}
	selected := c.negotiateVersion(sock)

	sessionKey := deriveSessionKey(challenge, resp.Challenge, fingerprint, resp.Fingerprint)

	c.mu.Lock()
	c.link.SelectedVersion = selected
	c.link.Trust = &LinkTrust{PeerFingerprint: resp.Fingerprint, ExpiresAt: time.Now().Add(24 * time.Hour)}
	c.mu.Unlock()

	if c.trustTable != nil {
		c.trustTable.Record(c.name, TrustEntry{Fingerprint: resp.Fingerprint, SessionKey: sessionKey})
	}

	return nil
}

// negotiateVersion sends our supported+preferred versions and awaits a
// single selectedVersion; absence or timeout falls back to preferred.
func (c *Connection) negotiateVersion(sock Socket) string {
	req := message.Frame{
		Kind: message.KindVersionNegotiation,
		ID:   message.NewID(),
		Content: VersionNegotiationPayload{
			SupportedVersions: c.supportedVersions,
			PreferredVersion:  c.preferredVersion,
		},
	}
	if err := c.writeFrame(sock, &req, c.handshakeTimeout); err != nil {
		return c.preferredVersion
	}

	if err := sock.SetReadDeadline(time.Now().Add(c.handshakeTimeout)); err != nil {
		return c.preferredVersion
	}
	var respFrame message.Frame
	if err := sock.ReadJSON(&respFrame); err != nil {
		return c.preferredVersion
	}
	var resp VersionNegotiationResponsePayload
	if err := decodeInto(respFrame.Content, &resp); err != nil || resp.SelectedVersion == "" {
		return c.preferredVersion
	}
	return resp.SelectedVersion
}

// deriveSessionKey derives a 32-byte key via HKDF-SHA256 over the
// exchanged challenges and fingerprints. The key records the handshake
// outcome and makes no cryptographic claim beyond authentication; queued
// payloads are not encrypted with it.
func deriveSessionKey(ourChallenge, peerChallenge, ourFingerprint, peerFingerprint string) []byte {
	ikm := []byte(ourChallenge + peerChallenge)
	salt := []byte(ourFingerprint + peerFingerprint)
	reader := hkdf.New(sha256.New, ikm, salt, []byte("qhp-bridge-session-key-v1"))
	key := make([]byte, 32)
	if _, err := reader.Read(key); err != nil {
		return nil
	}
	return key
}

// Send implements the send contract: transmit when ready, enqueue
// otherwise (including on write failure or non-empty queue, to preserve
// FIFO), drop-with-failure when the message is already too old.
func (c *Connection) Send(m *message.Message) error {
	if !m.Timestamp.IsZero() && time.Since(m.Timestamp) > c.q.MaxAge() {
		metrics.QueueExpired.WithLabelValues(c.name).Inc()
		c.log.Warn("peer: dropping message older than queue max age",
			logger.String("messageId", m.ID))
		return fmt.Errorf("peer: message %s older than queue max age", m.ID)
	}

	c.mu.Lock()
	ready := c.link.Status == StatusReady
	sock := c.socket
	c.mu.Unlock()

	if ready && c.q.Len() == 0 {
		frame := message.ToFrame(m)
		if err := c.writeFrame(sock, frame, 5*time.Second); err == nil {
			c.mu.Lock()
			c.link.LastActivity = time.Now()
			c.mu.Unlock()
			return nil
		}
		c.setStatus(StatusDisconnected)
	}

	if err := c.q.Enqueue(m); err != nil {
		return fmt.Errorf("peer: enqueue after send failure: %w", err)
	}
	return nil
}

// pumpQueue drains the durable queue onto the wire now that the link is
// ready, in enqueue order.
func (c *Connection) pumpQueue() {
	err := c.q.Drain(func(m *message.Message) error {
		c.mu.Lock()
		sock := c.socket
		ready := c.link.Status == StatusReady
		c.mu.Unlock()
		if !ready || sock == nil {
			return fmt.Errorf("peer: link not ready")
		}
		return c.writeFrame(sock, message.ToFrame(m), 5*time.Second)
	})
	if err != nil {
		c.log.Warn("peer: queue drain encountered errors", logger.Error(err))
	}
}

// writeFrame signs the frame (when a validator is wired) and writes it
// within the given deadline; every frame leaving on the peer channel
// carries meta.messageId, meta.timestamp, and meta.signature.
func (c *Connection) writeFrame(sock Socket, f *message.Frame, timeout time.Duration) error {
	if c.validator != nil && f.Meta == nil {
		c.validator.SignOutbound(f, message.NewID())
	}
	if err := sock.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return sock.WriteJSON(f)
}

// receiveLoop reads framed messages until the socket closes or ctx is
// cancelled, emitting payload frames to Inbound(). Handshake/version
// frames never reach here; they are consumed entirely within connect().
// Each frame clears the validator's signature, freshness, and replay
// checks before it is surfaced.
func (c *Connection) receiveLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		sock := c.socket
		c.mu.Unlock()
		if sock == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = sock.SetReadDeadline(time.Now().Add(90 * time.Second))
		var frame message.Frame
		if err := sock.ReadJSON(&frame); err != nil {
			c.log.Info("peer: receive loop ending, connection closed", logger.Error(err))
			c.setStatus(StatusDisconnected)
			return
		}

		if frame.Kind == "" || frame.ID == "" {
			c.log.Warn("peer: dropping malformed frame")
			continue
		}

		if c.validator != nil {
			if err := c.validator.CheckInbound(&frame); err != nil {
				c.log.Warn("peer: dropping frame failing validation",
					logger.String("frameId", frame.ID), logger.Error(err))
				continue
			}
		}

		c.mu.Lock()
		c.link.LastActivity = time.Now()
		c.mu.Unlock()

		m := message.FromFrame(&frame, message.Context{})
		select {
		case c.inbound <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link.Status = s
	if s != StatusReady {
		c.link.HasSessionKey = false
	}
}

// Close is idempotent: it transitions to closing, closes the socket, and
// returns without purging the DurableQueue. It does not wait for a write
// already in progress on the socket.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.link.Status = StatusClosing
		sock := c.socket
		c.socket = nil
		c.mu.Unlock()
		if sock != nil {
			err = sock.Close()
		}
		c.setStatus(StatusDisconnected)
	})
	return err
}

// decodeInto round-trips v (typically a map[string]interface{} decoded by
// encoding/json) into out via JSON, since Frame.Content is interface{}.
func decodeInto(v interface{}, out interface{}) error {
	return remarshal(v, out)
}
