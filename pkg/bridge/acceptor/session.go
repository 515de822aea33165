// Package acceptor implements the AcceptorServer: it listens for inbound
// E-side connections and owns a Session per client, pumping request
// frames to the Router and serializing writes back to each client.
package acceptor

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
)

// Session is the per-inbound-E-client record: id, socket, creation time,
// and idle-probe state. Correlation bookkeeping for the client's
// in-flight requests lives centrally in the Router's pendingRequests map,
// which records the owning Session per outstanding id; keeping one table
// avoids a second copy that could drift from it.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once

	idleFailures int
	lastActivity time.Time
	mu           sync.Mutex

	log logger.Logger
}

// NewSession wraps an accepted websocket connection.
func NewSession(id string, conn *websocket.Conn, log logger.Logger) *Session {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		lastActivity: time.Now(),
		conn:         conn,
		log:          log.WithFields(logger.String("session", id)),
	}
}

// Send writes a frame to the client. Writes are serialized so concurrent
// Router paths delivering to the same Session never interleave.
func (s *Session) Send(f *message.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(f)
}

// Read blocks for the next frame from the client.
func (s *Session) Read() (*message.Frame, error) {
	var f message.Frame
	if err := s.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Ping sends an application-level idle probe. It does not count idle
// intervals; the caller does that via NoteIdleInterval, and two
// consecutive idle intervals with no traffic trigger a clean close.
func (s *Session) Ping() error {
	return s.Send(&message.Frame{Kind: message.KindPing, ID: message.NewID()})
}

// NoteActivity resets the idle-failure counter; call on every inbound frame.
func (s *Session) NoteActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleFailures = 0
	s.lastActivity = time.Now()
}

// LastActivity reports when the session last saw inbound traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// NoteIdleInterval increments the idle-failure counter and reports
// whether the two-consecutive-interval close threshold has been reached.
func (s *Session) NoteIdleInterval() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleFailures++
	return s.idleFailures >= 2
}

// Close closes the underlying connection. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Registry tracks all live Sessions, weakly from the Router's point of
// view (the Router holds only what it needs to deliver a response: the
// Session, not ownership of its lifecycle).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a new session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(len(r.sessions)))
}

// Remove unregisters a session and records its lifetime, labeling the
// close reason for the sessions_closed_total counter.
func (r *Registry) Remove(id string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		metrics.SessionDuration.Observe(time.Since(s.CreatedAt).Seconds())
		delete(r.sessions, id)
	}
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	metrics.SessionsActive.Set(float64(len(r.sessions)))
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns a snapshot of every live session, e.g. for monitoring broadcast.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
