package acceptor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
)

// DefaultIdleTimeout is the interval after which a silent session is sent
// an application-level ping.
const DefaultIdleTimeout = 5 * time.Second

// shutdownDrain is how long existing sessions get to drain after the
// close frame is sent during graceful stop.
const shutdownDrain = 5 * time.Second

// HandlerFunc receives every request frame read from a session. The
// acceptor stays ignorant of the Router; the bridge wires the two
// together with a closure at construction time.
type HandlerFunc func(f *message.Frame, toolName string, sess *Session)

// ServerConfig configures the AcceptorServer.
type ServerConfig struct {
	Port        int
	IdleTimeout time.Duration
	Handler     HandlerFunc

	// DrainTimeout bounds how long live sessions get to drain during
	// graceful stop before their sockets are closed.
	DrainTimeout time.Duration

	// AllowedOrigins feeds the CORS layer in front of the websocket
	// upgrade path, for browser-hosted E-side clients. Empty means any.
	AllowedOrigins []string

	Logger logger.Logger
}

// Server is the AcceptorServer: it listens for inbound E-side connections
// on a fixed port and owns a Session per client.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	upgrader websocket.Upgrader
	log      logger.Logger

	httpServer *http.Server
	listener   net.Listener

	mu       sync.Mutex
	started  bool
	stopping bool
	wg       sync.WaitGroup
}

// NewServer constructs a Server.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = shutdownDrain
	}
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Registry exposes the live session table, for monitoring and shutdown.
func (s *Server) Registry() *Registry { return s.registry }

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start probes and binds the listen port, then begins accepting in a
// background goroutine. A port already in use is a fatal startup error;
// the bridge must never double-bind.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("acceptor: already started")
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	if err := probeListenPort(s.cfg.Port); err != nil {
		return fmt.Errorf("acceptor: listen port unavailable: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("acceptor: bind %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	corsOptions := cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"*"},
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		corsOptions.AllowedOrigins = s.cfg.AllowedOrigins
	} else {
		corsOptions.AllowedOrigins = []string{"*"}
	}

	s.httpServer = &http.Server{
		Handler:           cors.New(corsOptions).Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.started = true
	s.log.Info("acceptor: listening", logger.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("acceptor: serve ended", logger.Error(err))
		}
	}()

	return nil
}

// probeListenPort checks whether something is already bound to the port
// before we commit to starting.
func probeListenPort(port int) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 250*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("port %d already in use", port)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("acceptor: upgrade failed", logger.Error(err))
		return
	}

	sess := NewSession(message.NewID(), conn, s.log)
	s.registry.Add(sess)

	s.wg.Add(2)
	stopIdle := make(chan struct{})
	go func() {
		defer s.wg.Done()
		s.readLoop(sess)
		close(stopIdle)
	}()
	go func() {
		defer s.wg.Done()
		s.idleLoop(sess, stopIdle)
	}()
}

// readLoop pumps frames from one session until its socket closes.
func (s *Server) readLoop(sess *Session) {
	defer func() {
		sess.Close()
		s.registry.Remove(sess.ID, "closed")
	}()

	for {
		f, err := sess.Read()
		if err != nil {
			return
		}
		sess.NoteActivity()

		switch f.Kind {
		case message.KindPing:
			if err := sess.Send(&message.Frame{Kind: message.KindPong, ID: f.ID}); err != nil {
				return
			}
		case message.KindPong:
			// activity already noted
		case message.KindRequest:
			toolName := extractToolName(f)
			if s.cfg.Handler != nil {
				s.cfg.Handler(f, toolName, sess)
			}
		default:
			s.log.Warn("acceptor: dropping frame of unexpected kind",
				logger.String("kind", string(f.Kind)), logger.String("session", sess.ID))
		}
	}
}

// idleLoop enforces the idle policy: a ping after each silent interval,
// close after two consecutive silent intervals.
func (s *Server) idleLoop(sess *Session, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.IdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(sess.LastActivity()) < s.cfg.IdleTimeout {
				continue
			}
			if sess.NoteIdleInterval() {
				s.log.Info("acceptor: closing idle session", logger.String("session", sess.ID))
				sess.Close()
				return
			}
			if err := sess.Ping(); err != nil {
				sess.Close()
				return
			}
		}
	}
}

// extractToolName pulls the request name out of the frame content without
// committing to the full request decode (the Router re-decodes after
// validation).
func extractToolName(f *message.Frame) string {
	content, ok := f.Content.(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := content["name"].(string)
	return strings.TrimSpace(name)
}

// Stop performs the graceful shutdown sequence: stop accepting, send each
// live session a close frame, give them the drain window, then close
// everything and shut the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	live := s.registry.All()
	for _, sess := range live {
		err := sess.Send(&message.Frame{
			Kind:    message.KindError,
			ID:      message.NewID(),
			Content: message.ErrorPayload{Error: "bridge shutting down", ErrorType: message.ErrConnectionFailure, Recoverable: true},
		})
		if err != nil {
			sess.Close()
		}
	}

	if len(live) > 0 {
		drain := time.NewTimer(s.cfg.DrainTimeout)
		defer drain.Stop()
		select {
		case <-drain.C:
		case <-ctx.Done():
		}
	}

	for _, sess := range s.registry.All() {
		sess.Close()
		s.registry.Remove(sess.ID, "shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.wg.Wait()
	return err
}
