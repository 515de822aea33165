// Package supervisor drives the bridge's periodic loops: peer health
// checks, context-sync refreshes, and the pending-request deadline sweep.
package supervisor

import (
	"context"
	"net"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
	"github.com/qhp-bridge/bridge/pkg/bridge/peer"
)

// Default loop cadences.
const (
	DefaultHealthInterval      = 30 * time.Second
	DefaultContextSyncInterval = 60 * time.Second
	DefaultSweepInterval       = time.Second
)

// ManagedPeer is the view of a PeerConnection the Supervisor needs: where
// it points, what state it is in, and a way to hand it a frame-bearing
// message. Reconnection itself is owned by the connection's own run loop;
// the Supervisor observes and reports.
type ManagedPeer interface {
	Snapshot() peer.Link
	Send(m *message.Message) error
}

// DeadlineSweeper evicts pending requests past their deadline — satisfied
// by router.Router.
type DeadlineSweeper interface {
	SweepDeadlines()
}

// TrustSweeper expires stale trust entries — satisfied by peer.TrustTable.
type TrustSweeper interface {
	Sweep() []string
}

// Config configures a Supervisor.
type Config struct {
	HealthInterval      time.Duration
	ContextSyncInterval time.Duration
	SweepInterval       time.Duration

	Peers   []ManagedPeer
	Sweeper DeadlineSweeper
	Trust   TrustSweeper

	// Probe checks raw reachability of an endpoint; overridable in tests.
	Probe func(endpoint string, timeout time.Duration) error

	Logger logger.Logger
}

// Supervisor runs the three periodic loops until its context is
// cancelled. Each loop is an independent task; one loop stalling never
// delays the others.
type Supervisor struct {
	cfg Config
	log logger.Logger
}

// New constructs a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.ContextSyncInterval == 0 {
		cfg.ContextSyncInterval = DefaultContextSyncInterval
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Probe == nil {
		cfg.Probe = probeEndpoint
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Supervisor{cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled, driving all three loops. It always
// returns nil on cancellation; the loops have no fatal failure modes.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(ctx, s.cfg.HealthInterval, s.healthTick) })
	g.Go(func() error { return s.loop(ctx, s.cfg.ContextSyncInterval, s.contextSyncTick) })
	g.Go(func() error { return s.loop(ctx, s.cfg.SweepInterval, s.sweepTick) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (s *Supervisor) loop(ctx context.Context, interval time.Duration, tick func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}

// healthTick probes each peer endpoint and reports links that are down.
// The connection's own run loop owns reconnection with backoff; here the
// job is observation, so an unreachable endpoint surfaces in logs and in
// the health report rather than silently stalling deliveries. Stale trust
// entries are expired on the same cadence.
func (s *Supervisor) healthTick() {
	for _, p := range s.cfg.Peers {
		link := p.Snapshot()
		if link.Status == peer.StatusReady {
			continue
		}
		if err := s.cfg.Probe(link.Endpoint, 2*time.Second); err != nil {
			s.log.Warn("supervisor: peer endpoint unreachable",
				logger.String("peer", link.Name),
				logger.String("endpoint", link.Endpoint),
				logger.Error(err))
			continue
		}
		s.log.Info("supervisor: peer endpoint reachable but link not ready",
			logger.String("peer", link.Name),
			logger.String("status", string(link.Status)))
	}

	if s.cfg.Trust != nil {
		if expired := s.cfg.Trust.Sweep(); len(expired) > 0 {
			s.log.Info("supervisor: expired trust entries", logger.Any("peers", expired))
		}
	}
}

// contextSyncTick sends a lightweight context-refresh message to each
// peer so long-lived sessions receive dimension updates. A peer that is
// down absorbs the refresh into its durable queue like any other send.
func (s *Supervisor) contextSyncTick() {
	now := time.Now().UTC()
	for _, p := range s.cfg.Peers {
		link := p.Snapshot()
		m := &message.Message{
			ID:        message.NewID(),
			Kind:      message.KindContext,
			Timestamp: now,
			Context: message.Context{
				Who:    "bridge",
				What:   "context_sync",
				When:   now,
				Where:  link.Endpoint,
				Why:    "periodic_refresh",
				How:    "supervisor",
				Extent: "single",
			},
		}
		if err := p.Send(m); err != nil {
			s.log.Warn("supervisor: context sync send failed",
				logger.String("peer", link.Name), logger.Error(err))
		}
	}
}

func (s *Supervisor) sweepTick() {
	if s.cfg.Sweeper != nil {
		s.cfg.Sweeper.SweepDeadlines()
	}
}

// probeEndpoint dials the endpoint's host:port at the TCP level.
func probeEndpoint(endpoint string, timeout time.Duration) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
