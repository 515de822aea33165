// Package bridge assembles the full protocol bridge: the acceptor for
// inbound E-side clients, the two outbound peer connections, the router
// pipeline between them, and the supervisor that keeps it all coherent.
package bridge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qhp-bridge/bridge/config"
	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/pkg/bridge/acceptor"
	"github.com/qhp-bridge/bridge/pkg/bridge/health"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
	"github.com/qhp-bridge/bridge/pkg/bridge/peer"
	"github.com/qhp-bridge/bridge/pkg/bridge/queue"
	"github.com/qhp-bridge/bridge/pkg/bridge/ratelimit"
	"github.com/qhp-bridge/bridge/pkg/bridge/router"
	"github.com/qhp-bridge/bridge/pkg/bridge/supervisor"
	"github.com/qhp-bridge/bridge/pkg/bridge/translate"
	"github.com/qhp-bridge/bridge/pkg/bridge/validate"
)

// PeerExternal and PeerInternal name the two peer links.
const (
	PeerExternal = "external"
	PeerInternal = "internal"
)

// Bridge owns every component and drives their lifecycles. Construct with
// New, run with Run; there is no global state.
type Bridge struct {
	cfg *config.Config
	log logger.Logger

	translator *translate.Translator
	limiter    *ratelimit.Limiter
	validator  *validate.Validator
	trust      *peer.TrustTable

	external *peer.Connection
	internal *peer.Connection
	queues   map[string]*queue.Queue

	router   *router.Router
	acceptor *acceptor.Server
	sup      *supervisor.Supervisor

	healthServer *health.Server
}

// New wires a Bridge from configuration.
func New(cfg *config.Config, log logger.Logger) (*Bridge, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	b := &Bridge{
		cfg:    cfg,
		log:    log,
		queues: make(map[string]*queue.Queue),
	}

	b.translator = translate.New(cfg.ToolNameMap)

	categories := make(map[string]ratelimit.BucketConfig, len(cfg.RateLimits))
	global := ratelimit.BucketConfig{Capacity: 200, RefillPerMinute: 200}
	for name, rl := range cfg.RateLimits {
		bucket := ratelimit.BucketConfig{Capacity: rl.Capacity, RefillPerMinute: rl.RefillPerMinute}
		if name == "global" {
			global = bucket
			continue
		}
		categories[name] = bucket
	}
	b.limiter = ratelimit.New(categories, global, log).WithToolCategories(cfg.ToolCategories)

	validator, err := validate.New(deriveValidatorKey(), log)
	if err != nil {
		return nil, err
	}
	b.validator = validator

	b.trust = peer.NewTrustTable(24*time.Hour, log)

	if err := os.MkdirAll(cfg.QueueDir, 0755); err != nil {
		return nil, fmt.Errorf("bridge: create queue dir: %w", err)
	}

	backoff := peer.Backoff{Base: cfg.BackoffBase(), Ceiling: cfg.BackoffCeiling()}
	dialer := peer.DefaultDialer(cfg.HandshakeTimeout())
	identity := localIdentity()

	for _, pc := range []struct {
		name     string
		endpoint string
	}{
		{PeerExternal, cfg.ExternalPeerEndpoint},
		{PeerInternal, cfg.InternalPeerEndpoint},
	} {
		q, err := queue.New(pc.name, filepath.Join(cfg.QueueDir, pc.name+".json"),
			queue.WithMaxAge(cfg.QueueMaxAge()), queue.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("bridge: open queue for %s: %w", pc.name, err)
		}
		b.queues[pc.name] = q

		conn := peer.NewConnection(peer.Config{
			Name:              pc.name,
			Endpoint:          pc.endpoint,
			LocalIdentity:     identity,
			Dialer:            dialer,
			Codec:             message.NewJSONCodec(),
			Queue:             q,
			TrustTable:        b.trust,
			SupportedVersions: cfg.SupportedVersions,
			PreferredVersion:  cfg.PreferredVersion,
			Backoff:           backoff,
			HandshakeTimeout:  cfg.HandshakeTimeout(),
			Validator:         validator,
			Logger:            log,
		})
		switch pc.name {
		case PeerExternal:
			b.external = conn
		case PeerInternal:
			b.internal = conn
		}
	}

	b.router = router.New(b.translator, b.limiter, b.validator, b.internal, log).
		WithRequestTimeout(cfg.RequestTimeout())

	b.acceptor = acceptor.NewServer(acceptor.ServerConfig{
		Port:        cfg.ListenPort,
		IdleTimeout: cfg.IdleTimeout(),
		Handler: func(f *message.Frame, toolName string, sess *acceptor.Session) {
			b.router.HandleRequest(f, toolName, sess)
		},
		Logger: log,
	})

	b.sup = supervisor.New(supervisor.Config{
		HealthInterval:      cfg.HealthCheckInterval(),
		ContextSyncInterval: cfg.ContextSyncInterval(),
		Peers:               []supervisor.ManagedPeer{b.external, b.internal},
		Sweeper:             b.router,
		Trust:               b.trust,
		Logger:              log,
	})

	if cfg.Health != nil && cfg.Health.Enabled {
		b.healthServer = health.NewServer(health.NewChecker(b), log, cfg.Health.Port)
	}

	return b, nil
}

// Links implements health.LinkSource.
func (b *Bridge) Links() []peer.Link {
	return []peer.Link{b.external.Snapshot(), b.internal.Snapshot()}
}

// QueueDepth implements health.LinkSource.
func (b *Bridge) QueueDepth(peerName string) int {
	if q, ok := b.queues[peerName]; ok {
		return q.Len()
	}
	return 0
}

// Router exposes the router, e.g. for registering monitoring clients.
func (b *Bridge) Router() *router.Router { return b.router }

// Run starts every component and blocks until ctx is cancelled, then
// performs the graceful shutdown sequence: supervisor loops stop, the
// acceptor stops accepting and drains its sessions, peer links close.
// Durable queues keep whatever remains; nothing is discarded on shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.acceptor.Start(); err != nil {
		return err
	}

	if b.healthServer != nil {
		if err := b.healthServer.Start(); err != nil {
			b.log.Warn("bridge: health server failed to start", logger.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		b.external.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		b.internal.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		return b.sup.Run(runCtx)
	})
	g.Go(func() error {
		b.pumpInbound(runCtx, b.internal)
		return nil
	})
	g.Go(func() error {
		b.pumpInbound(runCtx, b.external)
		return nil
	})

	<-runCtx.Done()
	b.log.Info("bridge: shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := b.acceptor.Stop(stopCtx); err != nil {
		b.log.Warn("bridge: acceptor stop", logger.Error(err))
	}
	if b.healthServer != nil {
		_ = b.healthServer.Stop(stopCtx)
	}

	cancel()
	if err := b.external.Close(); err != nil {
		b.log.Warn("bridge: close external link", logger.Error(err))
	}
	if err := b.internal.Close(); err != nil {
		b.log.Warn("bridge: close internal link", logger.Error(err))
	}
	_ = g.Wait()

	b.log.Info("bridge: shutdown complete")
	return nil
}

// pumpInbound feeds messages arriving on a peer link into the router's
// response path until ctx is cancelled.
func (b *Bridge) pumpInbound(ctx context.Context, conn *peer.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-conn.Inbound():
			if !ok {
				return
			}
			switch m.Kind {
			case message.KindResponse, message.KindError:
				b.router.HandleResponse(m, conn.Snapshot().SelectedVersion)
			case message.KindContext:
				// context-refresh heartbeats carry no correlation; they
				// only prove the link is alive
			case message.KindPing:
				_ = conn.Send(&message.Message{ID: message.NewID(), Kind: message.KindPong})
			default:
				b.log.Warn("bridge: dropping inbound frame of unexpected kind",
					logger.String("kind", string(m.Kind)))
			}
		}
	}
}

// deriveValidatorKey derives the HMAC key from machine identity, so both
// halves of a co-deployed bridge pair agree without shipping a secret in
// configuration.
func deriveValidatorKey() []byte {
	sum := sha256.Sum256([]byte("qhp-bridge/" + localIdentity()))
	return sum[:]
}

func localIdentity() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "bridge-host"
	}
	return hostname
}
