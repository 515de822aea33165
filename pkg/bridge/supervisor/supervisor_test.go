package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/qhp-bridge/bridge/pkg/bridge/message"
	"github.com/qhp-bridge/bridge/pkg/bridge/peer"
)

type fakePeer struct {
	mu      sync.Mutex
	link    peer.Link
	sent    []*message.Message
	sendErr error
}

func (f *fakePeer) Snapshot() peer.Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

func (f *fakePeer) Send(m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakePeer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSweeper) SweepDeadlines() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTrust struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTrust) Sweep() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []string{"stale-peer"}
}

func (f *fakeTrust) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunDrivesAllThreeLoops(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &fakePeer{link: peer.Link{Name: "internal", Endpoint: "ws://i:1/ws", Status: peer.StatusReady}}
	sweeper := &fakeSweeper{}
	trust := &fakeTrust{}

	s := New(Config{
		HealthInterval:      20 * time.Millisecond,
		ContextSyncInterval: 20 * time.Millisecond,
		SweepInterval:       10 * time.Millisecond,
		Peers:               []ManagedPeer{p},
		Sweeper:             sweeper,
		Trust:               trust,
		Probe:               func(string, time.Duration) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sweeper.count() >= 3 && p.sentCount() >= 2 && trust.count() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestContextSyncSendsRefreshMessages(t *testing.T) {
	p := &fakePeer{link: peer.Link{Name: "internal", Endpoint: "ws://i:1/ws", Status: peer.StatusReady}}
	s := New(Config{Peers: []ManagedPeer{p}})

	s.contextSyncTick()

	require.Equal(t, 1, p.sentCount())
	m := p.sent[0]
	assert.Equal(t, message.KindContext, m.Kind)
	assert.Equal(t, "bridge", m.Context.Who)
	assert.Equal(t, "context_sync", m.Context.What)
	assert.False(t, m.Context.When.IsZero())
	assert.Equal(t, "ws://i:1/ws", m.Context.Where)
}

func TestContextSyncSendFailureDoesNotPanic(t *testing.T) {
	p := &fakePeer{
		link:    peer.Link{Name: "internal", Endpoint: "ws://i:1/ws"},
		sendErr: fmt.Errorf("queue full"),
	}
	s := New(Config{Peers: []ManagedPeer{p}})

	assert.NotPanics(t, func() { s.contextSyncTick() })
}

func TestHealthTickProbesOnlyNonReadyPeers(t *testing.T) {
	var probed []string
	var mu sync.Mutex
	probe := func(endpoint string, _ time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		probed = append(probed, endpoint)
		return fmt.Errorf("refused")
	}

	ready := &fakePeer{link: peer.Link{Name: "up", Endpoint: "ws://up:1/ws", Status: peer.StatusReady}}
	down := &fakePeer{link: peer.Link{Name: "down", Endpoint: "ws://down:2/ws", Status: peer.StatusDisconnected}}

	s := New(Config{Peers: []ManagedPeer{ready, down}, Probe: probe})
	s.healthTick()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ws://down:2/ws"}, probed)
}

func TestDefaultsApplied(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, DefaultHealthInterval, s.cfg.HealthInterval)
	assert.Equal(t, DefaultContextSyncInterval, s.cfg.ContextSyncInterval)
	assert.Equal(t, DefaultSweepInterval, s.cfg.SweepInterval)
	assert.NotNil(t, s.cfg.Probe)
}
