package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhp-bridge/bridge/config"
	"github.com/qhp-bridge/bridge/pkg/bridge/peer"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ListenPort:           freePort(t),
		ExternalPeerEndpoint: "ws://127.0.0.1:1/ws",
		InternalPeerEndpoint: "ws://127.0.0.1:2/ws",
		QueueDir:             t.TempDir(),
		ToolNameMap:          map[string]string{"compress_data": "compression"},
	}
	cfg.PreferredVersion = "1.0"
	cfg.SupportedVersions = []string{"1.0"}
	cfg.IdleTimeoutSeconds = 5
	cfg.RequestTimeoutSeconds = 30
	cfg.HandshakeTimeoutSeconds = 1
	cfg.QueueMaxAgeSeconds = 3600
	cfg.BackoffBaseMs = 100
	cfg.BackoffCeilingMs = 1000
	cfg.HealthCheckIntervalSeconds = 30
	cfg.ContextSyncIntervalSeconds = 60
	return cfg
}

func TestNewWiresAllComponents(t *testing.T) {
	b, err := New(testConfig(t), nil)
	require.NoError(t, err)

	links := b.Links()
	require.Len(t, links, 2)
	assert.Equal(t, PeerExternal, links[0].Name)
	assert.Equal(t, PeerInternal, links[1].Name)
	assert.Equal(t, peer.StatusDisconnected, links[0].Status)
	assert.Equal(t, 0, b.QueueDepth(PeerInternal))
	assert.Equal(t, 0, b.QueueDepth("no-such-peer"))
	assert.NotNil(t, b.Router())
}

func TestRunShutsDownCleanlyOnCancel(t *testing.T) {
	b, err := New(testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// give the components a moment to start, then pull the plug
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunRefusesBusyListenPort(t *testing.T) {
	cfg := testConfig(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	cfg.ListenPort = l.Addr().(*net.TCPAddr).Port

	b, err := New(cfg, nil)
	require.NoError(t, err)

	assert.Error(t, b.Run(context.Background()))
}
