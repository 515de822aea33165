package peer

import (
	"sync"
	"time"

	"github.com/qhp-bridge/bridge/internal/logger"
)

// TrustEntry is one row of the TrustTable: the peer's authenticated
// fingerprint, the session key derived during its handshake, and when
// that trust was established.
type TrustEntry struct {
	Fingerprint   string
	SessionKey    []byte
	EstablishedAt time.Time
}

func (e TrustEntry) expired(ttl time.Duration) bool {
	return time.Since(e.EstablishedAt) > ttl
}

// TrustTable maps peer name to its current trust entry. Entries older
// than trustTTL are expired by a background sweep; an expired entry
// forces re-handshake on next use. Reads dominate writes, so it is
// protected by a single RWMutex.
type TrustTable struct {
	mu      sync.RWMutex
	entries map[string]TrustEntry
	ttl     time.Duration
	log     logger.Logger
}

// NewTrustTable constructs a TrustTable with the given expiry window.
func NewTrustTable(ttl time.Duration, log logger.Logger) *TrustTable {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &TrustTable{entries: make(map[string]TrustEntry), ttl: ttl, log: log}
}

// Record establishes or refreshes trust for a peer.
func (t *TrustTable) Record(peerName string, entry TrustEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry.EstablishedAt.IsZero() {
		entry.EstablishedAt = time.Now()
	}
	t.entries[peerName] = entry
}

// Lookup returns the current trust entry for peerName and whether it is
// present and unexpired. An expired entry is treated as absent.
func (t *TrustTable) Lookup(peerName string) (TrustEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[peerName]
	if !ok || entry.expired(t.ttl) {
		return TrustEntry{}, false
	}
	return entry, true
}

// Sweep removes every expired entry, returning the names it expired so
// the caller can force re-handshake.
func (t *TrustTable) Sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []string
	for name, entry := range t.entries {
		if entry.expired(t.ttl) {
			expired = append(expired, name)
			delete(t.entries, name)
		}
	}
	if len(expired) > 0 {
		t.log.Info("trust table swept expired entries", logger.Any("peers", expired))
	}
	return expired
}
