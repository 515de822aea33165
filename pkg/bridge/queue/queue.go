// Package queue implements the DurableQueue: a per-peer, time-bounded,
// persisted FIFO of messages awaiting delivery.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
)

// DefaultMaxAge is the default entry lifetime before lazy/eager expiry.
const DefaultMaxAge = time.Hour

// Entry is a single queued message plus its bookkeeping fields.
type Entry struct {
	Message    message.Message `json:"message"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
}

// fileState is the on-disk shape: a JSON object keyed by peer name plus a
// top-level timestamp, written atomically via temp-file-plus-rename.
type fileState struct {
	Timestamp time.Time          `json:"timestamp"`
	Peers     map[string][]Entry `json:"peers"`
}

// SendFunc delivers one entry's message; returning an error means the
// entry must be re-enqueued at the head of the queue.
type SendFunc func(m *message.Message) error

// Queue is a single peer's durable FIFO. Multiple Queues sharing a path
// share the same on-disk file, one top-level key per peer, so a
// multi-peer bridge persists all peers' backlogs in one file.
type Queue struct {
	mu      sync.Mutex
	peer    string
	path    string
	maxAge  time.Duration
	entries []Entry
	log     logger.Logger
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(q *Queue) { q.maxAge = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// New constructs a Queue for the named peer, persisted at path, loading
// and expiring any existing entries synchronously.
func New(peer, path string, opts ...Option) (*Queue, error) {
	q := &Queue{
		peer:   peer,
		path:   path,
		maxAge: DefaultMaxAge,
		log:    logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue appends m, replacing any existing entry with the same id in
// place (preserving its original position), then persists the whole
// queue to disk before returning. A successful return guarantees the
// entry is on stable storage.
func (q *Queue) Enqueue(m *message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := Entry{Message: *m, EnqueuedAt: time.Now()}

	replaced := false
	for i := range q.entries {
		if q.entries[i].Message.ID == m.ID {
			q.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		q.entries = append(q.entries, entry)
	}

	q.expireLocked()

	if err := q.persistLocked(); err != nil {
		return fmt.Errorf("queue: enqueue persist: %w", err)
	}

	metrics.QueueEnqueued.WithLabelValues(q.peer).Inc()
	metrics.QueueDepth.WithLabelValues(q.peer).Set(float64(len(q.entries)))
	return nil
}

// Drain snapshots the current entries, clears and persists the empty
// queue, then calls send for each entry in order. Any entry whose send
// fails is re-enqueued at the head, preserving original relative order.
func (q *Queue) Drain(send SendFunc) error {
	q.mu.Lock()
	snapshot := make([]Entry, len(q.entries))
	copy(snapshot, q.entries)
	q.entries = nil
	persistErr := q.persistLocked()
	q.mu.Unlock()

	if persistErr != nil {
		q.mu.Lock()
		q.entries = snapshot
		q.mu.Unlock()
		return fmt.Errorf("queue: drain persist-empty: %w", persistErr)
	}

	var failed []Entry
	for _, entry := range snapshot {
		entry.Attempts++
		m := entry.Message
		if err := send(&m); err != nil {
			q.log.Warn("queue: redelivery failed, re-enqueuing",
				logger.String("peer", q.peer), logger.String("messageId", m.ID), logger.Error(err))
			failed = append(failed, entry)
			continue
		}
		metrics.QueueDrained.WithLabelValues(q.peer).Inc()
	}

	if len(failed) > 0 {
		q.mu.Lock()
		q.entries = append(failed, q.entries...)
		q.expireLocked()
		err := q.persistLocked()
		q.mu.Unlock()
		if err != nil {
			return fmt.Errorf("queue: drain re-persist: %w", err)
		}
	}

	q.mu.Lock()
	metrics.QueueDepth.WithLabelValues(q.peer).Set(float64(len(q.entries)))
	q.mu.Unlock()
	return nil
}

// MaxAge reports the entry lifetime this queue enforces.
func (q *Queue) MaxAge() time.Duration {
	return q.maxAge
}

// Len reports the current number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Expire drops entries older than maxAge, persisting the result if
// anything changed. Called on load and from every persistence write.
func (q *Queue) Expire() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.entries)
	q.expireLocked()
	if len(q.entries) == before {
		return nil
	}
	return q.persistLocked()
}

func (q *Queue) expireLocked() {
	now := time.Now()
	kept := q.entries[:0]
	expired := 0
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) > q.maxAge {
			expired++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	if expired > 0 {
		metrics.QueueExpired.WithLabelValues(q.peer).Add(float64(expired))
	}
}

func (q *Queue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: read state file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("queue: parse state file: %w", err)
	}
	q.entries = state.Peers[q.peer]
	q.expireLocked()
	return nil
}

// persistLocked writes the whole queue file to disk atomically (temp file
// plus rename), merging in any other peers already on disk so multiple
// Queue instances sharing a path don't clobber each other.
func (q *Queue) persistLocked() error {
	start := time.Now()
	defer func() {
		metrics.QueuePersistDuration.Observe(time.Since(start).Seconds())
	}()

	state := fileState{Timestamp: time.Now(), Peers: map[string][]Entry{}}

	if existing, err := os.ReadFile(q.path); err == nil {
		var onDisk fileState
		if json.Unmarshal(existing, &onDisk) == nil {
			for peer, entries := range onDisk.Peers {
				if peer != q.peer {
					state.Peers[peer] = entries
				}
			}
		}
	}
	state.Peers[q.peer] = q.entries

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal state: %w", err)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("queue: ensure dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("queue: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("queue: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("queue: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: rename temp file: %w", err)
	}
	return nil
}
