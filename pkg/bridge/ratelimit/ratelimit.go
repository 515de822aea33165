// Package ratelimit implements the RateLimiter: per-operation token-bucket
// admission control plus a global bucket, with abuse auditing.
package ratelimit

import (
	"sync"
	"time"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
)

// BucketConfig configures one named token bucket.
type BucketConfig struct {
	Capacity        int
	RefillPerMinute int
}

// abuseWindow and abuseThreshold implement the auditing rule: repeated
// denials from the same category within a short window raise an
// informational "potential abuse" event.
const (
	abuseWindow    = 5 * time.Minute
	abuseThreshold = 5
)

type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	denials []time.Time
}

func newBucket(cfg BucketConfig) *bucket {
	return &bucket{
		capacity:   float64(cfg.Capacity),
		tokens:     float64(cfg.Capacity),
		refillRate: float64(cfg.RefillPerMinute) / 60.0,
		lastRefill: time.Now(),
	}
}

func (b *bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryTake attempts to take one token, returning whether it succeeded.
func (b *bucket) tryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *bucket) tokensRemaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// recordDenial appends a denial timestamp and reports whether the abuse
// threshold has just been crossed within the abuse window.
func (b *bucket) recordDenial() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.denials = append(b.denials, now)

	cutoff := now.Add(-abuseWindow)
	kept := b.denials[:0]
	for _, d := range b.denials {
		if d.After(cutoff) {
			kept = append(kept, d)
		}
	}
	b.denials = kept
	return len(b.denials) == abuseThreshold
}

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted          bool
	Category          string
	RemainingCategory float64
	RemainingGlobal   float64
}

// Limiter is the RateLimiter: three named category buckets plus one
// global bucket. A request consumes one token from its category and one
// from the global bucket; denial occurs if either bucket lacks a token.
type Limiter struct {
	mu             sync.RWMutex
	categories     map[string]*bucket
	toolCategories map[string]string
	global         *bucket
	defaultCat     string
	log            logger.Logger
}

// New constructs a Limiter. categories must include at least "default";
// requests naming an unknown category fall back to "default".
func New(categories map[string]BucketConfig, global BucketConfig, log logger.Logger) *Limiter {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	l := &Limiter{
		categories:     make(map[string]*bucket, len(categories)),
		toolCategories: make(map[string]string),
		global:         newBucket(global),
		defaultCat:     "default",
		log:            log,
	}
	for name, cfg := range categories {
		l.categories[name] = newBucket(cfg)
	}
	if _, ok := l.categories[l.defaultCat]; !ok {
		l.categories[l.defaultCat] = newBucket(BucketConfig{Capacity: 60, RefillPerMinute: 60})
	}
	return l
}

// WithToolCategories installs the request-name to bucket-category
// mapping. Names absent from the mapping (and not naming a category
// directly) fall back to "default".
func (l *Limiter) WithToolCategories(m map[string]string) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, category := range m {
		l.toolCategories[name] = category
	}
	return l
}

// Admit attempts to admit a request named name, consuming one token from
// its category bucket and one from the global bucket. The category is
// resolved through the tool-category mapping first, then by direct bucket
// name, then "default".
func (l *Limiter) Admit(name string) Decision {
	l.mu.RLock()
	category := name
	if mapped, ok := l.toolCategories[name]; ok {
		category = mapped
	}
	cat, ok := l.categories[category]
	if !ok {
		category = l.defaultCat
		cat = l.categories[l.defaultCat]
	}
	global := l.global
	l.mu.RUnlock()

	catOK := cat.tryTake()
	globalOK := true
	if catOK {
		globalOK = global.tryTake()
	}

	admitted := catOK && globalOK
	if admitted {
		metrics.RateLimitAdmitted.WithLabelValues(category).Inc()
	} else {
		metrics.RateLimitDenied.WithLabelValues(category).Inc()
		if cat.recordDenial() {
			metrics.RateLimitAbuseEvents.Inc()
			l.log.Warn("ratelimit: potential abuse detected",
				logger.String("category", category), logger.Int("thresholdDenials", abuseThreshold))
		}
	}

	metrics.RateLimitTokens.WithLabelValues(category).Set(cat.tokensRemaining())
	metrics.RateLimitTokens.WithLabelValues("global").Set(global.tokensRemaining())

	return Decision{
		Admitted:          admitted,
		Category:          category,
		RemainingCategory: cat.tokensRemaining(),
		RemainingGlobal:   global.tokensRemaining(),
	}
}
