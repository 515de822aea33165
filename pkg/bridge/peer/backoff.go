package peer

import "time"

// Backoff computes the exponential reconnect delay with a hard ceiling:
// delay(n) = min(base * 2^n, ceiling). There is no maximum attempt count;
// attempts never give up.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
}

// DefaultBackoff is base 1s with a 30s ceiling.
var DefaultBackoff = Backoff{Base: time.Second, Ceiling: 30 * time.Second}

// Delay returns the backoff delay for the n-th attempt (0-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the shift to avoid overflow; any attempt count this high is
	// already far past the ceiling.
	if attempt > 40 {
		return b.Ceiling
	}
	d := b.Base * time.Duration(uint64(1)<<uint(attempt))
	if d > b.Ceiling || d <= 0 {
		return b.Ceiling
	}
	return d
}
