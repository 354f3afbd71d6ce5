package outbox

import (
	"math/rand"
	"time"
)

// Retry policy defaults. Delays double per attempt from BaseDelay up to
// MaxDelay; after MaxAttempts failures an entry is permanently failed.
const (
	BaseDelay   = 5 * time.Second
	MaxDelay    = 30 * time.Minute
	MaxAttempts = 10

	// jitterFraction spreads retries so peers coming back online do not
	// see every queued sender fire at once.
	jitterFraction = 0.2
)

// Backoff computes retry delays. The zero value is unusable; use
// NewBackoff.
type Backoff struct {
	base time.Duration
	max  time.Duration
	rand *rand.Rand
}

// NewBackoff returns a backoff over [base, max]. Non-positive bounds fall
// back to the package defaults.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = BaseDelay
	}
	if max <= 0 {
		max = MaxDelay
	}
	return &Backoff{
		base: base,
		max:  max,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the deterministic delay before retry number attempt
// (0-based): base doubled per attempt, clamped to [base, max].
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d < b.base {
		return b.base
	}
	return d
}

// Jittered returns Delay(attempt) spread by up to ±20%. Jitter is fairness
// scheduling, not secret material, so math/rand is fine here.
func (b *Backoff) Jittered(attempt int) time.Duration {
	d := b.Delay(attempt)
	spread := float64(d) * jitterFraction
	offset := (b.rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
