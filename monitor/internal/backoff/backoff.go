// Package backoff implements truncated exponential backoff with jitter.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

const multiplier = 2.0

// Backoff yields successive retry delays. It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// New returns a Backoff starting at initial and doubling up to max.
func New(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the current delay with ±25% jitter and advances the state.
func (b *Backoff) Next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * multiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
