// Package reaper evicts per-device state for devices that have stopped
// reporting.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// Evictor drops entries not updated after cutoff and returns the count.
type Evictor interface {
	EvictIdle(cutoff time.Time) int
}

// Reaper periodically evicts idle devices from a set of stores.
type Reaper struct {
	ttl    time.Duration
	stores map[string]Evictor
	now    func() time.Time // injectable for deterministic tests
}

// New returns a Reaper that evicts devices idle for longer than ttl.
// stores is keyed by a name used in log output.
func New(ttl time.Duration, stores map[string]Evictor) *Reaper {
	return &Reaper{ttl: ttl, stores: stores, now: time.Now}
}

// Sweep runs one eviction pass and returns the total number of entries removed.
func (r *Reaper) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	total := 0
	for name, st := range r.stores {
		if n := st.EvictIdle(cutoff); n > 0 {
			slog.Debug("reaper: evicted idle devices", "store", name, "count", n)
			total += n
		}
	}
	return total
}

// Run ticks at half the TTL (minimum 1 second) and sweeps on every tick.
// It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}
