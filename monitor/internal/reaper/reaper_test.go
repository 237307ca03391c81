package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/monitor/internal/store"
	"github.com/machineguard/machineguard/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeEvictor struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
}

func (f *fakeEvictor) EvictIdle(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n
}

func (f *fakeEvictor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestSweep_UsesTTLCutoff(t *testing.T) {
	a := &fakeEvictor{n: 2}
	b := &fakeEvictor{n: 1}
	r := New(30*time.Minute, map[string]Evictor{"a": a, "b": b})
	r.now = func() time.Time { return baseTime }

	if got := r.Sweep(); got != 3 {
		t.Errorf("Sweep() = %d, want 3", got)
	}
	want := baseTime.Add(-30 * time.Minute)
	for name, f := range map[string]*fakeEvictor{"a": a, "b": b} {
		if len(f.cutoffs) != 1 || !f.cutoffs[0].Equal(want) {
			t.Errorf("%s cutoffs = %v, want [%v]", name, f.cutoffs, want)
		}
	}
}

func TestSweep_RealStores(t *testing.T) {
	hs := history.New(10)
	rs := store.New(0, 10)
	hs.Record("idle", types.MetricTemperature, 20)
	_ = rs.Put(context.Background(), &types.HealthReport{DeviceID: "idle"})

	r := New(time.Minute, map[string]Evictor{"history": hs, "reports": rs})
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if got := r.Sweep(); got != 2 {
		t.Errorf("Sweep() = %d, want 2", got)
	}
	if hs.Len() != 0 || rs.Count() != 0 {
		t.Errorf("after sweep: history=%d reports=%d", hs.Len(), rs.Count())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &fakeEvictor{}
	r := New(2*time.Second, map[string]Evictor{"f": f})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for f.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if f.calls() == 0 {
		t.Error("Run never swept")
	}
}
