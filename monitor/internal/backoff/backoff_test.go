package backoff

import (
	"context"
	"testing"
	"time"
)

func TestNext_GrowsWithinJitterAndCaps(t *testing.T) {
	b := New(time.Second, 8*time.Second)
	bases := []time.Duration{1, 2, 4, 8, 8, 8}
	for i, base := range bases {
		want := base * time.Second
		got := b.Next()
		lo := time.Duration(float64(want) * 0.75)
		hi := time.Duration(float64(want) * 1.25)
		if got < lo || got > hi {
			t.Errorf("step %d: Next() = %v, want within [%v, %v]", i, got, lo, hi)
		}
	}
}

func TestReset(t *testing.T) {
	b := New(5*time.Second, 120*time.Second)
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got > time.Duration(float64(5*time.Second)*1.25) {
		t.Errorf("Next() after Reset = %v, want about 5s", got)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Error("Sleep on cancelled context reported full delay")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Error("Sleep(1ms) did not complete")
	}
}
