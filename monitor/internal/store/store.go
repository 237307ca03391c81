package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/machineguard/machineguard/pkg/types"
)

// DefaultHistorySize is the per-device report history used when New is
// given a non-positive size.
const DefaultHistorySize = 1000

// Entry is the latest report for a device together with the time it was
// received.
type Entry struct {
	Report    *types.HealthReport `json:"report"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Stats summarises store activity.
type Stats struct {
	Devices    int       `json:"devices"`
	Processed  uint64    `json:"processed"`
	LastReport time.Time `json:"last_report"`
}

type device struct {
	latest    Entry
	reports   []*types.HealthReport // ring of at most historySize reports
	head      int                   // index of the oldest report once full
	updatedAt time.Time
}

func (d *device) push(r *types.HealthReport, size int) {
	if len(d.reports) < size {
		d.reports = append(d.reports, r)
		return
	}
	d.reports[d.head] = r
	d.head = (d.head + 1) % len(d.reports)
}

// at returns the i-th report, oldest first.
func (d *device) at(i int) *types.HealthReport {
	return d.reports[(d.head+i)%len(d.reports)]
}

// Store is a thread-safe in-memory report store keyed by device id.
type Store struct {
	mu          sync.RWMutex
	data        map[string]*device
	ttl         time.Duration
	historySize int
	processed   uint64
	lastReport  time.Time
	now         func() time.Time // injectable for deterministic tests
}

// New creates a Store. Entries older than ttl are hidden from List; a zero
// ttl disables that filter.
func New(ttl time.Duration, historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{
		data:        make(map[string]*device),
		ttl:         ttl,
		historySize: historySize,
		now:         time.Now,
	}
}

// Put stores r as the latest report for its device and appends it to the
// device history. Callers must not modify r after calling Put.
func (s *Store) Put(_ context.Context, r *types.HealthReport) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[r.DeviceID]
	if !ok {
		d = &device{}
		s.data[r.DeviceID] = d
	}
	d.latest = Entry{Report: r, UpdatedAt: now}
	d.updatedAt = now
	d.push(r, s.historySize)
	s.processed++
	s.lastReport = now
	return nil
}

// Latest returns the most recent report for deviceID.
func (s *Store) Latest(deviceID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[deviceID]
	if !ok {
		return Entry{}, false
	}
	return d.latest, true
}

// List returns the latest entry of every device updated within the TTL,
// sorted by device id.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cutoff time.Time
	if s.ttl > 0 {
		cutoff = s.now().Add(-s.ttl)
	}
	out := make([]Entry, 0, len(s.data))
	for _, d := range s.data {
		if s.ttl > 0 && !d.updatedAt.After(cutoff) {
			continue
		}
		out = append(out, d.latest)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.DeviceID < out[j].Report.DeviceID
	})
	return out
}

// History returns up to limit reports for deviceID, newest first, skipping
// the newest offset reports. The bool is false when the device is unknown.
func (s *Store) History(deviceID string, limit, offset int) ([]*types.HealthReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[deviceID]
	if !ok {
		return nil, false
	}
	n := len(d.reports)
	if offset < 0 {
		offset = 0
	}
	out := make([]*types.HealthReport, 0)
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, d.at(i))
	}
	return out, true
}

// Count returns the number of devices held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Stats returns store totals.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Devices: len(s.data), Processed: s.processed, LastReport: s.lastReport}
}

// Purge removes everything held for deviceID. It reports whether the device
// was present.
func (s *Store) Purge(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[deviceID]
	delete(s.data, deviceID)
	return ok
}

// EvictIdle removes devices not updated after cutoff and returns how many
// were removed.
func (s *Store) EvictIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, d := range s.data {
		if !d.updatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}
