package history

import (
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the window size used when New is given a non-positive one.
const DefaultCapacity = 100

// shardCount is the number of device map partitions.
const shardCount = 32

// Stats summarises one window.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Store holds the rolling windows for every device.
//
// All exported methods are safe for concurrent use.
type Store struct {
	capacity int
	shards   [shardCount]shard
	now      func() time.Time // injectable for deterministic tests
}

type shard struct {
	mu      sync.RWMutex
	devices map[string]*device
}

// device is the per-device serialization point.
type device struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastWrite time.Time
	removed   bool // set under mu once the device has left its shard
}

// New returns a Store whose windows hold at most capacity values.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{capacity: capacity, now: time.Now}
	for i := range s.shards {
		s.shards[i].devices = make(map[string]*device)
	}
	return s
}

// Capacity returns the per-window capacity.
func (s *Store) Capacity() int { return s.capacity }

// Tx is a locked view of one device, valid only inside Apply.
type Tx struct {
	s *Store
	d *device
}

// Stats returns the statistics of the device's window for metric.
func (tx *Tx) Stats(metric string) Stats {
	w, ok := tx.d.windows[metric]
	if !ok {
		return Stats{}
	}
	return w.stats()
}

// Record appends v to the device's window for metric.
func (tx *Tx) Record(metric string, v float64) {
	w, ok := tx.d.windows[metric]
	if !ok {
		w = newWindow(tx.s.capacity)
		tx.d.windows[metric] = w
	}
	w.push(v)
	tx.d.lastWrite = tx.s.now()
}

// Apply runs fn with deviceID locked. The device is created on first use.
// fn must not retain tx or call back into the Store for the same device.
func (s *Store) Apply(deviceID string, fn func(tx *Tx)) {
	for {
		d := s.deviceFor(deviceID)
		d.mu.Lock()
		if d.removed {
			// Evicted between lookup and lock; fetch the replacement.
			d.mu.Unlock()
			continue
		}
		fn(&Tx{s: s, d: d})
		d.mu.Unlock()
		return
	}
}

// Record appends value to the (deviceID, metric) window, evicting the oldest
// value when the window is full.
func (s *Store) Record(deviceID, metric string, value float64) {
	s.Apply(deviceID, func(tx *Tx) { tx.Record(metric, value) })
}

// Stats returns count, mean and population standard deviation of the
// (deviceID, metric) window. Unknown pairs return the zero Stats.
func (s *Store) Stats(deviceID, metric string) Stats {
	d, ok := s.lookup(deviceID)
	if !ok {
		return Stats{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[metric]; ok {
		return w.stats()
	}
	return Stats{}
}

// Values returns the (deviceID, metric) window oldest first.
func (s *Store) Values(deviceID, metric string) []float64 {
	d, ok := s.lookup(deviceID)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[metric]; ok {
		return w.values()
	}
	return nil
}

// Snapshot returns per-metric stats for deviceID and whether it is tracked.
func (s *Store) Snapshot(deviceID string) (map[string]Stats, bool) {
	d, ok := s.lookup(deviceID)
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Stats, len(d.windows))
	for m, w := range d.windows {
		out[m] = w.stats()
	}
	return out, true
}

// Devices returns the tracked device ids, sorted.
func (s *Store) Devices() []string {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id := range sh.devices {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked devices.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.devices)
		sh.mu.RUnlock()
	}
	return n
}

// Purge drops every window of deviceID. It reports whether the device existed.
func (s *Store) Purge(deviceID string) bool {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	d, ok := sh.devices[deviceID]
	if !ok {
		return false
	}
	d.mu.Lock()
	d.removed = true
	d.mu.Unlock()
	delete(sh.devices, deviceID)
	return true
}

// EvictIdle removes devices whose last write is not after cutoff and returns
// how many were removed.
func (s *Store) EvictIdle(cutoff time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, d := range sh.devices {
			d.mu.Lock()
			if !d.lastWrite.After(cutoff) {
				d.removed = true
				delete(sh.devices, id)
				removed++
			}
			d.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Store) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // hash writes never fail
	return &s.shards[h.Sum32()%shardCount]
}

func (s *Store) lookup(deviceID string) (*device, bool) {
	sh := s.shardFor(deviceID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	d, ok := sh.devices[deviceID]
	return d, ok
}

func (s *Store) deviceFor(deviceID string) *device {
	if d, ok := s.lookup(deviceID); ok {
		return d
	}
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if d, ok := sh.devices[deviceID]; ok {
		return d
	}
	d := &device{windows: make(map[string]*window), lastWrite: s.now()}
	sh.devices[deviceID] = d
	return d
}

// window is a fixed-capacity ring buffer of float64 values.
type window struct {
	vals []float64
	next int // index of the oldest value once the buffer is full
}

func newWindow(capacity int) *window {
	return &window{vals: make([]float64, 0, capacity)}
}

func (w *window) push(v float64) {
	if len(w.vals) < cap(w.vals) {
		w.vals = append(w.vals, v)
		return
	}
	w.vals[w.next] = v
	w.next = (w.next + 1) % len(w.vals)
}

// values returns a copy of the window, oldest first.
func (w *window) values() []float64 {
	out := make([]float64, 0, len(w.vals))
	out = append(out, w.vals[w.next:]...)
	return append(out, w.vals[:w.next]...)
}

func (w *window) stats() Stats {
	n := len(w.vals)
	if n == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range w.vals {
		sum += v
	}
	mean := sum / float64(n)
	if n < 2 {
		return Stats{Count: n, Mean: mean}
	}
	var sq float64
	for _, v := range w.vals {
		d := v - mean
		sq += d * d
	}
	return Stats{Count: n, Mean: mean, StdDev: math.Sqrt(sq / float64(n))}
}
