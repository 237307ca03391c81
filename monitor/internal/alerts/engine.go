package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/machineguard/machineguard/monitor/internal/config"
	"github.com/machineguard/machineguard/pkg/types"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one alert event for a device.
type Alert struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Level      Level      `json:"level"`
	Score      int        `json:"score"`
	Band       types.Band `json:"band"`
	Message    string     `json:"message"`
	Reasons    []string   `json:"reasons"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`

	notified bool // a fire notification was delivered
}

// Engine is the alert sink. It tracks the active alert per device and
// delivers webhook notifications when alerts fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	policy   Policy
	cooldown time.Duration
	webhooks []config.WebhookConfig
	active   map[string]*Alert              // key: device id
	lastFire map[string]map[Level]time.Time // key: device id
	seen     map[string]time.Time           // last report per device
	history  []*Alert                       // recently resolved alerts
	client   *http.Client
	now      func() time.Time // injectable for deterministic tests
	wg       sync.WaitGroup   // in-flight deliveries
}

// New creates an Engine from the alert configuration.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]map[Level]time.Time),
		seen:     make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.Reconfigure(cfg)
	return e
}

// Reconfigure applies new policy, cooldown and webhooks. Active alerts and
// cooldown timers are kept.
func (e *Engine) Reconfigure(cfg config.AlertsConfig) {
	p := DefaultPolicy()
	p.NotifyWarnings = cfg.NotifyWarnings
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
	e.cooldown = cooldown
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
}

// Classify applies the engine's current policy to r.
func (e *Engine) Classify(r *types.HealthReport) Decision {
	e.mu.Lock()
	p := e.policy
	e.mu.Unlock()
	return p.Classify(r)
}

// Notify records an alert for r at d.Level. A repeat of the same level for
// the same device within the cooldown is suppressed; resolving the device's
// alert clears its cooldowns. Decisions with Notify unset are tracked but not
// delivered.
func (e *Engine) Notify(_ context.Context, d Decision, r *types.HealthReport) error {
	if d.Level == LevelNone {
		return nil
	}
	now := e.now()

	e.mu.Lock()
	if last, ok := e.lastFire[r.DeviceID][d.Level]; ok && now.Sub(last) < e.cooldown {
		if cur, ok := e.active[r.DeviceID]; ok && cur.Level == d.Level {
			cur.Score = r.Score
			cur.Band = r.Band
		}
		e.mu.Unlock()
		return nil
	}

	if prev, ok := e.active[r.DeviceID]; ok {
		e.retire(prev, now)
	}
	a := &Alert{
		ID:       uuid.NewString(),
		DeviceID: r.DeviceID,
		Level:    d.Level,
		Score:    r.Score,
		Band:     r.Band,
		Reasons:  d.Reasons,
		Message: fmt.Sprintf("[%s] %s health %d (%s): %s",
			d.Level, r.DeviceID, r.Score, r.Band, strings.Join(d.Reasons, "; ")),
		FiredAt:  now,
		State:    StateFiring,
		notified: d.Notify,
	}
	e.active[r.DeviceID] = a
	if e.lastFire[r.DeviceID] == nil {
		e.lastFire[r.DeviceID] = make(map[Level]time.Time)
	}
	e.lastFire[r.DeviceID][d.Level] = now
	e.seen[r.DeviceID] = now
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alerts: alert fired",
		"device", r.DeviceID,
		"level", d.Level,
		"score", r.Score,
		"reasons", d.Reasons,
	)
	if d.Notify {
		e.dispatch(&alertCopy)
	}
	return nil
}

// Put observes every report and resolves the device's active alert once a
// report classifies as none. The resolve webhook is only sent for alerts
// whose firing was delivered.
func (e *Engine) Put(_ context.Context, r *types.HealthReport) error {
	now := e.now()
	level := e.Classify(r).Level

	e.mu.Lock()
	e.seen[r.DeviceID] = now
	if level != LevelNone {
		e.mu.Unlock()
		return nil
	}
	a, ok := e.active[r.DeviceID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	a.Score = r.Score
	a.Band = r.Band
	e.retire(a, now)
	delete(e.lastFire, r.DeviceID)
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alerts: alert resolved", "device", r.DeviceID, "level", alertCopy.Level)
	if alertCopy.notified {
		e.dispatch(&alertCopy)
	}
	return nil
}

// EvictIdle forgets devices with no report since cutoff: their active alert
// and cooldown timers are dropped without a notification.
func (e *Engine) EvictIdle(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, last := range e.seen {
		if !last.Before(cutoff) {
			continue
		}
		delete(e.seen, id)
		delete(e.lastFire, id)
		delete(e.active, id)
		n++
	}
	return n
}

// retire resolves a and moves it to history. Caller holds e.mu.
func (e *Engine) retire(a *Alert, now time.Time) {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, a.DeviceID)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) dispatch(a *Alert) {
	e.mu.Lock()
	hooks := e.webhooks
	e.mu.Unlock()
	if len(hooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(hooks, a)
	}()
}
