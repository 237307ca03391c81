package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/machineguard/machineguard/monitor/internal/alerts"
	"github.com/machineguard/machineguard/monitor/internal/api"
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/monitor/internal/metrics"
	"github.com/machineguard/machineguard/monitor/internal/store"
	"github.com/machineguard/machineguard/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	reports *store.Store
	history *history.Store
	metrics *metrics.Registry
}

func newFixture(reports ...*types.HealthReport) *fixture {
	f := &fixture{
		reports: store.New(5*time.Minute, 100),
		history: history.New(10),
		metrics: metrics.New(),
	}
	for _, r := range reports {
		_ = f.reports.Put(context.Background(), r)
		f.history.Record(r.DeviceID, types.MetricTemperature, 20)
	}
	return f
}

func (f *fixture) deps() api.Deps {
	return api.Deps{Reports: f.reports, History: f.history, Metrics: f.metrics, Version: "test"}
}

func report(id string, score int) *types.HealthReport {
	return &types.HealthReport{
		DeviceID:    id,
		Timestamp:   baseTime,
		Score:       score,
		Band:        types.BandGood,
		Anomalies:   []types.AnomalyRecord{},
		Predictions: []types.Prediction{},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path, "")
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/health ------------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(report("a", 100), report("b", 90))
	f.metrics.ReadingsProcessed.Inc()
	h := api.New(f.deps())

	rr := get(t, h, "/api/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.Service != "machineguard-monitor" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Devices != 2 || resp.Processed != 1 {
		t.Errorf("devices=%d processed=%d, want 2 and 1", resp.Devices, resp.Processed)
	}
}

func TestHealth_DegradedWhenDisconnected(t *testing.T) {
	f := newFixture()
	d := f.deps()
	d.Connected = func() bool { return false }

	var resp api.HealthResponse
	decode(t, get(t, api.New(d), "/api/health"), &resp)
	if resp.Status != "degraded" || resp.MQTTConnected {
		t.Errorf("health = %+v", resp)
	}
}

// --- /api/devices -----------------------------------------------------------

func TestListDevices(t *testing.T) {
	h := api.New(newFixture(report("b", 70), report("a", 100)).deps())

	rr := get(t, h, "/api/devices")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var out []api.DeviceResponse
	decode(t, rr, &out)
	if len(out) != 2 || out[0].DeviceID != "a" || out[1].DeviceID != "b" {
		t.Fatalf("devices = %+v", out)
	}
	if len(out[0].Diagnostics) != 1 || out[0].Diagnostics[0].Level != "ok" {
		t.Errorf("diagnostics = %+v", out[0].Diagnostics)
	}
	if out[0].LastSeen == "" {
		t.Error("last_seen empty")
	}
}

func TestListDevices_EmptyIsArray(t *testing.T) {
	rr := get(t, api.New(newFixture().deps()), "/api/devices")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestGetDevice(t *testing.T) {
	r := report("pump-1", 45)
	r.Band = types.BandPoor
	r.Anomalies = []types.AnomalyRecord{{Metric: "temperature", Value: 44, Reason: types.ReasonRange, Severity: types.SeverityWarning, Threshold: 40}}
	r.Predictions = []types.Prediction{types.NewPrediction("gas_hazard", types.RiskCritical, "Activate ventilation system", "gas")}
	h := api.New(newFixture(r).deps())

	rr := get(t, h, "/api/devices/pump-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var out api.DeviceResponse
	decode(t, rr, &out)
	if out.Score != 45 || out.Band != types.BandPoor {
		t.Errorf("device = %+v", out)
	}
	if len(out.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %+v", out.Diagnostics)
	}
	if out.Diagnostics[0].Level != "critical" || out.Diagnostics[0].Key != "prediction_gas_hazard" {
		t.Errorf("first hint = %+v, want critical gas_hazard", out.Diagnostics[0])
	}
	if out.Diagnostics[1].Key != "range_temperature" {
		t.Errorf("second hint key = %q", out.Diagnostics[1].Key)
	}

	if rr := get(t, h, "/api/devices/missing"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown device: got %d, want 404", rr.Code)
	}
}

// --- /api/devices/{id}/history ----------------------------------------------

func TestDeviceHistory(t *testing.T) {
	f := newFixture()
	for i := 1; i <= 5; i++ {
		_ = f.reports.Put(context.Background(), report("d", i))
	}
	h := api.New(f.deps())

	tests := []struct {
		name   string
		query  string
		code   int
		scores []int
	}{
		{"defaults", "", 200, []int{5, 4, 3, 2, 1}},
		{"limit", "?limit=2", 200, []int{5, 4}},
		{"offset", "?limit=2&offset=3", 200, []int{2, 1}},
		{"limit zero", "?limit=0", 400, nil},
		{"limit too large", "?limit=10001", 400, nil},
		{"limit max", "?limit=10000", 200, []int{5, 4, 3, 2, 1}},
		{"limit not a number", "?limit=ten", 400, nil},
		{"negative offset", "?offset=-1", 400, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, h, "/api/devices/d/history"+tt.query)
			if rr.Code != tt.code {
				t.Fatalf("status: got %d, want %d (body %s)", rr.Code, tt.code, rr.Body.String())
			}
			if tt.code != 200 {
				return
			}
			var resp api.HistoryResponse
			decode(t, rr, &resp)
			if len(resp.Reports) != len(tt.scores) {
				t.Fatalf("got %d reports, want %d", len(resp.Reports), len(tt.scores))
			}
			for i, r := range resp.Reports {
				if r.Score != tt.scores[i] {
					t.Errorf("reports[%d].Score = %d, want %d", i, r.Score, tt.scores[i])
				}
			}
		})
	}

	if rr := get(t, h, "/api/devices/nope/history"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown device: got %d, want 404", rr.Code)
	}
}

// --- /api/devices/{id}/stats ------------------------------------------------

func TestDeviceStats(t *testing.T) {
	f := newFixture()
	for _, v := range []float64{10, 20, 30} {
		f.history.Record("m1", types.MetricVibration, v)
	}
	h := api.New(f.deps())

	rr := get(t, h, "/api/devices/m1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.StatsResponse
	decode(t, rr, &resp)
	st := resp.Metrics[types.MetricVibration]
	if st.Count != 3 || st.Mean != 20 {
		t.Errorf("vibration stats = %+v", st)
	}
	if resp.Window != 10 {
		t.Errorf("window = %d, want 10", resp.Window)
	}
	if rr := get(t, h, "/api/devices/unknown/stats"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown device: got %d, want 404", rr.Code)
	}
}

// --- DELETE /api/devices/{id} -----------------------------------------------

func TestPurgeDevice(t *testing.T) {
	f := newFixture(report("gone", 100))
	h := api.New(f.deps())

	if rr := do(t, h, http.MethodDelete, "/api/devices/gone", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rr.Code)
	}
	if _, ok := f.reports.Latest("gone"); ok {
		t.Error("report survived purge")
	}
	if f.history.Len() != 0 {
		t.Error("history survived purge")
	}
	if rr := do(t, h, http.MethodDelete, "/api/devices/gone", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second purge: got %d, want 404", rr.Code)
	}
}

// --- /api/alerts ------------------------------------------------------------

type staticAlerts []*alerts.Alert

func (s staticAlerts) Active() []*alerts.Alert { return s }

func TestAlerts(t *testing.T) {
	f := newFixture()
	if got := strings.TrimSpace(get(t, api.New(f.deps()), "/api/alerts").Body.String()); got != "[]" {
		t.Errorf("no alert source: body = %s, want []", got)
	}

	d := f.deps()
	d.Alerts = staticAlerts{{ID: "a1", DeviceID: "d", Level: alerts.LevelCritical, State: alerts.StateFiring}}
	var out []alerts.Alert
	decode(t, get(t, api.New(d), "/api/alerts"), &out)
	if len(out) != 1 || out[0].ID != "a1" || out[0].Level != alerts.LevelCritical {
		t.Errorf("alerts = %+v", out)
	}
}

// --- POST /api/control ------------------------------------------------------

type fakePublisher struct {
	device, command string
	err             error
}

func (p *fakePublisher) Publish(_ context.Context, deviceID, command string) error {
	p.device, p.command = deviceID, command
	return p.err
}

func TestControl(t *testing.T) {
	pub := &fakePublisher{}
	d := newFixture().deps()
	d.Publisher = pub
	h := api.New(d)

	rr := do(t, h, http.MethodPost, "/api/control", `{"device_id":"fan-2","command":"stop"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.ControlResponse
	decode(t, rr, &resp)
	if resp.Status != "acknowledged" {
		t.Errorf("status field = %q", resp.Status)
	}
	if pub.device != "fan-2" || pub.command != "stop" {
		t.Errorf("published %s/%s", pub.device, pub.command)
	}
}

func TestControl_Errors(t *testing.T) {
	tests := []struct {
		name string
		pub  api.Publisher
		body string
		code int
	}{
		{"missing command", &fakePublisher{}, `{"device_id":"x"}`, 400},
		{"missing device", &fakePublisher{}, `{"command":"stop"}`, 400},
		{"bad json", &fakePublisher{}, `{`, 400},
		{"no publisher", nil, `{"device_id":"x","command":"stop"}`, 503},
		{"publish failed", &fakePublisher{err: errors.New("broker down")}, `{"device_id":"x","command":"stop"}`, 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFixture().deps()
			d.Publisher = tt.pub
			rr := do(t, api.New(d), http.MethodPost, "/api/control", tt.body)
			if rr.Code != tt.code {
				t.Errorf("status: got %d, want %d", rr.Code, tt.code)
			}
		})
	}
}

// --- /api/stats and /metrics ------------------------------------------------

func TestStats(t *testing.T) {
	f := newFixture(report("a", 100))
	f.metrics.ReadingsProcessed.Inc()
	f.metrics.ValidationFailures.With("missing_field").Inc()
	f.metrics.ValidationFailures.With("missing_field").Inc()
	h := api.New(f.deps())

	var resp api.ProcessingStats
	decode(t, get(t, h, "/api/stats"), &resp)
	if resp.Processed != 1 || resp.Devices != 1 {
		t.Errorf("stats = %+v", resp)
	}
	if resp.ValidationFailures["missing_field"] != 2 {
		t.Errorf("validation failures = %v", resp.ValidationFailures)
	}
	if resp.LastReport == "" {
		t.Error("last_report empty after a Put")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	f.metrics.ReadingsProcessed.Inc()
	rr := get(t, api.New(f.deps()), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "machineguard_readings_processed_total 1") {
		t.Errorf("body missing counter:\n%s", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rr := do(t, api.New(newFixture().deps()), http.MethodPost, "/api/health", "{}")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
