package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/machineguard/machineguard/monitor/internal/alerts"
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/monitor/internal/metrics"
	"github.com/machineguard/machineguard/monitor/internal/store"
)

const (
	serviceName         = "machineguard-monitor"
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
	controlTimeout      = 5 * time.Second
)

// Publisher sends control commands to devices.
type Publisher interface {
	Publish(ctx context.Context, deviceID, command string) error
}

// AlertSource lists current alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Deps are the collaborators the API reads from. Alerts, Publisher,
// Connected and Stream are optional.
type Deps struct {
	Reports   *store.Store
	History   *history.Store
	Metrics   *metrics.Registry
	Alerts    AlertSource
	Publisher Publisher
	Connected func() bool
	Stream    http.Handler
	Version   string
}

// Handler serves the REST API.
type Handler struct {
	deps   Deps
	router chi.Router
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	h := &Handler{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/devices", h.listDevices)
		r.Get("/devices/{id}", h.getDevice)
		r.Delete("/devices/{id}", h.purgeDevice)
		r.Get("/devices/{id}/history", h.deviceHistory)
		r.Get("/devices/{id}/stats", h.deviceStats)
		r.Get("/alerts", h.alerts)
		r.Post("/control", h.control)
		r.Get("/stats", h.stats)
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	if d.Stream != nil {
		r.Method(http.MethodGet, "/ws/stream", d.Stream)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Service:       serviceName,
		Version:       h.deps.Version,
		Devices:       h.deps.History.Len(),
		Processed:     h.deps.Metrics.ReadingsProcessed.Value(),
		MQTTConnected: true,
	}
	if h.deps.Connected != nil && !h.deps.Connected() {
		resp.Status = "degraded"
		resp.MQTTConnected = false
	}
	jsonResp(w, http.StatusOK, resp)
}

// listDevices returns GET /api/devices.
func (h *Handler) listDevices(w http.ResponseWriter, _ *http.Request) {
	entries := h.deps.Reports.List()
	out := make([]DeviceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDeviceResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getDevice returns GET /api/devices/{id}.
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	e, ok := h.deps.Reports.Latest(chi.URLParam(r, "id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, toDeviceResponse(e))
}

// purgeDevice handles DELETE /api/devices/{id}.
func (h *Handler) purgeDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hadHistory := h.deps.History.Purge(id)
	hadReports := h.deps.Reports.Purge(id)
	if !hadHistory && !hadReports {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	slog.Info("api: device purged", "device", id)
	w.WriteHeader(http.StatusNoContent)
}

// deviceHistory returns GET /api/devices/{id}/history.
func (h *Handler) deviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			jsonErr(w, http.StatusBadRequest, "limit must be an integer between 1 and 10000")
			return
		}
		limit = n
	}
	offset := 0
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	reports, ok := h.deps.Reports.History(id, limit, offset)
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, HistoryResponse{DeviceID: id, Limit: limit, Offset: offset, Reports: reports})
}

// deviceStats returns GET /api/devices/{id}/stats.
func (h *Handler) deviceStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := h.deps.History.Snapshot(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, StatsResponse{DeviceID: id, Window: h.deps.History.Capacity(), Metrics: snap})
}

// alerts returns GET /api/alerts.
func (h *Handler) alerts(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}

// control handles POST /api/control.
func (h *Handler) control(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Command == "" {
		jsonErr(w, http.StatusBadRequest, "device_id and command are required")
		return
	}
	if h.deps.Publisher == nil {
		jsonErr(w, http.StatusServiceUnavailable, "control publisher not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	if err := h.deps.Publisher.Publish(ctx, req.DeviceID, req.Command); err != nil {
		slog.Warn("api: control publish failed", "device", req.DeviceID, "err", err)
		code := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		jsonErr(w, code, err.Error())
		return
	}
	jsonResp(w, http.StatusAccepted, ControlResponse{Status: "acknowledged", DeviceID: req.DeviceID, Command: req.Command})
}

// stats returns GET /api/stats.
func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	m := h.deps.Metrics
	st := h.deps.Reports.Stats()
	resp := ProcessingStats{
		Processed:          m.ReadingsProcessed.Value(),
		Devices:            h.deps.History.Len(),
		ValidationFailures: m.ValidationFailures.Snapshot(),
		Anomalies:          m.Anomalies.Snapshot(),
		Predictions:        m.Predictions.Snapshot(),
		Alerts:             m.Alerts.Snapshot(),
		SinkErrors:         m.SinkErrors.Snapshot(),
	}
	if !st.LastReport.IsZero() {
		resp.LastReport = st.LastReport.UTC().Format(time.RFC3339)
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toDeviceResponse(e store.Entry) DeviceResponse {
	return DeviceResponse{
		HealthReport: e.Report,
		Diagnostics:  computeDiagnostics(e.Report),
		LastSeen:     e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// requestLogger logs one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
