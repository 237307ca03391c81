package api

import (
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/pkg/types"
)

// HealthResponse is the payload for GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	Devices       int    `json:"devices"`
	Processed     uint64 `json:"processed"`
	MQTTConnected bool   `json:"mqtt_connected"`
}

// DeviceResponse is one device in GET /api/devices or GET /api/devices/{id}.
type DeviceResponse struct {
	*types.HealthReport
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeen    string           `json:"last_seen"` // RFC3339
}

// HistoryResponse is the payload for GET /api/devices/{id}/history.
type HistoryResponse struct {
	DeviceID string                `json:"device_id"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	Reports  []*types.HealthReport `json:"reports"`
}

// StatsResponse is the payload for GET /api/devices/{id}/stats.
type StatsResponse struct {
	DeviceID string                   `json:"device_id"`
	Window   int                      `json:"window"`
	Metrics  map[string]history.Stats `json:"metrics"`
}

// ControlRequest is the body of POST /api/control.
type ControlRequest struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

// ControlResponse acknowledges a published command.
type ControlResponse struct {
	Status   string `json:"status"`
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

// ProcessingStats is the payload for GET /api/stats.
type ProcessingStats struct {
	Processed          uint64            `json:"processed"`
	Devices            int               `json:"devices"`
	LastReport         string            `json:"last_report,omitempty"` // RFC3339
	ValidationFailures map[string]uint64 `json:"validation_failures"`
	Anomalies          map[string]uint64 `json:"anomalies"`
	Predictions        map[string]uint64 `json:"predictions"`
	Alerts             map[string]uint64 `json:"alerts"`
	SinkErrors         map[string]uint64 `json:"sink_errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}
