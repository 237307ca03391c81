package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/machineguard/machineguard/monitor/internal/config"
)

const deliveryTimeout = 10 * time.Second

// deliver sends webhook notifications for a to every target.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(hooks []config.WebhookConfig, a *Alert) {
	for _, wh := range hooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"device", a.DeviceID,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"device", a.DeviceID,
				"state", a.State,
			)
		}
	}
}

func (e *Engine) sendSlack(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", stateLabel(a), a.Message),
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": levelColor(a),
		"summary":    a.DeviceID,
		"title":      fmt.Sprintf("Machine Guard: %s %s", a.DeviceID, stateLabel(a)),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func stateLabel(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Level {
	case LevelCritical:
		return "[CRITICAL]"
	case LevelWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func levelColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Level {
	case LevelCritical:
		return "FF4F6A"
	case LevelWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
