package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/machineguard/machineguard/pkg/types"
)

// Defaults used when Config fields are empty.
const (
	DefaultTopic = "sensors/+/data"

	// timestampField is the optional payload key carrying the device clock.
	timestampField = "timestamp"

	// epochMillisCutoff separates epoch seconds from epoch milliseconds.
	epochMillisCutoff = 1e11
	// 9999-12-31T23:59:59Z; larger values do not fit a calendar time.
	maxEpochSeconds = 253402300799
)

// DefaultRequired lists the metrics every payload must carry.
var DefaultRequired = []string{
	types.MetricTemperature,
	types.MetricHumidity,
	types.MetricGas,
	types.MetricPower,
}

// DefaultAliases maps firmware keys to canonical metric names.
var DefaultAliases = map[string]string{"current": types.MetricPower}

// Config controls how messages are parsed.
type Config struct {
	// Topic is an MQTT-style pattern with exactly one '+' for the device id.
	Topic string
	// Required metrics, checked in order.
	Required []string
	// Aliases maps alternate payload keys onto canonical metric names.
	Aliases map[string]string
	// Extra metric names accepted in addition to the known metrics.
	Extra []string
}

// Validator parses and checks inbound messages.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	segments []string
	wildcard int
	required []string
	aliases  map[string]string
	accepted []string
	now      func() time.Time // injectable for deterministic tests
}

// New builds a Validator. Empty Config fields take the package defaults.
func New(cfg Config) (*Validator, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Required == nil {
		cfg.Required = DefaultRequired
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases
	}

	segs := strings.Split(cfg.Topic, "/")
	wildcard := -1
	for i, s := range segs {
		switch {
		case s == "+":
			if wildcard >= 0 {
				return nil, fmt.Errorf("validate: topic %q has more than one '+'", cfg.Topic)
			}
			wildcard = i
		case s == "#" || strings.ContainsAny(s, "+#"):
			return nil, fmt.Errorf("validate: topic %q: unsupported wildcard segment %q", cfg.Topic, s)
		}
	}
	if wildcard < 0 {
		return nil, fmt.Errorf("validate: topic %q has no '+' device segment", cfg.Topic)
	}

	accepted := append([]string{}, types.KnownMetrics...)
	for _, m := range cfg.Extra {
		if !contains(accepted, m) {
			accepted = append(accepted, m)
		}
	}
	for _, m := range cfg.Required {
		if !contains(accepted, m) {
			accepted = append(accepted, m)
		}
	}

	return &Validator{
		segments: segs,
		wildcard: wildcard,
		required: append([]string{}, cfg.Required...),
		aliases:  cfg.Aliases,
		accepted: accepted,
		now:      time.Now,
	}, nil
}

// SubscribeTopic returns the pattern as an MQTT subscription filter.
func (v *Validator) SubscribeTopic() string {
	return strings.Join(v.segments, "/")
}

// DeviceID extracts the device id from topic.
func (v *Validator) DeviceID(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(v.segments) {
		return "", &Error{Kind: ErrMalformedTopic, Topic: topic}
	}
	for i, seg := range v.segments {
		if i == v.wildcard {
			continue
		}
		if parts[i] != seg {
			return "", &Error{Kind: ErrMalformedTopic, Topic: topic}
		}
	}
	id := parts[v.wildcard]
	if id == "" {
		return "", &Error{Kind: ErrMalformedTopic, Topic: topic}
	}
	return id, nil
}

// Validate parses payload received on topic into a Reading whose ReceivedAt
// is the time of validation.
func (v *Validator) Validate(topic string, payload []byte) (types.Reading, error) {
	deviceID, err := v.DeviceID(topic)
	if err != nil {
		return types.Reading{}, err
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return types.Reading{}, &Error{Kind: ErrMalformedPayload, Topic: topic, Cause: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return types.Reading{}, &Error{Kind: ErrMalformedPayload, Topic: topic, Cause: fmt.Errorf("trailing data after JSON object")}
	}
	if raw == nil {
		return types.Reading{}, &Error{Kind: ErrMalformedPayload, Topic: topic, Cause: fmt.Errorf("payload is null")}
	}

	for alias, canonical := range v.aliases {
		if _, ok := raw[canonical]; ok {
			continue
		}
		if val, ok := raw[alias]; ok {
			raw[canonical] = val
		}
	}

	for _, f := range v.required {
		if _, ok := raw[f]; !ok {
			return types.Reading{}, &Error{Kind: ErrMissingField, Field: f, Topic: topic}
		}
	}

	metrics := make(map[string]float64, len(v.accepted))
	for _, m := range v.accepted {
		val, ok := raw[m]
		if !ok {
			continue
		}
		f, ok := toFloat(val)
		if !ok {
			return types.Reading{}, &Error{Kind: ErrInvalidType, Field: m, Topic: topic}
		}
		metrics[m] = f
	}

	receivedAt := v.now().UTC()
	ts, ok := parseTimestamp(raw[timestampField])
	if !ok {
		ts = receivedAt
	}
	return types.NewReading(deviceID, ts, receivedAt, metrics), nil
}

// toFloat coerces a decoded JSON value into a finite float64.
func toFloat(val any) (float64, bool) {
	var f float64
	switch x := val.(type) {
	case json.Number:
		v, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = v
	case float64:
		f = x
	case string:
		v, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseTimestamp accepts RFC3339 strings and epoch seconds or milliseconds,
// as numbers or numeric strings.
func parseTimestamp(val any) (time.Time, bool) {
	switch x := val.(type) {
	case nil:
		return time.Time{}, false
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t.UTC(), true
		}
	}
	f, ok := toFloat(val)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f >= epochMillisCutoff {
		f /= 1000
	}
	if f > maxEpochSeconds {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Excerpt returns at most n bytes of payload for logging, cut on a rune
// boundary.
func Excerpt(payload []byte, n int) string {
	if len(payload) <= n {
		return string(payload)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return string(payload[:cut]) + "..."
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
