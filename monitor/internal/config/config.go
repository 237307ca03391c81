package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBroker         = "tcp://localhost:1883"
	DefaultClientID       = "machineguard-monitor"
	DefaultTopic          = "sensors/+/data"
	DefaultControlTopic   = "control/{device_id}/command"
	DefaultReconnectMin   = 5 * time.Second
	DefaultReconnectMax   = 120 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	DefaultWindowSize = 100
	DefaultMinSamples = 10
	DefaultZThreshold = 2.0

	DefaultAlertCooldown = 15 * time.Minute
	DefaultDeviceTTL     = 30 * time.Minute
	DefaultHistorySize   = 1000
	DefaultShipBuffer    = 1000
	DefaultDynamoTTL     = 24 * time.Hour

	DefaultHTTPPort   = 8080
	DefaultGRPCPort   = 50051
	DefaultWSInterval = 5 * time.Second
)

// Config is the top-level monitor configuration.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Validation ValidationConfig `yaml:"validation"`
	Engine     EngineConfig     `yaml:"engine"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Store      StoreConfig      `yaml:"store"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://mosquitto:1883.
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`

	// Topic is the subscription pattern. It must hold exactly one '+',
	// which matches the device id.
	Topic string `yaml:"topic"`

	// ControlTopic is where control commands are published. The literal
	// {device_id} is replaced with the target device.
	ControlTopic string `yaml:"control_topic"`

	QoS byte `yaml:"qos"`

	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`

	// ReconnectMin and ReconnectMax bound the connect retry backoff.
	ReconnectMin   time.Duration `yaml:"reconnect_min"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// ControlTopicFor returns the control topic for deviceID.
func (m MQTTConfig) ControlTopicFor(deviceID string) string {
	return strings.ReplaceAll(m.ControlTopic, "{device_id}", deviceID)
}

// ValidationConfig controls payload checks.
type ValidationConfig struct {
	// Required metrics, checked in order; the first missing one is reported.
	Required []string `yaml:"required"`
	// Aliases maps firmware payload keys onto canonical metric names.
	Aliases map[string]string `yaml:"aliases"`
	// Extra metric names accepted besides temperature, humidity, gas,
	// vibration and power.
	Extra []string `yaml:"extra"`
}

// EngineConfig holds the anomaly, prediction and scoring thresholds.
type EngineConfig struct {
	// WindowSize is the per-metric history capacity. Changing it needs a restart.
	WindowSize int     `yaml:"window_size"`
	MinSamples int     `yaml:"min_samples"`
	ZThreshold float64 `yaml:"z_threshold"`

	// Ranges maps a metric to its normal range. Each entry must set both bounds.
	Ranges map[string]RangeConfig `yaml:"ranges"`

	Penalties   PenaltyConfig    `yaml:"penalties"`
	Bands       BandConfig       `yaml:"bands"`
	Predictions PredictionConfig `yaml:"predictions"`
}

// RangeConfig is a closed normal range for one metric.
type RangeConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
	// Severity is warning (default) or critical.
	Severity string `yaml:"severity"`
}

// PenaltyConfig is the score deduction table.
type PenaltyConfig struct {
	Anomaly  int `yaml:"anomaly"`
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// BandConfig holds the inclusive lower bound of each non-critical band.
type BandConfig struct {
	Good int `yaml:"good"`
	Fair int `yaml:"fair"`
	Poor int `yaml:"poor"`
}

// PredictionConfig parameterises the built-in failure rules.
type PredictionConfig struct {
	BearingVibration   float64 `yaml:"bearing_vibration"`
	BearingTemperature float64 `yaml:"bearing_temperature"`
	GasHazard          float64 `yaml:"gas_hazard"`
	PowerFloor         float64 `yaml:"power_floor"`
}

// AlertsConfig holds alert policy and webhook delivery targets.
type AlertsConfig struct {
	// NotifyWarnings controls whether warning-level decisions notify.
	// Critical decisions always notify.
	NotifyWarnings bool `yaml:"notify_warnings"`

	// Cooldown suppresses re-fires of the same level for a device.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// StoreConfig controls the in-memory report store and idle-device reaping.
type StoreConfig struct {
	// DeviceTTL is how long a silent device keeps its history and reports.
	DeviceTTL time.Duration `yaml:"device_ttl"`
	// HistorySize is the number of reports kept per device.
	HistorySize int `yaml:"history_size"`
}

// SinksConfig configures the optional remote report sinks.
type SinksConfig struct {
	Kafka    KafkaConfig  `yaml:"kafka"`
	DynamoDB DynamoConfig `yaml:"dynamodb"`
}

// KafkaConfig configures publishing reports to a Kafka topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// BufferSize is the number of reports held while Kafka is unreachable.
	BufferSize int `yaml:"buffer_size"`
}

// DynamoConfig configures writing reports to a DynamoDB table.
type DynamoConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Table   string `yaml:"table"`
	// Endpoint overrides the AWS endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint"`
	// TTL sets the expiry attribute written with every item.
	TTL        time.Duration `yaml:"ttl"`
	BufferSize int           `yaml:"buffer_size"`
}

// ServerConfig holds the listening ports.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
	GRPCPort int `yaml:"grpc_port"`
	// WSInterval is how often the WebSocket hub pushes a full snapshot.
	WSInterval time.Duration `yaml:"ws_interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:         DefaultBroker,
			ClientID:       DefaultClientID,
			Topic:          DefaultTopic,
			ControlTopic:   DefaultControlTopic,
			QoS:            1,
			ReconnectMin:   DefaultReconnectMin,
			ReconnectMax:   DefaultReconnectMax,
			ConnectTimeout: DefaultConnectTimeout,
		},
		Validation: ValidationConfig{
			Required: []string{"temperature", "humidity", "gas", "power"},
			Aliases:  map[string]string{"current": "power"},
		},
		Engine: EngineConfig{
			WindowSize: DefaultWindowSize,
			MinSamples: DefaultMinSamples,
			ZThreshold: DefaultZThreshold,
			Ranges: map[string]RangeConfig{
				"temperature": {Low: 15, High: 40},
				"humidity":    {Low: 20, High: 80},
				"gas":         {Low: 300, High: 1500},
			},
			Penalties: PenaltyConfig{Anomaly: 20, Medium: 5, High: 15, Critical: 30},
			Bands:     BandConfig{Good: 80, Fair: 60, Poor: 40},
			Predictions: PredictionConfig{
				BearingVibration:   60,
				BearingTemperature: 35,
				GasHazard:          1200,
				PowerFloor:         0.1,
			},
		},
		Alerts: AlertsConfig{
			NotifyWarnings: true,
			Cooldown:       DefaultAlertCooldown,
		},
		Store: StoreConfig{
			DeviceTTL:   DefaultDeviceTTL,
			HistorySize: DefaultHistorySize,
		},
		Sinks: SinksConfig{
			Kafka:    KafkaConfig{Topic: "machineguard.reports", BufferSize: DefaultShipBuffer},
			DynamoDB: DynamoConfig{Table: "HealthReports", TTL: DefaultDynamoTTL, BufferSize: DefaultShipBuffer},
		},
		Server: ServerConfig{
			HTTPPort:   DefaultHTTPPort,
			GRPCPort:   DefaultGRPCPort,
			WSInterval: DefaultWSInterval,
		},
		Log: LogConfig{Level: "info"},
	}
}

// validateConfig checks required fields and structural constraints.
func validateConfig(cfg *Config) error {
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if strings.Count(cfg.MQTT.Topic, "+") != 1 || strings.Contains(cfg.MQTT.Topic, "#") {
		return fmt.Errorf("mqtt.topic %q must contain exactly one '+' and no '#'", cfg.MQTT.Topic)
	}
	if !strings.Contains(cfg.MQTT.ControlTopic, "{device_id}") {
		return fmt.Errorf("mqtt.control_topic %q must contain {device_id}", cfg.MQTT.ControlTopic)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.ReconnectMin <= 0 || cfg.MQTT.ReconnectMax < cfg.MQTT.ReconnectMin {
		return fmt.Errorf("mqtt.reconnect_min must be positive and not above reconnect_max")
	}

	e := cfg.Engine
	if e.WindowSize < 2 {
		return fmt.Errorf("engine.window_size must be at least 2")
	}
	if e.MinSamples < 2 || e.MinSamples > e.WindowSize {
		return fmt.Errorf("engine.min_samples must be between 2 and window_size")
	}
	if e.ZThreshold <= 0 {
		return fmt.Errorf("engine.z_threshold must be positive")
	}
	for metric, r := range e.Ranges {
		if r.Low >= r.High {
			return fmt.Errorf("engine.ranges.%s: low must be below high", metric)
		}
		switch r.Severity {
		case "", "warning", "critical":
		default:
			return fmt.Errorf("engine.ranges.%s: unknown severity %q", metric, r.Severity)
		}
	}
	p := e.Penalties
	if p.Anomaly < 0 || p.Medium < 0 || p.High < 0 || p.Critical < 0 {
		return fmt.Errorf("engine.penalties must not be negative")
	}
	b := e.Bands
	if !(100 >= b.Good && b.Good > b.Fair && b.Fair > b.Poor && b.Poor > 0) {
		return fmt.Errorf("engine.bands must satisfy 100 >= good > fair > poor > 0")
	}

	if cfg.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}

	if cfg.Store.DeviceTTL <= 0 {
		return fmt.Errorf("store.device_ttl must be positive")
	}
	if cfg.Store.HistorySize <= 0 {
		return fmt.Errorf("store.history_size must be positive")
	}

	if k := cfg.Sinks.Kafka; k.Enabled {
		if len(k.Brokers) == 0 || k.Topic == "" {
			return fmt.Errorf("sinks.kafka: brokers and topic are required when enabled")
		}
		if k.BufferSize <= 0 {
			return fmt.Errorf("sinks.kafka.buffer_size must be positive")
		}
	}
	if d := cfg.Sinks.DynamoDB; d.Enabled {
		if d.Region == "" || d.Table == "" {
			return fmt.Errorf("sinks.dynamodb: region and table are required when enabled")
		}
		if d.BufferSize <= 0 {
			return fmt.Errorf("sinks.dynamodb.buffer_size must be positive")
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	return nil
}
