// Package config loads and watches the monitor configuration file.
//
// Top-level types:
//   - Config{MQTT, Validation, Engine, Alerts, Store, Sinks, Server, Log}
//   - MQTTConfig: broker, client_id, topic (sensors/+/data), control_topic,
//     qos, username, password_env, reconnect_min/max (5s/120s)
//   - ValidationConfig: required metrics, firmware aliases (current→power)
//   - EngineConfig: window_size (100), min_samples (10), z_threshold (2.0),
//     per-metric ranges, penalty table, band thresholds, prediction thresholds
//   - AlertsConfig: notify_warnings, cooldown, webhooks (slack|teams|http)
//   - StoreConfig, SinksConfig (kafka, dynamodb), ServerConfig, LogConfig
//
// Load(path) reads the YAML file on top of Default() and validates ranges,
// enums and ordering constraints. Secrets are never stored in the file: the
// *_env fields name environment variables resolved at use time.
//
// Watch(ctx, path, onChange) uses fsnotify to reload the file when it changes.
// Only engine thresholds and alert settings are applied live; transport,
// ports and window size need a restart.
package config
