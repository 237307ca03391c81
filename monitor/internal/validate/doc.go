// Package validate turns raw (topic, payload) messages into typed Readings.
//
// The device id comes from the topic, which must match a pattern holding a
// single '+' wildcard (for example sensors/+/data). The payload must be a
// JSON object carrying every required metric. Metric values may be JSON
// numbers or numeric strings. Firmware aliases such as current are mapped
// onto canonical names before the checks run.
//
// Failures are returned as *Error values wrapping one of ErrMalformedTopic,
// ErrMalformedPayload, ErrMissingField or ErrInvalidType. Validation never
// panics on untrusted input; callers drop the message and move on.
package validate
