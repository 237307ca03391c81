package validate

import (
	"errors"
	"fmt"
)

// Sentinel validation failures. Use errors.Is to match them.
var (
	ErrMalformedTopic   = errors.New("malformed topic")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidType      = errors.New("invalid type")
)

// Error describes why a message was rejected.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Field names the offending metric for ErrMissingField and ErrInvalidType.
	Field string
	Topic string
	// Cause is the underlying decode error, if any.
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("validate: %v: %s", e.Kind, e.Field)
	case e.Cause != nil:
		return fmt.Sprintf("validate: %v: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("validate: %v: %q", e.Kind, e.Topic)
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// Reason returns a snake_case label for e's kind, for counters and logs.
func (e *Error) Reason() string {
	switch e.Kind {
	case ErrMalformedTopic:
		return "malformed_topic"
	case ErrMalformedPayload:
		return "malformed_payload"
	case ErrMissingField:
		return "missing_field"
	case ErrInvalidType:
		return "invalid_type"
	default:
		return "unknown"
	}
}

// Reason extracts the failure label from any error returned by Validate.
func Reason(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason()
	}
	return "unknown"
}
