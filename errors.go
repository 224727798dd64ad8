package kyusub

import (
	"errors"
	"fmt"
)

// Common sentinel errors.
var (
	// ErrConnection indicates the broker is unreachable, rejected the
	// credentials, or the connection was used after it was closed.
	ErrConnection = errors.New("kyusub: connection failed")

	// ErrDestination indicates an invalid or inaccessible destination.
	ErrDestination = errors.New("kyusub: invalid destination")

	// ErrInvalidSelector indicates a selector expression that does not parse
	// or that the provider cannot apply.
	ErrInvalidSelector = errors.New("kyusub: invalid selector")

	// ErrMessageFormat indicates a delivered message body is not text.
	ErrMessageFormat = errors.New("kyusub: unexpected message format")

	// ErrState indicates an operation was attempted in the wrong lifecycle state.
	ErrState = errors.New("kyusub: invalid state")

	// ErrReceiveFailed indicates a message could not be received.
	ErrReceiveFailed = errors.New("kyusub: receive failed")

	// ErrAckFailed indicates a message acknowledgment failed.
	ErrAckFailed = errors.New("kyusub: acknowledgment failed")

	// ErrClosed indicates an operation was attempted on a closed connection,
	// session or consumer.
	ErrClosed = errors.New("kyusub: closed")

	// ErrUnsupportedProvider indicates the specified provider is not supported.
	ErrUnsupportedProvider = errors.New("kyusub: unsupported provider")
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("kyusub: invalid config: %s", e.Message)
}

// ErrInvalidConfig creates a new configuration error.
func ErrInvalidConfig(msg string) error {
	return &ConfigError{Message: msg}
}

// MessageFormatError reports a message whose body cannot be read as text.
type MessageFormatError struct {
	// MessageID is the broker-assigned identifier, if any.
	MessageID string

	// Format is the body format the transport reported.
	Format BodyFormat

	Reason string
}

func (e *MessageFormatError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("kyusub: message body is %s: %s", e.Format, e.Reason)
	}
	return fmt.Sprintf("kyusub: message %s body is %s: %s", e.MessageID, e.Format, e.Reason)
}

// Unwrap lets errors.Is match ErrMessageFormat.
func (e *MessageFormatError) Unwrap() error {
	return ErrMessageFormat
}

// WrapError wraps an error with a sentinel error for easier error checking.
// Both the sentinel and the cause stay reachable through errors.Is and errors.As.
func WrapError(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// errConnClosed is returned when a closed connection is used.
var errConnClosed = WrapError(ErrConnection, ErrClosed)
