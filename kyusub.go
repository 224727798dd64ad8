// Package kyusub provides a broker-agnostic message consumer that
// subscribes to a topic or queue with an optional selector and forwards
// text message bodies to a sink until a shutdown sentinel arrives.
//
// The transport is pluggable. Providers register themselves at init time:
//
//	import _ "github.com/venderneutral/kyusub/providers/activemq"
package kyusub

import (
	"context"
	"unicode/utf8"
)

// Provider represents a supported broker provider.
type Provider string

const (
	ProviderActiveMQ Provider = "activemq"
	ProviderAmazonMQ Provider = "amazonmq"
	ProviderAzure    Provider = "azure"
	ProviderMemory   Provider = "memory"
)

// BodyFormat describes how a transport encoded the message body.
type BodyFormat int

const (
	FormatUnknown BodyFormat = iota
	FormatText
	FormatBytes
)

func (f BodyFormat) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// AckMode selects how deliveries are acknowledged.
type AckMode string

const (
	// AckAuto treats delivery to the consumer as the acknowledgement.
	AckAuto AckMode = "auto"

	// AckClient leaves acknowledgement to Consumer.Ack.
	AckClient AckMode = "client"
)

func (m AckMode) valid() bool {
	return m == AckAuto || m == AckClient
}

// Message represents a broker message with provider-agnostic fields.
type Message struct {
	// ID is the unique identifier of the message (if provided by the broker).
	ID string

	// Body is the message payload.
	Body []byte

	// Format reports whether Body carries text.
	Format BodyFormat

	// Properties contains the application properties selectors are evaluated against.
	Properties map[string]any

	// raw holds the provider-specific message for acknowledgment operations.
	raw any
}

// NewMessage creates a new message with the given binary body.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Format:     FormatBytes,
		Properties: make(map[string]any),
	}
}

// NewTextMessage creates a new message with a text body.
func NewTextMessage(text string) *Message {
	return &Message{
		Body:       []byte(text),
		Format:     FormatText,
		Properties: make(map[string]any),
	}
}

// WithProperty sets an application property and returns the message.
func (m *Message) WithProperty(name string, value any) *Message {
	if m.Properties == nil {
		m.Properties = make(map[string]any)
	}
	m.Properties[name] = value
	return m
}

// Text returns the body as a string, or a *MessageFormatError when the
// body is not text.
func (m *Message) Text() (string, error) {
	if m == nil {
		return "", &MessageFormatError{Reason: "message is nil"}
	}
	if m.Format != FormatText {
		return "", &MessageFormatError{MessageID: m.ID, Format: m.Format, Reason: "expected a text body"}
	}
	if !utf8.Valid(m.Body) {
		return "", &MessageFormatError{MessageID: m.ID, Format: m.Format, Reason: "body is not valid UTF-8"}
	}
	return string(m.Body), nil
}

// Raw returns the provider-specific raw message (used for acknowledgment).
func (m *Message) Raw() any {
	return m.raw
}

// SetRaw sets the provider-specific raw message.
func (m *Message) SetRaw(raw any) {
	m.raw = raw
}

// ProviderFactory dials a broker for a specific provider.
type ProviderFactory interface {
	// Dial opens the network link. Failures wrap ErrConnection.
	Dial(ctx context.Context, cfg *Config) (Transport, error)
}

// Transport is a provider's network connection to a broker.
type Transport interface {
	// NewSession opens a logical channel over the connection.
	NewSession(ctx context.Context, mode AckMode) (TransportSession, error)

	// Close terminates the network link.
	Close() error
}

// TransportSession is a provider session.
type TransportSession interface {
	// NewReceiver attaches to dest. The selector expression has already been
	// validated; an empty string means no filter. Failures wrap ErrDestination,
	// ErrInvalidSelector or ErrConnection.
	NewReceiver(ctx context.Context, dest Destination, selector string) (TransportReceiver, error)

	// Close releases the session.
	Close(ctx context.Context) error
}

// TransportReceiver delivers messages for a single destination. Selector
// evaluation happens on the broker side of this interface; Receive only
// ever returns matching messages.
type TransportReceiver interface {
	// Receive blocks until a message is available or ctx is done. A receiver
	// closed locally returns an error wrapping ErrClosed.
	Receive(ctx context.Context) (*Message, error)

	// Ack acknowledges a delivered message.
	Ack(ctx context.Context, msg *Message) error

	// Close detaches the receiver.
	Close(ctx context.Context) error
}
