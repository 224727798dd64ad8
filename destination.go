package kyusub

import (
	"fmt"
	"strings"
	"unicode"
)

// DestinationKind selects broadcast or competing-consumer delivery.
type DestinationKind int

const (
	// KindQueue delivers each message to exactly one consumer.
	KindQueue DestinationKind = iota + 1

	// KindTopic delivers a copy of each message to every subscribed consumer.
	KindTopic
)

func (k DestinationKind) String() string {
	switch k {
	case KindQueue:
		return "queue"
	case KindTopic:
		return "topic"
	default:
		return "unknown"
	}
}

const (
	queueScheme = "queue://"
	topicScheme = "topic://"
)

// Destination identifies a topic or queue on the broker. The zero value is
// not a valid destination.
type Destination struct {
	name string
	kind DestinationKind
}

// NewTopic returns a topic destination.
func NewTopic(name string) Destination {
	return Destination{name: name, kind: KindTopic}
}

// NewQueue returns a queue destination.
func NewQueue(name string) Destination {
	return Destination{name: name, kind: KindQueue}
}

// ParseDestination parses "topic://name" or "queue://name". A bare name is
// treated as a queue, matching ActiveMQ's default addressing.
func ParseDestination(s string) (Destination, error) {
	var d Destination
	switch lower := strings.ToLower(s); {
	case strings.HasPrefix(lower, topicScheme):
		d = NewTopic(s[len(topicScheme):])
	case strings.HasPrefix(lower, queueScheme):
		d = NewQueue(s[len(queueScheme):])
	case strings.Contains(s, "://"):
		return Destination{}, WrapError(ErrDestination, fmt.Errorf("unknown scheme in %q", s))
	default:
		d = NewQueue(s)
	}
	if err := d.Validate(); err != nil {
		return Destination{}, err
	}
	return d, nil
}

// Name returns the destination name without a scheme.
func (d Destination) Name() string { return d.name }

// Kind returns the delivery semantics.
func (d Destination) Kind() DestinationKind { return d.kind }

// IsTopic reports whether d is a topic.
func (d Destination) IsTopic() bool { return d.kind == KindTopic }

// String renders the URI form, e.g. "topic://MyTopic".
func (d Destination) String() string {
	switch d.kind {
	case KindTopic:
		return topicScheme + d.name
	case KindQueue:
		return queueScheme + d.name
	default:
		return d.name
	}
}

// Validate reports ErrDestination for names the broker cannot address.
func (d Destination) Validate() error {
	if d.kind != KindQueue && d.kind != KindTopic {
		return WrapError(ErrDestination, fmt.Errorf("unknown destination kind %d", d.kind))
	}
	if strings.TrimSpace(d.name) == "" {
		return WrapError(ErrDestination, fmt.Errorf("%s name is empty", d.kind))
	}
	if strings.ContainsFunc(d.name, unicode.IsControl) {
		return WrapError(ErrDestination, fmt.Errorf("%s name %q contains control characters", d.kind, d.name))
	}
	if strings.Contains(d.name, "://") {
		return WrapError(ErrDestination, fmt.Errorf("%s name %q contains a scheme", d.kind, d.name))
	}
	return nil
}
