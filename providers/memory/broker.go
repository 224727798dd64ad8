// Package memory provides an in-process broker for kyusub.
//
// It implements the same delivery rules as a real broker: topics copy
// every message to each matching subscriber, queues hand each message to
// exactly one matching consumer, and selectors are evaluated on the broker
// side so consumers never see non-matching messages.
//
// # Usage
//
//	broker := memory.NewBroker("local", memory.WithUser("admin", "password"))
//	client, _ := kyusub.NewClient(&kyusub.Config{
//		Provider:         kyusub.ProviderMemory,
//		ConnectionString: "memory://local",
//		Username:         "admin",
//		Password:         "password",
//		Topic:            "MyTopic",
//	})
//	broker.Publish(kyusub.NewTopic("MyTopic"), kyusub.NewTextMessage("hello"))
package memory

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/venderneutral/kyusub"
)

// registry of brokers reachable through memory://<name>.
var (
	brokersMu sync.RWMutex
	brokers   = make(map[string]*Broker)
)

// Lookup returns the broker registered under name.
func Lookup(name string) (*Broker, bool) {
	brokersMu.RLock()
	defer brokersMu.RUnlock()
	b, ok := brokers[name]
	return b, ok
}

// Broker routes published messages to attached receivers.
type Broker struct {
	name string

	mu       sync.Mutex
	users    map[string]string
	strict   bool
	declared map[kyusub.Destination]struct{}
	topics   map[string]map[*receiver]struct{}
	queues   map[string]*mailbox
	conns    map[*conn]struct{}
	down     bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithUser adds an account. Once any account exists, anonymous and
// unknown logins are rejected.
func WithUser(username, password string) BrokerOption {
	return func(b *Broker) {
		b.users[username] = password
	}
}

// WithStrictDestinations only allows consumers on declared destinations.
func WithStrictDestinations() BrokerOption {
	return func(b *Broker) {
		b.strict = true
	}
}

// NewBroker creates a broker and makes it reachable as memory://<name>,
// replacing any broker previously registered under that name.
func NewBroker(name string, opts ...BrokerOption) *Broker {
	b := &Broker{
		name:     name,
		users:    make(map[string]string),
		declared: make(map[kyusub.Destination]struct{}),
		topics:   make(map[string]map[*receiver]struct{}),
		queues:   make(map[string]*mailbox),
		conns:    make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	brokersMu.Lock()
	brokers[name] = b
	brokersMu.Unlock()
	return b
}

// Name returns the registry name.
func (b *Broker) Name() string { return b.name }

// Declare makes dest consumable on a strict broker.
func (b *Broker) Declare(dest kyusub.Destination) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared[dest] = struct{}{}
}

// Publish routes msg to dest. Topic messages with no matching subscriber
// are dropped; queue messages wait for a consumer.
func (b *Broker) Publish(dest kyusub.Destination, msg *kyusub.Message) error {
	if err := dest.Validate(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("memory: nil message")
	}
	if msg.ID == "" {
		msg.ID = "ID:" + uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return kyusub.WrapError(kyusub.ErrConnection, fmt.Errorf("broker %q is shut down", b.name))
	}

	if dest.IsTopic() {
		for r := range b.topics[dest.Name()] {
			if r.sel.Matches(msg.Properties) {
				r.box.put(clone(msg))
			}
		}
		return nil
	}
	b.queue(dest.Name()).put(clone(msg))
	return nil
}

// Pending returns how many messages wait on a queue.
func (b *Broker) Pending(queue string) int {
	b.mu.Lock()
	box, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return box.len()
}

// Subscribers returns how many receivers are attached to a topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Shutdown unregisters the broker and fails every open connection with
// ErrConnection, as a broker crash would.
func (b *Broker) Shutdown() {
	brokersMu.Lock()
	if brokers[b.name] == b {
		delete(brokers, b.name)
	}
	brokersMu.Unlock()

	b.mu.Lock()
	b.down = true
	conns := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	cause := kyusub.WrapError(kyusub.ErrConnection, fmt.Errorf("broker %q shut down", b.name))
	for _, c := range conns {
		c.terminate(cause)
	}
}

func (b *Broker) authenticate(username, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return fmt.Errorf("broker %q is shut down", b.name)
	}
	if len(b.users) == 0 {
		return nil
	}
	if want, ok := b.users[username]; !ok || want != password {
		return fmt.Errorf("authentication rejected for user %q", username)
	}
	return nil
}

// queue returns the mailbox for name. b.mu must be held.
func (b *Broker) queue(name string) *mailbox {
	box, ok := b.queues[name]
	if !ok {
		box = newMailbox()
		b.queues[name] = box
	}
	return box
}

func (b *Broker) attach(r *receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return kyusub.WrapError(kyusub.ErrConnection, fmt.Errorf("broker %q is shut down", b.name))
	}
	if b.strict {
		if _, ok := b.declared[r.dest]; !ok {
			return kyusub.WrapError(kyusub.ErrDestination, fmt.Errorf("%s does not exist", r.dest))
		}
	}

	if r.dest.IsTopic() {
		subs, ok := b.topics[r.dest.Name()]
		if !ok {
			subs = make(map[*receiver]struct{})
			b.topics[r.dest.Name()] = subs
		}
		r.box = newMailbox()
		subs[r] = struct{}{}
		return nil
	}
	r.box = b.queue(r.dest.Name())
	return nil
}

func (b *Broker) detach(r *receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.dest.IsTopic() {
		delete(b.topics[r.dest.Name()], r)
	}
}

func (b *Broker) track(c *conn) {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) untrack(c *conn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

func clone(m *kyusub.Message) *kyusub.Message {
	out := &kyusub.Message{
		ID:         m.ID,
		Body:       append([]byte(nil), m.Body...),
		Format:     m.Format,
		Properties: maps.Clone(m.Properties),
	}
	if out.Properties == nil {
		out.Properties = make(map[string]any)
	}
	return out
}
