package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/venderneutral/kyusub"
	"github.com/venderneutral/kyusub/selector"
)

func init() {
	kyusub.RegisterProvider(kyusub.ProviderMemory, &Factory{})
}

// Factory dials brokers created with NewBroker.
type Factory struct{}

// Dial connects to the broker named by memory://<name> (or cfg.Host).
func (f *Factory) Dial(ctx context.Context, cfg *kyusub.Config) (kyusub.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, kyusub.WrapError(kyusub.ErrConnection, err)
	}

	name, username, password, err := endpoint(cfg)
	if err != nil {
		return nil, kyusub.WrapError(kyusub.ErrConnection, err)
	}

	b, ok := Lookup(name)
	if !ok {
		return nil, kyusub.WrapError(kyusub.ErrConnection, fmt.Errorf("broker %q is unreachable", name))
	}
	if err := b.authenticate(username, password); err != nil {
		return nil, kyusub.WrapError(kyusub.ErrConnection, err)
	}

	c := &conn{broker: b, sessions: make(map[*session]struct{})}
	b.track(c)
	return c, nil
}

func endpoint(cfg *kyusub.Config) (name, username, password string, err error) {
	username, password = cfg.Username, cfg.Password
	if cfg.ConnectionString == "" {
		return cfg.Host, username, password, nil
	}

	u, err := url.Parse(cfg.ConnectionString)
	if err != nil {
		return "", "", "", err
	}
	if u.Scheme != "memory" {
		return "", "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	return u.Host, username, password, nil
}

type conn struct {
	broker *Broker

	mu       sync.Mutex
	cause    error
	sessions map[*session]struct{}
}

func (c *conn) NewSession(ctx context.Context, mode kyusub.AckMode) (kyusub.TransportSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause != nil {
		return nil, c.cause
	}
	s := &session{conn: c, receivers: make(map[*receiver]struct{})}
	c.sessions[s] = struct{}{}
	return s, nil
}

func (c *conn) Close() error {
	c.terminate(closedErr("connection"))
	c.broker.untrack(c)
	return nil
}

func (c *conn) terminate(cause error) {
	c.mu.Lock()
	if c.cause != nil {
		c.mu.Unlock()
		return
	}
	c.cause = cause
	sessions := c.sessions
	c.sessions = make(map[*session]struct{})
	c.mu.Unlock()

	for s := range sessions {
		s.terminate(cause)
	}
}

type session struct {
	conn *conn

	mu        sync.Mutex
	cause     error
	receivers map[*receiver]struct{}
}

func (s *session) NewReceiver(ctx context.Context, dest kyusub.Destination, expr string) (kyusub.TransportReceiver, error) {
	sel, err := selector.Parse(expr)
	if err != nil {
		return nil, kyusub.WrapError(kyusub.ErrInvalidSelector, err)
	}

	r := &receiver{
		sess: s,
		dest: dest,
		sel:  sel,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause != nil {
		return nil, s.cause
	}
	if err := s.conn.broker.attach(r); err != nil {
		return nil, err
	}
	s.receivers[r] = struct{}{}
	return r, nil
}

func (s *session) Close(ctx context.Context) error {
	s.terminate(closedErr("session"))
	s.conn.mu.Lock()
	delete(s.conn.sessions, s)
	s.conn.mu.Unlock()
	return nil
}

func (s *session) terminate(cause error) {
	s.mu.Lock()
	if s.cause != nil {
		s.mu.Unlock()
		return
	}
	s.cause = cause
	receivers := s.receivers
	s.receivers = make(map[*receiver]struct{})
	s.mu.Unlock()

	for r := range receivers {
		r.terminate(cause)
	}
}

type receiver struct {
	sess *session
	dest kyusub.Destination
	sel  *selector.Selector
	box  *mailbox

	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	cause   error
	unacked []*kyusub.Message
}

func (r *receiver) Receive(ctx context.Context) (*kyusub.Message, error) {
	if err := r.err(); err != nil {
		return nil, err
	}

	msg, err := r.box.take(ctx, r.done, r.match)
	if errors.Is(err, errStopped) {
		return nil, r.err()
	}
	if err != nil {
		return nil, kyusub.WrapError(kyusub.ErrReceiveFailed, err)
	}

	r.mu.Lock()
	if cause := r.cause; cause != nil {
		r.mu.Unlock()
		if !r.dest.IsTopic() {
			r.box.requeue([]*kyusub.Message{msg})
		}
		return nil, cause
	}
	if !r.dest.IsTopic() {
		r.unacked = append(r.unacked, msg)
	}
	r.mu.Unlock()
	return msg, nil
}

// match applies the selector for queues. Topic subscribers are filtered
// when the message is published.
func (r *receiver) match(msg *kyusub.Message) bool {
	return r.dest.IsTopic() || r.sel.Matches(msg.Properties)
}

// Ack settles msg. Once the receiver is closed its unacknowledged messages
// are back on the queue, so Ack reports the close instead.
func (r *receiver) Ack(ctx context.Context, msg *kyusub.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cause != nil {
		return r.cause
	}
	r.unacked = slices.DeleteFunc(r.unacked, func(m *kyusub.Message) bool { return m == msg })
	return nil
}

// Close detaches the receiver and returns unacknowledged queue messages to
// the queue for other consumers.
func (r *receiver) Close(ctx context.Context) error {
	r.terminate(closedErr("receiver"))
	r.sess.mu.Lock()
	delete(r.sess.receivers, r)
	r.sess.mu.Unlock()
	return nil
}

func (r *receiver) terminate(cause error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.cause = cause
		pending := r.unacked
		r.unacked = nil
		r.mu.Unlock()

		close(r.done)
		r.sess.conn.broker.detach(r)
		if !r.dest.IsTopic() {
			r.box.requeue(pending)
		}
	})
}

func (r *receiver) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

func closedErr(what string) error {
	return fmt.Errorf("memory: %s closed: %w", what, kyusub.ErrClosed)
}
