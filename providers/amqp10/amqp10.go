// Package amqp10 implements the kyusub transport over AMQP 1.0.
//
// Broker packages such as providers/activemq and providers/azure build a
// Factory with their own addressing rules and register it.
package amqp10

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/venderneutral/kyusub"
)

// AddressFunc maps a destination to the broker's AMQP source address.
type AddressFunc func(dest kyusub.Destination, cfg *kyusub.Config) (string, error)

// Factory dials AMQP 1.0 brokers.
type Factory struct {
	// Address builds the receiver source address.
	Address AddressFunc

	// Selectors reports whether the broker honours the
	// apache.org:selector-filter:string link filter.
	Selectors bool
}

// Dial opens the AMQP connection. Credentials in the connection string are
// sent with SASL PLAIN; without them the client negotiates SASL ANONYMOUS.
func (f *Factory) Dial(ctx context.Context, cfg *kyusub.Config) (kyusub.Transport, error) {
	addr := cfg.BuildConnectionString()
	opts, err := connOptions(cfg, addr)
	if err != nil {
		return nil, kyusub.WrapError(kyusub.ErrConnection, err)
	}

	conn, err := amqp.Dial(ctx, addr, opts)
	if err != nil {
		return nil, kyusub.WrapError(kyusub.ErrConnection, err)
	}

	return &transport{
		conn:    conn,
		factory: f,
		cfg:     cfg,
	}, nil
}

func connOptions(cfg *kyusub.Config, addr string) (*amqp.ConnOptions, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	containerID := cfg.ContainerID
	if containerID == "" {
		containerID = "kyusub-" + uuid.NewString()
	}

	opts := &amqp.ConnOptions{ContainerID: containerID}
	if u.User == nil {
		opts.SASLType = amqp.SASLTypeAnonymous()
	}
	return opts, nil
}

// transport implements kyusub.Transport.
type transport struct {
	conn    *amqp.Conn
	factory *Factory
	cfg     *kyusub.Config
}

func (t *transport) NewSession(ctx context.Context, mode kyusub.AckMode) (kyusub.TransportSession, error) {
	s, err := t.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, classify(err, kyusub.ErrConnection)
	}
	return &session{
		session: s,
		factory: t.factory,
		cfg:     t.cfg,
	}, nil
}

func (t *transport) Close() error {
	return t.conn.Close()
}

// session implements kyusub.TransportSession.
type session struct {
	session *amqp.Session
	factory *Factory
	cfg     *kyusub.Config
}

func (s *session) NewReceiver(ctx context.Context, dest kyusub.Destination, expr string) (kyusub.TransportReceiver, error) {
	source, err := s.factory.Address(dest, s.cfg)
	if err != nil {
		return nil, kyusub.WrapError(kyusub.ErrDestination, err)
	}

	opts, err := receiverOptions(s.factory, s.cfg, expr)
	if err != nil {
		return nil, err
	}

	r, err := s.session.NewReceiver(ctx, source, opts)
	if err != nil {
		return nil, classify(err, kyusub.ErrConnection)
	}

	return &receiver{receiver: r}, nil
}

func receiverOptions(f *Factory, cfg *kyusub.Config, expr string) (*amqp.ReceiverOptions, error) {
	opts := &amqp.ReceiverOptions{
		Credit: int32(min(cfg.Credit, math.MaxInt32)),
	}
	if expr != "" {
		if !f.Selectors {
			return nil, kyusub.WrapError(kyusub.ErrInvalidSelector, fmt.Errorf("provider %s does not support selectors", cfg.Provider))
		}
		opts.Filters = []amqp.LinkFilter{amqp.NewSelectorFilter(expr)}
	}
	return opts, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

// receiver implements kyusub.TransportReceiver.
type receiver struct {
	receiver *amqp.Receiver
}

func (r *receiver) Receive(ctx context.Context) (*kyusub.Message, error) {
	amqpMsg, err := r.receiver.Receive(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kyusub.WrapError(kyusub.ErrReceiveFailed, ctx.Err())
		}
		return nil, classify(err, kyusub.ErrConnection)
	}
	return convertMessage(amqpMsg), nil
}

func (r *receiver) Ack(ctx context.Context, msg *kyusub.Message) error {
	amqpMsg, ok := msg.Raw().(*amqp.Message)
	if !ok {
		return kyusub.ErrAckFailed
	}
	if err := r.receiver.AcceptMessage(ctx, amqpMsg); err != nil {
		return kyusub.WrapError(kyusub.ErrAckFailed, err)
	}
	return nil
}

func (r *receiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}

// classify maps go-amqp errors onto the kyusub taxonomy. A link or session
// detached without a remote error was closed locally.
func classify(err error, fallback error) error {
	var linkErr *amqp.LinkError
	if errors.As(err, &linkErr) {
		if linkErr.RemoteErr == nil {
			return kyusub.WrapError(kyusub.ErrClosed, err)
		}
		if isDestinationCondition(linkErr.RemoteErr.Condition) {
			return kyusub.WrapError(kyusub.ErrDestination, err)
		}
		return kyusub.WrapError(fallback, err)
	}

	var sessErr *amqp.SessionError
	if errors.As(err, &sessErr) && sessErr.RemoteErr == nil {
		return kyusub.WrapError(kyusub.ErrClosed, err)
	}

	return kyusub.WrapError(fallback, err)
}

func isDestinationCondition(cond amqp.ErrCond) bool {
	switch cond {
	case amqp.ErrCondNotFound, amqp.ErrCondUnauthorizedAccess, amqp.ErrCondNotAllowed:
		return true
	}
	return false
}
