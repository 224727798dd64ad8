package kyusub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status tags the outcome of a receive.
type Status int

const (
	// StatusMessage means Result.Message holds a delivered message.
	StatusMessage Status = iota + 1

	// StatusTimeout means no matching message arrived within the timeout.
	StatusTimeout

	// StatusClosed means the consumer, its session or its connection was closed.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusMessage:
		return "message"
	case StatusTimeout:
		return "timeout"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of Consumer.Receive. Timeouts and closure are
// not errors.
type Result struct {
	Status  Status
	Message *Message
}

// Consumer receives messages from one destination through one session.
type Consumer struct {
	session  *Session
	tr       TransportReceiver
	dest     Destination
	selector string
	logger   *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConsumer(s *Session, tr TransportReceiver, dest Destination, expr string, log *zap.Logger) *Consumer {
	return &Consumer{
		session:  s,
		tr:       tr,
		dest:     dest,
		selector: expr,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Destination returns the destination the consumer is attached to.
func (c *Consumer) Destination() Destination { return c.dest }

// Selector returns the selector expression, or "" when unfiltered.
func (c *Consumer) Selector() string { return c.selector }

func (c *Consumer) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Receive blocks until a matching message arrives. A positive timeout
// bounds the wait and yields StatusTimeout when it elapses. Closing the
// consumer, session or connection from another goroutine makes a blocked
// Receive return StatusClosed. Errors are reserved for faults and for
// cancellation of ctx.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (Result, error) {
	if c.closed() {
		return Result{Status: StatusClosed}, nil
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		rctx, cancelTimeout = context.WithTimeout(rctx, timeout)
		defer cancelTimeout()
	}

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-rctx.Done():
		}
	}()

	if err := c.session.conn.awaitStarted(rctx); err != nil {
		return c.interrupted(ctx, rctx, err)
	}

	msg, err := c.tr.Receive(rctx)
	if err != nil {
		return c.interrupted(ctx, rctx, err)
	}

	if c.session.mode == AckAuto {
		if err := c.tr.Ack(ctx, msg); err != nil {
			if c.closed() || errors.Is(err, ErrClosed) {
				return Result{Status: StatusClosed}, nil
			}
			return Result{}, WrapError(ErrAckFailed, err)
		}
	}

	return Result{Status: StatusMessage, Message: msg}, nil
}

// interrupted maps a failed wait onto a Result. Local closure wins over
// everything else, then caller cancellation, then the receive timeout.
func (c *Consumer) interrupted(ctx, rctx context.Context, err error) (Result, error) {
	switch {
	case c.closed():
		return Result{Status: StatusClosed}, nil
	case ctx.Err() != nil:
		return Result{}, fmt.Errorf("receive: %w", ctx.Err())
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		return Result{Status: StatusTimeout}, nil
	case errors.Is(err, ErrClosed):
		return Result{Status: StatusClosed}, nil
	}
	c.logger.Error("receive failed", zap.Error(err))
	return Result{}, err
}

// Ack acknowledges msg. It is only needed for sessions in AckClient mode
// and is a no-op otherwise.
func (c *Consumer) Ack(ctx context.Context, msg *Message) error {
	if c.session.mode == AckAuto {
		return nil
	}
	if c.closed() {
		return errConnClosed
	}
	if err := c.tr.Ack(ctx, msg); err != nil {
		return WrapError(ErrAckFailed, err)
	}
	return nil
}

// Close detaches the consumer. It is idempotent.
func (c *Consumer) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.tr.Close(ctx); err != nil {
			c.closeErr = fmt.Errorf("close consumer %s: %w", c.dest, err)
		}
		c.session.forget(c)
		c.logger.Debug("consumer closed")
	})
	return c.closeErr
}
