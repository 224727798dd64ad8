package kyusub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/venderneutral/kyusub/selector"
)

// Session is a logical channel over a Connection and the unit consumers
// are created on.
type Session struct {
	conn *Connection
	ts   TransportSession
	mode AckMode

	mu        sync.Mutex
	closed    bool
	consumers map[*Consumer]struct{}

	closeOnce sync.Once
	closeErr  error
}

func newSession(c *Connection, ts TransportSession, mode AckMode) *Session {
	return &Session{
		conn:      c,
		ts:        ts,
		mode:      mode,
		consumers: make(map[*Consumer]struct{}),
	}
}

// AckMode returns the acknowledgement mode the session was created with.
func (s *Session) AckMode() AckMode {
	return s.mode
}

// CreateConsumer attaches a consumer to dest. A non-blank expr restricts
// delivery to messages whose properties satisfy it.
func (s *Session) CreateConsumer(ctx context.Context, dest Destination, expr string) (*Consumer, error) {
	expr = strings.TrimSpace(expr)
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	if expr != "" {
		if _, err := selector.Parse(expr); err != nil {
			return nil, WrapError(ErrInvalidSelector, err)
		}
	}

	if err := s.usable(); err != nil {
		return nil, err
	}

	tr, err := s.ts.NewReceiver(ctx, dest, expr)
	if err != nil {
		return nil, err
	}

	log := s.conn.logger.With(zap.Stringer("destination", dest))
	if expr != "" {
		log = log.With(zap.String("selector", expr))
	}
	c := newConsumer(s, tr, dest, expr, log)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = tr.Close(ctx)
		return nil, errConnClosed
	}
	s.consumers[c] = struct{}{}
	s.mu.Unlock()

	log.Info("consumer created")
	return c, nil
}

func (s *Session) usable() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return WrapError(ErrConnection, fmt.Errorf("session: %w", ErrClosed))
	}
	return s.conn.requireStarted()
}

func (s *Session) forget(c *Consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
}

// Close releases the session and its consumers. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		consumers := make([]*Consumer, 0, len(s.consumers))
		for c := range s.consumers {
			consumers = append(consumers, c)
		}
		s.consumers = make(map[*Consumer]struct{})
		s.mu.Unlock()

		var errs []error
		for _, c := range consumers {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.ts.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.conn.forget(s)
	})
	return s.closeErr
}
