package kyusub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection is an authenticated link to a broker. It owns its sessions,
// which own their consumers; closing the connection releases all of them.
type Connection struct {
	transport Transport
	logger    *zap.Logger

	mu       sync.Mutex
	state    State
	gate     chan struct{} // closed while started
	done     chan struct{} // closed once Close begins
	sessions map[*Session]struct{}

	closeOnce sync.Once
	closeErr  error
}

func newConnection(t Transport, log *zap.Logger) *Connection {
	return &Connection{
		transport: t,
		logger:    log,
		gate:      make(chan struct{}),
		done:      make(chan struct{}),
		sessions:  make(map[*Session]struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start enables delivery. Calling Start on a started connection is a no-op.
func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return errConnClosed
	case StateStarted:
		return nil
	}
	c.state = StateStarted
	close(c.gate)
	c.logger.Debug("connection started")
	return nil
}

// Stop pauses delivery. Receives that begin after Stop returns wait until
// the connection is started again; a receive already waiting on the
// broker is not interrupted.
func (c *Connection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return errConnClosed
	case StateCreated:
		return nil
	}
	c.state = StateCreated
	c.gate = make(chan struct{})
	c.logger.Debug("connection stopped")
	return nil
}

// awaitStarted blocks until the connection is started, closed, or ctx is done.
func (c *Connection) awaitStarted(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, gate := c.state, c.gate
		c.mu.Unlock()

		switch state {
		case StateStarted:
			return nil
		case StateClosed:
			return errConnClosed
		}

		select {
		case <-gate:
		case <-c.done:
			return errConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CreateSession opens a session. The connection must be started.
func (c *Connection) CreateSession(ctx context.Context, mode AckMode) (*Session, error) {
	if mode == "" {
		mode = AckAuto
	}
	if !mode.valid() {
		return nil, ErrInvalidConfig(fmt.Sprintf("unknown ack mode %q", mode))
	}

	if err := c.requireStarted(); err != nil {
		return nil, err
	}

	ts, err := c.transport.NewSession(ctx, mode)
	if err != nil {
		return nil, err
	}

	s := newSession(c, ts, mode)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = ts.Close(ctx)
		return nil, errConnClosed
	}
	c.sessions[s] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("session created", zap.String("ack_mode", string(mode)))
	return s, nil
}

func (c *Connection) requireStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return errConnClosed
	case StateCreated:
		return WrapError(ErrState, errors.New("connection not started"))
	}
	return nil
}

func (c *Connection) forget(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
}

// Close terminates the link and releases every session and consumer.
// It is safe to call more than once and from another goroutine while a
// consumer is blocked in Receive; that Receive returns StatusClosed.
func (c *Connection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		close(c.done)
		sessions := make([]*Session, 0, len(c.sessions))
		for s := range c.sessions {
			sessions = append(sessions, s)
		}
		c.sessions = make(map[*Session]struct{})
		c.mu.Unlock()

		var errs []error
		for _, s := range sessions {
			if err := s.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}

		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			c.logger.Warn("connection closed with errors", zap.Error(c.closeErr))
		} else {
			c.logger.Info("connection closed")
		}
	})
	return c.closeErr
}
