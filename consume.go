package kyusub

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Consume connects, subscribes to the configured destination and runs a
// Loop until it stops. The consumer, session and connection are released
// exactly once on every path. Cleanup errors are joined onto the returned
// error without changing the outcome.
//
// Cancelling ctx closes the connection, so a blocked receive ends with
// OutcomeClosed rather than an error. In AckClient mode the loop acks each
// message it is done with.
func (c *Client) Consume(ctx context.Context, sink Sink, opts ...LoopOption) (Outcome, error) {
	dest, err := c.config.Destination()
	if err != nil {
		return OutcomeFaulted, err
	}
	return c.ConsumeFrom(ctx, dest, c.config.Selector, sink, opts...)
}

// ConsumeFrom is like Consume but reads from dest filtered by expr instead
// of the configured destination and selector.
func (c *Client) ConsumeFrom(ctx context.Context, dest Destination, expr string, sink Sink, opts ...LoopOption) (outcome Outcome, err error) {
	if err := dest.Validate(); err != nil {
		return OutcomeFaulted, err
	}

	conn, err := c.Connect(ctx)
	if err != nil {
		return OutcomeFaulted, err
	}

	release := func() error {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.CloseTimeout)
		defer cancel()
		return conn.Close(closeCtx)
	}
	defer func() {
		if cerr := release(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		c.logger.Info("context done, closing connection", zap.Error(context.Cause(ctx)))
		_ = release()
	})
	defer stop()

	// A cancel that lands during setup closes the connection under us.
	setupFailed := func(err error) (Outcome, error) {
		if ctx.Err() != nil && errors.Is(err, ErrClosed) {
			return OutcomeClosed, nil
		}
		return OutcomeFaulted, err
	}

	if err := conn.Start(); err != nil {
		return setupFailed(err)
	}

	sess, err := conn.CreateSession(ctx, c.config.AckMode)
	if err != nil {
		return setupFailed(err)
	}

	consumer, err := sess.CreateConsumer(ctx, dest, expr)
	if err != nil {
		return setupFailed(err)
	}

	loopOpts := []LoopOption{
		WithSentinel(c.config.Sentinel),
		WithReceiveTimeout(c.config.ReceiveTimeout),
		WithMalformedPolicy(c.config.MalformedPolicy),
		WithLogger(c.logger.With(zap.Stringer("destination", dest))),
	}
	loop := NewLoop(consumer, sink, append(loopOpts, opts...)...)
	return loop.Run(context.WithoutCancel(ctx))
}
