package kyusub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newTestConnection(t *testing.T) (*Connection, *mockTransport) {
	t.Helper()
	tr := newMockTransport()
	conn := newConnection(tr, zap.NewNop())
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn, tr
}

// newTestConsumer returns a consumer on topic://MyTopic over a started
// connection together with its mock receiver.
func newTestConsumer(t *testing.T, mode AckMode) (*Connection, *Consumer, *mockReceiver) {
	t.Helper()
	ctx := context.Background()
	conn, tr := newTestConnection(t)
	require.NoError(t, conn.Start())

	sess, err := conn.CreateSession(ctx, mode)
	require.NoError(t, err)

	c, err := sess.CreateConsumer(ctx, NewTopic("MyTopic"), "STREAM = '2.13'")
	require.NoError(t, err)
	return conn, c, tr.session(0).receiver(0)
}

func TestConnection_Lifecycle(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection(t)

	assert.Equal(t, StateCreated, conn.State())

	_, err := conn.CreateSession(ctx, AckAuto)
	assert.ErrorIs(t, err, ErrState, "sessions need a started connection")

	require.NoError(t, conn.Start())
	require.NoError(t, conn.Start(), "Start is idempotent")
	assert.Equal(t, StateStarted, conn.State())

	require.NoError(t, conn.Stop())
	assert.Equal(t, StateCreated, conn.State())
	require.NoError(t, conn.Start())

	require.NoError(t, conn.Close(ctx))
	assert.Equal(t, StateClosed, conn.State())

	assert.ErrorIs(t, conn.Start(), ErrClosed)
	assert.ErrorIs(t, conn.Stop(), ErrClosed)
	_, err = conn.CreateSession(ctx, AckAuto)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnection_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to auto", func(t *testing.T) {
		conn, _ := newTestConnection(t)
		require.NoError(t, conn.Start())
		sess, err := conn.CreateSession(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, AckAuto, sess.AckMode())
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		conn, _ := newTestConnection(t)
		require.NoError(t, conn.Start())
		_, err := conn.CreateSession(ctx, "transacted")
		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("transport error", func(t *testing.T) {
		conn, tr := newTestConnection(t)
		tr.sessionErr = WrapError(ErrConnection, errors.New("session refused"))
		require.NoError(t, conn.Start())
		_, err := conn.CreateSession(ctx, AckAuto)
		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestConnection_CloseReleasesEverythingOnce(t *testing.T) {
	ctx := context.Background()
	conn, c, r := newTestConsumer(t, AckAuto)
	sess := c.session

	var g errgroup.Group
	for j := 0; j < 8; j++ {
		g.Go(func() error { return conn.Close(ctx) })
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, conn.transport.(*mockTransport).closeCount())
	assert.Equal(t, 1, sess.ts.(*mockSession).closeCount())
	assert.Equal(t, 1, r.closeCount())

	require.NoError(t, sess.Close(ctx))
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 1, r.closeCount())
}

func TestSession_CreateConsumer(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection(t)
	require.NoError(t, conn.Start())
	sess, err := conn.CreateSession(ctx, AckAuto)
	require.NoError(t, err)

	t.Run("passes destination and selector", func(t *testing.T) {
		c, err := sess.CreateConsumer(ctx, NewQueue("orders"), "priority > 4")
		require.NoError(t, err)
		assert.Equal(t, NewQueue("orders"), c.Destination())
		assert.Equal(t, "priority > 4", c.Selector())

		r := tr.session(0).receiver(0)
		assert.Equal(t, NewQueue("orders"), r.dest)
		assert.Equal(t, "priority > 4", r.selector)
	})

	t.Run("blank selector means no filter", func(t *testing.T) {
		c, err := sess.CreateConsumer(ctx, NewTopic("MyTopic"), "  \t ")
		require.NoError(t, err)
		assert.Empty(t, c.Selector())
		assert.Empty(t, tr.session(0).receiver(1).selector)
	})

	t.Run("invalid selector", func(t *testing.T) {
		_, err := sess.CreateConsumer(ctx, NewTopic("MyTopic"), "STREAM = ")
		assert.ErrorIs(t, err, ErrInvalidSelector)
	})

	t.Run("invalid destination", func(t *testing.T) {
		_, err := sess.CreateConsumer(ctx, NewTopic(""), "")
		assert.ErrorIs(t, err, ErrDestination)
	})

	t.Run("receiver error", func(t *testing.T) {
		tr.session(0).receiverErr = WrapError(ErrDestination, errors.New("not found"))
		defer func() { tr.session(0).receiverErr = nil }()
		_, err := sess.CreateConsumer(ctx, NewQueue("missing"), "")
		assert.ErrorIs(t, err, ErrDestination)
	})

	t.Run("closed session", func(t *testing.T) {
		closed, err := conn.CreateSession(ctx, AckAuto)
		require.NoError(t, err)
		require.NoError(t, closed.Close(ctx))
		_, err = closed.CreateConsumer(ctx, NewTopic("MyTopic"), "")
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestConsumer_ReceiveAutoAck(t *testing.T) {
	_, c, r := newTestConsumer(t, AckAuto)
	msg := NewTextMessage("hello")
	r.msgs <- msg

	res, err := c.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusMessage, res.Status)
	assert.Same(t, msg, res.Message)
	assert.Equal(t, 1, r.ackedCount())

	require.NoError(t, c.Ack(context.Background(), msg), "Ack is a no-op in auto mode")
	assert.Equal(t, 1, r.ackedCount())
}

func TestConsumer_ReceiveClientAck(t *testing.T) {
	_, c, r := newTestConsumer(t, AckClient)
	r.msgs <- NewTextMessage("hello")

	res, err := c.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ackedCount())

	require.NoError(t, c.Ack(context.Background(), res.Message))
	assert.Equal(t, 1, r.ackedCount())
}

func TestConsumer_ReceiveAckFailure(t *testing.T) {
	_, c, r := newTestConsumer(t, AckAuto)
	r.ackErr = errors.New("disposition rejected")
	r.msgs <- NewTextMessage("hello")

	_, err := c.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrAckFailed)
}

func TestConsumer_ReceiveAckRefusedAfterClose(t *testing.T) {
	_, c, r := newTestConsumer(t, AckAuto)
	r.ackErr = WrapError(ErrConnection, ErrClosed)
	r.msgs <- NewTextMessage("hello")

	res, err := c.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, res.Status)
	assert.Nil(t, res.Message)
}

func TestConsumer_ReceiveTimeout(t *testing.T) {
	_, c, _ := newTestConsumer(t, AckAuto)

	start := time.Now()
	res, err := c.Receive(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Nil(t, res.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConsumer_ReceiveClosedWhileBlocked(t *testing.T) {
	tests := []struct {
		name  string
		close func(conn *Connection, c *Consumer) error
	}{
		{
			name:  "connection",
			close: func(conn *Connection, c *Consumer) error { return conn.Close(context.Background()) },
		},
		{
			name:  "session",
			close: func(conn *Connection, c *Consumer) error { return c.session.Close(context.Background()) },
		},
		{
			name:  "consumer",
			close: func(conn *Connection, c *Consumer) error { return c.Close(context.Background()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, c, _ := newTestConsumer(t, AckAuto)

			done := make(chan Result, 1)
			go func() {
				res, err := c.Receive(context.Background(), 0)
				assert.NoError(t, err)
				done <- res
			}()

			time.Sleep(20 * time.Millisecond)
			require.NoError(t, tt.close(conn, c))

			select {
			case res := <-done:
				assert.Equal(t, StatusClosed, res.Status)
			case <-time.After(2 * time.Second):
				t.Fatal("Receive did not return after close")
			}

			res, err := c.Receive(context.Background(), 0)
			require.NoError(t, err)
			assert.Equal(t, StatusClosed, res.Status)
		})
	}
}

func TestConsumer_ReceiveWaitsWhileStopped(t *testing.T) {
	conn, c, r := newTestConsumer(t, AckAuto)
	require.NoError(t, conn.Stop())
	r.msgs <- NewTextMessage("held")

	res, err := c.Receive(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, res.Status, "a stopped connection delivers nothing")

	require.NoError(t, conn.Start())
	res, err = c.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusMessage, res.Status)
	assert.Equal(t, "held", string(res.Message.Body))
}

func TestConsumer_ReceiveFault(t *testing.T) {
	_, c, r := newTestConsumer(t, AckAuto)
	r.receiveErr = WrapError(ErrConnection, errors.New("connection reset by peer"))

	_, err := c.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestConsumer_ReceiveContextCanceled(t *testing.T) {
	_, c, _ := newTestConsumer(t, AckAuto)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_AckAfterClose(t *testing.T) {
	_, c, _ := newTestConsumer(t, AckClient)
	require.NoError(t, c.Close(context.Background()))
	assert.ErrorIs(t, c.Ack(context.Background(), NewTextMessage("x")), ErrClosed)
}

func TestConsumer_AckIgnoredInAutoModeAfterClose(t *testing.T) {
	_, c, r := newTestConsumer(t, AckAuto)
	require.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Ack(context.Background(), NewTextMessage("x")))
	assert.Equal(t, 0, r.ackedCount())
}
