package kyusub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/venderneutral/kyusub/metrics"
)

// DefaultSentinel is the body that ends a consume loop, compared
// case-insensitively.
const DefaultSentinel = "SHUTDOWN"

// MalformedPolicy decides how the loop treats a message whose body is not text.
type MalformedPolicy string

const (
	// PolicyFail stops the loop with a *MessageFormatError.
	PolicyFail MalformedPolicy = "fail"

	// PolicySkip logs the message and keeps consuming.
	PolicySkip MalformedPolicy = "skip"
)

func (p MalformedPolicy) valid() bool {
	return p == PolicyFail || p == PolicySkip
}

// LoopState is the state of a consume loop.
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopDraining
	LoopFaulted
	LoopTerminated
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopDraining:
		return "draining"
	case LoopFaulted:
		return "faulted"
	case LoopTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome is why a consume loop stopped.
type Outcome int

const (
	// OutcomeShutdown means the sentinel was received.
	OutcomeShutdown Outcome = iota + 1

	// OutcomeTimeout means a bounded receive elapsed without a message.
	OutcomeTimeout

	// OutcomeClosed means the consumer or its connection was closed.
	OutcomeClosed

	// OutcomeFaulted means a setup, receive, format or sink error stopped the loop.
	OutcomeFaulted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeShutdown:
		return "shutdown"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeClosed:
		return "closed"
	case OutcomeFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// MessageSource is what the loop drives. *Consumer implements it.
type MessageSource interface {
	Receive(ctx context.Context, timeout time.Duration) (Result, error)
}

// Acker is implemented by sources whose deliveries must be acknowledged.
// The loop acks every message it has finished with, the sentinel and
// skipped messages included. *Consumer acks only in AckClient mode.
type Acker interface {
	Ack(ctx context.Context, msg *Message) error
}

type loopOptions struct {
	sentinel string
	timeout  time.Duration
	policy   MalformedPolicy
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// LoopOption configures a Loop.
type LoopOption func(*loopOptions)

// WithSentinel overrides the shutdown body.
func WithSentinel(s string) LoopOption {
	return func(o *loopOptions) {
		if s != "" {
			o.sentinel = s
		}
	}
}

// WithReceiveTimeout bounds every receive. Zero blocks indefinitely.
func WithReceiveTimeout(d time.Duration) LoopOption {
	return func(o *loopOptions) {
		o.timeout = d
	}
}

// WithMalformedPolicy chooses between failing and skipping non-text messages.
func WithMalformedPolicy(p MalformedPolicy) LoopOption {
	return func(o *loopOptions) {
		if p.valid() {
			o.policy = p
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(log *zap.Logger) LoopOption {
	return func(o *loopOptions) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithMetrics records loop activity on c.
func WithMetrics(c *metrics.Collector) LoopOption {
	return func(o *loopOptions) {
		o.metrics = c
	}
}

// Loop forwards message bodies from a source to a sink until the sentinel
// arrives, the source is closed, a bounded receive times out, or a fault
// occurs. A Loop runs once.
type Loop struct {
	src   MessageSource
	acker Acker
	sink  Sink
	opts  loopOptions
	label string

	state   atomic.Int32
	emitted atomic.Int64
}

// NewLoop creates a loop over src.
func NewLoop(src MessageSource, sink Sink, opts ...LoopOption) *Loop {
	o := loopOptions{
		sentinel: DefaultSentinel,
		policy:   PolicyFail,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	label := "unknown"
	if d, ok := src.(interface{ Destination() Destination }); ok {
		label = d.Destination().String()
	}

	acker, _ := src.(Acker)
	return &Loop{src: src, acker: acker, sink: sink, opts: o, label: label}
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Emitted returns how many bodies were forwarded to the sink.
func (l *Loop) Emitted() int64 {
	return l.emitted.Load()
}

func (l *Loop) transition(to LoopState) {
	from := LoopState(l.state.Swap(int32(to)))
	if from != to {
		l.opts.logger.Debug("loop state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
}

// Run drives the loop on the calling goroutine. Only OutcomeFaulted comes
// with a non-nil error.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	if !l.state.CompareAndSwap(int32(LoopIdle), int32(LoopRunning)) {
		return OutcomeFaulted, WrapError(ErrState, errors.New("loop already ran"))
	}
	if l.sink == nil {
		l.transition(LoopTerminated)
		return OutcomeFaulted, WrapError(ErrState, errors.New("loop has no sink"))
	}

	log := l.opts.logger
	outcome, err := l.run(ctx)
	l.opts.metrics.RecordOutcome(l.label, outcome.String())
	l.transition(LoopTerminated)

	if err != nil {
		log.Error("consume loop faulted", zap.Error(err), zap.Int64("emitted", l.Emitted()))
	} else {
		log.Info("consume loop finished", zap.Stringer("outcome", outcome), zap.Int64("emitted", l.Emitted()))
	}
	return outcome, err
}

func (l *Loop) run(ctx context.Context) (Outcome, error) {
	for {
		started := time.Now()
		res, err := l.src.Receive(ctx, l.opts.timeout)
		l.opts.metrics.ObserveWait(l.label, time.Since(started))
		if err != nil {
			l.transition(LoopFaulted)
			return OutcomeFaulted, err
		}

		switch res.Status {
		case StatusTimeout:
			l.opts.metrics.RecordTimeout(l.label)
			return OutcomeTimeout, nil
		case StatusClosed:
			l.transition(LoopFaulted)
			return OutcomeClosed, nil
		case StatusMessage:
		default:
			l.transition(LoopFaulted)
			return OutcomeFaulted, WrapError(ErrReceiveFailed, fmt.Errorf("unexpected receive status %d", res.Status))
		}

		l.opts.metrics.RecordDelivered(l.label)

		text, err := res.Message.Text()
		if err != nil {
			l.opts.metrics.RecordMalformed(l.label)
			if l.opts.policy == PolicySkip {
				l.opts.logger.Warn("skipping malformed message", zap.Error(err))
				if outcome, err := l.settle(ctx, res.Message); outcome != 0 {
					return outcome, err
				}
				continue
			}
			l.transition(LoopFaulted)
			return OutcomeFaulted, err
		}

		if strings.EqualFold(text, l.opts.sentinel) {
			if outcome, err := l.settle(ctx, res.Message); outcome != 0 {
				return outcome, err
			}
			l.transition(LoopDraining)
			l.opts.logger.Info("shutdown sentinel received")
			return OutcomeShutdown, nil
		}

		if err := l.sink.Emit(text); err != nil {
			l.transition(LoopFaulted)
			return OutcomeFaulted, fmt.Errorf("emit: %w", err)
		}
		l.emitted.Add(1)
		l.opts.metrics.RecordEmitted(l.label)

		if outcome, err := l.settle(ctx, res.Message); outcome != 0 {
			return outcome, err
		}
	}
}

// settle acknowledges msg when the source needs it. It returns a zero
// Outcome on success. An ack refused because the source was closed ends
// the loop with OutcomeClosed; the broker redelivers the message.
func (l *Loop) settle(ctx context.Context, msg *Message) (Outcome, error) {
	if l.acker == nil {
		return 0, nil
	}
	err := l.acker.Ack(ctx, msg)
	if err == nil {
		return 0, nil
	}
	l.transition(LoopFaulted)
	if errors.Is(err, ErrClosed) {
		return OutcomeClosed, nil
	}
	return OutcomeFaulted, err
}
