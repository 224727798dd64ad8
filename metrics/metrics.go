// Package metrics records consume-loop activity as Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the consumer metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	delivered *prometheus.CounterVec
	emitted   *prometheus.CounterVec
	malformed *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	wait      *prometheus.HistogramVec
}

// Config configures a Collector.
type Config struct {
	// Namespace prefixes every metric name (default: kyusub).
	Namespace string

	// Registerer receives the collectors (default: prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer
}

// New creates and registers the collectors.
func New(cfg *Config) (*Collector, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "kyusub"
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	labels := []string{"destination"}
	c := &Collector{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_delivered_total",
			Help:      "Messages handed to the consume loop by the broker.",
		}, labels),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_emitted_total",
			Help:      "Message bodies forwarded to the sink.",
		}, labels),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_malformed_total",
			Help:      "Messages whose body was not text.",
		}, labels),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "receive_timeouts_total",
			Help:      "Receives that ended without a message.",
		}, labels),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "loop_outcomes_total",
			Help:      "Consume loop terminations by outcome.",
		}, []string{"destination", "outcome"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "receive_wait_seconds",
			Help:      "Time spent blocked in receive.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, labels),
	}

	var err error
	if c.delivered, err = register(reg, c.delivered); err != nil {
		return nil, err
	}
	if c.emitted, err = register(reg, c.emitted); err != nil {
		return nil, err
	}
	if c.malformed, err = register(reg, c.malformed); err != nil {
		return nil, err
	}
	if c.timeouts, err = register(reg, c.timeouts); err != nil {
		return nil, err
	}
	if c.outcomes, err = register(reg, c.outcomes); err != nil {
		return nil, err
	}
	if c.wait, err = register(reg, c.wait); err != nil {
		return nil, err
	}
	return c, nil
}

// register adds col to reg, reusing an identical collector registered earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg *Config) *Collector {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// ObserveWait records how long a receive blocked.
func (c *Collector) ObserveWait(dest string, d time.Duration) {
	if c == nil {
		return
	}
	c.wait.WithLabelValues(dest).Observe(d.Seconds())
}

// RecordDelivered counts a message returned by the broker.
func (c *Collector) RecordDelivered(dest string) {
	if c == nil {
		return
	}
	c.delivered.WithLabelValues(dest).Inc()
}

// RecordEmitted counts a body forwarded to the sink.
func (c *Collector) RecordEmitted(dest string) {
	if c == nil {
		return
	}
	c.emitted.WithLabelValues(dest).Inc()
}

// RecordMalformed counts a non-text message.
func (c *Collector) RecordMalformed(dest string) {
	if c == nil {
		return
	}
	c.malformed.WithLabelValues(dest).Inc()
}

// RecordTimeout counts a receive timeout.
func (c *Collector) RecordTimeout(dest string) {
	if c == nil {
		return
	}
	c.timeouts.WithLabelValues(dest).Inc()
}

// RecordOutcome counts a loop termination.
func (c *Collector) RecordOutcome(dest, outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(dest, outcome).Inc()
}
