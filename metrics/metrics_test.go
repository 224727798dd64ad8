package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(&Config{Registerer: reg})
	require.NoError(t, err)

	const dest = "topic://MyTopic"
	c.RecordDelivered(dest)
	c.RecordDelivered(dest)
	c.RecordEmitted(dest)
	c.RecordMalformed(dest)
	c.RecordTimeout(dest)
	c.RecordOutcome(dest, "shutdown")
	c.ObserveWait(dest, 25*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.delivered.WithLabelValues(dest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.emitted.WithLabelValues(dest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.malformed.WithLabelValues(dest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timeouts.WithLabelValues(dest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outcomes.WithLabelValues(dest, "shutdown")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.wait))
}

func TestNew_Namespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(&Config{Namespace: "jms", Registerer: reg})
	require.NoError(t, err)
	c.RecordDelivered("queue://orders")

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "jms_messages_delivered_total")
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(&Config{Registerer: reg})
	require.NoError(t, err)
	second, err := New(&Config{Registerer: reg})
	require.NoError(t, err)

	first.RecordEmitted("topic://a")
	second.RecordEmitted("topic://a")
	assert.Equal(t, 2.0, testutil.ToFloat64(first.emitted.WithLabelValues("topic://a")))
}

func TestMustNew_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kyusub",
		Name:      "messages_delivered_total",
		Help:      "conflicting collector",
	}))
	assert.Panics(t, func() { MustNew(&Config{Registerer: reg}) })
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordDelivered("x")
		c.RecordEmitted("x")
		c.RecordMalformed("x")
		c.RecordTimeout("x")
		c.RecordOutcome("x", "closed")
		c.ObserveWait("x", time.Second)
	})
}
