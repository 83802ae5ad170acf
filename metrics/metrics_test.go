package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIsCachedAndRegisteredOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink(reg)

	a := sink.Counter("kinesis", "dispatch_failure_total")
	b := sink.Counter("kinesis", "dispatch_failure_total")
	assert.Same(t, a, b)

	a.Inc()
	a.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(b))
}

func TestCountersAreScopedBySubsystem(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())

	a := sink.Counter("kinesis", "dispatch_failure_total")
	b := sink.Counter("kafka", "dispatch_failure_total")
	assert.NotSame(t, a, b)

	a.Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b))
}

func TestTimerObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink(reg)

	timer := prometheus.NewTimer(sink.Timer("kinesis", "dispatch_seconds"))
	timer.ObserveDuration()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "haystack_kinesis_dispatch_seconds", families[0].GetName())
	assert.Equal(t, uint64(1), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilRegistererGetsPrivateRegistry(t *testing.T) {
	sink := NewSink(nil)
	assert.NotPanics(t, func() {
		sink.Counter("kinesis", "dispatch_failure_total").Inc()
	})
}
