package dispatcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlescaron/haystack-agent/metrics"
)

// gatePublisher blocks every Publish call until released.
type gatePublisher struct {
	mu         sync.Mutex
	gate       chan struct{}
	published  []*message.Message
	closed     bool
	publishErr error
}

func newGatePublisher() *gatePublisher {
	return &gatePublisher{gate: make(chan struct{})}
}

func (g *gatePublisher) Publish(topic string, msgs ...*message.Message) error {
	<-g.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	g.published = append(g.published, msgs...)
	return g.publishErr
}

func (g *gatePublisher) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *gatePublisher) release() { close(g.gate) }

func (g *gatePublisher) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.published)
}

func (g *gatePublisher) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func newMsg(payload string) *message.Message {
	return message.NewMessage(payload, []byte(payload))
}

func newTestPump(t *testing.T, pub message.Publisher, limit int, sink *metrics.Sink) *Pump {
	t.Helper()
	p, err := NewPump(PumpConfig{
		Topic:                   "spans",
		OutstandingRecordsLimit: limit,
		Publisher:               pub,
		Subsystem:               "test",
		Metrics:                 sink,
	})
	require.NoError(t, err)
	return p
}

func TestPumpConfigValidation(t *testing.T) {
	pub := newGatePublisher()

	_, err := NewPump(PumpConfig{OutstandingRecordsLimit: 10, Publisher: pub})
	assert.ErrorContains(t, err, "topic is required")

	_, err = NewPump(PumpConfig{Topic: "spans", Publisher: pub})
	assert.ErrorContains(t, err, "must be positive")

	_, err = NewPump(PumpConfig{Topic: "spans", OutstandingRecordsLimit: -1, Publisher: pub})
	assert.ErrorContains(t, err, "must be positive")

	_, err = NewPump(PumpConfig{Topic: "spans", OutstandingRecordsLimit: 10})
	assert.ErrorContains(t, err, "publisher is required")
}

func TestPumpPublishesSubmittedRecords(t *testing.T) {
	pub := newGatePublisher()
	pub.release()
	p := newTestPump(t, pub, 10, nil)

	require.NoError(t, p.Submit(newMsg("a")))
	require.NoError(t, p.Submit(newMsg("b")))
	require.NoError(t, p.Close())

	require.Equal(t, 2, pub.count())
	assert.Equal(t, "a", pub.published[0].UUID)
	assert.Equal(t, "b", pub.published[1].UUID)
	assert.True(t, pub.isClosed())
	assert.Zero(t, p.Outstanding())
}

func TestPumpRejectsAboveCeiling(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewSink(reg)
	pub := newGatePublisher() // blocked: everything stays outstanding
	p := newTestPump(t, pub, 10, sink)

	// The ceiling itself is admissible: submissions pass while outstanding
	// count is at most the limit.
	for i := 0; i < 11; i++ {
		require.NoError(t, p.Submit(newMsg("m")))
	}
	require.Equal(t, int64(11), p.Outstanding())

	// Now outstanding (11) strictly exceeds the limit (10).
	err := p.Submit(newMsg("rejected"))
	require.Error(t, err)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, int64(11), rl.Outstanding)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.Counter("test", "outstanding_records_error_total")))

	pub.release()
	require.NoError(t, p.Close())
	assert.Equal(t, 11, pub.count(), "rejected record must not reach the publisher")
}

func TestPumpSubmitAfterClose(t *testing.T) {
	pub := newGatePublisher()
	pub.release()
	p := newTestPump(t, pub, 10, nil)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Submit(newMsg("late")), ErrClosed)

	// Second close is a no-op.
	assert.NoError(t, p.Close())
}

func TestPumpCloseDrainsBeforeClosingPublisher(t *testing.T) {
	pub := newGatePublisher()
	p := newTestPump(t, pub, 10, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(newMsg("m")))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Close())
	}()

	select {
	case <-done:
		t.Fatal("close returned before pending records were published")
	case <-time.After(20 * time.Millisecond):
	}
	assert.False(t, pub.isClosed())

	pub.release()
	<-done
	assert.Equal(t, 5, pub.count())
	assert.True(t, pub.isClosed())
}

func TestPumpCountsPublishFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewSink(reg)
	pub := newGatePublisher()
	pub.publishErr = errors.New("broker unavailable")
	pub.release()
	p := newTestPump(t, pub, 10, sink)

	require.NoError(t, p.Submit(newMsg("a")))
	require.NoError(t, p.Submit(newMsg("b")))
	require.NoError(t, p.Close())

	// Publish failures are metrics-and-logs only; both records were attempted.
	assert.Equal(t, 2, pub.count())
	assert.Equal(t, float64(2),
		testutil.ToFloat64(sink.Counter("test", "dispatch_failure_total")))
}
