package dispatcher

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/charlescaron/haystack-agent/metrics"
)

// PumpConfig configures an async publish pump.
type PumpConfig struct {
	// Topic is the destination topic, queue or subject.
	Topic string
	// OutstandingRecordsLimit is the admission ceiling: Submit rejects when
	// the number of records not yet handed to the publisher strictly exceeds
	// this value.
	OutstandingRecordsLimit int
	// Publisher is the underlying transport. The pump owns it after
	// construction and closes it on Close.
	Publisher message.Publisher
	// Subsystem scopes the pump's metrics, normally the dispatcher name.
	Subsystem string

	Logger  watermill.LoggerAdapter
	Metrics *metrics.Sink
}

type pumped struct {
	msg   *message.Message
	timer *prometheus.Timer
}

// Pump decouples Dispatch callers from a synchronous watermill publisher: a
// single writer goroutine drains a bounded in-flight buffer, so Submit never
// blocks on network I/O. Publish failures are counted and logged on the
// writer goroutine; they are not reported back to the submitter.
type Pump struct {
	topic     string
	limit     int64
	publisher message.Publisher
	logger    watermill.LoggerAdapter

	dispatchTimer prometheus.Observer
	failures      prometheus.Counter
	saturation    prometheus.Counter

	queue       chan pumped
	outstanding atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPump validates the config, starts the writer goroutine and returns the
// running pump.
func NewPump(cfg PumpConfig) (*Pump, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("pump: topic is required")
	}
	if cfg.OutstandingRecordsLimit <= 0 {
		return nil, fmt.Errorf("pump: outstanding records limit must be positive, got %d", cfg.OutstandingRecordsLimit)
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("pump: publisher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = watermill.NopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewSink(nil)
	}

	p := &Pump{
		topic:         cfg.Topic,
		limit:         int64(cfg.OutstandingRecordsLimit),
		publisher:     cfg.Publisher,
		logger:        cfg.Logger,
		dispatchTimer: cfg.Metrics.Timer(cfg.Subsystem, "dispatch_seconds"),
		failures:      cfg.Metrics.Counter(cfg.Subsystem, "dispatch_failure_total"),
		saturation:    cfg.Metrics.Counter(cfg.Subsystem, "outstanding_records_error_total"),
		// Headroom past the ceiling: the admission check reads the live
		// counter without locking, so momentary overshoot is expected.
		queue: make(chan pumped, cfg.OutstandingRecordsLimit+64),
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Submit enqueues one message for publishing. It fails with *RateLimitError
// when in-flight records strictly exceed the configured ceiling, and with
// ErrClosed after Close.
func (p *Pump) Submit(msg *message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	if n := p.outstanding.Load(); n > p.limit {
		p.saturation.Inc()
		return &RateLimitError{Outstanding: n}
	}

	p.outstanding.Add(1)
	select {
	case p.queue <- pumped{msg: msg, timer: prometheus.NewTimer(p.dispatchTimer)}:
		return nil
	default:
		n := p.outstanding.Add(-1)
		p.saturation.Inc()
		return &RateLimitError{Outstanding: n}
	}
}

// Outstanding returns the live count of records accepted but not yet handed
// to the publisher.
func (p *Pump) Outstanding() int64 {
	return p.outstanding.Load()
}

// Close drains all accepted records through the publisher, then closes it.
// Safe to call more than once.
func (p *Pump) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.publisher.Close()
}

func (p *Pump) run() {
	defer p.wg.Done()
	for item := range p.queue {
		if err := p.publisher.Publish(p.topic, item.msg); err != nil {
			p.failures.Inc()
			p.logger.Error("failed to publish record", err, watermill.LogFields{
				"topic": p.topic,
				"uuid":  item.msg.UUID,
			})
		}
		item.timer.ObserveDuration()
		p.outstanding.Add(-1)
	}
}
