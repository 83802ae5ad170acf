// Package metrics provides the metrics sink injected into dispatchers and the
// agent runtime. The sink wraps an explicit prometheus.Registerer so callers
// decide whether metrics land in the process-default registry, a private one,
// or a test registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "haystack"

// Sink registers and caches the collectors used by dispatchers. All returned
// collectors are safe for concurrent use.
type Sink struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	counters   map[string]prometheus.Counter
	timers     map[string]prometheus.Observer
}

// NewSink creates a Sink over the given registerer. A nil registerer gets a
// private registry rather than the process-wide default.
func NewSink(registerer prometheus.Registerer) *Sink {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	return &Sink{
		registerer: registerer,
		counters:   make(map[string]prometheus.Counter),
		timers:     make(map[string]prometheus.Observer),
	}
}

// Counter returns the counter registered under subsystem/name, creating and
// registering it on first use.
func (s *Sink) Counter(subsystem, name string) prometheus.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subsystem + "/" + name
	if c, ok := s.counters[key]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
	})
	s.registerer.MustRegister(c)
	s.counters[key] = c
	return c
}

// Timer returns a latency histogram observer registered under
// subsystem/name. Use with prometheus.NewTimer:
//
//	timer := prometheus.NewTimer(sink.Timer("kinesis", "dispatch_seconds"))
//	defer timer.ObserveDuration()
func (s *Sink) Timer(subsystem, name string) prometheus.Observer {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subsystem + "/" + name
	if o, ok := s.timers[key]; ok {
		return o
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Buckets:   prometheus.DefBuckets,
	})
	s.registerer.MustRegister(h)
	s.timers[key] = h
	return h
}
