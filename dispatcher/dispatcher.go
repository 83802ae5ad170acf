// Package dispatcher defines the contract every dispatch backend satisfies
// and the registry used to select backends by their configured type name.
// Backend implementations (kinesis, kafka, nats, ...) live in sub-packages and
// register themselves with the default registry.
package dispatcher

import (
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/charlescaron/haystack-agent/metrics"
)

// Dispatcher accepts raw records for asynchronous delivery to one backend.
//
// The lifecycle is Initialize once, Dispatch any number of times, Close once.
// Dispatch must return promptly: the send/ack cycle completes on the
// backend's own completion path, and asynchronous delivery failures are
// surfaced only through metrics and logs, never to the Dispatch caller.
type Dispatcher interface {
	// Name returns the stable identifier matching the dispatcher type name
	// used in agent configuration files.
	Name() string

	// Initialize performs one-time setup from the dispatcher's property bag.
	// It validates required keys, consumes the keys it recognizes, and
	// constructs the underlying delivery client. It fails fast on missing or
	// malformed properties and is not safe to call twice.
	Initialize(props map[string]any) error

	// Dispatch submits one record for asynchronous delivery. It fails
	// synchronously with *RateLimitError when the backend is saturated; the
	// record is then not enqueued and the caller applies its own retry or
	// drop policy.
	Dispatch(partitionKey, payload []byte) error

	// Close flushes previously submitted records and releases the client.
	// It is safe to call even if Initialize partially failed, and cleanup
	// errors are logged rather than propagated.
	Close() error
}

// Record is one unit of dispatch: a partition key and an opaque payload.
type Record struct {
	PartitionKey []byte
	Payload      []byte
}

// Deps carries the capabilities injected into every backend at construction.
type Deps struct {
	Logger  watermill.LoggerAdapter
	Metrics *metrics.Sink
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = watermill.NopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewSink(nil)
	}
	return d
}

// Builder constructs an uninitialized dispatcher instance.
type Builder func(deps Deps) Dispatcher

const (
	stateUninitialized int32 = iota
	stateReady
	stateClosed
)

// Lifecycle implements the Uninitialized -> Ready -> Closed state machine
// shared by backend implementations. The zero value is Uninitialized.
type Lifecycle struct {
	state atomic.Int32
}

// ToReady transitions from Uninitialized to Ready. It fails when Initialize
// was already called on this instance.
func (l *Lifecycle) ToReady() error {
	if !l.state.CompareAndSwap(stateUninitialized, stateReady) {
		return ErrAlreadyInitialized
	}
	return nil
}

// CheckReady reports whether Dispatch is currently valid.
func (l *Lifecycle) CheckReady() error {
	switch l.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}
}

// ToClosed transitions to Closed from any state. It returns false when the
// instance was already closed, making Close idempotent for callers.
func (l *Lifecycle) ToClosed() bool {
	return l.state.Swap(stateClosed) != stateClosed
}
