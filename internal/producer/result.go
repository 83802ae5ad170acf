package producer

import (
	"fmt"
	"time"
)

// Attempt records one delivery try for a single record.
type Attempt struct {
	// Delay is the time since the previous attempt (or since submission for
	// the first attempt).
	Delay time.Duration
	// Duration is how long the attempt itself took.
	Duration time.Duration
	// ErrorCode and ErrorMessage are empty on the successful attempt.
	ErrorCode    string
	ErrorMessage string
}

// RecordResult is the final outcome of one submitted record.
type RecordResult struct {
	Successful     bool
	ShardID        string
	SequenceNumber string
	Attempts       []Attempt
}

// RecordFailedError wraps the structured per-attempt result of a record
// whose retries were exhausted.
type RecordFailedError struct {
	Result *RecordResult
}

func (e *RecordFailedError) Error() string {
	return fmt.Sprintf("record failed after %d attempts", len(e.Result.Attempts))
}

// Future is the completion handle for one submitted record. It resolves
// exactly once, on the producer's worker goroutine.
type Future struct {
	done   chan struct{}
	result *RecordResult
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed when the record's outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until resolution and returns the outcome. On error, the
// result is nil unless the error is a *RecordFailedError, which carries the
// structured result itself.
func (f *Future) Result() (*RecordResult, error) {
	<-f.done
	return f.result, f.err
}

func (f *Future) resolve(result *RecordResult, err error) {
	f.result = result
	f.err = err
	close(f.done)
}
