package dispatcher

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("haystack: dispatcher is not initialized")
	ErrAlreadyInitialized = errors.New("haystack: dispatcher is already initialized")
	ErrClosed             = errors.New("haystack: dispatcher is closed")
)

// RateLimitError is returned synchronously from Dispatch when the backend's
// in-flight record buffer is saturated. Outstanding carries the count
// observed at check time.
type RateLimitError struct {
	Outstanding int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("haystack: dispatch rejected due to rate limit, outstanding records: %d", e.Outstanding)
}

// IsRateLimit reports whether err is (or wraps) a rate-limit rejection.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
