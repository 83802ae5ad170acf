package producer

import (
	"fmt"
	"strconv"
	"time"
)

// Configuration keys understood by ConfigFromProperties. Dispatcher-level
// keys are stripped before the bag reaches this parser, so anything else in
// the bag is tolerated and ignored.
const (
	regionKey           = "Region"
	endpointKey         = "Endpoint"
	batchSizeKey        = "BatchSize"
	flushIntervalKey    = "FlushInterval"
	recordMaxRetriesKey = "RecordMaxRetries"
	backoffIntervalKey  = "BackoffInterval"
)

const maxBatchSize = 500 // PutRecords hard limit

// Config tunes the async producer.
type Config struct {
	// Region is the AWS region of the destination streams. Required.
	Region string
	// Endpoint optionally overrides the Kinesis endpoint, e.g. for
	// LocalStack.
	Endpoint string
	// BatchSize caps records per PutRecords call, at most 500.
	BatchSize int
	// FlushInterval is how long the worker coalesces a partial batch before
	// sending it.
	FlushInterval time.Duration
	// RecordMaxRetries is how many additional tries a failed record gets
	// before its future resolves with a RecordFailedError.
	RecordMaxRetries int
	// BackoffInterval is the pause before retrying failed records.
	BackoffInterval time.Duration
}

// ConfigFromProperties builds a Config from a flattened property bag. Only
// Region is required; the rest fall back to defaults.
func ConfigFromProperties(props map[string]string) (Config, error) {
	cfg := Config{
		BatchSize:        maxBatchSize,
		FlushInterval:    100 * time.Millisecond,
		RecordMaxRetries: 3,
		BackoffInterval:  100 * time.Millisecond,
	}

	region, ok := props[regionKey]
	if !ok || region == "" {
		return Config{}, fmt.Errorf("producer: property %q is required", regionKey)
	}
	cfg.Region = region
	cfg.Endpoint = props[endpointKey]

	if v, ok := props[batchSizeKey]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxBatchSize {
			return Config{}, fmt.Errorf("producer: property %q must be an integer in [1, %d], got %q", batchSizeKey, maxBatchSize, v)
		}
		cfg.BatchSize = n
	}
	if v, ok := props[recordMaxRetriesKey]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("producer: property %q must be a non-negative integer, got %q", recordMaxRetriesKey, v)
		}
		cfg.RecordMaxRetries = n
	}
	if d, err := durationProperty(props, flushIntervalKey); err != nil {
		return Config{}, err
	} else if d > 0 {
		cfg.FlushInterval = d
	}
	if d, err := durationProperty(props, backoffIntervalKey); err != nil {
		return Config{}, err
	} else if d > 0 {
		cfg.BackoffInterval = d
	}

	return cfg, nil
}

func durationProperty(props map[string]string, key string) (time.Duration, error) {
	v, ok := props[key]
	if !ok {
		return 0, nil
	}
	// Accept both Go duration strings and bare milliseconds.
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("producer: property %q must be a duration, got %q", key, v)
	}
	return d, nil
}
