// Package kinesis provides the reference dispatch backend: records are
// handed to an asynchronous batching producer, admission is controlled by an
// outstanding-record ceiling, and delivery outcomes resolve on the producer's
// completion path without ever blocking or reaching the Dispatch caller.
package kinesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	amazonkinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
	"github.com/charlescaron/haystack-agent/internal/producer"
)

// DispatcherName is the name used to register this backend.
const DispatcherName = "kinesis"

const (
	streamNameKey              = "StreamName"
	outstandingRecordsLimitKey = "OutstandingRecordsLimit"
	stsRoleArnKey              = "StsRoleArn"
	regionKey                  = "Region"

	roleSessionName = "haystack-agent"
)

// Future is the completion handle surface this backend consumes;
// *producer.Future satisfies it.
type Future interface {
	Done() <-chan struct{}
	Result() (*producer.RecordResult, error)
}

// Producer is the async delivery client surface this backend consumes.
type Producer interface {
	AddRecord(stream, partitionKey string, data []byte) (Future, error)
	OutstandingRecordsCount() int64
	FlushSync()
	Destroy()
}

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// AssumeRoleProviderFactory allows overriding the delegated-role credential
// source for testing.
var AssumeRoleProviderFactory = func(client stscreds.AssumeRoleAPIClient, roleArn string) aws.CredentialsProvider {
	return stscreds.NewAssumeRoleProvider(client, roleArn, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = roleSessionName
	})
}

// ProducerFactory allows overriding producer creation for testing. The
// property bag it receives is the residual after the backend consumed its own
// keys; everything in it belongs to the producer's configuration parser.
var ProducerFactory = func(awsCfg aws.Config, props map[string]string) (Producer, error) {
	cfg, err := producer.ConfigFromProperties(props)
	if err != nil {
		return nil, err
	}
	client := amazonkinesis.NewFromConfig(awsCfg, func(o *amazonkinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	p, err := producer.New(cfg, client)
	if err != nil {
		return nil, err
	}
	return realProducer{p}, nil
}

type realProducer struct {
	*producer.Producer
}

func (r realProducer) AddRecord(stream, partitionKey string, data []byte) (Future, error) {
	f, err := r.Producer.AddRecord(stream, partitionKey, data)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func init() {
	dispatcher.Register(DispatcherName, New)
}

// Dispatcher ships records to one Kinesis stream.
type Dispatcher struct {
	dispatcher.Lifecycle

	logger       watermill.LoggerAdapter
	dispatchTime prometheus.Observer
	failures     prometheus.Counter
	saturation   prometheus.Counter

	streamName string
	limit      int64
	producer   Producer
	handlers   sync.WaitGroup
}

// New constructs an uninitialized kinesis dispatcher.
func New(deps dispatcher.Deps) dispatcher.Dispatcher {
	return &Dispatcher{
		logger:       deps.Logger,
		dispatchTime: deps.Metrics.Timer(DispatcherName, "dispatch_seconds"),
		failures:     deps.Metrics.Counter(DispatcherName, "dispatch_failure_total"),
		saturation:   deps.Metrics.Counter(DispatcherName, "outstanding_records_error_total"),
	}
}

func (d *Dispatcher) Name() string {
	return DispatcherName
}

// Initialize consumes StreamName, OutstandingRecordsLimit and the optional
// StsRoleArn from props, validates Region, resolves credentials, and builds
// the producer from the residual properties. Any failure leaves the
// dispatcher unready.
func (d *Dispatcher) Initialize(props map[string]any) error {
	switch err := d.CheckReady(); {
	case err == nil:
		return dispatcher.ErrAlreadyInitialized
	case errors.Is(err, dispatcher.ErrClosed):
		return dispatcher.ErrClosed
	}

	streamName, err := config.TakeString(props, streamNameKey)
	if err != nil {
		return fmt.Errorf("kinesis: %w", err)
	}
	limit, err := config.TakeInt(props, outstandingRecordsLimitKey)
	if err != nil {
		return fmt.Errorf("kinesis: %w", err)
	}
	if limit <= 0 {
		return fmt.Errorf("kinesis: property %q must be positive, got %d", outstandingRecordsLimitKey, limit)
	}
	roleArn, err := config.TakeOptionalString(props, stsRoleArnKey)
	if err != nil {
		return fmt.Errorf("kinesis: %w", err)
	}
	// Region stays in props: the producer's own parser consumes it.
	region, err := config.StringProperty(props, regionKey)
	if err != nil {
		return fmt.Errorf("kinesis: %w", err)
	}

	awsCfg, err := DefaultConfigLoader(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return fmt.Errorf("kinesis: load aws config: %w", err)
	}
	if roleArn != "" {
		awsCfg.Credentials = AssumeRoleProviderFactory(sts.NewFromConfig(awsCfg), roleArn)
	}

	prod, err := ProducerFactory(awsCfg, config.Properties(props))
	if err != nil {
		return fmt.Errorf("kinesis: create producer: %w", err)
	}

	d.streamName = streamName
	d.limit = int64(limit)
	d.producer = prod
	if err := d.ToReady(); err != nil {
		prod.Destroy()
		return err
	}

	d.logger.Info("successfully initialized the kinesis dispatcher", watermill.LogFields{
		"stream": streamName,
		"limit":  limit,
	})
	return nil
}

// Dispatch submits one record. It fails with *dispatcher.RateLimitError when
// the producer's outstanding-record count strictly exceeds the configured
// ceiling; the record is then not enqueued. The check reads live state, so
// momentary overshoot under concurrent submissions is expected.
func (d *Dispatcher) Dispatch(partitionKey, payload []byte) error {
	if err := d.CheckReady(); err != nil {
		return err
	}

	if n := d.producer.OutstandingRecordsCount(); n > d.limit {
		d.saturation.Inc()
		return &dispatcher.RateLimitError{Outstanding: n}
	}

	timer := prometheus.NewTimer(d.dispatchTime)
	future, err := d.producer.AddRecord(d.streamName, string(partitionKey), payload)
	if err != nil {
		timer.ObserveDuration()
		return fmt.Errorf("kinesis: submit record: %w", err)
	}

	d.handlers.Add(1)
	go d.resolve(future, timer)
	return nil
}

// resolve runs once per accepted submission, on its own goroutine. Delivery
// failures increment the failure counter and log the per-attempt trail; they
// are never propagated to the Dispatch caller.
func (d *Dispatcher) resolve(future Future, timer *prometheus.Timer) {
	defer d.handlers.Done()

	<-future.Done()
	timer.ObserveDuration()

	result, err := future.Result()
	if err == nil {
		if result.Successful {
			return
		}
		// Accepted by the transport but rejected by the sink.
		d.failures.Inc()
		d.logger.Error("failed to put record to kinesis", nil, watermill.LogFields{
			"stream":   d.streamName,
			"attempts": formatAttempts(result.Attempts),
		})
		return
	}

	d.failures.Inc()
	var failed *producer.RecordFailedError
	if errors.As(err, &failed) {
		d.logger.Error("record failed to put to kinesis", err, watermill.LogFields{
			"stream":   d.streamName,
			"attempts": formatAttempts(failed.Result.Attempts),
		})
		return
	}
	d.logger.Error("record failed to put to kinesis", err, watermill.LogFields{
		"stream": d.streamName,
	})
}

// Close flushes the producer, waits for every outcome handler to finish, and
// only then destroys the client, so no handler touches released resources.
// Safe to call when Initialize never ran or failed, and safe to call twice.
func (d *Dispatcher) Close() error {
	if !d.ToClosed() {
		return nil
	}

	d.logger.Info("closing the kinesis dispatcher now", nil)
	if d.producer != nil {
		d.producer.FlushSync()
		d.handlers.Wait()
		d.producer.Destroy()
	}
	return nil
}

func formatAttempts(attempts []producer.Attempt) string {
	if len(attempts) == 0 {
		return "none"
	}
	lines := make([]string, len(attempts))
	for i, a := range attempts {
		lines[i] = fmt.Sprintf("Delay after prev attempt: %d ms, Duration: %d ms, Code: %s, Message: %s",
			a.Delay.Milliseconds(), a.Duration.Milliseconds(), a.ErrorCode, a.ErrorMessage)
	}
	return strings.Join(lines, "\n")
}
