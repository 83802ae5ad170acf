// Package kafka provides a Kafka dispatch backend. Records are partitioned
// by their dispatch partition key.
package kafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// DispatcherName is the name used to register this backend.
const DispatcherName = "kafka"

const (
	brokersKey                 = "Brokers"
	topicKey                   = "Topic"
	outstandingRecordsLimitKey = "OutstandingRecordsLimit"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

func init() {
	dispatcher.Register(DispatcherName, New)
}

// Dispatcher ships records to one Kafka topic through an async pump.
type Dispatcher struct {
	dispatcher.Lifecycle

	deps dispatcher.Deps
	pump *dispatcher.Pump
}

// New constructs an uninitialized kafka dispatcher.
func New(deps dispatcher.Deps) dispatcher.Dispatcher {
	return &Dispatcher{deps: deps}
}

func (d *Dispatcher) Name() string {
	return DispatcherName
}

func (d *Dispatcher) Initialize(props map[string]any) error {
	switch err := d.CheckReady(); {
	case err == nil:
		return dispatcher.ErrAlreadyInitialized
	case errors.Is(err, dispatcher.ErrClosed):
		return dispatcher.ErrClosed
	}

	brokerList, err := config.TakeString(props, brokersKey)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	topic, err := config.TakeString(props, topicKey)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	limit, err := config.TakeInt(props, outstandingRecordsLimitKey)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	publisher, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:   splitBrokers(brokerList),
		Marshaler: kafka.NewWithPartitioningMarshaler(partitionFromMetadata),
	}, d.deps.Logger)
	if err != nil {
		return fmt.Errorf("kafka: create publisher: %w", err)
	}

	pump, err := dispatcher.NewPump(dispatcher.PumpConfig{
		Topic:                   topic,
		OutstandingRecordsLimit: limit,
		Publisher:               publisher,
		Subsystem:               DispatcherName,
		Logger:                  d.deps.Logger,
		Metrics:                 d.deps.Metrics,
	})
	if err != nil {
		if closeErr := publisher.Close(); closeErr != nil {
			d.deps.Logger.Error("failed to close kafka publisher", closeErr, nil)
		}
		return fmt.Errorf("kafka: %w", err)
	}

	d.pump = pump
	if err := d.ToReady(); err != nil {
		return err
	}

	d.deps.Logger.Info("successfully initialized the kafka dispatcher", watermill.LogFields{
		"topic": topic,
		"limit": limit,
	})
	return nil
}

func (d *Dispatcher) Dispatch(partitionKey, payload []byte) error {
	if err := d.CheckReady(); err != nil {
		return err
	}
	return d.pump.Submit(dispatcher.NewRecordMessage(partitionKey, payload))
}

func (d *Dispatcher) Close() error {
	if !d.ToClosed() {
		return nil
	}

	d.deps.Logger.Info("closing the kafka dispatcher now", nil)
	if d.pump != nil {
		if err := d.pump.Close(); err != nil {
			d.deps.Logger.Error("failed to close kafka pump", err, nil)
		}
	}
	return nil
}

func splitBrokers(list string) []string {
	parts := strings.Split(list, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func partitionFromMetadata(topic string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(dispatcher.PartitionKeyMetadataKey), nil
}
