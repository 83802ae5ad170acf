// Package rabbitmq provides an AMQP dispatch backend publishing to a durable
// queue.
package rabbitmq

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// DispatcherName is the name used to register this backend.
const DispatcherName = "rabbitmq"

const (
	urlKey                     = "Url"
	queueKey                   = "Queue"
	outstandingRecordsLimitKey = "OutstandingRecordsLimit"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return amqp.NewPublisher(cfg, logger)
}

func init() {
	dispatcher.Register(DispatcherName, New)
}

// Dispatcher ships records to one RabbitMQ queue through an async pump.
type Dispatcher struct {
	dispatcher.Lifecycle

	deps dispatcher.Deps
	pump *dispatcher.Pump
}

// New constructs an uninitialized rabbitmq dispatcher.
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

	url, err := config.TakeString(props, urlKey)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	queue, err := config.TakeString(props, queueKey)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	limit, err := config.TakeInt(props, outstandingRecordsLimitKey)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}

	publisher, err := PublisherFactory(amqp.NewDurableQueueConfig(url), d.deps.Logger)
	if err != nil {
		return fmt.Errorf("rabbitmq: create publisher: %w", err)
	}

	pump, err := dispatcher.NewPump(dispatcher.PumpConfig{
		Topic:                   queue,
		OutstandingRecordsLimit: limit,
		Publisher:               publisher,
		Subsystem:               DispatcherName,
		Logger:                  d.deps.Logger,
		Metrics:                 d.deps.Metrics,
	})
	if err != nil {
		if closeErr := publisher.Close(); closeErr != nil {
			d.deps.Logger.Error("failed to close rabbitmq publisher", closeErr, nil)
		}
		return fmt.Errorf("rabbitmq: %w", err)
	}

	d.pump = pump
	if err := d.ToReady(); err != nil {
		return err
	}

	d.deps.Logger.Info("successfully initialized the rabbitmq dispatcher", watermill.LogFields{
		"queue": queue,
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

	d.deps.Logger.Info("closing the rabbitmq dispatcher now", nil)
	if d.pump != nil {
		if err := d.pump.Close(); err != nil {
			d.deps.Logger.Error("failed to close rabbitmq pump", err, nil)
		}
	}
	return nil
}
