// Package nats provides a NATS Core dispatch backend.
package nats

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// DispatcherName is the name used to register this backend.
const DispatcherName = "nats"

const (
	urlKey                     = "Url"
	subjectKey                 = "Subject"
	outstandingRecordsLimitKey = "OutstandingRecordsLimit"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

func init() {
	dispatcher.Register(DispatcherName, New)
}

// Dispatcher ships records to one NATS subject through an async pump.
type Dispatcher struct {
	dispatcher.Lifecycle

	deps dispatcher.Deps
	pump *dispatcher.Pump
}

// New constructs an uninitialized nats dispatcher.
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
		return fmt.Errorf("nats: %w", err)
	}
	subject, err := config.TakeString(props, subjectKey)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	limit, err := config.TakeInt(props, outstandingRecordsLimitKey)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}

	publisher, err := PublisherFactory(wmnats.PublisherConfig{
		URL: url,
		NatsOptions: []nats.Option{
			nats.Name("haystack-agent"),
			nats.RetryOnFailedConnect(true),
		},
		Marshaler: &wmnats.NATSMarshaler{},
	}, d.deps.Logger)
	if err != nil {
		return fmt.Errorf("nats: create publisher: %w", err)
	}

	pump, err := dispatcher.NewPump(dispatcher.PumpConfig{
		Topic:                   subject,
		OutstandingRecordsLimit: limit,
		Publisher:               publisher,
		Subsystem:               DispatcherName,
		Logger:                  d.deps.Logger,
		Metrics:                 d.deps.Metrics,
	})
	if err != nil {
		if closeErr := publisher.Close(); closeErr != nil {
			d.deps.Logger.Error("failed to close nats publisher", closeErr, nil)
		}
		return fmt.Errorf("nats: %w", err)
	}

	d.pump = pump
	if err := d.ToReady(); err != nil {
		return err
	}

	d.deps.Logger.Info("successfully initialized the nats dispatcher", watermill.LogFields{
		"subject": subject,
		"limit":   limit,
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

	d.deps.Logger.Info("closing the nats dispatcher now", nil)
	if d.pump != nil {
		if err := d.pump.Close(); err != nil {
			d.deps.Logger.Error("failed to close nats pump", err, nil)
		}
	}
	return nil
}
