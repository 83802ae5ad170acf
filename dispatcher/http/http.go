// Package http provides a dispatch backend that POSTs records to a collector
// URL.
package http

import (
	"errors"
	"fmt"
	net_http "net/http"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// DispatcherName is the name used to register this backend.
const DispatcherName = "http"

const (
	urlKey                     = "Url"
	outstandingRecordsLimitKey = "OutstandingRecordsLimit"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmhttp.NewPublisher(cfg, logger)
}

func init() {
	dispatcher.Register(DispatcherName, New)
}

// Dispatcher ships records to one HTTP endpoint through an async pump. The
// partition key travels as message metadata, which the default marshaler
// turns into a request header.
type Dispatcher struct {
	dispatcher.Lifecycle

	deps dispatcher.Deps
	pump *dispatcher.Pump
}

// New constructs an uninitialized http dispatcher.
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

	endpoint, err := config.TakeString(props, urlKey)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	limit, err := config.TakeInt(props, outstandingRecordsLimitKey)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}

	publisher, err := PublisherFactory(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*net_http.Request, error) {
			// The pump's topic is the full collector URL.
			return wmhttp.DefaultMarshalMessageFunc(topic, msg)
		},
	}, d.deps.Logger)
	if err != nil {
		return fmt.Errorf("http: create publisher: %w", err)
	}

	pump, err := dispatcher.NewPump(dispatcher.PumpConfig{
		Topic:                   endpoint,
		OutstandingRecordsLimit: limit,
		Publisher:               publisher,
		Subsystem:               DispatcherName,
		Logger:                  d.deps.Logger,
		Metrics:                 d.deps.Metrics,
	})
	if err != nil {
		if closeErr := publisher.Close(); closeErr != nil {
			d.deps.Logger.Error("failed to close http publisher", closeErr, nil)
		}
		return fmt.Errorf("http: %w", err)
	}

	d.pump = pump
	if err := d.ToReady(); err != nil {
		return err
	}

	d.deps.Logger.Info("successfully initialized the http dispatcher", watermill.LogFields{
		"url":   endpoint,
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

	d.deps.Logger.Info("closing the http dispatcher now", nil)
	if d.pump != nil {
		if err := d.pump.Close(); err != nil {
			d.deps.Logger.Error("failed to close http pump", err, nil)
		}
	}
	return nil
}
