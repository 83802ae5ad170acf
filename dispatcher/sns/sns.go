// Package sns provides an AWS SNS dispatch backend.
package sns

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill/message"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// DispatcherName is the name used to register this backend.
const DispatcherName = "sns"

const (
	topicNameKey               = "TopicName"
	accountIDKey               = "AccountId"
	regionKey                  = "Region"
	endpointKey                = "Endpoint"
	outstandingRecordsLimitKey = "OutstandingRecordsLimit"
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for
// testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

func init() {
	dispatcher.Register(DispatcherName, New)
}

// Dispatcher ships records to one SNS topic through an async pump.
type Dispatcher struct {
	dispatcher.Lifecycle

	deps dispatcher.Deps
	pump *dispatcher.Pump
}

// New constructs an uninitialized sns dispatcher.
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

	topicName, err := config.TakeString(props, topicNameKey)
	if err != nil {
		return fmt.Errorf("sns: %w", err)
	}
	accountID, err := config.TakeString(props, accountIDKey)
	if err != nil {
		return fmt.Errorf("sns: %w", err)
	}
	region, err := config.TakeString(props, regionKey)
	if err != nil {
		return fmt.Errorf("sns: %w", err)
	}
	endpoint, err := config.TakeOptionalString(props, endpointKey)
	if err != nil {
		return fmt.Errorf("sns: %w", err)
	}
	limit, err := config.TakeInt(props, outstandingRecordsLimitKey)
	if err != nil {
		return fmt.Errorf("sns: %w", err)
	}

	awsCfg, err := DefaultConfigLoader(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return fmt.Errorf("sns: load aws config: %w", err)
	}
	topicResolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		return fmt.Errorf("sns: create topic resolver: %w", err)
	}

	publisherConfig := sns.PublisherConfig{
		AWSConfig:     awsCfg,
		TopicResolver: topicResolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
	if endpoint != "" {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("sns: parse endpoint: %w", err)
		}
		publisherConfig.OptFns = []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *parsed},
			}),
		}
	}

	publisher, err := PublisherFactory(publisherConfig, d.deps.Logger)
	if err != nil {
		return fmt.Errorf("sns: create publisher: %w", err)
	}

	pump, err := dispatcher.NewPump(dispatcher.PumpConfig{
		Topic:                   topicName,
		OutstandingRecordsLimit: limit,
		Publisher:               publisher,
		Subsystem:               DispatcherName,
		Logger:                  d.deps.Logger,
		Metrics:                 d.deps.Metrics,
	})
	if err != nil {
		if closeErr := publisher.Close(); closeErr != nil {
			d.deps.Logger.Error("failed to close sns publisher", closeErr, nil)
		}
		return fmt.Errorf("sns: %w", err)
	}

	d.pump = pump
	if err := d.ToReady(); err != nil {
		return err
	}

	d.deps.Logger.Info("successfully initialized the sns dispatcher", watermill.LogFields{
		"topic":  topicName,
		"region": region,
		"limit":  limit,
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

	d.deps.Logger.Info("closing the sns dispatcher now", nil)
	if d.pump != nil {
		if err := d.pump.Close(); err != nil {
			d.deps.Logger.Error("failed to close sns pump", err, nil)
		}
	}
	return nil
}
