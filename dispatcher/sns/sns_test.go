package sns

import (
	"context"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlescaron/haystack-agent/dispatcher"
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]*message.Message
	closed    bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][]*message.Message)}
}

func (f *fakePublisher) Publish(topic string, msgs ...*message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], msgs...)
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func stubFactories(t *testing.T) (*fakePublisher, *sns.PublisherConfig) {
	t.Helper()
	pub := newFakePublisher()
	captured := &sns.PublisherConfig{}

	origLoader := DefaultConfigLoader
	origFactory := PublisherFactory
	t.Cleanup(func() {
		DefaultConfigLoader = origLoader
		PublisherFactory = origFactory
	})

	DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		*captured = cfg
		return pub, nil
	}
	return pub, captured
}

func validProps() map[string]any {
	return map[string]any{
		"TopicName":               "haystack-spans",
		"AccountId":               "123456789012",
		"Region":                  "us-east-1",
		"OutstandingRecordsLimit": 100,
	}
}

func TestDispatcherIsRegistered(t *testing.T) {
	assert.True(t, dispatcher.DefaultRegistry.Has(DispatcherName))
}

func TestInitializeAndDispatch(t *testing.T) {
	pub, captured := stubFactories(t)
	d, err := dispatcher.New(DispatcherName, dispatcher.Deps{Logger: watermill.NopLogger{}})
	require.NoError(t, err)

	require.NoError(t, d.Initialize(validProps()))
	assert.Equal(t, "sns", d.Name())
	assert.NotNil(t, captured.TopicResolver)
	assert.Empty(t, captured.OptFns, "no endpoint override without the Endpoint key")

	require.NoError(t, d.Dispatch([]byte("trace-1"), []byte("span")))
	require.NoError(t, d.Close())

	msgs := pub.published["haystack-spans"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "trace-1", msgs[0].Metadata.Get(dispatcher.PartitionKeyMetadataKey))
	assert.True(t, pub.closed)
}

func TestInitializeWithEndpointOverride(t *testing.T) {
	_, captured := stubFactories(t)
	d, err := dispatcher.New(DispatcherName, dispatcher.Deps{})
	require.NoError(t, err)

	props := validProps()
	props["Endpoint"] = "http://localhost:4566"
	require.NoError(t, d.Initialize(props))
	defer d.Close()

	assert.NotEmpty(t, captured.OptFns)
}

func TestInitializeFailsOnMissingKeys(t *testing.T) {
	for _, missing := range []string{"TopicName", "AccountId", "Region", "OutstandingRecordsLimit"} {
		t.Run(missing, func(t *testing.T) {
			stubFactories(t)
			d, err := dispatcher.New(DispatcherName, dispatcher.Deps{})
			require.NoError(t, err)

			props := validProps()
			delete(props, missing)

			err = d.Initialize(props)
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}
