package kafka

import (
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
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

func stubPublisher(t *testing.T) (*fakePublisher, *kafka.PublisherConfig) {
	t.Helper()
	pub := newFakePublisher()
	captured := &kafka.PublisherConfig{}

	orig := PublisherFactory
	t.Cleanup(func() { PublisherFactory = orig })
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		*captured = cfg
		return pub, nil
	}
	return pub, captured
}

func newTestDispatcher(t *testing.T) dispatcher.Dispatcher {
	t.Helper()
	d, err := dispatcher.New(DispatcherName, dispatcher.Deps{Logger: watermill.NopLogger{}})
	require.NoError(t, err)
	return d
}

func validProps() map[string]any {
	return map[string]any{
		"Brokers":                 "broker-1:9092, broker-2:9092",
		"Topic":                   "haystack-spans",
		"OutstandingRecordsLimit": 100,
	}
}

func TestDispatcherIsRegistered(t *testing.T) {
	assert.True(t, dispatcher.DefaultRegistry.Has(DispatcherName))
}

func TestInitializeBuildsPartitioningPublisher(t *testing.T) {
	_, captured := stubPublisher(t)
	d := newTestDispatcher(t)

	require.NoError(t, d.Initialize(validProps()))
	defer d.Close()

	assert.Equal(t, "kafka", d.Name())
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, captured.Brokers)
	assert.NotNil(t, captured.Marshaler)
}

func TestInitializeFailsOnMissingKeys(t *testing.T) {
	for _, missing := range []string{"Brokers", "Topic", "OutstandingRecordsLimit"} {
		t.Run(missing, func(t *testing.T) {
			stubPublisher(t)
			d := newTestDispatcher(t)

			props := validProps()
			delete(props, missing)

			err := d.Initialize(props)
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
			assert.ErrorIs(t, d.Dispatch([]byte("k"), []byte("v")), dispatcher.ErrNotInitialized)
		})
	}
}

func TestDispatchCarriesPartitionKey(t *testing.T) {
	pub, _ := stubPublisher(t)
	d := newTestDispatcher(t)
	require.NoError(t, d.Initialize(validProps()))

	require.NoError(t, d.Dispatch([]byte("trace-42"), []byte("span-bytes")))
	require.NoError(t, d.Close())

	msgs := pub.published["haystack-spans"]
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("span-bytes"), []byte(msgs[0].Payload))
	assert.Equal(t, "trace-42", msgs[0].Metadata.Get(dispatcher.PartitionKeyMetadataKey))
	assert.NotEmpty(t, msgs[0].UUID)
	assert.True(t, pub.closed)
}

func TestPartitionFromMetadata(t *testing.T) {
	msg := dispatcher.NewRecordMessage([]byte("trace-1"), []byte("payload"))
	key, err := partitionFromMetadata("any-topic", msg)
	require.NoError(t, err)
	assert.Equal(t, "trace-1", key)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092"}, splitBrokers("a:9092"))
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092 ,b:9092, "))
}
