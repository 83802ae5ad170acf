package dispatcher

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid/v2"
)

// PartitionKeyMetadataKey carries the record's partition key on watermill
// messages, for backends whose transport supports key-based partitioning.
const PartitionKeyMetadataKey = "partition_key"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewRecordMessage wraps one dispatch record in a watermill message with a
// time-sortable ULID and the partition key as metadata.
func NewRecordMessage(partitionKey, payload []byte) *message.Message {
	msg := message.NewMessage(newULID(), payload)
	if len(partitionKey) > 0 {
		msg.Metadata.Set(PartitionKeyMetadataKey, string(partitionKey))
	}
	return msg
}
