// Package producer implements the asynchronous, internally-batching Kinesis
// delivery client used by the kinesis dispatcher. Records are buffered in
// process, shipped in PutRecords batches by a worker goroutine, and each
// submission resolves through a Future once its retries settle.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// ErrDestroyed is returned by AddRecord after Destroy.
var ErrDestroyed = errors.New("producer: destroyed")

// KinesisAPI is the slice of the Kinesis client the producer needs.
type KinesisAPI interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

type pending struct {
	stream   string
	key      string
	data     []byte
	future   *Future
	attempts []Attempt
	lastTry  time.Time
}

// Producer batches and ships records asynchronously. The outstanding-record
// count is live: it covers every accepted record whose future has not yet
// resolved.
type Producer struct {
	cfg    Config
	client KinesisAPI

	mu        sync.Mutex
	cond      *sync.Cond
	buf       []*pending
	destroyed bool

	outstanding atomic.Int64
	wg          sync.WaitGroup
}

// New starts a producer over the given client.
func New(cfg Config, client KinesisAPI) (*Producer, error) {
	if client == nil {
		return nil, fmt.Errorf("producer: kinesis client is required")
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatchSize {
		return nil, fmt.Errorf("producer: batch size must be in [1, %d], got %d", maxBatchSize, cfg.BatchSize)
	}

	p := &Producer{cfg: cfg, client: client}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// AddRecord buffers one record for delivery and returns its completion
// handle. It never blocks on network I/O.
func (p *Producer) AddRecord(stream, partitionKey string, data []byte) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return nil, ErrDestroyed
	}

	rec := &pending{
		stream:  stream,
		key:     partitionKey,
		data:    data,
		future:  newFuture(),
		lastTry: time.Now(),
	}
	p.outstanding.Add(1)
	p.buf = append(p.buf, rec)
	p.cond.Broadcast()
	return rec.future, nil
}

// OutstandingRecordsCount returns the live count of unresolved records.
func (p *Producer) OutstandingRecordsCount() int64 {
	return p.outstanding.Load()
}

// FlushSync blocks until every accepted record's future has resolved.
func (p *Producer) FlushSync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.outstanding.Load() > 0 {
		p.cond.Wait()
	}
}

// Destroy stops the worker after it drains the remaining buffer. AddRecord
// fails afterwards. Safe to call more than once.
func (p *Producer) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Producer) run() {
	defer p.wg.Done()
	for {
		batch, ok := p.take()
		if !ok {
			return
		}
		p.send(batch)
	}
}

// take waits for buffered records and returns up to one batch. It reports
// false once the producer is destroyed and the buffer is empty.
func (p *Producer) take() ([]*pending, bool) {
	p.mu.Lock()
	for len(p.buf) == 0 && !p.destroyed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return nil, false
	}

	// Coalesce a partial batch for one flush interval unless shutting down.
	if len(p.buf) < p.cfg.BatchSize && !p.destroyed {
		p.mu.Unlock()
		time.Sleep(p.cfg.FlushInterval)
		p.mu.Lock()
	}

	n := min(len(p.buf), p.cfg.BatchSize)
	batch := p.buf[:n:n]
	p.buf = p.buf[n:]
	p.mu.Unlock()
	return batch, true
}

func (p *Producer) send(batch []*pending) {
	byStream := make(map[string][]*pending)
	for _, rec := range batch {
		byStream[rec.stream] = append(byStream[rec.stream], rec)
	}
	for stream, recs := range byStream {
		p.sendStream(stream, recs)
	}
}

func (p *Producer) sendStream(stream string, recs []*pending) {
	remaining := recs
	for try := 0; ; try++ {
		start := time.Now()
		entries := make([]types.PutRecordsRequestEntry, len(remaining))
		for i, rec := range remaining {
			entries[i] = types.PutRecordsRequestEntry{
				Data:         rec.data,
				PartitionKey: aws.String(rec.key),
			}
		}

		out, err := p.client.PutRecords(context.Background(), &kinesis.PutRecordsInput{
			StreamName: aws.String(stream),
			Records:    entries,
		})
		took := time.Since(start)

		var failed []*pending
		if err != nil {
			for _, rec := range remaining {
				rec.recordAttempt(start, took, "RequestError", err.Error())
				failed = append(failed, rec)
			}
		} else {
			for i, rec := range remaining {
				entry := out.Records[i]
				if code := aws.ToString(entry.ErrorCode); code != "" {
					rec.recordAttempt(start, took, code, aws.ToString(entry.ErrorMessage))
					failed = append(failed, rec)
					continue
				}
				rec.recordAttempt(start, took, "", "")
				p.finish(rec, &RecordResult{
					Successful:     true,
					ShardID:        aws.ToString(entry.ShardId),
					SequenceNumber: aws.ToString(entry.SequenceNumber),
					Attempts:       rec.attempts,
				}, nil)
			}
		}

		if len(failed) == 0 {
			return
		}
		if try >= p.cfg.RecordMaxRetries {
			for _, rec := range failed {
				result := &RecordResult{Successful: false, Attempts: rec.attempts}
				p.finish(rec, nil, &RecordFailedError{Result: result})
			}
			return
		}
		remaining = failed
		time.Sleep(p.cfg.BackoffInterval)
	}
}

// finish resolves the record's future before decrementing the outstanding
// count, so FlushSync returning implies every future has resolved.
func (p *Producer) finish(rec *pending, result *RecordResult, err error) {
	rec.future.resolve(result, err)
	p.outstanding.Add(-1)

	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (rec *pending) recordAttempt(start time.Time, took time.Duration, code, msg string) {
	rec.attempts = append(rec.attempts, Attempt{
		Delay:        start.Sub(rec.lastTry),
		Duration:     took,
		ErrorCode:    code,
		ErrorMessage: msg,
	})
	rec.lastTry = time.Now()
}
