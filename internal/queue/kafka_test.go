package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

var _ queue.Queue = (*queue.KafkaQueue)(nil)

// loopback hands written messages straight to the reader side.
type loopback struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []kafka.Message
	offset    int64
}

func newLoopback() *loopback {
	return &loopback{messages: make(chan kafka.Message, 16)}
}

func (l *loopback) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		m.Topic = "units"
		m.Offset = l.offset
		l.offset++
		l.messages <- m
	}
	return nil
}

func (l *loopback) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-l.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (l *loopback) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = append(l.committed, msgs...)
	return nil
}

func (l *loopback) Close() error { return nil }

func (l *loopback) commits() []kafka.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]kafka.Message(nil), l.committed...)
}

func newKafkaQueue(l *loopback) *queue.KafkaQueue {
	return queue.NewKafkaQueueWithClients(l, l, queue.KafkaConfig{Topic: "units", Poll: 20 * time.Millisecond})
}

func TestKafkaQueue_RoundTrip(t *testing.T) {
	t.Parallel()

	l := newLoopback()
	q := newKafkaQueue(l)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, domain.WorkUnit{JobID: "job-1", SourceID: "src-1"}, 2)
	require.NoError(t, err)
	assert.Contains(t, handle, "kafka:")

	deliveries, err := q.Read(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	d := deliveries[0]
	assert.Equal(t, domain.WorkUnit{JobID: "job-1", SourceID: "src-1"}, d.Unit)
	assert.Equal(t, queue.PriorityLow, d.Priority)
	assert.Equal(t, "units/0/0", d.ID)
	assert.Empty(t, l.commits(), "nothing is committed before ack")

	require.NoError(t, d.Ack(ctx))
	require.Len(t, l.commits(), 1)
	assert.Equal(t, []byte("job-1"), l.commits()[0].Key)
}

func TestKafkaQueue_ReadTimesOutEmpty(t *testing.T) {
	t.Parallel()

	deliveries, err := newKafkaQueue(newLoopback()).Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestKafkaQueue_ReadReturnsContextError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newKafkaQueue(newLoopback()).Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestKafkaQueue_SkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	l := newLoopback()
	q := newKafkaQueue(l)
	ctx := context.Background()

	require.NoError(t, l.WriteMessages(ctx, kafka.Message{Value: []byte("garbage")}))
	_, err := q.Enqueue(ctx, domain.WorkUnit{JobID: "job-2", SourceID: "src-2"}, 5)
	require.NoError(t, err)

	deliveries, err := q.Read(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "job-2", deliveries[0].Unit.JobID)
	require.Len(t, l.commits(), 1, "the malformed message is committed away")
	assert.Equal(t, int64(0), l.commits()[0].Offset)
}
