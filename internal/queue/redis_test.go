package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

var _ queue.Queue = (*queue.RedisQueue)(nil)

func unitMessage(t *testing.T, id, jobID, sourceID string) redis.XMessage {
	t.Helper()

	data, err := json.Marshal(map[string]any{"job_id": jobID, "source_id": sourceID, "enqueued_at": time.Now().UTC()})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{queue.UnitField: string(data)}}
}

func newTestConsumer(t *testing.T, streams queue.Streams) *queue.Consumer {
	t.Helper()

	c, err := queue.NewConsumer(streams, queue.ConsumerConfig{Prefix: "test", ConsumerID: "w1"})
	require.NoError(t, err)
	return c
}

func TestFromJobPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		priority int
		want     queue.Priority
	}{
		{10, queue.PriorityHigh},
		{8, queue.PriorityHigh},
		{7, queue.PriorityNormal},
		{5, queue.PriorityNormal},
		{4, queue.PriorityNormal},
		{3, queue.PriorityLow},
		{0, queue.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, queue.FromJobPriority(tt.priority), "priority %d", tt.priority)
	}
}

func TestStreamName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "harvester:units:high", queue.StreamName("", queue.PriorityHigh))
	assert.Equal(t, "nc:units:low", queue.StreamName("nc", queue.PriorityLow))
}

func TestProducer_Enqueue(t *testing.T) {
	t.Parallel()

	streams := newFakeStreams()
	p := queue.NewProducer(streams, queue.ProducerConfig{Prefix: "test"})

	id, err := p.Enqueue(context.Background(), domain.WorkUnit{JobID: "job-1", SourceID: "src-1"}, 9)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	added := streams.added["test:units:high"]
	require.Len(t, added, 1)
	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(added[0][queue.UnitField].(string)), &msg))
	assert.Equal(t, "job-1", msg["job_id"])
	assert.Equal(t, "src-1", msg["source_id"])
	assert.Equal(t, "high", msg["priority"])

	depths, err := p.QueueDepths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[queue.PriorityHigh])
	assert.Zero(t, depths[queue.PriorityNormal])
}

func TestProducer_EnqueueRejectsIncompleteUnit(t *testing.T) {
	t.Parallel()

	p := queue.NewProducer(newFakeStreams(), queue.ProducerConfig{})
	_, err := p.Enqueue(context.Background(), domain.WorkUnit{JobID: "job-1"}, 5)
	require.Error(t, err)
}

func TestConsumer_Initialize(t *testing.T) {
	t.Parallel()

	streams := newFakeStreams()
	require.NoError(t, newTestConsumer(t, streams).Initialize(context.Background()))
	assert.Equal(t, []string{"test:units:high", "test:units:normal", "test:units:low"}, streams.groups)
}

func TestConsumer_ReadsHighPriorityFirst(t *testing.T) {
	t.Parallel()

	streams := newFakeStreams()
	streams.read = []redis.XStream{
		{Stream: "test:units:low", Messages: []redis.XMessage{unitMessage(t, "1-0", "job-low", "a")}},
		{Stream: "test:units:high", Messages: []redis.XMessage{unitMessage(t, "2-0", "job-high", "b")}},
	}
	c := newTestConsumer(t, streams)

	deliveries, err := c.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "job-high", deliveries[0].Unit.JobID)
	assert.Equal(t, queue.PriorityHigh, deliveries[0].Priority)
	assert.Equal(t, "job-low", deliveries[1].Unit.JobID)

	require.NoError(t, deliveries[1].Ack(context.Background()))
	assert.Equal(t, []string{"1-0"}, streams.acked["test:units:low"])
}

func TestConsumer_ReclaimsStaleUnitsBeforeReading(t *testing.T) {
	t.Parallel()

	streams := newFakeStreams()
	streams.pending["test:units:normal"] = []redis.XPendingExt{
		{ID: "5-0", Consumer: "dead-worker", Idle: 11 * time.Minute},
		{ID: "6-0", Consumer: "live-worker", Idle: time.Second},
	}
	streams.claims["test:units:normal"] = []redis.XMessage{unitMessage(t, "5-0", "job-1", "src-1")}
	c := newTestConsumer(t, streams)

	deliveries, err := c.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "5-0", deliveries[0].ID)
	assert.Equal(t, []string{"5-0"}, streams.claimed)
	assert.Zero(t, streams.readN, "a reclaim round does not read new messages")
}

func TestConsumer_AcksMalformedMessages(t *testing.T) {
	t.Parallel()

	streams := newFakeStreams()
	streams.read = []redis.XStream{{
		Stream: "test:units:normal",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{queue.UnitField: "{not json"}},
			unitMessage(t, "2-0", "job-1", "src-1"),
		},
	}}
	c := newTestConsumer(t, streams)

	deliveries, err := c.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "2-0", deliveries[0].ID)
	assert.Equal(t, []string{"1-0"}, streams.acked["test:units:normal"])
}

func TestConsumer_NoMessages(t *testing.T) {
	t.Parallel()

	streams := newFakeStreams()
	streams.readErr = redis.Nil
	deliveries, err := newTestConsumer(t, streams).Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestNewConsumer_RequiresID(t *testing.T) {
	t.Parallel()

	_, err := queue.NewConsumer(newFakeStreams(), queue.ConsumerConfig{})
	require.Error(t, err)
}
