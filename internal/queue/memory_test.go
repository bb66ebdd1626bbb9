package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

var _ queue.Queue = (*queue.MemoryQueue)(nil)

func TestMemoryQueue_PriorityOrder(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue(8)
	ctx := context.Background()

	for _, tc := range []struct {
		source   string
		priority int
	}{{"low", 1}, {"normal", 5}, {"high", 10}} {
		_, err := q.Enqueue(ctx, domain.WorkUnit{JobID: "job-1", SourceID: tc.source}, tc.priority)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, q.Len())

	var order []string
	for range 3 {
		deliveries, err := q.Read(ctx)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		require.NoError(t, deliveries[0].Ack(ctx))
		order = append(order, deliveries[0].Unit.SourceID)
	}
	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestMemoryQueue_CloseUnblocksRead(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue(1)
	errs := make(chan error, 1)
	go func() {
		_, err := q.Read(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}

	_, err := q.Enqueue(context.Background(), domain.WorkUnit{JobID: "j", SourceID: "s"}, 5)
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestMemoryQueue_ReadHonoursContext(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
