package queue_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeStreams records calls and serves canned replies.
type fakeStreams struct {
	mu sync.Mutex

	added   map[string][]map[string]any
	acked   map[string][]string
	groups  []string
	read    []redis.XStream
	readErr error
	pending map[string][]redis.XPendingExt
	claims  map[string][]redis.XMessage
	claimed []string
	readN   int
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		added:   map[string][]map[string]any{},
		acked:   map[string][]string{},
		pending: map[string][]redis.XPendingExt{},
		claims:  map[string][]redis.XMessage{},
	}
}

func (f *fakeStreams) XAdd(_ context.Context, stream string, _ int64, values map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[stream] = append(f.added[stream], values)
	return fmt.Sprintf("1700000000000-%d", len(f.added[stream])), nil
}

func (f *fakeStreams) XReadGroup(
	_ context.Context, _, _ string, _ []string, _ int64, _ time.Duration,
) ([]redis.XStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readN++
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.read, nil
}

func (f *fakeStreams) XAck(_ context.Context, stream, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[stream] = append(f.acked[stream], ids...)
	return nil
}

func (f *fakeStreams) XPendingExt(_ context.Context, stream, _ string, _ int64) ([]redis.XPendingExt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[stream], nil
}

func (f *fakeStreams) XClaim(
	_ context.Context, stream, _, _ string, _ time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, ids...)
	return f.claims[stream], nil
}

func (f *fakeStreams) XLen(_ context.Context, stream string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.added[stream])), nil
}

func (f *fakeStreams) CreateConsumerGroup(_ context.Context, stream, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, stream)
	return nil
}
