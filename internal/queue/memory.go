package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// MemoryQueue is an in-process Queue with one buffered lane per priority.
// Deliveries are not redelivered; Ack is a no-op.
type MemoryQueue struct {
	lanes map[Priority]chan *Delivery
	seq   atomic.Int64
	once  sync.Once
	done  chan struct{}
}

// NewMemoryQueue returns a queue holding up to capacity units per lane.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMaxStreamLen
	}
	q := &MemoryQueue{
		lanes: make(map[Priority]chan *Delivery, len(AllPriorities())),
		done:  make(chan struct{}),
	}
	for _, p := range AllPriorities() {
		q.lanes[p] = make(chan *Delivery, capacity)
	}
	return q
}

// Enqueue adds unit to its lane. It blocks while the lane is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, unit domain.WorkUnit, priority int) (string, error) {
	if _, err := encodeUnit(unit, PriorityNormal, time.Time{}); err != nil {
		return "", err
	}

	select {
	case <-q.done:
		return "", ErrClosed
	default:
	}

	lane := FromJobPriority(priority)
	d := &Delivery{
		ID:         "mem-" + strconv.FormatInt(q.seq.Add(1), 10),
		Unit:       unit,
		Priority:   lane,
		EnqueuedAt: time.Now().UTC(),
	}
	select {
	case q.lanes[lane] <- d:
		return d.ID, nil
	case <-q.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Read returns the next unit, taking from higher lanes first. It blocks
// until a unit arrives, the queue is closed, or ctx is done.
func (q *MemoryQueue) Read(ctx context.Context) ([]*Delivery, error) {
	for _, p := range AllPriorities() {
		select {
		case d := <-q.lanes[p]:
			return []*Delivery{d}, nil
		default:
		}
	}

	select {
	case d := <-q.lanes[PriorityHigh]:
		return []*Delivery{d}, nil
	case d := <-q.lanes[PriorityNormal]:
		return []*Delivery{d}, nil
	case d := <-q.lanes[PriorityLow]:
		return []*Delivery{d}, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued units.
func (q *MemoryQueue) Len() int {
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// QueueDepths reports the number of queued units per lane.
func (q *MemoryQueue) QueueDepths(context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(q.lanes))
	for p, lane := range q.lanes {
		depths[p] = int64(len(lane))
	}
	return depths, nil
}

// Close stops the queue. Queued units are discarded.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
