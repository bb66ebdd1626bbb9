// Package queue is the execution substrate for work units: Redis Streams for
// production, Kafka as an alternative backend, and an in-process queue for
// local crawls and tests. Every backend delivers a unit at least once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// ErrClosed is returned by a queue after Close.
var ErrClosed = errors.New("queue closed")

// Delivery is one received work unit. Ack it once the unit has been handled;
// an unacknowledged delivery is redelivered.
type Delivery struct {
	ID         string
	Unit       domain.WorkUnit
	Priority   Priority
	EnqueuedAt time.Time

	// ack is set by the backend that produced the delivery.
	ack func(ctx context.Context) error
}

// NewDelivery builds a delivery whose Ack calls ack.
func NewDelivery(id string, unit domain.WorkUnit, priority Priority, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{ID: id, Unit: unit, Priority: priority, EnqueuedAt: time.Now().UTC(), ack: ack}
}

// Ack acknowledges the delivery.
func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Queue is a work-unit queue. Enqueue satisfies the orchestrator's dispatcher.
type Queue interface {
	// Enqueue submits unit with a job priority in [0, 10] and returns a
	// backend handle for the message.
	Enqueue(ctx context.Context, unit domain.WorkUnit, priority int) (string, error)
	// Read blocks until deliveries are available, the backend's poll interval
	// elapses (returning none), or ctx is done.
	Read(ctx context.Context) ([]*Delivery, error)
	Close() error
}

// message is the wire form shared by every backend.
type message struct {
	JobID      string    `json:"job_id"`
	SourceID   string    `json:"source_id"`
	Priority   string    `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeUnit(unit domain.WorkUnit, p Priority, now time.Time) ([]byte, error) {
	if unit.JobID == "" || unit.SourceID == "" {
		return nil, fmt.Errorf("work unit needs a job and a source: %+v", unit)
	}
	return json.Marshal(message{
		JobID:      unit.JobID,
		SourceID:   unit.SourceID,
		Priority:   p.String(),
		EnqueuedAt: now.UTC(),
	})
}

func decodeUnit(data []byte) (message, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to unmarshal work unit: %w", err)
	}
	if m.JobID == "" || m.SourceID == "" {
		return m, errors.New("work unit is missing job_id or source_id")
	}
	return m, nil
}

func (m message) unit() domain.WorkUnit {
	return domain.WorkUnit{JobID: m.JobID, SourceID: m.SourceID}
}
