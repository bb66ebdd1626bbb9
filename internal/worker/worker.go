package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

// WorkerState represents the current state of a worker.
type WorkerState int32

const (
	// WorkerStateIdle means the worker is waiting for work.
	WorkerStateIdle WorkerState = iota

	// WorkerStateBusy means the worker is processing a unit.
	WorkerStateBusy

	// workerStateReserved means the pool has picked the worker for a unit.
	workerStateReserved
)

// String returns the string representation of a worker state.
func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	case workerStateReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// Handler runs one work unit. A nil error acknowledges the delivery; any
// error leaves it for redelivery. Orchestrator.RunOne satisfies it.
type Handler func(ctx context.Context, unit domain.WorkUnit) error

// Worker is one slot of the pool.
type Worker struct {
	id          int
	state       atomic.Int32
	handler     Handler
	unitTimeout time.Duration
	logger      logger.Logger

	unitsProcessed atomic.Int64
	unitsFailed    atomic.Int64
	lastUnitAt     atomic.Int64
	lastError      atomic.Value

	currentUnit   atomic.Value
	unitStartedAt atomic.Int64
}

// NewWorker creates a new worker.
func NewWorker(id int, handler Handler, unitTimeout time.Duration, log logger.Logger) *Worker {
	w := &Worker{
		id:          id,
		handler:     handler,
		unitTimeout: unitTimeout,
		logger:      log,
	}
	w.state.Store(int32(WorkerStateIdle))
	return w
}

// ID returns the worker ID.
func (w *Worker) ID() int {
	return w.id
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// IsIdle returns true if the worker is idle.
func (w *Worker) IsIdle() bool {
	return w.State() == WorkerStateIdle
}

// IsBusy returns true if the worker is busy.
func (w *Worker) IsBusy() bool {
	return w.State() == WorkerStateBusy
}

// Process runs the delivery's unit and acknowledges it on success.
func (w *Worker) Process(ctx context.Context, d *queue.Delivery) error {
	if d == nil {
		return fmt.Errorf("worker %d: delivery cannot be nil", w.id)
	}
	if !w.state.CompareAndSwap(int32(workerStateReserved), int32(WorkerStateBusy)) &&
		!w.state.CompareAndSwap(int32(WorkerStateIdle), int32(WorkerStateBusy)) {
		return fmt.Errorf("worker %d: not idle, current state: %s", w.id, w.State())
	}

	w.currentUnit.Store(d.Unit)
	w.unitStartedAt.Store(time.Now().UnixNano())
	defer func() {
		w.currentUnit.Store(domain.WorkUnit{})
		w.unitStartedAt.Store(0)
		w.state.Store(int32(WorkerStateIdle))
	}()

	log := w.logger.With(
		logger.Int("worker_id", w.id),
		logger.String("job_id", d.Unit.JobID),
		logger.String("source_id", d.Unit.SourceID),
		logger.String("delivery_id", d.ID),
	)

	unitCtx, cancel := context.WithTimeout(ctx, w.unitTimeout)
	defer cancel()

	log.Debug("Worker processing unit")
	start := time.Now()
	err := w.handler(unitCtx, d.Unit)
	duration := time.Since(start)

	w.unitsProcessed.Add(1)
	w.lastUnitAt.Store(time.Now().UnixNano())

	if err != nil {
		w.unitsFailed.Add(1)
		w.lastError.Store(err)
		log.Warn("Unit not acknowledged, it will be redelivered",
			logger.Duration("duration", duration),
			logger.Error(err),
		)
		return fmt.Errorf("worker %d: unit %s/%s: %w", w.id, d.Unit.JobID, d.Unit.SourceID, err)
	}

	// Ack on a detached context: the outcome is already recorded.
	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer ackCancel()
	if ackErr := d.Ack(ackCtx); ackErr != nil {
		log.Error("Failed to acknowledge unit", logger.Error(ackErr))
		return fmt.Errorf("worker %d: ack %s: %w", w.id, d.ID, ackErr)
	}

	log.Debug("Worker finished unit", logger.Duration("duration", duration))
	return nil
}

const ackTimeout = 5 * time.Second

// Stats returns the worker's statistics.
func (w *Worker) Stats() WorkerStats {
	var lastErr error
	if v := w.lastError.Load(); v != nil {
		lastErr, _ = v.(error)
	}

	var current domain.WorkUnit
	if v := w.currentUnit.Load(); v != nil {
		current, _ = v.(domain.WorkUnit)
	}

	var lastUnitTime time.Time
	if ts := w.lastUnitAt.Load(); ts > 0 {
		lastUnitTime = time.Unix(0, ts)
	}

	var startTime time.Time
	if ts := w.unitStartedAt.Load(); ts > 0 {
		startTime = time.Unix(0, ts)
	}

	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		UnitsProcessed: w.unitsProcessed.Load(),
		UnitsFailed:    w.unitsFailed.Load(),
		LastUnitAt:     lastUnitTime,
		LastError:      lastErr,
		CurrentUnit:    current,
		UnitStartedAt:  startTime,
	}
}

// WorkerStats holds statistics for a worker.
type WorkerStats struct {
	ID             int
	State          WorkerState
	UnitsProcessed int64
	UnitsFailed    int64
	LastUnitAt     time.Time
	LastError      error
	CurrentUnit    domain.WorkUnit
	UnitStartedAt  time.Time
}
