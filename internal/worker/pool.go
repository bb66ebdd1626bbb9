package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is actively processing units.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining
)

// ErrPoolNotRunning is returned by Submit outside Start and Stop.
var ErrPoolNotRunning = errors.New("pool is not running")

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Pool runs work units on a fixed number of workers.
type Pool struct {
	config  Config
	workers []*Worker
	logger  logger.Logger
	state   atomic.Int32
	sem     chan struct{} // Semaphore for bounded concurrency
	wg      sync.WaitGroup
	stopCh  chan struct{}
	// runCtx is cancelled when the drain timeout expires.
	runCtx    context.Context
	runCancel context.CancelFunc

	totalProcessed atomic.Int64
	totalFailed    atomic.Int64
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, handler Handler, log logger.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{
		config:  cfg,
		logger:  log,
		workers: make([]*Worker, cfg.PoolSize),
		sem:     make(chan struct{}, cfg.PoolSize),
	}
	for i := range cfg.PoolSize {
		p.workers[i] = NewWorker(i, handler, cfg.UnitTimeout, log)
	}
	p.state.Store(int32(PoolStateStopped))

	return p, nil
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	p.stopCh = make(chan struct{})
	p.runCtx, p.runCancel = context.WithCancel(context.Background())
	p.logger.Info("Worker pool started", logger.Int("pool_size", p.config.PoolSize))

	return nil
}

// Stop stops accepting units and waits up to the drain timeout for running
// ones. Units still running after that are cancelled and left unacknowledged.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return ErrPoolNotRunning
	}

	p.logger.Info("Worker pool draining")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop interrupted")
	case <-timer.C:
		p.logger.Warn("Worker pool drain timeout exceeded", logger.Int("busy", p.BusyCount()))
	}

	p.runCancel()
	<-done
	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Submit hands d to an idle worker, blocking while every worker is busy.
func (p *Pool) Submit(ctx context.Context, d *queue.Delivery) error {
	if p.State() != PoolStateRunning {
		return ErrPoolNotRunning
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return errors.New("pool is stopping")
	}

	worker := p.acquireWorker()
	if worker == nil {
		<-p.sem
		return errors.New("no idle worker available")
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		err := worker.Process(p.runCtx, d)
		p.totalProcessed.Add(1)
		if err != nil {
			p.totalFailed.Add(1)
		}
	}()

	return nil
}

// acquireWorker reserves an idle worker. The semaphore guarantees one exists.
func (p *Pool) acquireWorker() *Worker {
	for _, w := range p.workers {
		if w.state.CompareAndSwap(int32(WorkerStateIdle), int32(workerStateReserved)) {
			return w
		}
	}
	return nil
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// BusyCount returns the number of busy workers.
func (p *Pool) BusyCount() int {
	count := 0
	for _, w := range p.workers {
		if !w.IsIdle() {
			count++
		}
	}
	return count
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		workerStats[i] = w.Stats()
	}

	busy := p.BusyCount()
	return PoolStats{
		State:          p.State(),
		PoolSize:       p.config.PoolSize,
		BusyWorkers:    busy,
		IdleWorkers:    p.config.PoolSize - busy,
		UnitsProcessed: p.totalProcessed.Load(),
		UnitsFailed:    p.totalFailed.Load(),
		Workers:        workerStats,
	}
}

// PoolStats holds statistics for the pool.
type PoolStats struct {
	State          PoolState
	PoolSize       int
	BusyWorkers    int
	IdleWorkers    int
	UnitsProcessed int64
	UnitsFailed    int64
	Workers        []WorkerStats
}

// Run reads deliveries from q and submits them until ctx is done, then
// drains the pool. Read errors are logged and retried after a backoff.
func (p *Pool) Run(ctx context.Context, q queue.Queue) error {
	if err := p.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), p.config.DrainTimeout)
		defer cancel()
		_ = p.Stop(stopCtx)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, err := q.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			p.logger.Warn("Queue read failed", logger.Error(err))
			if !sleep(ctx, p.config.ReadBackoff) {
				return nil
			}
			continue
		}

		for _, d := range deliveries {
			if submitErr := p.Submit(ctx, d); submitErr != nil {
				// Unsubmitted deliveries stay unacknowledged and are redelivered.
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("submit unit: %w", submitErr)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
