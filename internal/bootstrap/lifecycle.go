package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

// Runner is a long-running component that returns when ctx is done.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunUntilInterrupt runs every runner until SIGINT, SIGTERM, ctx cancellation,
// or the first runner error. The remaining runners are then cancelled and
// awaited, and the first error is returned.
func RunUntilInterrupt(ctx context.Context, log logger.Logger, runners ...Runner) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Starting component", logger.String("component", r.Name))
			err := r.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Component failed", logger.String("component", r.Name), logger.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			log.Info("Component stopped", logger.String("component", r.Name))
			// Any component stopping brings the process down.
			cancel()
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down")
	wg.Wait()
	return firstErr
}
