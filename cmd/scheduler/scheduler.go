// Package scheduler implements the schedule command.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/harvester/internal/scheduler"
)

// Command returns the schedule command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Fire configured schedules as crawl jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Start(cmd.Context(), common.Options(), bootstrap.Roles{Scheduler: true})
		},
	}
	cmd.AddCommand(nextCommand())
	return cmd
}

func nextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show when each configured schedule fires next",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(common.Options().ConfigPath)
			if err != nil {
				return err
			}
			if len(cfg.Schedules) == 0 {
				return errors.New("no schedules configured")
			}
			sched, err := scheduler.New(noopCreator{}, cfg.Schedules, nil)
			if err != nil {
				return err
			}
			defer sched.Stop()

			common.RenderNextRuns(cmd.OutOrStdout(), sched.NextRuns(time.Now()))
			return nil
		},
	}
}

// noopCreator lets next parse schedules without connecting to anything.
type noopCreator struct{}

func (noopCreator) CreateAndDispatchJob(_ context.Context, _ orchestrator.CreateJobRequest) (string, error) {
	return "", domain.ErrInvalidJobRequest
}
