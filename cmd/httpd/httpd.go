// Package httpd implements the serve command, which runs the job API
// together with the workers and the scheduler.
package httpd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
)

// Command returns the serve command.
func Command() *cobra.Command {
	var noWorkers, noScheduler bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"httpd"},
		Short:   "Run the job API, workers, and scheduler",
		Long: `Serve starts the HTTP job API. Unless disabled, the same process also
consumes work units from the queue and fires configured schedules.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles := bootstrap.AllRoles
			roles.Workers = !noWorkers
			roles.Scheduler = !noScheduler
			return bootstrap.Start(cmd.Context(), common.Options(), roles)
		},
	}

	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not consume work units in this process")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not fire schedules in this process")
	return cmd
}
