// Package worker implements the worker command.
package worker

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
)

// Command returns the worker command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume and run work units from the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Start(cmd.Context(), common.Options(), bootstrap.Roles{Workers: true})
		},
	}
}
