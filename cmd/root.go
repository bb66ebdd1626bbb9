// Package cmd implements the command-line interface for the harvester.
// It provides the root command and subcommands for serving, working,
// scheduling, and inspecting crawl jobs.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/cmd/crawl"
	"github.com/jonesrussell/north-cloud/harvester/cmd/httpd"
	"github.com/jonesrussell/north-cloud/harvester/cmd/jobs"
	cmdscheduler "github.com/jonesrussell/north-cloud/harvester/cmd/scheduler"
	cmdsources "github.com/jonesrussell/north-cloud/harvester/cmd/sources"
	"github.com/jonesrussell/north-cloud/harvester/cmd/worker"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

// NewRootCommand builds the harvester command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Crawl orchestration and pagination-aware fetching",
		Long:          `Harvester runs crawl jobs over configured sources, following listing pagination and recording new documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String(common.KeyConfig, "", "config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "harvester version %s\n", version)
		},
	})

	rootCmd.AddCommand(
		httpd.Command(),
		worker.Command(),
		cmdscheduler.Command(),
		crawl.Command(),
		jobs.Command(),
		cmdsources.Command(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// bindFlags binds the persistent flags and HARVESTER_* variables to viper.
func bindFlags(cmd *cobra.Command) error {
	viper.SetEnvPrefix("HARVESTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	flags := cmd.Root().PersistentFlags()
	if err := viper.BindPFlag(common.KeyConfig, flags.Lookup(common.KeyConfig)); err != nil {
		return fmt.Errorf("failed to bind config flag: %w", err)
	}
	if err := viper.BindPFlag(common.KeyLogLevel, flags.Lookup("log-level")); err != nil {
		return fmt.Errorf("failed to bind log-level flag: %w", err)
	}
	return nil
}
