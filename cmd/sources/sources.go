// Package sources implements the sources command group.
package sources

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
)

// Command returns the sources command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage crawl sources",
	}
	cmd.AddCommand(listCommand(), addCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := bootstrap.OpenJobClient(cmd.Context(), common.Options())
			if err != nil {
				return err
			}
			defer client.Close()

			sources, err := client.Sources.ListSources(cmd.Context(), enabledOnly)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources found")
				return nil
			}
			common.RenderSources(cmd.OutOrStdout(), sources)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled sources")
	return cmd
}

func addCommand() *cobra.Command {
	var (
		id       string
		name     string
		disabled bool
		rawCfg   string
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add or update a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fetcher.ParseURL(args[0]); err != nil {
				return err
			}
			src := &domain.Source{
				ID:      id,
				Name:    name,
				URL:     args[0],
				Enabled: !disabled,
			}
			if src.ID == "" {
				src.ID = uuid.NewString()
			}
			if src.Name == "" {
				src.Name = domain.DomainOf(src.URL)
			}
			if rawCfg != "" {
				if err := json.Unmarshal([]byte(rawCfg), &src.CrawlerConfig); err != nil {
					return fmt.Errorf("parse --config-json: %w", err)
				}
			}

			client, err := bootstrap.OpenJobClient(cmd.Context(), common.Options())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Sources.Upsert(cmd.Context(), src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source %s saved (%s)\n", src.ID, src.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "source id (default is a new UUID)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default is the URL's domain)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the source disabled")
	cmd.Flags().StringVar(&rawCfg, "config-json", "", "source crawler config as a JSON object")
	return cmd
}
