// Package crawl implements the crawl command, a one-off in-process crawl of
// a single listing URL.
package crawl

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
)

// overrideFlags maps flag names to crawl configuration keys.
var overrideFlags = map[string]string{
	"max-pages":     "max_pages",
	"max-articles":  "max_articles",
	"strategy":      "strategy",
	"transport":     "transport",
	"delay":         "delay",
	"link-selector": "link_selector",
	"next-selector": "next_selector",
	"robots":        "respect_robots",
}

// Command returns the crawl command.
func Command() *cobra.Command {
	var (
		set    map[string]string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl one listing URL in-process and print what was found",
		Long: `Crawl runs a single-source job against in-memory stores. It fetches
the listing, follows pagination, and prints the job result and the
documents discovered. Nothing is written to the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap.NewCommandDeps(common.Options())
			if err != nil {
				return err
			}
			defer func() { _ = deps.Logger.Sync() }()

			overrides := Overrides(cmd.Flags(), set)
			result, err := bootstrap.RunLocalCrawl(cmd.Context(), deps, bootstrap.LocalCrawlRequest{
				URL:       args[0],
				Overrides: overrides,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			common.RenderJobStatus(out, result.Status)
			if len(result.Documents) > 0 {
				fmt.Fprintln(out)
				common.RenderDocuments(out, result.Documents)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("max-pages", 0, "maximum listing pages to fetch")
	flags.Int("max-articles", 0, "stop after this many new documents")
	flags.String("strategy", "", "pagination strategy (adaptive, next_link, parameter, path, offset)")
	flags.String("transport", "", "page transport (http, colly)")
	flags.Duration("delay", 0, "minimum delay between requests to the host")
	flags.String("link-selector", "", "CSS selector for document links")
	flags.String("next-selector", "", "CSS selector for the next-page link")
	flags.Bool("robots", true, "respect robots.txt")
	flags.StringToStringVar(&set, "set", nil, "extra crawl settings as key=value")
	flags.BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// Overrides builds job overrides from the flags the user changed plus any
// --set pairs. Unchanged flags are left to the lower configuration layers.
func Overrides(flags *pflag.FlagSet, set map[string]string) map[string]any {
	out := make(map[string]any, len(set))
	for k, v := range set {
		out[k] = parseScalar(v)
	}
	flags.Visit(func(f *pflag.Flag) {
		key, ok := overrideFlags[f.Name]
		if !ok {
			return
		}
		out[key] = parseScalar(f.Value.String())
	})
	return out
}

func parseScalar(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
