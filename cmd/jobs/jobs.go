// Package jobs implements the jobs command group for creating, inspecting,
// and cancelling crawl jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvester/cmd/common"
	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/harvester/internal/database"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
)

// Command returns the jobs command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Create, inspect, and cancel crawl jobs",
	}
	cmd.AddCommand(createCommand(), statusCommand(), cancelCommand(), listCommand())
	return cmd
}

// withClient opens a JobClient for the duration of fn.
func withClient(ctx context.Context, fn func(*bootstrap.JobClient) error) error {
	client, err := bootstrap.OpenJobClient(ctx, common.Options())
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func createCommand() *cobra.Command {
	var (
		priority int
		set      map[string]string
		wait     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create <source-id>...",
		Short: "Create a job over one or more sources and dispatch it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(client *bootstrap.JobClient) error {
				req := orchestrator.CreateJobRequest{
					SourceIDs: args,
					Trigger:   domain.TriggerManual,
				}
				if cmd.Flags().Changed("priority") {
					req.Priority = &priority
				}
				if len(set) > 0 {
					req.Overrides = make(map[string]any, len(set))
					for k, v := range set {
						req.Overrides[k] = v
					}
				}

				jobID, err := client.Orchestrator.CreateAndDispatchJob(cmd.Context(), req)
				if jobID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s created\n", jobID)
				}
				if err != nil {
					return err
				}
				if wait <= 0 {
					return nil
				}

				view, err := waitForJob(cmd.Context(), client.Orchestrator, jobID, wait)
				if view != nil {
					common.RenderJobStatus(cmd.OutOrStdout(), view)
				}
				return err
			})
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", domain.DefaultPriority, "job priority (0-10)")
	cmd.Flags().StringToStringVar(&set, "set", nil, "crawl overrides as key=value")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the job to finish")
	return cmd
}

const pollInterval = time.Second

var errWaitTimeout = errors.New("job did not finish before the wait timeout")

// waitForJob polls until the job is finalized or timeout elapses.
func waitForJob(ctx context.Context, o *orchestrator.Orchestrator, jobID string, timeout time.Duration) (*domain.JobStatusView, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		view, err := o.GetJobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if view.Job.IsFinalized() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, errWaitTimeout
		case <-ticker.C:
		}
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job and the result of each of its sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(client *bootstrap.JobClient) error {
				view, err := client.Orchestrator.GetJobStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				common.RenderJobStatus(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}
}

func cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(client *bootstrap.JobClient) error {
				cancelled, err := client.Orchestrator.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s is already finished or cancelled\n", args[0])
				}
				return nil
			})
		},
	}
}

func listCommand() *cobra.Command {
	var params database.ListJobsParams

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), func(client *bootstrap.JobClient) error {
				jobs, err := client.Jobs.ListJobs(cmd.Context(), params)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				common.RenderJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&params.Status, "status", "", "only jobs in this status")
	cmd.Flags().IntVar(&params.Limit, "limit", 0, "maximum jobs to list")
	cmd.Flags().IntVar(&params.Offset, "offset", 0, "jobs to skip")
	return cmd
}
