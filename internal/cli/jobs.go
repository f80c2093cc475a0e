package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/absens/internal/ingest"
	"github.com/your-org/absens/internal/models"
)

func JobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry photo index jobs",
	}
	cmd.AddCommand(jobsListCmd(), jobsRetryCmd(), jobsRetryFailedCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List index jobs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			switch models.IndexJobStatus(status) {
			case "", models.IndexJobPending, models.IndexJobIndexed, models.IndexJobFailed, "stale":
			default:
				return fmt.Errorf("invalid status: %s\nValid statuses: pending, indexed, failed, stale", status)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer b.close()

			var jobs []models.IndexJob
			if status == "stale" {
				jobs, err = b.store.ListStaleIndexJobs(cmd.Context(), time.Now().Add(-cfg.Indexing.StaleAfter), limit)
			} else {
				jobs, err = b.store.ListIndexJobs(cmd.Context(), models.IndexJobStatus(status), limit)
			}
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No index jobs found.")
				return nil
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	cmd.Flags().StringP("status", "s", "", "filter by status (pending, indexed, failed, stale)")
	cmd.Flags().IntP("limit", "n", 50, "maximum jobs to list")
	return cmd
}

func jobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Re-dispatch one failed or stale pending index job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			rec, closeFn, err := reconciler(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := rec.Retry(cmd.Context(), id)
			if err != nil {
				return err
			}
			if job.Status == models.IndexJobFailed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s job %s reopened but dispatch failed: %s\n",
					color.New(color.FgYellow).Sprint("!"), job.ID, job.LastError)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s job %s dispatched (attempt %d)\n",
				color.New(color.FgGreen).Sprint("✓"), job.ID, job.Attempts)
			return nil
		},
	}
}

func jobsRetryFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-dispatch failed and stale pending index jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			rec, closeFn, err := reconciler(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := rec.RetryFailed(cmd.Context(), limit)
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "dispatched: %s  still failing: %s\n",
					color.New(color.FgGreen).Sprint(summary.Dispatched),
					color.New(color.FgRed).Sprint(summary.Failed))
			}
			return err
		},
	}
	cmd.Flags().IntP("limit", "n", 100, "maximum jobs to retry")
	return cmd
}

func reconciler(cmd *cobra.Command) (*ingest.Reconciler, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	b, err := openBackend(cmd.Context(), cfg, true)
	if err != nil {
		return nil, nil, err
	}
	d, err := b.dispatcher()
	if err != nil {
		b.close()
		return nil, nil, err
	}
	return ingest.NewReconciler(b.store, d, ingest.WithStaleAfter(cfg.Indexing.StaleAfter)), b.close, nil
}

func printJobs(out io.Writer, jobs []models.IndexJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tRECORD\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.Kind, j.RecordID, colorStatus(j.Status), j.Attempts, j.LastError)
	}
	w.Flush()
}

func colorStatus(s models.IndexJobStatus) string {
	switch s {
	case models.IndexJobIndexed:
		return color.New(color.FgGreen).Sprint(s)
	case models.IndexJobFailed:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}
