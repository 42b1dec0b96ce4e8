package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"durable-queue/internal/models"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the queue table and indexes if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			if err := st.Initialize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Queue table ready")
			return nil
		},
	}
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		payload    string
		metadata   string
		queue      string
		priority   int
		maxRetries int
		backoff    string
		backoffMS  int64
		timeout    time.Duration
		uniqueKey  string
		delay      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue TYPE",
		Short: "Add a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return errors.New("--payload is not valid JSON")
			}
			opts := models.EnqueueOptions{
				Queue:     queue,
				TimeoutMS: timeout.Milliseconds(),
				UniqueKey: uniqueKey,
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = models.IntPtr(priority)
			}
			if cmd.Flags().Changed("max-retries") {
				opts.MaxRetries = models.IntPtr(maxRetries)
			}
			if backoff != "" {
				opts.Backoff = &models.Backoff{Type: models.BackoffType(backoff), DelayMS: backoffMS}
			}
			if delay > 0 {
				runAt := time.Now().Add(delay)
				opts.RunAt = &runAt
			}
			if metadata != "" {
				if !json.Valid([]byte(metadata)) {
					return errors.New("--metadata is not valid JSON")
				}
				opts.Metadata = json.RawMessage(metadata)
			}

			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			job, err := st.Enqueue(cmd.Context(), args[0], json.RawMessage(payload), opts)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (%s) on %s\n", job.ID, job.Type, job.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "Job payload as JSON")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Job metadata as JSON")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue name")
	cmd.Flags().IntVarP(&priority, "priority", "p", models.DefaultPriority, "Priority 0 (highest) to 9")
	cmd.Flags().IntVar(&maxRetries, "max-retries", models.DefaultMaxRetries, "Attempts before dead-lettering")
	cmd.Flags().StringVar(&backoff, "backoff", "", "Backoff type: exponential, linear or fixed")
	cmd.Flags().Int64Var(&backoffMS, "backoff-delay-ms", 0, "Base backoff delay in milliseconds")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stall timeout (default 30s)")
	cmd.Flags().StringVar(&uniqueKey, "unique-key", "", "Deduplicate against pending/active jobs with this key")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes eligible")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var filter models.JobFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = models.Status(status)
			if status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			page, err := st.QueryJobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, page)
			}
			out := cmd.OutOrStdout()
			if len(page.Jobs) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}
			fmt.Fprintln(out, renderJobs(page.Jobs))
			fmt.Fprintf(out, "Page %d, showing %d of %d\n", page.Page, len(page.Jobs), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter.Queue, "queue", "q", "", "Filter by queue")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status")
	cmd.Flags().StringVarP(&filter.Type, "type", "t", "", "Filter by job type")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Page size (max 100)")
	return cmd
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			job, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			if ctx.jsonOut {
				return writeJSON(cmd, job)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJob(*job))
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			stats, err := st.GetStats(cmd.Context(), queue)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, stats)
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No queues")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Only this queue")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Move a dead job back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			job, err := st.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is pending again\n", job.ID)
			return nil
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a job regardless of status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			deleted, err := st.DeleteJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, map[string]bool{"deleted": deleted})
			}
			if !deleted {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var (
		status    string
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old jobs with a given status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			n, err := st.PurgeJobs(cmd.Context(), olderThan, models.Status(status))
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, map[string]int64{"purged": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d %s jobs older than %s\n", n, status, olderThan)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", string(models.StatusCompleted), "Status to purge")
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Minimum age since the job finished")
	return cmd
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return stalled active jobs to pending or dead",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd)
			if err != nil {
				return err
			}
			n, err := st.RecoverStalledJobs(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, map[string]int64{"recovered": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d stalled jobs\n", n)
			return nil
		},
	}
}
