package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), listStatuses)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					truncate(jobTitle(job), 48),
					job.Preset,
					job.Status,
					strconv.Itoa(job.Attempts),
					formatTimestamp(job.QueuedAt),
					truncate(jobError(job), 40),
				})
			}
			table := renderTable(
				[]string{"ID", "Title", "Preset", "Status", "Attempts", "Queued", "Error"},
				rows,
				0, 4,
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <jobID>",
		Short: "Show details for a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.DescribeJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %d\n", job.ID)
			fmt.Fprintf(out, "  Source:    %s\n", job.SourceRef)
			fmt.Fprintf(out, "  Preset:    %s\n", job.Preset)
			fmt.Fprintf(out, "  Status:    %s\n", job.Status)
			fmt.Fprintf(out, "  Attempts:  %d\n", job.Attempts)
			if job.DisplayTitle != "" {
				fmt.Fprintf(out, "  Title:     %s\n", job.DisplayTitle)
			}
			if job.OutputFile != "" {
				fmt.Fprintf(out, "  Output:    %s\n", job.OutputFile)
			}
			if detail := jobError(job); detail != "" {
				fmt.Fprintf(out, "  Error:     %s\n", detail)
			}
			if job.CancelRequested {
				fmt.Fprintln(out, "  Cancellation requested")
			}
			fmt.Fprintf(out, "  Queued:    %s\n", formatTimestamp(job.QueuedAt))
			fmt.Fprintf(out, "  Updated:   %s\n", formatTimestamp(job.UpdatedAt))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --completed or --failed")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			scope := "all"
			switch {
			case clearCompleted:
				scope = "completed"
			case clearFailed:
				scope = "failed"
			}
			removed, err := client.ClearQueue(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed jobs")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [jobID...]",
		Short: "Requeue failed jobs with a fresh attempt budget",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			updated, err := client.RetryFailed(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed jobs\n", updated)
			return nil
		},
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return in-flight jobs to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			updated, err := client.ResetStuck(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d jobs\n", updated)
			return nil
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show queue health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.QueueHealth(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, health)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nQueued: %d\nProcessing: %d\nCompleted: %d\nFailed: %d\nCancelled: %d\n",
				health.Total,
				health.Queued,
				health.Processing,
				health.Completed,
				health.Failed,
				health.Cancelled,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
