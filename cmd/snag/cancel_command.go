package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"snag/internal/queue"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobID>",
		Short: "Cancel a queued or in-flight job",
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
			result, err := client.CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch queue.CancelResult(result) {
			case queue.CancelImmediate:
				fmt.Fprintf(out, "Job %d cancelled\n", id)
			case queue.CancelRequested:
				fmt.Fprintf(out, "Job %d is in flight; cancellation will take effect at the next stage boundary\n", id)
			case queue.CancelTerminal:
				fmt.Fprintf(out, "Job %d already finished\n", id)
			default:
				fmt.Fprintf(out, "Job %d: %s\n", id, result)
			}
			return nil
		},
	}
}
