package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"snag/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var preset string
	var requesterContext string

	cmd := &cobra.Command{
		Use:   "submit <source-url>",
		Short: "Enqueue a source for fetching and transcoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Submit(cmd.Context(), api.SubmitRequest{
				SourceRef:        args[0],
				Preset:           preset,
				RequesterContext: requesterContext,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s, preset %s)\n", job.ID, job.SourceRef, job.Preset)
			return nil
		},
	}

	cmd.Flags().StringVarP(&preset, "preset", "p", "", "Output preset name (see `snag presets`)")
	cmd.Flags().StringVar(&requesterContext, "context", "", "Opaque requester context stored with the job")
	_ = cmd.MarkFlagRequired("preset")
	return cmd
}
