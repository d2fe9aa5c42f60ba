package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"snag/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			runningKind := statusError
			runningMsg := "stopped"
			if status.Running {
				runningKind = statusOK
				runningMsg = fmt.Sprintf("pid %d", status.PID)
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, runningMsg, colorize))
			fmt.Fprintln(out, renderStatusLine("Queue DB", statusInfo, status.QueueDBPath, colorize))
			fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))

			fmt.Fprintln(out, renderSectionHeader("Stages", colorize))
			for _, health := range status.StageHealth {
				kind := statusOK
				message := "ready"
				if !health.Ready {
					kind = statusError
					message = health.Detail
				}
				fmt.Fprintln(out, renderStatusLine(health.Name, kind, message, colorize))
			}

			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			for _, dep := range status.Dependencies {
				kind := statusOK
				message := dep.Command
				if !dep.Available {
					kind = statusError
					if dep.Optional {
						kind = statusWarn
					}
					message = dep.Detail
				}
				fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
			}

			fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
			printQueueStats(cmd, status.QueueStats, colorize)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printQueueStats(cmd *cobra.Command, stats map[string]int, colorize bool) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kind := statusInfo
		if name == "failed" && stats[name] > 0 {
			kind = statusWarn
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine(name, kind, fmt.Sprintf("%d", stats[name]), colorize))
	}
}

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List available output presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			presets, err := client.Presets(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, presets)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPresetTable(presets))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderPresetTable(presets []api.Preset) string {
	rows := make([][]string, 0, len(presets))
	for _, p := range presets {
		rows = append(rows, []string{p.Name, p.Kind, p.Container, p.Description})
	}
	return renderTable([]string{"Name", "Kind", "Container", "Description"}, rows)
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification via the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.TestNotification(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			return nil
		},
	}
}
