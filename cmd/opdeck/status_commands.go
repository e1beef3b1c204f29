package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current status of every known device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusRequest(ctx, cmd, "/device-status")
		},
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Force a re-scan of all devices and show the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusRequest(ctx, cmd, "/refresh-device-scan")
		},
	}
}

func runStatusRequest(ctx *commandContext, cmd *cobra.Command, path string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	statuses := map[string]deviceStatus{}
	if err := newAPIClient(cfg).getJSON(cmd.Context(), path, &statuses); err != nil {
		return err
	}

	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		status := statuses[id]
		rows = append(rows, []string{
			status.DeviceName,
			yesNo(status.Connected),
			yesNo(status.USBDetected),
			orDash(status.Mode),
			orDash(status.Path),
			formatUsage(status),
		})
	}

	out := renderTable(
		[]string{"Device", "Connected", "USB", "Mode", "Path", "Free"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func formatUsage(status deviceStatus) string {
	if status.Storage == nil {
		return "-"
	}
	return fmt.Sprintf("%s / %s", formatBytes(status.Storage.FreeBytes), formatBytes(status.Storage.TotalBytes))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
