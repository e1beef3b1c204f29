package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent device status changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var payload struct {
				Events []historyEvent `json:"events"`
			}
			path := fmt.Sprintf("/device-history?limit=%d", limit)
			if err := newAPIClient(cfg).getJSON(cmd.Context(), path, &payload); err != nil {
				return err
			}

			rows := make([][]string, 0, len(payload.Events))
			for _, event := range payload.Events {
				mode := event.Mode
				if mode == "" {
					mode = "-"
				}
				eventPath := event.Path
				if eventPath == "" {
					eventPath = "-"
				}
				rows = append(rows, []string{
					event.OccurredAt,
					event.Device,
					yesNo(event.Connected),
					mode,
					eventPath,
				})
			}

			out := renderTable(
				[]string{"Time", "Device", "Connected", "Mode", "Path"},
				rows,
				nil,
			)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events to show")
	return cmd
}
