package main

import (
	"fmt"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/ui"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server and its KV store are reachable",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		status, err := stateClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health of %s: %w", serverURL, err)
		}
		took := time.Since(start)

		w := cmd.OutOrStdout()
		if jsonOutput {
			err = printJSON(w, map[string]any{
				"url":        serverURL,
				"status":     status,
				"latency_ms": took.Milliseconds(),
			})
		} else {
			_, err = fmt.Fprintf(w, "%s %s %s\n", serverURL, ui.RenderStatus(status),
				ui.RenderMuted(took.Round(time.Millisecond).String()))
		}
		if err != nil {
			return err
		}
		if status != "ok" {
			return fmt.Errorf("server reports %s", status)
		}
		return nil
	},
}
