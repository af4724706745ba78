package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alfredjeanlab/mapstate/internal/config"
	mapsync "github.com/alfredjeanlab/mapstate/internal/sync"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Write a JSONL backup of the KV store",
	GroupID: "system",
	Long: `Export reads the KV store named by the MAPSTATE_KV_* settings directly.
With --sync it pushes one backup to every configured sync destination
instead of writing to stdout or --output.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		namespaces, _ := cmd.Flags().GetStringSlice("namespace")

		if push, _ := cmd.Flags().GetBool("sync"); push {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			dests := buildDestinations(cmd.Context(), cfg, logger)
			if len(dests) == 0 {
				return errors.New("no sync destination configured (set MAPSTATE_SYNC_S3_BUCKET, MAPSTATE_SYNC_FILE or MAPSTATE_SYNC_GIT_REPO)")
			}
			return mapsync.NewScheduler(store, namespaces, dests, 0, logger).RunOnce(cmd.Context())
		}

		var w io.Writer = cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			defer f.Close()
			w = f
		}
		return mapsync.ExportJSONL(cmd.Context(), store, namespaces, w)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	exportCmd.Flags().StringSlice("namespace", nil, "key namespaces to export (default: all map data, no login sessions)")
	exportCmd.Flags().Bool("sync", false, "push to the configured sync destinations")
}
