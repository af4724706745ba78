package main

import (
	"os"

	"github.com/alfredjeanlab/mapstate/internal/client"
	"github.com/alfredjeanlab/mapstate/internal/ui"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL  string
	token      string
	adminToken string
	jsonOutput bool

	stateClient client.StateClient
)

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:          "mapstate <command>",
	Short:        "Map state service and CLI client",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor(os.Stdout) {
			ui.ForceNoColor()
		}
		stateClient = client.NewHTTPClient(serverURL, token, client.WithAdminToken(adminToken))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stateClient != nil {
			stateClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("MAPSTATE_URL", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("MAPSTATE_TOKEN"), "session token")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", os.Getenv("MAPSTATE_ADMIN_TOKEN"), "admin token for listing every state")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "state", Title: "Map states:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Map states
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(loginCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
