package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftsync/gitmirrord/internal/app"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and exit",
	Long: `Run one fetch-mirror-reload cycle and exit. Intended for init
containers that must populate the mirror directory before the main process
starts: exit code 0 means the mirror is up to date, 1 means the cycle failed.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	outcome, err := app.RunOnce(context.Background(), app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("sync failed (%s): %w", outcome, err)
	}

	slog.Info("Sync complete", "outcome", string(outcome))
	return nil
}
