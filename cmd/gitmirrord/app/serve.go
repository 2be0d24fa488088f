package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftsync/gitmirrord/internal/app"
	"github.com/driftsync/gitmirrord/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror daemon",
	Long: `Run the mirror daemon: periodic sync cycles, the webhook trigger and
the status/health HTTP API.

The daemon requires a configuration file (--config) that specifies:
- The repository URL, ref and optional subpath to mirror
- The local mirror directory
- How the co-located process is reloaded (signal, command or HTTP)

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

// defaultGracefulTimeout is Kubernetes-friendly shutdown time
const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	// Mark config as required
	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	opts := []app.AppOptions{
		app.WithConfig(cfg),
	}
	if cmd.Flags().Changed("address") {
		opts = append(opts, app.WithAddress(viper.GetString("address")))
	}

	daemon, err := app.NewApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build daemon: %w", err)
	}

	// Run the daemon in the background so we can wait for signals here
	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("daemon failed: %w", err)
		}
		return nil
	}

	return daemon.Stop(defaultGracefulTimeout)
}

// loadConfig loads and validates the configuration file at the given path
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("Loaded configuration",
		"path", configPath,
		"repo", cfg.Repo.URL,
		"mirror_dir", cfg.Mirror.Dir,
		"reload_mode", cfg.GetReloadMode(),
	)
	return cfg, nil
}
