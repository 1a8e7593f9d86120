// Command ingest runs the pose upload backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/store"
)

var (
	cfg        config.Config
	configPath string
	dsn        string
	logLevel   string

	// db is opened for every subcommand and closed after it returns
	db *store.Store
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Pose batch ingest backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if dsn != "" {
			cfg.Ingest.DSN = dsn
		}

		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.Init(level, os.Stderr, cfg.LogColor)

		if db, err = store.Open(cfg.Ingest.DSN); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&dsn, "db", "", "Database DSN: postgres://..., mysql://... or a sqlite file (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override")

	rootCmd.AddCommand(serveCmd, migrateCmd, userCmd)
}
