package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/ingest"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/recorder"
)

var (
	addr      string
	framesDir string
	noFrames  bool
	debug     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the provisioning and upload API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr != "" {
			cfg.Ingest.Addr = addr
		}
		if framesDir != "" {
			cfg.Ingest.FramesDir = framesDir
		}

		if err := db.Migrate(); err != nil {
			return err
		}

		var rec *recorder.Recorder
		if !noFrames {
			rec = recorder.NewRecorder(cfg.Ingest.FramesDir, 0)
			if err := rec.Start(); err != nil {
				return err
			}
			defer rec.Close()
		}

		srv := ingest.NewServer(ingest.Config{
			Token:        cfg.Ingest.Token,
			MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
			AllowOrigins: cfg.Ingest.AllowOrigins,
			Debug:        debug,
		}, db, rec, metrics.NewIngest())

		httpServer := &http.Server{
			Addr:              cfg.Ingest.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Main", "Ingest listening on %s (db %s)", cfg.Ingest.Addr, cfg.Ingest.DSN)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		logger.Info("Main", "Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&framesDir, "frames-dir", "", "Directory for uploaded frames (default from config)")
	serveCmd.Flags().BoolVar(&noFrames, "no-frames", false, "Discard uploaded frames, keep poses only")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "Run gin in debug mode")
}
