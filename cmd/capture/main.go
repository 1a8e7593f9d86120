package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/control"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/inference"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/provision"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/uploader"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "TOML config file (defaults apply when empty)")
	logLevel   = flag.String("log-level", "", "Log level override (debug, info, warn, error, silent)")
	httpAddr   = flag.String("http", "", "Control API address override")
	endpoint   = flag.String("upload", "", "Upload endpoint override")
	pprofAddr  = flag.String("pprof", "", "pprof server address (disabled when empty)")
)

// Daemon wires the capture pipeline to its control API
type Daemon struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	uploader   *uploader.Client
	controller *session.Controller
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *httpAddr != "" {
		cfg.Control.Addr = *httpAddr
	}
	if *endpoint != "" {
		cfg.Upload.Endpoint = *endpoint
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Pose capture starting...")
	logger.Info("Main", "Log level: %s", level)

	d, err := NewDaemon(cfg)
	if err != nil {
		log.Fatalf("Failed to create daemon: %v", err)
	}
	d.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := d.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
}

// NewDaemon builds every pipeline stage from cfg
func NewDaemon(cfg config.Config) (*Daemon, error) {
	m := metrics.New()

	src, err := source.New(source.Options{
		Kind:   cfg.Capture.Source,
		Dir:    cfg.Capture.Dir,
		Width:  cfg.Capture.Width,
		Height: cfg.Capture.Height,
		FPS:    cfg.Capture.FPS,
	})
	if err != nil {
		return nil, err
	}

	engine, err := inference.New(inference.Options{
		Kind:     cfg.Inference.Engine,
		URL:      cfg.Inference.URL,
		Timeout:  cfg.Inference.Timeout.Duration,
		MinScore: cfg.Inference.MinScore,
	})
	if err != nil {
		return nil, err
	}

	enc, err := encoder.New(encoder.Options{
		Format:     cfg.Encoder.Format,
		Quality:    cfg.Encoder.Quality,
		ScaleWidth: cfg.Encoder.ScaleWidth,
	})
	if err != nil {
		return nil, err
	}

	codec, err := wire.CodecByName(cfg.Upload.Codec)
	if err != nil {
		return nil, err
	}
	up, err := uploader.New(uploader.Options{
		Endpoint:    cfg.Upload.Endpoint,
		Token:       cfg.Upload.Token,
		Codec:       codec,
		MaxInFlight: cfg.Upload.MaxInFlight,
		Timeout:     cfg.Upload.Timeout.Duration,
		Metrics:     m,
	})
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Source:    src,
		Engine:    engine,
		Encoder:   enc,
		Uploader:  up,
		Threshold: cfg.Batch.Size,
		MaxAge:    cfg.Batch.MaxAge.Duration,
		Metrics:   m,
	}
	if cfg.Provision.URL != "" {
		opts.Provisioner = provision.New(cfg.Provision.URL, cfg.Upload.Token, cfg.Provision.Timeout.Duration)
	}
	ctrl, err := session.New(opts)
	if err != nil {
		return nil, err
	}

	ccfg := control.DefaultConfig()
	ccfg.StatusInterval = cfg.Control.StatusInterval.Duration

	return &Daemon{
		cfg:        cfg,
		metrics:    m,
		uploader:   up,
		controller: ctrl,
		httpServer: &http.Server{
			Addr:    cfg.Control.Addr,
			Handler: control.NewServer(ccfg, ctrl).Handler(),
		},
	}, nil
}

// Start launches the HTTP servers. Recording begins on /api/recording/start.
func (d *Daemon) Start() {
	logger.Info("Main", "  Source: %s, engine: %s, encoding: %s", d.cfg.Capture.Source, d.cfg.Inference.Engine, d.cfg.Encoder.Format)
	logger.Info("Main", "  Batch size: %d, codec: %s", d.cfg.Batch.Size, d.cfg.Upload.Codec)
	logger.Info("Main", "  Upload endpoint: %s", d.cfg.Upload.Endpoint)
	logger.Info("Main", "  Control API: %s", d.cfg.Control.Addr)
	logger.Info("Main", "  Metrics server: %s", d.cfg.Metrics.Addr)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if d.cfg.Metrics.Addr != "" {
		go func() {
			if err := d.metrics.StartServer(d.cfg.Metrics.Addr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		if err := d.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "Control server error: %v", err)
		}
	}()
}

// Shutdown stops an active session, lets in-flight uploads finish and closes
// the control API
func (d *Daemon) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if d.controller.State() == session.Active {
		if err := d.controller.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		d.uploader.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("uploads still in flight"))
	}

	if err := d.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
