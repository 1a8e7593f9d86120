package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads from TOML strings such as "10s".
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the configuration shared by the capture daemon and the ingest backend.
type Config struct {
	LogLevel string `toml:"log_level"`
	LogColor bool   `toml:"log_color"`

	Capture   CaptureConfig   `toml:"capture"`
	Inference InferenceConfig `toml:"inference"`
	Encoder   EncoderConfig   `toml:"encoder"`
	Batch     BatchConfig     `toml:"batch"`
	Upload    UploadConfig    `toml:"upload"`
	Provision ProvisionConfig `toml:"provision"`
	Control   ControlConfig   `toml:"control"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Ingest    IngestConfig    `toml:"ingest"`
}

// CaptureConfig selects the frame source.
type CaptureConfig struct {
	Source string `toml:"source"` // "synthetic" or "dir"
	Dir    string `toml:"dir"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	FPS    int    `toml:"fps"`
}

// InferenceConfig selects the pose engine.
type InferenceConfig struct {
	Engine   string   `toml:"engine"` // "synthetic" or "remote"
	URL      string   `toml:"url"`
	Timeout  Duration `toml:"timeout"`
	MinScore float64  `toml:"min_score"`
}

// EncoderConfig selects the frame encoding strategy.
type EncoderConfig struct {
	Format     string `toml:"format"` // "jpeg" or "raw"
	Quality    int    `toml:"quality"`
	ScaleWidth int    `toml:"scale_width"`
}

// BatchConfig holds the flush thresholds.
type BatchConfig struct {
	Size   int      `toml:"size"`
	MaxAge Duration `toml:"max_age"`
}

// UploadConfig configures the upload client.
type UploadConfig struct {
	Endpoint    string   `toml:"endpoint"`
	Token       string   `toml:"token"`
	Codec       string   `toml:"codec"` // "json" or "protobuf"
	MaxInFlight int      `toml:"max_in_flight"`
	Timeout     Duration `toml:"timeout"`
}

// ProvisionConfig points at the session provisioning service.
type ProvisionConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// ControlConfig configures the capture control API.
type ControlConfig struct {
	Addr           string   `toml:"addr"`
	StatusInterval Duration `toml:"status_interval"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// IngestConfig configures the backend.
type IngestConfig struct {
	Addr         string   `toml:"addr"`
	DSN          string   `toml:"dsn"`
	FramesDir    string   `toml:"frames_dir"`
	Token        string   `toml:"token"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
	AllowOrigins []string `toml:"allow_origins"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		LogColor: true,
		Capture: CaptureConfig{
			Source: "synthetic",
			Width:  180,
			Height: 240,
			FPS:    30,
		},
		Inference: InferenceConfig{
			Engine:   "synthetic",
			URL:      "http://localhost:50080/estimate",
			Timeout:  D(2 * time.Second),
			MinScore: 0.3,
		},
		Encoder: EncoderConfig{
			Format:  "jpeg",
			Quality: 75,
		},
		Batch: BatchConfig{
			Size: 15,
		},
		Upload: UploadConfig{
			Endpoint:    "http://localhost:8000/data/poses/upload",
			Codec:       "json",
			MaxInFlight: 4,
			Timeout:     D(10 * time.Second),
		},
		Provision: ProvisionConfig{
			URL:     "http://localhost:8000",
			Timeout: D(5 * time.Second),
		},
		Control: ControlConfig{
			Addr:           ":8082",
			StatusInterval: D(time.Second),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Ingest: IngestConfig{
			Addr:         ":8000",
			DSN:          "posestore.db",
			FramesDir:    "./recordings",
			MaxBodyBytes: 64 << 20,
			AllowOrigins: []string{"*"},
		},
	}
}

// Load reads a TOML file on top of DefaultConfig. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error

	switch c.Capture.Source {
	case "synthetic":
		if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
			errs = append(errs, fmt.Errorf("capture: width and height must be positive"))
		}
	case "dir":
		if c.Capture.Dir == "" {
			errs = append(errs, fmt.Errorf("capture: dir source requires capture.dir"))
		}
	default:
		errs = append(errs, fmt.Errorf("capture: unknown source %q", c.Capture.Source))
	}
	if c.Capture.FPS < 0 {
		errs = append(errs, fmt.Errorf("capture: fps must not be negative"))
	}

	switch c.Inference.Engine {
	case "synthetic":
	case "remote":
		if c.Inference.URL == "" {
			errs = append(errs, fmt.Errorf("inference: remote engine requires inference.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("inference: unknown engine %q", c.Inference.Engine))
	}
	if c.Inference.MinScore < 0 || c.Inference.MinScore > 1 {
		errs = append(errs, fmt.Errorf("inference: min_score must be within [0,1]"))
	}

	switch c.Encoder.Format {
	case "jpeg":
		if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
			errs = append(errs, fmt.Errorf("encoder: quality must be within [1,100]"))
		}
	case "raw":
	default:
		errs = append(errs, fmt.Errorf("encoder: unknown format %q", c.Encoder.Format))
	}
	if c.Encoder.ScaleWidth < 0 {
		errs = append(errs, fmt.Errorf("encoder: scale_width must not be negative"))
	}

	if c.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch: size must be positive"))
	}

	switch c.Upload.Codec {
	case "json", "protobuf":
	default:
		errs = append(errs, fmt.Errorf("upload: unknown codec %q", c.Upload.Codec))
	}
	if c.Upload.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("upload: max_in_flight must be positive"))
	}

	return errors.Join(errs...)
}
