// Package ingest is the backend HTTP API that provisions users and sessions
// and stores uploaded pose batches.
package ingest

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/store"
)

var log = logger.Module("Ingest")

// Config defines the backend runtime settings.
type Config struct {
	Token        string // bearer token required on /data when set
	MaxBodyBytes int64
	AllowOrigins []string
	Debug        bool
}

// Server serves the ingest endpoints.
type Server struct {
	cfg      Config
	store    *store.Store
	recorder *recorder.Recorder // nil: frames are not kept
	metrics  *metrics.Ingest
}

// NewServer returns an ingest server. rec may be nil.
func NewServer(cfg Config, st *store.Store, rec *recorder.Recorder, m *metrics.Ingest) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	if m == nil {
		m = metrics.NewIngest()
	}
	return &Server{cfg: cfg, store: st, recorder: rec, metrics: m}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.Use(
		gin.LoggerWithConfig(gin.LoggerConfig{
			Output:    logger.Writer(logger.DEBUG, "GIN"),
			SkipPaths: []string{"/health", "/metrics"},
		}),
		gin.RecoveryWithWriter(logger.Writer(logger.ERROR, "GIN")),
		cors.New(s.corsConfig()),
	)
	g.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	g.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "recorder": s.recorderStatus()})
	})
	g.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	data := g.Group("/data", s.auth)
	data.POST("/user/init", s.userInit)
	data.POST("/session/init", s.sessionInit)
	data.POST("/poses/upload", s.posesUpload)

	read := data.Group("/sessions", gzip.Gzip(gzip.DefaultCompression))
	read.GET("/:sid", s.getSession)
	read.GET("/:sid/clips/:clip/poses", s.clipPoses)

	return g
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.cfg.AllowOrigins) == 0 || slices.Contains(s.cfg.AllowOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.AllowOrigins
	}
	return cfg
}

func (s *Server) recorderStatus() any {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.GetStatus()
}

// auth checks the bearer token when one is configured.
func (s *Server) auth(c *gin.Context) {
	if s.cfg.Token == "" {
		c.Next()
		return
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token != s.cfg.Token {
		s.metrics.Rejected.WithLabelValues("unauthorized").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
		return
	}
	c.Next()
}

// readBody reads the request body up to the configured limit.
func (s *Server) readBody(c *gin.Context) ([]byte, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, err
		}
		return nil, http.StatusBadRequest, err
	}
	return body, 0, nil
}
