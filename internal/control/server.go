// Package control serves the recording control API of the capture daemon.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/inference"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/source"
)

var log = logger.Module("Control")

// Recorder is the session controller as seen by the API.
type Recorder interface {
	Start(ctx context.Context, info session.Info) error
	Stop(ctx context.Context) error
	Status() session.Status
	Subscribe() chan session.Status
	Unsubscribe(ch chan session.Status)
}

// Config defines the control API runtime settings.
type Config struct {
	StatusInterval time.Duration // SSE keepalive period
	AllowOrigin    string        // CORS origin, empty disables CORS headers
	StopTimeout    time.Duration
}

// DefaultConfig returns the settings used by the capture daemon.
func DefaultConfig() Config {
	return Config{
		StatusInterval: time.Second,
		AllowOrigin:    "*",
		StopTimeout:    5 * time.Second,
	}
}

// Server serves the control endpoints.
type Server struct {
	cfg      Config
	recorder Recorder
}

// NewServer returns a control server for rec.
func NewServer(cfg Config, rec Recorder) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	return &Server{cfg: cfg, recorder: rec}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recording/start", s.cors(s.handleRecordingStart))
	mux.HandleFunc("/api/recording/stop", s.cors(s.handleRecordingStop))
	mux.HandleFunc("/api/recording/status", s.cors(s.handleRecordingStatus))
	mux.HandleFunc("/api/status/stream", s.cors(s.handleStatusStream))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

type startRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SessionID   string `json:"sessionId"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	info := session.Info{ID: req.SessionID, Name: req.Name, Description: req.Description}
	if err := s.recorder.Start(r.Context(), info); err != nil {
		status := startErrorStatus(err)
		log.Warn("Start rejected (%d): %v", status, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":  "recording",
		"session": s.recorder.Status(),
	})
}

// startErrorStatus maps a Start failure to an HTTP status.
func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, source.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, inference.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	before := s.recorder.Status()
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StopTimeout)
	defer cancel()

	if err := s.recorder.Stop(ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotActive) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"sessionId":  before.SessionID,
		"clipId":     before.ClipID,
		"stats":      before,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates := s.recorder.Subscribe()
	defer s.recorder.Unsubscribe(updates)

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	st := s.recorder.Status()
	for {
		if err := writeSSE(w, st); err != nil {
			logger.Debug("SSE", "Client disconnected: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			st = next
		case <-ticker.C:
			st = s.recorder.Status()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"state":  s.recorder.Status().State,
	})
}

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
