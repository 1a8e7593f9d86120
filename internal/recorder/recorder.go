// Package recorder writes uploaded frames to disk under
// <base>/<session>/<clip>/<timestamp>.<ext> on a background goroutine.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
)

var log = logger.Module("Recorder")

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type job struct {
	path  string
	frame wire.Frame
}

// Recorder records clip frames to files
type Recorder struct {
	mu           sync.RWMutex
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      uint64
	writeErrors  uint64
	startTime    time.Time
	frameChan    chan job
	wg           sync.WaitGroup
}

// NewRecorder creates a new recorder. buffer is the number of frames that
// may wait for the disk before new ones are dropped.
func NewRecorder(basePath string, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		basePath:  basePath,
		frameChan: make(chan job, buffer),
	}
}

// Start starts the writer goroutine
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create frames directory: %w", err)
	}

	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped = 0
	r.writeErrors = 0
	r.startTime = time.Now()
	r.frameChan = make(chan job, cap(r.frameChan))

	r.wg.Add(1)
	go r.writeFrames(r.frameChan)

	log.Info("Writing frames under %s", r.basePath)
	return nil
}

// Stop stops accepting frames and waits until queued ones are written
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	close(r.frameChan)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// FramePath returns the path, relative to the base directory, where the frame
// taken at ts (unix ms) of a clip is stored.
func FramePath(sessionID, clipID string, ts int64, encoding string) (string, error) {
	if !safeID.MatchString(sessionID) || !safeID.MatchString(clipID) {
		return "", fmt.Errorf("invalid session or clip id")
	}
	ext := ".jpg"
	if encoding != "jpeg" {
		ext = ".json"
	}
	return filepath.Join(sessionID, clipID, strconv.FormatInt(ts, 10)+ext), nil
}

// SendFrame queues a frame (non-blocking). It returns the relative path the
// frame will be written to, or false if it was dropped.
func (r *Recorder) SendFrame(sessionID, clipID string, frame wire.Frame) (string, bool) {
	rel, err := FramePath(sessionID, clipID, frame.Timestamp, frame.Encoding)
	if err != nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return "", false
	}

	select {
	case r.frameChan <- job{path: rel, frame: frame}:
		return rel, true
	default:
		r.dropped++
		return "", false
	}
}

// writeFrames writes frames until the channel is closed
func (r *Recorder) writeFrames(ch <-chan job) {
	defer r.wg.Done()
	for j := range ch {
		r.writeFrame(j)
	}
}

// writeFrame writes a single frame to file
func (r *Recorder) writeFrame(j job) {
	var data []byte
	if j.frame.Encoding == "jpeg" {
		data = j.frame.Data
	} else {
		var err error
		if data, err = json.Marshal(j.frame); err != nil {
			r.countError(j.path, err)
			return
		}
	}

	full := filepath.Join(r.basePath, j.path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.countError(j.path, err)
		return
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		r.countError(j.path, err)
		return
	}

	r.mu.Lock()
	r.bytesWritten += uint64(len(data))
	r.frameCount++
	r.mu.Unlock()
}

func (r *Recorder) countError(path string, err error) {
	r.mu.Lock()
	r.writeErrors++
	r.mu.Unlock()
	log.Warn("Failed to write %s: %v", path, err)
}

// IsRecording returns true if frames are being accepted
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var durationMs int64
	if r.recording {
		durationMs = time.Since(r.startTime).Milliseconds()
	}

	return RecordingStatus{
		Recording:    r.recording,
		BasePath:     r.basePath,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped,
		WriteErrors:  r.writeErrors,
		DurationMs:   durationMs,
		StartTime:    r.startTime,
	}
}

// Close stops the recorder if it is running
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	BasePath     string    `json:"base_path"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	WriteErrors  uint64    `json:"write_errors"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
