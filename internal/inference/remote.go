package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// estimateResponse is the pose service reply.
type estimateResponse struct {
	Poses []struct {
		Score     float64 `json:"score"`
		Keypoints []struct {
			Name  string  `json:"name"`
			X     float64 `json:"x"`
			Y     float64 `json:"y"`
			Z     float64 `json:"z"`
			Score float64 `json:"score"`
		} `json:"keypoints"`
	} `json:"poses"`
}

// Remote posts each frame as JPEG to an HTTP pose service.
type Remote struct {
	url    string
	client *http.Client
	jpeg   *encoder.JPEG
	loaded atomic.Bool
}

// NewRemote creates a remote engine for the service at url.
func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: timeout},
		jpeg:   encoder.NewJPEG(90, 0),
	}
}

// Load checks that the service answers. Any response below 500 counts.
func (r *Remote) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: pose service returned %d", ErrUnavailable, resp.StatusCode)
	}

	r.loaded.Store(true)
	log.Info("Pose service ready at %s", r.url)
	return nil
}

// Estimate implements Engine. The prior pose is not sent.
func (r *Remote) Estimate(ctx context.Context, frame *types.Frame, _ *types.PoseResult, ts time.Time) ([]types.PoseResult, error) {
	if !r.loaded.Load() {
		return nil, fmt.Errorf("%w: engine not loaded", ErrUnavailable)
	}

	enc, err := r.jpeg.Encode(frame)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(enc.Data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Timestamp", strconv.FormatInt(types.TimestampMillis(ts), 10))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pose service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("pose service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pose response: %w", err)
	}

	poses := make([]types.PoseResult, 0, len(out.Poses))
	for _, p := range out.Poses {
		kps := make([]types.Keypoint, len(p.Keypoints))
		for i, k := range p.Keypoints {
			kps[i] = types.Keypoint{Name: k.Name, X: k.X, Y: k.Y, Z: k.Z, Score: k.Score}
		}
		poses = append(poses, types.PoseResult{Keypoints: kps, Score: p.Score, Timestamp: ts})
	}
	return poses, nil
}
