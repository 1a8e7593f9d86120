// Package inference wraps pose estimation engines behind a common interface.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// ErrUnavailable is returned when the engine has not been loaded or its
// backing service cannot be reached.
var ErrUnavailable = errors.New("inference unavailable")

var log = logger.Module("Inference")

// Engine estimates poses for a frame. Load must succeed before Estimate.
// An empty result means no detection and is not an error.
type Engine interface {
	Load(ctx context.Context) error
	Estimate(ctx context.Context, frame *types.Frame, prior *types.PoseResult, ts time.Time) ([]types.PoseResult, error)
}

// Options selects an engine.
type Options struct {
	Kind     string // "synthetic" or "remote"
	URL      string
	Timeout  time.Duration
	MinScore float64
}

// New builds the engine named by opts.Kind, filtered by opts.MinScore.
func New(opts Options) (Engine, error) {
	var e Engine
	switch opts.Kind {
	case "", "synthetic":
		e = NewSynthetic()
	case "remote":
		if opts.URL == "" {
			return nil, fmt.Errorf("remote inference needs a url")
		}
		e = NewRemote(opts.URL, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown inference engine %q", opts.Kind)
	}
	if opts.MinScore > 0 {
		e = WithMinScore(e, opts.MinScore)
	}
	return e, nil
}

// BlazePoseKeypoints are the landmark names in model output order.
var BlazePoseKeypoints = []string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

type minScore struct {
	Engine
	threshold float64
}

// WithMinScore drops poses in which no keypoint reaches threshold. Low-scoring
// keypoints of a kept pose stay in place so indices keep their meaning.
func WithMinScore(e Engine, threshold float64) Engine {
	return &minScore{Engine: e, threshold: threshold}
}

func (m *minScore) Estimate(ctx context.Context, frame *types.Frame, prior *types.PoseResult, ts time.Time) ([]types.PoseResult, error) {
	poses, err := m.Engine.Estimate(ctx, frame, prior, ts)
	if err != nil {
		return nil, err
	}
	kept := make([]types.PoseResult, 0, len(poses))
	for _, p := range poses {
		for _, kp := range p.Keypoints {
			if kp.Score >= m.threshold {
				kept = append(kept, p)
				break
			}
		}
	}
	return kept, nil
}
