package inference

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// standing figure in normalized image coordinates, BlazePose order
var restPose = [][2]float64{
	{0.50, 0.12},
	{0.48, 0.10}, {0.47, 0.10}, {0.46, 0.10},
	{0.52, 0.10}, {0.53, 0.10}, {0.54, 0.10},
	{0.44, 0.11}, {0.56, 0.11},
	{0.48, 0.15}, {0.52, 0.15},
	{0.40, 0.24}, {0.60, 0.24},
	{0.36, 0.38}, {0.64, 0.38},
	{0.34, 0.50}, {0.66, 0.50},
	{0.33, 0.53}, {0.67, 0.53},
	{0.34, 0.54}, {0.66, 0.54},
	{0.35, 0.52}, {0.65, 0.52},
	{0.44, 0.52}, {0.56, 0.52},
	{0.44, 0.70}, {0.56, 0.70},
	{0.44, 0.88}, {0.56, 0.88},
	{0.43, 0.90}, {0.57, 0.90},
	{0.46, 0.92}, {0.54, 0.92},
}

// Synthetic produces one swaying skeleton per frame. It stands in for an
// on-device model when running without one.
type Synthetic struct {
	loaded atomic.Bool
	period time.Duration
}

// NewSynthetic creates a synthetic engine with a two second sway period.
func NewSynthetic() *Synthetic {
	return &Synthetic{period: 2 * time.Second}
}

// Load implements Engine.
func (s *Synthetic) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.loaded.Store(true)
	log.Debug("Synthetic engine loaded (%d keypoints)", len(BlazePoseKeypoints))
	return nil
}

// Estimate implements Engine. When prior is given the new pose is blended
// with it, like a tracker would.
func (s *Synthetic) Estimate(ctx context.Context, frame *types.Frame, prior *types.PoseResult, ts time.Time) ([]types.PoseResult, error) {
	if !s.loaded.Load() {
		return nil, fmt.Errorf("%w: engine not loaded", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}

	phase := 2 * math.Pi * float64(ts.UnixMilli()%s.period.Milliseconds()) / float64(s.period.Milliseconds())
	sway := 0.05 * math.Sin(phase)

	kps := make([]types.Keypoint, len(BlazePoseKeypoints))
	var total float64
	for i, name := range BlazePoseKeypoints {
		// sway grows with height above the feet
		lean := sway * (1 - restPose[i][1])
		kp := types.Keypoint{
			Name:  name,
			X:     restPose[i][0] + lean,
			Y:     restPose[i][1],
			Z:     0.1 * math.Cos(phase) * (restPose[i][0] - 0.5),
			Score: 0.95 - 0.3*math.Abs(restPose[i][0]-0.5),
		}
		if prior != nil && i < len(prior.Keypoints) {
			kp.X = (kp.X + prior.Keypoints[i].X) / 2
			kp.Y = (kp.Y + prior.Keypoints[i].Y) / 2
			kp.Z = (kp.Z + prior.Keypoints[i].Z) / 2
		}
		kps[i] = kp
		total += kp.Score
	}

	return []types.PoseResult{{
		Keypoints: kps,
		Score:     total / float64(len(kps)),
		Timestamp: ts,
	}}, nil
}
