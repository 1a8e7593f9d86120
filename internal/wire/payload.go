// Package wire defines the upload payload shared by the capture uploader and
// the ingest backend. Timestamps are unix milliseconds.
package wire

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// Payload is the body of one batch upload.
type Payload struct {
	SessionID    string  `json:"sessionId"`
	ClipID       string  `json:"clipId"`
	Sequence     uint64  `json:"sequence"`
	ClipFinished bool    `json:"clipFinished"`
	Poses        []Pose  `json:"poses"`
	Frames       []Frame `json:"frames"`
}

// Pose mirrors types.PoseResult.
type Pose struct {
	Timestamp int64      `json:"timestamp"`
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Keypoint mirrors types.Keypoint.
type Keypoint struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Score float64 `json:"score"`
}

// Frame mirrors types.EncodedFrame. Data is base64 in JSON.
type Frame struct {
	Timestamp int64     `json:"timestamp"`
	Encoding  string    `json:"encoding"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Channels  int       `json:"channels"`
	Data      []byte    `json:"data,omitempty"`
	Pixels    [][][]int `json:"pixels,omitempty"`
}

// FromBatch builds the payload for b. Empty batches produce empty, non-nil
// slices so JSON carries [] rather than null.
func FromBatch(b types.Batch, sessionID, clipID string) *Payload {
	p := &Payload{
		SessionID:    sessionID,
		ClipID:       clipID,
		Sequence:     b.Seq,
		ClipFinished: b.Final,
		Poses:        make([]Pose, 0, len(b.Poses)),
		Frames:       make([]Frame, 0, len(b.Frames)),
	}

	for _, pose := range b.Poses {
		kps := make([]Keypoint, len(pose.Keypoints))
		for i, kp := range pose.Keypoints {
			kps[i] = Keypoint{Name: kp.Name, X: kp.X, Y: kp.Y, Z: kp.Z, Score: kp.Score}
		}
		p.Poses = append(p.Poses, Pose{
			Timestamp: types.TimestampMillis(pose.Timestamp),
			Score:     pose.Score,
			Keypoints: kps,
		})
	}

	for _, f := range b.Frames {
		p.Frames = append(p.Frames, Frame{
			Timestamp: types.TimestampMillis(f.Timestamp),
			Encoding:  string(f.Encoding),
			Width:     f.Width,
			Height:    f.Height,
			Channels:  f.Channels,
			Data:      f.Data,
			Pixels:    f.Pixels,
		})
	}
	return p
}
