package types

import (
	"math"
	"sync"
	"time"
)

// Frame is one captured image sample. Pixels are interleaved, row-major,
// Channels bytes per pixel.
type Frame struct {
	Pixels    []byte    // Raw pixel buffer
	Width     int       // Frame width
	Height    int       // Frame height
	Channels  int       // Bytes per pixel (3 = RGB)
	Timestamp time.Time // Capture timestamp
	Seq       uint64    // Sequential frame number within a stream

	release     func([]byte)
	releaseOnce sync.Once
}

// NewFrame wraps a pixel buffer. release, if non-nil, is called once with the
// buffer when the frame is released.
func NewFrame(pixels []byte, width, height, channels int, ts time.Time, release func([]byte)) *Frame {
	return &Frame{
		Pixels:    pixels,
		Width:     width,
		Height:    height,
		Channels:  channels,
		Timestamp: ts,
		release:   release,
	}
}

// Release hands the pixel buffer back to its owner. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release(f.Pixels)
		}
		f.Pixels = nil
	})
}

// Keypoint is one detected body joint.
type Keypoint struct {
	Name  string
	X     float64
	Y     float64
	Z     float64
	Score float64
}

// PoseResult is the inference output for one frame.
type PoseResult struct {
	Keypoints []Keypoint
	Score     float64
	Timestamp time.Time
}

// Encoding tags the representation carried by an EncodedFrame.
type Encoding string

const (
	EncodingJPEG Encoding = "jpeg"
	EncodingRaw  Encoding = "raw"
)

// EncodedFrame is the transmissible form of a Frame.
type EncodedFrame struct {
	Encoding  Encoding
	Timestamp time.Time
	Width     int
	Height    int
	Channels  int
	Data      []byte    // JPEG bytes (EncodingJPEG)
	Pixels    [][][]int // rows x cols x channels (EncodingRaw)
}

// Batch is an ordered group of (pose, frame) pairs handed to the uploader.
// Poses[i] and Frames[i] always belong to the same capture instant.
type Batch struct {
	Seq    uint64
	Final  bool
	Poses  []PoseResult
	Frames []EncodedFrame
}

// Len returns the number of pairs in the batch.
func (b Batch) Len() int {
	return len(b.Poses)
}

// Empty reports whether the batch carries no pairs.
func (b Batch) Empty() bool {
	return len(b.Poses) == 0
}

// TimestampMillis converts t to unix milliseconds, the resolution used on the wire.
func TimestampMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// PixelCount returns width*height*channels, or false when any dimension is
// not positive or the product does not fit in an int.
func PixelCount(width, height, channels int) (int, bool) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return 0, false
	}
	if width > math.MaxInt/height || width*height > math.MaxInt/channels {
		return 0, false
	}
	return width * height * channels, true
}
