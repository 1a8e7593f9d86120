// Package encoder turns captured frames into their transmissible form.
package encoder

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// ErrMalformedFrame is returned when a frame's declared geometry does not
// match its pixel buffer. Callers drop the frame; it is never retried.
var ErrMalformedFrame = errors.New("malformed frame")

// Encoder converts a Frame into an EncodedFrame, preserving its timestamp.
type Encoder interface {
	Encode(frame *types.Frame) (types.EncodedFrame, error)
	Encoding() types.Encoding
}

// Options selects and tunes the encoding strategy.
type Options struct {
	Format     string // "jpeg" or "raw"
	Quality    int    // JPEG quality 1..100
	ScaleWidth int    // Downscale JPEG output to this width (0 = keep)
}

// New returns the encoder for opts.Format.
func New(opts Options) (Encoder, error) {
	switch opts.Format {
	case "", string(types.EncodingJPEG):
		return NewJPEG(opts.Quality, opts.ScaleWidth), nil
	case string(types.EncodingRaw):
		return NewRaw(), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", opts.Format)
	}
}

// validate checks the declared geometry against the buffer length.
func validate(frame *types.Frame) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrMalformedFrame, frame.Width, frame.Height)
	}
	switch frame.Channels {
	case 1, 3, 4:
	default:
		return fmt.Errorf("%w: unsupported channel count %d", ErrMalformedFrame, frame.Channels)
	}
	want, ok := types.PixelCount(frame.Width, frame.Height, frame.Channels)
	if !ok {
		return fmt.Errorf("%w: dimensions %dx%dx%d overflow", ErrMalformedFrame, frame.Width, frame.Height, frame.Channels)
	}
	if len(frame.Pixels) != want {
		return fmt.Errorf("%w: %dx%dx%d needs %d bytes, buffer has %d",
			ErrMalformedFrame, frame.Width, frame.Height, frame.Channels, want, len(frame.Pixels))
	}
	return nil
}
