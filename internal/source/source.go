// Package source provides frame sources for the capture loop.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// ErrPermissionDenied means the source cannot be opened by this process.
// It is terminal for the session being started.
var ErrPermissionDenied = errors.New("camera permission denied")

// Source produces a new frame stream per session.
type Source interface {
	// Authorize checks access to the underlying device or files.
	Authorize(ctx context.Context) error
	// Open starts a fresh stream.
	Open(ctx context.Context) (Stream, error)
}

// Stream yields frames until closed. Next blocks until a frame is due.
// The caller owns each returned frame and must Release it.
type Stream interface {
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Options selects a source.
type Options struct {
	Kind   string // "synthetic" or "dir"
	Dir    string
	Width  int
	Height int
	FPS    int
}

// New builds the source named by opts.Kind.
func New(opts Options) (Source, error) {
	switch opts.Kind {
	case "", "synthetic":
		return NewSynthetic(opts.Width, opts.Height, opts.FPS), nil
	case "dir":
		return NewDir(opts.Dir, opts.FPS), nil
	default:
		return nil, fmt.Errorf("unknown frame source %q", opts.Kind)
	}
}
