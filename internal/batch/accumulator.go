// Package batch collects (pose, encoded frame) pairs until a flush threshold is reached.
package batch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// DefaultThreshold is the number of pairs that makes a batch ready.
const DefaultThreshold = 15

// ErrMismatched is returned by Append when the pose and frame timestamps differ.
var ErrMismatched = errors.New("pose and frame timestamps differ")

// Accumulator owns the pending pairs of one session. It is written by the
// capture loop only; Drain hands the contents off and starts a new batch.
type Accumulator struct {
	threshold int
	maxAge    time.Duration
	now       func() time.Time

	mu      sync.Mutex
	poses   []types.PoseResult
	frames  []types.EncodedFrame
	firstAt time.Time
	seq     uint64
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithMaxAge makes a non-empty batch ready once its first pair is older than d.
func WithMaxAge(d time.Duration) Option {
	return func(a *Accumulator) { a.maxAge = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// New creates an accumulator that is ready at threshold pairs.
// A non-positive threshold uses DefaultThreshold.
func New(threshold int, opts ...Option) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	a := &Accumulator{
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.reset()
	return a
}

// Threshold returns the configured size threshold.
func (a *Accumulator) Threshold() int {
	return a.threshold
}

// Append adds a pair in capture order.
func (a *Accumulator) Append(pose types.PoseResult, encoded types.EncodedFrame) error {
	if !pose.Timestamp.Equal(encoded.Timestamp) {
		return fmt.Errorf("%w: pose %d, frame %d", ErrMismatched,
			types.TimestampMillis(pose.Timestamp), types.TimestampMillis(encoded.Timestamp))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.poses) == 0 {
		a.firstAt = a.now()
	}
	a.poses = append(a.poses, pose)
	a.frames = append(a.frames, encoded)
	return nil
}

// Len returns the number of pending pairs.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.poses)
}

// IsReady reports whether the pending pairs should be flushed.
func (a *Accumulator) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.poses)
	if n >= a.threshold {
		return true
	}
	return n > 0 && a.maxAge > 0 && a.now().Sub(a.firstAt) >= a.maxAge
}

// Drain returns the pending pairs and resets the accumulator. The returned
// batch does not share memory with the accumulator.
func (a *Accumulator) Drain(final bool) types.Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	b := types.Batch{
		Seq:    a.seq,
		Final:  final,
		Poses:  a.poses,
		Frames: a.frames,
	}
	a.reset()
	return b
}

// reset allocates fresh backing arrays so drained batches are never aliased.
func (a *Accumulator) reset() {
	a.poses = make([]types.PoseResult, 0, a.threshold)
	a.frames = make([]types.EncodedFrame, 0, a.threshold)
	a.firstAt = time.Time{}
}
