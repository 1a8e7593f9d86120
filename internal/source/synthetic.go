package source

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// colour bars: white, yellow, cyan, green, magenta, red, blue, black
var bars = [][3]byte{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{0, 0, 0},
}

// Synthetic generates scrolling colour-bar RGB frames at a fixed rate.
type Synthetic struct {
	width, height int
	interval      time.Duration
	pool          sync.Pool
}

// NewSynthetic creates a colour-bar source. fps <= 0 produces frames as fast
// as they are consumed.
func NewSynthetic(width, height, fps int) *Synthetic {
	if width <= 0 {
		width = 180
	}
	if height <= 0 {
		height = 240
	}
	s := &Synthetic{width: width, height: height}
	if fps > 0 {
		s.interval = time.Second / time.Duration(fps)
	}
	size := width * height * 3
	s.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return s
}

// Authorize implements Source. A generator needs no permission.
func (s *Synthetic) Authorize(ctx context.Context) error {
	return ctx.Err()
}

// Open implements Source.
func (s *Synthetic) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := &syntheticStream{src: s}
	if s.interval > 0 {
		st.ticker = time.NewTicker(s.interval)
	}
	return st, nil
}

type syntheticStream struct {
	src    *Synthetic
	ticker *time.Ticker
	seq    uint64
}

func (st *syntheticStream) Next(ctx context.Context) (*types.Frame, error) {
	if st.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := st.src
	bufp := s.pool.Get().(*[]byte)
	buf := *bufp
	barWidth := max(s.width/len(bars), 1)
	shift := int(st.seq) % s.width
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			idx := min(((x+shift)%s.width)/barWidth, len(bars)-1)
			off := (y*s.width + x) * 3
			copy(buf[off:off+3], bars[idx][:])
		}
	}

	st.seq++
	f := types.NewFrame(buf, s.width, s.height, 3, time.Now(), func([]byte) { s.pool.Put(bufp) })
	f.Seq = st.seq
	return f, nil
}

func (st *syntheticStream) Close() error {
	if st.ticker != nil {
		st.ticker.Stop()
	}
	return nil
}
