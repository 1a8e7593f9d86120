package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// Dir replays the JPEG and PNG files of a directory in name order, looping
// at the end. Useful for replaying recorded clips through the pipeline.
type Dir struct {
	path     string
	interval time.Duration
}

// NewDir creates a directory source paced at fps (<= 0: unpaced).
func NewDir(path string, fps int) *Dir {
	d := &Dir{path: path}
	if fps > 0 {
		d.interval = time.Second / time.Duration(fps)
	}
	return d
}

// Authorize implements Source.
func (d *Dir) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.list()
	return err
}

func (d *Dir) list() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, d.path)
		}
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(d.path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", d.path)
	}
	sort.Strings(files)
	return files, nil
}

// Open implements Source.
func (d *Dir) Open(ctx context.Context) (Stream, error) {
	files, err := d.list()
	if err != nil {
		return nil, err
	}
	st := &dirStream{files: files}
	if d.interval > 0 {
		st.ticker = time.NewTicker(d.interval)
	}
	return st, nil
}

type dirStream struct {
	files  []string
	next   int
	seq    uint64
	ticker *time.Ticker
}

func (st *dirStream) Next(ctx context.Context) (*types.Frame, error) {
	if st.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := st.files[st.next]
	st.next = (st.next + 1) % len(st.files)

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	pixels := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pixels = append(pixels, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}

	st.seq++
	f := types.NewFrame(pixels, b.Dx(), b.Dy(), 3, time.Now(), nil)
	f.Seq = st.seq
	return f, nil
}

func (st *dirStream) Close() error {
	if st.ticker != nil {
		st.ticker.Stop()
	}
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
