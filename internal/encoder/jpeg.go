package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// JPEG encodes frames as baseline JPEG.
type JPEG struct {
	quality    int
	scaleWidth int

	mu  sync.Mutex
	buf bytes.Buffer // scratch, output is copied out
}

// NewJPEG creates a JPEG encoder. quality outside 1..100 falls back to 75.
func NewJPEG(quality, scaleWidth int) *JPEG {
	if quality < 1 || quality > 100 {
		quality = 75
	}
	if scaleWidth < 0 {
		scaleWidth = 0
	}
	return &JPEG{quality: quality, scaleWidth: scaleWidth}
}

// Encoding implements Encoder.
func (e *JPEG) Encoding() types.Encoding {
	return types.EncodingJPEG
}

// Encode implements Encoder.
func (e *JPEG) Encode(frame *types.Frame) (types.EncodedFrame, error) {
	if err := validate(frame); err != nil {
		return types.EncodedFrame{}, err
	}

	var img image.Image = toImage(frame)
	if e.scaleWidth > 0 && e.scaleWidth < frame.Width {
		img = downscale(img, e.scaleWidth)
	}
	bounds := img.Bounds()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return types.EncodedFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	data := make([]byte, e.buf.Len())
	copy(data, e.buf.Bytes())

	channels := 3
	if frame.Channels == 1 {
		channels = 1
	}

	return types.EncodedFrame{
		Encoding:  types.EncodingJPEG,
		Timestamp: frame.Timestamp,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Channels:  channels,
		Data:      data,
	}, nil
}

// toImage wraps or converts the frame buffer into an image.Image.
func toImage(frame *types.Frame) image.Image {
	rect := image.Rect(0, 0, frame.Width, frame.Height)
	switch frame.Channels {
	case 1:
		return &image.Gray{Pix: frame.Pixels, Stride: frame.Width, Rect: rect}
	case 4:
		return &image.RGBA{Pix: frame.Pixels, Stride: frame.Width * 4, Rect: rect}
	}

	// RGB: expand to RGBA with opaque alpha
	img := image.NewRGBA(rect)
	src := frame.Pixels
	dst := img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
	return img
}

func downscale(src image.Image, width int) image.Image {
	b := src.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
