package encoder

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"

// Raw serialises the pixel buffer as a nested rows x cols x channels array.
type Raw struct{}

// NewRaw creates a raw array encoder.
func NewRaw() *Raw {
	return &Raw{}
}

// Encoding implements Encoder.
func (Raw) Encoding() types.Encoding {
	return types.EncodingRaw
}

// Encode implements Encoder.
func (Raw) Encode(frame *types.Frame) (types.EncodedFrame, error) {
	if err := validate(frame); err != nil {
		return types.EncodedFrame{}, err
	}

	w, h, c := frame.Width, frame.Height, frame.Channels
	// one backing slice for all values keeps allocations at O(rows)
	values := make([]int, w*h*c)
	for i, v := range frame.Pixels {
		values[i] = int(v)
	}

	rows := make([][][]int, h)
	for y := 0; y < h; y++ {
		row := make([][]int, w)
		for x := 0; x < w; x++ {
			off := (y*w + x) * c
			row[x] = values[off : off+c : off+c]
		}
		rows[y] = row
	}

	return types.EncodedFrame{
		Encoding:  types.EncodingRaw,
		Timestamp: frame.Timestamp,
		Width:     w,
		Height:    h,
		Channels:  c,
		Pixels:    rows,
	}, nil
}
