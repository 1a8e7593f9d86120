package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// Protobuf encodes payloads in protobuf wire format. Schema:
//
//	message Payload  { string session_id = 1; string clip_id = 2; uint64 sequence = 3;
//	                   bool clip_finished = 4; repeated Pose poses = 5; repeated Frame frames = 6; }
//	message Pose     { int64 timestamp = 1; double score = 2; repeated Keypoint keypoints = 3; }
//	message Keypoint { string name = 1; double x = 2; double y = 3; double z = 4; double score = 5; }
//	message Frame    { int64 timestamp = 1; string encoding = 2; int32 width = 3; int32 height = 4;
//	                   int32 channels = 5; bytes data = 6; repeated uint32 pixels = 7 [packed]; }
//
// Raw pixels travel flattened and are reshaped from width, height and channels.
type Protobuf struct{}

// ContentType implements Codec.
func (Protobuf) ContentType() string { return ContentTypeProtobuf }

// Marshal implements Codec.
func (Protobuf) Marshal(p *Payload) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, p.SessionID)
	b = appendString(b, 2, p.ClipID)
	b = appendVarint(b, 3, p.Sequence)
	b = appendVarint(b, 4, protowire.EncodeBool(p.ClipFinished))
	for i := range p.Poses {
		b = appendMessage(b, 5, marshalPose(&p.Poses[i]))
	}
	for i := range p.Frames {
		b = appendMessage(b, 6, marshalFrame(&p.Frames[i]))
	}
	return b, nil
}

// Unmarshal implements Codec.
func (Protobuf) Unmarshal(data []byte, p *Payload) error {
	*p = Payload{Poses: []Pose{}, Frames: []Frame{}}
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.SessionID = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.ClipID = v
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Sequence = v
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.ClipFinished = protowire.DecodeBool(v)
			return n, nil
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var pose Pose
			if err := unmarshalPose(v, &pose); err != nil {
				return 0, fmt.Errorf("pose %d: %w", len(p.Poses), err)
			}
			p.Poses = append(p.Poses, pose)
			return n, nil
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var frame Frame
			if err := unmarshalFrame(v, &frame); err != nil {
				return 0, fmt.Errorf("frame %d: %w", len(p.Frames), err)
			}
			p.Frames = append(p.Frames, frame)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func marshalPose(p *Pose) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(p.Timestamp))
	b = appendDouble(b, 2, p.Score)
	for i := range p.Keypoints {
		b = appendMessage(b, 3, marshalKeypoint(&p.Keypoints[i]))
	}
	return b
}

func marshalKeypoint(k *Keypoint) []byte {
	var b []byte
	b = appendString(b, 1, k.Name)
	b = appendDouble(b, 2, k.X)
	b = appendDouble(b, 3, k.Y)
	b = appendDouble(b, 4, k.Z)
	b = appendDouble(b, 5, k.Score)
	return b
}

func marshalFrame(f *Frame) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(f.Timestamp))
	b = appendString(b, 2, f.Encoding)
	b = appendVarint(b, 3, uint64(f.Width))
	b = appendVarint(b, 4, uint64(f.Height))
	b = appendVarint(b, 5, uint64(f.Channels))
	if len(f.Data) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Data)
	}
	if len(f.Pixels) > 0 {
		var packed []byte
		for _, row := range f.Pixels {
			for _, px := range row {
				for _, v := range px {
					packed = protowire.AppendVarint(packed, uint64(v))
				}
			}
		}
		b = appendMessage(b, 7, packed)
	}
	return b
}

func unmarshalPose(data []byte, p *Pose) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Timestamp = int64(v)
			return n, nil
		case num == 2 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			p.Score = math.Float64frombits(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var kp Keypoint
			if err := unmarshalKeypoint(v, &kp); err != nil {
				return 0, err
			}
			p.Keypoints = append(p.Keypoints, kp)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func unmarshalKeypoint(data []byte, k *Keypoint) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			k.Name = v
			return n, nil
		}
		if typ == protowire.Fixed64Type {
			v, n := protowire.ConsumeFixed64(b)
			f := math.Float64frombits(v)
			switch num {
			case 2:
				k.X = f
			case 3:
				k.Y = f
			case 4:
				k.Z = f
			case 5:
				k.Score = f
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func unmarshalFrame(data []byte, f *Frame) error {
	var flat []int
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.Encoding = v
			return n, nil
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				f.Data = append([]byte(nil), v...)
			}
			return n, nil
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			for len(v) > 0 && n >= 0 {
				x, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return m, nil
				}
				flat = append(flat, int(x))
				v = v[m:]
			}
			return n, nil
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case 1:
				f.Timestamp = int64(v)
			case 3:
				f.Width = int(v)
			case 4:
				f.Height = int(v)
			case 5:
				f.Channels = int(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil || len(flat) == 0 {
		return err
	}

	want, ok := types.PixelCount(f.Width, f.Height, f.Channels)
	if !ok {
		return fmt.Errorf("pixels: invalid dimensions %dx%dx%d", f.Width, f.Height, f.Channels)
	}
	if len(flat) != want {
		return fmt.Errorf("pixels: %d values for %dx%dx%d", len(flat), f.Width, f.Height, f.Channels)
	}
	f.Pixels = make([][][]int, f.Height)
	for y := 0; y < f.Height; y++ {
		row := make([][]int, f.Width)
		for x := 0; x < f.Width; x++ {
			off := (y*f.Width + x) * f.Channels
			row[x] = flat[off : off+f.Channels : off+f.Channels]
		}
		f.Pixels[y] = row
	}
	return nil
}

var errTruncated = errors.New("truncated protobuf message")

// walk iterates the fields of one message. fn consumes the field value and
// returns how many bytes it used, or a negative protowire error code.
func walk(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
