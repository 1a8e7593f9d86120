package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
)

func TestFramePath(t *testing.T) {
	tests := []struct {
		sid, clip string
		ts        int64
		enc       string
		want      string
		wantErr   bool
	}{
		{"s1", "c1", 42, "jpeg", filepath.Join("s1", "c1", "42.jpg"), false},
		{"s1", "c1", 42, "raw", filepath.Join("s1", "c1", "42.json"), false},
		{"..", "c1", 1, "jpeg", "", true},
		{"s1", "a/b", 1, "jpeg", "", true},
		{"", "c1", 1, "jpeg", "", true},
	}
	for _, tt := range tests {
		got, err := FramePath(tt.sid, tt.clip, tt.ts, tt.enc)
		if (err != nil) != tt.wantErr {
			t.Errorf("FramePath(%q, %q) error = %v", tt.sid, tt.clip, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FramePath(%q, %q) = %q, want %q", tt.sid, tt.clip, got, tt.want)
		}
	}
}

func TestRecorderWritesFrames(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, 8)

	if _, ok := r.SendFrame("s", "c", wire.Frame{Timestamp: 1, Encoding: "jpeg"}); ok {
		t.Fatal("frame accepted before Start")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}

	jpegPath, ok := r.SendFrame("s", "c", wire.Frame{Timestamp: 1, Encoding: "jpeg", Data: []byte{0xff, 0xd8}})
	if !ok {
		t.Fatal("jpeg frame dropped")
	}
	rawPath, ok := r.SendFrame("s", "c", wire.Frame{Timestamp: 2, Encoding: "raw", Width: 1, Height: 1, Channels: 1, Pixels: [][][]int{{{7}}}})
	if !ok {
		t.Fatal("raw frame dropped")
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, jpegPath))
	if err != nil || len(data) != 2 {
		t.Fatalf("jpeg file: %v (%d bytes)", err, len(data))
	}
	raw, err := os.ReadFile(filepath.Join(dir, rawPath))
	if err != nil {
		t.Fatalf("raw file: %v", err)
	}
	var f wire.Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Pixels[0][0][0] != 7 {
		t.Fatalf("raw frame = %+v, %v", f, err)
	}

	st := r.GetStatus()
	if st.FrameCount != 2 || st.Recording || st.WriteErrors != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(t.TempDir(), 2)
	r.recording = true // accept frames without a writer draining them

	sent := 0
	for i := 0; i < 3; i++ {
		if _, ok := r.SendFrame("s", "c", wire.Frame{Timestamp: int64(i + 1), Encoding: "jpeg"}); ok {
			sent++
		}
	}
	if st := r.GetStatus(); sent != 2 || st.Dropped != 1 {
		t.Fatalf("sent %d, dropped %d", sent, st.Dropped)
	}
}

func TestStatusDurationInMilliseconds(t *testing.T) {
	r := NewRecorder(t.TempDir(), 1)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()
	time.Sleep(20 * time.Millisecond)

	data, err := json.Marshal(r.GetStatus())
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		DurationMs int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.DurationMs < 20 || out.DurationMs > 60_000 {
		t.Fatalf("duration_ms = %d", out.DurationMs)
	}
}
