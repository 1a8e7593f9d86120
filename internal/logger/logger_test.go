package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Batch", "dropped")
	l.Warn("Batch", "kept %d", 1)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info message written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Batch] kept 1") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)

	w := l.Writer(INFO, "GIN")
	if _, err := w.Write([]byte("first\nsecond\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := strings.Count(buf.String(), "[INFO] [GIN]"); got != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", got, buf.String())
	}
}

func TestModuleUsesGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(DEBUG, &buf, false)
	defer Init(INFO, nil, false)

	Module("Uploader").Debug("sent %d", 3)

	if !strings.Contains(buf.String(), "[DEBUG] [Uploader] sent 3") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
