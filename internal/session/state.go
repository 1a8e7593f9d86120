package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy is returned by Start when a session is already preparing, active or stopping.
	ErrBusy = errors.New("session already in progress")
	// ErrNotActive is returned by Stop when no session is recording.
	ErrNotActive = errors.New("no active session")
)

// State is the controller state.
type State uint32

const (
	Idle State = iota
	Preparing
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Stopping; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Info describes the session to start. An empty ID asks the provisioner for one.
type Info struct {
	ID          string `json:"sessionId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Status is a snapshot of the controller.
type Status struct {
	State           State      `json:"state"`
	SessionID       string     `json:"sessionId,omitempty"`
	ClipID          string     `json:"clipId,omitempty"`
	Name            string     `json:"name,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	ElapsedSeconds  int64      `json:"elapsedSeconds"`
	FPS             int64      `json:"fps"`
	FramesProcessed uint64     `json:"framesProcessed"`
	FramesDropped   uint64     `json:"framesDropped"`
	BatchesFlushed  uint64     `json:"batchesFlushed"`
	LastError       string     `json:"lastError,omitempty"`
}

// FPS converts the latency of one frame iteration to a frame rate.
// Latencies under a millisecond count as one millisecond.
func FPS(latency time.Duration) int64 {
	ms := max(latency.Milliseconds(), 1)
	return 1000 / ms
}
