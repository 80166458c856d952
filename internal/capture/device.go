package capture

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the audio input cannot be opened
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrAlreadyStarted is returned by Start on a running device
	ErrAlreadyStarted = errors.New("device already started")

	// ErrNotStarted is returned by Stop on an idle device
	ErrNotStarted = errors.New("device not started")
)

// EventKind identifies a device event
type EventKind int

const (
	// FragmentReady carries one encoded audio fragment
	FragmentReady EventKind = iota
	// Finalized is the last event of a capture; Err is set when the device
	// failed instead of being stopped
	Finalized
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case FragmentReady:
		return "fragment_ready"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Event is delivered by a device on its event channel
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Device is an audio input that can be started and asked to finalize
type Device interface {
	// Start opens the input and returns the event channel. The channel is
	// closed after the Finalized event. Cancelling ctx aborts the capture.
	Start(ctx context.Context) (<-chan Event, error)

	// Stop asks the device to flush and emit Finalized. It does not wait.
	Stop() error
}

// send delivers ev unless ctx is done
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
