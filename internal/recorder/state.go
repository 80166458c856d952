package recorder

import (
	"fmt"
	"time"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/audio"
)

// State is the controller's position in the capture-and-upload lifecycle
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateUploading
	StateDone
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateUploading:
		return "uploading"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a recording session is in progress
func (s State) Active() bool {
	return s == StateRecording || s == StateFinalizing || s == StateUploading
}

// Messages shown to the user for failures the controller recovers from
const (
	MessagePermissionDenied = "Please allow microphone access and try again."
	MessageLoginRequired    = "Please log in first."
	MessageUploadFailed     = "Failed to upload audio"
)

// Snapshot is the observable view of the controller. Observers receive one
// after every transition and every elapsed-time tick.
type Snapshot struct {
	State          State           `json:"-"`
	StateName      string          `json:"state"`
	SessionID      string          `json:"session_id,omitempty"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	Elapsed        string          `json:"elapsed"`
	Loading        bool            `json:"loading"`
	Transcript     string          `json:"transcript,omitempty"`
	Error          string          `json:"error,omitempty"`
	LoginRequired  bool            `json:"login_required,omitempty"`
	Fragments      int             `json:"fragments"`
	Artifact       *audio.Artifact `json:"artifact,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FormatElapsed renders seconds as zero-padded MM:SS. Minutes are not
// wrapped at one hour.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
