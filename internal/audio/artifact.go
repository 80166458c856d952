package audio

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Supported payload formats
const (
	FormatWebM = "webm"
	FormatWAV  = "wav"
)

// PayloadSpec describes how fragments are turned into an uploadable payload
type PayloadSpec struct {
	Format     string // FormatWebM or FormatWAV
	SampleRate int    // used by FormatWAV
	Channels   int    // used by FormatWAV
}

// Artifact is a finalized recording written to local storage
type Artifact struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Size      int       `json:"size_bytes"`
	Format    string    `json:"format"`
	Duration  float64   `json:"duration_seconds,omitempty"` // audio length, WAV only
	CreatedAt time.Time `json:"created_at"`
}

// Finalize concatenates the buffer's fragments into one payload. Fragments
// captured as raw PCM are wrapped into a WAV container. A buffer without data
// yields a nil payload and no error.
func Finalize(buf *FragmentBuffer, spec PayloadSpec) ([]byte, error) {
	payload := buf.Concat()
	if len(payload) == 0 {
		return nil, nil
	}

	switch spec.Format {
	case FormatWebM:
		return payload, nil
	case FormatWAV:
		wav, err := WrapPCM(payload, spec.SampleRate, spec.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap PCM payload: %w", err)
		}
		return wav, nil
	default:
		return nil, fmt.Errorf("unsupported payload format: %s", spec.Format)
	}
}

// ContentType returns the MIME type used when uploading a payload of the given format
func ContentType(format string) string {
	switch format {
	case FormatWAV:
		return "audio/wav"
	default:
		return "audio/webm"
	}
}

// UploadFilename returns the file name sent with the multipart upload
func UploadFilename(format string) string {
	return "recording." + format
}

// RecordingFilename returns the local download name for a recording made at t
func RecordingFilename(format string, t time.Time) string {
	return fmt.Sprintf("recording_%d.%s", t.UnixMilli(), format)
}

// WriteArtifact stores a finalized payload under dir and returns a locally
// playable file URL for it
func WriteArtifact(dir, format string, payload []byte, now time.Time) (*Artifact, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("cannot write empty recording")
	}

	var duration float64
	if format == FormatWAV {
		info, err := GetWAVInfo(payload)
		if err != nil {
			return nil, fmt.Errorf("refusing to store invalid WAV recording: %w", err)
		}
		duration = info.Duration
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, RecordingFilename(format, now))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write recording %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &Artifact{
		Path:      abs,
		URL:       (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(),
		Size:      len(payload),
		Format:    format,
		Duration:  duration,
		CreatedAt: now,
	}, nil
}
