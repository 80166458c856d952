package transcription

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// NoTranscriptPlaceholder is shown when a successful upload carries no transcript
const NoTranscriptPlaceholder = "No transcript received"

// previewRunes is the number of transcript characters shown in history listings
const previewRunes = 200

// TranscribeResult is the validated response of POST /transcribe
type TranscribeResult struct {
	Status          string  `json:"status,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Transcript      string  `json:"transcript"`
	HasTranscript   bool    `json:"-"`
}

// DisplayText returns the transcript, or the placeholder when the backend
// sent none
func (r *TranscribeResult) DisplayText() string {
	if !r.HasTranscript || r.Transcript == "" {
		return NoTranscriptPlaceholder
	}
	return r.Transcript
}

type transcribeResponse struct {
	Status          string  `json:"status"`
	Filename        string  `json:"filename"`
	DurationSeconds float64 `json:"duration_seconds"`
	Transcript      *string `json:"transcript"`
}

func (r transcribeResponse) result() *TranscribeResult {
	res := &TranscribeResult{
		Status:          r.Status,
		Filename:        r.Filename,
		DurationSeconds: r.DurationSeconds,
	}
	if r.Transcript != nil {
		res.Transcript = *r.Transcript
		res.HasTranscript = true
	}
	return res
}

// HistoryEntry is one item of GET /history
type HistoryEntry struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Transcript      string    `json:"transcript"`
	AudioFilename   string    `json:"audio_filename,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	CreatedAt       Timestamp `json:"created_at"`
}

// Validate checks the fields every entry must carry
func (h HistoryEntry) Validate() error {
	if h.ID <= 0 {
		return fmt.Errorf("history entry has invalid id %d", h.ID)
	}
	return nil
}

// DisplayTitle returns the entry title, falling back to transcript_<id>
func (h HistoryEntry) DisplayTitle() string {
	if strings.TrimSpace(h.Title) != "" {
		return h.Title
	}
	return fmt.Sprintf("transcript_%d", h.ID)
}

// Preview returns the first 200 characters of the transcript, with an
// ellipsis when it was cut
func (h HistoryEntry) Preview() string {
	if utf8.RuneCountInString(h.Transcript) <= previewRunes {
		return h.Transcript
	}
	runes := []rune(h.Transcript)
	return string(runes[:previewRunes]) + "..."
}

// Timestamp decodes the created_at formats the backend emits: RFC 3339,
// HTTP dates (RFC 1123 with GMT) and MySQL-style "2006-01-02 15:04:05".
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	http.TimeFormat,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("created_at must be a string: %w", err)
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}

	return fmt.Errorf("unrecognised created_at format: %q", s)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// DocumentKind selects the transcript export format
type DocumentKind string

const (
	DocumentDocx DocumentKind = "docx"
	DocumentText DocumentKind = "txt"
)

// LatestDocument addresses the most recent transcript in docx downloads
const LatestDocument = "latest"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	BytesUploaded   uint64        `json:"bytes_uploaded"`
}
