package audio

import (
	"sync"
)

// FragmentBuffer accumulates the binary fragments delivered by a capture device
// for one recording session. Fragments are kept in arrival order; the finalized
// payload is their sequential concatenation.
type FragmentBuffer struct {
	sessionID string

	// Fragment storage, in arrival order
	fragments  [][]byte
	totalBytes int

	emptyDropped uint32 // Fragments ignored because they carried no data

	mu sync.RWMutex
}

// FragmentStats represents buffer statistics for monitoring
type FragmentStats struct {
	SessionID    string `json:"session_id"`
	Fragments    int    `json:"fragments"`
	TotalBytes   int    `json:"total_bytes"`
	EmptyDropped uint32 `json:"empty_dropped"`
}

// NewFragmentBuffer creates an empty buffer for the given session
func NewFragmentBuffer(sessionID string) *FragmentBuffer {
	return &FragmentBuffer{
		sessionID: sessionID,
		fragments: make([][]byte, 0, 64),
	}
}

// Append stores a copy of data as the next fragment. Empty fragments are
// dropped and reported as not appended.
func (b *FragmentBuffer) Append(data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(data) == 0 {
		b.emptyDropped++
		return false
	}

	fragment := make([]byte, len(data))
	copy(fragment, data)

	b.fragments = append(b.fragments, fragment)
	b.totalBytes += len(fragment)

	return true
}

// Concat returns all fragments joined in arrival order. It returns nil when
// no fragment has been appended.
func (b *FragmentBuffer) Concat() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.totalBytes == 0 {
		return nil
	}

	payload := make([]byte, 0, b.totalBytes)
	for _, fragment := range b.fragments {
		payload = append(payload, fragment...)
	}

	return payload
}

// Reset discards all accumulated fragments
func (b *FragmentBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fragments = b.fragments[:0]
	b.totalBytes = 0
	b.emptyDropped = 0
}

// GetStats returns current buffer statistics
func (b *FragmentBuffer) GetStats() FragmentStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return FragmentStats{
		SessionID:    b.sessionID,
		Fragments:    len(b.fragments),
		TotalBytes:   b.totalBytes,
		EmptyDropped: b.emptyDropped,
	}
}

// Count returns the number of stored fragments
func (b *FragmentBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.fragments)
}

// Size returns the number of accumulated bytes
func (b *FragmentBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalBytes
}
