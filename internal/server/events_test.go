package server

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/recorder"
)

// countingSource tracks observers registered by the hub
type countingSource struct {
	observers map[int]func(recorder.Snapshot)
	next      int
	mu        sync.Mutex
}

func (s *countingSource) Subscribe(fn func(recorder.Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.observers == nil {
		s.observers = make(map[int]func(recorder.Snapshot))
	}
	id := s.next
	s.next++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *countingSource) Current() recorder.Snapshot {
	return recorder.Snapshot{}
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func TestEventHubCloseDetachesFromRecorder(t *testing.T) {
	src := &countingSource{}
	hub := newEventHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	hub.attach(src)
	if src.count() != 1 {
		t.Fatalf("Expected 1 observer after attach, got %d", src.count())
	}

	ch, ok := hub.subscribe()
	if !ok {
		t.Fatal("Expected subscribe to succeed before close")
	}

	hub.close()
	if src.count() != 0 {
		t.Errorf("Expected 0 observers after close, got %d", src.count())
	}
	if _, open := <-ch; open {
		t.Error("Expected subscriber channel to be closed")
	}

	// A second close must not panic or detach twice
	hub.close()

	if _, ok := hub.subscribe(); ok {
		t.Error("Expected subscribe to fail after close")
	}
}
