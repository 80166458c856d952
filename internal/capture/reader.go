package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ReaderConfig configures a ReaderDevice
type ReaderConfig struct {
	FragmentSize int
	Interval     time.Duration // pause between fragments, zero for none
	StopAtEOF    bool          // finalize on EOF instead of waiting for Stop
}

// ReaderDevice emits fragments read from an io.Reader
type ReaderDevice struct {
	reader io.Reader
	config ReaderConfig

	running bool
	stop    chan struct{}
	mu      sync.Mutex
}

// NewReaderDevice creates a device reading from r
func NewReaderDevice(r io.Reader, config ReaderConfig) *ReaderDevice {
	if config.FragmentSize <= 0 {
		config.FragmentSize = 4096
	}
	return &ReaderDevice{reader: r, config: config}
}

// Start begins emitting fragments. A nil reader cannot be opened and is
// reported as ErrPermissionDenied.
func (d *ReaderDevice) Start(ctx context.Context) (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader == nil {
		return nil, fmt.Errorf("%w: no input", ErrPermissionDenied)
	}
	if d.running {
		return nil, ErrAlreadyStarted
	}

	d.running = true
	d.stop = make(chan struct{})

	events := make(chan Event, 16)
	go d.run(ctx, d.stop, events)

	return events, nil
}

// Stop ends the capture; fragments not yet read are discarded
func (d *ReaderDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrNotStarted
	}
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	return nil
}

func (d *ReaderDevice) run(ctx context.Context, stop <-chan struct{}, events chan<- Event) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		close(events)
	}()

	var final error
	buf := make([]byte, d.config.FragmentSize)

	for {
		select {
		case <-stop:
			send(ctx, events, Event{Kind: Finalized})
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.reader.Read(buf)
		if n > 0 {
			fragment := make([]byte, n)
			copy(fragment, buf[:n])
			if !send(ctx, events, Event{Kind: FragmentReady, Data: fragment}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				final = err
			}
			break
		}

		if d.config.Interval > 0 {
			timer := time.NewTimer(d.config.Interval)
			select {
			case <-timer.C:
			case <-stop:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}

	if final == nil && !d.config.StopAtEOF {
		// Input exhausted; hold the capture open until asked to stop
		select {
		case <-stop:
		case <-ctx.Done():
			return
		}
	}

	send(ctx, events, Event{Kind: Finalized, Err: final})
}
