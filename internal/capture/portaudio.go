//go:build portaudio

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures 16-bit PCM from the default input through the
// PortAudio library. One fragment is emitted per filled stream buffer.
type PortAudioDevice struct {
	config PortAudioConfig
	logger *slog.Logger

	running bool
	stop    chan struct{}
	mu      sync.Mutex
}

// NewPortAudioDevice creates a device reading the default PortAudio input
func NewPortAudioDevice(config PortAudioConfig, logger *slog.Logger) (*PortAudioDevice, error) {
	config, err := config.normalize()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PortAudioDevice{config: config, logger: logger}, nil
}

func newPortAudioDevice(config PortAudioConfig, logger *slog.Logger) (Device, error) {
	dev, err := NewPortAudioDevice(config, logger)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Start initializes PortAudio and opens the default input stream. Any
// failure to open the input is reported as ErrPermissionDenied.
func (d *PortAudioDevice) Start(ctx context.Context) (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil, ErrAlreadyStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %v", ErrPermissionDenied, err)
	}

	in := make([]int16, d.config.FramesPerBuffer*d.config.Channels)
	stream, err := portaudio.OpenDefaultStream(d.config.Channels, 0, float64(d.config.SampleRate), d.config.FramesPerBuffer, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open input stream failed: %v", ErrPermissionDenied, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: start input stream failed: %v", ErrPermissionDenied, err)
	}

	d.logger.Debug("PortAudio stream started",
		slog.Int("sample_rate", d.config.SampleRate),
		slog.Int("channels", d.config.Channels),
		slog.Int("frames_per_buffer", d.config.FramesPerBuffer),
	)

	d.running = true
	d.stop = make(chan struct{})

	events := make(chan Event, 16)
	go d.run(ctx, stream, in, d.stop, events)

	return events, nil
}

// Stop ends the read loop; the device then emits Finalized
func (d *PortAudioDevice) Stop() error {
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

func (d *PortAudioDevice) run(ctx context.Context, stream *portaudio.Stream, in []int16, stop <-chan struct{}, events chan<- Event) {
	defer close(events)

	var (
		final    error
		produced int
		overruns int
	)

loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ctx.Done():
			final = ctx.Err()
			break loop
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				overruns++
				continue
			}
			final = fmt.Errorf("portaudio read failed: %w", err)
			break
		}

		fragment := samplesToPCM(in)
		produced += len(fragment)
		if !send(ctx, events, Event{Kind: FragmentReady, Data: fragment}) {
			final = ctx.Err()
			break
		}
	}

	if err := stream.Stop(); err != nil {
		d.logger.Warn("Failed to stop PortAudio stream", slog.String("error", err.Error()))
	}
	stream.Close()
	portaudio.Terminate()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.logger.Debug("PortAudio stream closed",
		slog.Int("bytes", produced),
		slog.Int("overruns", overruns),
	)

	send(ctx, events, Event{Kind: Finalized, Err: final})
}
