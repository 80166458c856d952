package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// CommandConfig configures an external recorder process
type CommandConfig struct {
	Driver       string // "ffmpeg" or "arecord"
	Command      string // binary override, defaults to the driver name
	InputDevice  string
	Format       string // "webm" (ffmpeg only) or "wav"; wav is captured as raw PCM
	SampleRate   int
	Channels     int
	FragmentSize int
}

// CommandDevice captures audio by running ffmpeg or arecord and reading
// the encoded stream from its stdout
type CommandDevice struct {
	config CommandConfig
	logger *slog.Logger

	cmd      *exec.Cmd
	stopping bool
	mu       sync.Mutex
}

// NewCommandDevice creates a device for the given recorder configuration
func NewCommandDevice(config CommandConfig, logger *slog.Logger) (*CommandDevice, error) {
	if config.Driver != DriverFFmpeg && config.Driver != DriverARecord {
		return nil, fmt.Errorf("unsupported capture driver: %s", config.Driver)
	}
	if config.Driver == DriverARecord && config.Format != "wav" {
		return nil, fmt.Errorf("arecord only captures wav, got %s", config.Format)
	}
	if config.FragmentSize <= 0 {
		config.FragmentSize = 4096
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.InputDevice == "" {
		config.InputDevice = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandDevice{config: config, logger: logger}, nil
}

// Binary returns the recorder executable name
func (d *CommandDevice) Binary() string {
	if d.config.Command != "" {
		return d.config.Command
	}
	return d.config.Driver
}

// Args returns the recorder command line, excluding the binary
func (d *CommandDevice) Args() []string {
	rate := strconv.Itoa(d.config.SampleRate)
	channels := strconv.Itoa(d.config.Channels)

	if d.config.Driver == "arecord" {
		return []string{
			"-q",
			"-D", d.config.InputDevice,
			"-f", "S16_LE",
			"-r", rate,
			"-c", channels,
			"-t", "raw",
		}
	}

	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-f", ffmpegInputFormat(), "-i", ffmpegInputName(d.config.InputDevice),
		"-ac", channels, "-ar", rate,
	}
	if d.config.Format == "wav" {
		return append(args, "-f", "s16le", "-")
	}
	return append(args, "-c:a", "libopus", "-f", "webm", "-")
}

// Start launches the recorder process. Failing to launch it is reported as
// ErrPermissionDenied.
func (d *CommandDevice) Start(ctx context.Context) (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return nil, ErrAlreadyStarted
	}

	cmd := exec.CommandContext(ctx, d.Binary(), d.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder output: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	detachFromTerminal(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: cannot start %s: %v", ErrPermissionDenied, d.Binary(), err)
	}

	d.logger.Debug("Recorder process started",
		slog.String("binary", d.Binary()),
		slog.String("args", strings.Join(d.Args(), " ")),
		slog.Int("pid", cmd.Process.Pid),
	)

	d.cmd = cmd
	d.stopping = false

	events := make(chan Event, 16)
	go d.run(ctx, cmd, stdout, stderr, events)

	return events, nil
}

// Stop interrupts the recorder so it flushes its container trailer and exits
func (d *CommandDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd == nil || d.cmd.Process == nil {
		return ErrNotStarted
	}
	if d.stopping {
		return nil
	}
	d.stopping = true

	if err := d.cmd.Process.Signal(os.Interrupt); err != nil {
		return d.cmd.Process.Kill()
	}
	return nil
}

func (d *CommandDevice) run(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, events chan<- Event) {
	defer close(events)

	var (
		readErr  error
		produced int
	)

	buf := make([]byte, d.config.FragmentSize)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			fragment := make([]byte, n)
			copy(fragment, buf[:n])
			produced += n
			if !send(ctx, events, Event{Kind: FragmentReady, Data: fragment}) {
				readErr = ctx.Err()
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = err
			}
			break
		}
	}

	waitErr := cmd.Wait()

	d.mu.Lock()
	stopping := d.stopping
	d.cmd = nil
	d.stopping = false
	d.mu.Unlock()

	final := readErr
	if final == nil && waitErr != nil && !stopping {
		detail := strings.TrimSpace(stderr.String())
		if produced > 0 && interruptedExit(waitErr) {
			// Interrupted from outside before Stop was called; the audio so
			// far is still a complete recording
			d.logger.Info("Recorder interrupted, finalizing captured audio",
				slog.String("binary", d.Binary()),
				slog.String("exit", waitErr.Error()),
			)
		} else if produced == 0 {
			// The recorder never produced audio: the input could not be opened
			final = fmt.Errorf("%w: %s: %v %s", ErrPermissionDenied, d.Binary(), waitErr, detail)
		} else {
			final = fmt.Errorf("%s exited: %v %s", d.Binary(), waitErr, detail)
		}
	}

	d.logger.Debug("Recorder process exited",
		slog.String("binary", d.Binary()),
		slog.Int("bytes", produced),
		slog.Bool("stopped", stopping),
	)

	send(ctx, events, Event{Kind: Finalized, Err: final})
}

// interruptedExit reports whether the recorder died from a signal or exited
// with 255, which is how ffmpeg reports an interrupt
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	code := exitErr.ExitCode()
	return code == -1 || code == 255
}

func ffmpegInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "alsa"
	}
}

func ffmpegInputName(device string) string {
	switch runtime.GOOS {
	case "darwin":
		if device == "default" {
			return ":0"
		}
		return device
	case "windows":
		if !strings.HasPrefix(device, "audio=") {
			return "audio=" + device
		}
		return device
	default:
		return device
	}
}
