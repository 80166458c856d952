package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/audio"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/auth"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/capture"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/metrics"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/transcription"
)

var (
	// ErrSessionActive is returned by Start and Reset while a session is in progress
	ErrSessionActive = errors.New("a recording session is already active")

	// ErrNotRecording is returned by Stop outside the Recording state
	ErrNotRecording = errors.New("not recording")

	// ErrNoTranscript is returned by SaveTranscript when nothing is displayed
	ErrNoTranscript = errors.New("no transcript to save")
)

// TranscriptFilename is the name used when saving the displayed transcript
const TranscriptFilename = "transcript.txt"

// Transcriber uploads a finalized recording for transcription
type Transcriber interface {
	Transcribe(ctx context.Context, sess auth.Session, upload transcription.Upload) (*transcription.TranscribeResult, error)
}

// TickerFunc creates the elapsed-time ticker and returns its channel and stop function
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// Config contains controller settings
type Config struct {
	Payload       audio.PayloadSpec
	RecordingsDir string        // empty keeps recordings in memory only
	TickInterval  time.Duration // defaults to one second
}

// Option customizes a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTicker replaces the elapsed-time ticker
func WithTicker(f TickerFunc) Option {
	return func(c *Controller) { c.newTicker = f }
}

// WithClock replaces the clock used for artifact names and durations
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// session is one recording, from Start until the upload outcome
type session struct {
	id         string
	buffer     *audio.FragmentBuffer
	startedAt  time.Time
	stopTicker func()
	done       chan struct{}
}

// Controller drives one capture device through record, finalize and upload.
// At most one session is active at a time; its device events, ticks and
// upload are serialized on a single goroutine.
type Controller struct {
	device      capture.Device
	transcriber Transcriber
	credentials auth.Provider
	config      Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	newTicker   TickerFunc
	now         func() time.Time

	state         State
	starting      bool // device.Start in progress
	current       *session
	sessionID     string
	elapsed       int
	loading       bool
	transcript    string
	errMsg        string
	loginRequired bool
	artifact      *audio.Artifact
	fragments     int
	done          chan struct{}
	mu            sync.RWMutex

	observers    map[int]func(Snapshot)
	nextObserver int
	publishMu    sync.Mutex
}

// NewController creates a controller in the Idle state
func NewController(device capture.Device, transcriber Transcriber, credentials auth.Provider, config Config, opts ...Option) *Controller {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.Payload.Format == "" {
		config.Payload.Format = audio.FormatWebM
	}

	c := &Controller{
		device:      device,
		transcriber: transcriber,
		credentials: credentials,
		config:      config,
		logger:      slog.Default(),
		newTicker:   defaultTicker,
		now:         time.Now,
		state:       StateIdle,
		observers:   make(map[int]func(Snapshot)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Subscribe registers an observer and returns a function removing it.
// Observers are called synchronously and must not call back into the controller.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn

	return func() {
		c.publishMu.Lock()
		defer c.publishMu.Unlock()
		delete(c.observers, id)
	}
}

// Current returns a snapshot of the controller state
func (c *Controller) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transcript returns the displayed transcript, if any
func (c *Controller) Transcript() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transcript
}

// Start begins a recording session. ctx bounds the capture; the upload that
// follows is not cancelled with it. A device that refuses to start leaves
// the controller Idle and yields an error wrapping capture.ErrPermissionDenied.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Active() || c.starting {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()

	// The device may block (permission prompts, driver init); readers and
	// observers are not held up meanwhile.
	events, err := c.device.Start(ctx)

	c.mu.Lock()
	c.starting = false

	if err != nil {
		if !errors.Is(err, capture.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
		}
		c.state = StateIdle
		c.errMsg = MessagePermissionDenied
		c.mu.Unlock()

		c.logger.Warn("Failed to start audio capture", slog.String("error", err.Error()))
		c.publish()
		return err
	}

	id := uuid.NewString()
	ticks, stop := c.newTicker(c.config.TickInterval)
	var once sync.Once

	sess := &session{
		id:         id,
		buffer:     audio.NewFragmentBuffer(id),
		startedAt:  c.now(),
		stopTicker: func() { once.Do(stop) },
		done:       make(chan struct{}),
	}

	c.state = StateRecording
	c.current = sess
	c.sessionID = id
	c.elapsed = 0
	c.loading = false
	c.transcript = ""
	c.errMsg = ""
	c.loginRequired = false
	c.artifact = nil
	c.fragments = 0
	c.done = sess.done
	c.mu.Unlock()

	c.metrics.RecordRecordingStarted()
	c.logger.Info("Recording started", slog.String("session_id", id))
	c.publish()

	go c.run(ctx, sess, events, ticks)

	return nil
}

// Stop asks the device to finalize the current recording. The elapsed
// counter shown to observers resets immediately.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.state = StateFinalizing
	c.elapsed = 0
	id := c.sessionID
	c.mu.Unlock()

	c.logger.Info("Recording stopping", slog.String("session_id", id))
	c.publish()

	if err := c.device.Stop(); err != nil && !errors.Is(err, capture.ErrNotStarted) {
		c.logger.Warn("Failed to stop audio capture",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to stop capture: %w", err)
	}

	return nil
}

// Reset clears a finished session's transcript, error and artifact and
// returns to Idle
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state.Active() || c.starting {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateIdle
	c.elapsed = 0
	c.transcript = ""
	c.errMsg = ""
	c.loginRequired = false
	c.artifact = nil
	c.fragments = 0
	c.mu.Unlock()

	c.publish()
	return nil
}

// Wait blocks until the most recent session has reached its outcome
func (c *Controller) Wait() {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()

	if done != nil {
		<-done
	}
}

// SaveTranscript writes the displayed transcript to dir/transcript.txt and
// returns the written path
func (c *Controller) SaveTranscript(dir string) (string, error) {
	transcript := c.Transcript()
	if transcript == "" {
		return "", ErrNoTranscript
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, TranscriptFilename)
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}

	return path, nil
}

// run is the session event loop
func (c *Controller) run(ctx context.Context, sess *session, events <-chan capture.Event, ticks <-chan time.Time) {
	defer close(sess.done)
	defer sess.stopTicker()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.abort(sess, "Recording ended unexpectedly")
				return
			}

			switch ev.Kind {
			case capture.FragmentReady:
				c.metrics.RecordFragment(sess.buffer.Append(ev.Data))
			case capture.Finalized:
				sess.stopTicker()
				c.finalize(ctx, sess, ev.Err)
				return
			}

		case <-ticks:
			c.tick(sess)

		case <-ctx.Done():
			c.abort(sess, "Recording cancelled")
			return
		}
	}
}

func (c *Controller) tick(sess *session) {
	c.mu.Lock()
	if c.current != sess || c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	c.mu.Unlock()

	c.publish()
}

// finalize turns the accumulated fragments into one payload and uploads it
func (c *Controller) finalize(ctx context.Context, sess *session, deviceErr error) {
	c.mu.Lock()
	c.state = StateFinalizing
	c.elapsed = 0
	c.mu.Unlock()

	duration := c.now().Sub(sess.startedAt).Seconds()
	stats := sess.buffer.GetStats()

	if deviceErr != nil {
		c.logger.Error("Audio capture failed",
			slog.String("session_id", sess.id),
			slog.String("error", deviceErr.Error()),
		)
		if errors.Is(deviceErr, capture.ErrPermissionDenied) {
			c.end(sess, StateIdle, MessagePermissionDenied)
		} else {
			c.end(sess, StateFailed, fmt.Sprintf("Recording failed: %v", deviceErr))
		}
		c.metrics.RecordRecordingFinished(metrics.OutcomeFailed, duration)
		return
	}

	payload, err := audio.Finalize(sess.buffer, c.config.Payload)
	if err != nil {
		c.logger.Error("Failed to finalize recording",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
		c.end(sess, StateFailed, fmt.Sprintf("Recording failed: %v", err))
		c.metrics.RecordRecordingFinished(metrics.OutcomeFailed, duration)
		return
	}

	if len(payload) == 0 {
		c.logger.Info("Recording produced no audio, skipping upload",
			slog.String("session_id", sess.id),
			slog.Int("empty_fragments", int(stats.EmptyDropped)),
		)
		c.end(sess, StateIdle, "")
		c.metrics.RecordRecordingFinished(metrics.OutcomeEmpty, duration)
		return
	}

	attrs := []any{
		slog.String("session_id", sess.id),
		slog.Int("fragments", stats.Fragments),
		slog.Int("bytes", len(payload)),
		slog.Float64("duration_seconds", duration),
	}
	if c.config.Payload.Format == audio.FormatWAV {
		info, err := audio.GetWAVInfo(payload)
		if err != nil {
			c.logger.Error("Finalized WAV payload is invalid",
				slog.String("session_id", sess.id),
				slog.String("error", err.Error()),
			)
			c.end(sess, StateFailed, fmt.Sprintf("Recording failed: %v", err))
			c.metrics.RecordRecordingFinished(metrics.OutcomeFailed, duration)
			return
		}
		attrs = append(attrs, slog.Float64("audio_seconds", info.Duration))
	}

	c.metrics.RecordPayload(len(payload))
	c.logger.Info("Recording finalized", attrs...)

	if artifact := c.writeArtifact(sess, payload); artifact != nil {
		c.mu.Lock()
		c.artifact = artifact
		c.mu.Unlock()
	}

	outcome := c.upload(ctx, sess, payload)
	c.metrics.RecordRecordingFinished(outcome, duration)
}

// upload sends the payload with the current credential. The loading flag is
// set for exactly the duration of the request.
func (c *Controller) upload(ctx context.Context, sess *session, payload []byte) string {
	cred := c.credentials.Current()
	if !cred.Authenticated() {
		c.logger.Warn("Upload skipped: not logged in", slog.String("session_id", sess.id))
		c.metrics.RecordUploadFailure(metrics.FailureUnauthenticated, 0)

		c.mu.Lock()
		c.loginRequired = true
		c.mu.Unlock()
		c.end(sess, StateFailed, MessageLoginRequired)
		return metrics.OutcomeFailed
	}

	c.mu.Lock()
	c.state = StateUploading
	c.loading = true
	c.mu.Unlock()
	c.publish()

	c.metrics.RecordUploadRequest()

	format := c.config.Payload.Format
	upload := transcription.Upload{
		Data:        payload,
		Filename:    audio.UploadFilename(format),
		ContentType: audio.ContentType(format),
	}

	var (
		result *transcription.TranscribeResult
		err    error
	)

	defer func() {
		c.mu.Lock()
		c.loading = false
		if c.current == sess {
			c.current = nil
			c.fragments = sess.buffer.Count()
			sess.buffer.Reset()
		}
		if err != nil {
			c.state = StateFailed
			c.errMsg, c.loginRequired = describeUploadError(err)
		} else {
			c.state = StateDone
			c.transcript = result.DisplayText()
		}
		c.mu.Unlock()
		c.publish()
	}()

	started := time.Now()
	result, err = c.transcriber.Transcribe(context.WithoutCancel(ctx), cred, upload)
	if err == nil && result == nil {
		err = transcription.ErrInvalidResponse
	}
	elapsed := time.Since(started).Seconds()

	if err != nil {
		c.metrics.RecordUploadFailure(failureKind(err), elapsed)
		c.logger.Error("Transcription upload failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
		return metrics.OutcomeFailed
	}

	c.metrics.RecordUploadSuccess(elapsed)
	c.logger.Info("Transcription received",
		slog.String("session_id", sess.id),
		slog.Bool("has_transcript", result.HasTranscript),
		slog.Float64("upload_seconds", elapsed),
	)
	return metrics.OutcomeTranscribed
}

// end closes the session with a final state and message and discards its fragments
func (c *Controller) end(sess *session, state State, message string) {
	c.mu.Lock()
	if c.current == sess {
		c.current = nil
		c.fragments = sess.buffer.Count()
		sess.buffer.Reset()
	}
	c.state = state
	c.elapsed = 0
	c.errMsg = message
	c.mu.Unlock()

	c.publish()
}

// abort ends a session whose device vanished without finalizing
func (c *Controller) abort(sess *session, message string) {
	c.logger.Warn("Recording aborted",
		slog.String("session_id", sess.id),
		slog.String("reason", message),
	)
	c.end(sess, StateIdle, message)
	c.metrics.RecordRecordingFinished(metrics.OutcomeCancelled, c.now().Sub(sess.startedAt).Seconds())
}

func (c *Controller) writeArtifact(sess *session, payload []byte) *audio.Artifact {
	if c.config.RecordingsDir == "" {
		return nil
	}

	artifact, err := audio.WriteArtifact(c.config.RecordingsDir, c.config.Payload.Format, payload, c.now())
	if err != nil {
		c.logger.Warn("Failed to store recording locally",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
		return nil
	}

	c.logger.Debug("Recording stored",
		slog.String("session_id", sess.id),
		slog.String("path", artifact.Path),
	)
	return artifact
}

// publish delivers the current snapshot to every observer
func (c *Controller) publish() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	if len(c.observers) == 0 {
		return
	}

	snap := c.Current()
	for _, fn := range c.observers {
		fn(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          c.state,
		StateName:      c.state.String(),
		SessionID:      c.sessionID,
		ElapsedSeconds: c.elapsed,
		Elapsed:        FormatElapsed(c.elapsed),
		Loading:        c.loading,
		Transcript:     c.transcript,
		Error:          c.errMsg,
		LoginRequired:  c.loginRequired,
		Fragments:      c.fragments,
		UpdatedAt:      c.now(),
	}
	if c.current != nil {
		snap.Fragments = c.current.buffer.Count()
	}
	if c.artifact != nil {
		a := *c.artifact
		snap.Artifact = &a
	}
	return snap
}

// describeUploadError maps an upload failure to the message shown to the user
func describeUploadError(err error) (string, bool) {
	if errors.Is(err, transcription.ErrUnauthenticated) {
		return MessageLoginRequired, true
	}
	if se, ok := transcription.IsServerError(err); ok {
		return se.Error(), false
	}
	return MessageUploadFailed, false
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, transcription.ErrUnauthenticated):
		return metrics.FailureUnauthenticated
	case transcription.IsNetworkError(err):
		return metrics.FailureNetwork
	default:
		if _, ok := transcription.IsServerError(err); ok {
			return metrics.FailureServer
		}
		return metrics.FailureOther
	}
}
