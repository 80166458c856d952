package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/audio"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/auth"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/capture"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/metrics"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/transcription"
)

// fakeDevice is a capture device driven by the test
type fakeDevice struct {
	startErr error
	entered  chan struct{} // closed when Start is entered, if set
	release  chan struct{} // Start blocks until closed, if set

	events chan capture.Event
	stops  int
	mu     sync.Mutex
}

func (d *fakeDevice) Start(ctx context.Context) (<-chan capture.Event, error) {
	if d.entered != nil {
		close(d.entered)
	}
	if d.release != nil {
		<-d.release
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.startErr != nil {
		return nil, d.startErr
	}
	d.events = make(chan capture.Event, 256)
	return d.events, nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) fragment(data []byte) {
	d.mu.Lock()
	events := d.events
	d.mu.Unlock()
	events <- capture.Event{Kind: capture.FragmentReady, Data: data}
}

func (d *fakeDevice) finalize(err error) {
	d.mu.Lock()
	events := d.events
	d.mu.Unlock()
	events <- capture.Event{Kind: capture.Finalized, Err: err}
	close(events)
}

// fakeTranscriber records uploads and returns a canned response
type fakeTranscriber struct {
	result *transcription.TranscribeResult
	err    error
	block  chan struct{}

	uploads []transcription.Upload
	mu      sync.Mutex
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, sess auth.Session, upload transcription.Upload) (*transcription.TranscribeResult, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, upload)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

func (f *fakeTranscriber) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// manualTicker hands the test control over elapsed-time ticks
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) factory(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func (m *manualTicker) tick(n int) {
	for i := 0; i < n; i++ {
		m.ch <- time.Now()
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, c *Controller, desc string, cond func(Snapshot) bool) Snapshot {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Current()
		if cond(snap) {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s, last snapshot %+v", desc, c.Current())
	return Snapshot{}
}

// transcribeServer is a backend stand-in counting /transcribe requests
type transcribeServer struct {
	*httptest.Server
	calls    int32
	received []byte
	filename string
	mu       sync.Mutex
}

func newTranscribeServer(t *testing.T, status int, body string) *transcribeServer {
	t.Helper()

	ts := &transcribeServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.calls, 1)

		if file, header, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(file)
			file.Close()
			ts.mu.Lock()
			ts.received = data
			ts.filename = header.Filename
			ts.mu.Unlock()
		}

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T, baseURL string) *transcription.Client {
	t.Helper()
	client, err := transcription.NewClient(transcription.Config{BaseURL: baseURL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestRecordAndTranscribe(t *testing.T) {
	srv := newTranscribeServer(t, http.StatusOK, `{"status":"ok","transcript":"hello world"}`)
	dev := &fakeDevice{}
	ticker := newManualTicker()
	dir := t.TempDir()

	c := NewController(dev, newClient(t, srv.URL), auth.Static{Token: "tok", Username: "alice"},
		Config{Payload: audio.PayloadSpec{Format: audio.FormatWebM}, RecordingsDir: dir},
		WithLogger(quietLogger()), WithTicker(ticker.factory))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("Expected recording, got %s", c.State())
	}

	dev.fragment([]byte("AB"))
	dev.fragment([]byte("C"))
	ticker.tick(3)

	snap := waitFor(t, c, "elapsed 00:03", func(s Snapshot) bool { return s.ElapsedSeconds == 3 })
	if snap.Elapsed != "00:03" {
		t.Errorf("Expected 00:03, got %s", snap.Elapsed)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	snap = c.Current()
	if snap.Elapsed != "00:00" {
		t.Errorf("Expected elapsed reset to 00:00 on stop, got %s", snap.Elapsed)
	}
	if snap.State != StateFinalizing {
		t.Errorf("Expected finalizing after stop, got %s", snap.State)
	}

	dev.finalize(nil)
	c.Wait()

	snap = c.Current()
	if snap.State != StateDone {
		t.Fatalf("Expected done, got %s (%s)", snap.State, snap.Error)
	}
	if snap.Transcript != "hello world" {
		t.Errorf("Expected hello world, got %q", snap.Transcript)
	}
	if snap.Loading {
		t.Error("Expected loading to be cleared")
	}

	srv.mu.Lock()
	received, filename := srv.received, srv.filename
	srv.mu.Unlock()
	if string(received) != "ABC" {
		t.Errorf("Expected uploaded payload ABC, got %q", received)
	}
	if filename != "recording.webm" {
		t.Errorf("Expected filename recording.webm, got %s", filename)
	}

	if snap.Artifact == nil {
		t.Fatal("Expected a local artifact")
	}
	if !strings.HasPrefix(snap.Artifact.URL, "file://") {
		t.Errorf("Expected file URL, got %s", snap.Artifact.URL)
	}
	data, err := os.ReadFile(snap.Artifact.Path)
	if err != nil || string(data) != "ABC" {
		t.Errorf("Expected artifact with ABC, got %q, %v", data, err)
	}
}

func TestEmptyRecordingSkipsUpload(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{}}
	dir := t.TempDir()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{RecordingsDir: dir},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory), WithMetrics(m))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.fragment(nil)
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	if tr.calls() != 0 {
		t.Errorf("Expected no upload, got %d", tr.calls())
	}

	snap := c.Current()
	if snap.State != StateIdle {
		t.Errorf("Expected idle, got %s", snap.State)
	}
	if snap.Artifact != nil {
		t.Error("Expected no artifact for an empty recording")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no files written, got %d", len(entries))
	}

	if got := testutil.ToFloat64(m.RecordingsFinished.WithLabelValues(metrics.OutcomeEmpty)); got != 1 {
		t.Errorf("Expected 1 empty recording, got %v", got)
	}
	if got := testutil.ToFloat64(m.EmptyFragments); got != 1 {
		t.Errorf("Expected 1 empty fragment, got %v", got)
	}
}

func TestServerErrorIsSurfaced(t *testing.T) {
	srv := newTranscribeServer(t, http.StatusInternalServerError, "boom")
	dev := &fakeDevice{}

	c := NewController(dev, newClient(t, srv.URL), auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment([]byte{1, 2, 3})
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	snap := c.Current()
	if snap.State != StateFailed {
		t.Fatalf("Expected failed, got %s", snap.State)
	}
	if !strings.Contains(snap.Error, "500") || !strings.Contains(snap.Error, "boom") {
		t.Errorf("Expected error with status and body, got %q", snap.Error)
	}
	if snap.Loading {
		t.Error("Expected loading to be cleared after failure")
	}
	if got := atomic.LoadInt32(&srv.calls); got != 1 {
		t.Errorf("Expected exactly one request, got %d", got)
	}
}

func TestUnauthenticatedMakesNoRequest(t *testing.T) {
	srv := newTranscribeServer(t, http.StatusOK, `{"transcript":"x"}`)
	dev := &fakeDevice{}

	c := NewController(dev, newClient(t, srv.URL), auth.Static{}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	var sawLoading atomic.Bool
	c.Subscribe(func(s Snapshot) {
		if s.Loading {
			sawLoading.Store(true)
		}
	})

	c.Start(context.Background())
	dev.fragment([]byte("audio"))
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	if got := atomic.LoadInt32(&srv.calls); got != 0 {
		t.Errorf("Expected no network request, got %d", got)
	}

	snap := c.Current()
	if snap.State != StateFailed {
		t.Errorf("Expected failed, got %s", snap.State)
	}
	if !snap.LoginRequired || snap.Error != MessageLoginRequired {
		t.Errorf("Expected login required, got %+v", snap)
	}
	if sawLoading.Load() {
		t.Error("Expected loading never to be set")
	}
}

func TestNetworkErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	dev := &fakeDevice{}
	c := NewController(dev, newClient(t, url), auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment([]byte("audio"))
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	snap := c.Current()
	if snap.State != StateFailed || snap.Error != MessageUploadFailed {
		t.Errorf("Expected %q, got %s %q", MessageUploadFailed, snap.State, snap.Error)
	}
}

func TestMissingTranscriptPlaceholder(t *testing.T) {
	srv := newTranscribeServer(t, http.StatusOK, `{"status":"ok"}`)
	dev := &fakeDevice{}

	c := NewController(dev, newClient(t, srv.URL), auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment([]byte("audio"))
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	if got := c.Transcript(); got != transcription.NoTranscriptPlaceholder {
		t.Errorf("Expected placeholder, got %q", got)
	}
}

func TestLoadingDuringUpload(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{
		result: &transcription.TranscribeResult{Transcript: "done", HasTranscript: true},
		block:  make(chan struct{}),
	}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment([]byte("audio"))
	c.Stop()
	dev.finalize(nil)

	snap := waitFor(t, c, "uploading", func(s Snapshot) bool { return s.State == StateUploading })
	if !snap.Loading {
		t.Error("Expected loading while uploading")
	}

	// A new session cannot start while the upload is in flight
	if err := c.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive during upload, got %v", err)
	}
	if err := c.Reset(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive on reset during upload, got %v", err)
	}

	close(tr.block)
	c.Wait()

	snap = c.Current()
	if snap.Loading || snap.State != StateDone || snap.Transcript != "done" {
		t.Errorf("Unexpected final snapshot %+v", snap)
	}
}

func TestStartWhileRecordingIsRejected(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{}}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := c.Current().SessionID

	if err := c.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
	if c.Current().SessionID != first {
		t.Error("Expected the active session to be unaffected")
	}

	c.Stop()
	dev.finalize(nil)
	c.Wait()
}

func TestSlowDeviceStartDoesNotBlockReaders(t *testing.T) {
	dev := &fakeDevice{entered: make(chan struct{}), release: make(chan struct{})}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{}}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()
	<-dev.entered

	read := make(chan Snapshot, 1)
	go func() { read <- c.Current() }()

	select {
	case snap := <-read:
		if snap.State != StateIdle {
			t.Errorf("Expected idle while the device starts, got %s", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Current blocked while the device was starting")
	}

	if err := c.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive during a pending start, got %v", err)
	}
	if err := c.Reset(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected Reset to be rejected during a pending start, got %v", err)
	}

	close(dev.release)
	if err := <-started; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.State() != StateRecording {
		t.Errorf("Expected recording, got %s", c.State())
	}

	c.Stop()
	dev.finalize(nil)
	c.Wait()
}

func TestStopWhenNotRecording(t *testing.T) {
	c := NewController(&fakeDevice{}, &fakeTranscriber{}, auth.Static{}, Config{}, WithLogger(quietLogger()))

	if err := c.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
}

func TestPermissionDenied(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
	}{
		{"explicit denial", capture.ErrPermissionDenied},
		{"device failure", errors.New("no such device")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var notified atomic.Int32
			c := NewController(&fakeDevice{startErr: tt.startErr}, &fakeTranscriber{}, auth.Static{Token: "tok"}, Config{},
				WithLogger(quietLogger()))
			c.Subscribe(func(Snapshot) { notified.Add(1) })

			err := c.Start(context.Background())
			if !errors.Is(err, capture.ErrPermissionDenied) {
				t.Errorf("Expected ErrPermissionDenied, got %v", err)
			}

			snap := c.Current()
			if snap.State != StateIdle {
				t.Errorf("Expected idle, got %s", snap.State)
			}
			if snap.Error != MessagePermissionDenied {
				t.Errorf("Expected permission message, got %q", snap.Error)
			}
			if notified.Load() == 0 {
				t.Error("Expected observers to be notified")
			}
		})
	}
}

func TestFragmentOrderPreserved(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{}}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())

	var want []byte
	for i := 0; i < 100; i++ {
		frag := []byte{byte(i), byte(i + 1)}
		want = append(want, frag...)
		dev.fragment(frag)
	}

	c.Stop()
	// A fragment flushed between stop and finalize still belongs to the recording
	dev.fragment([]byte("tail"))
	want = append(want, []byte("tail")...)
	dev.finalize(nil)
	c.Wait()

	if tr.calls() != 1 {
		t.Fatalf("Expected one upload, got %d", tr.calls())
	}
	if !bytes.Equal(tr.uploads[0].Data, want) {
		t.Error("Expected uploaded payload to be the in-order concatenation of fragments")
	}
}

func TestWAVPayload(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{}}

	c := NewController(dev, tr, auth.Static{Token: "tok"},
		Config{
			Payload:       audio.PayloadSpec{Format: audio.FormatWAV, SampleRate: 16000, Channels: 1},
			RecordingsDir: t.TempDir(),
		},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment(make([]byte, 320))
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	if tr.calls() != 1 {
		t.Fatalf("Expected one upload, got %d", tr.calls())
	}
	up := tr.uploads[0]
	if !bytes.HasPrefix(up.Data, []byte("RIFF")) {
		t.Error("Expected WAV container")
	}
	if up.Filename != "recording.wav" || up.ContentType != "audio/wav" {
		t.Errorf("Unexpected upload metadata %s %s", up.Filename, up.ContentType)
	}

	// 320 bytes of 16 kHz mono 16-bit PCM
	artifact := c.Current().Artifact
	if artifact == nil {
		t.Fatal("Expected a stored artifact")
	}
	if artifact.Duration != 0.01 {
		t.Errorf("Expected artifact duration 0.01, got %f", artifact.Duration)
	}
}

func TestDeviceFailureDuringRecording(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment([]byte("partial"))
	dev.finalize(errors.New("device unplugged"))
	c.Wait()

	snap := c.Current()
	if snap.State != StateFailed {
		t.Errorf("Expected failed, got %s", snap.State)
	}
	if !strings.Contains(snap.Error, "device unplugged") {
		t.Errorf("Expected device error in message, got %q", snap.Error)
	}
	if tr.calls() != 0 {
		t.Errorf("Expected no upload, got %d", tr.calls())
	}
}

func TestCancelledContextAbortsSession(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController(dev, &fakeTranscriber{}, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	c.Wait()

	if c.State() != StateIdle {
		t.Errorf("Expected idle after cancellation, got %s", c.State())
	}
}

func TestRestartClearsPreviousOutcome(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{Transcript: "first", HasTranscript: true}}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	c.Start(context.Background())
	dev.fragment([]byte("a"))
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	first := c.Current()
	if first.Transcript != "first" {
		t.Fatalf("Expected first transcript, got %q", first.Transcript)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Expected start from done to succeed: %v", err)
	}
	snap := c.Current()
	if snap.Transcript != "" || snap.Error != "" {
		t.Errorf("Expected previous outcome cleared, got %+v", snap)
	}
	if snap.SessionID == first.SessionID {
		t.Error("Expected a new session id")
	}

	c.Stop()
	dev.finalize(nil)
	c.Wait()
}

func TestResetAndSaveTranscript(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{result: &transcription.TranscribeResult{Transcript: "save me", HasTranscript: true}}

	c := NewController(dev, tr, auth.Static{Token: "tok"}, Config{},
		WithLogger(quietLogger()), WithTicker(newManualTicker().factory))

	dir := t.TempDir()
	if _, err := c.SaveTranscript(dir); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Expected ErrNoTranscript, got %v", err)
	}

	c.Start(context.Background())
	dev.fragment([]byte("a"))
	c.Stop()
	dev.finalize(nil)
	c.Wait()

	path, err := c.SaveTranscript(dir)
	if err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}
	if filepath.Base(path) != TranscriptFilename {
		t.Errorf("Expected %s, got %s", TranscriptFilename, path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "save me" {
		t.Errorf("Expected saved transcript, got %q", data)
	}

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	snap := c.Current()
	if snap.State != StateIdle || snap.Transcript != "" {
		t.Errorf("Expected cleared idle state, got %+v", snap)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{3, "00:03"},
		{65, "01:05"},
		{600, "10:00"},
		{3600, "60:00"},
		{-1, "00:00"},
	}

	for _, tt := range tests {
		if got := FormatElapsed(tt.seconds); got != tt.want {
			t.Errorf("FormatElapsed(%d): expected %s, got %s", tt.seconds, tt.want, got)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateUploading.String() != "uploading" {
		t.Errorf("Expected uploading, got %s", StateUploading)
	}
	if !StateFinalizing.Active() || StateDone.Active() {
		t.Error("Unexpected Active() result")
	}
}
