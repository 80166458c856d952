package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/audio"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/capture"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/recorder"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/server"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/transcription"
)

func runRegister(a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("username", "", "Account username")
	password := fs.String("password", "", "Account password (prompted when empty)")
	fs.Parse(args)

	user, pass, err := credentials(*username, *password)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.client.Register(ctx, user, pass); err != nil {
		return errors.New(displayError(err))
	}

	fmt.Println("Registration successful. You can now log in.")
	return nil
}

func runLogin(a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Account username")
	password := fs.String("password", "", "Account password (prompted when empty)")
	fs.Parse(args)

	user, pass, err := credentials(*username, *password)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := a.client.Login(ctx, user, pass)
	if err != nil {
		return errors.New(displayError(err))
	}

	if err := a.store.Save(sess); err != nil {
		return err
	}

	a.logger.Debug("Session saved", slog.String("path", a.store.Path()))
	fmt.Printf("Logged in as %s\n", sess.Username)
	return nil
}

func runLogout(a *app, args []string) error {
	if err := a.store.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func runWhoami(a *app, args []string) error {
	sess, err := a.store.Load()
	if err != nil {
		return err
	}
	if !sess.Authenticated() || sess.Username == "" {
		return errors.New(recorder.MessageLoginRequired)
	}
	fmt.Println(sess.Username)
	return nil
}

func runRecord(a *app, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	input := fs.String("input", "", "Read captured audio from a file ('-' for stdin) instead of the microphone")
	format := fs.String("format", a.cfg.Capture.Format, "Payload format: webm or wav (raw PCM input)")
	interval := fs.Duration("fragment-interval", 0, "Pause between fragments read from -input")
	saveDir := fs.String("save-transcript", "", "Directory to save transcript.txt in")
	fs.Parse(args)

	device, err := newDevice(a, *input, *format, *interval)
	if err != nil {
		return err
	}

	rec := recorder.NewController(device, a.client, a.store,
		recorder.Config{
			Payload: audio.PayloadSpec{
				Format:     *format,
				SampleRate: a.cfg.Capture.SampleRate,
				Channels:   a.cfg.Capture.Channels,
			},
			RecordingsDir: a.cfg.Storage.RecordingsDir,
		},
		recorder.WithLogger(a.logger),
		recorder.WithMetrics(a.metrics),
	)

	ended := make(chan struct{})
	var endOnce sync.Once
	printer := snapshotPrinter(os.Stdout)

	unsubscribe := rec.Subscribe(func(s recorder.Snapshot) {
		printer(s)
		if s.State != recorder.StateRecording {
			endOnce.Do(func() { close(ended) })
		}
	})
	defer unsubscribe()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The session must survive the interrupt that stops it
	if err := rec.Start(context.Background()); err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			return errors.New(recorder.MessagePermissionDenied)
		}
		return err
	}

	enter := make(chan struct{})
	if *input != "-" {
		fmt.Fprintln(os.Stderr, "Press Enter or Ctrl+C to stop recording")
		go func() {
			bufio.NewReader(os.Stdin).ReadString('\n')
			close(enter)
		}()
	}

	select {
	case <-enter:
	case <-sigCtx.Done():
	case <-ended:
	}
	// A second interrupt terminates the process
	stopSignals()

	if err := rec.Stop(); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		return err
	}
	rec.Wait()
	fmt.Println()

	final := rec.Current()
	if final.Artifact != nil {
		fmt.Printf("Recording saved to %s\n", final.Artifact.Path)
	}
	if final.Error != "" {
		return errors.New(final.Error)
	}
	if final.State == recorder.StateIdle {
		fmt.Println("No audio captured")
		return nil
	}

	fmt.Println(final.Transcript)

	if *saveDir != "" {
		path, err := rec.SaveTranscript(*saveDir)
		if err != nil {
			return err
		}
		fmt.Printf("Transcript saved to %s\n", path)
	}

	return nil
}

func runHistory(a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print entries as JSON")
	fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries, err := a.client.History(ctx, a.store.Current())
	if err != nil {
		return errors.New(displayError(err))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No transcripts yet")
		return nil
	}

	for _, e := range entries {
		created := "-"
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("#%d  %s  %s\n    %s\n\n", e.ID, created, e.DisplayTitle(), e.Preview())
	}
	return nil
}

func runDownload(a *app, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	kind := fs.String("kind", "docx", "Document kind: docx or txt")
	id := fs.String("id", transcription.LatestDocument, "Transcript id, or 'latest' for docx")
	outDir := fs.String("out", ".", "Directory to write the document to")
	fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess := a.store.Current()
	docKind := transcription.DocumentKind(*kind)

	data, err := a.client.Download(ctx, sess, docKind, *id)
	if err != nil {
		return errors.New(displayError(err))
	}

	name, err := documentFilename(ctx, a, docKind, *id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", *outDir, err)
	}
	path := filepath.Join(*outDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("Saved %s\n", path)
	return nil
}

// documentFilename names txt downloads after the history entry title
func documentFilename(ctx context.Context, a *app, kind transcription.DocumentKind, id string) (string, error) {
	if kind == transcription.DocumentDocx {
		if id == transcription.LatestDocument {
			return "latest_transcript.docx", nil
		}
		return "transcript_" + id + ".docx", nil
	}

	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid transcript id %q", id)
	}

	entries, err := a.client.History(ctx, a.store.Current())
	if err != nil {
		return "", errors.New(displayError(err))
	}

	entry := transcription.HistoryEntry{ID: n}
	for _, e := range entries {
		if e.ID == n {
			entry = e
			break
		}
	}

	return filepath.Base(entry.DisplayTitle()) + ".txt", nil
}

func runServe(a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", a.cfg.HTTP.Port, "Control API port")
	address := fs.String("address", a.cfg.HTTP.Address, "Control API bind address")
	fs.Parse(args)

	httpCfg := a.cfg.HTTP
	httpCfg.Port = *port
	httpCfg.Address = *address
	httpCfg.Enabled = true
	if err := httpCfg.Validate(); err != nil {
		return err
	}

	device, err := newDevice(a, "", a.cfg.Capture.Format, 0)
	if err != nil {
		return err
	}

	rec := recorder.NewController(device, a.client, a.store,
		recorder.Config{
			Payload: audio.PayloadSpec{
				Format:     a.cfg.Capture.Format,
				SampleRate: a.cfg.Capture.SampleRate,
				Channels:   a.cfg.Capture.Channels,
			},
			RecordingsDir: a.cfg.Storage.RecordingsDir,
		},
		recorder.WithLogger(a.logger),
		recorder.WithMetrics(a.metrics),
	)

	httpServer := server.NewHTTPServer(httpCfg, a.logger, a.cfg, rec, a.client, a.metrics, nil)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start control API: %w", err)
	}

	a.logger.Info("Control API started, waiting for signals...",
		slog.String("address", httpCfg.ListenAddress()),
		slog.String("backend_url", a.client.BaseURL()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	a.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("Error stopping control API", slog.String("error", err.Error()))
	}

	stats := a.client.GetStats()
	a.logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("bytes_uploaded", stats.BytesUploaded),
	)

	return nil
}

// newDevice opens the configured microphone, or input when it is set
func newDevice(a *app, input, format string, interval time.Duration) (capture.Device, error) {
	if input != "" {
		var r io.Reader = os.Stdin
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return nil, fmt.Errorf("failed to open input %s: %w", input, err)
			}
			r = f
		}
		return capture.NewReaderDevice(r, capture.ReaderConfig{
			FragmentSize: a.cfg.Capture.FragmentSize,
			Interval:     interval,
			StopAtEOF:    true,
		}), nil
	}

	return capture.NewDevice(capture.CommandConfig{
		Driver:       a.cfg.Capture.Driver,
		Command:      a.cfg.Capture.Command,
		InputDevice:  a.cfg.Capture.InputDevice,
		Format:       format,
		SampleRate:   a.cfg.Capture.SampleRate,
		Channels:     a.cfg.Capture.Channels,
		FragmentSize: a.cfg.Capture.FragmentSize,
	}, a.logger)
}

// snapshotPrinter renders recorder snapshots as terminal status lines
func snapshotPrinter(w io.Writer) func(recorder.Snapshot) {
	last := recorder.StateIdle

	return func(s recorder.Snapshot) {
		switch s.State {
		case recorder.StateRecording:
			fmt.Fprintf(w, "\rRecording %s", s.Elapsed)
		case recorder.StateFinalizing:
			if last != s.State {
				fmt.Fprint(w, "\nFinalizing...")
			}
		case recorder.StateUploading:
			if last != s.State {
				fmt.Fprint(w, "\nTranscribing...")
			}
		}
		last = s.State
	}
}

// credentials fills in missing values from a prompt on stdin
func credentials(username, password string) (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	if username == "" {
		fmt.Fprint(os.Stderr, "Username: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}
	return username, password, nil
}

// displayError turns client errors into the messages shown to the user
func displayError(err error) string {
	switch {
	case errors.Is(err, transcription.ErrUnauthenticated):
		return recorder.MessageLoginRequired
	case transcription.IsNetworkError(err):
		return "Could not reach the server: " + err.Error()
	}
	if se, ok := transcription.IsServerError(err); ok && se.Message != "" {
		return se.Message
	}
	return err.Error()
}
