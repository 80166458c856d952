package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/audio"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/capture"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/config"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/metrics"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/recorder"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/transcription"
)

// StatsProvider reports backend client statistics
type StatsProvider interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides the local control API for the recorder
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	recorder *recorder.Controller
	client   StatsProvider
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	events   *eventHub

	// Recording sessions started over HTTP outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
}

// NewHTTPServer creates a new control API server. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	rec *recorder.Controller, client StatsProvider, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		recorder:  rec,
		client:    client,
		metrics:   m,
		gatherer:  gatherer,
		events:    newEventHub(logger),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	h.events.attach(rec)

	return h
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Recorder state and controls
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/recording/start", h.withMetrics("/recording/start", h.handleStart))
	mux.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", h.handleStop))
	mux.HandleFunc("/recording/reset", h.withMetrics("/recording/reset", h.handleReset))

	// Downloads of the last outcome
	mux.HandleFunc("/recording", h.withMetrics("/recording", h.handleRecording))
	mux.HandleFunc("/transcript.txt", h.withMetrics("/transcript.txt", h.handleTranscript))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Transcription statistics
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Snapshot stream (no metrics wrapper, the connection is hijacked)
	mux.HandleFunc("/events", h.events.serveWS)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting control API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and closes event streams. An active
// recording is aborted.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping control API server...")

	h.cancel()
	h.events.close()

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.recorder.Current()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "stt",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"recorder": map[string]interface{}{
				"state":   snap.StateName,
				"loading": snap.Loading,
			},
			"events": map[string]interface{}{
				"subscribers": h.events.count(),
			},
		},
	}

	if h.client != nil {
		stats := h.client.GetStats()
		health["components"].(map[string]interface{})["backend"] = map[string]interface{}{
			"base_url":       h.config.Backend.BaseURL,
			"total_requests": stats.TotalRequests,
			"success_rate":   stats.SuccessRate,
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.recorder.Current())
}

// handleStart implements POST /recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.recorder.Start(h.ctx)
	switch {
	case errors.Is(err, recorder.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, recorder.MessagePermissionDenied)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, h.recorder.Current())
	}
}

// handleStop implements POST /recording/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.recorder.Stop()
	switch {
	case errors.Is(err, recorder.ErrNotRecording):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, h.recorder.Current())
	}
}

// handleReset implements POST /recording/reset
func (h *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.recorder.Reset(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.recorder.Current())
}

// handleRecording serves the last recording artifact as a download
func (h *HTTPServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	artifact := h.recorder.Current().Artifact
	if artifact == nil {
		writeError(w, http.StatusNotFound, "no recording available")
		return
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "recording no longer available")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", audio.ContentType(artifact.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filepath.Base(artifact.Path)))
	http.ServeContent(w, r, filepath.Base(artifact.Path), artifact.CreatedAt, f)
}

// handleTranscript serves the displayed transcript as transcript.txt
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transcript := h.recorder.Transcript()
	if transcript == "" {
		writeError(w, http.StatusNotFound, recorder.ErrNoTranscript.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, recorder.TranscriptFilename))
	w.Write([]byte(transcript))
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Credentials are never exposed; only their location is
	sanitizedConfig := map[string]interface{}{
		"backend": map[string]interface{}{
			"base_url":        h.config.Backend.BaseURL,
			"upload_timeout":  h.config.Backend.UploadTimeout,
			"request_timeout": h.config.Backend.RequestTimeout,
		},
		"capture": map[string]interface{}{
			"driver":        h.config.Capture.Driver,
			"input_device":  h.config.Capture.InputDevice,
			"format":        h.config.Capture.Format,
			"sample_rate":   h.config.Capture.SampleRate,
			"channels":      h.config.Capture.Channels,
			"fragment_size": h.config.Capture.FragmentSize,
		},
		"storage": map[string]interface{}{
			"credentials_path": h.config.Storage.CredentialsPath,
			"recordings_dir":   h.config.Storage.RecordingsDir,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.client == nil {
		writeError(w, http.StatusServiceUnavailable, "backend client not configured")
		return
	}

	writeJSON(w, http.StatusOK, h.client.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Speech-to-Text Recorder",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /status":              "Current recorder snapshot",
			"POST /recording/start":    "Start recording",
			"POST /recording/stop":     "Stop recording and upload",
			"POST /recording/reset":    "Clear the last outcome",
			"GET /recording":           "Download the last recording",
			"GET /transcript.txt":      "Download the displayed transcript",
			"GET /config":              "Get client configuration",
			"GET /stats/transcription": "Get backend client statistics",
			"GET /events":              "WebSocket stream of recorder snapshots",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
