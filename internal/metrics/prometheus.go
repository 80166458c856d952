package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech-to-text client
type Metrics struct {
	// Recording metrics
	RecordingsStarted  prometheus.Counter
	RecordingsFinished *prometheus.CounterVec
	ActiveRecordings   prometheus.Gauge
	RecordingDuration  prometheus.Histogram
	FragmentsReceived  prometheus.Counter
	EmptyFragments     prometheus.Counter
	PayloadSize        prometheus.Histogram

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  *prometheus.CounterVec
	UploadDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// Recording outcomes used as the "outcome" label of RecordingsFinished
const (
	OutcomeTranscribed = "transcribed"
	OutcomeEmpty       = "empty"
	OutcomeFailed      = "failed"
	OutcomeCancelled   = "cancelled"
)

// Upload failure kinds used as the "kind" label of UploadFailures
const (
	FailureServer          = "server"
	FailureNetwork         = "network"
	FailureUnauthenticated = "unauthenticated"
	FailureOther           = "other"
)

// NewMetrics creates all metrics and registers them with reg. A nil
// registerer uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Recording metrics
		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_recordings_started_total",
			Help: "Total number of recording sessions started",
		}),
		RecordingsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stt_recordings_finished_total",
				Help: "Total number of recording sessions finished, by outcome",
			},
			[]string{"outcome"},
		),
		ActiveRecordings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stt_active_recordings",
			Help: "Number of recording sessions currently in progress (0 or 1)",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_recording_duration_seconds",
			Help:    "Duration of recording sessions from start to finalize",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		FragmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_fragments_received_total",
			Help: "Total number of non-empty audio fragments accumulated",
		}),
		EmptyFragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_fragments_empty_total",
			Help: "Total number of empty audio fragments dropped",
		}),
		PayloadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_payload_size_bytes",
			Help:    "Size of finalized recording payloads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		// Upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_upload_requests_total",
			Help: "Total number of transcription uploads attempted",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_upload_successes_total",
			Help: "Total number of successful transcription uploads",
		}),
		UploadFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stt_upload_failures_total",
				Help: "Total number of failed transcription uploads, by kind",
			},
			[]string{"kind"},
		),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_upload_duration_seconds",
			Help:    "Time from upload start to backend response",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stt_http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stt_http_request_duration_seconds",
				Help:    "Time spent processing control API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stt_http_errors_total",
				Help: "Total number of control API errors",
			},
			[]string{"method", "endpoint", "error_type"},
		),
	}
}

// Helper methods for common metric operations. All of them are no-ops on a
// nil *Metrics so callers can run uninstrumented.

// RecordRecordingStarted records the start of a recording session
func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
	m.ActiveRecordings.Set(1)
}

// RecordRecordingFinished records the end of a recording session
func (m *Metrics) RecordRecordingFinished(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecordingsFinished.WithLabelValues(outcome).Inc()
	m.RecordingDuration.Observe(durationSeconds)
	m.ActiveRecordings.Set(0)
}

// RecordFragment records one delivered fragment
func (m *Metrics) RecordFragment(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.FragmentsReceived.Inc()
	} else {
		m.EmptyFragments.Inc()
	}
}

// RecordPayload records the size of a finalized payload
func (m *Metrics) RecordPayload(sizeBytes int) {
	if m == nil {
		return
	}
	m.PayloadSize.Observe(float64(sizeBytes))
}

// RecordUploadRequest records an attempted upload
func (m *Metrics) RecordUploadRequest() {
	if m == nil {
		return
	}
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload of the given kind
func (m *Metrics) RecordUploadFailure(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadFailures.WithLabelValues(kind).Inc()
	if durationSeconds > 0 {
		m.UploadDuration.Observe(durationSeconds)
	}
}

// RecordHTTPRequest records a control API request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records a control API error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
