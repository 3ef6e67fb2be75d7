// Package metrics holds the Prometheus instruments for the verification
// pipeline and the HTTP layer, and serves them at /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/physician/pkg/models"
)

// Stage names used for spans, histograms and stage durations
const (
	StagePerception = "perception"
	StageSimulation = "simulation"
	StageArbiter    = "arbiter"
	StageForensics  = "forensics"
	StageLedger     = "ledger"
)

// Metrics tracks verification outcomes and HTTP bandwidth
type Metrics struct {
	registry *prometheus.Registry

	verdicts          *prometheus.CounterVec
	crashes           *prometheus.CounterVec
	blockReasons      *prometheus.CounterVec
	governorActive    prometheus.Counter
	forensicsDegraded prometheus.Counter
	stageDuration     *prometheus.HistogramVec
	stageErrors       *prometheus.CounterVec
	inFlight          prometheus.Gauge

	httpRequests  *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	responseSize  *prometheus.HistogramVec

	startTime time.Time
}

// New creates the instruments on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_verdicts_total",
				Help: "Verdicts issued by status",
			},
			[]string{"verdict"},
		),
		crashes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_simulated_crashes_total",
				Help: "Simulations that left the stability envelope",
			},
			[]string{"reason"},
		),
		blockReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_block_reasons_total",
				Help: "Signals that caused a BLOCKED verdict",
			},
			[]string{"reason"},
		),
		governorActive: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physician_governor_active_total",
			Help: "Verdicts issued with the low-friction governor raised",
		}),
		forensicsDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physician_forensics_degraded_total",
			Help: "Crashes reported with the forensics placeholder",
		}),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "physician_stage_duration_seconds",
				Help:    "Wall-clock time spent per pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
			},
			[]string{"stage"},
		),
		stageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_stage_errors_total",
				Help: "Pipeline stage failures by kind",
			},
			[]string{"stage", "kind"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "physician_verifications_in_flight",
			Help: "Verifications currently being processed",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_http_requests_total",
				Help: "HTTP requests processed",
			},
			[]string{"method", "endpoint", "status"},
		),
		bytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_http_request_bytes_total",
				Help: "Total bytes received in HTTP requests",
			},
			[]string{"method", "endpoint"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "physician_http_response_bytes_total",
				Help: "Total bytes sent in HTTP responses",
			},
			[]string{"method", "endpoint", "status"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "physician_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.verdicts,
		m.crashes,
		m.blockReasons,
		m.governorActive,
		m.forensicsDegraded,
		m.stageDuration,
		m.stageErrors,
		m.inFlight,
		m.httpRequests,
		m.bytesReceived,
		m.bytesSent,
		m.responseSize,
	)
	return m
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took. A non-empty errKind counts a failure.
func (m *Metrics) ObserveStage(stage string, d time.Duration, errKind string) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if errKind != "" {
		m.stageErrors.WithLabelValues(stage, errKind).Inc()
	}
}

// RecordResult counts a completed verification
func (m *Metrics) RecordResult(r *models.VerificationResult) {
	m.verdicts.WithLabelValues(string(r.Verdict.Status)).Inc()
	if r.Outcome.IsCrash {
		m.crashes.WithLabelValues(string(r.Outcome.CrashReason)).Inc()
	}
	for _, reason := range r.Verdict.BlockReasons {
		m.blockReasons.WithLabelValues(string(reason)).Inc()
	}
	if r.Verdict.GovernorActive {
		m.governorActive.Inc()
	}
	if r.ForensicsDegraded {
		m.forensicsDegraded.Inc()
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement
func (m *Metrics) TrackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// Middleware counts requests and tracks bandwidth per endpoint
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		method := r.Method

		if r.ContentLength > 0 {
			m.bytesReceived.WithLabelValues(method, endpoint).Add(float64(r.ContentLength))
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.statusCode)
		m.httpRequests.WithLabelValues(method, endpoint, status).Inc()
		if rw.bytesWritten > 0 {
			m.bytesSent.WithLabelValues(method, endpoint, status).Add(float64(rw.bytesWritten))
			m.responseSize.WithLabelValues(method, endpoint).Observe(float64(rw.bytesWritten))
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (m *Metrics) uptime() string {
	return fmt.Sprintf("%d", int64(time.Since(m.startTime).Seconds()))
}
