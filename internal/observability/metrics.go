package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interviewer_active_sessions",
		Help: "Number of interview sessions in progress",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_sessions_total",
		Help: "Total number of interview sessions by result",
	}, []string{"result"}) // result: "complete" or "aborted"

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interviewer_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{60, 300, 600, 900, 1200, 1800, 3600},
	})

	// Round metrics
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_rounds_total",
		Help: "Total number of answered rounds by stop reason",
	}, []string{"reason"}) // reason: "submit", "timeout", "force_end"

	answerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interviewer_answer_duration_seconds",
		Help:    "Time spent recording an answer in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 180, 300},
	})

	// Playback metrics
	playbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_playback_attempts_total",
		Help: "Question playback attempts",
	}, []string{"mode", "status"}) // mode: "auto" or "manual"

	// Submission metrics
	submissionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_submission_requests_total",
		Help: "Total number of answer submissions",
	}, []string{"status"})

	submissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interviewer_submission_latency_seconds",
		Help:    "Answer submission latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interviewer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewer_audio_bytes_captured_total",
		Help: "Total microphone bytes captured",
	})
)

// Metrics tracks metrics for a single interview session
type Metrics struct {
	sessionID           string
	startTime           time.Time
	recordingStartTime  time.Time
	submissionStartTime time.Time
	ended               bool
	mu                  sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session. Only the first call counts.
func (m *Metrics) RecordSessionEnd(complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	result := "complete"
	if !complete {
		result = "aborted"
	}
	sessionsTotal.WithLabelValues(result).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordRecordingStart records the moment capture begins
func (m *Metrics) RecordRecordingStart() {
	m.mu.Lock()
	m.recordingStartTime = time.Now()
	m.mu.Unlock()
}

// RecordRound records a stopped round and how it was stopped
func (m *Metrics) RecordRound(timeout, forceEnd bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recordingStartTime.IsZero() {
		answerDuration.Observe(time.Since(m.recordingStartTime).Seconds())
		m.recordingStartTime = time.Time{}
	}

	reason := "submit"
	switch {
	case forceEnd:
		reason = "force_end"
	case timeout:
		reason = "timeout"
	}
	roundsTotal.WithLabelValues(reason).Inc()
}

// RecordPlayback records a question playback attempt
func (m *Metrics) RecordPlayback(manual, success bool) {
	mode := "auto"
	if manual {
		mode = "manual"
	}
	status := "success"
	if !success {
		status = "error"
	}
	playbackAttempts.WithLabelValues(mode, status).Inc()
}

// RecordSubmissionStart records the start of an answer submission
func (m *Metrics) RecordSubmissionStart() {
	m.mu.Lock()
	m.submissionStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSubmissionEnd records the end of an answer submission
func (m *Metrics) RecordSubmissionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.submissionStartTime.IsZero() {
		submissionLatency.Observe(time.Since(m.submissionStartTime).Seconds())
		m.submissionStartTime = time.Time{}
	}

	status := "success"
	if !success {
		status = "error"
	}
	submissionRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records captured microphone bytes
func (m *Metrics) RecordAudioBytes(bytes int64) {
	audioBytesCaptured.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
