package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_active_requests",
		Help: "Number of chat requests being processed",
	})

	totalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_requests_total",
		Help: "Total number of chat requests by outcome",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_request_duration_seconds",
		Help:    "End-to-end duration of chat requests in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// Text generation metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_llm_requests_total",
		Help: "Total number of completion streams",
	}, []string{"status"})

	llmFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_llm_first_token_seconds",
		Help:    "Time from stream start to the first token in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_llm_latency_seconds",
		Help:    "Completion stream duration in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	sentencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_sentences_total",
		Help: "Total number of sentences emitted by the segmenter",
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"provider", "status"})

	ttsLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_relay_tts_latency_seconds",
		Help:    "TTS processing latency in seconds, retries included",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	ttsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_tts_in_flight",
		Help: "Number of synthesis calls currently holding a dispatch slot",
	})

	// Audio metrics
	skippedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_skipped_chunks_total",
		Help: "Audio chunks left out of an artifact",
	}, []string{"reason"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (from TTS) or "out" (artifact)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single chat request
type Metrics struct {
	startTime     time.Time
	llmStartTime  time.Time
	sawFirstToken bool
	ended         bool
	mu            sync.Mutex
}

// NewRequestMetrics creates a new metrics tracker for a request
func NewRequestMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequestStart records the start of a request
func (m *Metrics) RecordRequestStart() {
	activeRequests.Inc()
}

// RecordRequestEnd records the end of a request. Only the first call counts.
func (m *Metrics) RecordRequestEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	activeRequests.Dec()
	totalRequests.WithLabelValues(status).Inc()
	requestDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordLLMStart records the start of the completion stream
func (m *Metrics) RecordLLMStart() {
	m.mu.Lock()
	m.llmStartTime = time.Now()
	m.mu.Unlock()
}

// RecordLLMToken records a token arrival; only the first one is observed
func (m *Metrics) RecordLLMToken() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sawFirstToken || m.llmStartTime.IsZero() {
		return
	}
	m.sawFirstToken = true
	llmFirstToken.Observe(time.Since(m.llmStartTime).Seconds())
}

// RecordLLMEnd records the end of the completion stream
func (m *Metrics) RecordLLMEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.llmStartTime.IsZero() {
		llmLatency.Observe(time.Since(m.llmStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(status).Inc()
}

// RecordSentence records a sentence handed to synthesis
func (m *Metrics) RecordSentence() {
	sentencesTotal.Inc()
}

// RecordSkippedChunk records an audio chunk that did not make it into the artifact
func (m *Metrics) RecordSkippedChunk(reason string) {
	skippedChunks.WithLabelValues(reason).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSynthesis records one synthesis call, retries included
func RecordSynthesis(provider string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(provider, status).Inc()
	ttsLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// SynthesisStarted marks a dispatch slot as taken
func SynthesisStarted() {
	ttsInFlight.Inc()
}

// SynthesisFinished marks a dispatch slot as released
func SynthesisFinished() {
	ttsInFlight.Dec()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
