package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RequestLifecycle(t *testing.T) {
	before := testutil.ToFloat64(totalRequests.WithLabelValues("test_ok"))
	active := testutil.ToFloat64(activeRequests)

	m := NewRequestMetrics()
	m.RecordRequestStart()
	if got := testutil.ToFloat64(activeRequests); got != active+1 {
		t.Errorf("Expected %v active requests, got %v", active+1, got)
	}

	m.RecordRequestEnd("test_ok")
	m.RecordRequestEnd("test_ok") // second end is ignored

	if got := testutil.ToFloat64(activeRequests); got != active {
		t.Errorf("Expected %v active requests, got %v", active, got)
	}
	if got := testutil.ToFloat64(totalRequests.WithLabelValues("test_ok")); got != before+1 {
		t.Errorf("Expected request counter %v, got %v", before+1, got)
	}
}

func TestRecordSynthesis(t *testing.T) {
	before := testutil.ToFloat64(ttsRequests.WithLabelValues("fake", "error"))

	RecordSynthesis("fake", false, 50*time.Millisecond)

	if got := testutil.ToFloat64(ttsRequests.WithLabelValues("fake", "error")); got != before+1 {
		t.Errorf("Expected error counter %v, got %v", before+1, got)
	}
}

func TestSynthesisInFlight(t *testing.T) {
	before := testutil.ToFloat64(ttsInFlight)

	SynthesisStarted()
	SynthesisStarted()
	SynthesisFinished()

	if got := testutil.ToFloat64(ttsInFlight); got != before+1 {
		t.Errorf("Expected in-flight gauge %v, got %v", before+1, got)
	}
	SynthesisFinished()
}

func TestRecordSkippedChunk(t *testing.T) {
	m := NewRequestMetrics()
	before := testutil.ToFloat64(skippedChunks.WithLabelValues("decode"))

	m.RecordSkippedChunk("decode")

	if got := testutil.ToFloat64(skippedChunks.WithLabelValues("decode")); got != before+1 {
		t.Errorf("Expected skipped counter %v, got %v", before+1, got)
	}
}
