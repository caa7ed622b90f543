package tts

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

type scriptedSynth struct {
	calls   atomic.Int32
	respond func(ctx context.Context, call int) ([]byte, error)
}

func (s *scriptedSynth) Name() string { return "scripted" }

func (s *scriptedSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.respond(ctx, int(s.calls.Add(1)))
}

func testResilience(attempts, maxFailures int) ResilienceConfig {
	return ResilienceConfig{
		Timeout: time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       attempts,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
	}
}

func TestResilient_RetriesTemporaryFailure(t *testing.T) {
	s := &scriptedSynth{respond: func(ctx context.Context, call int) ([]byte, error) {
		if call < 3 {
			return nil, &BackendError{Provider: "scripted", StatusCode: http.StatusServiceUnavailable}
		}
		return fakeWAV, nil
	}}

	r := NewResilient(s, testResilience(3, 10), zerolog.Nop())
	audio, err := r.Synthesize(context.Background(), "Hi.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != string(fakeWAV) {
		t.Error("Expected audio from the successful attempt")
	}
	if s.calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", s.calls.Load())
	}
}

func TestResilient_PermanentFailureNotRetried(t *testing.T) {
	s := &scriptedSynth{respond: func(ctx context.Context, call int) ([]byte, error) {
		return nil, &BackendError{Provider: "scripted", StatusCode: http.StatusBadRequest}
	}}

	r := NewResilient(s, testResilience(3, 10), zerolog.Nop())
	if _, err := r.Synthesize(context.Background(), "Hi."); err == nil {
		t.Fatal("Expected error")
	}
	if s.calls.Load() != 1 {
		t.Errorf("Expected 1 call for a permanent failure, got %d", s.calls.Load())
	}
}

func TestResilient_CircuitOpens(t *testing.T) {
	s := &scriptedSynth{respond: func(ctx context.Context, call int) ([]byte, error) {
		return nil, &BackendError{Provider: "scripted", StatusCode: http.StatusBadGateway}
	}}

	r := NewResilient(s, testResilience(1, 2), zerolog.Nop())
	r.Synthesize(context.Background(), "One.")
	r.Synthesize(context.Background(), "Two.")

	if r.BreakerState() != resilience.StateOpen {
		t.Fatalf("Expected open breaker, got %s", r.BreakerState())
	}

	_, err := r.Synthesize(context.Background(), "Three.")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if s.calls.Load() != 2 {
		t.Errorf("Expected the backend to be skipped while open, got %d calls", s.calls.Load())
	}

	ok, err := r.Healthy(context.Background())
	if ok || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected Healthy to report the open circuit, got %v %v", ok, err)
	}
	if err != nil && !strings.Contains(err.Error(), "2 of 2 calls failed") {
		t.Errorf("Expected failure counts in the readiness error, got %q", err)
	}
}

func TestResilient_CancelledHalfOpenCallsDoNotWedgeBreaker(t *testing.T) {
	tests := []struct {
		name   string
		during bool
	}{
		{name: "cancelled before the call"},
		{name: "cancelled during the call", during: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedSynth{respond: func(ctx context.Context, call int) ([]byte, error) {
				return nil, &BackendError{Provider: "scripted", StatusCode: http.StatusBadGateway}
			}}

			cfg := testResilience(1, 1)
			cfg.ResetTimeout = 20 * time.Millisecond
			r := NewResilient(s, cfg, zerolog.Nop())

			r.Synthesize(context.Background(), "Fail.")
			if r.BreakerState() != resilience.StateOpen {
				t.Fatalf("Expected open breaker, got %s", r.BreakerState())
			}
			time.Sleep(40 * time.Millisecond)

			// More abandoned calls than the half-open limit
			for i := 0; i < 5; i++ {
				ctx, cancel := context.WithCancel(context.Background())
				if tt.during {
					s.respond = func(c context.Context, call int) ([]byte, error) {
						cancel()
						return nil, c.Err()
					}
				} else {
					cancel()
				}
				if _, err := r.Synthesize(ctx, "Gone."); !errors.Is(err, context.Canceled) {
					t.Fatalf("Expected cancellation error on call %d, got %v", i, err)
				}
				cancel()
			}

			s.respond = func(ctx context.Context, call int) ([]byte, error) { return fakeWAV, nil }
			for i := 0; i < 3; i++ {
				if _, err := r.Synthesize(context.Background(), "Back."); err != nil {
					t.Fatalf("Expected recovery call %d to succeed, got %v", i, err)
				}
			}
			if r.BreakerState() != resilience.StateClosed {
				t.Errorf("Expected breaker to close after recovery, got %s", r.BreakerState())
			}
		})
	}
}

func TestResilient_CallerCancellationNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scriptedSynth{respond: func(c context.Context, call int) ([]byte, error) {
		cancel()
		return nil, c.Err()
	}}

	r := NewResilient(s, testResilience(3, 1), zerolog.Nop())
	if _, err := r.Synthesize(ctx, "Hi."); err == nil {
		t.Fatal("Expected error")
	}

	if r.BreakerState() != resilience.StateClosed {
		t.Errorf("Expected breaker to stay closed, got %s", r.BreakerState())
	}
	if s.calls.Load() != 1 {
		t.Errorf("Expected no retries after cancellation, got %d calls", s.calls.Load())
	}
}

func TestResilient_AttemptTimeout(t *testing.T) {
	s := &scriptedSynth{respond: func(ctx context.Context, call int) ([]byte, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, &BackendError{Provider: "scripted", Err: ctx.Err()}
		}
		return fakeWAV, nil
	}}

	cfg := testResilience(2, 10)
	cfg.Timeout = 20 * time.Millisecond

	r := NewResilient(s, cfg, zerolog.Nop())
	if _, err := r.Synthesize(context.Background(), "Hi."); err != nil {
		t.Fatalf("Expected the second attempt to succeed, got %v", err)
	}
	if s.calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", s.calls.Load())
	}
}
