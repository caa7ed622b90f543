package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// ResilienceConfig configures a Resilient synthesizer
type ResilienceConfig struct {
	Timeout      time.Duration // Per-attempt timeout, 0 = none
	Retry        *resilience.RetryConfig
	MaxFailures  int           // Consecutive failures before the breaker opens
	ResetTimeout time.Duration // Open time before a half-open trial call
}

// Resilient wraps a Synthesizer with a per-attempt timeout, retries for
// temporary failures and a circuit breaker shared by all callers.
type Resilient struct {
	next    Synthesizer
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewResilient wraps next
func NewResilient(next Synthesizer, cfg ResilienceConfig, logger zerolog.Logger) *Resilient {
	logger = logger.With().Str("component", "tts").Str("provider", next.Name()).Logger()

	breaker := resilience.NewCircuitBreaker(next.Name(), cfg.MaxFailures, cfg.ResetTimeout)
	breaker.OnStateChange(func(from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(breaker.Name(), int(to))
		logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	})
	observability.UpdateCircuitBreakerState(breaker.Name(), int(resilience.StateClosed))

	return &Resilient{
		next:    next,
		breaker: breaker,
		retry:   cfg.Retry,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (r *Resilient) Name() string {
	return r.next.Name()
}

// Synthesize calls the wrapped backend until it succeeds, fails permanently,
// runs out of attempts or ctx ends.
func (r *Resilient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	attempt := 0

	var audio []byte
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.breaker.Allow(); err != nil {
			return &BackendError{Provider: r.Name(), Err: err}
		}

		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()

		b, err := r.next.Synthesize(attemptCtx, text)
		if err != nil {
			if ctx.Err() != nil {
				// The caller went away; the backend is not to blame
				r.breaker.Release()
				return err
			}
			r.breaker.RecordResult(false)
			observability.IncrementCircuitBreakerFailures(r.Name())
			r.logger.Debug().Err(err).Int("attempt", attempt).Msg("Synthesis attempt failed")
			return err
		}

		r.breaker.RecordResult(true)
		audio = b
		return nil
	}, r.retry, isTemporary)

	observability.RecordSynthesis(r.Name(), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Healthy reports false while the circuit is open
func (r *Resilient) Healthy(ctx context.Context) (bool, error) {
	if r.BreakerState() != resilience.StateOpen {
		return true, nil
	}
	_, requests, failures, rate := r.breaker.GetStats()
	return false, fmt.Errorf("%w: %d of %d calls failed (%.0f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
}

// BreakerState returns the current circuit breaker state
func (r *Resilient) BreakerState() resilience.CircuitState {
	return r.breaker.GetState()
}

func (r *Resilient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func isTemporary(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Temporary()
	}
	return resilience.IsRetryableNetworkError(err)
}
