package tts

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// New builds the configured provider wrapped with timeout, retry and circuit breaker
func New(cfg *config.Config, logger zerolog.Logger) (*Resilient, error) {
	var base Synthesizer
	switch cfg.TTSProvider {
	case config.ProviderHuggingFace:
		base = NewHuggingFaceClient(cfg)
	case config.ProviderCartesia:
		base = NewCartesiaClient(cfg)
	case config.ProviderDeepgram:
		base = NewDeepgramClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported TTS provider %q", cfg.TTSProvider)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return NewResilient(base, ResilienceConfig{
		Timeout:      cfg.TTSTimeout,
		Retry:        retry,
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}, logger), nil
}
