package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported synthesis providers
const (
	ProviderHuggingFace = "huggingface"
	ProviderCartesia    = "cartesia"
	ProviderDeepgram    = "deepgram"
)

// Supported dispatch strategies
const (
	StrategyStreaming = "streaming"
	StrategyBatch     = "batch"
)

// Config holds all configuration for the voice relay service
type Config struct {
	// Server configuration
	Port            string        `envconfig:"PORT" default:"8080"`
	GRPCPort        string        `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"120s"` // Upper bound for one /api/chat request
	MaxTextLength   int           `envconfig:"MAX_TEXT_LENGTH" default:"4000"` // Characters accepted in a request

	// Text generation (OpenAI-compatible streaming chat completions)
	XAIAPIKey       string  `envconfig:"XAI_API_KEY" required:"true"`
	LLMBaseURL      string  `envconfig:"LLM_BASE_URL" default:"https://api.x.ai/v1"`
	LLMModel        string  `envconfig:"LLM_MODEL" default:"grok-4-1-fast"`
	LLMSystemPrompt string  `envconfig:"LLM_SYSTEM_PROMPT" default:"You are a helpful, friendly AI assistant. Keep responses concise and conversational."`
	LLMTemperature  float32 `envconfig:"LLM_TEMPERATURE" default:"0.7"` // 0.0-2.0
	LLMMaxTokens    int     `envconfig:"LLM_MAX_TOKENS" default:"150"`

	// Speech synthesis
	TTSProvider string `envconfig:"TTS_PROVIDER" default:"huggingface"` // huggingface, cartesia, deepgram

	HFToken    string `envconfig:"HF_TOKEN"`
	HFTTSURL   string `envconfig:"HF_TTS_URL" default:"https://router.huggingface.co/hf-inference/models"`
	HFTTSModel string `envconfig:"HF_TTS_MODEL" default:"hexgrad/Kokoro-82M"`

	CartesiaAPIKey     string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID    string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID    string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaSampleRate int    `envconfig:"CARTESIA_SAMPLE_RATE" default:"24000"`

	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramTTSModel   string `envconfig:"DEEPGRAM_TTS_MODEL" default:"aura-asteria-en"`
	DeepgramSampleRate int    `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"24000"`

	// Synthesis dispatch
	TTSConcurrency      int           `envconfig:"TTS_CONCURRENCY" default:"5"`    // Max concurrent backend calls per request
	TTSTimeout          time.Duration `envconfig:"TTS_TIMEOUT" default:"30s"`      // Per-sentence backend timeout
	TTSRateLimit        float64       `envconfig:"TTS_RATE_LIMIT" default:"0"`     // Backend calls per second, 0 = unlimited
	DispatchStrategy    string        `envconfig:"DISPATCH_STRATEGY" default:"streaming"` // streaming, batch
	AudioMismatchPolicy string        `envconfig:"AUDIO_MISMATCH_POLICY" default:"reject"` // reject, skip, resample

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and enumerated values
func (c *Config) Validate() error {
	if c.XAIAPIKey == "" {
		return fmt.Errorf("XAI_API_KEY is required")
	}

	c.TTSProvider = strings.ToLower(strings.TrimSpace(c.TTSProvider))
	switch c.TTSProvider {
	case ProviderHuggingFace:
		if c.HFToken == "" {
			return fmt.Errorf("HF_TOKEN is required when TTS_PROVIDER=%s", c.TTSProvider)
		}
	case ProviderCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when TTS_PROVIDER=%s", c.TTSProvider)
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TTS_PROVIDER=%s", c.TTSProvider)
		}
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTSProvider)
	}

	switch c.DispatchStrategy {
	case StrategyStreaming, StrategyBatch:
	default:
		return fmt.Errorf("unsupported DISPATCH_STRATEGY %q", c.DispatchStrategy)
	}

	switch c.AudioMismatchPolicy {
	case "reject", "skip", "resample":
	default:
		return fmt.Errorf("unsupported AUDIO_MISMATCH_POLICY %q", c.AudioMismatchPolicy)
	}

	if c.TTSConcurrency < 1 {
		return fmt.Errorf("TTS_CONCURRENCY must be positive, got %d", c.TTSConcurrency)
	}
	if c.TTSRateLimit < 0 {
		return fmt.Errorf("TTS_RATE_LIMIT must not be negative, got %v", c.TTSRateLimit)
	}

	return nil
}
