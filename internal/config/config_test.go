package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("XAI_API_KEY", "test-xai-key")
	os.Setenv("HF_TOKEN", "test-hf-token")
	t.Cleanup(func() {
		os.Unsetenv("XAI_API_KEY")
		os.Unsetenv("HF_TOKEN")
	})
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.XAIAPIKey != "test-xai-key" {
		t.Errorf("Expected XAIAPIKey 'test-xai-key', got '%s'", cfg.XAIAPIKey)
	}

	if cfg.HFToken != "test-hf-token" {
		t.Errorf("Expected HFToken 'test-hf-token', got '%s'", cfg.HFToken)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Clear environment variables
	os.Unsetenv("XAI_API_KEY")
	os.Unsetenv("HF_TOKEN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_MissingProviderKey(t *testing.T) {
	os.Setenv("XAI_API_KEY", "test-xai-key")
	os.Setenv("TTS_PROVIDER", "cartesia")
	defer os.Unsetenv("XAI_API_KEY")
	defer os.Unsetenv("TTS_PROVIDER")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when CARTESIA_API_KEY is missing for the cartesia provider")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.GRPCPort != "9090" {
		t.Errorf("Expected default GRPCPort '9090', got '%s'", cfg.GRPCPort)
	}

	if cfg.LLMBaseURL != "https://api.x.ai/v1" {
		t.Errorf("Expected default LLMBaseURL 'https://api.x.ai/v1', got '%s'", cfg.LLMBaseURL)
	}

	if cfg.LLMModel != "grok-4-1-fast" {
		t.Errorf("Expected default LLMModel 'grok-4-1-fast', got '%s'", cfg.LLMModel)
	}

	if cfg.LLMTemperature != 0.7 {
		t.Errorf("Expected default LLMTemperature 0.7, got %f", cfg.LLMTemperature)
	}

	if cfg.LLMMaxTokens != 150 {
		t.Errorf("Expected default LLMMaxTokens 150, got %d", cfg.LLMMaxTokens)
	}

	if cfg.TTSProvider != ProviderHuggingFace {
		t.Errorf("Expected default TTSProvider '%s', got '%s'", ProviderHuggingFace, cfg.TTSProvider)
	}

	if cfg.HFTTSModel != "hexgrad/Kokoro-82M" {
		t.Errorf("Expected default HFTTSModel 'hexgrad/Kokoro-82M', got '%s'", cfg.HFTTSModel)
	}

	if cfg.TTSConcurrency != 5 {
		t.Errorf("Expected default TTSConcurrency 5, got %d", cfg.TTSConcurrency)
	}

	if cfg.TTSTimeout != 30*time.Second {
		t.Errorf("Expected default TTSTimeout 30s, got %v", cfg.TTSTimeout)
	}

	if cfg.DispatchStrategy != StrategyStreaming {
		t.Errorf("Expected default DispatchStrategy '%s', got '%s'", StrategyStreaming, cfg.DispatchStrategy)
	}

	if cfg.AudioMismatchPolicy != "reject" {
		t.Errorf("Expected default AudioMismatchPolicy 'reject', got '%s'", cfg.AudioMismatchPolicy)
	}
}

func TestLoad_InvalidEnums(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"provider", "TTS_PROVIDER", "espeak"},
		{"strategy", "DISPATCH_STRATEGY", "eager"},
		{"mismatch policy", "AUDIO_MISMATCH_POLICY", "ignore"},
		{"concurrency", "TTS_CONCURRENCY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			os.Setenv(tt.key, tt.value)
			defer os.Unsetenv(tt.key)

			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.XAIAPIKey != "test-xai-key" {
		t.Errorf("Expected XAIAPIKey 'test-xai-key', got '%s'", cfg.XAIAPIKey)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv(t)
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
