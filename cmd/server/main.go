package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/voice-relay/internal/api"
	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/dispatch"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/pipeline"
	"github.com/lexiqai/voice-relay/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("llm_base_url", cfg.LLMBaseURL).
		Str("llm_model", cfg.LLMModel).
		Str("tts_provider", cfg.TTSProvider).
		Str("dispatch_strategy", cfg.DispatchStrategy).
		Int("tts_concurrency", cfg.TTSConcurrency).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Relay Service starting")

	chat, err := llm.NewOpenAICompatible(llm.OpenAIConfig{
		APIKey:      cfg.XAIAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	synth, err := tts.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create TTS client")
	}

	policy, err := audio.ParseMismatchPolicy(cfg.AudioMismatchPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid audio mismatch policy")
	}

	dispatcher := dispatch.New(synth, dispatch.Config{
		Concurrency: cfg.TTSConcurrency,
		RateLimit:   cfg.TTSRateLimit,
	})
	orchestrator, err := pipeline.New(dispatcher, pipeline.Options{
		Strategy:       cfg.DispatchStrategy,
		MismatchPolicy: policy,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create pipeline")
	}
	logger.Info().
		Str("strategy", orchestrator.Strategy()).
		Int("concurrency", dispatcher.Limit()).
		Str("mismatch_policy", cfg.AudioMismatchPolicy).
		Msg("Synthesis pipeline ready")

	// Create HTTP server
	mux := http.NewServeMux()

	api.NewServer(chat, orchestrator, api.Options{
		SystemPrompt:   cfg.LLMSystemPrompt,
		MaxTextLength:  cfg.MaxTextLength,
		RequestTimeout: cfg.RequestTimeout,
	}).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks avoid paid API calls: the LLM client is validated at
	// startup and the synthesizer reports its circuit breaker.
	checks := map[string]observability.HealthCheckFunc{
		"llm": func(ctx context.Context) (bool, error) {
			return chat != nil, nil
		},
		"tts": synth.Healthy,
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts; writes cover a whole synthesis run
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health service mirroring /ready
	grpcHealth := observability.NewGRPCHealth(checks, 10*time.Second, logger)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth.Server())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go grpcHealth.Run(ctx)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal().Err(err).Str("grpc_port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
	}
	go func() {
		logger.Info().Str("grpc_port", cfg.GRPCPort).Msg("gRPC health service listening")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/chat", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Stop advertising readiness before draining requests
	stop()
	grpcHealth.Shutdown()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	grpcServer.GracefulStop()

	logger.Info().Msg("Server exited gracefully")
}
