package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth mirrors the HTTP readiness checks onto the standard gRPC health
// service, for orchestrators that health-check over gRPC.
type GRPCHealth struct {
	server   *health.Server
	checks   map[string]HealthCheckFunc
	interval time.Duration
	logger   zerolog.Logger
}

// NewGRPCHealth creates a health server reporting NOT_SERVING until the first check passes
func NewGRPCHealth(checks map[string]HealthCheckFunc, interval time.Duration, logger zerolog.Logger) *GRPCHealth {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealth{
		server:   srv,
		checks:   checks,
		interval: interval,
		logger:   logger.With().Str("component", "grpc_health").Logger(),
	}
}

// Server returns the service implementation to register on a grpc.Server
func (g *GRPCHealth) Server() healthpb.HealthServer {
	return g.server
}

// Refresh runs the checks once and publishes the result
func (g *GRPCHealth) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dependencies, healthy := CheckDependencies(ctx, g.checks)

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		g.logger.Warn().Interface("dependencies", dependencies).Msg("Dependency check failed")
	}
	g.server.SetServingStatus("", status)
	g.server.SetServingStatus(ServiceName, status)

	return healthy
}

// Run refreshes the status every interval until ctx is done
func (g *GRPCHealth) Run(ctx context.Context) {
	g.Refresh(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates
func (g *GRPCHealth) Shutdown() {
	g.server.Shutdown()
}
