package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"roomchat/internal/observability"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes grpc.health.v1 backed by storage reachability.
type HealthServer struct {
	server   *grpclib.Server
	health   *health.Server
	pingers  map[string]Pinger
	interval time.Duration
	log      *slog.Logger
}

// NewHealthServer builds the gRPC server. Each pinger becomes a named
// service in the health registry; "" reports the overall status.
func NewHealthServer(pingers map[string]Pinger, interval time.Duration, log *slog.Logger) *HealthServer {
	server := grpclib.NewServer(
		grpclib.StatsHandler(otelgrpc.NewServerHandler()),
		grpclib.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	return &HealthServer{
		server:   server,
		health:   hs,
		pingers:  pingers,
		interval: interval,
		log:      log,
	}
}

// Check pings every backend once and updates the health registry.
func (s *HealthServer) Check(ctx context.Context) bool {
	healthy := true
	for name, pinger := range s.pingers {
		status := healthpb.HealthCheckResponse_SERVING
		if err := pinger.Ping(ctx); err != nil {
			s.log.Warn("health check failed", "backend", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
			healthy = false
		}
		s.health.SetServingStatus(name, status)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	return healthy
}

// Serve runs the health loop and the gRPC server until ctx is done.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.server.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()
	s.log.Info("grpc health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Server exposes the underlying gRPC server, mainly for tests.
func (s *HealthServer) Server() *grpclib.Server {
	return s.server
}
