package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"classbook/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthService answers grpc.health.v1 checks from a store ping.
type HealthService struct {
	grpc_health_v1.UnimplementedHealthServer
	store   Pinger
	timeout time.Duration
}

func NewHealthService(store Pinger) *HealthService {
	return &HealthService{store: store, timeout: 2 * time.Second}
}

func (h *HealthService) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != "classbook" {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	st := grpc_health_v1.HealthCheckResponse_SERVING
	if err := h.store.PingContext(ctx); err != nil {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

type GRPCServer struct {
	server   *grpc.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, store Pinger, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return newGRPCServer(cfg, lis, store, logger), nil
}

func newGRPCServer(cfg *config.APIConfig, lis net.Listener, store Pinger, logger *zerolog.Logger) *GRPCServer {
	auth := NewAuthInterceptor(cfg)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingUnaryInterceptor(logger),
		auth.Unary(),
	))

	grpc_health_v1.RegisterHealthServer(grpcServer, NewHealthService(store))
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	serverLogger := zerolog.Nop()
	if logger != nil {
		serverLogger = logger.With().Str("component", "grpc").Logger()
	}
	return &GRPCServer{server: grpcServer, listener: lis, log: serverLogger}
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
