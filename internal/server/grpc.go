package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer serves the standard gRPC health protocol plus reflection so
// operators can probe the instance with grpcurl and load-balancer checks.
// The trading API itself is HTTP only.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	log    zerolog.Logger
}

func NewGRPCServer(addr string, log zerolog.Logger) *GRPCServer {
	srv := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(srv)

	return &GRPCServer{
		server: srv,
		health: healthServer,
		addr:   addr,
		log:    log,
	}
}

// SetServing flips the reported health status, e.g. during drain.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Run serves until ctx is cancelled (blocking).
func (s *GRPCServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.server.GracefulStop()
	}()

	s.log.Info().Str("addr", s.addr).Msg("grpc health server listening")
	return s.server.Serve(lis)
}
