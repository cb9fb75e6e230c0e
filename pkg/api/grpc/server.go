// Package grpc serves the standard gRPC health protocol for the
// orchestrator, so gRPC-aware load balancers and probes can follow the
// controller lifecycle.
package grpc

import (
	"context"
	"fmt"
	"net"

	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the orchestrator.
const ServiceName = "ghostqa.orchestrator.v1.Orchestrator"

// Server represents the gRPC API server
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	logger   *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port       int
	Controller *orchestrator.Controller
	Logger     *zap.Logger
}

// NewServer creates a new gRPC server. Health follows the controller:
// SERVING while running or paused, NOT_SERVING otherwise.
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		logger:   cfg.Logger,
	}

	s.setServing(cfg.Controller.State())
	cfg.Controller.OnStateChange(func(_, to orchestrator.State) {
		s.setServing(to)
	})

	return s, nil
}

func (s *Server) setServing(state orchestrator.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state.Active() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server, forcing it closed if ctx
// ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		<-done
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
