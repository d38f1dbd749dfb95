// Package healthcheck serves the standard gRPC health protocol for the bus: the overall
// service "" plus one service per registered topic.
package healthcheck

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

// Server wraps a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// New creates a health server reporting the overall service as serving.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, h)

	return &Server{
		grpc:   g,
		health: h,
		logger: logger.With("component", "healthcheck"),
	}
}

// TopicRegistered marks topic as serving. It matches the bus topic listener signature.
func (s *Server) TopicRegistered(topic eventlog.Topic) {
	s.health.SetServingStatus(topic.Name, healthpb.HealthCheckResponse_SERVING)
	s.logger.Debug("topic health registered", "topic", topic.Name)
}

// SetServing changes the overall status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
	return nil
}

// Shutdown reports every service as not serving and stops the server gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
