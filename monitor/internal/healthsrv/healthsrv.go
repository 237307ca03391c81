// Package healthsrv serves the standard gRPC health checking protocol so
// orchestrators can probe the monitor. The monitor service is SERVING only
// while the MQTT connection is up.
package healthsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the name reported for the monitor's own health.
const Service = "machineguard.monitor"

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a Server. Both the overall ("") and the monitor service start
// NOT_SERVING until SetConnected(true) is called.
func New(opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SetConnected(false)
	return s
}

// SetConnected updates the serving status from the broker connection state.
func (s *Server) SetConnected(up bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	slog.Debug("healthsrv: status changed", "service", Service, "status", status.String())
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("healthsrv: serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("healthsrv: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	slog.Info("healthsrv: gRPC listening", "addr", addr)
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
