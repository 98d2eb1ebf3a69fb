// Package grpcserver exposes the standard gRPC health service for probes.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	addr   string
	lis    net.Listener
	health *health.Server
	Server *grpc.Server
}

func New(addr string) *Server {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &Server{
		addr:   addr,
		health: hs,
		Server: s,
	}
}

// Listen binds the address so Addr is known before Serve.
func (s *Server) Listen() error {
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.lis = lis
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.addr
}

func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	slog.Info("gRPC health server listening", "addr", s.Addr())
	return s.Server.Serve(s.lis)
}

// SetServing updates the overall status and the named service.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	if service != "" {
		s.health.SetServingStatus(service, status)
	}
}

// Probe pings c and reflects the result in the status of service.
func (s *Server) Probe(ctx context.Context, service string, c Checker) error {
	err := c.Ping(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Health probe failed", "service", service, "error", err)
	}
	s.SetServing(service, err == nil)
	return err
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.Server.GracefulStop()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
