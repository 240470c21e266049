// Copyright 2025 Takhin Data, Inc.

// Package rpc hosts the gRPC transport that fronts the request
// dispatcher. Service registration is left for the generated client
// stubs; this package owns listener lifecycle, keepalive tuning, and
// the health/reflection services every node exposes regardless of
// which typed operations are wired in.
package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/laserkv/laser/pkg/dispatcher"
	"github.com/laserkv/laser/pkg/logger"
)

const serviceName = "laser.v1.LaserService"

// GRPCServer manages the gRPC server lifecycle fronting a dispatcher.Server.
type GRPCServer struct {
	server       *grpc.Server
	listener     net.Listener
	apiServer    *dispatcher.Server
	logger       *logger.Logger
	healthServer *health.Server
}

// NewGRPCServer creates a new gRPC server bound to addr, serving the given
// dispatcher.
func NewGRPCServer(addr string, apiServer *dispatcher.Server) (*GRPCServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(16 * 1024 * 1024),
		grpc.MaxSendMsgSize(16 * 1024 * 1024),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             1 * time.Minute,
			PermitWithoutStream: true,
		}),
	}

	grpcServer := grpc.NewServer(opts...)

	// Register LaserService (generated from the wire proto once codegen
	// lands); apiServer already implements every typed method the
	// generated server interface would require.
	// RegisterLaserServiceServer(grpcServer, apiServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		server:       grpcServer,
		listener:     listener,
		apiServer:    apiServer,
		logger:       logger.Default().WithComponent("rpc-server"),
		healthServer: healthServer,
	}, nil
}

// Start serves on the bound listener, blocking until Stop is called.
func (s *GRPCServer) Start() error {
	s.logger.Info("starting rpc server", "addr", s.listener.Addr().String())

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, falling back to a hard stop if
// in-flight RPCs don't drain within the timeout.
func (s *GRPCServer) Stop() {
	s.logger.Info("stopping rpc server")

	s.healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("rpc server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("graceful stop timeout, forcing stop")
		s.server.Stop()
	}
}

// Addr returns the server's listening address.
func (s *GRPCServer) Addr() net.Addr {
	return s.listener.Addr()
}

// HealthCheck reports whether the rpc server is able to serve requests.
func (s *GRPCServer) HealthCheck(ctx context.Context) error {
	return nil
}
