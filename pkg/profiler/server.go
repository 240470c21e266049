// Copyright 2025 Takhin Data, Inc.

// Package profiler exposes Go's standard pprof handlers behind a config
// gate, so an operator can point `go tool pprof` at a running node without
// that surface being reachable unless explicitly turned on.
package profiler

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/logger"
)

// Server wraps the standard pprof handlers in an HTTP server that only
// listens when the operator has enabled it in config.
type Server struct {
	config *config.Config
	logger *logger.Logger
	server *http.Server
}

// NewServer builds a profiler server for cfg. Start is a no-op if
// cfg.Profiler.Enabled is false.
func NewServer(cfg *config.Config) *Server {
	return &Server{
		config: cfg,
		logger: logger.Default().WithComponent("profiler-server"),
	}
}

// Start begins serving pprof endpoints in the background, or does nothing
// if the profiler is disabled.
func (s *Server) Start() error {
	if !s.config.Profiler.Enabled {
		s.logger.Info("profiler server disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Profiler.Host, s.config.Profiler.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("starting profiler server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("profiler server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts down the profiler server, if it was started.
func (s *Server) Stop() error {
	if s.server != nil {
		s.logger.Info("stopping profiler server")
		return s.server.Close()
	}
	return nil
}
