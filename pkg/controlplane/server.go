// Copyright 2025 Takhin Data, Inc.

// Package controlplane implements Laser's ControlPlane (C11): the HTTP
// surface over PartitionTable that lets an operator (or
// the out-of-scope batch-file monitor) trigger base/delta loads, force
// replication, mark shards unavailable, clean stale partitions, flip the
// monitor switch, and push a manual configuration override. Routing
// follows the pkg/console idiom (chi + go-chi/cors, one
// respond/respondOK/respondErr helper set, routes grouped with chi.Router), cut
// down to the handful of operations Laser needs instead of a full
// admin console.
package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/audit"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/parttable"
)

// Server is the control-plane HTTP server fronting one node's
// PartitionTable and ConfigStore.
type Server struct {
	router *chi.Mux
	server *http.Server

	table  *parttable.Table
	store  *configstore.Store
	audit  *audit.Logger // nil when audit logging is disabled
	log    *zap.Logger
}

// New builds a Server bound to addr. auditLogger may be nil.
func New(addr string, table *parttable.Table, store *configstore.Store, auditLogger *audit.Logger, log *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		table:  table,
		store:  store,
		audit:  auditLogger,
		log:    log,
	}
	s.server = &http.Server{Addr: addr, Handler: s.router}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Post("/update/base", s.handleUpdateBase)
	s.router.Post("/update/delta", s.handleUpdateDelta)
	s.router.Post("/update/base_replication", s.handleUpdateBaseReplication)
	s.router.Get("/db/meta", s.handleDBMeta)
	s.router.Get("/shard/list", s.handleShardList)
	s.router.Post("/shard/unavailable", s.handleShardUnavailable)
	s.router.Post("/clean/partitions", s.handleCleanPartitions)
	s.router.Post("/monitor/switch", s.handleMonitorSwitch)
	s.router.Post("/update/configs", s.handleUpdateConfigs)

	return s
}

// Start serves in the background.
func (s *Server) Start() error {
	s.log.Info("starting control plane server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("control plane server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to 10s for in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
