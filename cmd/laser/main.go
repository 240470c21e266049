// Copyright 2025 Takhin Data, Inc.

package main

import (
	"context"
	cryptotls "crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/audit"
	"github.com/laserkv/laser/pkg/client"
	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/controlplane"
	"github.com/laserkv/laser/pkg/dispatcher"
	"github.com/laserkv/laser/pkg/health"
	"github.com/laserkv/laser/pkg/ingest"
	"github.com/laserkv/laser/pkg/logger"
	"github.com/laserkv/laser/pkg/metainfo"
	"github.com/laserkv/laser/pkg/metrics"
	"github.com/laserkv/laser/pkg/parttable"
	"github.com/laserkv/laser/pkg/profiler"
	"github.com/laserkv/laser/pkg/registry"
	"github.com/laserkv/laser/pkg/replication"
	"github.com/laserkv/laser/pkg/rpc"
	"github.com/laserkv/laser/pkg/throttle"
	"github.com/laserkv/laser/pkg/tls"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/laser.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Laser version %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.SetDefault(log)

	zlog, err := newZapLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build structured logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	log.Info("starting Laser",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"group", cfg.Node.Group,
		"node", cfg.Node.Node,
		"dc", cfg.Node.DC,
	)

	// ConfigStore (C3): the live view over the five payloads, seeded from
	// the bootstrap file. A production deployment attaches a registry
	// watcher here via UpdateSchema/UpdateCluster/UpdateTrafficRestriction;
	// that watcher is out of this module's scope.
	configStore := configstore.New(cfg)

	// MetaInfoStore (C4): persistent per-partition base/delta version
	// ledger, backed by bbolt.
	metaPath := cfg.Node.Group + "_" + cfg.Node.Node + "_meta.db"
	meta, err := metainfo.Open(metaPath)
	if err != nil {
		log.Fatal("failed to open meta-info store", "error", err)
	}

	// ReplicationTransport (C7), with optional mTLS for its listener and
	// dialer.
	var replTLS *cryptotls.Config
	if cfg.Server.TLS.Enabled {
		replTLS, err = tls.LoadTLSConfig(&cfg.Server.TLS)
		if err != nil {
			log.Fatal("failed to build TLS configuration", "error", err)
		}
	}
	transport := replication.NewTransport(cfg.Replication, replTLS)

	// The service registry: a config-driven "find servers for (service,
	// shard, dc)" lookup, standing in for a production discovery system
	// (ZooKeeper, Consul, k8s endpoints, ...) here
	reg := registry.NewStatic(cfg.Node.Group, configStore, zlog)

	// ClientRouter (C10) transport: a real deployment dials peer laser
	// nodes over gRPC; the Replicator reuses the same dialer to issue
	// replicate_wdt catch-up requests.
	dialer := &client.GRPCDialer{ConnectTimeout: time.Duration(cfg.RPC.ConnectTimeoutMs) * time.Millisecond}
	replicator := client.NewReplicator(dialer)

	sources := &ingest.FileSourceResolver{Root: os.Getenv("LASER_HDFS_DATA_DIR")}

	// PartitionTable (C8): owns every mounted partition's ingest
	// controller on this node.
	table := parttable.New(parttable.Params{
		DataRoot:    cfg.Node.Group + "/data",
		Group:       cfg.Node.Group,
		Node:        cfg.Node.Node,
		DC:          cfg.Node.DC,
		SourceDC:    cfg.Node.SourceDC,
		ConfigStore: configStore,
		Meta:        meta,
		Transport:   transport,
		Registry:    reg,
		Sources:     sources,
		Replicator:  replicator,
		WarmUpDelay: time.Duration(cfg.Replication.WarmUpDelayMs) * time.Millisecond,
		QueueSize:   cfg.Replication.LoadQueueCapacity,
		Log:         zlog,
	})

	// Reconcile mounts whatever partitions this node's cluster_info_data
	// entry currently assigns it; ConfigStore subscriptions keep it in
	// sync with later membership changes.
	configStore.SubscribePartitions(func(string, string) {
		if err := table.Reconcile(); err != nil {
			zlog.Error("reconcile failed", zap.Error(err))
		}
	})
	if err := table.Reconcile(); err != nil {
		log.Fatal("initial partition reconcile failed", "error", err)
	}

	// RequestDispatcher (C9): the per-request pipeline fronting the
	// partition table, gated by per-(db,table,op) traffic restriction.
	dispatchServer := dispatcher.NewServer(table, configStore, throttle.NewRegistry(), zlog)

	// RPC server: the gRPC transport fronting the dispatcher.
	rpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	grpcServer, err := rpc.NewGRPCServer(rpcAddr, dispatchServer)
	if err != nil {
		log.Fatal("failed to start rpc server", "error", err)
	}
	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Error("rpc server stopped with error", "error", err)
		}
	}()
	if err := table.SetServiceServer(grpcServer.Addr().String()); err != nil {
		log.Error("failed to advertise service address", "error", err)
	}

	// Audit trail (C11): manual overrides and forced
	// operations are logged regardless of whether anything ever queries
	// them back, per the pkg/audit idiom.
	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.NewLogger(audit.Config{
			Enabled:          true,
			OutputPath:       cfg.Audit.OutputPath,
			MaxFileSize:      cfg.Audit.MaxFileSize,
			MaxBackups:       cfg.Audit.MaxBackups,
			MaxAge:           cfg.Audit.MaxAgeDays,
			Compress:         cfg.Audit.Compress,
			StoreEnabled:     cfg.Audit.StoreEnabled,
			StoreRetentionMs: cfg.Audit.StoreRetention,
		})
		if err != nil {
			log.Fatal("failed to open audit logger", "error", err)
		}
	}

	// ControlPlane (C11): HTTP surface over the partition table.
	var controlServer *controlplane.Server
	if cfg.ControlPlane.Enabled {
		cpAddr := fmt.Sprintf("%s:%d", cfg.ControlPlane.Host, cfg.ControlPlane.Port)
		controlServer = controlplane.New(cpAddr, table, configStore, auditLogger, zlog)
		if err := controlServer.Start(); err != nil {
			log.Fatal("failed to start control-plane server", "error", err)
		}
		log.Info("started control-plane server", "port", cfg.ControlPlane.Port)
	}

	// Metrics, profiler, health: ambient surfaces that stay on even
	// though nothing above them is on the hot request path.
	metricsServer := metrics.New(cfg)
	if err := metricsServer.Start(); err != nil {
		log.Fatal("failed to start metrics server", "error", err)
	}

	profilerServer := profiler.NewServer(cfg)
	if err := profilerServer.Start(); err != nil {
		log.Fatal("failed to start profiler server", "error", err)
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthChecker := health.NewChecker(version, table)
		healthAddr := fmt.Sprintf("%s:%d", cfg.Health.Host, cfg.Health.Port)
		healthServer = health.NewServer(healthAddr, healthChecker)
		if err := healthServer.Start(); err != nil {
			log.Fatal("failed to start health check server", "error", err)
		}
		log.Info("started health check server", "port", cfg.Health.Port)
	}

	if err := table.WaitReady(context.Background()); err != nil {
		log.Error("warm-up wait interrupted", "error", err)
	} else {
		log.Info("graceful warm-up complete, node marked available")
	}

	log.Info("Laser started successfully",
		"rpc_addr", rpcAddr,
		"metrics_port", cfg.Metrics.Port,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down Laser")

	grpcServer.Stop()

	if controlServer != nil {
		if err := controlServer.Stop(); err != nil {
			log.Error("failed to stop control-plane server", "error", err)
		}
	}
	if healthServer != nil {
		if err := healthServer.Stop(); err != nil {
			log.Error("failed to stop health check server", "error", err)
		}
	}
	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			log.Error("failed to close audit logger", "error", err)
		}
	}

	if err := table.Close(); err != nil {
		log.Error("failed to stop partition table", "error", err)
	}
	if err := meta.Close(); err != nil {
		log.Error("failed to close meta-info store", "error", err)
	}

	if err := metricsServer.Stop(); err != nil {
		log.Error("failed to stop metrics server", "error", err)
	}
	if err := profilerServer.Stop(); err != nil {
		log.Error("failed to stop profiler server", "error", err)
	}

	log.Info("Laser stopped")
}

func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level.SetLevel(zap.DebugLevel)
	case "warn":
		cfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		cfg.Level.SetLevel(zap.ErrorLevel)
	default:
		cfg.Level.SetLevel(zap.InfoLevel)
	}
	return cfg.Build()
}
