// Copyright 2025 Takhin Data, Inc.

package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/logger"
)

var (
	// Connection / RPC metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "laser_connections_active",
			Help: "Number of active RPC connections",
		},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laser_rpc_requests_total",
			Help: "Total number of RPC operations by operation name and result code",
		},
		[]string{"op", "code"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "laser_rpc_request_duration_seconds",
			Help:    "RPC operation latency in seconds by operation name",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	DispatchRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laser_dispatch_rate_limited_total",
			Help: "Total number of requests rejected by traffic restriction",
		},
		[]string{"db", "table", "op"},
	)

	// Ingest / partition lifecycle metrics
	PartitionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "laser_partition_state",
			Help: "Partition lifecycle state (0=BASE_LOADING, 1=BASE_LOADED, 2=DELTA_LOADING, 3=DELTA_LOADED)",
		},
		[]string{"partition_hash"},
	)

	LoadQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "laser_load_queue_depth",
			Help: "Current depth of a partition's bounded load queue",
		},
		[]string{"partition_hash"},
	)

	LoadQueueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laser_load_queue_full_total",
			Help: "Total number of load requests dropped because the bounded load queue was full",
		},
		[]string{"partition_hash"},
	)

	PartitionsMounted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "laser_partitions_mounted",
			Help: "Number of partitions currently mounted on this node",
		},
	)

	UnavailableShards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "laser_unavailable_shards",
			Help: "Number of shards currently marked unavailable",
		},
	)

	// Storage engine metrics
	EngineSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "laser_engine_size_bytes",
			Help: "Engine on-disk size in bytes by partition hash",
		},
		[]string{"partition_hash"},
	)

	EngineIOErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laser_engine_io_errors_total",
			Help: "Total number of storage engine I/O errors by operation",
		},
		[]string{"operation"},
	)

	// Replication metrics
	ReplicationLagMs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "laser_replication_lag_milliseconds",
			Help: "Time since a follower partition last matched its leader's version",
		},
		[]string{"partition_hash"},
	)

	ReplicationCatchupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laser_replication_catchups_total",
			Help: "Total number of full-state replication catch-ups performed",
		},
		[]string{"partition_hash", "result"},
	)

	ReplicationBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laser_replication_bytes_transferred_total",
			Help: "Total bytes transferred by the replication transport",
		},
		[]string{"direction"},
	)

	// Go runtime metrics
	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "laser_go_goroutines", Help: "Number of goroutines"},
	)
	GoThreads = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "laser_go_threads", Help: "GOMAXPROCS: max OS threads executing Go code at once"},
	)
	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "laser_go_mem_alloc_bytes", Help: "Bytes of allocated heap objects"},
	)
	GoMemTotalAllocBytes = promauto.NewCounter(
		prometheus.CounterOpts{Name: "laser_go_mem_total_alloc_bytes", Help: "Cumulative bytes allocated for heap objects"},
	)
	GoMemSysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "laser_go_mem_sys_bytes", Help: "Total bytes of memory obtained from the OS"},
	)
	GoMemHeapInuseBytes = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "laser_go_mem_heap_inuse_bytes", Help: "Bytes in in-use heap spans"},
	)
	GoGCPauseSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "laser_go_gc_pause_seconds",
			Help:    "GC pause duration in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
	)
	GoGCTotal = promauto.NewCounter(
		prometheus.CounterOpts{Name: "laser_go_gc_total", Help: "Total number of GC runs"},
	)
)

// Server serves Prometheus metrics and, while running, periodically
// refreshes Go runtime gauges.
type Server struct {
	config      *config.Config
	logger      *logger.Logger
	server      *http.Server
	stopChan    chan struct{}
	lastNumGC   uint32
}

// New builds a metrics Server bound to cfg.Metrics.
func New(cfg *config.Config) *Server {
	return &Server{
		config:   cfg,
		logger:   logger.Default().WithComponent("metrics"),
		stopChan: make(chan struct{}),
	}
}

// Start serves the Prometheus handler on cfg.Metrics.Host:Port and begins
// the runtime-metrics collector loop. A no-op when metrics are disabled.
func (s *Server) Start() error {
	if !s.config.Metrics.Enabled {
		s.logger.Info("metrics server disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Metrics.Host, s.config.Metrics.Port)

	mux := http.NewServeMux()
	mux.Handle(s.config.Metrics.Path, promhttp.Handler())

	s.server = &http.Server{Addr: addr, Handler: mux}

	s.logger.Info("starting metrics server", "address", addr, "path", s.config.Metrics.Path)

	go s.collectRuntimeMetrics()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) collectRuntimeMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var lastTotalAlloc uint64
	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			GoRoutines.Set(float64(runtime.NumGoroutine()))
			GoThreads.Set(float64(runtime.GOMAXPROCS(0)))

			GoMemAllocBytes.Set(float64(m.Alloc))
			GoMemTotalAllocBytes.Add(float64(m.TotalAlloc - lastTotalAlloc))
			lastTotalAlloc = m.TotalAlloc
			GoMemSysBytes.Set(float64(m.Sys))
			GoMemHeapInuseBytes.Set(float64(m.HeapInuse))

			if m.NumGC > s.lastNumGC {
				for i := s.lastNumGC; i < m.NumGC; i++ {
					pause := m.PauseNs[i%256]
					GoGCPauseSeconds.Observe(float64(pause) / 1e9)
					GoGCTotal.Inc()
				}
				s.lastNumGC = m.NumGC
			}

		case <-s.stopChan:
			return
		}
	}
}

// Stop stops the runtime-metrics collector and closes the HTTP server.
func (s *Server) Stop() error {
	close(s.stopChan)
	if s.server != nil {
		s.logger.Info("stopping metrics server")
		return s.server.Close()
	}
	return nil
}
