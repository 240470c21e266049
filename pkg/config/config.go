// Copyright 2025 Takhin Data, Inc.

// Package config loads Laser's static bootstrap file: the ambient
// server/logging/metrics/replication/health/profiler/TLS sections, plus the
// initial snapshot of ConfigStore's five payloads. Once a node
// is running, further payload updates flow through pkg/configstore, not
// through this package.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the application's static bootstrap configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Health       HealthConfig       `koanf:"health"`
	Profiler     ProfilerConfig     `koanf:"profiler"`
	Replication  ReplicationConfig  `koanf:"replication"`
	RPC          RPCConfig          `koanf:"rpc"`
	Audit        AuditConfig        `koanf:"audit"`
	Node         NodeIdentity       `koanf:"node"`
	ConfigStore  ConfigStoreSeed    `koanf:"configstore"`
	ControlPlane ControlPlaneConfig `koanf:"controlplane"`
}

// NodeIdentity names this process within cluster_info_data.
type NodeIdentity struct {
	Group string `koanf:"group"`
	Node  string `koanf:"node"`
	DC    string `koanf:"dc"`
	// SourceDC names the data center a follower's src_shard_id is computed
	// against for cross-DC replication. Empty on single-DC
	// deployments, where no partition ever needs catch-up across DCs.
	SourceDC string `koanf:"source.dc"`
}

// ServerConfig holds the RPC/HTTP listener configuration.
type ServerConfig struct {
	Host string    `koanf:"host"`
	Port int       `koanf:"port"`
	TLS  TLSConfig `koanf:"tls"`
}

// TLSConfig holds TLS/mTLS configuration shared by the RPC server, the
// control-plane HTTP server, and the replication transport.
type TLSConfig struct {
	Enabled            bool     `koanf:"enabled"`
	CertFile           string   `koanf:"cert.file"`
	KeyFile            string   `koanf:"key.file"`
	CAFile             string   `koanf:"ca.file"`
	ClientAuth         string   `koanf:"client.auth"` // none, request, require
	VerifyClientCert   bool     `koanf:"verify.client.cert"`
	MinVersion         string   `koanf:"min.version"` // TLS1.2, TLS1.3
	CipherSuites       []string `koanf:"cipher.suites"`
	PreferServerCipher bool     `koanf:"prefer.server.cipher"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds Prometheus exporter configuration.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	Path    string `koanf:"path"`
}

// HealthConfig holds the health-check server configuration.
type HealthConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// ProfilerConfig holds the pprof server configuration.
type ProfilerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// ControlPlaneConfig holds the HTTP control-plane server configuration
// (the design, C11).
type ControlPlaneConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// ReplicationConfig tunes the follower catch-up and ingest controller
//.
type ReplicationConfig struct {
	LoadQueueCapacity    int    `koanf:"load.queue.capacity"`
	WarmUpDelayMs        int    `koanf:"warm.up.delay.ms"`
	ReplicateTimeoutMs   int    `koanf:"replicate.timeout.ms"`
	EngineSwapPollMs     int    `koanf:"engine.swap.poll.ms"`
	EngineSwapMaxWaitMs  int    `koanf:"engine.swap.max.wait.ms"`
	TuningPollIntervalMs int    `koanf:"tuning.poll.interval.ms"`
	CompressionType      string `koanf:"compression.type"` // none, snappy, lz4, zstd, gzip
}

// RPCConfig tunes the client/server transport.
type RPCConfig struct {
	MaxConnPerServer   int `koanf:"max.conn.per.server"`
	ConnectTimeoutMs   int `koanf:"connect.timeout.ms"`
	RequestTimeoutMs   int `koanf:"request.timeout.ms"`
	ConnectionRetries  int `koanf:"connection.retries"`
	TimeoutRetries     int `koanf:"timeout.retries"`
	KeepaliveTimeMs    int `koanf:"keepalive.time.ms"`
	KeepaliveTimeoutMs int `koanf:"keepalive.timeout.ms"`
}

// AuditConfig tunes the control-plane audit trail (pkg/audit), which
// records manual overrides alongside the ingest events it was built for.
type AuditConfig struct {
	Enabled         bool   `koanf:"enabled"`
	OutputPath      string `koanf:"output.path"`
	MaxFileSize     int64  `koanf:"max.file.size"`
	MaxBackups      int    `koanf:"max.backups"`
	MaxAgeDays      int    `koanf:"max.age.days"`
	Compress        bool   `koanf:"compress"`
	StoreEnabled    bool   `koanf:"store.enabled"`
	StoreRetention  int64  `koanf:"store.retention.ms"`
}

// ConfigStoreSeed is the initial, file-provided snapshot of ConfigStore's
// five payloads. A running node may later receive updates to
// these same shapes from pkg/configstore's registry watcher or from
// apply_manual; this struct only describes what ships in the bootstrap
// file.
type ConfigStoreSeed struct {
	Schema            SchemaData            `koanf:"schema"`
	Cluster           ClusterInfoData        `koanf:"cluster"`
	NodeConfigList    map[string]string      `koanf:"node_config_list"`
	RocksdbProfiles   map[string]TuningOptions `koanf:"rocksdb_profiles"`
	TableProfiles     map[string]TuningOptions `koanf:"table_profiles"`
	TrafficRestriction map[string]TrafficLimits `koanf:"traffic_restriction"`
}

// SchemaData is `database_table_schema_data`.
type SchemaData struct {
	Databases []DatabaseSchema `koanf:"databases"`
}

// DatabaseSchema lists the tables declared within one database.
type DatabaseSchema struct {
	Name   string        `koanf:"name"`
	Tables []TableSchema `koanf:"tables"`
}

// TableSchema is one table's partitioning and tuning declaration.
type TableSchema struct {
	Name          string   `koanf:"name"`
	PartitionNumber uint32 `koanf:"partition.number"`
	EdgeFlowRatio int      `koanf:"edge.flow.ratio"` // integer percent, 0-100
	BindEdgeNodes []string `koanf:"bind.edge.nodes"`
	TuningProfile string   `koanf:"tuning.profile"`
}

// ClusterInfoData is `cluster_info_data`.
type ClusterInfoData struct {
	DCs    map[string]DCInfo    `koanf:"dcs"`
	Groups map[string]GroupInfo `koanf:"groups"`
}

// DCInfo describes one data center's sharding width.
type DCInfo struct {
	ShardNumber uint32 `koanf:"shard.number"`
}

// GroupInfo is a named collection of nodes.
type GroupInfo struct {
	Nodes map[string]NodeInfo `koanf:"nodes"`
}

// NodeInfo is one node's identity and shard assignment.
type NodeInfo struct {
	ID             int      `koanf:"id"`
	DC             string   `koanf:"dc"`
	Address        string   `koanf:"address"` // host:port the RPC server binds, used by the static registry (§4.9, §4.6)
	IsEdgeNode     bool     `koanf:"is.edge.node"`
	LeaderShards   []uint32 `koanf:"leader.shards"`
	FollowerShards []uint32 `koanf:"follower.shards"`
}

// TuningOptions is a named profile's opaque key/value tuning map (e.g.
// write-buffer size, block-cache size for the underlying StorageEngine).
type TuningOptions map[string]string

// TrafficLimits is `traffic_restriction_data`'s per-(database,table) entry
// per-operation QPS ceilings for single- and multi-key
// operations.
type TrafficLimits struct {
	SingleOperationQPSLimit map[string]int `koanf:"single.operation.qps.limit"`
	MultiOperationQPSLimit  map[string]int `koanf:"multi.operation.qps.limit"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		slog.Info("loaded config from file", "path", configPath)
	}

	if err := k.Load(env.Provider("LASER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LASER_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.TLS.ClientAuth == "" {
		cfg.Server.TLS.ClientAuth = "none"
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "TLS1.2"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9191
	}

	if cfg.Health.Port == 0 {
		cfg.Health.Port = 9192
	}

	if cfg.Profiler.Port == 0 {
		cfg.Profiler.Port = 9193
	}

	if cfg.ControlPlane.Port == 0 {
		cfg.ControlPlane.Port = 9194
	}

	if cfg.Replication.LoadQueueCapacity == 0 {
		cfg.Replication.LoadQueueCapacity = 10
	}
	if cfg.Replication.WarmUpDelayMs == 0 {
		cfg.Replication.WarmUpDelayMs = 5000
	}
	if cfg.Replication.ReplicateTimeoutMs == 0 {
		cfg.Replication.ReplicateTimeoutMs = 30000
	}
	if cfg.Replication.EngineSwapPollMs == 0 {
		cfg.Replication.EngineSwapPollMs = 50
	}
	if cfg.Replication.EngineSwapMaxWaitMs == 0 {
		cfg.Replication.EngineSwapMaxWaitMs = 5000
	}
	if cfg.Replication.TuningPollIntervalMs == 0 {
		cfg.Replication.TuningPollIntervalMs = 60000
	}
	if cfg.Replication.CompressionType == "" {
		cfg.Replication.CompressionType = "none"
	}

	if cfg.RPC.MaxConnPerServer == 0 {
		cfg.RPC.MaxConnPerServer = 4
	}
	if cfg.RPC.ConnectTimeoutMs == 0 {
		cfg.RPC.ConnectTimeoutMs = 2000
	}
	if cfg.RPC.RequestTimeoutMs == 0 {
		cfg.RPC.RequestTimeoutMs = 5000
	}
	if cfg.RPC.ConnectionRetries == 0 {
		cfg.RPC.ConnectionRetries = 2
	}
	if cfg.RPC.TimeoutRetries == 0 {
		cfg.RPC.TimeoutRetries = 1
	}
	if cfg.RPC.KeepaliveTimeMs == 0 {
		cfg.RPC.KeepaliveTimeMs = 30000
	}
	if cfg.RPC.KeepaliveTimeoutMs == 0 {
		cfg.RPC.KeepaliveTimeoutMs = 10000
	}

	if cfg.Audit.OutputPath == "" {
		cfg.Audit.OutputPath = "audit/laser-audit.log"
	}
	if cfg.Audit.MaxFileSize == 0 {
		cfg.Audit.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.Audit.MaxBackups == 0 {
		cfg.Audit.MaxBackups = 5
	}
	if cfg.Audit.MaxAgeDays == 0 {
		cfg.Audit.MaxAgeDays = 30
	}
	if cfg.Audit.StoreRetention == 0 {
		cfg.Audit.StoreRetention = 7 * 24 * 3600 * 1000
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}

		validClientAuth := map[string]bool{"none": true, "request": true, "require": true}
		if !validClientAuth[cfg.Server.TLS.ClientAuth] {
			return fmt.Errorf("invalid client auth mode: %s (must be none, request, or require)", cfg.Server.TLS.ClientAuth)
		}

		validMinVersion := map[string]bool{"TLS1.0": true, "TLS1.1": true, "TLS1.2": true, "TLS1.3": true}
		if !validMinVersion[cfg.Server.TLS.MinVersion] {
			return fmt.Errorf("invalid TLS min version: %s", cfg.Server.TLS.MinVersion)
		}

		if (cfg.Server.TLS.ClientAuth == "require" || cfg.Server.TLS.VerifyClientCert) && cfg.Server.TLS.CAFile == "" {
			return fmt.Errorf("CA file is required when client authentication is required or client cert verification is enabled")
		}
	}

	for _, db := range cfg.ConfigStore.Schema.Databases {
		for _, tbl := range db.Tables {
			if tbl.PartitionNumber == 0 {
				return fmt.Errorf("table %s.%s: partition.number must be > 0", db.Name, tbl.Name)
			}
			if tbl.EdgeFlowRatio < 0 || tbl.EdgeFlowRatio > 100 {
				return fmt.Errorf("table %s.%s: edge.flow.ratio must be 0-100", db.Name, tbl.Name)
			}
		}
	}

	return nil
}
