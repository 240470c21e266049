// Copyright 2025 Takhin Data, Inc.

package replication

import (
	"crypto/tls"
	"time"

	"github.com/laserkv/laser/pkg/compression"
	"github.com/laserkv/laser/pkg/config"
)

// Transport bundles a Receiver and Sender configured from one node's
// replication settings (the design wdt_replicator_* flags). It is the
// single object IngestController holds to both host catch-up targets (as
// a follower) and serve catch-up sources (as a leader).
type Transport struct {
	Receiver *Receiver
	Sender   *Sender

	AbortTimeout      time.Duration
	ErrorDelay        time.Duration
	MaxServerWaitTime time.Duration
}

// NewTransport builds a Transport from the node's replication and TLS
// configuration.
func NewTransport(cfg config.ReplicationConfig, tlsCfg *tls.Config) *Transport {
	compressionType := compression.None
	switch cfg.CompressionType {
	case "snappy":
		compressionType = compression.Snappy
	case "lz4":
		compressionType = compression.LZ4
	case "zstd":
		compressionType = compression.ZSTD
	case "gzip":
		compressionType = compression.GZIP
	}

	return &Transport{
		Receiver:          NewReceiver(tlsCfg),
		Sender:            NewSender(tlsCfg, compressionType),
		AbortTimeout:      time.Duration(cfg.ReplicateTimeoutMs) * time.Millisecond,
		ErrorDelay:        time.Duration(cfg.ReplicateTimeoutMs) * time.Millisecond,
		MaxServerWaitTime: time.Duration(cfg.ReplicateTimeoutMs) * time.Millisecond,
	}
}

// SessionTimeout is the per-transfer timeout the design specifies as
// max_server_wait_time_ms + abort_timeout_ms.
func (t *Transport) SessionTimeout() time.Duration {
	return t.MaxServerWaitTime + t.AbortTimeout
}
