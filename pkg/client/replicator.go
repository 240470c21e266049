// Copyright 2025 Takhin Data, Inc.

package client

import (
	"context"
	"fmt"
)

// ReplicateWDTRequest is the request shape for the replicate_wdt RPC
// a follower asks a leader to push a base/delta version to
// the connect URL the follower has already allocated a receiver for.
type ReplicateWDTRequest struct {
	ConnectURL    string
	PartitionHash uint64
	Version       string
	NodeHash      int64
}

// Replicator issues replicate_wdt against a leader using the same pooled
// Dialer the read/write path dispatches through, so it is wired through
// the identical "pending generated stub" Dispatch path as every other
// operation (see grpc_dialer.go) rather than inventing a parallel
// transport just for catch-up.
type Replicator struct {
	pool *connPool
}

// NewReplicator builds a Replicator sharing dialer with whatever Router
// the process also runs (or its own, for a replication-only binary).
func NewReplicator(dialer Dialer) *Replicator {
	return &Replicator{pool: newConnPool(dialer)}
}

// RequestReplication implements ingest.ReplicateRequester.
func (r *Replicator) RequestReplication(ctx context.Context, leaderAddr, connectURL string, partitionHash uint64, version string) error {
	conn, err := r.pool.get(leaderAddr, 1)
	if err != nil {
		return fmt.Errorf("client: dial leader %s: %w", leaderAddr, err)
	}
	_, err = conn.Dispatch(ctx, "replicateWdt", &ReplicateWDTRequest{
		ConnectURL:    connectURL,
		PartitionHash: partitionHash,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("client: replicate_wdt to %s: %w", leaderAddr, err)
	}
	return nil
}
