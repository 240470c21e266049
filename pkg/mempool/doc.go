// Copyright 2025 Takhin Data, Inc.

package mempool

// Package mempool provides size-bucketed byte-slice pooling for
// pkg/replication's receiver, which reads a follower catch-up stream in
// fixed-size chunks and would otherwise allocate a fresh buffer per read.
//
// Usage example:
//
//	pool := mempool.NewBufferPool()
//	buf := pool.Get(64 * 1024)
//	defer pool.Put(buf)
