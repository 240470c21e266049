// Copyright 2025 Takhin Data, Inc.

package metrics

import (
	"strconv"
	"time"
)

// RecordRPCRequest records metrics for one dispatched RPC operation.
func RecordRPCRequest(op string, code string, duration time.Duration) {
	RPCRequestsTotal.WithLabelValues(op, code).Inc()
	RPCRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRateLimited records a request rejected by traffic restriction.
func RecordRateLimited(db, table, op string) {
	DispatchRateLimited.WithLabelValues(db, table, op).Inc()
}

// SetPartitionState records a partition's current lifecycle state:
// 0=BASE_LOADING, 1=BASE_LOADED, 2=DELTA_LOADING, 3=DELTA_LOADED.
func SetPartitionState(partitionHash uint64, state int) {
	PartitionState.WithLabelValues(strconv.FormatUint(partitionHash, 10)).Set(float64(state))
}

// SetLoadQueueDepth records a partition's current bounded load-queue depth.
func SetLoadQueueDepth(partitionHash uint64, depth int) {
	LoadQueueDepth.WithLabelValues(strconv.FormatUint(partitionHash, 10)).Set(float64(depth))
}

// RecordLoadQueueFull records a load request dropped because the bounded
// queue was already at capacity (the design: surfaced as a metric, not an
// error).
func RecordLoadQueueFull(partitionHash uint64) {
	LoadQueueFullTotal.WithLabelValues(strconv.FormatUint(partitionHash, 10)).Inc()
}

// RecordEngineIOError records a storage engine I/O error.
func RecordEngineIOError(operation string) {
	EngineIOErrors.WithLabelValues(operation).Inc()
}

// SetEngineSize records a partition's on-disk engine size.
func SetEngineSize(partitionHash uint64, bytes uint64) {
	EngineSizeBytes.WithLabelValues(strconv.FormatUint(partitionHash, 10)).Set(float64(bytes))
}

// SetReplicationLag records the time since a follower partition last
// matched its leader's version.
func SetReplicationLag(partitionHash uint64, lag time.Duration) {
	ReplicationLagMs.WithLabelValues(strconv.FormatUint(partitionHash, 10)).Set(float64(lag.Milliseconds()))
}

// RecordReplicationCatchup records the outcome of a full-state replication
// catch-up.
func RecordReplicationCatchup(partitionHash uint64, result string) {
	ReplicationCatchupsTotal.WithLabelValues(strconv.FormatUint(partitionHash, 10), result).Inc()
}

// RecordReplicationBytes records bytes moved by the replication transport
// in the given direction ("sent" or "received").
func RecordReplicationBytes(direction string, bytes int64) {
	ReplicationBytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
