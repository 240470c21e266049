// Copyright 2025 Takhin Data, Inc.

package metrics

import (
	"testing"
	"time"
)

func TestRecordRPCRequest(t *testing.T) {
	RecordRPCRequest("get", "OK", 5*time.Millisecond)
	RecordRPCRequest("get", "NOT_FOUND", 2*time.Millisecond)
}

func TestRecordRateLimited(t *testing.T) {
	RecordRateLimited("social", "users", "get")
}

func TestSetPartitionState(t *testing.T) {
	SetPartitionState(12345, 1)
}

func TestLoadQueueMetrics(t *testing.T) {
	SetLoadQueueDepth(12345, 3)
	RecordLoadQueueFull(12345)
}

func TestEngineMetrics(t *testing.T) {
	SetEngineSize(12345, 4096)
	RecordEngineIOError("get")
}

func TestReplicationMetrics(t *testing.T) {
	SetReplicationLag(12345, 250*time.Millisecond)
	RecordReplicationCatchup(12345, "success")
	RecordReplicationBytes("sent", 1024)
}
