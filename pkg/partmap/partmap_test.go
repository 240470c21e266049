// Copyright 2025 Takhin Data, Inc.

package partmap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserkv/laser/pkg/codec"
)

func TestPartitionIDIsDeterministic(t *testing.T) {
	keyHash := codec.KeyHash([][]byte{[]byte("alice")})
	a := PartitionID("t", "u", keyHash, 10)
	b := PartitionID("t", "u", keyHash, 10)
	assert.Equal(t, a, b)
}

func TestPartitionIDBounded(t *testing.T) {
	for i := 0; i < 1000; i++ {
		keyHash := codec.KeyHash([][]byte{[]byte{byte(i), byte(i >> 8)}})
		id := PartitionID("t", "u", keyHash, 10)
		assert.Less(t, id, uint32(10))
	}
}

func TestPartitionIDZeroPartitionNumber(t *testing.T) {
	assert.Equal(t, uint32(0), PartitionID("t", "u", 1, 0))
}

func TestShardIDUnknownWhenShardNumberZero(t *testing.T) {
	_, ok := ShardID(42, 0)
	assert.False(t, ok)
}

func TestShardIDBounded(t *testing.T) {
	for i := uint64(0); i < 1000; i++ {
		id, ok := ShardID(i*2654435761, 3)
		require.True(t, ok)
		assert.Less(t, id, uint32(3))
	}
}

func TestPlacementInvariant(t *testing.T) {
	// Placement acceptance scenario (the design, scenario 2): with
	// partition_number=10, shard_number=3, every resolved (partition_id,
	// shard_id) pair must satisfy shard_id = |partition_hash| mod 3.
	const partitionNumber = 10
	const shardNumber = 3
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		key := make([]byte, 8)
		r.Read(key)
		keyHash := codec.KeyHash([][]byte{key})
		partitionID := PartitionID("t", "u", keyHash, partitionNumber)
		partitionHash := PartitionHash("t", "u", partitionID)
		shardID, ok := ShardID(partitionHash, shardNumber)
		require.True(t, ok)
		want := uint32(abs64(partitionHash) % shardNumber)
		assert.Equal(t, want, shardID)
		assert.Less(t, shardID, uint32(shardNumber))
	}
}

func TestPartitionHashStableAcrossRepartitioning(t *testing.T) {
	// partition_hash depends on partition_id and the (db, table) names, not
	// directly on partition_number, so two different partition_number
	// configurations that happen to route a key to the same partition_id
	// produce the same partition_hash.
	a := PartitionHash("db", "tbl", 3)
	b := PartitionHash("db", "tbl", 3)
	assert.Equal(t, a, b)
}

func TestSourceShardIDMirrorsShardID(t *testing.T) {
	id, ok := SourceShardID(12345, 5)
	want, wantOK := ShardID(12345, 5)
	assert.Equal(t, wantOK, ok)
	assert.Equal(t, want, id)
}
