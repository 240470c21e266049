// Copyright 2025 Takhin Data, Inc.

// Package partmap implements Laser's PartitionMap:
// deterministic (db, table, key) → partition-id → partition-hash → shard-id
// resolution. Every function here is a pure function of its arguments —
// it carries no cluster state and talks to no other component.
package partmap

import (
	"github.com/laserkv/laser/pkg/codec"
)

// PartitionID computes a record's partition-id:
//
//	partition_id = |H(db_name, H(table_name, key_hash))| mod partition_number
//
// It is deterministic and independent of cluster state; callers derive
// keyHash from the record's primary keys via codec.KeyHash.
func PartitionID(db, table string, keyHash uint64, partitionNumber uint32) uint32 {
	if partitionNumber == 0 {
		return 0
	}
	inner := codec.HashString(table, keyHash)
	outer := codec.HashString(db, inner)
	return uint32(abs64(outer) % uint64(partitionNumber))
}

// PartitionHash computes a partition's partition-hash:
//
//	partition_hash = H(table_name, H(db_name, partition_id))
//
// partition-hash is the identity ConfigStore and ReplicationTransport key
// partitions by; it is stable across partition_number changes to any
// *other* table, unlike partition_id which is only stable within one
// table's own partition_number.
func PartitionHash(db, table string, partitionID uint32) uint64 {
	inner := codec.HashString(db, uint64(partitionID))
	return codec.HashString(table, inner)
}

// ShardID computes a partition's shard-id within a data-center's declared
// shard_number. It returns (0, false) when shardNumber is zero or unknown,
// matching this design's flagged fix for the original "silently returns 0"
// ambiguity between "unsharded" and "sharded into shard 0".
func ShardID(partitionHash uint64, shardNumber uint32) (uint32, bool) {
	if shardNumber == 0 {
		return 0, false
	}
	return uint32(abs64(partitionHash) % uint64(shardNumber)), true
}

// SourceShardID computes the cross-DC source-shard a follower catches up
// from: src_shard_id = partition_hash mod source_dc.shard_number.
func SourceShardID(partitionHash uint64, sourceDCShardNumber uint32) (uint32, bool) {
	return ShardID(partitionHash, sourceDCShardNumber)
}

// abs64 treats h as a signed 64-bit hash and returns its absolute value as
// an unsigned magnitude, matching this design's "|H(...)|" notation.
// math.MinInt64 has no positive counterpart in two's complement; it is
// returned as its own bit pattern reinterpreted unsigned, which is still a
// valid, deterministic bucket index once reduced mod N.
func abs64(h uint64) uint64 {
	signed := int64(h)
	if signed >= 0 {
		return uint64(signed)
	}
	if signed == minInt64 {
		return h
	}
	return uint64(-signed)
}

const minInt64 = -1 << 63
