// Copyright 2025 Takhin Data, Inc.

package configstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserkv/laser/pkg/config"
)

func seedConfig() *config.Config {
	return &config.Config{
		ConfigStore: config.ConfigStoreSeed{
			Schema: config.SchemaData{
				Databases: []config.DatabaseSchema{
					{Name: "social", Tables: []config.TableSchema{
						{Name: "users", PartitionNumber: 16, TuningProfile: "default"},
					}},
				},
			},
			Cluster: config.ClusterInfoData{
				DCs: map[string]config.DCInfo{"dc1": {ShardNumber: 3}},
				Groups: map[string]config.GroupInfo{
					"g1": {Nodes: map[string]config.NodeInfo{
						"n1": {ID: 1, DC: "dc1", LeaderShards: []uint32{0, 1}, FollowerShards: []uint32{2}},
					}},
				},
			},
			TrafficRestriction: map[string]config.TrafficLimits{
				"social.users": {SingleOperationQPSLimit: map[string]int{"get": 1000}},
			},
		},
	}
}

func TestTableSchemaLookup(t *testing.T) {
	s := New(seedConfig())
	tbl, ok := s.TableSchema("social", "users")
	require.True(t, ok)
	assert.Equal(t, uint32(16), tbl.PartitionNumber)

	_, ok = s.TableSchema("social", "missing")
	assert.False(t, ok)
}

func TestShardNumberUnknownDC(t *testing.T) {
	s := New(seedConfig())
	n, ok := s.ShardNumber("dc1")
	require.True(t, ok)
	assert.Equal(t, uint32(3), n)

	_, ok = s.ShardNumber("dc2")
	assert.False(t, ok)
}

func TestNodeShardList(t *testing.T) {
	s := New(seedConfig())
	info, ok := s.NodeShardList("g1", "n1")
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 1}, info.LeaderShards)
}

func TestManualOverrideBlocksClusterUpdate(t *testing.T) {
	s := New(seedConfig())
	s.SetManualOverride(true)
	s.UpdateCluster(config.ClusterInfoData{DCs: map[string]config.DCInfo{"dc9": {ShardNumber: 9}}})

	_, ok := s.ShardNumber("dc9")
	assert.False(t, ok, "cluster_info_data update should be dropped while manual override is active")

	_, ok = s.ShardNumber("dc1")
	assert.True(t, ok, "prior cluster snapshot should be retained")
}

func TestManualOverrideDoesNotBlockTraffic(t *testing.T) {
	s := New(seedConfig())
	s.SetManualOverride(true)
	s.UpdateTrafficRestriction(map[string]config.TrafficLimits{
		"social.users": {SingleOperationQPSLimit: map[string]int{"get": 2000}},
	})
	limits := s.TrafficRestriction()
	assert.Equal(t, 2000, limits["social.users"].SingleOperationQPSLimit["get"])
}

func TestApplyManualMergesAtomically(t *testing.T) {
	s := New(seedConfig())
	var notified bool
	s.SubscribePartitions(func(group, node string) { notified = true })

	s.ApplyManual(map[string]any{
		"schema": config.SchemaData{Databases: []config.DatabaseSchema{
			{Name: "ads", Tables: []config.TableSchema{{Name: "campaigns", PartitionNumber: 4}}},
		}},
	})

	assert.True(t, notified)
	_, ok := s.TableSchema("ads", "campaigns")
	assert.True(t, ok)
	_, ok = s.TableSchema("social", "users")
	assert.False(t, ok, "apply_manual replaces the whole schema payload")
}

func TestTrafficRestrictionSnapshotIsACopy(t *testing.T) {
	s := New(seedConfig())
	snap := s.TrafficRestriction()
	snap["social.users"].SingleOperationQPSLimit["get"] = 1
	live := s.TrafficRestriction()
	assert.Equal(t, 1000, live["social.users"].SingleOperationQPSLimit["get"])
}
