// Copyright 2025 Takhin Data, Inc.

// Package registry implements the concrete "find servers for (service,
// shard, dc)" capability the core treats as an opaque external
// collaborator: a config-driven lookup over cluster_info_data, good
// enough to exercise the routing and catch-up paths this module owns
// without depending on any particular production service discovery
// system. Advertise is the node-to-registry half of the same
// contract; a real deployment swaps this package for one backed by its
// own discovery mechanism (ZooKeeper, Consul, k8s endpoints, ...).
package registry

import (
	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/client"
	"github.com/laserkv/laser/pkg/configstore"
)

// Static resolves shard ownership from the live ConfigStore snapshot
// instead of a running discovery service. It implements
// client.ServiceLocator (C10's ServiceLocator), ingest.LeaderLocator
// (C6's catch-up leader lookup) and parttable.Registry's Advertise leg
// (C8's shard-availability publication).
type Static struct {
	group string
	cs    *configstore.Store
	log   *zap.Logger
}

// NewStatic builds a Static registry. group identifies this node's own
// group for logging only; lookups span every node in the target dc.
func NewStatic(group string, cs *configstore.Store, log *zap.Logger) *Static {
	return &Static{group: group, cs: cs, log: log}
}

// Resolve implements client.ServiceLocator. service carrying the
// ".edge" suffix (the design edge-routed group) narrows the search to
// nodes tagged is_edge_node; any other service name searches every node
// in the dc regardless of the edge tag.
func (s *Static) Resolve(service string, shardID uint32, dc string, shardType client.ShardType) ([]string, bool) {
	edgeOnly := isEdgeService(service)
	var addrs []string
	for _, n := range s.cs.NodesInDC(dc) {
		if edgeOnly && !n.IsEdgeNode {
			continue
		}
		if n.Address == "" {
			continue
		}
		switch shardType {
		case client.ShardLeader:
			if containsShard(n.LeaderShards, shardID) {
				addrs = append(addrs, n.Address)
			}
		case client.ShardFollower:
			if containsShard(n.FollowerShards, shardID) {
				addrs = append(addrs, n.Address)
			}
		case client.ShardAll:
			if containsShard(n.LeaderShards, shardID) || containsShard(n.FollowerShards, shardID) {
				addrs = append(addrs, n.Address)
			}
		}
	}
	return addrs, len(addrs) > 0
}

// ResolveLeader implements ingest.LeaderLocator: the first node in dc
// whose leader-shard list includes srcShardID.
func (s *Static) ResolveLeader(srcShardID uint32, dc string) (string, bool) {
	addrs, ok := s.Resolve("laser", srcShardID, dc, client.ShardLeader)
	if !ok {
		return "", false
	}
	return addrs[0], true
}

// Advertise implements parttable.Registry. A real discovery backend
// would publish addr as this node's serving address for leaderShards and
// followerShards; Static only logs the intent, since cluster_info_data
// here already comes from (and is only ever read back from) the same
// ConfigStore snapshot this registry resolves against.
func (s *Static) Advertise(addr string, leaderShards, followerShards []uint32) error {
	s.log.Info("advertise",
		zap.String("group", s.group),
		zap.String("addr", addr),
		zap.Int("leader_shards", len(leaderShards)),
		zap.Int("follower_shards", len(followerShards)),
	)
	return nil
}

func isEdgeService(service string) bool {
	return len(service) > 5 && service[len(service)-5:] == ".edge"
}

func containsShard(shards []uint32, id uint32) bool {
	for _, s := range shards {
		if s == id {
			return true
		}
	}
	return false
}
