// Copyright 2025 Takhin Data, Inc.

// Package configstore implements Laser's ConfigStore: a
// live, subscribable view over the five payloads described in the design
// A Store is seeded from a config.Config bootstrap snapshot and can
// thereafter be updated by apply_manual or by a registry watcher (the
// watcher itself is out of scope; UpdateSchema, UpdateCluster and
// UpdateTrafficRestriction are its integration points).
package configstore

import (
	"sync"

	"github.com/laserkv/laser/pkg/config"
)

// PartitionCallback is invoked whenever a partition-affecting payload
// (schema or cluster_info) changes for the given (group, node).
type PartitionCallback func(group, node string)

// TuningCallback is invoked whenever a rocksdb/table tuning payload
// changes.
type TuningCallback func()

// TrafficCallback is invoked whenever traffic_restriction_data changes.
type TrafficCallback func()

// Store holds the five ConfigStore payloads plus manual-override state.
// All mutation goes through one mutex; reads return copies so callers
// never hold the store lock while serving a request.
type Store struct {
	mu sync.RWMutex

	schema  config.SchemaData
	cluster config.ClusterInfoData

	nodeConfigList  map[string]string
	rocksdbProfiles map[string]config.TuningOptions
	tableProfiles   map[string]config.TuningOptions

	traffic map[string]config.TrafficLimits

	manualOverride bool
	manualPayload  map[string]any

	partitionSubs []PartitionCallback
	tuningSubs    []TuningCallback
	trafficSubs   []TrafficCallback
}

// New seeds a Store from a bootstrap Config.
func New(cfg *config.Config) *Store {
	seed := cfg.ConfigStore
	s := &Store{
		schema:          seed.Schema,
		cluster:         seed.Cluster,
		nodeConfigList:  cloneStringMap(seed.NodeConfigList),
		rocksdbProfiles: cloneOptionsMap(seed.RocksdbProfiles),
		tableProfiles:   cloneOptionsMap(seed.TableProfiles),
		traffic:         cloneTrafficMap(seed.TrafficRestriction),
	}
	return s
}

// TableSchema returns a table's declaration, if known.
func (s *Store) TableSchema(db, table string) (config.TableSchema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.schema.Databases {
		if d.Name != db {
			continue
		}
		for _, t := range d.Tables {
			if t.Name == table {
				return t, true
			}
		}
	}
	return config.TableSchema{}, false
}

// TableSchemas returns a snapshot of every declared database/table.
func (s *Store) TableSchemas() []config.DatabaseSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.DatabaseSchema, len(s.schema.Databases))
	copy(out, s.schema.Databases)
	return out
}

// ShardNumber returns a data-center's declared shard_number.
func (s *Store) ShardNumber(dc string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.cluster.DCs[dc]
	if !ok || info.ShardNumber == 0 {
		return 0, false
	}
	return info.ShardNumber, true
}

// NodeShardList returns a node's leader/follower shard lists and edge flag.
func (s *Store) NodeShardList(group, node string) (config.NodeInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.cluster.Groups[group]
	if !ok {
		return config.NodeInfo{}, false
	}
	n, ok := g.Nodes[node]
	return n, ok
}

// NodesInDC returns every (group, node) pair whose cluster_info_data
// entry is tagged with the given dc, copied out from under the store
// lock. Used by the static service registry to resolve a shard id to the
// node(s) currently assigned to serve it (the design ServiceLocator,
// §4.6's LeaderLocator).
func (s *Store) NodesInDC(dc string) []config.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []config.NodeInfo
	for _, g := range s.cluster.Groups {
		for _, n := range g.Nodes {
			if n.DC == dc {
				out = append(out, n)
			}
		}
	}
	return out
}

// TrafficRestriction returns a snapshot of the traffic-restriction map,
// keyed by "db.table".
func (s *Store) TrafficRestriction() map[string]config.TrafficLimits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTrafficMap(s.traffic)
}

// TuningProfile resolves a node's assigned profile name, then the
// corresponding rocksdb tuning options.
func (s *Store) TuningProfile(group, node string) (config.TuningOptions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.nodeConfigList[group+"#"+node]
	if !ok {
		return nil, false
	}
	opts, ok := s.rocksdbProfiles[profile]
	return opts, ok
}

// TableTuningProfile resolves a named table tuning profile.
func (s *Store) TableTuningProfile(profile string) (config.TuningOptions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opts, ok := s.tableProfiles[profile]
	return opts, ok
}

// SubscribePartitions registers a callback invoked whenever schema or
// cluster_info_data changes for the given (group, node).
func (s *Store) SubscribePartitions(cb PartitionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitionSubs = append(s.partitionSubs, cb)
}

// SubscribeEngineTuning registers a callback invoked whenever a tuning
// payload changes.
func (s *Store) SubscribeEngineTuning(cb TuningCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuningSubs = append(s.tuningSubs, cb)
}

// SubscribeTraffic registers a callback invoked whenever
// traffic_restriction_data changes.
func (s *Store) SubscribeTraffic(cb TrafficCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trafficSubs = append(s.trafficSubs, cb)
}

// SetManualOverride toggles manual-override mode. While on, UpdateCluster
// calls (registry-sourced cluster info) are ignored; the other Update*
// methods and apply_manual continue to work regardless.
func (s *Store) SetManualOverride(on bool) {
	s.mu.Lock()
	s.manualOverride = on
	s.mu.Unlock()
}

// ManualOverride reports whether manual-override mode is active.
func (s *Store) ManualOverride() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manualOverride
}

// ApplyManual merges a hand-supplied payload map atomically, bypassing the
// registry subscription source entirely. Supported keys: "schema",
// "cluster", "traffic_restriction", "rocksdb_profiles", "table_profiles".
// Unknown keys are ignored.
func (s *Store) ApplyManual(payload map[string]any) {
	s.mu.Lock()
	changedPartitions := false
	changedTuning := false
	changedTraffic := false

	if v, ok := payload["schema"].(config.SchemaData); ok {
		s.schema = v
		changedPartitions = true
	}
	if v, ok := payload["cluster"].(config.ClusterInfoData); ok {
		s.cluster = v
		changedPartitions = true
	}
	if v, ok := payload["traffic_restriction"].(map[string]config.TrafficLimits); ok {
		s.traffic = cloneTrafficMap(v)
		changedTraffic = true
	}
	if v, ok := payload["rocksdb_profiles"].(map[string]config.TuningOptions); ok {
		s.rocksdbProfiles = cloneOptionsMap(v)
		changedTuning = true
	}
	if v, ok := payload["table_profiles"].(map[string]config.TuningOptions); ok {
		s.tableProfiles = cloneOptionsMap(v)
		changedTuning = true
	}
	partitionSubs := append([]PartitionCallback(nil), s.partitionSubs...)
	tuningSubs := append([]TuningCallback(nil), s.tuningSubs...)
	trafficSubs := append([]TrafficCallback(nil), s.trafficSubs...)
	s.mu.Unlock()

	s.notify(changedPartitions, changedTuning, changedTraffic, partitionSubs, tuningSubs, trafficSubs)
}

// UpdateSchema applies a freshly parsed schema payload from the
// registry-backed watcher. Not affected by manual-override.
func (s *Store) UpdateSchema(schema config.SchemaData) {
	s.mu.Lock()
	s.schema = schema
	subs := append([]PartitionCallback(nil), s.partitionSubs...)
	s.mu.Unlock()
	s.notify(true, false, false, subs, nil, nil)
}

// UpdateCluster applies a freshly parsed cluster_info_data payload. Dropped
// while manual-override is active (the design invariant).
func (s *Store) UpdateCluster(cluster config.ClusterInfoData) {
	s.mu.Lock()
	if s.manualOverride {
		s.mu.Unlock()
		return
	}
	s.cluster = cluster
	subs := append([]PartitionCallback(nil), s.partitionSubs...)
	s.mu.Unlock()
	s.notify(true, false, false, subs, nil, nil)
}

// UpdateTrafficRestriction applies a freshly parsed traffic_restriction_data
// payload. Not affected by manual-override.
func (s *Store) UpdateTrafficRestriction(traffic map[string]config.TrafficLimits) {
	s.mu.Lock()
	s.traffic = cloneTrafficMap(traffic)
	subs := append([]TrafficCallback(nil), s.trafficSubs...)
	s.mu.Unlock()
	s.notify(false, false, true, nil, nil, subs)
}

func (s *Store) notify(
	partitions, tuning, traffic bool,
	partitionSubs []PartitionCallback,
	tuningSubs []TuningCallback,
	trafficSubs []TrafficCallback,
) {
	if partitions {
		for _, cb := range partitionSubs {
			cb("", "")
		}
	}
	if tuning {
		for _, cb := range tuningSubs {
			cb()
		}
	}
	if traffic {
		for _, cb := range trafficSubs {
			cb()
		}
	}
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOptionsMap(m map[string]config.TuningOptions) map[string]config.TuningOptions {
	out := make(map[string]config.TuningOptions, len(m))
	for k, v := range m {
		cp := make(config.TuningOptions, len(v))
		for ok, ov := range v {
			cp[ok] = ov
		}
		out[k] = cp
	}
	return out
}

func cloneTrafficMap(m map[string]config.TrafficLimits) map[string]config.TrafficLimits {
	out := make(map[string]config.TrafficLimits, len(m))
	for k, v := range m {
		single := make(map[string]int, len(v.SingleOperationQPSLimit))
		for ok, ov := range v.SingleOperationQPSLimit {
			single[ok] = ov
		}
		multi := make(map[string]int, len(v.MultiOperationQPSLimit))
		for ok, ov := range v.MultiOperationQPSLimit {
			multi[ok] = ov
		}
		out[k] = config.TrafficLimits{SingleOperationQPSLimit: single, MultiOperationQPSLimit: multi}
	}
	return out
}
