// Copyright 2025 Takhin Data, Inc.

// Package parttable implements Laser's PartitionTable / DatabaseManager
// the node-local owner of every mounted partition's
// ingest.Controller, grouped by table, plus the start-up coordination
// (one-shot service-address semaphore, graceful warm-up) the serving layer
// depends on.
package parttable

import (
	"context"
	"sync"
	"time"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/health"
	"github.com/laserkv/laser/pkg/ingest"
	"github.com/laserkv/laser/pkg/metainfo"
	"github.com/laserkv/laser/pkg/partmap"
	"github.com/laserkv/laser/pkg/replication"
	"go.uber.org/zap"
)

// PartitionRef identifies one partition this node should have mounted,
// with its resolved role and replication topology.
type PartitionRef struct {
	DB, Table     string
	PartitionID   uint32
	PartitionHash uint64
	Role          ingest.Role
	ShardID       uint32
	SrcShardID    uint32
	HasSrcShard   bool
	DC            string
}

func (r PartitionRef) key() uint64 { return r.PartitionHash }

// tableMonitor groups the controllers belonging to one (db, table) so
// table-wide operations (trigger_base, trigger_delta,
// trigger_base_data_replication) can fan out without the caller needing
// to enumerate partition hashes itself.
type tableMonitor struct {
	db, table   string
	partitions  map[uint64]*ingest.Controller
}

// Registry is the subset of service-discovery the table needs: publishing
// this node's current leader/follower shard lists and resolving a leader
// for cross-DC catch-up. Both concerns are collapsed into one small
// interface since neither is in scope as a concrete implementation.
type Registry interface {
	ingest.LeaderLocator
	Advertise(serviceAddr string, leaderShards, followerShards []uint32) error
}

// Params bundles a Table's dependencies.
type Params struct {
	DataRoot        string
	Group, Node, DC string
	SourceDC        string

	ConfigStore *configstore.Store
	Meta        *metainfo.Store
	Transport   *replication.Transport
	Registry    Registry
	Sources     ingest.SourceResolver
	Replicator  ingest.ReplicateRequester

	WarmUpDelay time.Duration
	QueueSize   int

	Log *zap.Logger
}

// Table is the PartitionTable / DatabaseManager.
type Table struct {
	dataRoot        string
	group, node, dc string
	sourceDC        string

	configStore *configstore.Store
	meta        *metainfo.Store
	transport   *replication.Transport
	registry    Registry
	sources     ingest.SourceResolver
	replicator  ingest.ReplicateRequester
	warmUpDelay time.Duration
	queueSize   int
	log         *zap.Logger

	mu          sync.RWMutex
	partitions  map[uint64]*ingest.Controller
	monitors    map[string]*tableMonitor
	unavailable map[uint32]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	readyOnce   sync.Once
	ready       chan struct{}
	serviceAddr string

	monitorsEnabled bool
}

// New constructs a Table. Call Start to begin running mounted controllers.
func New(p Params) *Table {
	ctx, cancel := context.WithCancel(context.Background())
	log := p.Log
	if log == nil {
		log, _ = zap.NewProduction()
	}
	return &Table{
		dataRoot:    p.DataRoot,
		group:       p.Group,
		node:        p.Node,
		dc:          p.DC,
		sourceDC:    p.SourceDC,
		configStore: p.ConfigStore,
		meta:        p.Meta,
		transport:   p.Transport,
		registry:    p.Registry,
		sources:     p.Sources,
		replicator:  p.Replicator,
		warmUpDelay: p.WarmUpDelay,
		queueSize:   p.QueueSize,
		log:         log.With(zap.String("component", "parttable")),
		partitions:  make(map[uint64]*ingest.Controller),
		monitors:    make(map[string]*tableMonitor),
		unavailable: make(map[uint32]struct{}),
		ctx:             ctx,
		cancel:          cancel,
		ready:           make(chan struct{}),
		monitorsEnabled: true,
	}
}

func monitorKey(db, table string) string { return db + "." + table }

// Reconcile computes the desired partition set from the current
// ConfigStore snapshot (every database/table's partition_number crossed
// with this node's leader/follower shard lists) and mounts/unmounts the
// difference against what is currently mounted.
func (t *Table) Reconcile() error {
	if !t.MonitorsEnabled() {
		return nil
	}

	desired, ok := t.desiredPartitions()
	if !ok {
		return nil
	}

	t.mu.RLock()
	var unmount []PartitionRef
	for hash := range t.partitions {
		if !containsHash(desired, hash) {
			unmount = append(unmount, PartitionRef{PartitionHash: hash})
		}
	}
	t.mu.RUnlock()

	return t.UpdatePartitions(desired, unmount)
}

// desiredPartitions computes the partition set this node should have
// mounted from the current ConfigStore snapshot (every database/table's
// partition_number crossed with this node's leader/follower shard
// lists). ok is false when this node's shard assignment isn't known yet.
func (t *Table) desiredPartitions() ([]PartitionRef, bool) {
	nodeInfo, ok := t.configStore.NodeShardList(t.group, t.node)
	if !ok {
		return nil, false
	}
	leaderShards := toSet(nodeInfo.LeaderShards)
	followerShards := toSet(nodeInfo.FollowerShards)

	localShardNumber, _ := t.configStore.ShardNumber(t.dc)
	var sourceShardNumber uint32
	var hasSource bool
	if t.sourceDC != "" {
		sourceShardNumber, hasSource = t.configStore.ShardNumber(t.sourceDC)
	}

	var desired []PartitionRef
	for _, dbSchema := range t.configStore.TableSchemas() {
		for _, table := range dbSchema.Tables {
			for pid := uint32(0); pid < table.PartitionNumber; pid++ {
				hash := partmap.PartitionHash(dbSchema.Name, table.Name, pid)
				shardID, ok := partmap.ShardID(hash, localShardNumber)
				if !ok {
					continue
				}

				var role ingest.Role
				switch {
				case leaderShards[shardID]:
					role = ingest.LeaderRole
				case followerShards[shardID]:
					role = ingest.FollowerRole
				default:
					continue
				}

				ref := PartitionRef{
					DB: dbSchema.Name, Table: table.Name,
					PartitionID: pid, PartitionHash: hash,
					Role: role, ShardID: shardID, DC: t.dc,
				}
				if role == ingest.FollowerRole && hasSource {
					if srcID, ok := partmap.SourceShardID(hash, sourceShardNumber); ok {
						ref.SrcShardID, ref.HasSrcShard = srcID, true
					}
				}
				desired = append(desired, ref)
			}
		}
	}
	return desired, true
}

// CleanStale removes any mounted partition no longer named by the
// current ConfigStore snapshot (e.g. after a partition_number shrink or
// a shard reassignment) without waiting for the next Reconcile, per
// the design clean/partitions control-plane operation.
func (t *Table) CleanStale() []uint64 {
	desired, ok := t.desiredPartitions()
	if !ok {
		return nil
	}
	live := make(map[uint64]struct{}, len(desired))
	for _, ref := range desired {
		live[ref.PartitionHash] = struct{}{}
	}
	return t.CleanUnusedPartitions(live)
}

func toSet(ids []uint32) map[uint32]bool {
	m := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func containsHash(refs []PartitionRef, hash uint64) bool {
	for _, r := range refs {
		if r.PartitionHash == hash {
			return true
		}
	}
	return false
}

// UpdatePartitions mounts and unmounts partitions (the design
// update_partitions). Mounting ensures a TableMonitor exists for the
// table, creates and starts the partition's ingest.Controller (which
// loads the current base_version from MetaInfoStore), and registers it
// under that monitor. Unmounting removes the controller from routing and
// from its monitor; it does not stop the controller, whose queue goroutine
// keeps running until the Table is shut down. After
// both, the current leader/follower shard lists (minus unavailable_shards)
// are published, gated on the one-shot service-address semaphore.
func (t *Table) UpdatePartitions(mountSet, unmountSet []PartitionRef) error {
	t.mu.Lock()
	for _, ref := range unmountSet {
		hash := ref.key()
		c, ok := t.partitions[hash]
		if !ok {
			continue
		}
		delete(t.partitions, hash)
		if m, ok := t.monitors[monitorKey(c.DB(), c.Table())]; ok {
			delete(m.partitions, hash)
		}
		// The controller's queue-drain goroutine exits on t.ctx
		// cancellation at Table shutdown; unmounting mid-run only
		// detaches it from routing, it does not stop it individually.
	}

	for _, ref := range mountSet {
		if _, exists := t.partitions[ref.key()]; exists {
			continue
		}
		c := ingest.New(ingest.Params{
			DB:            ref.DB,
			Table:         ref.Table,
			PartitionID:   ref.PartitionID,
			PartitionHash: ref.PartitionHash,
			Role:          ref.Role,
			ShardID:       ref.ShardID,
			SrcShardID:    ref.SrcShardID,
			HasSrcShard:   ref.HasSrcShard,
			DC:            ref.DC,
			DataRoot:      t.dataRoot,
			QueueSize:     t.queueSize,
			Opener:        ingest.DefaultOpener,
			Sources:       t.sources,
			Meta:          t.meta,
			Transport:     t.transport,
			Leaders:       t.registry,
			Replicator:    t.replicator,
			Log:           t.log,
		})
		c.Start(t.ctx)
		t.partitions[ref.key()] = c

		mk := monitorKey(ref.DB, ref.Table)
		m, ok := t.monitors[mk]
		if !ok {
			m = &tableMonitor{db: ref.DB, table: ref.Table, partitions: make(map[uint64]*ingest.Controller)}
			t.monitors[mk] = m
		}
		m.partitions[ref.key()] = c

		t.startPartition(c, ref)
	}
	t.mu.Unlock()

	return t.advertise()
}

// startPartition enqueues the initial base load a newly mounted partition
// needs: the version MetaInfoStore already has recorded, or a freshly
// minted one if this is the partition's first mount (the design: leaders
// get "default", followers get a deliberately-mismatching version so they
// immediately trigger catch-up).
func (t *Table) startPartition(c *ingest.Controller, ref PartitionRef) {
	version, ok, err := t.meta.GetVersion(ref.PartitionHash)
	if err != nil {
		t.log.Error("read recorded base version failed", zap.Error(err))
		return
	}
	if !ok {
		if ref.Role == ingest.LeaderRole {
			version = metainfo.NewLeaderVersion()
		} else {
			version, err = metainfo.NewFollowerVersion(time.Now())
			if err != nil {
				t.log.Error("mint follower version failed", zap.Error(err))
				return
			}
		}
	}
	c.Enqueue(ingest.LoadRequest{Kind: ingest.LoadBase, BaseVersion: version})

	deltas, err := t.meta.GetDeltaVersions(ref.PartitionHash)
	if err == nil && len(deltas) > 0 {
		c.Enqueue(ingest.LoadRequest{Kind: ingest.LoadDelta, BaseVersion: version, DeltaVersions: deltas})
	}
}

// GetPartitionEngine resolves the partition owning key and returns its
// currently addressable engine. The caller must invoke release when done.
func (t *Table) GetPartitionEngine(db, table string, keyHash uint64) (ingest.Engine, func(), bool) {
	schema, ok := t.configStore.TableSchema(db, table)
	if !ok {
		return nil, func() {}, false
	}
	partitionID := partmap.PartitionID(db, table, keyHash, schema.PartitionNumber)
	partitionHash := partmap.PartitionHash(db, table, partitionID)

	t.mu.RLock()
	c, ok := t.partitions[partitionHash]
	t.mu.RUnlock()
	if !ok {
		return nil, func() {}, false
	}
	return c.Acquire()
}

func (t *Table) withMonitor(db, table string, fn func(*tableMonitor)) bool {
	t.mu.RLock()
	m, ok := t.monitors[monitorKey(db, table)]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	fn(m)
	return true
}

// TriggerBase forwards a base load to every partition of the table.
func (t *Table) TriggerBase(db, table, version string) bool {
	return t.withMonitor(db, table, func(m *tableMonitor) {
		for _, c := range m.partitions {
			c.Enqueue(ingest.LoadRequest{Kind: ingest.LoadBase, BaseVersion: version})
		}
	})
}

// TriggerDelta forwards a delta load to every partition of the table.
func (t *Table) TriggerDelta(db, table, base string, deltas []string) bool {
	return t.withMonitor(db, table, func(m *tableMonitor) {
		for _, c := range m.partitions {
			c.Enqueue(ingest.LoadRequest{Kind: ingest.LoadDelta, BaseVersion: base, DeltaVersions: deltas})
		}
	})
}

// TriggerBaseDataReplication forces every partition of the table to
// re-run a catch-up against its current source shard: a follower's
// catch-up runs unconditionally whenever a base load is processed, so
// re-enqueuing the currently loaded version is enough to force a fresh
// transfer without disturbing the recorded version.
func (t *Table) TriggerBaseDataReplication(db, table string) bool {
	return t.withMonitor(db, table, func(m *tableMonitor) {
		for _, c := range m.partitions {
			c.Enqueue(ingest.LoadRequest{Kind: ingest.LoadBase, BaseVersion: c.CurrentBaseVersion()})
		}
	})
}

// SetUnavailableShards replaces the set of shard ids this node withholds
// from its service advertisement (e.g. data known stale or corrupt).
func (t *Table) SetUnavailableShards(shardIDs []uint32) error {
	t.mu.Lock()
	t.unavailable = make(map[uint32]struct{}, len(shardIDs))
	for _, id := range shardIDs {
		t.unavailable[id] = struct{}{}
	}
	t.mu.Unlock()
	return t.advertise()
}

// MonitorSwitch enables or disables the table monitors polling for new
// partitions. Reference implementation: a simple on/off latch consulted
// by whatever out-of-scope poller drives UpdatePartitions.
func (t *Table) MonitorSwitch(on bool) {
	t.mu.Lock()
	t.monitorsEnabled = on
	t.mu.Unlock()
}

// MonitorsEnabled reports the current MonitorSwitch state.
func (t *Table) MonitorsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.monitorsEnabled
}

// CleanUnusedPartitions removes partitions no longer named in any table's
// current schema (e.g. after a partition_number shrink) and returns their
// hashes.
func (t *Table) CleanUnusedPartitions(liveHashes map[uint64]struct{}) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []uint64
	for hash := range t.partitions {
		if _, live := liveHashes[hash]; live {
			continue
		}
		delete(t.partitions, hash)
		for _, m := range t.monitors {
			delete(m.partitions, hash)
		}
		removed = append(removed, hash)
	}
	return removed
}

// ShardMetaInfo is one shard's aggregate size/throughput info.
type ShardMetaInfo struct {
	ShardID   uint32
	SizeBytes uint64
	ReadQPS   uint64
	WriteQPS  uint64
}

// GetShardMetaInfo aggregates engine properties across every mounted
// partition, grouped by shard id.
func (t *Table) GetShardMetaInfo() []ShardMetaInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byShard := make(map[uint32]*ShardMetaInfo)
	for _, c := range t.partitions {
		info := t.shardMetaFor(c)
		if info == nil {
			continue
		}
		agg, ok := byShard[c.ShardID()]
		if !ok {
			agg = &ShardMetaInfo{ShardID: c.ShardID()}
			byShard[c.ShardID()] = agg
		}
		agg.SizeBytes += info.SizeBytes
		agg.ReadQPS += info.ReadQPS
		agg.WriteQPS += info.WriteQPS
	}

	out := make([]ShardMetaInfo, 0, len(byShard))
	for _, v := range byShard {
		out = append(out, *v)
	}
	return out
}

func (t *Table) shardMetaFor(c *ingest.Controller) *ShardMetaInfo {
	eng, release, ok := c.Acquire()
	if !ok {
		return nil
	}
	defer release()

	size, _ := eng.GetProperty("size")
	readQPS, _ := eng.GetProperty("read-qps")
	writeQPS, _ := eng.GetProperty("write-qps")
	return &ShardMetaInfo{SizeBytes: size, ReadQPS: readQPS, WriteQPS: writeQPS}
}

// TableMetaInfo is one table's aggregate info (the design
// get_table_meta_info).
type TableMetaInfo struct {
	DB, Table      string
	PartitionCount int
	SizeBytes      uint64
	ReadQPS        uint64
	WriteQPS       uint64
}

// GetTableMetaInfo aggregates engine properties for one table's mounted
// partitions.
func (t *Table) GetTableMetaInfo(db, table string) (TableMetaInfo, bool) {
	t.mu.RLock()
	m, ok := t.monitors[monitorKey(db, table)]
	if !ok {
		t.mu.RUnlock()
		return TableMetaInfo{}, false
	}
	partitions := make([]*ingest.Controller, 0, len(m.partitions))
	for _, c := range m.partitions {
		partitions = append(partitions, c)
	}
	t.mu.RUnlock()

	info := TableMetaInfo{DB: db, Table: table, PartitionCount: len(partitions)}
	for _, c := range partitions {
		meta := t.shardMetaFor(c)
		if meta == nil {
			continue
		}
		info.SizeBytes += meta.SizeBytes
		info.ReadQPS += meta.ReadQPS
		info.WriteQPS += meta.WriteQPS
	}
	return info, true
}

// SetServiceServer releases the one-shot semaphore that unblocks shard
// advertisement, recording the address the serving layer actually bound
// to (the design start-up coordination: the address is only known after
// bind). Safe to call more than once; only the first call has effect.
func (t *Table) SetServiceServer(addr string) error {
	t.readyOnce.Do(func() {
		t.serviceAddr = addr
		close(t.ready)
	})
	return t.advertise()
}

// advertise publishes this node's current leader/follower shard lists,
// minus unavailable_shards, once the service address is known. It is a
// no-op (not an error) before SetServiceServer has been called — config
// updates that arrive first just update internal state, here.
func (t *Table) advertise() error {
	select {
	case <-t.ready:
	default:
		return nil
	}
	if t.registry == nil {
		return nil
	}

	info, ok := t.configStore.NodeShardList(t.group, t.node)
	if !ok {
		return nil
	}

	t.mu.RLock()
	leader := filterUnavailable(info.LeaderShards, t.unavailable)
	follower := filterUnavailable(info.FollowerShards, t.unavailable)
	addr := t.serviceAddr
	t.mu.RUnlock()

	return t.registry.Advertise(addr, leader, follower)
}

func filterUnavailable(shards []uint32, unavailable map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(shards))
	for _, s := range shards {
		if _, bad := unavailable[s]; bad {
			continue
		}
		out = append(out, s)
	}
	return out
}

// WaitReady blocks until SetServiceServer has been called, then waits the
// configured warm-up delay before returning (the design graceful
// warm-up).
func (t *Table) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-time.After(t.warmUpDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every mounted partition's queue-drain goroutine.
func (t *Table) Close() error {
	t.cancel()
	return nil
}

// MountedPartitions and UnavailableShardCount implement
// health.PartitionSource so the health checker can report partition-table
// state without importing this package's concrete type.
var _ health.PartitionSource = (*Table)(nil)

func (t *Table) MountedPartitions() []health.PartitionSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]health.PartitionSummary, 0, len(t.partitions))
	for hash, c := range t.partitions {
		size, _ := c.GetProperty("size")
		out = append(out, health.PartitionSummary{
			PartitionHash: hash,
			State:         int(c.State()),
			SizeBytes:     int64(size),
		})
	}
	return out
}

func (t *Table) UnavailableShardCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.unavailable)
}
