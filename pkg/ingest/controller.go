// Copyright 2025 Takhin Data, Inc.

package ingest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/metainfo"
	"github.com/laserkv/laser/pkg/replication"
	"go.uber.org/zap"
)

// State is one partition's position in the ingest state machine.
type State int

const (
	BaseLoading State = iota
	BaseLoaded
	DeltaLoading
	DeltaLoaded
)

func (s State) String() string {
	switch s {
	case BaseLoading:
		return "BASE_LOADING"
	case BaseLoaded:
		return "BASE_LOADED"
	case DeltaLoading:
		return "DELTA_LOADING"
	case DeltaLoaded:
		return "DELTA_LOADED"
	default:
		return "UNKNOWN"
	}
}

// Role is this node's relationship to a partition's source-of-truth data.
type Role int

const (
	// LeaderRole nodes ingest base/delta files directly from the batch
	// pipeline's drop location and serve them to followers on request.
	LeaderRole Role = iota
	// FollowerRole nodes never read the batch pipeline; they catch up by
	// pulling from a leader shard over ReplicationTransport.
	FollowerRole
)

// Kind distinguishes a base load from a delta load request.
type Kind int

const (
	LoadBase Kind = iota
	LoadDelta
)

// LoadRequest is one entry in a partition's bounded ingest queue.
type LoadRequest struct {
	Kind          Kind
	BaseVersion   string
	DeltaVersions []string
}

// SourceResolver locates the on-disk files the batch pipeline dropped for
// a given partition and version. It is external to the ingest controller
// (the batch file monitor that drops these files is out of scope here)
// and is injected so
// tests can fake it.
type SourceResolver interface {
	BaseFile(db, table string, partitionID uint32, version string) (path string, ok bool)
	DeltaFile(db, table string, partitionID uint32, baseVersion, version string) (path string, ok bool)
}

// LeaderLocator resolves the address of a shard's current leader, used by
// a follower to find a catch-up source. Backed by whatever service
// discovery the deployment uses; out of this package's scope.
type LeaderLocator interface {
	ResolveLeader(srcShardID uint32, dc string) (addr string, ok bool)
}

// ReplicateRequester issues the RPC that asks a leader to push a base or
// delta to a connect URL a follower has already allocated. Backed by the
// RPC client the request dispatcher's framework provides.
type ReplicateRequester interface {
	RequestReplication(ctx context.Context, leaderAddr, connectURL string, partitionHash uint64, version string) error
}

// Params bundles everything a Controller needs beyond its own identity.
type Params struct {
	DB, Table     string
	PartitionID   uint32
	PartitionHash uint64
	Role          Role
	ShardID       uint32
	SrcShardID    uint32
	HasSrcShard   bool
	DC            string

	DataRoot  string // root directory under which this partition's engine lives
	QueueSize int    // bounded load queue capacity; 0 defaults to 10

	Opener     func(dataDir string, tuning config.TuningOptions) (Engine, error)
	Sources    SourceResolver
	Meta       *metainfo.Store
	Transport  *replication.Transport
	Leaders    LeaderLocator
	Replicator ReplicateRequester

	Log *zap.Logger
}

// Controller owns one partition's serving engine and drives it through the
// base/delta ingest state machine (the design "PartitionHandler").
type Controller struct {
	db, table     string
	partitionID   uint32
	partitionHash uint64
	role          Role
	shardID       uint32
	srcShardID    uint32
	hasSrcShard   bool
	dc            string

	dataRoot string
	opener   func(dataDir string, tuning config.TuningOptions) (Engine, error)
	sources  SourceResolver
	meta     *metainfo.Store

	transport  *replication.Transport
	leaders    LeaderLocator
	replicator ReplicateRequester

	log *zap.Logger

	mu            sync.Mutex
	state         State
	baseVersion   string
	deltaVersions []string
	tuning        config.TuningOptions

	slot engineSlot

	queue   chan LoadRequest
	dropped int64

	replicating     replicatingFlag
	hasDelayedRetry replicatingFlag

	swapPollInterval time.Duration
	swapMaxWait      time.Duration
}

// replicatingFlag is the test-and-set boolean the design note
// calls for ("two independent flags"): at most one replication attempt
// per partition in flight, plus a separate marker for "a retry is
// already scheduled".
type replicatingFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *replicatingFlag) testAndSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return false
	}
	f.set = true
	return true
}

func (f *replicatingFlag) clear() {
	f.mu.Lock()
	f.set = false
	f.mu.Unlock()
}

// New constructs a Controller. It does not open an engine or start
// processing the queue; call Start for that.
func New(p Params) *Controller {
	size := p.QueueSize
	if size <= 0 {
		size = 10
	}
	log := p.Log
	if log == nil {
		log, _ = zap.NewProduction()
	}
	return &Controller{
		db:               p.DB,
		table:            p.Table,
		partitionID:      p.PartitionID,
		partitionHash:    p.PartitionHash,
		role:             p.Role,
		shardID:          p.ShardID,
		srcShardID:       p.SrcShardID,
		hasSrcShard:      p.HasSrcShard,
		dc:               p.DC,
		dataRoot:         p.DataRoot,
		opener:           p.Opener,
		sources:          p.Sources,
		meta:             p.Meta,
		transport:        p.Transport,
		leaders:          p.Leaders,
		replicator:       p.Replicator,
		log:              log.With(zap.String("db", p.DB), zap.String("table", p.Table), zap.Uint32("partition_id", p.PartitionID)),
		state:            BaseLoading,
		queue:            make(chan LoadRequest, size),
		swapPollInterval: 50 * time.Millisecond,
		swapMaxWait:      5 * time.Second,
	}
}

// Start launches the queue-draining goroutine. ctx cancellation stops it.
func (c *Controller) Start(ctx context.Context) {
	go c.drainQueue(ctx)
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentBaseVersion reports the version id of the currently loaded base.
func (c *Controller) CurrentBaseVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseVersion
}

// DB and Table report the partition's owning database and table names.
func (c *Controller) DB() string    { return c.db }
func (c *Controller) Table() string { return c.table }

// PartitionHash reports the partition's identity hash.
func (c *Controller) PartitionHash() uint64 { return c.partitionHash }

// ShardID reports the shard this partition currently belongs to.
func (c *Controller) ShardID() uint32 { return c.shardID }

// GetProperty reads an engine-level gauge from the currently addressable
// engine, or (0, false) if none is loaded.
func (c *Controller) GetProperty(name string) (uint64, bool) {
	eng, release, ok := c.Acquire()
	if !ok {
		return 0, false
	}
	defer release()
	v, err := eng.GetProperty(name)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Enqueue submits a load request to the bounded FIFO queue. An
// overflowing queue drops the request rather than blocking the
// caller; the drop is logged and counted.
func (c *Controller) Enqueue(req LoadRequest) bool {
	select {
	case c.queue <- req:
		return true
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.log.Warn("load queue full, dropping request", zap.Int("kind", int(req.Kind)))
		return false
	}
}

// DroppedCount reports how many enqueue attempts were dropped due to a
// full queue.
func (c *Controller) DroppedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Controller) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.queue:
			var err error
			switch req.Kind {
			case LoadBase:
				err = c.LoadBase(ctx, req.BaseVersion)
			case LoadDelta:
				err = c.LoadDelta(ctx, req.BaseVersion, req.DeltaVersions)
			}
			if err != nil {
				c.log.Error("ingest request failed", zap.Error(err))
				c.scheduleRetry(ctx, req)
			}
		}
	}
}

// Acquire returns the currently addressable engine for a read/write
// operation. The caller must invoke release exactly once when done. ok is
// false if no engine has ever been loaded, or the partition is mid-swap.
func (c *Controller) Acquire() (eng Engine, release func(), ok bool) {
	h := c.slot.get()
	if h == nil {
		return nil, func() {}, false
	}
	got, acquired := h.acquire()
	if !acquired {
		return nil, func() {}, false
	}
	return got, h.release, true
}

func (c *Controller) partitionDir(version string) string {
	return fmt.Sprintf("%s/%s/%s/p%d/%s", c.dataRoot, c.db, c.table, c.partitionID, version)
}

// dirHasEntries reports whether dir exists and already contains files, used
// to decide whether a base version's data directory is already materialized
// from a prior ingest (the design step 5).
func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// LoadBase ingests a new base file for this partition, either from the
// batch pipeline's drop location (leader) or by pulling it from a leader
// shard over ReplicationTransport (follower). On success the old engine
// instance is retired via the safe swap sequence and the new one replaces
// it in a single swap (the design "exactly one engine addressable").
func (c *Controller) LoadBase(ctx context.Context, version string) error {
	c.mu.Lock()
	already := version == c.baseVersion && c.baseVersion != ""
	c.mu.Unlock()
	if already {
		// the design step 1: a repeat load of the already-current base is a
		// no-op, not a re-ingest (the design idempotence law).
		return nil
	}

	c.setState(BaseLoading)

	dataDir := c.partitionDir(version)
	alreadyMaterialized := dirHasEntries(dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("ingest: create data dir: %w", err)
	}

	var sourceFile string
	switch c.role {
	case LeaderRole:
		path, ok := c.sources.BaseFile(c.db, c.table, c.partitionID, version)
		if !ok {
			c.setState(BaseLoaded)
			return fmt.Errorf("ingest: no base file available for version %s", version)
		}
		sourceFile = path
	case FollowerRole:
		if err := c.catchUpBase(ctx, version, dataDir); err != nil {
			c.setState(BaseLoaded)
			return err
		}
		sourceFile = ""
	}

	newEng, err := c.opener(dataDir, c.tuning)
	if err != nil {
		c.setState(BaseLoaded)
		return fmt.Errorf("ingest: open engine: %w", err)
	}
	// the design step 5: if data_dir was already materialized (e.g. this
	// version was ingested once before and is being remounted), skip the
	// SST ingest and just open what's already on disk.
	if sourceFile != "" && !alreadyMaterialized {
		if err := newEng.IngestBaseSST(sourceFile); err != nil {
			newEng.Close()
			c.setState(BaseLoaded)
			return fmt.Errorf("ingest: ingest base sst: %w", err)
		}
	}
	newEng.OnVersionUpdate(func(dbHash uint64, v string) {
		c.handleVersionUpdate(ctx, v)
	})

	if err := c.swapEngine(newEng); err != nil {
		newEng.Close()
		c.setState(BaseLoaded)
		return err
	}

	c.mu.Lock()
	c.baseVersion = version
	c.deltaVersions = nil
	c.mu.Unlock()

	if c.meta != nil {
		if err := c.meta.SetVersion(c.partitionHash, version); err != nil {
			c.log.Error("persist base version failed", zap.Error(err))
		}
	}

	c.setState(BaseLoaded)
	return nil
}

// LoadDelta layers one or more delta files on top of the currently loaded
// base. Deltas apply in order; a failure partway through
// leaves the engine at the last successfully applied delta.
func (c *Controller) LoadDelta(ctx context.Context, baseVersion string, deltaVersions []string) error {
	c.mu.Lock()
	current := c.baseVersion
	c.mu.Unlock()
	if current != baseVersion {
		return fmt.Errorf("ingest: delta base %s does not match loaded base %s", baseVersion, current)
	}

	c.setState(DeltaLoading)

	h, release, ok := c.Acquire()
	if !ok {
		c.setState(BaseLoaded)
		return fmt.Errorf("ingest: no engine loaded to apply delta to")
	}
	defer release()

	scratchDir := fmt.Sprintf("%s/%s/%s/p%d/.delta_scratch", c.dataRoot, c.db, c.table, c.partitionID)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		c.setState(DeltaLoaded)
		return fmt.Errorf("ingest: create scratch dir: %w", err)
	}

	c.mu.Lock()
	have := make(map[string]bool, len(c.deltaVersions))
	for _, v := range c.deltaVersions {
		have[v] = true
	}
	c.mu.Unlock()

	applied := make([]string, 0, len(deltaVersions))
	for _, dv := range deltaVersions {
		if have[dv] {
			// the design step 4 / §8.2: a delta already applied is a no-op,
			// not re-ingested.
			continue
		}
		var file string
		switch c.role {
		case LeaderRole:
			path, ok := c.sources.DeltaFile(c.db, c.table, c.partitionID, baseVersion, dv)
			if !ok {
				c.persistDeltaProgress(applied)
				c.setState(DeltaLoaded)
				return fmt.Errorf("ingest: no delta file for version %s", dv)
			}
			file = path
		case FollowerRole:
			destDir := fmt.Sprintf("%s/%s/%s/p%d/.replicating_delta_%s", c.dataRoot, c.db, c.table, c.partitionID, dv)
			if err := c.catchUpDelta(ctx, dv, destDir); err != nil {
				c.persistDeltaProgress(applied)
				c.setState(DeltaLoaded)
				return err
			}
			file = destDir + "/delta.db"
		}

		if err := h.IngestDeltaSST(file, scratchDir); err != nil {
			c.persistDeltaProgress(applied)
			c.setState(DeltaLoaded)
			return fmt.Errorf("ingest: apply delta %s: %w", dv, err)
		}
		applied = append(applied, dv)
	}

	c.persistDeltaProgress(applied)
	c.setState(DeltaLoaded)
	return nil
}

func (c *Controller) persistDeltaProgress(applied []string) {
	c.mu.Lock()
	c.deltaVersions = append(c.deltaVersions, applied...)
	versions := append([]string(nil), c.deltaVersions...)
	c.mu.Unlock()

	if c.meta != nil {
		if err := c.meta.SetDeltaVersions(c.partitionHash, versions); err != nil {
			c.log.Error("persist delta versions failed", zap.Error(err))
		}
	}
}

// scheduleRetry re-enqueues a failed request after a fixed delay, using
// hasDelayedRetry as a test-and-set guard so repeated failures don't stack
// multiple pending retries for the same partition (the design
// note: the retry flag is independent of the in-flight replication flag).
func (c *Controller) scheduleRetry(ctx context.Context, req LoadRequest) {
	if !c.hasDelayedRetry.testAndSet() {
		return
	}
	go func() {
		defer c.hasDelayedRetry.clear()
		select {
		case <-time.After(5 * time.Second):
			c.Enqueue(req)
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// handleVersionUpdate reacts to the engine reporting an externally
// detected newer version (e.g. a compaction-driven manifest bump). It
// simply re-enqueues a base load; the queue's natural dedup (bounded
// capacity, drop-when-full) keeps a storm of notifications from piling
// up redundant work.
func (c *Controller) handleVersionUpdate(ctx context.Context, version string) {
	c.Enqueue(LoadRequest{Kind: LoadBase, BaseVersion: version})
}

// catchUpBase pulls a base version from the partition's source shard
// leader over ReplicationTransport, following the design: allocate a
// receive target, resolve the leader, ask it to push to our connect URL,
// wait for completion.
func (c *Controller) catchUpBase(ctx context.Context, version, destDir string) error {
	return c.catchUp(ctx, "base:"+version, destDir)
}

func (c *Controller) catchUpDelta(ctx context.Context, version, destDir string) error {
	return c.catchUp(ctx, "delta:"+version, destDir)
}

func (c *Controller) catchUp(ctx context.Context, ident, destDir string) error {
	if !c.hasSrcShard {
		return fmt.Errorf("ingest: partition has no source shard to catch up from")
	}
	if !c.replicating.testAndSet() {
		return fmt.Errorf("ingest: replication already in flight for this partition")
	}
	defer c.replicating.clear()

	leaderAddr, ok := c.leaders.ResolveLeader(c.srcShardID, c.dc)
	if !ok {
		return fmt.Errorf("ingest: no leader found for src shard %d", c.srcShardID)
	}

	namespace := fmt.Sprintf("%d", c.partitionHash)
	done := make(chan error, 1)
	connectURL, err := c.transport.Receiver.Listen(namespace, ident, destDir, c.transport.SessionTimeout(), func(_, _ string, err error) {
		done <- err
	})
	if err != nil {
		return fmt.Errorf("ingest: allocate receive target: %w", err)
	}

	if err := c.replicator.RequestReplication(ctx, leaderAddr, connectURL, c.partitionHash, ident); err != nil {
		c.transport.Receiver.Abort(namespace, ident)
		return fmt.Errorf("ingest: request replication: %w", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ingest: catch up transfer: %w", err)
		}
		return nil
	case <-ctx.Done():
		c.transport.Receiver.Abort(namespace, ident)
		return ctx.Err()
	}
}

// swapEngine installs newEng as the addressable engine and retires the
// previous one, waiting for in-flight readers to release it before
// closing (the design "safe engine shutdown"): mark draining, spin until
// the reference count drops to zero, fixed sleep, close.
func (c *Controller) swapEngine(newEng Engine) error {
	old := c.slot.get()
	c.slot.set(newEng)

	if old == nil {
		return nil
	}

	old.retire()
	deadline := time.Now().Add(c.swapMaxWait)
	for old.refCount() > 0 {
		if time.Now().After(deadline) {
			c.log.Warn("engine swap timed out waiting for readers to drain")
			break
		}
		time.Sleep(c.swapPollInterval)
	}
	time.Sleep(c.swapPollInterval) // grace period for any reader mid-return-value copy
	return old.eng.Close()
}

// ApplyTuning reopens no engine by itself; it only records the profile a
// subsequent LoadBase should open with. Live reconfiguration that must
// apply to the currently-open engine without a reload is out of scope for
// the bbolt-backed reference engine; the configstore subscription this
// method is wired to (the design tuning poll) mainly matters for engines
// with true runtime-tunable knobs (block cache size, compaction style).
func (c *Controller) ApplyTuning(opts config.TuningOptions) {
	c.mu.Lock()
	c.tuning = opts
	c.mu.Unlock()
}
