// Copyright 2025 Takhin Data, Inc.

// Package client implements Laser's ClientRouter: the
// process-local component that turns a logical (database, table, key)
// operation into a routed, retried RPC against the server that owns the
// owning partition's replica. Service discovery (resolving a shard to a
// set of server addresses) stays an injected ServiceLocator, same as
// coordinator lookups never embed a concrete discovery
// mechanism in the caller; everything downstream of that lookup —
// partition resolution, edge-node splitting, connection pooling, and the
// retry state machine — is owned here.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/codec"
	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/dispatcher"
	"github.com/laserkv/laser/pkg/lasererr"
	"github.com/laserkv/laser/pkg/partmap"
)

// ShardType selects which replica role a request may land on.
type ShardType int

const (
	ShardLeader ShardType = iota
	ShardFollower
	ShardAll
)

// ReadMode is the caller-supplied read preference; writes always force
// ReadModeLeader regardless of what the caller requests.
type ReadMode int

const (
	ReadModeLeader ReadMode = iota
	ReadModeFollower
	ReadModeMixed
)

// shardType maps a read mode to the shard type a ServiceLocator resolves
// against (the design: LEADER_READ→LEADER, FOLLOWER_READ→FOLLOWER,
// MIXED_READ→ALL).
func (m ReadMode) shardType() ShardType {
	switch m {
	case ReadModeFollower:
		return ShardFollower
	case ReadModeMixed:
		return ShardAll
	default:
		return ShardLeader
	}
}

// writeOps names every operation the dispatcher treats as a mutation;
// the router forces ReadModeLeader for these regardless of caller intent.
var writeOps = map[string]bool{
	"sset": true, "setx": true, "append": true, "delkey": true,
	"expire": true, "expireAt": true, "incr": true, "decr": true,
	"incrBy": true, "decrBy": true,
	"hset": true, "hmset": true, "hdel": true,
	"lpush": true, "rpush": true, "lpop": true, "rpop": true,
	"sadd": true, "sremove": true,
	"zadd": true, "zremRangeByScore": true,
	"mset": true, "msetDetail": true, "mdel": true,
}

func effectiveReadMode(op string, requested ReadMode) ReadMode {
	if writeOps[op] {
		return ReadModeLeader
	}
	return requested
}

// ServiceLocator is the opaque "find servers for (service, shard, dc)"
// capability this design treats as an external collaborator. ok is false
// when no server currently serves that shard/type pair — the router's
// edge-to-main reassignment relies on exactly this signal.
type ServiceLocator interface {
	Resolve(service string, shardID uint32, dc string, shardType ShardType) (addrs []string, ok bool)
}

// Conn issues one typed dispatcher call against the server it is bound
// to. A real Conn wraps a pooled gRPC channel and the generated
// LaserService client stub; Dispatch's req/resp values are the same
// request/response structs pkg/dispatcher uses, since the wire codec
// itself is the out-of-scope "opaque RPC framework" this design names.
type Conn interface {
	Dispatch(ctx context.Context, op string, req any) (any, error)
	Addr() string
}

// Dialer opens a Conn to addr. The production dialer pools gRPC channels
// (pool.go); tests substitute an in-memory fake.
type Dialer interface {
	Dial(addr string) (Conn, error)
}

// Options tunes retry and timeout behavior (the design, §5 "connection
// pools keyed by (host, port, hash-expansion-index mod
// max_conn_per_server)"; retry counts come from RPCConfig).
type Options struct {
	Service           string
	DC                string
	MaxConnPerServer  int
	ConnectionRetries int
	TimeoutRetries    int
	RequestTimeout    time.Duration
}

func optionsFromConfig(service, dc string, rpc config.RPCConfig) Options {
	return Options{
		Service:           service,
		DC:                dc,
		MaxConnPerServer:  maxInt(rpc.MaxConnPerServer, 1),
		ConnectionRetries: rpc.ConnectionRetries,
		TimeoutRetries:    rpc.TimeoutRetries,
		RequestTimeout:    time.Duration(rpc.RequestTimeoutMs) * time.Millisecond,
	}
}

func maxInt(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}

// Router is the stateless-per-process ClientRouter. It caches nothing
// about individual requests; the ConfigStore snapshot it reads from is
// itself copy-on-read (the design shared-resource policy).
type Router struct {
	opts        Options
	configStore *configstore.Store
	locator     ServiceLocator
	pool        *connPool
	log         *zap.Logger
	rnd         *rand.Rand
}

// NewRouter builds a Router. dialer is consulted lazily the first time a
// given address is targeted.
func NewRouter(cs *configstore.Store, locator ServiceLocator, dialer Dialer, rpc config.RPCConfig, service, dc string, log *zap.Logger) *Router {
	return &Router{
		opts:        optionsFromConfig(service, dc, rpc),
		configStore: cs,
		locator:     locator,
		pool:        newConnPool(dialer),
		log:         log,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// target resolves a single key's routing coordinates (the design steps 1-2).
func (r *Router) target(db, table, key string, readMode ReadMode) (shardID uint32, partitionHash uint64, routeToEdge bool, err error) {
	schema, ok := r.configStore.TableSchema(db, table)
	if !ok {
		return 0, 0, false, fmt.Errorf("client: no schema for %s.%s", db, table)
	}

	keyHash := codec.KeyHash([][]byte{[]byte(key)})
	partitionID := partmap.PartitionID(db, table, keyHash, schema.PartitionNumber)
	partitionHash = partmap.PartitionHash(db, table, partitionID)

	shardNumber, ok := r.configStore.ShardNumber(r.opts.DC)
	if !ok {
		return 0, partitionHash, false, fmt.Errorf("client: unknown shard number for dc %s", r.opts.DC)
	}
	shardID, ok = partmap.ShardID(partitionHash, shardNumber)
	if !ok {
		return 0, partitionHash, false, fmt.Errorf("client: partition hash did not resolve to a shard")
	}

	routeToEdge = false
	if readMode != ReadModeLeader && len(schema.BindEdgeNodes) > 0 && schema.EdgeFlowRatio > 0 {
		routeToEdge = r.rnd.Intn(100) < schema.EdgeFlowRatio
	}
	return shardID, partitionHash, routeToEdge, nil
}

// resolveServer runs the discovery + edge-to-main fallback (the design
// multi-key step 3, applied here to the single-key path too): if an
// edge-routed request has no edge server, it reassigns to the main group.
func (r *Router) resolveServer(shardID uint32, routeToEdge bool, shardType ShardType) (string, error) {
	if routeToEdge {
		if addrs, ok := r.locator.Resolve(r.opts.Service+".edge", shardID, r.opts.DC, shardType); ok && len(addrs) > 0 {
			return addrs[r.rnd.Intn(len(addrs))], nil
		}
	}
	addrs, ok := r.locator.Resolve(r.opts.Service, shardID, r.opts.DC, shardType)
	if !ok || len(addrs) == 0 {
		return "", fmt.Errorf("client: no server for shard %d", shardID)
	}
	return addrs[r.rnd.Intn(len(addrs))], nil
}

// do issues one single-key operation end to end: resolve target, resolve
// server, obtain a pooled connection, dispatch with retry.
func (r *Router) do(ctx context.Context, db, table, key, op string, readMode ReadMode, req any) (any, error) {
	readMode = effectiveReadMode(op, readMode)
	shardID, _, routeToEdge, err := r.target(db, table, key, readMode)
	if err != nil {
		return nil, err
	}
	addr, err := r.resolveServer(shardID, routeToEdge, readMode.shardType())
	if err != nil {
		return nil, err
	}
	return r.callWithRetry(ctx, addr, op, req)
}

// callWithRetry implements the design step 4: transport-timeout and
// application-timeout are retried under timeout_retry; transport-error is
// retried under connection_retry. Retries are sequential, never
// speculative.
func (r *Router) callWithRetry(ctx context.Context, addr, op string, req any) (any, error) {
	conn, err := r.pool.get(addr, r.opts.MaxConnPerServer)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	connRetries := r.opts.ConnectionRetries
	timeoutRetries := r.opts.TimeoutRetries

	var lastErr error
	for {
		callCtx := ctx
		var cancel context.CancelFunc
		if r.opts.RequestTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
		}
		resp, err := conn.Dispatch(callCtx, op, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retryable, isTimeout := classifyTransportError(err)
		if !retryable {
			return nil, err
		}
		if isTimeout {
			if timeoutRetries <= 0 {
				return nil, err
			}
			timeoutRetries--
		} else {
			if connRetries <= 0 {
				return nil, err
			}
			connRetries--
			conn, err = r.pool.refresh(addr, r.opts.MaxConnPerServer)
			if err != nil {
				return nil, fmt.Errorf("client: reconnect %s: %w", addr, err)
			}
		}
		if r.log != nil {
			r.log.Warn("retrying rpc", zap.String("addr", addr), zap.String("op", op), zap.Error(lastErr))
		}
	}
}

func classifyTransportError(err error) (retryable, isTimeout bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return true, true
	}
	return lasererr.Retryable(lasererr.CodeOf(err))
}
