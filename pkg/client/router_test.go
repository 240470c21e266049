// Copyright 2025 Takhin Data, Inc.

package client

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/dispatcher"
	"github.com/laserkv/laser/pkg/engine"
	"github.com/laserkv/laser/pkg/ingest"
	"github.com/laserkv/laser/pkg/lasererr"
)

// fakeLocator resolves every (service, shardID) pair to a single fixed
// address unless told to return nothing, exercising the edge-to-main
// reassignment path.
type fakeLocator struct {
	mu        sync.Mutex
	addr      string
	edgeAddrs map[uint32][]string // shardID -> edge addrs; absent means no edge server
}

func (f *fakeLocator) Resolve(service string, shardID uint32, dc string, shardType ShardType) ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(service) > 5 && service[len(service)-5:] == ".edge" {
		addrs, ok := f.edgeAddrs[shardID]
		return addrs, ok && len(addrs) > 0
	}
	if f.addr == "" {
		return nil, false
	}
	return []string{f.addr}, true
}

// fakeConn drives a dispatcher.Server in-process, standing in for the
// wire RPC this design treats as an opaque capability.
type fakeConn struct {
	addr string
	srv  *dispatcher.Server
}

func (c *fakeConn) Addr() string { return c.addr }

func (c *fakeConn) Dispatch(ctx context.Context, op string, req any) (any, error) {
	switch r := req.(type) {
	case *dispatcher.GetRequest:
		return c.srv.Get(ctx, r)
	case *dispatcher.SSetRequest:
		return c.srv.SSet(ctx, r)
	case *dispatcher.DelKeyRequest:
		return c.srv.DelKey(ctx, r)
	case *dispatcher.IncrByRequest:
		if op == "decrBy" {
			return c.srv.DecrBy(ctx, r)
		}
		return c.srv.IncrBy(ctx, r)
	case *dispatcher.HSetRequest:
		return c.srv.HSet(ctx, r)
	case *dispatcher.MGetRequest:
		return c.srv.MGet(ctx, r)
	case *dispatcher.MSetRequest:
		return c.srv.MSet(ctx, r)
	case *dispatcher.MDelRequest:
		return c.srv.MDel(ctx, r)
	default:
		return nil, fmt.Errorf("fakeConn: unhandled op %q", op)
	}
}

type fakeDialer struct {
	srv *dispatcher.Server
}

func (d *fakeDialer) Dial(addr string) (Conn, error) {
	return &fakeConn{addr: addr, srv: d.srv}, nil
}

// fakePartitionTable routes every key to the same bbolt-backed engine,
// mirroring dispatcher's own test fake.
type fakePartitionTable struct {
	eng ingest.Engine
}

func (f *fakePartitionTable) GetPartitionEngine(db, table string, keyHash uint64) (ingest.Engine, func(), bool) {
	return f.eng, func() {}, true
}

func newFakePartitionTable(t *testing.T) *fakePartitionTable {
	t.Helper()
	e, err := engine.Open(filepath.Join(t.TempDir(), "part.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return &fakePartitionTable{eng: e}
}

func newTestRouter(t *testing.T, schema config.TableSchema, addr string) (*Router, *fakeLocator) {
	t.Helper()

	cs := configstore.New(&config.Config{
		ConfigStore: config.ConfigStoreSeed{
			Schema: config.SchemaData{Databases: []config.DatabaseSchema{
				{Name: "db", Tables: []config.TableSchema{schema}},
			}},
			Cluster: config.ClusterInfoData{
				DCs: map[string]config.DCInfo{"dc1": {ShardNumber: 4}},
			},
		},
	})

	table := newFakePartitionTable(t)
	srv := dispatcher.NewServer(table, cs, nil, zaptest.NewLogger(t))

	locator := &fakeLocator{addr: addr}
	router := NewRouter(cs, locator, &fakeDialer{srv: srv}, config.RPCConfig{MaxConnPerServer: 2, ConnectionRetries: 1, TimeoutRetries: 1}, "laser", "dc1", zaptest.NewLogger(t))
	return router, locator
}

func TestRouter_GetSetRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t, config.TableSchema{Name: "t", PartitionNumber: 4}, "node-a:9000")
	ctx := context.Background()

	_, err := router.SSet(ctx, "db", "t", "k", []byte("v"))
	require.NoError(t, err)

	resp, err := router.Get(ctx, "db", "t", "k", ReadModeLeader)
	require.NoError(t, err)
	assert.Equal(t, lasererr.OK, resp.Code)
	assert.Equal(t, []byte("v"), resp.Value)
}

func TestRouter_NoServerForShard(t *testing.T) {
	router, locator := newTestRouter(t, config.TableSchema{Name: "t", PartitionNumber: 4}, "node-a:9000")
	locator.addr = ""

	_, err := router.Get(context.Background(), "db", "t", "k", ReadModeLeader)
	assert.Error(t, err)
}

func TestRouter_WritesForceLeaderRead(t *testing.T) {
	assert.Equal(t, ReadModeLeader, effectiveReadMode("sset", ReadModeMixed))
	assert.Equal(t, ReadModeMixed, effectiveReadMode("get", ReadModeMixed))
}

func TestRouter_EdgeFlowRatioZeroNeverRoutesToEdge(t *testing.T) {
	router, _ := newTestRouter(t, config.TableSchema{
		Name: "t", PartitionNumber: 4, EdgeFlowRatio: 0, BindEdgeNodes: []string{"edge-1"},
	}, "node-a:9000")

	for i := 0; i < 20; i++ {
		_, _, routeToEdge, err := router.target("db", "t", fmt.Sprintf("k%d", i), ReadModeMixed)
		require.NoError(t, err)
		assert.False(t, routeToEdge)
	}
}

func TestRouter_EdgeFlowRatioFullAlwaysRoutesToEdge(t *testing.T) {
	router, _ := newTestRouter(t, config.TableSchema{
		Name: "t", PartitionNumber: 4, EdgeFlowRatio: 100, BindEdgeNodes: []string{"edge-1"},
	}, "node-a:9000")

	for i := 0; i < 20; i++ {
		_, _, routeToEdge, err := router.target("db", "t", fmt.Sprintf("k%d", i), ReadModeMixed)
		require.NoError(t, err)
		assert.True(t, routeToEdge)
	}
}

func TestRouter_MGetJoinsInInputOrder(t *testing.T) {
	router, _ := newTestRouter(t, config.TableSchema{Name: "t", PartitionNumber: 4}, "node-a:9000")
	ctx := context.Background()

	_, err := router.MSet(ctx, "db", "t", []string{"a", "b", "c"}, [][]byte{[]byte("1"), []byte("2"), []byte("3")})
	require.NoError(t, err)

	resp, err := router.MGet(ctx, "db", "t", []string{"c", "missing", "a"}, ReadModeLeader)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "c", resp.Results[0].Key)
	assert.Equal(t, []byte("3"), resp.Results[0].Value)
	assert.Equal(t, "missing", resp.Results[1].Key)
	assert.Equal(t, lasererr.NotFound, resp.Results[1].Code)
	assert.Equal(t, "a", resp.Results[2].Key)
	assert.Equal(t, lasererr.PartFailed, resp.Status)
}
