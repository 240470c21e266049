// Copyright 2025 Takhin Data, Inc.

package dispatcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/engine"
	"github.com/laserkv/laser/pkg/ingest"
	"github.com/laserkv/laser/pkg/lasererr"
	"github.com/laserkv/laser/pkg/throttle"
)

// fakeTable resolves every key to the same single engine, regardless of
// (db, table, keyHash); good enough to exercise the dispatcher's pipeline
// without standing up a full parttable.Table.
type fakeTable struct {
	eng     ingest.Engine
	missing bool
}

func (f *fakeTable) GetPartitionEngine(db, table string, keyHash uint64) (ingest.Engine, func(), bool) {
	if f.missing {
		return nil, func() {}, false
	}
	return f.eng, func() {}, true
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	e, err := engine.Open(filepath.Join(t.TempDir(), "part.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	cs := configstore.New(&config.Config{})
	return NewServer(&fakeTable{eng: e}, cs, throttle.NewRegistry(), zaptest.NewLogger(t)), e
}

func TestServer_GetSetRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	setResp, err := s.SSet(ctx, &SSetRequest{Database: "db", Table: "t", Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.Equal(t, lasererr.OK, setResp.Code)

	getResp, err := s.Get(ctx, &GetRequest{Database: "db", Table: "t", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, lasererr.OK, getResp.Code)
	assert.Equal(t, []byte("v"), getResp.Value)
}

func TestServer_GetMissingKeyIsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.Get(context.Background(), &GetRequest{Database: "db", Table: "t", Key: "missing"})
	require.NoError(t, err)
	assert.Equal(t, lasererr.NotFound, resp.Code)
}

func TestServer_NoPartitionFailsFast(t *testing.T) {
	cs := configstore.New(&config.Config{})
	s := NewServer(&fakeTable{missing: true}, cs, throttle.NewRegistry(), zaptest.NewLogger(t))
	resp, err := s.Get(context.Background(), &GetRequest{Database: "db", Table: "t", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, lasererr.NoPartition, resp.Code)
}

func TestServer_RateLimitExceeded(t *testing.T) {
	cs := configstore.New(&config.Config{
		ConfigStore: config.ConfigStoreSeed{
			TrafficRestriction: map[string]config.TrafficLimits{
				"db.t": {SingleOperationQPSLimit: map[string]int{"get": 1}},
			},
		},
	})
	e, err := engine.Open(filepath.Join(t.TempDir(), "part.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	s := NewServer(&fakeTable{eng: e}, cs, throttle.NewRegistry(), zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := s.Get(ctx, &GetRequest{Database: "db", Table: "t", Key: "k"})
	require.NoError(t, err)
	assert.NotEqual(t, lasererr.RateLimited, first.Code)

	second, err := s.Get(ctx, &GetRequest{Database: "db", Table: "t", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, lasererr.RateLimited, second.Code)
}

func TestServer_IncrByAndDecrBy(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	resp, err := s.IncrBy(ctx, &IncrByRequest{Database: "db", Table: "t", Key: "counter", Delta: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.Value)

	resp, err = s.DecrBy(ctx, &IncrByRequest{Database: "db", Table: "t", Key: "counter", Delta: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Value)
}

func TestServer_HashOperations(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.HSet(ctx, &HSetRequest{Database: "db", Table: "t", Key: "h", Field: []byte("f1"), Value: []byte("v1")})
	require.NoError(t, err)
	_, err = s.HSet(ctx, &HSetRequest{Database: "db", Table: "t", Key: "h", Field: []byte("f2"), Value: []byte("v2")})
	require.NoError(t, err)

	all, err := s.HGetAll(ctx, &HGetAllRequest{Database: "db", Table: "t", Key: "h"})
	require.NoError(t, err)
	assert.Equal(t, lasererr.OK, all.Code)
	assert.Len(t, all.Fields, 2)

	keys, err := s.HKeys(ctx, &HKeysRequest{Database: "db", Table: "t", Key: "h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, keys.Keys)
}

func TestServer_ListOperations(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.RPush(ctx, &LPushRequest{Database: "db", Table: "t", Key: "l", Value: []byte("a")})
	require.NoError(t, err)
	_, err = s.RPush(ctx, &LPushRequest{Database: "db", Table: "t", Key: "l", Value: []byte("b")})
	require.NoError(t, err)

	llen, err := s.LLen(ctx, &LLenRequest{Database: "db", Table: "t", Key: "l"})
	require.NoError(t, err)
	assert.Equal(t, 2, llen.Len)

	idx, err := s.LIndex(ctx, &LIndexRequest{Database: "db", Table: "t", Key: "l", Index: -1})
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), idx.Value)
}

func TestServer_SetOperations(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.SAdd(ctx, &SAddRequest{Database: "db", Table: "t", Key: "s", Member: []byte("m1")})
	require.NoError(t, err)

	is, err := s.SIsMember(ctx, &SIsMemberRequest{Database: "db", Table: "t", Key: "s", Member: []byte("m1")})
	require.NoError(t, err)
	assert.True(t, is.IsMember)

	_, err = s.SRemove(ctx, &SRemoveRequest{Database: "db", Table: "t", Key: "s", Member: []byte("m1")})
	require.NoError(t, err)

	is, err = s.SIsMember(ctx, &SIsMemberRequest{Database: "db", Table: "t", Key: "s", Member: []byte("m1")})
	require.NoError(t, err)
	assert.False(t, is.IsMember)
}

func TestServer_ZSetRangeByScore(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.ZAdd(ctx, &ZAddRequest{Database: "db", Table: "t", Key: "z", Member: []byte("a"), Score: 10})
	require.NoError(t, err)
	_, err = s.ZAdd(ctx, &ZAddRequest{Database: "db", Table: "t", Key: "z", Member: []byte("b"), Score: 20})
	require.NoError(t, err)

	resp, err := s.ZRangeByScore(ctx, &ZRangeByScoreRequest{Database: "db", Table: "t", Key: "z", Min: 0, Max: 15})
	require.NoError(t, err)
	require.Len(t, resp.Members, 1)
	assert.Equal(t, []byte("a"), resp.Members[0].Member)
}

func TestServer_MGetAggregatesPartialFailure(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.SSet(ctx, &SSetRequest{Database: "db", Table: "t", Key: "k1", Value: []byte("v1")})
	require.NoError(t, err)

	resp, err := s.MGet(ctx, &MGetRequest{Database: "db", Table: "t", Keys: []string{"k1", "missing"}})
	require.NoError(t, err)
	assert.Equal(t, lasererr.PartFailed, resp.Status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, lasererr.OK, resp.Results[0].Code)
	assert.Equal(t, lasererr.NotFound, resp.Results[1].Code)
}

func TestServer_MSetThenMDel(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	setResp, err := s.MSet(ctx, &MSetRequest{
		Database: "db", Table: "t",
		Keys:   []string{"a", "b"},
		Values: [][]byte{[]byte("1"), []byte("2")},
	})
	require.NoError(t, err)
	assert.Equal(t, lasererr.OK, setResp.Status)

	delResp, err := s.MDel(ctx, &MDelRequest{Database: "db", Table: "t", Keys: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, lasererr.OK, delResp.Status)

	getResp, err := s.Get(ctx, &GetRequest{Database: "db", Table: "t", Key: "a"})
	require.NoError(t, err)
	assert.Equal(t, lasererr.NotFound, getResp.Code)
}
