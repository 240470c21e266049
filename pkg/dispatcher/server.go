// Copyright 2025 Takhin Data, Inc.

// Package dispatcher implements Laser's RequestDispatcher / LaserService
// the per-request pipeline that resolves a key's
// partition engine, enforces the configured traffic-restriction rule, runs
// the underlying engine operation, and translates its status into the
// external error taxonomy. Each operation gets its own typed
// Request/Response pair, tested directly rather than through a
// generated wire stub.
package dispatcher

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/codec"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/ingest"
	"github.com/laserkv/laser/pkg/lasererr"
	"github.com/laserkv/laser/pkg/throttle"
)

// PartitionSource is the subset of parttable.Table the dispatcher depends
// on, narrowed so tests can substitute a fake.
type PartitionSource interface {
	GetPartitionEngine(db, table string, keyHash uint64) (ingest.Engine, func(), bool)
}

// Server is the RequestDispatcher / LaserService.
type Server struct {
	table       PartitionSource
	configStore *configstore.Store
	throttle    *throttle.Registry
	log         *zap.Logger
}

// NewServer constructs a Server.
func NewServer(table PartitionSource, cs *configstore.Store, reg *throttle.Registry, log *zap.Logger) *Server {
	if reg == nil {
		reg = throttle.NewRegistry()
	}
	return &Server{table: table, configStore: cs, throttle: reg, log: log.With(zap.String("component", "dispatcher"))}
}

// single resolves a key's engine, enforces its traffic-restriction rule
// (the design steps 1-3), then runs fn (step 4), returning the external code
// fn's error translates to (step 5).
func (s *Server) single(db, table, key, op string, fn func(eng ingest.Engine) error) (lasererr.Code, string) {
	keyHash := codec.KeyHash([][]byte{[]byte(key)})
	eng, release, ok := s.table.GetPartitionEngine(db, table, keyHash)
	if !ok {
		return lasererr.NoPartition, "no partition owns this key"
	}
	defer release()

	if !s.allow(db, table, op, false) {
		return lasererr.RateLimited, "rate limit exceeded"
	}

	if err := fn(eng); err != nil {
		code := lasererr.CodeOf(err)
		return code, err.Error()
	}
	return lasererr.OK, ""
}

func (s *Server) allow(db, table, op string, multi bool) bool {
	if s.configStore == nil || s.throttle == nil {
		return true
	}
	limits, ok := s.configStore.TrafficRestriction()[db+"."+table]
	if !ok {
		return true
	}
	limit := limits.SingleOperationQPSLimit[op]
	if multi {
		limit = limits.MultiOperationQPSLimit[op]
	}
	return s.throttle.Allow(throttle.Key(db, table, op), limit)
}

func nowUnixMs() int64 { return time.Now().UnixMilli() }

func rawKey(key string) []byte {
	return codec.Encode(codec.RawString, [][]byte{[]byte(key)}, nil)
}

func counterKey(key string) []byte {
	return codec.Encode(codec.Counter, [][]byte{[]byte(key)}, nil)
}

func hashKey(key string) []byte {
	return codec.Encode(codec.MapData, [][]byte{[]byte(key)}, nil)
}

func listKey(key string) []byte {
	return codec.Encode(codec.ListData, [][]byte{[]byte(key)}, nil)
}

func setKey(key string) []byte {
	return codec.Encode(codec.SetData, [][]byte{[]byte(key)}, nil)
}

func zsetKey(key string) []byte {
	return codec.Encode(codec.ZSetData, [][]byte{[]byte(key)}, nil)
}

// --- string / counter operations ---

type GetRequest struct{ Database, Table, Key string }
type GetResponse struct {
	Code  lasererr.Code
	Error string
	Value []byte
}

func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	resp := &GetResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "get", func(eng ingest.Engine) error {
		v, err := eng.Get(rawKey(req.Key))
		resp.Value = v
		return err
	})
	return resp, nil
}

type SSetRequest struct{ Database, Table, Key string; Value []byte }
type SSetResponse struct {
	Code  lasererr.Code
	Error string
}

// SSet stores a raw-string value unconditionally.
func (s *Server) SSet(ctx context.Context, req *SSetRequest) (*SSetResponse, error) {
	resp := &SSetResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "sset", func(eng ingest.Engine) error {
		return eng.Set(rawKey(req.Key), req.Value)
	})
	return resp, nil
}

type SetXRequest struct {
	Database, Table, Key string
	Value                 []byte
	TTLMs                 int64
}
type SetXResponse struct {
	Code  lasererr.Code
	Error string
}

// SetX stores a raw-string value with an expiry (the design "setx (with expiry)").
func (s *Server) SetX(ctx context.Context, req *SetXRequest) (*SetXResponse, error) {
	resp := &SetXResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "setx", func(eng ingest.Engine) error {
		key := rawKey(req.Key)
		if err := eng.Set(key, req.Value); err != nil {
			return err
		}
		return eng.Expire(key, req.TTLMs)
	})
	return resp, nil
}

type AppendRequest struct {
	Database, Table, Key string
	Value                 []byte
}
type AppendResponse struct {
	Code   lasererr.Code
	Error  string
	Length int
}

// Append concatenates Value onto the raw-string stored at Key, creating it
// if absent. Not atomic at the engine-call boundary: the read and the
// write are separate engine calls (unlike Incrby, which the engine runs in
// one transaction).
func (s *Server) Append(ctx context.Context, req *AppendRequest) (*AppendResponse, error) {
	resp := &AppendResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "append", func(eng ingest.Engine) error {
		key := rawKey(req.Key)
		cur, err := eng.Get(key)
		if err != nil && lasererr.CodeOf(err) != lasererr.NotFound {
			return err
		}
		next := append(append([]byte(nil), cur...), req.Value...)
		resp.Length = len(next)
		return eng.Set(key, next)
	})
	return resp, nil
}

type DelKeyRequest struct{ Database, Table, Key string }
type DelKeyResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) DelKey(ctx context.Context, req *DelKeyRequest) (*DelKeyResponse, error) {
	resp := &DelKeyResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "delkey", func(eng ingest.Engine) error {
		return eng.DelKey(rawKey(req.Key))
	})
	return resp, nil
}

type ExistRequest struct{ Database, Table, Key string }
type ExistResponse struct {
	Code   lasererr.Code
	Error  string
	Exists bool
}

func (s *Server) Exist(ctx context.Context, req *ExistRequest) (*ExistResponse, error) {
	resp := &ExistResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "exist", func(eng ingest.Engine) error {
		ok, err := eng.Exists(rawKey(req.Key))
		resp.Exists = ok
		return err
	})
	return resp, nil
}

type ExpireRequest struct {
	Database, Table, Key string
	TTLMs                 int64
}
type ExpireResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) Expire(ctx context.Context, req *ExpireRequest) (*ExpireResponse, error) {
	resp := &ExpireResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "expire", func(eng ingest.Engine) error {
		return eng.Expire(rawKey(req.Key), req.TTLMs)
	})
	return resp, nil
}

type ExpireAtRequest struct {
	Database, Table, Key string
	UnixMs                int64
}
type ExpireAtResponse struct {
	Code  lasererr.Code
	Error string
}

// ExpireAt sets an absolute deadline by converting it to a relative TTL at
// request time; the engine only models relative TTLs.
func (s *Server) ExpireAt(ctx context.Context, req *ExpireAtRequest) (*ExpireAtResponse, error) {
	resp := &ExpireAtResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "expireAt", func(eng ingest.Engine) error {
		return eng.Expire(rawKey(req.Key), req.UnixMs-nowUnixMs())
	})
	return resp, nil
}

type TTLRequest struct{ Database, Table, Key string }
type TTLResponse struct {
	Code  lasererr.Code
	Error string
	TTLMs int64
}

func (s *Server) TTL(ctx context.Context, req *TTLRequest) (*TTLResponse, error) {
	resp := &TTLResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "ttl", func(eng ingest.Engine) error {
		ttl, err := eng.TTL(rawKey(req.Key))
		resp.TTLMs = ttl
		return err
	})
	return resp, nil
}

type IncrRequest struct{ Database, Table, Key string }
type IncrResponse struct {
	Code  lasererr.Code
	Error string
	Value int64
}

func (s *Server) Incr(ctx context.Context, req *IncrRequest) (*IncrResponse, error) {
	return s.incrBy(req.Database, req.Table, req.Key, "incr", 1)
}

func (s *Server) Decr(ctx context.Context, req *IncrRequest) (*IncrResponse, error) {
	return s.incrBy(req.Database, req.Table, req.Key, "decr", -1)
}

type IncrByRequest struct {
	Database, Table, Key string
	Delta                 int64
}

func (s *Server) IncrBy(ctx context.Context, req *IncrByRequest) (*IncrResponse, error) {
	return s.incrBy(req.Database, req.Table, req.Key, "incrBy", req.Delta)
}

func (s *Server) DecrBy(ctx context.Context, req *IncrByRequest) (*IncrResponse, error) {
	return s.incrBy(req.Database, req.Table, req.Key, "decrBy", -req.Delta)
}

func (s *Server) incrBy(db, table, key, op string, delta int64) (*IncrResponse, error) {
	resp := &IncrResponse{}
	resp.Code, resp.Error = s.single(db, table, key, op, func(eng ingest.Engine) error {
		v, err := eng.Incrby(counterKey(key), delta)
		resp.Value = v
		return err
	})
	return resp, nil
}

// --- hash operations ---

type HSetRequest struct {
	Database, Table, Key string
	Field, Value          []byte
}
type HSetResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) HSet(ctx context.Context, req *HSetRequest) (*HSetResponse, error) {
	resp := &HSetResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hset", func(eng ingest.Engine) error {
		return eng.HSet(hashKey(req.Key), req.Field, req.Value)
	})
	return resp, nil
}

type HMSetRequest struct {
	Database, Table, Key string
	Fields                map[string][]byte
}
type HMSetResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) HMSet(ctx context.Context, req *HMSetRequest) (*HMSetResponse, error) {
	resp := &HMSetResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hmset", func(eng ingest.Engine) error {
		key := hashKey(req.Key)
		for field, value := range req.Fields {
			if err := eng.HSet(key, []byte(field), value); err != nil {
				return err
			}
		}
		return nil
	})
	return resp, nil
}

type HGetRequest struct {
	Database, Table, Key string
	Field                 []byte
}
type HGetResponse struct {
	Code  lasererr.Code
	Error string
	Value []byte
}

func (s *Server) HGet(ctx context.Context, req *HGetRequest) (*HGetResponse, error) {
	resp := &HGetResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hget", func(eng ingest.Engine) error {
		v, err := eng.HGet(hashKey(req.Key), req.Field)
		resp.Value = v
		return err
	})
	return resp, nil
}

type HMGetRequest struct {
	Database, Table, Key string
	Fields                [][]byte
}
type HMGetResponse struct {
	Code   lasererr.Code
	Error  string
	Values map[string][]byte
}

func (s *Server) HMGet(ctx context.Context, req *HMGetRequest) (*HMGetResponse, error) {
	resp := &HMGetResponse{Values: map[string][]byte{}}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hmget", func(eng ingest.Engine) error {
		key := hashKey(req.Key)
		for _, field := range req.Fields {
			v, err := eng.HGet(key, field)
			if err != nil {
				if lasererr.CodeOf(err) == lasererr.NotFound {
					continue
				}
				return err
			}
			resp.Values[string(field)] = v
		}
		return nil
	})
	return resp, nil
}

type HGetAllRequest struct{ Database, Table, Key string }
type HGetAllResponse struct {
	Code   lasererr.Code
	Error  string
	Fields map[string][]byte
}

func (s *Server) HGetAll(ctx context.Context, req *HGetAllRequest) (*HGetAllResponse, error) {
	resp := &HGetAllResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hgetall", func(eng ingest.Engine) error {
		fields, err := eng.HGetAll(hashKey(req.Key))
		resp.Fields = fields
		return err
	})
	return resp, nil
}

type HKeysRequest struct{ Database, Table, Key string }
type HKeysResponse struct {
	Code  lasererr.Code
	Error string
	Keys  []string
}

func (s *Server) HKeys(ctx context.Context, req *HKeysRequest) (*HKeysResponse, error) {
	resp := &HKeysResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hkeys", func(eng ingest.Engine) error {
		fields, err := eng.HGetAll(hashKey(req.Key))
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		resp.Keys = keys
		return nil
	})
	return resp, nil
}

type HLenRequest struct{ Database, Table, Key string }
type HLenResponse struct {
	Code  lasererr.Code
	Error string
	Len   int
}

func (s *Server) HLen(ctx context.Context, req *HLenRequest) (*HLenResponse, error) {
	resp := &HLenResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hlen", func(eng ingest.Engine) error {
		n, err := eng.HLen(hashKey(req.Key))
		resp.Len = n
		return err
	})
	return resp, nil
}

type HExistsRequest struct {
	Database, Table, Key string
	Field                 []byte
}
type HExistsResponse struct {
	Code   lasererr.Code
	Error  string
	Exists bool
}

func (s *Server) HExists(ctx context.Context, req *HExistsRequest) (*HExistsResponse, error) {
	resp := &HExistsResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hexists", func(eng ingest.Engine) error {
		ok, err := eng.HExists(hashKey(req.Key), req.Field)
		resp.Exists = ok
		return err
	})
	return resp, nil
}

type HDelRequest struct {
	Database, Table, Key string
	Field                 []byte
}
type HDelResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) HDel(ctx context.Context, req *HDelRequest) (*HDelResponse, error) {
	resp := &HDelResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "hdel", func(eng ingest.Engine) error {
		return eng.HDel(hashKey(req.Key), req.Field)
	})
	return resp, nil
}

// --- list operations ---

type LPushRequest struct {
	Database, Table, Key string
	Value                 []byte
}
type LPushResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) LPush(ctx context.Context, req *LPushRequest) (*LPushResponse, error) {
	resp := &LPushResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "lpush", func(eng ingest.Engine) error {
		return eng.LPush(listKey(req.Key), req.Value)
	})
	return resp, nil
}

func (s *Server) RPush(ctx context.Context, req *LPushRequest) (*LPushResponse, error) {
	resp := &LPushResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "rpush", func(eng ingest.Engine) error {
		return eng.RPush(listKey(req.Key), req.Value)
	})
	return resp, nil
}

type LPopRequest struct{ Database, Table, Key string }
type LPopResponse struct {
	Code  lasererr.Code
	Error string
	Value []byte
}

func (s *Server) LPop(ctx context.Context, req *LPopRequest) (*LPopResponse, error) {
	resp := &LPopResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "lpop", func(eng ingest.Engine) error {
		v, err := eng.LPop(listKey(req.Key))
		resp.Value = v
		return err
	})
	return resp, nil
}

func (s *Server) RPop(ctx context.Context, req *LPopRequest) (*LPopResponse, error) {
	resp := &LPopResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "rpop", func(eng ingest.Engine) error {
		v, err := eng.RPop(listKey(req.Key))
		resp.Value = v
		return err
	})
	return resp, nil
}

type LRangeRequest struct{ Database, Table, Key string }
type LRangeResponse struct {
	Code   lasererr.Code
	Error  string
	Values [][]byte
}

func (s *Server) LRange(ctx context.Context, req *LRangeRequest) (*LRangeResponse, error) {
	resp := &LRangeResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "lrange", func(eng ingest.Engine) error {
		v, err := eng.LRange(listKey(req.Key))
		resp.Values = v
		return err
	})
	return resp, nil
}

type LLenRequest struct{ Database, Table, Key string }
type LLenResponse struct {
	Code  lasererr.Code
	Error string
	Len   int
}

func (s *Server) LLen(ctx context.Context, req *LLenRequest) (*LLenResponse, error) {
	resp := &LLenResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "llen", func(eng ingest.Engine) error {
		n, err := eng.LLen(listKey(req.Key))
		resp.Len = n
		return err
	})
	return resp, nil
}

type LIndexRequest struct {
	Database, Table, Key string
	Index                 int
}
type LIndexResponse struct {
	Code  lasererr.Code
	Error string
	Value []byte
}

func (s *Server) LIndex(ctx context.Context, req *LIndexRequest) (*LIndexResponse, error) {
	resp := &LIndexResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "lindex", func(eng ingest.Engine) error {
		values, err := eng.LRange(listKey(req.Key))
		if err != nil {
			return err
		}
		idx := req.Index
		if idx < 0 {
			idx += len(values)
		}
		if idx < 0 || idx >= len(values) {
			return lasererr.New(lasererr.NotFound, "index out of range")
		}
		resp.Value = values[idx]
		return nil
	})
	return resp, nil
}

// --- set operations ---

type SAddRequest struct {
	Database, Table, Key string
	Member                []byte
}
type SAddResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) SAdd(ctx context.Context, req *SAddRequest) (*SAddResponse, error) {
	resp := &SAddResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "sadd", func(eng ingest.Engine) error {
		return eng.SAdd(setKey(req.Key), req.Member)
	})
	return resp, nil
}

type SRemoveRequest struct {
	Database, Table, Key string
	Member                []byte
}
type SRemoveResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) SRemove(ctx context.Context, req *SRemoveRequest) (*SRemoveResponse, error) {
	resp := &SRemoveResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "sremove", func(eng ingest.Engine) error {
		return eng.SDel(setKey(req.Key), req.Member)
	})
	return resp, nil
}

type SIsMemberRequest struct {
	Database, Table, Key string
	Member                []byte
}
type SIsMemberResponse struct {
	Code     lasererr.Code
	Error    string
	IsMember bool
}

func (s *Server) SIsMember(ctx context.Context, req *SIsMemberRequest) (*SIsMemberResponse, error) {
	resp := &SIsMemberResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "sismember", func(eng ingest.Engine) error {
		ok, err := eng.HasMember(setKey(req.Key), req.Member)
		resp.IsMember = ok
		return err
	})
	return resp, nil
}

type SMembersRequest struct{ Database, Table, Key string }
type SMembersResponse struct {
	Code    lasererr.Code
	Error   string
	Members [][]byte
}

func (s *Server) SMembers(ctx context.Context, req *SMembersRequest) (*SMembersResponse, error) {
	resp := &SMembersResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "smembers", func(eng ingest.Engine) error {
		m, err := eng.Members(setKey(req.Key))
		resp.Members = m
		return err
	})
	return resp, nil
}

// --- sorted-set operations ---

type ZAddRequest struct {
	Database, Table, Key string
	Member                []byte
	Score                 int64
}
type ZAddResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) ZAdd(ctx context.Context, req *ZAddRequest) (*ZAddResponse, error) {
	resp := &ZAddResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "zadd", func(eng ingest.Engine) error {
		return eng.ZAdd(zsetKey(req.Key), req.Member, req.Score)
	})
	return resp, nil
}

type ZRangeByScoreRequest struct {
	Database, Table, Key string
	Min, Max              int64
}
type ZRangeByScoreResponse struct {
	Code    lasererr.Code
	Error   string
	Members []ZMember
}

// ZMember mirrors engine.ZMember without exposing the engine package to
// dispatcher callers.
type ZMember struct {
	Member []byte
	Score  int64
}

func (s *Server) ZRangeByScore(ctx context.Context, req *ZRangeByScoreRequest) (*ZRangeByScoreResponse, error) {
	resp := &ZRangeByScoreResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "zrangeByScore", func(eng ingest.Engine) error {
		members, err := eng.ZRangeByScore(zsetKey(req.Key), req.Min, req.Max)
		if err != nil {
			return err
		}
		out := make([]ZMember, len(members))
		for i, m := range members {
			out[i] = ZMember{Member: m.Member, Score: m.Score}
		}
		resp.Members = out
		return nil
	})
	return resp, nil
}

type ZRemRangeByScoreRequest struct {
	Database, Table, Key string
	Min, Max              int64
}
type ZRemRangeByScoreResponse struct {
	Code  lasererr.Code
	Error string
}

func (s *Server) ZRemRangeByScore(ctx context.Context, req *ZRemRangeByScoreRequest) (*ZRemRangeByScoreResponse, error) {
	resp := &ZRemRangeByScoreResponse{}
	resp.Code, resp.Error = s.single(req.Database, req.Table, req.Key, "zremRangeByScore", func(eng ingest.Engine) error {
		return eng.ZRemRangeByScore(zsetKey(req.Key), req.Min, req.Max)
	})
	return resp, nil
}
