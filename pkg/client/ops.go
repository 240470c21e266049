// Copyright 2025 Takhin Data, Inc.

package client

import (
	"context"
	"fmt"
	"math"

	"github.com/laserkv/laser/pkg/dispatcher"
)

// scoreScale is the fixed-point multiplier sorted-set scores are stored at
// (the design: "clients scale floats by 10000 to get integer scores").
const scoreScale = 10000

// ScaleScore converts a floating-point zset score to the integer form the
// engine stores, clamping to the representable range first (the design:
// "zadd with a float ∞ is clamped to I64_MAX / 10000 on the client before
// scaling", and symmetrically for -∞).
func ScaleScore(score float64) int64 {
	const clampMax = math.MaxInt64 / scoreScale
	const clampMin = math.MinInt64 / scoreScale
	switch {
	case math.IsNaN(score):
		return 0
	case score > clampMax:
		score = clampMax
	case score < clampMin:
		score = clampMin
	}
	return int64(score * scoreScale)
}

func typeAssertErr(op string, v any) error {
	return fmt.Errorf("client: unexpected response type for %s: %T", op, v)
}

// Get issues a single-key read, honoring the caller's read mode.
func (r *Router) Get(ctx context.Context, db, table, key string, mode ReadMode) (*dispatcher.GetResponse, error) {
	resp, err := r.do(ctx, db, table, key, "get", mode, &dispatcher.GetRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.GetResponse)
	if !ok {
		return nil, typeAssertErr("get", resp)
	}
	return v, nil
}

// SSet issues a single-key write; read mode is always forced to leader.
func (r *Router) SSet(ctx context.Context, db, table, key string, value []byte) (*dispatcher.SSetResponse, error) {
	resp, err := r.do(ctx, db, table, key, "sset", ReadModeLeader, &dispatcher.SSetRequest{Database: db, Table: table, Key: key, Value: value})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.SSetResponse)
	if !ok {
		return nil, typeAssertErr("sset", resp)
	}
	return v, nil
}

// DelKey deletes a single key.
func (r *Router) DelKey(ctx context.Context, db, table, key string) (*dispatcher.DelKeyResponse, error) {
	resp, err := r.do(ctx, db, table, key, "delkey", ReadModeLeader, &dispatcher.DelKeyRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.DelKeyResponse)
	if !ok {
		return nil, typeAssertErr("delkey", resp)
	}
	return v, nil
}

// Exist checks a single key's existence.
func (r *Router) Exist(ctx context.Context, db, table, key string, mode ReadMode) (*dispatcher.ExistResponse, error) {
	resp, err := r.do(ctx, db, table, key, "exist", mode, &dispatcher.ExistRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.ExistResponse)
	if !ok {
		return nil, typeAssertErr("exist", resp)
	}
	return v, nil
}

// Expire sets a relative TTL (in milliseconds) on a single key.
func (r *Router) Expire(ctx context.Context, db, table, key string, ttlMs int64) (*dispatcher.ExpireResponse, error) {
	resp, err := r.do(ctx, db, table, key, "expire", ReadModeLeader, &dispatcher.ExpireRequest{Database: db, Table: table, Key: key, TTLMs: ttlMs})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.ExpireResponse)
	if !ok {
		return nil, typeAssertErr("expire", resp)
	}
	return v, nil
}

// TTL reads the remaining time-to-live on a single key.
func (r *Router) TTL(ctx context.Context, db, table, key string, mode ReadMode) (*dispatcher.TTLResponse, error) {
	resp, err := r.do(ctx, db, table, key, "ttl", mode, &dispatcher.TTLRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.TTLResponse)
	if !ok {
		return nil, typeAssertErr("ttl", resp)
	}
	return v, nil
}

// IncrBy adds delta to a counter.
func (r *Router) IncrBy(ctx context.Context, db, table, key string, delta int64) (*dispatcher.IncrResponse, error) {
	resp, err := r.do(ctx, db, table, key, "incrBy", ReadModeLeader, &dispatcher.IncrByRequest{Database: db, Table: table, Key: key, Delta: delta})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.IncrResponse)
	if !ok {
		return nil, typeAssertErr("incrBy", resp)
	}
	return v, nil
}

// HSet sets one hash field.
func (r *Router) HSet(ctx context.Context, db, table, key string, field, value []byte) (*dispatcher.HSetResponse, error) {
	resp, err := r.do(ctx, db, table, key, "hset", ReadModeLeader, &dispatcher.HSetRequest{Database: db, Table: table, Key: key, Field: field, Value: value})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.HSetResponse)
	if !ok {
		return nil, typeAssertErr("hset", resp)
	}
	return v, nil
}

// HGetAll reads every field of a hash.
func (r *Router) HGetAll(ctx context.Context, db, table, key string, mode ReadMode) (*dispatcher.HGetAllResponse, error) {
	resp, err := r.do(ctx, db, table, key, "hgetall", mode, &dispatcher.HGetAllRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.HGetAllResponse)
	if !ok {
		return nil, typeAssertErr("hgetall", resp)
	}
	return v, nil
}

// LPush / RPush push a value onto a list.
func (r *Router) LPush(ctx context.Context, db, table, key string, value []byte) (*dispatcher.LPushResponse, error) {
	resp, err := r.do(ctx, db, table, key, "lpush", ReadModeLeader, &dispatcher.LPushRequest{Database: db, Table: table, Key: key, Value: value})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.LPushResponse)
	if !ok {
		return nil, typeAssertErr("lpush", resp)
	}
	return v, nil
}

func (r *Router) RPush(ctx context.Context, db, table, key string, value []byte) (*dispatcher.LPushResponse, error) {
	resp, err := r.do(ctx, db, table, key, "rpush", ReadModeLeader, &dispatcher.LPushRequest{Database: db, Table: table, Key: key, Value: value})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.LPushResponse)
	if !ok {
		return nil, typeAssertErr("rpush", resp)
	}
	return v, nil
}

// LRange reads an entire list.
func (r *Router) LRange(ctx context.Context, db, table, key string, mode ReadMode) (*dispatcher.LRangeResponse, error) {
	resp, err := r.do(ctx, db, table, key, "lrange", mode, &dispatcher.LRangeRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.LRangeResponse)
	if !ok {
		return nil, typeAssertErr("lrange", resp)
	}
	return v, nil
}

// SAdd adds a member to a set.
func (r *Router) SAdd(ctx context.Context, db, table, key string, member []byte) (*dispatcher.SAddResponse, error) {
	resp, err := r.do(ctx, db, table, key, "sadd", ReadModeLeader, &dispatcher.SAddRequest{Database: db, Table: table, Key: key, Member: member})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.SAddResponse)
	if !ok {
		return nil, typeAssertErr("sadd", resp)
	}
	return v, nil
}

// SMembers reads every member of a set.
func (r *Router) SMembers(ctx context.Context, db, table, key string, mode ReadMode) (*dispatcher.SMembersResponse, error) {
	resp, err := r.do(ctx, db, table, key, "smembers", mode, &dispatcher.SMembersRequest{Database: db, Table: table, Key: key})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.SMembersResponse)
	if !ok {
		return nil, typeAssertErr("smembers", resp)
	}
	return v, nil
}

// ZAdd adds a scored member to a sorted set.
func (r *Router) ZAdd(ctx context.Context, db, table, key string, member []byte, score int64) (*dispatcher.ZAddResponse, error) {
	resp, err := r.do(ctx, db, table, key, "zadd", ReadModeLeader, &dispatcher.ZAddRequest{Database: db, Table: table, Key: key, Member: member, Score: score})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.ZAddResponse)
	if !ok {
		return nil, typeAssertErr("zadd", resp)
	}
	return v, nil
}

// ZAddScore is ZAdd for callers holding a floating-point score (the external
// wire representation); it scales and clamps to the engine's integer score
// domain before dispatching.
func (r *Router) ZAddScore(ctx context.Context, db, table, key string, member []byte, score float64) (*dispatcher.ZAddResponse, error) {
	return r.ZAdd(ctx, db, table, key, member, ScaleScore(score))
}

// ZRangeByScore reads a sorted set's score window.
func (r *Router) ZRangeByScore(ctx context.Context, db, table, key string, min, max int64, mode ReadMode) (*dispatcher.ZRangeByScoreResponse, error) {
	resp, err := r.do(ctx, db, table, key, "zrangeByScore", mode, &dispatcher.ZRangeByScoreRequest{Database: db, Table: table, Key: key, Min: min, Max: max})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(*dispatcher.ZRangeByScoreResponse)
	if !ok {
		return nil, typeAssertErr("zrangeByScore", resp)
	}
	return v, nil
}
