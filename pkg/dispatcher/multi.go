// Copyright 2025 Takhin Data, Inc.

package dispatcher

import (
	"context"

	"github.com/laserkv/laser/pkg/codec"
	"github.com/laserkv/laser/pkg/ingest"
	"github.com/laserkv/laser/pkg/lasererr"
)

// KeyResult is one key's outcome within a multi-key batch response.
type KeyResult struct {
	Key   string
	Code  lasererr.Code
	Error string
	Value []byte
}

// keyGroup is every input index whose key resolved to the same engine.
type keyGroup struct {
	eng     ingest.Engine
	release func()
	indexes []int
}

// groupByEngine resolves every key's destination partition and buckets the
// input indexes by engine instance (the design: "group keys by their
// destination engine"). Keys that resolve to no partition are recorded as
// NO_PARTITION directly into results and excluded from any group.
func (s *Server) groupByEngine(db, table string, keys []string, results []KeyResult) []*keyGroup {
	groups := make(map[ingest.Engine]*keyGroup)
	order := make([]*keyGroup, 0)
	for i, key := range keys {
		keyHash := codec.KeyHash([][]byte{[]byte(key)})
		eng, release, ok := s.table.GetPartitionEngine(db, table, keyHash)
		if !ok {
			results[i] = KeyResult{Key: key, Code: lasererr.NoPartition, Error: "no partition owns this key"}
			continue
		}
		g, exists := groups[eng]
		if !exists {
			g = &keyGroup{eng: eng, release: release}
			groups[eng] = g
			order = append(order, g)
		} else {
			release()
		}
		g.indexes = append(g.indexes, i)
	}
	return order
}

// aggregate derives the overall multi-key status here: PART_FAILED
// if some but not all keys failed (OK and key-expired don't count as
// failures), ERROR if all failed, OK otherwise.
func aggregate(results []KeyResult) lasererr.Code {
	if len(results) == 0 {
		return lasererr.OK
	}
	failures := 0
	for _, r := range results {
		if lasererr.IsFailure(r.Code) {
			failures++
		}
	}
	switch {
	case failures == 0:
		return lasererr.OK
	case failures == len(results):
		return lasererr.AllFailed
	default:
		return lasererr.PartFailed
	}
}

type MGetRequest struct {
	Database, Table string
	Keys             []string
}
type MGetResponse struct {
	Status  lasererr.Code
	Results []KeyResult
}

// MGet fetches every key, grouping by destination partition so keys sharing
// an engine are fetched in one pass.
func (s *Server) MGet(ctx context.Context, req *MGetRequest) (*MGetResponse, error) {
	return s.mget(req.Database, req.Table, req.Keys, "mget")
}

// MGetDetail is identical to MGet; the distinction in the original RPC
// surface is response verbosity at the wire-codec layer, which a real
// generated client controls independent of this handler.
func (s *Server) MGetDetail(ctx context.Context, req *MGetRequest) (*MGetResponse, error) {
	return s.mget(req.Database, req.Table, req.Keys, "mgetDetail")
}

func (s *Server) mget(db, table string, keys []string, op string) (*MGetResponse, error) {
	results := make([]KeyResult, len(keys))
	groups := s.groupByEngine(db, table, keys, results)

	if !s.allow(db, table, op, true) {
		for _, g := range groups {
			for _, idx := range g.indexes {
				results[idx] = KeyResult{Key: keys[idx], Code: lasererr.RateLimited, Error: "rate limit exceeded"}
			}
			g.release()
		}
		return &MGetResponse{Status: lasererr.RateLimited, Results: results}, nil
	}

	for _, g := range groups {
		for _, idx := range g.indexes {
			key := keys[idx]
			v, err := g.eng.Get(rawKey(key))
			if err != nil {
				results[idx] = KeyResult{Key: key, Code: lasererr.CodeOf(err), Error: err.Error()}
				continue
			}
			results[idx] = KeyResult{Key: key, Code: lasererr.OK, Value: v}
		}
		g.release()
	}

	return &MGetResponse{Status: aggregate(results), Results: results}, nil
}

type MSetRequest struct {
	Database, Table string
	Keys             []string
	Values           [][]byte
}
type MSetResponse struct {
	Status  lasererr.Code
	Results []KeyResult
}

func (s *Server) MSet(ctx context.Context, req *MSetRequest) (*MSetResponse, error) {
	return s.mset(req.Database, req.Table, req.Keys, req.Values, "mset")
}

func (s *Server) MSetDetail(ctx context.Context, req *MSetRequest) (*MSetResponse, error) {
	return s.mset(req.Database, req.Table, req.Keys, req.Values, "msetDetail")
}

func (s *Server) mset(db, table string, keys []string, values [][]byte, op string) (*MSetResponse, error) {
	results := make([]KeyResult, len(keys))
	groups := s.groupByEngine(db, table, keys, results)

	if !s.allow(db, table, op, true) {
		for _, g := range groups {
			for _, idx := range g.indexes {
				results[idx] = KeyResult{Key: keys[idx], Code: lasererr.RateLimited, Error: "rate limit exceeded"}
			}
			g.release()
		}
		return &MSetResponse{Status: lasererr.RateLimited, Results: results}, nil
	}

	for _, g := range groups {
		groupKeys := make([][]byte, len(g.indexes))
		groupValues := make([][]byte, len(g.indexes))
		for j, idx := range g.indexes {
			groupKeys[j] = rawKey(keys[idx])
			groupValues[j] = values[idx]
		}
		err := g.eng.MSet(groupKeys, groupValues)
		for _, idx := range g.indexes {
			if err != nil {
				results[idx] = KeyResult{Key: keys[idx], Code: lasererr.CodeOf(err), Error: err.Error()}
				continue
			}
			results[idx] = KeyResult{Key: keys[idx], Code: lasererr.OK}
		}
		g.release()
	}

	return &MSetResponse{Status: aggregate(results), Results: results}, nil
}

type MDelRequest struct {
	Database, Table string
	Keys             []string
}
type MDelResponse struct {
	Status  lasererr.Code
	Results []KeyResult
}

func (s *Server) MDel(ctx context.Context, req *MDelRequest) (*MDelResponse, error) {
	results := make([]KeyResult, len(req.Keys))
	groups := s.groupByEngine(req.Database, req.Table, req.Keys, results)

	if !s.allow(req.Database, req.Table, "mdel", true) {
		for _, g := range groups {
			for _, idx := range g.indexes {
				results[idx] = KeyResult{Key: req.Keys[idx], Code: lasererr.RateLimited, Error: "rate limit exceeded"}
			}
			g.release()
		}
		return &MDelResponse{Status: lasererr.RateLimited, Results: results}, nil
	}

	for _, g := range groups {
		for _, idx := range g.indexes {
			key := req.Keys[idx]
			err := g.eng.DelKey(rawKey(key))
			if err != nil {
				results[idx] = KeyResult{Key: key, Code: lasererr.CodeOf(err), Error: err.Error()}
				continue
			}
			results[idx] = KeyResult{Key: key, Code: lasererr.OK}
		}
		g.release()
	}

	return &MDelResponse{Status: aggregate(results), Results: results}, nil
}
