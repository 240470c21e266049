// Copyright 2025 Takhin Data, Inc.

package client

import (
	"context"
	"fmt"

	"github.com/laserkv/laser/pkg/dispatcher"
	"github.com/laserkv/laser/pkg/lasererr"
)

// serverGroup is every input index routed to the same resolved server
// address, within one of the two top-level groups (edge, main).
type serverGroup struct {
	addr    string
	indexes []int
}

// planMultiKey computes each key's (shardID, routeToEdge) and partitions
// them into edge/main groups here multi-key steps 1-2.
func (r *Router) planMultiKey(db, table string, keys []string, readMode ReadMode) (edgeIdx, mainIdx map[uint32][]int, shardOf []uint32, err error) {
	edgeIdx = make(map[uint32][]int)
	mainIdx = make(map[uint32][]int)
	shardOf = make([]uint32, len(keys))

	for i, key := range keys {
		shardID, _, routeToEdge, terr := r.target(db, table, key, readMode)
		if terr != nil {
			return nil, nil, nil, terr
		}
		shardOf[i] = shardID
		if routeToEdge {
			edgeIdx[shardID] = append(edgeIdx[shardID], i)
		} else {
			mainIdx[shardID] = append(mainIdx[shardID], i)
		}
	}
	return edgeIdx, mainIdx, shardOf, nil
}

// resolveGroups discovers one server per shard group, reassigning any
// edge group with no server to the main group under the same shard id
// (the design multi-key step 3), then re-buckets by resolved address
// (step 4).
func (r *Router) resolveGroups(edgeIdx, mainIdx map[uint32][]int, shardType ShardType) (map[string]*serverGroup, error) {
	byAddr := make(map[string]*serverGroup)

	addTo := func(addr string, idxs []int) {
		g, ok := byAddr[addr]
		if !ok {
			g = &serverGroup{addr: addr}
			byAddr[addr] = g
		}
		g.indexes = append(g.indexes, idxs...)
	}

	for shardID, idxs := range edgeIdx {
		addrs, ok := r.locator.Resolve(r.opts.Service+".edge", shardID, r.opts.DC, shardType)
		if ok && len(addrs) > 0 {
			addTo(addrs[r.rnd.Intn(len(addrs))], idxs)
			continue
		}
		mainIdx[shardID] = append(mainIdx[shardID], idxs...)
	}

	for shardID, idxs := range mainIdx {
		addrs, ok := r.locator.Resolve(r.opts.Service, shardID, r.opts.DC, shardType)
		if !ok || len(addrs) == 0 {
			return nil, fmt.Errorf("client: no server for shard %d", shardID)
		}
		addTo(addrs[r.rnd.Intn(len(addrs))], idxs)
	}

	return byAddr, nil
}

// MGet reads a batch of keys, joining results in the caller's input order
// regardless of which server answered first (the design multi-key steps
// 4-6; §5 ordering guarantee).
func (r *Router) MGet(ctx context.Context, db, table string, keys []string, mode ReadMode) (*dispatcher.MGetResponse, error) {
	edgeIdx, mainIdx, _, err := r.planMultiKey(db, table, keys, mode)
	if err != nil {
		return nil, err
	}
	groups, err := r.resolveGroups(edgeIdx, mainIdx, mode.shardType())
	if err != nil {
		return nil, err
	}

	results := make([]dispatcher.KeyResult, len(keys))
	for _, g := range groups {
		groupKeys := make([]string, len(g.indexes))
		for j, idx := range g.indexes {
			groupKeys[j] = keys[idx]
		}
		resp, err := r.callWithRetry(ctx, g.addr, "mget", &dispatcher.MGetRequest{Database: db, Table: table, Keys: groupKeys})
		if err != nil {
			for _, idx := range g.indexes {
				results[idx] = dispatcher.KeyResult{Key: keys[idx], Code: lasererr.ClientCallError, Error: err.Error()}
			}
			continue
		}
		mgetResp, ok := resp.(*dispatcher.MGetResponse)
		if !ok {
			return nil, typeAssertErr("mget", resp)
		}
		for j, idx := range g.indexes {
			results[idx] = mgetResp.Results[j]
		}
	}

	return &dispatcher.MGetResponse{Status: joinStatus(results), Results: results}, nil
}

// MSet writes a batch of keys; writes always resolve via ReadModeLeader.
func (r *Router) MSet(ctx context.Context, db, table string, keys []string, values [][]byte) (*dispatcher.MSetResponse, error) {
	edgeIdx, mainIdx, _, err := r.planMultiKey(db, table, keys, ReadModeLeader)
	if err != nil {
		return nil, err
	}
	groups, err := r.resolveGroups(edgeIdx, mainIdx, ShardLeader)
	if err != nil {
		return nil, err
	}

	results := make([]dispatcher.KeyResult, len(keys))
	for _, g := range groups {
		groupKeys := make([]string, len(g.indexes))
		groupValues := make([][]byte, len(g.indexes))
		for j, idx := range g.indexes {
			groupKeys[j] = keys[idx]
			groupValues[j] = values[idx]
		}
		resp, err := r.callWithRetry(ctx, g.addr, "mset", &dispatcher.MSetRequest{Database: db, Table: table, Keys: groupKeys, Values: groupValues})
		if err != nil {
			for _, idx := range g.indexes {
				results[idx] = dispatcher.KeyResult{Key: keys[idx], Code: lasererr.ClientCallError, Error: err.Error()}
			}
			continue
		}
		msetResp, ok := resp.(*dispatcher.MSetResponse)
		if !ok {
			return nil, typeAssertErr("mset", resp)
		}
		for j, idx := range g.indexes {
			results[idx] = msetResp.Results[j]
		}
	}

	return &dispatcher.MSetResponse{Status: joinStatus(results), Results: results}, nil
}

// MDel deletes a batch of keys.
func (r *Router) MDel(ctx context.Context, db, table string, keys []string) (*dispatcher.MDelResponse, error) {
	edgeIdx, mainIdx, _, err := r.planMultiKey(db, table, keys, ReadModeLeader)
	if err != nil {
		return nil, err
	}
	groups, err := r.resolveGroups(edgeIdx, mainIdx, ShardLeader)
	if err != nil {
		return nil, err
	}

	results := make([]dispatcher.KeyResult, len(keys))
	for _, g := range groups {
		groupKeys := make([]string, len(g.indexes))
		for j, idx := range g.indexes {
			groupKeys[j] = keys[idx]
		}
		resp, err := r.callWithRetry(ctx, g.addr, "mdel", &dispatcher.MDelRequest{Database: db, Table: table, Keys: groupKeys})
		if err != nil {
			for _, idx := range g.indexes {
				results[idx] = dispatcher.KeyResult{Key: keys[idx], Code: lasererr.ClientCallError, Error: err.Error()}
			}
			continue
		}
		mdelResp, ok := resp.(*dispatcher.MDelResponse)
		if !ok {
			return nil, typeAssertErr("mdel", resp)
		}
		for j, idx := range g.indexes {
			results[idx] = mdelResp.Results[j]
		}
	}

	return &dispatcher.MDelResponse{Status: joinStatus(results), Results: results}, nil
}

// joinStatus re-derives the overall multi-key status from the joined
// per-key results (the design aggregation rule, re-applied client-side
// since each server group's status alone doesn't see the whole batch).
func joinStatus(results []dispatcher.KeyResult) lasererr.Code {
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
