// Copyright 2025 Takhin Data, Inc.

// Package throttle implements Laser's traffic-restriction enforcement
// a per-(database, table, operation) QPS ceiling
// drawn from ConfigStore's traffic_restriction_data, rewritten from the
// bytes-per-second Throttler into a generic keyed rate-limiter
// registry since Laser restricts by request count, not byte volume.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry lazily creates and reuses one rate.Limiter per string key (a
// "db.table.op" triple), updating its limit whenever ConfigStore reports a
// different one.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter     *rate.Limiter
	limitPerSec int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*limiterEntry)}
}

// Allow reports whether one request against key is permitted under
// limitPerSecond. A limitPerSecond of 0 means unrestricted. The limiter for
// key is created on first use and its limit updated in place whenever
// limitPerSecond changes, so a ConfigStore traffic-restriction update takes
// effect on the next call without resetting accumulated burst state
// unnecessarily.
func (r *Registry) Allow(key string, limitPerSecond int) bool {
	if limitPerSecond <= 0 {
		return true
	}
	r.mu.Lock()
	entry, ok := r.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter:     rate.NewLimiter(rate.Limit(limitPerSecond), burstFor(limitPerSecond)),
			limitPerSec: limitPerSecond,
		}
		r.limiters[key] = entry
	} else if entry.limitPerSec != limitPerSecond {
		entry.limiter.SetLimit(rate.Limit(limitPerSecond))
		entry.limiter.SetBurst(burstFor(limitPerSecond))
		entry.limitPerSec = limitPerSecond
	}
	limiter := entry.limiter
	r.mu.Unlock()

	return limiter.Allow()
}

func burstFor(limitPerSecond int) int {
	if limitPerSecond < 1 {
		return 1
	}
	return limitPerSecond
}

// Stats reports the current configured limit for every key that has seen
// at least one Allow call.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.limiters))
	for k, v := range r.limiters {
		out[k] = v.limitPerSec
	}
	return out
}

// Reset drops every tracked limiter, e.g. when a node fully reloads
// traffic_restriction_data and stale keys should stop consuming memory.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.limiters = make(map[string]*limiterEntry)
	r.mu.Unlock()
}

// Key builds the registry key for a (database, table, operation) triple.
func Key(db, table, op string) string {
	return db + "." + table + "." + op
}
