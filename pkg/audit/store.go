// Copyright 2025 Takhin Data, Inc.

package audit

import (
	"sync"
	"time"
)

// Store is an in-memory, queryable buffer of recent audit Events behind
// Logger, indexed by principal and resource so Logger.Query doesn't have
// to linear-scan every override/ingest event the node has logged.
type Store struct {
	mu               sync.RWMutex
	events           []*Event
	retention        int64 // retention period in milliseconds
	indexByPrincipal map[string][]*Event
	indexByResource  map[string][]*Event
}

// NewStore creates a store that retains events for retentionMs before
// Cleanup will evict them.
func NewStore(retentionMs int64) *Store {
	return &Store{
		events:           make([]*Event, 0, 10000),
		retention:        retentionMs,
		indexByPrincipal: make(map[string][]*Event),
		indexByResource:  make(map[string][]*Event),
	}
}

// Add appends event and updates its principal/resource indices.
func (s *Store) Add(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	if event.Principal != "" {
		s.indexByPrincipal[event.Principal] = append(s.indexByPrincipal[event.Principal], event)
	}
	if event.ResourceName != "" {
		key := event.ResourceType + ":" + event.ResourceName
		s.indexByResource[key] = append(s.indexByResource[key], event)
	}
}

// Query applies filter against the store, using the principal/resource
// index to narrow the candidate set when the filter is selective enough
// to allow it.
func (s *Store) Query(filter Filter) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Event, 0)

	var candidates []*Event
	switch {
	case len(filter.Principals) == 1:
		candidates = s.indexByPrincipal[filter.Principals[0]]
	case filter.ResourceType != "" && filter.ResourceName != "":
		key := filter.ResourceType + ":" + filter.ResourceName
		candidates = s.indexByResource[key]
	default:
		candidates = s.events
	}

	for _, event := range candidates {
		if s.matches(event, filter) {
			results = append(results, event)
		}
	}

	if filter.Offset > 0 && filter.Offset < len(results) {
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(results) {
		results = results[:filter.Limit]
	}

	return results
}

func (s *Store) matches(event *Event, filter Filter) bool {
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}

	if len(filter.EventTypes) > 0 {
		found := false
		for _, et := range filter.EventTypes {
			if event.EventType == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Principals) > 0 {
		found := false
		for _, p := range filter.Principals {
			if event.Principal == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.ResourceType != "" && event.ResourceType != filter.ResourceType {
		return false
	}
	if filter.ResourceName != "" && event.ResourceName != filter.ResourceName {
		return false
	}
	if filter.Result != "" && event.Result != filter.Result {
		return false
	}
	if filter.Severity != "" && event.Severity != filter.Severity {
		return false
	}

	return true
}

// Cleanup evicts events older than the store's retention window, called
// periodically by Logger's background loop.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(s.retention) * time.Millisecond)

	keepFrom := -1
	for i, event := range s.events {
		if event.Timestamp.After(cutoff) {
			keepFrom = i
			break
		}
	}

	if keepFrom == -1 {
		s.events = make([]*Event, 0, 10000)
		s.indexByPrincipal = make(map[string][]*Event)
		s.indexByResource = make(map[string][]*Event)
		return
	}
	if keepFrom == 0 {
		return
	}

	s.events = s.events[keepFrom:]

	s.indexByPrincipal = make(map[string][]*Event)
	s.indexByResource = make(map[string][]*Event)
	for _, event := range s.events {
		if event.Principal != "" {
			s.indexByPrincipal[event.Principal] = append(s.indexByPrincipal[event.Principal], event)
		}
		if event.ResourceName != "" {
			key := event.ResourceType + ":" + event.ResourceName
			s.indexByResource[key] = append(s.indexByResource[key], event)
		}
	}
}

// Count returns the number of events currently retained.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
