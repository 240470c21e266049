// Copyright 2025 Takhin Data, Inc.

package client

import (
	"fmt"
	"sync"
)

// connPool holds every Conn this process has dialed, keyed by server
// address. Within one address, up to MaxConnPerServer connections are
// kept and selected round-robin by a hash-expansion index (the design:
// "connection pools are keyed by (host, port, hash-expansion-index mod
// max_conn_per_server) and shared across threads").
type connPool struct {
	dialer Dialer

	mu    sync.Mutex
	conns map[string][]Conn
	next  map[string]int
}

func newConnPool(dialer Dialer) *connPool {
	return &connPool{
		dialer: dialer,
		conns:  make(map[string][]Conn),
		next:   make(map[string]int),
	}
}

// get returns an existing connection to addr if the pool has reached
// maxPerServer, otherwise dials a new one and adds it to the rotation.
func (p *connPool) get(addr string, maxPerServer int) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := p.conns[addr]
	if len(existing) < maxPerServer {
		conn, err := p.dialer.Dial(addr)
		if err != nil {
			return nil, err
		}
		p.conns[addr] = append(existing, conn)
		return conn, nil
	}

	idx := p.next[addr] % len(existing)
	p.next[addr] = (p.next[addr] + 1) % len(existing)
	return existing[idx], nil
}

// refresh discards a dead connection slot and dials a replacement,
// used after a connection_retry-eligible failure.
func (p *connPool) refresh(addr string, maxPerServer int) (Conn, error) {
	p.mu.Lock()
	existing := p.conns[addr]
	p.mu.Unlock()

	if len(existing) == 0 {
		return p.get(addr, maxPerServer)
	}

	conn, err := p.dialer.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("client: redial %s: %w", addr, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	slots := p.conns[addr]
	if len(slots) > 0 {
		slots[0] = conn
	} else {
		slots = append(slots, conn)
	}
	p.conns[addr] = slots
	return conn, nil
}
