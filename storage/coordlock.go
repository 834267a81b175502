package storage

import (
	"context"
	"sync"

	"github.com/starfield-io/skytile/pyramid"
)

// LockTable serializes same-process writers per tile coordinate.
// Engines layer it under their durable lock records, which arbitrate
// only across processes.
type LockTable struct {
	mu   sync.Mutex
	held map[pyramid.Coord]chan struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{held: make(map[pyramid.Coord]chan struct{})}
}

// Acquire blocks until the coordinate is unheld or the context is done.
func (lt *LockTable) Acquire(ctx context.Context, c pyramid.Coord) error {
	for {
		lt.mu.Lock()
		ch, busy := lt.held[c]
		if !busy {
			lt.held[c] = make(chan struct{})
			lt.mu.Unlock()
			return nil
		}
		lt.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Release unblocks waiters for the coordinate.  Only the holder may
// call it.
func (lt *LockTable) Release(c pyramid.Coord) {
	lt.mu.Lock()
	ch, busy := lt.held[c]
	delete(lt.held, c)
	lt.mu.Unlock()
	if busy {
		close(ch)
	}
}
