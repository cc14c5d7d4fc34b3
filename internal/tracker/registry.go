package tracker

import (
	"sync"
	"sync/atomic"

	"scopeleak/internal/resource"
)

const shardCount = 16

// Registry is an append-only record of every handle ever created. It holds
// references only: nothing here releases a handle or changes its state.
//
// Add and Snapshot are safe to call from any number of goroutines without
// external locking. A Snapshot contains every handle whose Add returned before
// the Snapshot began; handles added while it runs may or may not be included.
//
// Entries are never removed, so memory grows for as long as the registry
// lives. That is fine for a bounded harness run and wrong for a long-lived
// service.
type Registry struct {
	shards [shardCount]shard
	next   atomic.Uint64
	count  atomic.Int64
}

type shard struct {
	mu      sync.RWMutex
	entries []resource.Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add records h. Writers are spread round-robin over the shards.
func (r *Registry) Add(h resource.Handle) {
	s := &r.shards[r.next.Add(1)%shardCount]
	s.mu.Lock()
	s.entries = append(s.entries, h)
	s.mu.Unlock()
	r.count.Add(1)
}

// Len is the number of handles added so far.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Snapshot returns the registered handles. Each shard's slice header is copied
// under its read lock; elements below the copied length are never written
// again, so the copy stays valid after the lock is dropped.
func (r *Registry) Snapshot() []resource.Handle {
	out := make([]resource.Handle, 0, r.Len())
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		entries := s.entries
		s.mu.RUnlock()
		out = append(out, entries...)
	}
	return out
}
