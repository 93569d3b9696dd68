package cache

import (
	"container/list"
	"sync"

	"github.com/meigma/transfer"
)

// LRU is a least-recently-used Policy with a hard byte budget. Entries are
// kept in a recency list, most recent at the front; AllocateSpace evicts
// from the tail until enough space is free.
type LRU struct {
	mu     sync.Mutex
	budget int64
	used   int64
	recent *list.List
}

type lruEntry struct {
	id   transfer.Fingerprint
	size int64
	elem *list.Element
}

// NewLRU returns an LRU policy with the given byte budget.
func NewLRU(budget int64) *LRU {
	return &LRU{
		budget: budget,
		recent: list.New(),
	}
}

// Budget returns the configured byte budget.
func (p *LRU) Budget() int64 {
	return p.budget
}

// Used returns the current occupancy in bytes.
func (p *LRU) Used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Create implements Policy.
func (p *LRU) Create(id transfer.Fingerprint, size int64) PolicyData {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := &lruEntry{id: id, size: size}
	e.elem = p.recent.PushFront(e)
	p.used += size
	return e
}

// Destroy implements Policy.
func (p *LRU) Destroy(_ transfer.Fingerprint, data PolicyData) {
	e := data.(*lruEntry)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent.Remove(e.elem)
	p.used -= e.size
}

// Use implements Policy.
func (p *LRU) Use(_ transfer.Fingerprint, data PolicyData) {
	e := data.(*lruEntry)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent.MoveToFront(e.elem)
}

// UseAndUpdate implements Policy.
func (p *LRU) UseAndUpdate(_ transfer.Fingerprint, data PolicyData, newSize int64) {
	e := data.(*lruEntry)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent.MoveToFront(e.elem)
	p.used += newSize - e.size
	e.size = newSize
}

// AllocateSpace implements Policy. Victims are erased least-recent first.
// The internal lock is released around each Erase call: erasure re-enters
// the policy through Destroy.
func (p *LRU) AllocateSpace(required int64, evict Evictor) bool {
	if required > p.budget {
		return false
	}
	for {
		p.mu.Lock()
		if p.budget-p.used >= required {
			p.mu.Unlock()
			return true
		}
		tail := p.recent.Back()
		if tail == nil {
			p.mu.Unlock()
			return true
		}
		victim := tail.Value.(*lruEntry).id
		p.mu.Unlock()

		if !evict.Erase(victim) {
			panic("cache: policy entry missing from map")
		}
	}
}
