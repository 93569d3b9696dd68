package cache

import (
	"sync"

	"github.com/meigma/transfer"
)

// Map indexes fingerprints to a layer-specific payload plus the policy's
// bookkeeping, guarded by a single reader/writer lock. Access goes through
// short-lived Reader and Writer views that hold the lock for their
// lifetime; callers must Release a view before invoking callbacks.
//
// Creating a second Writer while one is held deadlocks. Code that already
// holds a writer routes allocations through Writer.Alloc rather than
// Map.Alloc.
type Map[P any] struct {
	mu      sync.RWMutex
	entries map[transfer.Fingerprint]*mapEntry[P]
	policy  Policy

	// destroy is the owning layer's per-entry teardown hook, invoked on
	// every erase after the policy's Destroy.
	destroy func(id transfer.Fingerprint, payload P)
}

type mapEntry[P any] struct {
	payload    P
	policyData PolicyData
}

// NewMap returns an empty map bound to a policy. The destroy hook may be
// nil.
func NewMap[P any](policy Policy, destroy func(transfer.Fingerprint, P)) *Map[P] {
	return &Map[P]{
		entries: make(map[transfer.Fingerprint]*mapEntry[P]),
		policy:  policy,
		destroy: destroy,
	}
}

// Alloc acquires a writer and frees space for a new entry of the given
// size. It returns false when the entry must not be cached.
func (m *Map[P]) Alloc(required int64) bool {
	w := m.Writer()
	defer w.Release()
	return w.Alloc(required)
}

// Close drains the map, destroying every entry.
func (m *Map[P]) Close() {
	w := m.Writer()
	defer w.Release()
	w.EraseAll()
}

// Reader acquires the shared lock and returns a read-only view. Any number
// of readers may be live at once.
func (m *Map[P]) Reader() *Reader[P] {
	m.mu.RLock()
	return &Reader[P]{m: m}
}

// Writer acquires the exclusive lock and returns a mutating view.
func (m *Map[P]) Writer() *Writer[P] {
	m.mu.Lock()
	return &Writer[P]{m: m}
}

// Reader is a shared-lock view of a Map. Use is legal under the shared
// lock because the policy guards its own state separately.
type Reader[P any] struct {
	m *Map[P]
}

// Release drops the shared lock. The reader must not be used afterwards.
func (r *Reader[P]) Release() {
	r.m.mu.RUnlock()
}

// Find returns the payload for id.
func (r *Reader[P]) Find(id transfer.Fingerprint) (P, bool) {
	e, ok := r.m.entries[id]
	if !ok {
		var zero P
		return zero, false
	}
	return e.payload, true
}

// Use promotes the entry in the policy's recency order.
func (r *Reader[P]) Use(id transfer.Fingerprint) {
	if e, ok := r.m.entries[id]; ok {
		r.m.policy.Use(id, e.policyData)
	}
}

// Each calls fn for every entry until fn returns false.
func (r *Reader[P]) Each(fn func(id transfer.Fingerprint, payload P) bool) {
	for id, e := range r.m.entries {
		if !fn(id, e.payload) {
			return
		}
	}
}

// Writer is an exclusive-lock view of a Map.
type Writer[P any] struct {
	m *Map[P]
}

// Release drops the exclusive lock. The writer must not be used afterwards.
func (w *Writer[P]) Release() {
	w.m.mu.Unlock()
}

// Find returns the payload for id.
func (w *Writer[P]) Find(id transfer.Fingerprint) (P, bool) {
	e, ok := w.m.entries[id]
	if !ok {
		var zero P
		return zero, false
	}
	return e.payload, true
}

// Insert adds an entry, invoking the policy's Create with the initial
// size. It is a no-op on a duplicate key and reports whether insertion
// occurred.
func (w *Writer[P]) Insert(id transfer.Fingerprint, payload P, size int64) bool {
	if _, ok := w.m.entries[id]; ok {
		return false
	}
	w.m.entries[id] = &mapEntry[P]{
		payload:    payload,
		policyData: w.m.policy.Create(id, size),
	}
	return true
}

// Update touches the entry and records its new total size.
func (w *Writer[P]) Update(id transfer.Fingerprint, newSize int64) {
	if e, ok := w.m.entries[id]; ok {
		w.m.policy.UseAndUpdate(id, e.policyData, newSize)
	}
}

// Use promotes the entry in the policy's recency order.
func (w *Writer[P]) Use(id transfer.Fingerprint) {
	if e, ok := w.m.entries[id]; ok {
		w.m.policy.Use(id, e.policyData)
	}
}

// Replace swaps the payload for an existing entry, leaving policy
// bookkeeping untouched.
func (w *Writer[P]) Replace(id transfer.Fingerprint, payload P) bool {
	e, ok := w.m.entries[id]
	if !ok {
		return false
	}
	e.payload = payload
	return true
}

// Erase removes the entry, invoking the policy's Destroy and then the
// layer's destroy hook. It reports whether the entry existed.
func (w *Writer[P]) Erase(id transfer.Fingerprint) bool {
	e, ok := w.m.entries[id]
	if !ok {
		return false
	}
	w.m.policy.Destroy(id, e.policyData)
	if w.m.destroy != nil {
		w.m.destroy(id, e.payload)
	}
	delete(w.m.entries, id)
	return true
}

// EraseAll drains the map, invoking both destroy callbacks per entry.
func (w *Writer[P]) EraseAll() {
	for id, e := range w.m.entries {
		w.m.policy.Destroy(id, e.policyData)
		if w.m.destroy != nil {
			w.m.destroy(id, e.payload)
		}
		delete(w.m.entries, id)
	}
}

// Alloc frees space for a new entry of the given size through the held
// writer. It returns false when the entry must not be cached.
func (w *Writer[P]) Alloc(required int64) bool {
	return w.m.policy.AllocateSpace(required, w)
}
