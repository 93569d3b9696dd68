// Package cache provides the indexed store and eviction machinery shared
// by the cache layers: a reader/writer-locked map from fingerprint to a
// layer-specific payload, and a pluggable policy that bounds each layer's
// footprint.
package cache

import "github.com/meigma/transfer"

// PolicyData is opaque per-entry bookkeeping owned by a Policy. The map
// stores it alongside the payload but never inspects it.
type PolicyData any

// Evictor erases entries on behalf of a policy reclaiming space. The map's
// Writer implements it; AllocateSpace must only be called through a held
// writer.
type Evictor interface {
	// Erase removes the entry, invoking the policy and layer destroy
	// hooks. It reports whether the entry existed.
	Erase(id transfer.Fingerprint) bool
}

// Policy decides which entries a cache layer admits and evicts.
//
// Policies keep their own internal lock, disjoint from the map lock, so
// that Use may be called from under a shared map lock.
type Policy interface {
	// Create is called on first insert of an entry and returns its
	// bookkeeping record.
	Create(id transfer.Fingerprint, size int64) PolicyData

	// Destroy is called when an entry is evicted or purged.
	Destroy(id transfer.Fingerprint, data PolicyData)

	// Use marks the entry as touched.
	Use(id transfer.Fingerprint, data PolicyData)

	// UseAndUpdate touches the entry and records its new size, adjusting
	// the policy's occupancy total.
	UseAndUpdate(id transfer.Fingerprint, data PolicyData, newSize int64)

	// AllocateSpace frees at least required bytes by erasing victims
	// through the evictor. It returns false iff required alone exceeds
	// the budget, in which case nothing is evicted and the caller must
	// not insert.
	AllocateSpace(required int64, evict Evictor) bool

	// Budget returns the layer's byte budget. Layers consult it for
	// admission: an entry that alone would exceed the budget is never
	// cached.
	Budget() int64
}
