// Package memory provides the in-memory cache layer. It holds each
// asset's fragments as a SparseData and answers covered ranges without
// touching slower layers.
package memory

import (
	"log/slog"
	"sync"

	"github.com/meigma/transfer"
	"github.com/meigma/transfer/cache"
)

// Cache is an in-memory CacheLayer. Entry payloads are SparseData; the
// policy bounds the total number of cached bytes.
type Cache struct {
	entries *cache.Map[*transfer.SparseData]
	budget  int64
	logger  *slog.Logger

	mu     sync.Mutex
	next   transfer.CacheLayer
	closed bool
}

var _ transfer.CacheLayer = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithNext sets the next (slower) layer.
func WithNext(next transfer.CacheLayer) Option {
	return func(c *Cache) {
		c.next = next
	}
}

// WithLogger sets the logger used for cache events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a memory cache bounded by the given policy.
func New(policy cache.Policy, opts ...Option) *Cache {
	c := &Cache{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	// Fragment buffers are shared and reclaimed by the collector; no
	// per-entry teardown is needed.
	c.entries = cache.NewMap[*transfer.SparseData](policy, nil)
	c.budget = policy.Budget()
	return c
}

// GetData implements transfer.CacheLayer.
func (c *Cache) GetData(id transfer.Fingerprint, r transfer.Range, cb transfer.Callback) {
	if c.isClosed() {
		cb(nil)
		return
	}

	reader := c.entries.Reader()
	if sd, ok := reader.Find(id); ok && sd.Contains(r) {
		snap := sd.Snapshot()
		reader.Use(id)
		reader.Release()
		cb(snap)
		return
	}
	reader.Release()

	next := c.Next()
	if next == nil {
		cb(nil)
		return
	}
	next.GetData(id, r, func(sd *transfer.SparseData) {
		if sd == nil {
			cb(nil)
			return
		}
		cb(c.populate(id, r, sd))
	})
}

// populate inserts the fragments returned by a downstream layer and
// returns the view to deliver upstream. When the policy refuses the bytes
// the downstream data passes through unchanged.
func (c *Cache) populate(id transfer.Fingerprint, r transfer.Range, incoming *transfer.SparseData) *transfer.SparseData {
	w := c.entries.Writer()

	cur, existed := w.Find(id)
	if !existed {
		cur = transfer.NewSparseData()
		w.Insert(id, cur, 0)
	}
	// Keep the entry off the eviction tail while we grow it.
	w.Use(id)

	prev := cur.Snapshot()
	for _, f := range incoming.Fragments() {
		cur.Insert(f)
	}
	newTotal := cur.Size()
	delta := newTotal - prev.Size()

	if newTotal > c.budget || (delta > 0 && !w.Alloc(delta)) {
		// Too large to cache; undo the merge and pass the data through.
		if existed {
			w.Replace(id, prev)
		} else {
			w.Erase(id)
		}
		w.Release()
		c.logger.Debug("fill exceeds cache budget, not caching",
			slog.String("fingerprint", id.Hex()),
			slog.Int64("size", newTotal))
		return incoming
	}

	w.Update(id, newTotal)

	out := incoming
	if cur.Contains(r) {
		out = cur.Snapshot()
	}
	w.Release()
	return out
}

// PurgeFromCache implements transfer.CacheLayer.
func (c *Cache) PurgeFromCache(id transfer.Fingerprint) {
	w := c.entries.Writer()
	w.Erase(id)
	w.Release()

	if next := c.Next(); next != nil {
		next.PurgeFromCache(id)
	}
}

// SetNext implements transfer.CacheLayer.
func (c *Cache) SetNext(next transfer.CacheLayer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = next
}

// Next returns the next (slower) layer, or nil.
func (c *Cache) Next() transfer.CacheLayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements transfer.CacheLayer. The memory layer has no
// asynchronous work to flush. A second Close returns transfer.ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transfer.ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.entries.Close()
	return nil
}
