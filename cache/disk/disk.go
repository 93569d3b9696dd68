// Package disk provides the disk-backed cache layer. Each asset's cached
// fragments live in one file named after the hex fingerprint; the layer
// keeps only range metadata in memory and reads fragment bodies on demand.
package disk

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/transfer"
	"github.com/meigma/transfer/cache"
)

// fileSuffix is appended to the hex fingerprint to form cache file names.
const fileSuffix = ".part"

// Cache is a disk-backed CacheLayer.
type Cache struct {
	entries *cache.Map[*entry]
	store   BlobStore
	budget  int64
	logger  *slog.Logger

	wg      sync.WaitGroup
	closing atomic.Bool

	mu   sync.Mutex
	next transfer.CacheLayer
}

var _ transfer.CacheLayer = (*Cache)(nil)

// entry is the in-memory metadata for one cache file. Entries are
// immutable once published into the map; updates replace the whole value.
type entry struct {
	filename string
	frags    []fragMeta
}

func (e *entry) covering(r transfer.Range) (fragMeta, bool) {
	for _, m := range e.frags {
		if m.rng().Contains(r) {
			return m, true
		}
	}
	return fragMeta{}, false
}

func (e *entry) size() int64 {
	var total int64
	for _, m := range e.frags {
		total += m.length
	}
	return total
}

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

// WithStore substitutes the blob store used for file I/O. The dir argument
// of New is ignored when a store is supplied.
func WithStore(store BlobStore) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// New returns a disk cache rooted at dir, rebuilding its index from the
// files already present. Fragment bodies are not loaded during the scan.
func New(policy cache.Policy, dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		budget: policy.Budget(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.store == nil {
		store, err := NewFSStore(dir)
		if err != nil {
			return nil, err
		}
		c.store = store
	}
	c.entries = cache.NewMap[*entry](policy, c.destroyEntry)

	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadIndex scans the store directory and registers every well-formed
// cache file.
func (c *Cache) loadIndex() error {
	names, err := c.store.List()
	if err != nil {
		return err
	}

	type scanned struct {
		id    transfer.Fingerprint
		entry *entry
	}
	results := make([]*scanned, len(names))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		hex, ok := strings.CutSuffix(name, fileSuffix)
		if !ok {
			continue
		}
		id, err := transfer.ParseFingerprint(hex)
		if err != nil {
			continue
		}
		g.Go(func() error {
			metas, err := scanFragments(c.store, name)
			if err != nil || len(metas) == 0 {
				c.logger.Warn("skipping unreadable cache file",
					slog.String("file", name), slog.Any("error", err))
				return nil
			}
			results[i] = &scanned{id: id, entry: &entry{filename: name, frags: metas}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := c.entries.Writer()
	defer w.Release()
	for _, s := range results {
		if s == nil {
			continue
		}
		size := s.entry.size()
		if size > c.budget || !w.Alloc(size) {
			continue
		}
		if w.Insert(s.id, s.entry, size) {
			w.Update(s.id, size)
		}
	}
	return nil
}

// GetData implements transfer.CacheLayer.
func (c *Cache) GetData(id transfer.Fingerprint, r transfer.Range, cb transfer.Callback) {
	if c.closing.Load() {
		cb(nil)
		return
	}

	reader := c.entries.Reader()
	if e, ok := reader.Find(id); ok {
		if m, covered := e.covering(r); covered {
			reader.Use(id)
			reader.Release()
			c.serveHit(id, e.filename, m, r, cb)
			return
		}
		// A whole-file request against a single fragment starting at
		// zero: the fragment may be the complete asset cached before a
		// restart, which only the content hash can prove.
		if r.IsWholeFile() && len(e.frags) == 1 &&
			e.frags[0].start == 0 && !e.frags[0].eof && r.Start() < e.frags[0].length {
			reader.Use(id)
			reader.Release()
			c.verifyAndServe(id, e.filename, e.frags[0], r, cb)
			return
		}
	}
	reader.Release()
	c.forwardMiss(id, r, cb)
}

// serveHit reads the requested bytes from the covering fragment on a
// worker goroutine.
func (c *Cache) serveHit(id transfer.Fingerprint, name string, m fragMeta, r transfer.Range, cb transfer.Callback) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		dataEnd := m.start + m.length
		start := max(r.Start(), m.start)
		end := dataEnd
		if !r.IsWholeFile() {
			end = min(r.End(), dataEnd)
		}

		body, err := c.store.Read(name, m.fileOff+(start-m.start), end-start)
		if err != nil || int64(len(body)) < end-start {
			c.logger.Warn("cache file read failed, evicting entry",
				slog.String("fingerprint", id.Hex()), slog.Any("error", err))
			c.evict(id)
			c.forwardMiss(id, r, cb)
			return
		}

		var d *transfer.DenseData
		if m.eof && end == dataEnd {
			d = transfer.NewWholeFileData(start, body)
		} else {
			d = transfer.NewDenseData(start, body)
		}
		cb(transfer.SparseFromDense(d))
	}()
}

// verifyAndServe loads a zero-based fragment in full and serves the
// whole-file request if the bytes hash to the fingerprint. A mismatch
// means the fragment is partial content, which falls through to the next
// layer.
func (c *Cache) verifyAndServe(id transfer.Fingerprint, name string, m fragMeta, r transfer.Range, cb transfer.Callback) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		body, err := c.store.Read(name, m.fileOff, m.length)
		if err != nil || int64(len(body)) < m.length {
			c.logger.Warn("cache file read failed, evicting entry",
				slog.String("fingerprint", id.Hex()), slog.Any("error", err))
			c.evict(id)
			c.forwardMiss(id, r, cb)
			return
		}
		if !id.Verify(body) {
			c.forwardMiss(id, r, cb)
			return
		}

		// Remember the proof so later whole-file hits skip the hash.
		verified := &entry{
			filename: name,
			frags:    []fragMeta{{start: m.start, length: m.length, fileOff: m.fileOff, eof: true}},
		}
		w := c.entries.Writer()
		w.Replace(id, verified)
		w.Release()

		cb(transfer.SparseFromDense(transfer.NewWholeFileData(r.Start(), body[r.Start():])))
	}()
}

func (c *Cache) forwardMiss(id transfer.Fingerprint, r transfer.Range, cb transfer.Callback) {
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

// populate merges downstream bytes into the asset's cache file and
// rewrites it atomically. Write failures drop the insertion and pass the
// data through.
func (c *Cache) populate(id transfer.Fingerprint, r transfer.Range, incoming *transfer.SparseData) *transfer.SparseData {
	if c.closing.Load() {
		return incoming
	}

	w := c.entries.Writer()
	defer w.Release()

	name := id.Hex() + fileSuffix
	cur := transfer.NewSparseData()
	e, existed := w.Find(id)
	if existed {
		name = e.filename
		loaded, err := loadSparse(c.store, name, e.frags)
		if err == nil {
			cur = loaded
		}
	}

	old := cur.Size()
	for _, f := range incoming.Fragments() {
		cur.Insert(f)
	}
	newTotal := cur.Size()
	delta := newTotal - old

	if !existed {
		w.Insert(id, &entry{filename: name}, 0)
	}
	w.Use(id)

	if newTotal > c.budget || (delta > 0 && !w.Alloc(delta)) {
		if !existed {
			w.Erase(id)
		}
		c.logger.Debug("fill exceeds cache budget, not caching",
			slog.String("fingerprint", id.Hex()),
			slog.Int64("size", newTotal))
		return incoming
	}

	encoded, metas := encodeFragments(cur)
	if err := c.store.WriteAtomic(name, encoded); err != nil {
		c.logger.Warn("cache file write failed, dropping fill",
			slog.String("fingerprint", id.Hex()), slog.Any("error", err))
		if !existed {
			w.Erase(id)
		}
		return incoming
	}

	w.Replace(id, &entry{filename: name, frags: metas})
	w.Update(id, newTotal)

	if cur.Contains(r) {
		return cur.Snapshot()
	}
	return incoming
}

// evict removes an entry whose backing file failed to read.
func (c *Cache) evict(id transfer.Fingerprint) {
	w := c.entries.Writer()
	w.Erase(id)
	w.Release()
}

// destroyEntry is the map's per-entry teardown hook. Eviction and purge
// delete the backing file; entries released during Close keep theirs for
// the next run.
func (c *Cache) destroyEntry(id transfer.Fingerprint, e *entry) {
	if c.closing.Load() {
		return
	}
	if err := c.store.Delete(e.filename); err != nil {
		c.logger.Warn("cache file delete failed",
			slog.String("fingerprint", id.Hex()), slog.Any("error", err))
	}
}

// PurgeFromCache implements transfer.CacheLayer.
func (c *Cache) PurgeFromCache(id transfer.Fingerprint) {
	c.evict(id)
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

// Close implements transfer.CacheLayer. It waits for in-flight disk jobs
// and drops the index, leaving cache files in place for the next run. A
// second Close returns transfer.ErrClosed.
func (c *Cache) Close() error {
	if c.closing.Swap(true) {
		return transfer.ErrClosed
	}
	c.wg.Wait()
	c.entries.Close()
	return nil
}
