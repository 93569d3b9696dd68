// Package network provides the terminal cache layer: it resolves
// fingerprints to their origin and fetches byte ranges through a
// range-capable Fetcher, deduplicating concurrent requests per asset.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meigma/transfer"
)

// Fetcher retrieves a byte range of an asset from its origin. A whole-file
// range fetches the entire body. Implementations return a DenseData
// positioned at the range start, marked as covering EOF when the fetched
// bytes reach the end of the asset.
type Fetcher interface {
	Fetch(ctx context.Context, uri transfer.URI, r transfer.Range) (*transfer.DenseData, error)
}

// Resolver maps a fingerprint to its origin locator.
type Resolver interface {
	Resolve(id transfer.Fingerprint) (transfer.URI, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(id transfer.Fingerprint) (transfer.URI, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(id transfer.Fingerprint) (transfer.URI, error) {
	return f(id)
}

// OriginResolver resolves fingerprints beneath a base URI: the asset's
// lowercase hex fingerprint becomes the final path segment. This is how
// content-addressed origins name their assets.
func OriginResolver(origin transfer.URI) Resolver {
	return ResolverFunc(func(id transfer.Fingerprint) (transfer.URI, error) {
		base := origin.Path()
		if base != "" {
			base += "/"
		}
		return transfer.NewURIInContext(origin, base+id.Hex()), nil
	})
}

// Transfer is the terminal CacheLayer. It holds no cached bytes: fetched
// data flows upstream and is captured by the caches above it.
//
// Concurrent requests for the same fingerprint share one in-flight fetch.
// Pending requests are guarded by their own mutex so that no lock is ever
// held across a callback or fetcher invocation.
type Transfer struct {
	fetcher  Fetcher
	resolver Resolver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[transfer.Fingerprint]*pendingRecord
	closed  bool

	nextMu sync.Mutex
	next   transfer.CacheLayer
}

var _ transfer.CacheLayer = (*Transfer)(nil)

type pendingRecord struct {
	requests []pendingRequest
}

type pendingRequest struct {
	r  transfer.Range
	cb transfer.Callback
}

// Option configures a Transfer.
type Option func(*Transfer)

// WithFetcher sets the fetcher used for origin requests.
func WithFetcher(fetcher Fetcher) Option {
	return func(t *Transfer) {
		t.fetcher = fetcher
	}
}

// WithResolver sets the fingerprint-to-origin resolver.
func WithResolver(resolver Resolver) Option {
	return func(t *Transfer) {
		t.resolver = resolver
	}
}

// WithOrigin is shorthand for WithResolver(OriginResolver(origin)).
func WithOrigin(origin transfer.URI) Option {
	return func(t *Transfer) {
		t.resolver = OriginResolver(origin)
	}
}

// WithLogger sets the logger used for fetch events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transfer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New returns a network transfer layer. A Fetcher and a Resolver (or
// origin) are required for it to serve anything; without them every
// request fails as a miss.
func New(opts ...Option) *Transfer {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transfer{
		logger:  slog.New(slog.DiscardHandler),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[transfer.Fingerprint]*pendingRecord),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(t)
	}
	return t
}

// GetData implements transfer.CacheLayer. If a fetch for id is already in
// flight the callback joins it instead of triggering a second origin
// request.
func (t *Transfer) GetData(id transfer.Fingerprint, r transfer.Range, cb transfer.Callback) {
	if t.fetcher == nil || t.resolver == nil {
		cb(nil)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cb(nil)
		return
	}
	if rec, ok := t.pending[id]; ok {
		rec.requests = append(rec.requests, pendingRequest{r: r, cb: cb})
		t.mu.Unlock()
		return
	}
	t.pending[id] = &pendingRecord{requests: []pendingRequest{{r: r, cb: cb}}}
	t.wg.Add(1)
	t.mu.Unlock()

	go t.fetch(id, r)
}

// fetch performs the origin request for id and completes every request
// that joined the pending record while it was in flight.
func (t *Transfer) fetch(id transfer.Fingerprint, r transfer.Range) {
	defer t.wg.Done()

	var d *transfer.DenseData
	uri, err := t.resolver.Resolve(id)
	if err != nil {
		t.logger.Warn("origin resolution failed",
			slog.String("fingerprint", id.Hex()), slog.Any("error", err))
	} else {
		d, err = t.fetcher.Fetch(t.ctx, uri, r)
		if err != nil {
			t.logger.Warn("fetch failed",
				slog.String("uri", uri.String()), slog.Any("error", err))
			d = nil
		}
	}

	// The hash can only be checked when the body is the complete asset.
	if d != nil && d.Start() == 0 && d.CoversEOF() && !id.Verify(d.Bytes()) {
		t.logger.Warn("discarding fetched content",
			slog.String("fingerprint", id.Hex()),
			slog.Any("error", fmt.Errorf("%s: %w", uri, transfer.ErrFingerprintMismatch)))
		d = nil
	}

	t.mu.Lock()
	rec := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if rec == nil {
		return
	}

	for _, req := range rec.requests {
		if d != nil && d.Range().Contains(req.r) {
			req.cb(transfer.SparseFromDense(d))
		} else {
			req.cb(nil)
		}
	}
}

// PurgeFromCache implements transfer.CacheLayer. The network layer caches
// nothing; purges only propagate.
func (t *Transfer) PurgeFromCache(id transfer.Fingerprint) {
	if next := t.Next(); next != nil {
		next.PurgeFromCache(id)
	}
}

// SetNext implements transfer.CacheLayer. The network layer is normally
// terminal; a next layer only receives purges.
func (t *Transfer) SetNext(next transfer.CacheLayer) {
	t.nextMu.Lock()
	defer t.nextMu.Unlock()
	t.next = next
}

// Next returns the next layer, or nil.
func (t *Transfer) Next() transfer.CacheLayer {
	t.nextMu.Lock()
	defer t.nextMu.Unlock()
	return t.next
}

// Close implements transfer.CacheLayer. In-flight fetches are cancelled;
// their pending callbacks all fire with nil before Close returns. A second
// Close returns transfer.ErrClosed.
func (t *Transfer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transfer.ErrClosed
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return nil
}
