package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/transfer"
)

// LookupResult is a resolved name: the asset's fingerprint and its
// canonical locator.
type LookupResult struct {
	Fingerprint transfer.Fingerprint
	URI         transfer.URI
}

// NameLookup translates an opaque user-facing URI to a fingerprint. The
// origin answers a GET for the name with a (possibly relative) URI whose
// filename is the asset's hex fingerprint.
type NameLookup struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewNameLookup returns a name lookup backed by the given fetcher.
func NewNameLookup(fetcher Fetcher, opts ...LookupOption) *NameLookup {
	l := &NameLookup{
		fetcher: fetcher,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(l)
	}
	return l
}

// LookupOption configures a NameLookup.
type LookupOption func(*NameLookup)

// WithLookupLogger sets the logger used for lookup failures.
func WithLookupLogger(logger *slog.Logger) LookupOption {
	return func(l *NameLookup) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Lookup fetches the name and parses the response. On any failure the
// zero result is returned along with the error.
func (l *NameLookup) Lookup(ctx context.Context, uri transfer.URI) (LookupResult, error) {
	d, err := l.fetcher.Fetch(ctx, uri, transfer.WholeFile())
	if err != nil {
		l.logger.Warn("name lookup fetch failed",
			slog.String("uri", uri.String()), slog.Any("error", err))
		return LookupResult{}, fmt.Errorf("name lookup %s: %w", uri, err)
	}

	body := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(d.Bytes()))

	var resolved transfer.URI
	if strings.Contains(body, "://") {
		resolved = transfer.NewURI(body)
	} else {
		resolved = transfer.NewURIInContext(uri, body)
	}

	fp, err := resolved.Fingerprint()
	if err != nil {
		l.logger.Warn("name lookup response is not a fingerprint",
			slog.String("uri", uri.String()),
			slog.String("response", body))
		return LookupResult{}, fmt.Errorf("name lookup %s: %w", uri, err)
	}
	return LookupResult{Fingerprint: fp, URI: resolved}, nil
}

// CachedNameLookup memoizes lookup results per URI and collapses
// concurrent lookups for the same name into one origin request.
type CachedNameLookup struct {
	lookup *NameLookup

	mu      sync.RWMutex
	results map[string]LookupResult

	group singleflight.Group
}

// NewCachedNameLookup wraps a NameLookup with a result cache.
func NewCachedNameLookup(lookup *NameLookup) *CachedNameLookup {
	return &CachedNameLookup{
		lookup:  lookup,
		results: make(map[string]LookupResult),
	}
}

// Lookup returns the cached result when present, deduplicating concurrent
// misses per name. Failed lookups are not cached.
func (c *CachedNameLookup) Lookup(ctx context.Context, uri transfer.URI) (LookupResult, error) {
	key := uri.String()

	c.mu.RLock()
	res, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		return res, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		res, ok := c.results[key]
		c.mu.RUnlock()
		if ok {
			return res, nil
		}

		res, err := c.lookup.Lookup(ctx, uri)
		if err != nil {
			return LookupResult{}, err
		}

		c.mu.Lock()
		c.results[key] = res
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return LookupResult{}, err
	}
	return v.(LookupResult), nil
}

// AddToCache seeds a lookup result, bypassing the origin.
func (c *CachedNameLookup) AddToCache(name transfer.URI, res LookupResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[name.String()] = res
}

// ErrNoOrigin is returned by LookupResolver for fingerprints no recorded
// lookup has named.
var ErrNoOrigin = errors.New("no origin recorded for fingerprint")

// LookupResolver resolves fingerprints to the canonical URIs discovered by
// name lookups. Record each LookupResult as it arrives; assets whose names
// were never looked up fall back to the optional base resolver.
type LookupResolver struct {
	mu       sync.RWMutex
	uris     map[transfer.Fingerprint]transfer.URI
	fallback Resolver
}

var _ Resolver = (*LookupResolver)(nil)

// NewLookupResolver returns an empty resolver. The fallback may be nil.
func NewLookupResolver(fallback Resolver) *LookupResolver {
	return &LookupResolver{
		uris:     make(map[transfer.Fingerprint]transfer.URI),
		fallback: fallback,
	}
}

// Record remembers a lookup result's fingerprint-to-origin binding.
// Results with a zero fingerprint are ignored.
func (l *LookupResolver) Record(res LookupResult) {
	if res.Fingerprint.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uris[res.Fingerprint] = res.URI
}

// Resolve implements Resolver.
func (l *LookupResolver) Resolve(id transfer.Fingerprint) (transfer.URI, error) {
	l.mu.RLock()
	uri, ok := l.uris[id]
	l.mu.RUnlock()
	if ok {
		return uri, nil
	}
	if l.fallback != nil {
		return l.fallback.Resolve(id)
	}
	return transfer.URI{}, fmt.Errorf("%w: %s", ErrNoOrigin, id)
}
