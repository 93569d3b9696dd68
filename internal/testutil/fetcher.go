// Package testutil provides in-process collaborators for cache tests: a
// scripted origin fetcher and an in-memory blob store.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/meigma/transfer"
)

// ErrNotFound is returned by the scripted fetcher for unknown assets.
var ErrNotFound = errors.New("testutil: asset not found")

// Fetcher is a scripted origin: it serves ranges of in-memory assets
// keyed by the final path segment of the request URI. It counts fetches
// and can be delayed or made to serve corrupted bytes.
type Fetcher struct {
	mu     sync.Mutex
	assets map[string][]byte

	fetches atomic.Int64

	// Gate, when non-nil, blocks every fetch until the channel closes.
	Gate chan struct{}

	// Corrupt flips the first byte of every response body.
	Corrupt bool

	// Err, when non-nil, fails every fetch.
	Err error
}

// NewFetcher returns an empty scripted fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{assets: make(map[string][]byte)}
}

// Add registers content under its fingerprint and returns the fingerprint.
func (f *Fetcher) Add(content []byte) transfer.Fingerprint {
	fp := transfer.ComputeFingerprint(content)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[fp.Hex()] = content
	return fp
}

// AddNamed registers content under an arbitrary name, for name-lookup
// responses.
func (f *Fetcher) AddNamed(name string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[name] = content
}

// Fetches returns the number of origin requests served or failed.
func (f *Fetcher) Fetches() int64 {
	return f.fetches.Load()
}

// Fetch implements network.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, uri transfer.URI, r transfer.Range) (*transfer.DenseData, error) {
	f.fetches.Add(1)

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	content, ok := f.assets[uri.Filename()]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}

	body, eof, err := slice(content, r)
	if err != nil {
		return nil, err
	}
	if f.Corrupt && len(body) > 0 {
		body[0] ^= 0xff
	}
	if eof {
		return transfer.NewWholeFileData(r.Start(), body), nil
	}
	return transfer.NewDenseData(r.Start(), body), nil
}

func slice(content []byte, r transfer.Range) ([]byte, bool, error) {
	size := int64(len(content))
	if r.Start() > size {
		return nil, false, fmt.Errorf("range %v outside asset of %d bytes", r, size)
	}
	end := size
	if !r.IsWholeFile() {
		end = min(r.End(), size)
	}
	body := make([]byte, end-r.Start())
	copy(body, content[r.Start():end])
	return body, end == size, nil
}
