package network

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/transfer"
	"github.com/meigma/transfer/internal/testutil"
)

func TestNameLookup(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fp := transfer.ComputeFingerprint([]byte("the asset"))

	// The origin answers the name with a relative URI whose filename is
	// the hex fingerprint, padded with whitespace.
	fetcher.AddNamed("duck.mesh", []byte("  content/"+fp.Hex()+"\r\n"))

	lookup := NewNameLookup(fetcher)
	res, err := lookup.Lookup(context.Background(), transfer.NewURI("http://example.com/names/duck.mesh"))
	require.NoError(t, err)
	assert.Equal(t, fp, res.Fingerprint)
	assert.Equal(t, "http://example.com/content/"+fp.Hex(), res.URI.String())
}

func TestNameLookupAbsoluteResponse(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fp := transfer.ComputeFingerprint([]byte("elsewhere"))
	fetcher.AddNamed("name", []byte("http://cdn.example.net/assets/"+fp.Hex()))

	lookup := NewNameLookup(fetcher)
	res, err := lookup.Lookup(context.Background(), transfer.NewURI("http://example.com/name"))
	require.NoError(t, err)
	assert.Equal(t, fp, res.Fingerprint)
	assert.Equal(t, "http://cdn.example.net", res.URI.Context())
}

func TestNameLookupFetchFailure(t *testing.T) {
	t.Parallel()

	lookup := NewNameLookup(testutil.NewFetcher())
	res, err := lookup.Lookup(context.Background(), transfer.NewURI("http://example.com/missing"))
	require.ErrorIs(t, err, testutil.ErrNotFound)
	assert.True(t, res.Fingerprint.IsZero())
	assert.True(t, res.URI.IsZero())
}

func TestNameLookupParseFailure(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fetcher.AddNamed("name", []byte("content/not-a-fingerprint"))

	lookup := NewNameLookup(fetcher)
	res, err := lookup.Lookup(context.Background(), transfer.NewURI("http://example.com/name"))
	require.ErrorIs(t, err, transfer.ErrInvalidFingerprint)
	assert.True(t, res.Fingerprint.IsZero())
}

func TestCachedNameLookupMemoizes(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fp := transfer.ComputeFingerprint([]byte("cached"))
	fetcher.AddNamed("name", []byte("content/"+fp.Hex()))

	cached := NewCachedNameLookup(NewNameLookup(fetcher))
	uri := transfer.NewURI("http://example.com/name")

	for range 3 {
		res, err := cached.Lookup(context.Background(), uri)
		require.NoError(t, err)
		assert.Equal(t, fp, res.Fingerprint)
	}
	assert.Equal(t, int64(1), fetcher.Fetches())
}

func TestCachedNameLookupDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fetcher.Err = errors.New("origin down")

	cached := NewCachedNameLookup(NewNameLookup(fetcher))
	uri := transfer.NewURI("http://example.com/name")

	_, err := cached.Lookup(context.Background(), uri)
	require.Error(t, err)

	// The origin recovers; the next lookup succeeds.
	fetcher.Err = nil
	fp := transfer.ComputeFingerprint([]byte("recovered"))
	fetcher.AddNamed("name", []byte("content/"+fp.Hex()))

	res, err := cached.Lookup(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, fp, res.Fingerprint)
}

func TestCachedNameLookupDedupesConcurrent(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fetcher.Gate = make(chan struct{})
	fp := transfer.ComputeFingerprint([]byte("popular"))
	fetcher.AddNamed("name", []byte("content/"+fp.Hex()))

	cached := NewCachedNameLookup(NewNameLookup(fetcher))
	uri := transfer.NewURI("http://example.com/name")

	var wg sync.WaitGroup
	results := make([]LookupResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cached.Lookup(context.Background(), uri)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	close(fetcher.Gate)
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, fp, res.Fingerprint)
	}
	assert.Equal(t, int64(1), fetcher.Fetches())
}

func TestLookupResolver(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	fp := transfer.ComputeFingerprint([]byte("looked up"))
	fetcher.AddNamed("duck.mesh", []byte("content/"+fp.Hex()))

	lookup := NewNameLookup(fetcher)
	resolver := NewLookupResolver(nil)

	// Before any lookup the fingerprint has no known origin.
	_, err := resolver.Resolve(fp)
	require.ErrorIs(t, err, ErrNoOrigin)

	res, err := lookup.Lookup(context.Background(), transfer.NewURI("http://example.com/names/duck.mesh"))
	require.NoError(t, err)
	resolver.Record(res)

	uri, err := resolver.Resolve(fp)
	require.NoError(t, err)
	assert.Equal(t, res.URI, uri)
}

func TestLookupResolverFallback(t *testing.T) {
	t.Parallel()

	base := transfer.NewURI("http://fallback.example.com/")
	resolver := NewLookupResolver(OriginResolver(base))

	fp := transfer.ComputeFingerprint([]byte("never looked up"))
	uri, err := resolver.Resolve(fp)
	require.NoError(t, err)
	assert.Equal(t, "http://fallback.example.com/"+fp.Hex(), uri.String())

	// A recorded lookup overrides the fallback.
	named := transfer.NewURI("http://cdn.example.net/assets/" + fp.Hex())
	resolver.Record(LookupResult{Fingerprint: fp, URI: named})
	uri, err = resolver.Resolve(fp)
	require.NoError(t, err)
	assert.Equal(t, named, uri)
}

func TestLookupResolverIgnoresZeroFingerprint(t *testing.T) {
	t.Parallel()

	resolver := NewLookupResolver(nil)
	resolver.Record(LookupResult{URI: transfer.NewURI("http://example.com/x")})

	_, err := resolver.Resolve(transfer.Fingerprint{})
	require.ErrorIs(t, err, ErrNoOrigin)
}

func TestLookupResolverDrivesTransfer(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	content := []byte("resolved through a name lookup")
	fp := fetcher.Add(content)
	fetcher.AddNamed("asset.name", []byte("content/"+fp.Hex()))

	lookup := NewNameLookup(fetcher)
	resolver := NewLookupResolver(nil)
	res, err := lookup.Lookup(context.Background(), transfer.NewURI("http://example.com/names/asset.name"))
	require.NoError(t, err)
	resolver.Record(res)

	n := New(WithFetcher(fetcher), WithResolver(resolver))
	defer n.Close()

	cb, ch := testutil.Callback()
	n.GetData(fp, transfer.WholeFile(), cb)
	sd := testutil.Await(t, ch)
	require.NotNil(t, sd)

	got, err := sd.ReadRange(transfer.WholeFile())
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCachedNameLookupSeed(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewFetcher()
	cached := NewCachedNameLookup(NewNameLookup(fetcher))

	fp := transfer.ComputeFingerprint([]byte("seeded"))
	name := transfer.NewURI("http://example.com/seeded-name")
	cached.AddToCache(name, LookupResult{Fingerprint: fp, URI: name})

	res, err := cached.Lookup(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, fp, res.Fingerprint)
	assert.Zero(t, fetcher.Fetches())
}