// Package transfer provides a content-distribution client that fetches
// immutable, content-addressed assets from remote origins and serves
// arbitrary byte ranges from a layered local cache hierarchy.
//
// Assets are identified by a [Fingerprint], the SHA-256 digest of their
// content. Because identity is the content hash, cache hits are implicitly
// verified and two byte sequences with the same fingerprint are the same
// asset for all purposes.
//
// # Cache hierarchy
//
// Caches are arranged as a chain of [CacheLayer] nodes, fastest first.
// A typical chain is memory, then disk, then the network:
//
//	fetcher := transferhttp.NewFetcher()
//	net := network.New(network.WithOrigin(origin), network.WithFetcher(fetcher))
//	disk, err := disk.New(cache.NewLRU(1<<30), cacheDir, disk.WithNext(net))
//	if err != nil {
//	    return err
//	}
//	mem := memory.New(cache.NewLRU(64<<20), memory.WithNext(disk))
//	defer transfer.CloseChain(mem, disk, net)
//
//	mem.GetData(fp, transfer.WholeFile(), func(sd *transfer.SparseData) {
//	    ...
//	})
//
// Each layer answers what it can from local state and forwards the rest to
// the next layer, caching returned bytes on the way back up. A nil
// [SparseData] delivered to the callback means no layer could supply the
// requested range.
//
// # Sparse data
//
// Partially downloaded assets are represented by [SparseData], an ordered
// set of disjoint [DenseData] fragments. Overlapping or adjacent fragments
// coalesce on insertion, so a fully warmed cache holds a single fragment
// per asset.
package transfer
