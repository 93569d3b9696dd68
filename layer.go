package transfer

import "errors"

// Callback receives the result of a GetData request. A nil SparseData
// means no layer in the chain could supply the requested range. Callbacks
// are invoked exactly once, on an arbitrary goroutine, with no layer lock
// held; they may re-enter the cache chain.
type Callback func(*SparseData)

// CacheLayer is one node of the chain-of-responsibility cache hierarchy.
// A layer answers requests from its local store when it can, and otherwise
// forwards them to the next (slower) layer, caching returned bytes on the
// way back up.
type CacheLayer interface {
	// GetData requests the given byte range of an asset. The callback may
	// fire synchronously or asynchronously; callers must not assume either.
	GetData(id Fingerprint, r Range, cb Callback)

	// PurgeFromCache removes the asset from this layer and every layer
	// below it. Purging an absent entry is not an error.
	PurgeFromCache(id Fingerprint)

	// SetNext replaces the next (slower) layer. A nil next makes this the
	// terminal layer: requests it cannot serve locally fail with cb(nil).
	SetNext(next CacheLayer)

	// Close flushes pending work and releases the layer's resources. It
	// does not return while any accepted callback remains unfired. The
	// layer must not be used after Close.
	Close() error
}

// CloseChain closes every layer in the order given, continuing past
// failures, and returns all Close errors joined. Layers are passed fastest
// first, so the top of the chain closes first.
func CloseChain(layers ...CacheLayer) error {
	var errs []error
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Chain owns a linked sequence of cache layers and tears them down in the
// reverse of construction order: layers are built slowest first, so the
// fastest layer closes first, after which nothing feeds the layers below
// it.
type Chain struct {
	layers []CacheLayer
}

// NewChain links the given layers, fastest first: each layer's next is set
// to the one following it and the final layer becomes terminal. Nil
// entries are skipped.
func NewChain(layers ...CacheLayer) *Chain {
	c := &Chain{layers: make([]CacheLayer, 0, len(layers))}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		c.layers = append(c.layers, layer)
	}
	for i, layer := range c.layers {
		if i+1 < len(c.layers) {
			layer.SetNext(c.layers[i+1])
		} else {
			layer.SetNext(nil)
		}
	}
	return c
}

// Top returns the fastest layer, where requests enter the chain.
func (c *Chain) Top() CacheLayer {
	if len(c.layers) == 0 {
		return nil
	}
	return c.layers[0]
}

// GetData requests the range from the top of the chain. An empty chain
// fails the callback immediately.
func (c *Chain) GetData(id Fingerprint, r Range, cb Callback) {
	top := c.Top()
	if top == nil {
		cb(nil)
		return
	}
	top.GetData(id, r, cb)
}

// PurgeFromCache removes the asset from every layer.
func (c *Chain) PurgeFromCache(id Fingerprint) {
	if top := c.Top(); top != nil {
		top.PurgeFromCache(id)
	}
}

// Close closes every layer, fastest first.
func (c *Chain) Close() error {
	return CloseChain(c.layers...)
}
