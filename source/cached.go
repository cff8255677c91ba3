package source

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wippyai/asset-runtime/errors"
)

// Cached keeps whole raw objects from another Source in an LRU cache.
// Objects larger than the per-blob bound are streamed through uncached.
type Cached struct {
	src     Source
	cache   *lru.Cache[string, []byte]
	maxBlob int64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCached wraps src with a cache of at most entries objects of at most
// maxBlob bytes each. maxBlob <= 0 caches objects of any size.
func NewCached(src Source, entries int, maxBlob int64) (*Cached, error) {
	if src == nil {
		return nil, errors.NotInitialized(errors.PhaseSource, "source")
	}
	cache, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "cache size")
	}
	return &Cached{src: src, cache: cache, maxBlob: maxBlob}, nil
}

// Open serves name from the cache or the underlying source.
func (c *Cached) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if b, ok := c.cache.Get(name); ok {
		c.hits.Add(1)
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	c.misses.Add(1)

	rc, err := c.src.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	r := io.Reader(rc)
	if c.maxBlob > 0 {
		r = io.LimitReader(rc, c.maxBlob+1)
	}
	head, err := io.ReadAll(r)
	if err != nil {
		rc.Close()
		return nil, errors.IO(errors.PhaseSource, "read "+name, err)
	}

	if c.maxBlob > 0 && int64(len(head)) > c.maxBlob {
		return struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), rc), rc}, nil
	}

	rc.Close()
	c.cache.Add(name, head)
	return io.NopCloser(bytes.NewReader(head)), nil
}

// Invalidate drops name so the next Open reads it from the source again.
func (c *Cached) Invalidate(name string) {
	c.cache.Remove(name)
}

// Purge empties the cache.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached objects.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
