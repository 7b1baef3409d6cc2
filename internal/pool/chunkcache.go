// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

// chunkCache is a bounded free-list of same-sized chunks, built on
// ObjectCache. get either pops a retained chunk or allocates a new one;
// put either pushes the chunk back (if there is room) or lets it be
// garbage-collected.
type chunkCache struct {
	chunkSize int
	maxSize   int
	direct    bool
	free      *ObjectCache[chunk]
}

// newChunkCache creates a cache for chunks of chunkSize bytes, prefilled
// with prefill ready-to-use chunks and bounded to at most maxSize retained
// chunks. direct chunks are backed by an OS-page mapping instead of the Go
// heap (EmitterConfig.UseDirectBuffers).
func newChunkCache(chunkSize, prefill, maxSize int, direct bool) *chunkCache {
	if maxSize < 1 {
		maxSize = 1
	}
	cc := &chunkCache{
		chunkSize: chunkSize,
		maxSize:   maxSize,
		direct:    direct,
		free:      NewObjectCache[chunk](maxSize),
	}
	for i := 0; i < prefill && i < maxSize; i++ {
		c := newChunk(chunkSize, cc, direct)
		c.refs.Store(0) // idle in the cache: not yet claimed by any pool
		cc.free.Put(c)
	}
	return cc
}

// get pops a recycled chunk, resetting its refcount for a fresh size, or
// allocates a brand new one when the free-list is empty.
func (cc *chunkCache) get(size int) *chunk {
	if c := cc.free.Get(); c != nil {
		c.reset(size)
		return c
	}
	return newChunk(size, cc, cc.direct)
}

// put returns a fully-released chunk to the free-list, or drops it when the
// cache is already at its bound.
func (cc *chunkCache) put(c *chunk) {
	if cc.free.Len() >= cc.maxSize {
		return
	}
	cc.free.Put(c)
}

// size returns the number of retained, idle chunks — used by Pool.Clear and
// by tests asserting the pool stress invariants in spec.md §8.
func (cc *chunkCache) size() int {
	return cc.free.Len()
}

// clear drops every retained idle chunk.
func (cc *chunkCache) clear() {
	cc.free.Clear()
}

// trimTo discards idle chunks down to at most n retained, returning the
// excess to the runtime (and, for direct chunks, to the OS once their
// finalizer runs). Used by the engine's periodic maintenance job to shrink
// a cache back to its configured max-retained size after a burst.
func (cc *chunkCache) trimTo(n int) {
	for cc.free.Len() > n {
		if cc.free.Get() == nil {
			return
		}
	}
}
