// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"runtime"
	"sync/atomic"
)

// chunk is a fixed-capacity backing buffer plus an atomic reference count.
// The count is initialised to capacity+1: the extra token represents
// ownership by the Pool that carved it, released when the pool abandons the
// chunk (rotation, or the pool itself being cleared). When the count
// reaches zero the chunk is returned to its owning cache.
type chunk struct {
	data   []byte
	refs   atomic.Int32
	cache  *chunkCache // non-owning: used only to return the chunk on release
	direct bool        // backed by an OS-page mapping rather than the Go heap
}

func newChunk(size int, cache *chunkCache, direct bool) *chunk {
	c := &chunk{
		cache:  cache,
		direct: direct,
	}
	if direct {
		c.data = allocDirect(size)
		runtime.SetFinalizer(c, (*chunk).finalize)
	} else {
		c.data = make([]byte, size)
	}
	c.refs.Store(int32(size) + 1)
	return c
}

// finalize unmaps a direct chunk's backing memory once it becomes
// unreachable — the only release point for OS-page-backed buffers, since
// nothing else in the pool ever frees chunk.data explicitly.
func (c *chunk) finalize() {
	if c.direct {
		freeDirect(c.data)
	}
}

// release subtracts n bytes worth of reservation from the chunk's
// refcount. When the count reaches zero the chunk is recycled into its
// cache (if any) or simply dropped.
func (c *chunk) release(n int32) {
	if c.refs.Add(-n) == 0 {
		if c.cache != nil {
			c.cache.put(c)
		}
	}
}

// reset prepares a recycled chunk for reuse by an allocator with a fresh
// reservation count.
func (c *chunk) reset(size int) {
	c.refs.Store(int32(size) + 1)
}
