// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrInvalidSize is returned when Alloc is called with a non-positive size
// or with minSize > size.
var ErrInvalidSize = errors.New("pool: invalid size")

// sentinelState marks the pool's state word as "switching chunks, retry".
const sentinelState = ^uint32(0)

// roundUp4 rounds n up to the next multiple of 4, the buffer pool's
// alignment unit.
func roundUp4(n int) int32 {
	return int32((n + 3) &^ 3)
}

// Buffer is an immutable (chunk, offset, size) view into a pooled chunk —
// the engine's "PooledBuffer" / slice. It carries its own reference count,
// independent of the chunk's, and is safe to Retain/Release concurrently.
type Buffer struct {
	ch       *chunk
	offset   int32
	size     int32
	reserved int32
	refs     atomic.Int32
}

func newBuffer(ch *chunk, offset, size, reserved int32) *Buffer {
	b := &Buffer{ch: ch, offset: offset, size: size, reserved: reserved}
	b.refs.Store(1)
	return b
}

// Bytes returns the logical view of this buffer. The slice is only valid
// while the caller holds a reference (i.e. between Retain and the matching
// Release).
func (b *Buffer) Bytes() []byte {
	return b.ch.data[b.offset : b.offset+b.size]
}

// Size returns the logical size requested by the allocator.
func (b *Buffer) Size() int { return int(b.size) }

// Truncate shrinks the buffer's logical view to n bytes — used when a read
// filled fewer bytes than were reserved (e.g. a short socket read into a
// full chunk-sized allocation). It must only be called while the caller
// holds the buffer's sole reference, before handing it to a listener or
// another goroutine; it never changes the reserved byte count returned to
// the chunk on Release.
func (b *Buffer) Truncate(n int) {
	if int32(n) < b.size {
		b.size = int32(n)
	}
}

// Reserved returns the number of chunk bytes this buffer holds reserved —
// always a multiple of 4 and >= Size().
func (b *Buffer) Reserved() int { return int(b.reserved) }

// Retain adds a reference. Callers that hand the buffer to another
// goroutine (e.g. a session listener that queues it for later use) must
// Retain before doing so and Release when finished.
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release drops a reference. On the final release the reserved bytes are
// returned to the owning chunk, which itself recycles to its chunkCache
// once every outstanding reservation (including the pool's own) is gone.
func (b *Buffer) Release() {
	if b.refs.Add(-1) == 0 {
		b.ch.release(b.reserved)
	}
}

// Pool is the slab/bump allocator described in spec.md §4.B: a single
// atomic state word whose value modulo the chunk size is the in-chunk
// offset, making the hot allocation path entirely CAS-based. The word grows
// with each allocation from the current chunk and is reset (to the chunk
// size, or to the first reservation) whenever the pool rotates chunks.
// Rotation between chunks is serialised by parking the state word on the
// sentinel value while the new chunk is being fetched.
type Pool struct {
	chunkSize int32
	direct    bool
	cache     *chunkCache
	current   atomic.Pointer[chunk]
	state     atomic.Uint32
}

// PoolOptions carries allocation-strategy knobs that don't affect the
// CAS bump-allocator algorithm itself, only how a chunk's backing memory
// is obtained — currently just Direct (EmitterConfig.UseDirectBuffers).
type PoolOptions struct {
	// Direct backs every chunk with an OS-page mapping (via mmap on linux)
	// instead of a Go-heap slice.
	Direct bool
}

// NewPool creates a buffer pool carving chunkSize-byte chunks, with a
// backing chunkCache prefilled with prefill chunks and bounded to at most
// maxRetained idle chunks.
func NewPool(chunkSize, prefill, maxRetained int) *Pool {
	return NewPoolWithOptions(chunkSize, prefill, maxRetained, PoolOptions{})
}

// NewPoolWithOptions is NewPool with explicit allocation-strategy options.
func NewPoolWithOptions(chunkSize, prefill, maxRetained int, opts PoolOptions) *Pool {
	cache := newChunkCache(chunkSize, prefill, maxRetained, opts.Direct)
	p := &Pool{
		chunkSize: int32(chunkSize),
		direct:    opts.Direct,
		cache:     cache,
	}
	first := cache.get(chunkSize)
	p.current.Store(first)
	p.state.Store(0)
	return p
}

// ChunkSize returns the fixed chunk size this pool carves its buffers
// from — the block size a per-emitter DataBlockCache reads into.
func (p *Pool) ChunkSize() int { return int(p.chunkSize) }

// Alloc is shorthand for AllocRange(size, size).
func (p *Pool) Alloc(size int) (*Buffer, error) {
	return p.AllocRange(size, size)
}

// AllocRange returns a buffer of at least minSize and at most size bytes,
// four-byte aligned, per the seven cases of spec.md §4.B.
func (p *Pool) AllocRange(size, minSize int) (*Buffer, error) {
	if size <= 0 || minSize <= 0 || minSize > size {
		return nil, ErrInvalidSize
	}
	cs := p.chunkSize

	switch {
	case int32(size) == cs:
		return p.allocDedicated(size), nil // case 5
	case size > int(cs) && minSize <= int(cs):
		return p.rotateToFresh(minSize), nil // case 6
	case size > int(cs):
		return p.allocOversize(size), nil // case 7
	}

	// size < cs: the CAS bump loop, cases 1-4.
	for {
		st := p.state.Load()
		if st == sentinelState {
			runtime.Gosched()
			continue
		}
		cur := p.current.Load()
		offs := int32(st) % cs
		space := cs - offs
		rs := roundUp4(size)

		switch {
		case rs < space:
			newSt := addWithRebase(st, offs, rs)
			if p.state.CompareAndSwap(st, newSt) {
				return newBuffer(cur, offs, int32(size), rs), nil
			}
		case rs == space:
			if b, ok := p.rotateFromOutgoing(st, offs, space, int32(size), space); ok {
				return b, nil
			}
		case int32(minSize) <= space:
			if b, ok := p.rotateFromOutgoing(st, offs, space, space, space); ok {
				return b, nil
			}
		default:
			return p.rotateToFresh(size), nil
		}
	}
}

// addWithRebase applies increment to st, but rebases to offs+increment
// whenever that would overflow past 2^32 or collide with the sentinel —
// keeping the low "offset" bits correct while resetting the generation
// counter instead of wrapping into undefined territory (spec.md §4.B
// "Wraparound").
func addWithRebase(st uint32, offs, increment int32) uint32 {
	next := st + uint32(increment)
	if next == sentinelState || next < st {
		return uint32(offs) + uint32(increment)
	}
	return next
}

// rotateFromOutgoing implements the lock-and-rotate shape shared by cases
// 2 and 3: the returned slice is carved from the *outgoing* chunk's
// remaining space, and a fresh chunk is fetched and published for the next
// caller. ok is false if another goroutine won the race to lock the state
// word; the caller should retry its loop.
func (p *Pool) rotateFromOutgoing(st uint32, offs, space, logicalSize, reservedSize int32) (*Buffer, bool) {
	if !p.state.CompareAndSwap(st, sentinelState) {
		return nil, false
	}
	outgoing := p.current.Load()
	outgoing.release(1) // the pool's own "+1" token on the outgoing chunk

	fresh := p.cache.get(int(p.chunkSize))
	p.current.Store(fresh)
	p.state.Store(uint32(offs) + uint32(space)) // == cs mod cs == 0 on the new chunk

	return newBuffer(outgoing, offs, logicalSize, reservedSize), true
}

// rotateToFresh implements cases 4 and 6: the outgoing chunk's unused
// remainder (plus the pool's own token) is released outright, a fresh
// chunk is fetched, and the requested allocation is carved from its start.
func (p *Pool) rotateToFresh(size int) *Buffer {
	rs := roundUp4(size)
	for {
		st := p.state.Load()
		if st == sentinelState {
			runtime.Gosched()
			continue
		}
		if !p.state.CompareAndSwap(st, sentinelState) {
			continue
		}
		cs := p.chunkSize
		offs := int32(st) % cs
		space := cs - offs

		outgoing := p.current.Load()
		outgoing.release(space + 1)

		fresh := p.cache.get(int(cs))
		p.current.Store(fresh)
		p.state.Store(uint32(rs))

		return newBuffer(fresh, 0, int32(size), rs)
	}
}

// allocDedicated implements case 5: size == chunkSize takes a whole chunk
// out-of-band, without perturbing the pool's current rotation cursor. The
// chunk's own "+1" token is left intact, so a dedicated chunk is never
// returned to the free-list once released — it is simply collected once
// unreferenced (see spec.md §9 Open Questions: intentional, not a leak).
func (p *Pool) allocDedicated(size int) *Buffer {
	c := p.cache.get(size)
	return newBuffer(c, 0, int32(size), int32(size))
}

// TrimTo shrinks the backing chunk cache down to at most maxRetained idle
// chunks, used by the engine's periodic maintenance job (spec.md §4
// supplemented feature).
func (p *Pool) TrimTo(maxRetained int) {
	p.cache.trimTo(maxRetained)
}

// allocOversize implements case 7: requests larger than the chunk size
// with a minSize that also exceeds it get a private, uncached chunk sized
// exactly to the request. The pool's "+1" token is released immediately
// so the chunk dies with its single slice.
func (p *Pool) allocOversize(size int) *Buffer {
	c := newChunk(size, nil, p.direct)
	c.release(1)
	return newBuffer(c, 0, int32(size), int32(size))
}

// Clear drains the backing chunk cache, dropping every retained idle
// chunk. In-flight buffers are unaffected.
func (p *Pool) Clear() {
	p.cache.clear()
}

// CachedChunks returns the number of idle chunks currently retained in the
// backing cache — used by the pool-stress property tests in spec.md §8.
func (p *Pool) CachedChunks() int {
	return p.cache.size()
}
