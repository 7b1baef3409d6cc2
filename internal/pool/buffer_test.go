// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"math/rand"
	"sync"
	"testing"
)

const testChunkSize = 4096

func TestPool_AllocRoundTripSizes(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)

	b, err := p.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b.Size() != 100 {
		t.Errorf("expected size 100, got %d", b.Size())
	}
	if b.Reserved() != 100 { // already a multiple of 4
		t.Errorf("expected reserved 100, got %d", b.Reserved())
	}
	b.Release()
}

func TestPool_AllocRoundsUpToFour(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)
	b, err := p.Alloc(101)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b.Reserved() != 104 {
		t.Errorf("expected reserved 104, got %d", b.Reserved())
	}
	b.Release()
}

func TestPool_RetainReleaseLeavesChunkUnchanged(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)
	b, err := p.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := 0; i < 5; i++ {
		b.Retain()
	}
	for i := 0; i < 5; i++ {
		b.Release()
	}
	// Buffer still has its original reference; chunk must not have been
	// returned to the cache yet.
	if got := p.CachedChunks(); got != 0 {
		t.Errorf("expected 0 cached chunks before final release, got %d", got)
	}
	b.Release()
}

func TestPool_InvalidSize(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)
	if _, err := p.AllocRange(0, 0); err != ErrInvalidSize {
		t.Errorf("expected ErrInvalidSize for zero size, got %v", err)
	}
	if _, err := p.AllocRange(10, 20); err != ErrInvalidSize {
		t.Errorf("expected ErrInvalidSize for minSize > size, got %v", err)
	}
}

func TestPool_AllocChunkSizeTakesDedicatedChunk(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)

	before := p.current.Load()
	b, err := p.Alloc(testChunkSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if p.current.Load() != before {
		t.Error("expected the pool's current chunk to be untouched by a dedicated alloc")
	}
	if b.Size() != testChunkSize || b.Reserved() != testChunkSize {
		t.Errorf("expected a full-chunk slice, got size=%d reserved=%d", b.Size(), b.Reserved())
	}
	b.Release()
}

func TestPool_AllocOversizeWithSmallMinReturnsMinFromFreshChunk(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)

	b, err := p.AllocRange(testChunkSize*3, 100)
	if err != nil {
		t.Fatalf("AllocRange: %v", err)
	}
	if b.Size() != 100 {
		t.Errorf("expected size 100, got %d", b.Size())
	}
	if b.Reserved() != 100 {
		t.Errorf("expected reserved 100 (already 4-aligned), got %d", b.Reserved())
	}
	b.Release()
}

func TestPool_AllocOversizeWithLargeMinAllocatesOneOffChunk(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)

	size := testChunkSize * 2
	b, err := p.AllocRange(size, testChunkSize+1)
	if err != nil {
		t.Fatalf("AllocRange: %v", err)
	}
	if b.Size() != size || b.Reserved() != size {
		t.Errorf("expected a one-off chunk sized %d, got size=%d reserved=%d", size, b.Size(), b.Reserved())
	}
	b.Release()
	// One-off chunks have no owning cache: releasing must not grow it.
	if got := p.CachedChunks(); got != 0 {
		t.Errorf("expected one-off chunk release to not populate the pool's own cache, got %d", got)
	}
}

func TestPool_ClearDrainsBackingCache(t *testing.T) {
	p := NewPool(testChunkSize, 4, 8)
	// NewPool takes one prefilled chunk as its current chunk.
	if got := p.CachedChunks(); got != 3 {
		t.Fatalf("expected 3 idle chunks (prefill 4 minus the current chunk), got %d", got)
	}
	p.Clear()
	if got := p.CachedChunks(); got != 0 {
		t.Errorf("expected 0 idle chunks after Clear, got %d", got)
	}
}

func TestPool_TrimToShrinksCacheWithoutDroppingBelowTarget(t *testing.T) {
	p := NewPool(testChunkSize, 8, 8)
	// NewPool takes one prefilled chunk as its current chunk.
	if got := p.CachedChunks(); got != 7 {
		t.Fatalf("expected 7 idle chunks (prefill 8 minus the current chunk), got %d", got)
	}
	p.TrimTo(3)
	if got := p.CachedChunks(); got != 3 {
		t.Errorf("expected 3 idle chunks after TrimTo(3), got %d", got)
	}
	p.TrimTo(10) // already below target: no-op, never grows
	if got := p.CachedChunks(); got != 3 {
		t.Errorf("expected TrimTo above current size to be a no-op, got %d", got)
	}
}

func TestPool_DirectBuffersRoundTrip(t *testing.T) {
	p := NewPoolWithOptions(testChunkSize, 1, 4, PoolOptions{Direct: true})
	b, err := p.Alloc(128)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	buf := b.Bytes()
	buf[0] = 0xAB
	if buf[0] != 0xAB {
		t.Errorf("expected direct buffer to be writable, got %d", buf[0])
	}
	b.Release()
}

func TestPool_ChunkSizeReportsConfiguredSize(t *testing.T) {
	p := NewPool(testChunkSize, 1, 4)
	if got := p.ChunkSize(); got != testChunkSize {
		t.Errorf("expected ChunkSize %d, got %d", testChunkSize, got)
	}
}

// TestPool_StressConcurrentAllocRelease runs many concurrent alloc/release
// cycles over every allocation case, checking each buffer's size and that
// the idle chunk cache stays within maxRetained once everything is
// released. The idle count does not return to the initial prefill: the
// pool keeps its current chunk, and chunks taken by a chunk-sized Alloc are
// not put back into the cache.
func TestPool_StressConcurrentAllocRelease(t *testing.T) {
	const prefill = 4
	const maxRetained = 8
	p := NewPool(testChunkSize, prefill, maxRetained)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				size := 1 + r.Intn(testChunkSize*3)
				b, err := p.Alloc(size)
				if err != nil {
					t.Errorf("Alloc(%d): %v", size, err)
					return
				}
				if b.Size() != size {
					t.Errorf("expected size %d, got %d", size, b.Size())
					return
				}
				b.Release()
			}
		}(int64(g) + 1)
	}
	wg.Wait()

	if got := p.CachedChunks(); got > maxRetained {
		t.Errorf("expected cached chunks bounded by %d, got %d", maxRetained, got)
	}
}
