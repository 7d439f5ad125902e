package thmap

import (
	"sync/atomic"
)

// Allocator is thmap's byte-accounting façade: every inode and leaf is
// accompanied by a handle/size pair obtained from Alloc and returned to Free
// once it is reclaimed. thmap's own node objects are always ordinary
// garbage-collected Go values — Allocator does not back their storage — but
// a caller that wants to observe (or cap) the map's footprint, or that wants
// to drive it from a fixed arena, can do so by supplying one.
type Allocator interface {
	// Alloc records an allocation of size bytes and returns an opaque
	// handle identifying it.
	Alloc(size uintptr) uintptr
	// Free releases the allocation previously returned by Alloc for the
	// same size.
	Free(handle, size uintptr)
}

// roundup2 rounds size up to the next multiple of align, which must be a
// power of two, so every accounted allocation lands on a machine-word
// boundary.
func roundup2(size, align uintptr) uintptr {
	return (size + align - 1) &^ (align - 1)
}

const wordAlign = uintptr(8)

// HeapAllocator is the default Allocator: it tracks total bytes "allocated"
// with an atomic counter and hands out monotonically increasing handles. It
// imposes no actual memory layout; it exists so Bytes() gives a caller
// visibility into the trie's footprint without forcing arena semantics.
type HeapAllocator struct {
	next      uintptr
	allocated int64
}

// NewHeapAllocator returns an Allocator suitable for ordinary heap-backed
// use. It is the default used by New when no Options.Allocator is supplied.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{next: 1}
}

func (a *HeapAllocator) Alloc(size uintptr) uintptr {
	size = roundup2(size, wordAlign)
	atomic.AddInt64(&a.allocated, int64(size))
	return atomic.AddUintptr(&a.next, size) - size
}

func (a *HeapAllocator) Free(_ uintptr, size uintptr) {
	size = roundup2(size, wordAlign)
	atomic.AddInt64(&a.allocated, -int64(size))
}

// Bytes reports the number of bytes currently accounted as allocated.
func (a *HeapAllocator) Bytes() int64 {
	return atomic.LoadInt64(&a.allocated)
}

// ArenaAllocator is a bump allocator over a caller-owned backing slice: a
// fixed byte arena, with handles expressed as offsets from the arena's base
// rather than as addresses. Free does not compact or reclaim the arena's
// storage — it only updates the live-byte count so Bytes() reflects
// outstanding allocations and can be checked against zero after a full
// drain.
type ArenaAllocator struct {
	arena     []byte
	next      uintptr
	allocated int64
}

// NewArenaAllocator wraps arena as a bump-allocation region. Alloc panics
// once the arena is exhausted.
func NewArenaAllocator(arena []byte) *ArenaAllocator {
	return &ArenaAllocator{arena: arena}
}

func (a *ArenaAllocator) Alloc(size uintptr) uintptr {
	size = roundup2(size, wordAlign)
	off := atomic.AddUintptr(&a.next, size) - size
	if off+size > uintptr(len(a.arena)) {
		panic("thmap: arena exhausted")
	}
	atomic.AddInt64(&a.allocated, int64(size))
	return off
}

func (a *ArenaAllocator) Free(_ uintptr, size uintptr) {
	size = roundup2(size, wordAlign)
	atomic.AddInt64(&a.allocated, -int64(size))
}

// Bytes reports the number of bytes currently accounted as allocated out of
// the arena. It returns to zero once every node has been freed.
func (a *ArenaAllocator) Bytes() int64 {
	return atomic.LoadInt64(&a.allocated)
}
