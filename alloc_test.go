package thmap

import (
	"encoding/binary"
	"testing"
)

func TestArenaAllocatorDrains(t *testing.T) {
	arena := make([]byte, 1<<20)
	alloc := NewArenaAllocator(arena)
	m := New(Options{Allocator: alloc})

	const nitems = 512
	key := func(i int) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(i))
		return b[:]
	}

	for i := 0; i < nitems; i++ {
		got := m.Put(key(i), uintptr(i))
		assertEqual(t, uintptr(i), got)
	}
	for i := 0; i < nitems; i++ {
		val, ok := m.Get(key(i))
		assertTrue(t, ok)
		assertEqual(t, uintptr(i), val)
	}
	if alloc.Bytes() <= 0 {
		t.Errorf("expected positive outstanding allocation after inserts")
	}

	for i := 0; i < nitems; i++ {
		old, existed := m.Delete(key(i))
		assertTrue(t, existed)
		assertEqual(t, uintptr(i), old)
	}
	m.Destroy()

	if got := alloc.Bytes(); got != 0 {
		t.Errorf("expected all arena space freed, got %d bytes outstanding", got)
	}
}

func TestArenaAllocatorNoCopyDrains(t *testing.T) {
	arena := make([]byte, 1<<20)
	alloc := NewArenaAllocator(arena)
	m := New(Options{Allocator: alloc, NoCopy: true})

	const nitems = 512
	// Unlike TestArenaAllocatorDrains, each key must be its own backing
	// array: with NoCopy the leaf aliases the slice handed to Put instead of
	// copying it, so reusing one buffer across iterations would corrupt
	// every earlier leaf's key.
	keys := make([][]byte, nitems)
	for i := range keys {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(i))
		keys[i] = b
	}

	for i := 0; i < nitems; i++ {
		got := m.Put(keys[i], uintptr(i))
		assertEqual(t, uintptr(i), got)
	}
	for i := 0; i < nitems; i++ {
		val, ok := m.Get(keys[i])
		assertTrue(t, ok)
		assertEqual(t, uintptr(i), val)
	}

	noCopyBytes := alloc.Bytes()
	if noCopyBytes <= 0 {
		t.Errorf("expected positive outstanding allocation after inserts")
	}

	arena2 := make([]byte, 1<<20)
	alloc2 := NewArenaAllocator(arena2)
	m2 := New(Options{Allocator: alloc2})
	for i := 0; i < nitems; i++ {
		cp := make([]byte, 4)
		binary.LittleEndian.PutUint32(cp, uint32(i))
		m2.Put(cp, uintptr(i))
	}
	if noCopyBytes >= alloc2.Bytes() {
		t.Errorf("NoCopy leaves should not be charged for key bytes they don't own: noCopy=%d copying=%d", noCopyBytes, alloc2.Bytes())
	}
	m2.Destroy()

	for i := 0; i < nitems; i++ {
		old, existed := m.Delete(keys[i])
		assertTrue(t, existed)
		assertEqual(t, uintptr(i), old)
	}
	m.Destroy()

	if got := alloc.Bytes(); got != 0 {
		t.Errorf("expected all arena space freed, got %d bytes outstanding", got)
	}
}

func TestArenaAllocatorExhausted(t *testing.T) {
	arena := make([]byte, 16)
	alloc := NewArenaAllocator(arena)

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on arena exhaustion")
		}
	}()
	alloc.Alloc(8)
	alloc.Alloc(8)
	alloc.Alloc(8)
}

func TestRoundup2(t *testing.T) {
	cases := []struct{ size, align, want uintptr }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{17, 8, 24},
	}
	for _, c := range cases {
		if got := roundup2(c.size, c.align); got != c.want {
			t.Errorf("roundup2(%d, %d) = %d, want %d", c.size, c.align, got, c.want)
		}
	}
}
