package thmap

import "testing"

func TestStageGCIsolatesGenerations(t *testing.T) {
	ha := NewHeapAllocator()
	m := New(Options{Allocator: ha})

	m.Put([]byte("a"), 1)
	m.Put([]byte("b"), 2)

	m.Delete([]byte("a"))
	tok1 := m.StageGC()

	m.Delete([]byte("b"))
	tok2 := m.StageGC()

	before := ha.Bytes()
	m.GC(tok1)
	afterFirst := ha.Bytes()
	if afterFirst >= before {
		t.Errorf("GC(tok1) did not free anything: before=%d after=%d", before, afterFirst)
	}

	m.GC(tok2)
	afterSecond := ha.Bytes()
	if afterSecond >= afterFirst {
		t.Errorf("GC(tok2) did not free its own generation: after1=%d after2=%d", afterFirst, afterSecond)
	}
}

func TestGCOfEmptyTokenIsNoop(t *testing.T) {
	m := New(Options{})
	var tok GCToken
	m.GC(tok) // must not panic on an empty token
}

func TestDoubleGCPanics(t *testing.T) {
	m := New(Options{})
	m.Put([]byte("a"), 1)
	m.Delete([]byte("a"))
	tok := m.StageGC()

	m.GC(tok)

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on double GC of the same token")
		}
	}()
	m.GC(tok)
}

func TestDestroyReclaimsStagedAndLive(t *testing.T) {
	ha := NewHeapAllocator()
	m := New(Options{Allocator: ha})

	m.Put([]byte("a"), 1)
	m.Put([]byte("b"), 2)
	m.Delete([]byte("a")) // staged but not yet GC'd when Destroy runs

	m.Destroy()

	if got := ha.Bytes(); got != 0 {
		t.Errorf("expected Destroy to reclaim everything, got %d bytes outstanding", got)
	}
}
