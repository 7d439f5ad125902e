package thmap

import "github.com/rogpeppe/thmap/internal/atomicptr"

// retireEntry is one node staged for reclamation: just enough to hand its
// allocation back to the Allocator once GC is told it is safe to do so. The
// list is a lock-free Treiber stack: Delete pushes onto it under CAS, and
// StageGC atomically swaps the whole chain out in one step so concurrent
// pushes never race with the detach.
type retireEntry struct {
	handle uintptr
	size   uintptr
	next   *retireEntry
}

type retireList struct {
	head *retireEntry
}

func (l *retireList) push(e *retireEntry) {
	for {
		old := atomicptr.Load(&l.head)
		e.next = old
		if atomicptr.CompareAndSwap(&l.head, old, e) {
			return
		}
	}
}

func (l *retireList) detachAll() *retireEntry {
	return atomicptr.Swap(&l.head, nil)
}

// GCToken represents one closed-out generation of retired nodes, returned
// by StageGC and consumed by GC. It is the caller's assertion that no
// goroutine can still be holding a reference obtained before the StageGC
// call returned. GCToken is a thin handle onto a shared gcGeneration so
// that copies of a token (it is an ordinary value type) still agree on
// whether it has been reclaimed.
type GCToken struct {
	gen *gcGeneration
}

type gcGeneration struct {
	entries   *retireEntry
	reclaimed bool
}

// StageGC closes out the current generation of retired nodes and returns a
// token representing it; a new, empty generation starts immediately so
// further deletes can keep retiring nodes concurrently with the caller
// deciding when it is safe to reclaim this one.
func (m *Map) StageGC() GCToken {
	return GCToken{gen: &gcGeneration{entries: m.retired.detachAll()}}
}

// GC frees every node staged in tok, returning their allocations to the
// Allocator. It must only be called once it is established that no
// goroutine retains a reference into the trie shape that predates the
// StageGC call that produced tok. Calling GC twice on the same token is
// misuse, not a recoverable error (spec §7): for a token holding staged
// nodes it panics rather than risk a silent double-free on the Allocator.
// The zero GCToken (no prior StageGC), and any token with nothing staged,
// is always a no-op.
func (m *Map) GC(tok GCToken) {
	if tok.gen == nil || tok.gen.entries == nil {
		return
	}
	if tok.gen.reclaimed {
		panic("thmap: token already reclaimed")
	}
	tok.gen.reclaimed = true
	for e := tok.gen.entries; e != nil; {
		next := e.next
		m.opts.Allocator.Free(e.handle, e.size)
		e = next
	}
}

func (m *Map) retireLeaf(l *leaf) {
	m.retired.push(&retireEntry{handle: l.handle, size: l.size})
}

func (m *Map) retireInode(n *inode) {
	m.retired.push(&retireEntry{handle: n.handle, size: n.size})
}
