/*
Adapted from the Ctrie-based Map design in this module's lineage, which
carries the following notice on its original form:

Copyright 2015 Workiva, LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

 http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package thmap

import "github.com/rogpeppe/thmap/internal/atomicptr"

// Value is the opaque, machine-word-sized handle thmap associates with a
// key. It is never interpreted by the trie itself; callers that encode a
// tagged pointer or similar into it must keep its two low bits clear (see
// Options.DebugAssertAlignment).
type Value = uintptr

// Map is a concurrent, lock-free, ordered hash-trie map from byte-string
// keys to uintptr-sized value handles. The zero Map is not usable; create
// one with New.
type Map struct {
	root      *inode
	opts      Options
	retired   *retireList
	destroyed int32
}

// New creates an empty Map configured by opts.
func New(opts Options) *Map {
	opts = opts.withDefaults()
	root := newInode(opts.Allocator, nil, -1, 0, 0)
	return &Map{
		root:    root,
		opts:    opts,
		retired: &retireList{},
	}
}

func (m *Map) checkAlive() {
	if atomicptr.LoadInt32(&m.destroyed) != 0 {
		panic("thmap: use of destroyed map")
	}
}

// Get returns the value stored for key and whether it was present. Get
// never blocks and never takes a lock: it only follows atomically-loaded
// branch pointers down the trie.
func (m *Map) Get(key []byte) (Value, bool) {
	m.checkAlive()

restart:
	for {
		hash := m.opts.Hasher(key, 0)
		level := 0
		seed := uint32(0)
		cur := m.root
		generations := 0

		for {
			if level > maxDeepLevel {
				generations++
				if generations > maxHashGenerations {
					panic("thmap: hash cascade exhausted; Hasher is not independent of its seed")
				}
				seed = nextSeed(seed, level)
				hash = m.opts.Hasher(key, seed)
				level = 0
				continue
			}
			idx := slotIndex(hash, level)
			b := cur.loadSlot(idx)
			if b == nil {
				return 0, false
			}
			if b.leaf != nil {
				if sameKey(b.leaf.key, key) {
					return b.leaf.val, true
				}
				return 0, false
			}
			// A subtree mid-collapse must not be trusted as current: restart
			// from the root rather than risk reading a slot that is about to
			// be promoted or dropped (spec invariant I6).
			if b.child.deletionPending() {
				continue restart
			}
			cur = b.child
			level++
		}
	}
}

// Put associates key with val and always returns val back unchanged: any
// out-of-memory failure from the configured Allocator surfaces as a panic
// instead of a sentinel return (see SPEC_FULL.md §7). A Put that finds
// the key already present atomically replaces the leaf's value and retires
// the old leaf; a Put that finds a different key occupying the target slot
// splits that slot into a new child inode holding both keys.
func (m *Map) Put(key []byte, val Value) Value {
	m.checkAlive()
	if m.opts.DebugAssertAlignment && val&0x3 != 0 {
		panic("thmap: value is not 4-byte aligned")
	}

restart:
	for {
		hash := m.opts.Hasher(key, 0)
		level := 0
		seed := uint32(0)
		cur := m.root
		generations := 0

		for {
			if level > maxDeepLevel {
				generations++
				if generations > maxHashGenerations {
					panic("thmap: hash cascade exhausted; Hasher is not independent of its seed")
				}
				seed = nextSeed(seed, level)
				hash = m.opts.Hasher(key, seed)
				level = 0
				continue
			}
			idx := slotIndex(hash, level)
			b := cur.loadSlot(idx)

			switch {
			case b == nil:
				if !cur.lock() {
					continue restart
				}
				if cur.loadSlot(idx) != nil {
					cur.unlock()
					continue
				}
				lf := newLeaf(m.opts.Allocator, key, val, hash, m.opts.NoCopy)
				cur.storeSlot(idx, &branch{leaf: lf})
				cur.occupied++
				cur.unlock()
				return val

			case b.leaf != nil && sameKey(b.leaf.key, key):
				if !cur.lock() {
					continue restart
				}
				if cur.loadSlot(idx) != b {
					cur.unlock()
					continue
				}
				nl := newLeaf(m.opts.Allocator, key, val, hash, m.opts.NoCopy)
				cur.storeSlot(idx, &branch{leaf: nl})
				cur.unlock()
				m.retireLeaf(b.leaf)
				return val

			case b.leaf != nil:
				if !cur.lock() {
					continue restart
				}
				if cur.loadSlot(idx) != b {
					cur.unlock()
					continue
				}
				child := m.buildSplit(cur, int32(idx), level+1, seed, b.leaf, key, hash, val)
				cur.storeSlot(idx, &branch{child: child})
				cur.unlock()
				return val

			default: // b.child != nil
				if b.child.deletionPending() {
					continue restart
				}
				cur = b.child
				level++
			}
		}
	}
}

// buildSplit builds, off-trie, the chain of inodes needed to separate
// existing from a new leaf for (key, val, hash), starting at startLevel
// under seed. It returns the inode to install in place of the single-leaf
// branch that collided. Reseeding cascades exactly as in the main descent
// if the two keys continue to collide past the deepest level.
func (m *Map) buildSplit(parent *inode, slotInParent int32, startLevel int, seed uint32, existing *leaf, newKey []byte, newHash uint32, newVal uintptr) *inode {
	existingHash := m.opts.Hasher(existing.key, seed)
	level := startLevel
	linkParent := parent
	linkSlot := slotInParent
	var top *inode
	first := true
	generations := 0

	for {
		if level > maxDeepLevel {
			generations++
			if generations > maxHashGenerations {
				panic("thmap: hash cascade exhausted; Hasher is not independent of its seed")
			}
			seed = nextSeed(seed, level)
			existingHash = m.opts.Hasher(existing.key, seed)
			newHash = m.opts.Hasher(newKey, seed)
			level = 0
		}

		n := newInode(m.opts.Allocator, linkParent, linkSlot, level, seed)
		if first {
			top = n
			first = false
		} else {
			linkParent.slots[linkSlot] = &branch{child: n}
		}

		ei := slotIndex(existingHash, level)
		ni := slotIndex(newHash, level)
		if ei != ni {
			n.slots[ei] = &branch{leaf: existing}
			nl := newLeaf(m.opts.Allocator, newKey, newVal, newHash, m.opts.NoCopy)
			n.slots[ni] = &branch{leaf: nl}
			n.occupied = 2
			return top
		}

		n.occupied = 1
		linkParent = n
		linkSlot = int32(ei)
		level++
	}
}

// Delete removes key, returning its value and whether it was present. A
// Delete that empties an inode, or leaves it holding exactly one leaf,
// opportunistically collapses that inode out of the trie (see
// maybeCollapse); the removed leaf and any collapsed inode are handed to
// the retirement list rather than freed immediately.
func (m *Map) Delete(key []byte) (Value, bool) {
	m.checkAlive()

restart:
	for {
		hash := m.opts.Hasher(key, 0)
		level := 0
		seed := uint32(0)
		cur := m.root
		generations := 0

		for {
			if level > maxDeepLevel {
				generations++
				if generations > maxHashGenerations {
					panic("thmap: hash cascade exhausted; Hasher is not independent of its seed")
				}
				seed = nextSeed(seed, level)
				hash = m.opts.Hasher(key, seed)
				level = 0
				continue
			}
			idx := slotIndex(hash, level)
			b := cur.loadSlot(idx)
			if b == nil {
				return 0, false
			}
			if b.leaf != nil {
				if !sameKey(b.leaf.key, key) {
					return 0, false
				}
				if !cur.lock() {
					continue restart
				}
				if cur.loadSlot(idx) != b {
					cur.unlock()
					continue
				}
				cur.storeSlot(idx, nil)
				cur.occupied--
				old := b.leaf.val
				m.retireLeaf(b.leaf)
				m.maybeCollapse(cur) // takes ownership of cur's lock
				return old, true
			}
			if b.child.deletionPending() {
				continue restart
			}
			cur = b.child
			level++
		}
	}
}

// maybeCollapse is called with n already locked by the caller, which it
// always unlocks before returning (including every early-return path).
// If n now holds at most one occupant, and n is not the root, it is pulled
// out of the trie: the one remaining occupant — a leaf or a child inode,
// either is promoted the same way — is hoisted directly into n's parent
// slot, and an empty node is unlinked entirely, with the parent's own
// occupancy then re-examined in turn.
func (m *Map) maybeCollapse(n *inode) {
	if n.parent == nil {
		n.unlock()
		return
	}
	occ := n.occupied
	if occ > 1 {
		n.unlock()
		return
	}

	p := n.parent
	slotInParent := int(n.slotInParent)
	if !p.lock() {
		n.unlock()
		return
	}
	cur := p.loadSlot(slotInParent)
	if cur == nil || cur.child != n {
		p.unlock()
		n.unlock()
		return
	}

	if occ == 1 {
		var remaining *branch
		for i := range n.slots {
			if s := n.loadSlot(i); s != nil {
				remaining = s
				break
			}
		}
		if child := remaining.child; child != nil {
			// Re-parent the promoted subtree onto p under its own lock, so
			// the rewrite of its back-link is serialized against any other
			// goroutine about to read it through maybeCollapse's own
			// locked-then-read-parent protocol.
			if !child.lock() {
				p.unlock()
				n.unlock()
				return
			}
			child.parent = p
			child.slotInParent = int32(slotInParent)
			child.unlock()
		}
		n.markDeletionPending()
		p.storeSlot(slotInParent, remaining)
		p.unlock()
		n.unlock()
		m.retireInode(n)
		m.collapseFrom(p)
		return
	}

	// occ == 0: n is now entirely empty.
	n.markDeletionPending()
	p.storeSlot(slotInParent, nil)
	p.occupied--
	p.unlock()
	n.unlock()
	m.retireInode(n)
	m.collapseFrom(p)
}

// collapseFrom locks n and hands it to maybeCollapse, used to continue a
// cascading collapse into a now-possibly-eligible parent.
func (m *Map) collapseFrom(n *inode) {
	if !n.lock() {
		return
	}
	m.maybeCollapse(n)
}

// Destroy frees every node still reachable in the trie along with anything
// already staged for reclamation but not yet collected, and marks m unusable.
// It does not wait for or otherwise coordinate with any external
// quiescence scheme the caller may be using for StageGC/GC: it is the
// caller's responsibility to ensure no other goroutine is still operating
// on m when Destroy is called.
func (m *Map) Destroy() {
	if !atomicptr.CompareAndSwapInt32(&m.destroyed, 0, 1) {
		panic("thmap: Destroy called more than once")
	}
	m.GC(m.StageGC())
	m.walkAndFree(m.root)
}

func (m *Map) walkAndFree(n *inode) {
	for i := range n.slots {
		b := n.slots[i]
		if b == nil {
			continue
		}
		if b.leaf != nil {
			m.opts.Allocator.Free(b.leaf.handle, b.leaf.size)
		} else if b.child != nil {
			m.walkAndFree(b.child)
		}
	}
	m.opts.Allocator.Free(n.handle, n.size)
}
