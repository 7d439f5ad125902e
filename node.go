package thmap

import (
	"unsafe"

	"github.com/rogpeppe/thmap/internal/atomicptr"
)

func loadBranch(addr **branch) *branch     { return atomicptr.Load(addr) }
func storeBranch(addr **branch, v *branch) { atomicptr.Store(addr, v) }

// branch is the single union value stored in an inode's slot: either a leaf
// or a child inode, never both, and never changed in place. Constructing a
// new branch and installing it with one pointer CAS keeps every slot
// transition a single CAS-able machine word (see DESIGN.md, Open Question
// 3) — which branch field is populated stands in for the tag, decided once
// at construction.
type branch struct {
	leaf  *leaf
	child *inode
}

// leaf holds one key/value pair. Leaves are immutable once published into a
// branch; a Put that changes an existing key's value replaces the branch
// the leaf sits in with a fresh one rather than mutating the leaf in place,
// keeping readers that already loaded the old branch.leaf consistent.
type leaf struct {
	key    []byte
	val    uintptr
	hash   uint32
	handle uintptr
	size   uintptr
}

func newLeaf(a Allocator, key []byte, val uintptr, hash uint32, noCopy bool) *leaf {
	// With noCopy, key aliases memory the caller owns, not memory this leaf
	// carves out of a; only charge the struct itself; charging for the
	// aliased bytes too would make the Allocator's occupancy overcount what
	// the trie itself owns while those leaves are live (see Options.NoCopy,
	// DESIGN.md).
	size := unsafe.Sizeof(leaf{})
	if !noCopy {
		cp := make([]byte, len(key))
		copy(cp, key)
		key = cp
		size += uintptr(len(key))
	}
	return &leaf{
		key:    key,
		val:    val,
		hash:   hash,
		handle: a.Alloc(size),
		size:   size,
	}
}

// inode is one node of the trie: a fixed-size array of slots indexed by a
// slice of the hash, a spin lock guarding mutation of that array, and a
// back-pointer used to collapse the node out of the trie once it holds at
// most one leaf.
type inode struct {
	parent       *inode
	slotInParent int32 // index in parent.slots this inode is installed under; -1 for the root
	level        int
	seed         uint32
	lockWord     int32
	occupied     int32 // count of non-nil slots, maintained under the lock
	slots        []*branch
	handle       uintptr
	size         uintptr
}

func newInode(a Allocator, parent *inode, slotInParent int32, level int, seed uint32) *inode {
	n := fanout(level)
	size := unsafe.Sizeof(inode{}) + uintptr(n)*unsafe.Sizeof((*branch)(nil))
	return &inode{
		parent:       parent,
		slotInParent: slotInParent,
		level:        level,
		seed:         seed,
		slots:        make([]*branch, n),
		handle:       a.Alloc(size),
		size:         size,
	}
}

func (n *inode) loadSlot(i int) *branch {
	return loadBranch(&n.slots[i])
}

func (n *inode) storeSlot(i int, b *branch) {
	storeBranch(&n.slots[i], b)
}

func sameKey(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
