package thmap

import (
	"runtime"

	"github.com/rogpeppe/thmap/internal/atomicptr"
)

// Lock state bits for inode.lockWord. bit0 marks the node locked for
// mutation; bit1 marks it pending deletion, set by a collapsing parent just
// before it unlinks this inode so any goroutine racing to lock it for a
// mutation of its own backs off instead of proceeding against a node that
// is about to be detached from the trie.
const (
	lockHeld     int32 = 1 << 0
	lockDeleting int32 = 1 << 1
)

// spinBackoffMin and spinBackoffMax bound the exponential backoff a spinning
// goroutine applies between lock attempts: 4 pause iterations to start,
// doubling up to a cap of 128 so a contended inode never spins unboundedly.
const (
	spinBackoffMin = 4
	spinBackoffMax = 128
)

func spinPause(n int) {
	for i := 0; i < n; i++ {
		runtime.Gosched()
	}
}

// lock acquires the inode's spin lock, retrying with exponential backoff.
// It returns false without blocking further if the node is marked pending
// deletion: the caller must restart its operation from the root.
func (n *inode) lock() (ok bool) {
	backoff := spinBackoffMin
	for {
		word := atomicptr.LoadInt32(&n.lockWord)
		if word&lockDeleting != 0 {
			return false
		}
		if word&lockHeld == 0 && atomicptr.CompareAndSwapInt32(&n.lockWord, word, word|lockHeld) {
			return true
		}
		spinPause(backoff)
		if backoff < spinBackoffMax {
			backoff *= 2
		}
	}
}

func (n *inode) unlock() {
	for {
		word := atomicptr.LoadInt32(&n.lockWord)
		if atomicptr.CompareAndSwapInt32(&n.lockWord, word, word&^lockHeld) {
			return
		}
	}
}

// markDeletionPending sets the deletion-pending bit. The caller must already
// hold the lock; it is cleared only by the node becoming unreachable.
func (n *inode) markDeletionPending() {
	for {
		word := atomicptr.LoadInt32(&n.lockWord)
		if atomicptr.CompareAndSwapInt32(&n.lockWord, word, word|lockDeleting) {
			return
		}
	}
}

func (n *inode) deletionPending() bool {
	return atomicptr.LoadInt32(&n.lockWord)&lockDeleting != 0
}
