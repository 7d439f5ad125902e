// Package thmap implements a concurrent, lock-free, ordered hash-trie map
// associating byte-string keys with opaque machine-word value handles.
//
// The trie has a fixed fanout: the root level indexes on 6 bits of the key's
// hash (64-way fanout) and every level below it indexes on 4 bits (16-way
// fanout), except that an inode starting a fresh hash seed, once a seed's
// bits are used up, again indexes on 6 bits (64-way fanout). Lookups never
// block. Mutators take a short-lived spin lock on the
// single inode they are rewriting; no global lock or traversal-wide
// coordination is ever required.
//
// Removed leaves and collapsed inodes are not freed synchronously: Delete
// unlinks them from the trie and hands them to a retirement list. A caller
// that can establish a point at which no goroutine still holds a reference
// into the old shape calls StageGC to close out a generation of retirements
// and GC to actually reclaim it. thmap never guesses when it is safe to free
// memory; the caller states it.
package thmap
