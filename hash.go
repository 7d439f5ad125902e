package thmap

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes a 32-bit digest of key under seed. A hasher must be
// deterministic for a given (key, seed) pair: the trie's split behavior
// depends on repeated hashing of the same key producing the same bits.
type Hasher func(key []byte, seed uint32) uint32

// defaultHasher is xxhash folded to 32 bits (the high half XORed into the
// low half), with the seed passed to xxhash's native seeded sum. A byte-oriented,
// non-cryptographic, seedable hash is all the descent protocol needs.
func defaultHasher(key []byte, seed uint32) uint32 {
	sum := xxhash.Sum64WithSeed(key, uint64(seed))
	return uint32(sum) ^ uint32(sum>>32)
}

const (
	rootBits     = 6
	deepBits     = 4
	maxDeepLevel = 6 // deep levels 1..6 consume bits [6, 30)
)

// levelWindow returns the bit offset and width of the slice of the hash that
// indexes level. level 0 is the root (6 bits); levels 1..maxDeepLevel are
// deep levels (4 bits each, packed directly after the root's window).
// A caller must reseed before requesting level maxDeepLevel+1.
func levelWindow(level int) (shift, width uint) {
	if level == 0 {
		return 0, rootBits
	}
	return rootBits + deepBits*uint(level-1), deepBits
}

// slotIndex extracts the slice of hash that selects a child slot at level.
func slotIndex(hash uint32, level int) int {
	shift, width := levelWindow(level)
	mask := uint32(1)<<width - 1
	return int((hash >> shift) & mask)
}

// fanout returns the number of slots an inode at level must hold.
func fanout(level int) int {
	_, width := levelWindow(level)
	return 1 << width
}

// nextSeed derives the seed used to rehash a key whose hash has been fully
// consumed by the level schedule above without resolving a collision. It is
// an arbitrary but fixed mixing function: two independent implementations of
// this design need only agree on outwardly observable behavior, not on the
// internal seed sequence.
func nextSeed(seed uint32, level int) uint32 {
	return bits.RotateLeft32(seed^uint32(level)*0x9e3779b9, 13) + 1
}

// maxHashGenerations bounds the reseed cascade so a pathological or broken
// Hasher cannot spin the trie forever instead of making progress. Reaching
// it indicates the Hasher is not behaving like an independent function of
// its seed.
const maxHashGenerations = 1000
