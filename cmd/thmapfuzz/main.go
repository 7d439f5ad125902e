// Command thmapfuzz drives a mixed get/put/del workload against a single
// thmap.Map from many goroutines at once, to shake out lock-free bugs that a
// single-threaded test would not reach: a fixed universe of keys, a
// barrier-synchronized start, and per iteration a get half the time and a
// put or a del a quarter of the time each.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rogpeppe/thmap"
)

var (
	nkeys  = flag.Int("keys", 512, "size of the key universe")
	niters = flag.Int("iters", 1_000_000, "iterations per worker")
)

// fastRandom is a small xorshift generator used in place of math/rand, whose
// internal locking would mask the very races this harness is trying to
// surface.
type fastRandom struct{ state uint32 }

func newFastRandom(seed uint32) *fastRandom {
	if seed == 0 {
		seed = 5381
	}
	return &fastRandom{state: seed}
}

func (r *fastRandom) next() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

func keyFor(i int) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(i))
	return b[:]
}

func worker(id int, m *thmap.Map, barrier *sync.WaitGroup) func() error {
	return func() error {
		rnd := newFastRandom(uint32(id)*2654435761 + 1)
		barrier.Done()
		barrier.Wait()

		for i := 0; i < *niters; i++ {
			key := keyFor(int(rnd.next()) % *nkeys)
			switch rnd.next() & 3 {
			case 0, 1: // lookup
				m.Get(key)
			case 2:
				m.Put(key, uintptr(id)+1)
			case 3:
				m.Delete(key)
			}
			if i%4096 == 0 {
				m.GC(m.StageGC())
			}
		}
		return nil
	}
}

func main() {
	flag.Parse()

	m := thmap.New(thmap.Options{})
	workers := runtime.NumCPU() + 1

	var barrier sync.WaitGroup
	barrier.Add(workers)

	g, _ := errgroup.WithContext(context.Background())
	for id := 0; id < workers; id++ {
		g.Go(worker(id, m, &barrier))
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}

	for i := 0; i < *nkeys; i++ {
		m.Delete(keyFor(i))
	}
	m.GC(m.StageGC())
	m.Destroy()

	fmt.Println("ok")
}
