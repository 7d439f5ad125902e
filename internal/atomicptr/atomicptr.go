// Package atomicptr provides generic atomic operations over pointer-typed
// fields, built on top of sync/atomic's unsafe.Pointer primitives.
package atomicptr

import (
	"sync/atomic"
	"unsafe"
)

func Load[T any](addr **T) *T {
	return (*T)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(addr))))
}

func Store[T any](addr **T, val *T) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(addr)), unsafe.Pointer(val))
}

func CompareAndSwap[T any](addr **T, old, new *T) (swapped bool) {
	return atomic.CompareAndSwapPointer(
		(*unsafe.Pointer)(unsafe.Pointer(addr)),
		unsafe.Pointer(old),
		unsafe.Pointer(new),
	)
}

// Swap atomically stores new into addr and returns the previous value. It
// backs the retirement stack's detach-the-whole-list operation, which CAS
// alone cannot express as a single step.
func Swap[T any](addr **T, new *T) (old *T) {
	return (*T)(atomic.SwapPointer((*unsafe.Pointer)(unsafe.Pointer(addr)), unsafe.Pointer(new)))
}

func LoadInt32(x *int32) int32 {
	return atomic.LoadInt32(x)
}

func CompareAndSwapInt32(x *int32, old, new int32) bool {
	return atomic.CompareAndSwapInt32(x, old, new)
}
