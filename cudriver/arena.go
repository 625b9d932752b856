//go:build cuda

package cudriver

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"fmt"
	"math/bits"
	"reflect"
	"sync"
	"unsafe"
)

// arena is a trivial C-memory arena for kernel-argument blocks.
//
// Kernel launches need every argument value, and the argument-pointer array
// itself, in memory the Go runtime will not move. Individual C.malloc calls
// per argument are slow; the arena pre-allocates one C block and hands out
// aligned sub-allocations, freed all at once.
type arena struct {
	buf           []byte
	size, current int
	poolIndex     int // index in arenaPools, -1 if allocated outside the pools
}

const arenaAlignBytes = 8

// newArena creates an arena with the given fixed size in C memory.
func newArena(size int) *arena {
	buf := (*byte)(C.malloc(C.size_t(size)))
	return &arena{
		buf:       unsafe.Slice(buf, size),
		size:      size,
		poolIndex: -1,
	}
}

// arenaAlloc allocates one value of type T from the arena. It panics if the
// arena runs out of space, which for fixed-arity kernel launches means the
// caller sized it wrong.
func arenaAlloc[T any](a *arena) (ptr *T) {
	allocSize := int(unsafe.Sizeof(*ptr))
	if a.current+allocSize > a.size {
		panic(fmt.Sprintf("arena out of memory allocating %d bytes for %q", allocSize, reflect.TypeOf(ptr).Elem()))
	}
	ptr = (*T)(unsafe.Pointer(&a.buf[a.current]))
	a.current += allocSize
	a.current = (a.current + arenaAlignBytes - 1) &^ (arenaAlignBytes - 1)
	return
}

// arenaAllocSlice allocates a slice of n elements of type T from the arena.
func arenaAllocSlice[T any](a *arena, n int) (slice []T) {
	var elem T
	allocSize := n * int(unsafe.Sizeof(elem))
	if a.current+allocSize > a.size {
		panic(fmt.Sprintf("arena out of memory allocating %d bytes for [%d]%s", allocSize, n, reflect.TypeOf(slice).Elem()))
	}
	ptr := (*T)(unsafe.Pointer(&a.buf[a.current]))
	a.current += allocSize
	a.current = (a.current + arenaAlignBytes - 1) &^ (arenaAlignBytes - 1)
	return unsafe.Slice(ptr, n)
}

// Free releases the C allocation. The arena must not be used afterwards.
func (a *arena) Free() {
	C.free(unsafe.Pointer(&a.buf[0]))
	a.buf = nil
	a.size = 0
	a.current = 0
}

// Reset invalidates all previous sub-allocations and zeroes the used space so
// the arena can be reused.
func (a *arena) Reset() {
	if a.buf == nil || a.size == 0 {
		a.current = 0
		return
	}
	if a.current > 0 {
		C.memset(unsafe.Pointer(&a.buf[0]), 0, C.size_t(min(a.size, a.current)))
	}
	a.current = 0
}

const (
	// minPooledArenaSize covers the largest fixed-arity launch (5 arguments).
	minPooledArenaSize = 256
	// maxPooledArenaSize bounds what is worth keeping around.
	maxPooledArenaSize = 64 * 1024
)

// arenaPools keeps reusable arenas in power-of-two size classes.
type arenaPools struct {
	pools    []sync.Pool
	minShift int
	maxShift int
}

func newArenaPools() *arenaPools {
	minShift := bits.TrailingZeros(uint(minPooledArenaSize))
	maxShift := bits.TrailingZeros(uint(maxPooledArenaSize))
	return &arenaPools{
		pools:    make([]sync.Pool, maxShift-minShift+1),
		minShift: minShift,
		maxShift: maxShift,
	}
}

// Get returns a reset arena of at least targetSize bytes (the next power of
// two). Sizes above maxPooledArenaSize are allocated outside the pools.
func (ap *arenaPools) Get(targetSize int) *arena {
	if targetSize <= 0 {
		targetSize = minPooledArenaSize
	}
	shift := bits.Len(uint(targetSize - 1))
	if shift < ap.minShift {
		shift = ap.minShift
	}
	if shift > ap.maxShift {
		return newArena(targetSize)
	}
	poolIndex := shift - ap.minShift
	if obj := ap.pools[poolIndex].Get(); obj != nil {
		a := obj.(*arena)
		a.Reset()
		return a
	}
	a := newArena(1 << shift)
	a.poolIndex = poolIndex
	return a
}

// Return gives an arena back to its pool, or frees it if it came from
// outside the pools.
func (ap *arenaPools) Return(a *arena) {
	if a == nil {
		return
	}
	if a.poolIndex < 0 || a.poolIndex >= len(ap.pools) {
		a.Free()
		return
	}
	a.Reset()
	ap.pools[a.poolIndex].Put(a)
}
