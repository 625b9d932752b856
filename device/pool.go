package device

import (
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/finsim/cuvec/cudriver"
)

// ErrOutOfMemory is returned by MemoryPool.Acquire when the device cannot
// satisfy a fresh allocation even after recycling and a full sweep.
var ErrOutOfMemory = errors.New("device out of memory")

const (
	// Below this free-memory fraction a garbage pass is requested before
	// allocating fresh device memory.
	freeFractionToTriggerGC = 0.10
	// Below this free-memory fraction the pool additionally waits, with
	// exponential backoff, for buffers to be reclaimed.
	freeFractionToWaitForGC = 0.05
	// Total backoff budget while waiting for reclamation.
	maxReclaimWait = 300 * time.Millisecond

	elementBytes = 4 // realizations are float32
)

// PoolStats counts pool activity since creation. Snapshot via Stats.
type PoolStats struct {
	DeviceAllocs int64 // fresh device allocations
	DeviceFrees  int64 // buffers freed back to the device
	Recycled     int64 // acquisitions served from a free list
	Released     int64 // buffers returned by unreachable owners
	Sweeps       int64 // last-resort full reclamations
}

// MemoryPool owns every device buffer handed out to vector values. Buffers
// are grouped by element count into independent free lists; an acquisition
// first recycles a free buffer of the same size and only then allocates on
// the device, applying garbage-collection pressure and backoff when device
// memory runs low.
//
// Ownership is explicit: the pool allocates, recycles and frees; a vector
// value only borrows its buffer. Register ties a buffer to its owner so that
// the buffer returns to the free list once the owner becomes unreachable.
//
// All pool state is guarded by one mutex; methods may be called from any
// goroutine.
type MemoryPool struct {
	exec *Executor

	mu    sync.Mutex
	free  map[int][]cudriver.DevicePtr
	stats PoolStats
}

// NewMemoryPool creates a pool that allocates and frees through the given
// executor.
func NewMemoryPool(exec *Executor) *MemoryPool {
	return &MemoryPool{
		exec: exec,
		free: make(map[int][]cudriver.DevicePtr),
	}
}

// bufKey identifies a registered buffer in an owner's cleanup.
type bufKey struct {
	ptr cudriver.DevicePtr
	n   int
}

// Register associates a buffer of n elements with the vector value that owns
// it. When owner becomes unreachable, the buffer lands on the pool's free
// list for its size and may be recycled by a later Acquire. At most one owner
// may be registered per buffer.
func Register[T any](p *MemoryPool, owner *T, ptr cudriver.DevicePtr, n int) {
	runtime.AddCleanup(owner, func(b bufKey) { p.release(b) }, bufKey{ptr: ptr, n: n})
	if klog.V(2).Enabled() {
		klog.Infof("device pool: managing buffer %#x (%d elements)", uintptr(ptr), n)
	}
}

func (p *MemoryPool) release(b bufKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[b.n] = append(p.free[b.n], b.ptr)
	p.stats.Released++
}

// Acquire returns a device buffer of n elements: recycled when possible,
// freshly allocated otherwise. Under memory pressure it forces garbage
// passes and waits with exponential backoff (1, 4, 16, ... ms up to 300 ms)
// for buffers to be reclaimed; as a last resort it sweeps every size class
// before allocating. A failed fresh allocation is fatal for the call and is
// reported as ErrOutOfMemory.
func (p *MemoryPool) Acquire(n int) (cudriver.DevicePtr, error) {
	if ptr, ok := p.takeFree(n); ok {
		return ptr, nil
	}

	freeFraction := p.deviceFreeFraction()
	klog.V(2).Infof("device pool: no recyclable buffer of %d elements, device free fraction %.3f", n, freeFraction)

	if freeFraction < freeFractionToTriggerGC {
		requestGC()
		if ptr, ok := p.waitFree(n, time.Millisecond); ok {
			return ptr, nil
		}
	}

	if freeFraction < freeFractionToWaitForGC {
		wait := time.Millisecond
		deadline := time.Now().Add(maxReclaimWait)
		for time.Now().Before(deadline) {
			requestGC()
			if ptr, ok := p.waitFree(n, wait); ok {
				return ptr, nil
			}
			wait *= 4
		}
		// Still nothing of the requested size: reclaim every collectible
		// buffer across all size classes before going to the device.
		klog.V(1).Info("device pool: last resort, reclaiming unused buffers of every size")
		p.mu.Lock()
		p.stats.Sweeps++
		p.mu.Unlock()
		if err := p.ReclaimAll(); err != nil {
			return 0, errors.WithMessage(err, "reclaiming before fresh allocation")
		}
	}

	var ptr cudriver.DevicePtr
	err := p.exec.Run(func(d cudriver.Driver) error {
		var err error
		ptr, err = d.MemAlloc(int64(n) * elementBytes)
		return err
	})
	if err != nil {
		klog.Errorf("device pool: failed to allocate buffer of %d elements: %v", n, err)
		return 0, errors.Wrapf(ErrOutOfMemory, "allocating buffer of %d elements: %s", n, err)
	}
	p.mu.Lock()
	p.stats.DeviceAllocs++
	p.mu.Unlock()
	klog.V(2).Infof("device pool: allocated fresh buffer %#x (%d elements)", uintptr(ptr), n)
	return ptr, nil
}

// Release puts back a buffer that was acquired but never handed to an owner,
// making it immediately recyclable. Buffers with a registered owner are
// returned by their cleanup instead.
func (p *MemoryPool) Release(ptr cudriver.DevicePtr, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[n] = append(p.free[n], ptr)
}

// requestGC runs two collections: the first finds unreachable owners, the
// second flushes their queued cleanups onto the free lists. A single
// collection leaves the cleanups pending.
func requestGC() {
	runtime.GC()
	runtime.GC()
}

// takeFree pops a recyclable buffer of the requested size, if any.
func (p *MemoryPool) takeFree(n int) (cudriver.DevicePtr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.free[n]
	if len(list) == 0 {
		return 0, false
	}
	ptr := list[len(list)-1]
	p.free[n] = list[:len(list)-1]
	p.stats.Recycled++
	if klog.V(2).Enabled() {
		klog.Infof("device pool: recycling buffer %#x (%d elements)", uintptr(ptr), n)
	}
	return ptr, true
}

// waitFree polls for a recyclable buffer of the requested size for up to d.
func (p *MemoryPool) waitFree(n int, d time.Duration) (cudriver.DevicePtr, bool) {
	deadline := time.Now().Add(d)
	for {
		if ptr, ok := p.takeFree(n); ok {
			return ptr, true
		}
		if !time.Now().Before(deadline) {
			return 0, false
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// deviceFreeFraction samples the device's free-memory fraction, NaN when the
// query fails (which disables the pressure paths, matching an unknown state).
func (p *MemoryPool) deviceFreeFraction() float64 {
	var free, total uint64
	err := p.exec.Run(func(d cudriver.Driver) error {
		var err error
		free, total, err = d.MemGetInfo()
		return err
	})
	if err != nil || total == 0 {
		return math.NaN()
	}
	return float64(free) / float64(total)
}

// ReclaimAll drains every free list, giving each buffer back to the device
// allocator. Used for explicit pool shutdown and as the allocation path's
// last resort.
func (p *MemoryPool) ReclaimAll() error {
	p.mu.Lock()
	var drained []cudriver.DevicePtr
	for n, list := range p.free {
		drained = append(drained, list...)
		delete(p.free, n)
	}
	p.mu.Unlock()

	for _, ptr := range drained {
		err := p.exec.Run(func(d cudriver.Driver) error {
			return d.MemFree(ptr)
		})
		if err != nil {
			return errors.WithMessagef(err, "freeing device buffer %#x", uintptr(ptr))
		}
		p.mu.Lock()
		p.stats.DeviceFrees++
		p.mu.Unlock()
	}
	return nil
}

// FreeBuffers reports how many reclaimable buffers of the given element
// count are currently pooled.
func (p *MemoryPool) FreeBuffers(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[n])
}

// Stats returns a snapshot of the pool counters.
func (p *MemoryPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
