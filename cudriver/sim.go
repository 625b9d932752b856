package cudriver

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultSimMemory is the simulated device memory budget used when NewSim is
// given a zero budget.
const DefaultSimMemory = 256 << 20

// simKernel is the host implementation of one named kernel. It receives the
// launch geometry and the marshalled arguments of the corresponding device
// kernel.
type simKernel func(s *Sim, gridX, blockX, sharedBytes int, params []KernelParam) error

// Sim is an in-process device: float32 buffers on the host behind the same
// driver contract as the CUDA binding, with a fixed memory budget so that the
// memory-pool pressure paths behave as they would on hardware.
//
// Like every Driver, it is not safe for uncoordinated concurrent use; the
// internal lock only protects the buffer table against the cleanup goroutine
// releasing buffers while the executor runs.
type Sim struct {
	mu    sync.Mutex
	total uint64
	used  uint64
	next  DevicePtr
	bufs  map[DevicePtr][]byte

	initialized bool
	loaded      bool
}

var _ Driver = (*Sim)(nil)

// NewSim creates a simulated device with the given memory budget in bytes
// (DefaultSimMemory if zero).
func NewSim(totalBytes uint64) *Sim {
	if totalBytes == 0 {
		totalBytes = DefaultSimMemory
	}
	return &Sim{
		total: totalBytes,
		next:  0x1000,
		bufs:  make(map[DevicePtr][]byte),
	}
}

// Name implements Driver.
func (s *Sim) Name() string { return "sim" }

// Init implements Driver.
func (s *Sim) Init(deviceNum int) error {
	if deviceNum != 0 {
		return errors.Errorf("sim: no such device %d (the simulated driver exposes a single device)", deviceNum)
	}
	s.initialized = true
	klog.V(1).Infof("sim: initialized device with %d bytes of memory", s.total)
	return nil
}

// LoadModule implements Driver. The simulated kernel set is compiled in, so
// the module path is ignored.
func (s *Sim) LoadModule(path string) error {
	if !s.initialized {
		return errors.New("sim: LoadModule before Init")
	}
	s.loaded = true
	return nil
}

// GetFunction implements Driver.
func (s *Sim) GetFunction(name string) (Function, error) {
	if !s.loaded {
		return Function{}, errors.New("sim: GetFunction before LoadModule")
	}
	impl, ok := simKernels[name]
	if !ok {
		return Function{}, errors.Errorf("sim: module has no kernel named %q", name)
	}
	return Function{name: name, sim: impl}, nil
}

// MemAlloc implements Driver.
func (s *Sim) MemAlloc(bytes int64) (DevicePtr, error) {
	if bytes < 0 {
		return 0, errors.Errorf("sim: MemAlloc of negative size %d", bytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used+uint64(bytes) > s.total {
		return 0, errors.Errorf("sim: out of memory allocating %d bytes (%d of %d in use)", bytes, s.used, s.total)
	}
	step := (bytes + 7) &^ 7
	if step == 0 {
		step = 8 // zero-length buffers still get distinct addresses
	}
	ptr := s.next
	s.next += DevicePtr(step)
	s.bufs[ptr] = make([]byte, bytes)
	s.used += uint64(bytes)
	return ptr, nil
}

// MemFree implements Driver.
func (s *Sim) MemFree(ptr DevicePtr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.bufs[ptr]
	if !ok {
		return errors.Errorf("sim: MemFree of unknown pointer %#x", uintptr(ptr))
	}
	delete(s.bufs, ptr)
	s.used -= uint64(len(buf))
	return nil
}

// MemcpyHtoD implements Driver.
func (s *Sim) MemcpyHtoD(dst DevicePtr, src []byte) error {
	buf, err := s.buffer(dst, len(src))
	if err != nil {
		return errors.WithMessage(err, "sim: MemcpyHtoD")
	}
	copy(buf, src)
	return nil
}

// MemcpyDtoH implements Driver.
func (s *Sim) MemcpyDtoH(dst []byte, src DevicePtr) error {
	buf, err := s.buffer(src, len(dst))
	if err != nil {
		return errors.WithMessage(err, "sim: MemcpyDtoH")
	}
	copy(dst, buf)
	return nil
}

// MemGetInfo implements Driver.
func (s *Sim) MemGetInfo() (free, total uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total - s.used, s.total, nil
}

// LaunchKernel implements Driver.
func (s *Sim) LaunchKernel(fn Function, gridX, blockX, sharedBytes int, params []KernelParam) error {
	if fn.sim == nil {
		return errors.Errorf("sim: kernel %q was not resolved by this driver", fn.name)
	}
	if gridX <= 0 || blockX <= 0 {
		return errors.Errorf("sim: kernel %q launched with empty geometry grid=%d block=%d", fn.name, gridX, blockX)
	}
	if err := fn.sim(s, gridX, blockX, sharedBytes, params); err != nil {
		return errors.WithMessagef(err, "sim: kernel %q", fn.name)
	}
	return nil
}

// Synchronize implements Driver. Simulated launches are synchronous, so this
// is a no-op.
func (s *Sim) Synchronize() error { return nil }

// buffer returns the backing bytes of ptr, checking that it holds at least
// size bytes.
func (s *Sim) buffer(ptr DevicePtr, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.bufs[ptr]
	if !ok {
		return nil, errors.Errorf("unknown device pointer %#x", uintptr(ptr))
	}
	if len(buf) < size {
		return nil, errors.Errorf("access of %d bytes beyond buffer %#x of %d bytes", size, uintptr(ptr), len(buf))
	}
	return buf, nil
}

// f32 returns the float32 view of a buffer for kernel execution.
func (s *Sim) f32(ptr DevicePtr) ([]float32, error) {
	buf, err := s.buffer(ptr, 0)
	if err != nil {
		return nil, err
	}
	return BytesFloat32(buf), nil
}
