// Package cudriver defines the low-level contract between the vector engine
// and a device runtime: context initialization, loading of the precompiled
// kernel module, resolution of named kernels, memory management, host/device
// transfers and kernel launches.
//
// Two drivers implement the contract: the CUDA driver API binding (build tag
// "cuda") and an in-process simulated device that executes the same fixed
// kernel set on the host, so the full stack is usable and testable on
// machines without a GPU.
//
// None of the Driver methods are safe for concurrent use from multiple
// goroutines; the device executor (package device) is the single serialization
// point for all calls into a Driver.
package cudriver

import (
	"unsafe"

	"github.com/pkg/errors"
)

// ErrNotAvailable is returned by NewCUDA when the binary was built without
// CUDA support or no usable device is present.
var ErrNotAvailable = errors.New("cudriver: CUDA driver not available (build with -tags cuda on a machine with the CUDA toolkit)")

// DevicePtr is an opaque device memory address. The zero value is the null
// pointer.
type DevicePtr uintptr

// IsNil reports whether the pointer is the device null pointer.
func (p DevicePtr) IsNil() bool { return p == 0 }

// Function is a handle to one named kernel resolved from the loaded module.
// Exactly one of the backing fields is set, depending on the driver that
// resolved it.
type Function struct {
	name string
	cu   uintptr   // CUfunction handle (CUDA driver)
	sim  simKernel // host implementation (simulated driver)
}

// Name returns the kernel name the handle was resolved from.
func (f Function) Name() string { return f.name }

// IsNil reports whether the handle was never resolved.
func (f Function) IsNil() bool { return f.cu == 0 && f.sim == nil }

type paramKind uint8

const (
	paramInt32 paramKind = iota
	paramFloat32
	paramDevicePtr
)

// KernelParam is one marshalled kernel argument. CUDA kernel launches take an
// array of pointers to argument values; KernelParam carries the value and its
// kind so each driver can marshal it its own way.
type KernelParam struct {
	kind paramKind
	i32  int32
	f32  float32
	ptr  DevicePtr
}

// Int32Param marshals an int32 kernel argument (element counts).
func Int32Param(v int32) KernelParam { return KernelParam{kind: paramInt32, i32: v} }

// Float32Param marshals a float32 kernel argument (broadcast scalars).
func Float32Param(v float32) KernelParam { return KernelParam{kind: paramFloat32, f32: v} }

// PtrParam marshals a device pointer kernel argument.
func PtrParam(p DevicePtr) KernelParam { return KernelParam{kind: paramDevicePtr, ptr: p} }

// Driver is the device runtime seen by the engine. All sizes are in bytes.
//
// Implementations are single-threaded: the caller must guarantee that no two
// method calls run concurrently (the device executor does).
type Driver interface {
	// Name identifies the driver ("cuda", "sim").
	Name() string

	// Init acquires the device and creates its context. Called exactly once,
	// before any other method.
	Init(deviceNum int) error

	// LoadModule loads the precompiled kernel module (a PTX/cubin file for
	// the CUDA driver; ignored by the simulated driver).
	LoadModule(path string) error

	// GetFunction resolves a named kernel from the loaded module.
	GetFunction(name string) (Function, error)

	// MemAlloc allocates device memory. Fails with an out-of-memory error
	// when the device cannot satisfy the request.
	MemAlloc(bytes int64) (DevicePtr, error)

	// MemFree releases device memory previously returned by MemAlloc.
	MemFree(ptr DevicePtr) error

	// MemcpyHtoD copies len(src) bytes from host to device.
	MemcpyHtoD(dst DevicePtr, src []byte) error

	// MemcpyDtoH copies len(dst) bytes from device to host.
	MemcpyDtoH(dst []byte, src DevicePtr) error

	// MemGetInfo returns the free and total device memory in bytes.
	MemGetInfo() (free, total uint64, err error)

	// LaunchKernel launches fn over a one-dimensional grid. sharedBytes is
	// the per-block dynamic shared memory size.
	LaunchKernel(fn Function, gridX, blockX, sharedBytes int, params []KernelParam) error

	// Synchronize blocks until all previously issued device work completed.
	Synchronize() error
}

// Float32Bytes reinterprets a float32 slice as its underlying bytes, without
// copying. The caller must keep values alive for the duration of any call the
// result is passed to.
func Float32Bytes(values []float32) []byte {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*4)
}

// BytesFloat32 reinterprets a byte slice as float32 values, without copying.
// len(data) must be a multiple of 4.
func BytesFloat32(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/4)
}
