//go:build cuda

package cudriver

/*
#cgo LDFLAGS: -lcuda
#include <stdlib.h>
#include <cuda.h>
*/
import "C"
import (
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cudaDriver implements Driver on top of the CUDA driver API. All methods
// must run on the device executor's worker thread: the context created by
// Init is made current on the calling thread.
type cudaDriver struct {
	dev    C.CUdevice
	ctx    C.CUcontext
	mod    C.CUmodule
	arenas *arenaPools
}

// NewCUDA returns the CUDA driver-API backend.
func NewCUDA() (Driver, error) {
	return &cudaDriver{arenas: newArenaPools()}, nil
}

// cuErr converts a CUresult into a Go error carrying the driver's own error
// name and description.
func cuErr(code C.CUresult, op string) error {
	if code == C.CUDA_SUCCESS {
		return nil
	}
	var name, desc *C.char
	C.cuGetErrorName(code, &name)
	C.cuGetErrorString(code, &desc)
	return errors.Errorf("cuda: %s failed: %s (%s)", op, C.GoString(desc), C.GoString(name))
}

func (d *cudaDriver) Name() string { return "cuda" }

func (d *cudaDriver) Init(deviceNum int) error {
	if err := cuErr(C.cuInit(0), "cuInit"); err != nil {
		return err
	}
	if err := cuErr(C.cuDeviceGet(&d.dev, C.int(deviceNum)), "cuDeviceGet"); err != nil {
		return err
	}
	if err := cuErr(C.cuCtxCreate(&d.ctx, C.CU_CTX_SCHED_BLOCKING_SYNC, d.dev), "cuCtxCreate"); err != nil {
		return err
	}
	klog.V(1).Infof("cuda: created context on device %d", deviceNum)
	return nil
}

func (d *cudaDriver) LoadModule(path string) error {
	if path == "" {
		return errors.New("cuda: kernel module path not set (see CUVEC_KERNEL_MODULE)")
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	return cuErr(C.cuModuleLoad(&d.mod, cPath), "cuModuleLoad")
}

func (d *cudaDriver) GetFunction(name string) (Function, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	var fn C.CUfunction
	if err := cuErr(C.cuModuleGetFunction(&fn, d.mod, cName), "cuModuleGetFunction"); err != nil {
		return Function{}, errors.WithMessagef(err, "resolving kernel %q", name)
	}
	return Function{name: name, cu: uintptr(unsafe.Pointer(fn))}, nil
}

func (d *cudaDriver) MemAlloc(bytes int64) (DevicePtr, error) {
	if bytes == 0 {
		bytes = 4 // the driver rejects zero-byte allocations
	}
	var ptr C.CUdeviceptr
	if err := cuErr(C.cuMemAlloc(&ptr, C.size_t(bytes)), "cuMemAlloc"); err != nil {
		return 0, err
	}
	return DevicePtr(ptr), nil
}

func (d *cudaDriver) MemFree(ptr DevicePtr) error {
	return cuErr(C.cuMemFree(C.CUdeviceptr(ptr)), "cuMemFree")
}

func (d *cudaDriver) MemcpyHtoD(dst DevicePtr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	return cuErr(C.cuMemcpyHtoD(C.CUdeviceptr(dst), unsafe.Pointer(unsafe.SliceData(src)), C.size_t(len(src))), "cuMemcpyHtoD")
}

func (d *cudaDriver) MemcpyDtoH(dst []byte, src DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	return cuErr(C.cuMemcpyDtoH(unsafe.Pointer(unsafe.SliceData(dst)), C.CUdeviceptr(src), C.size_t(len(dst))), "cuMemcpyDtoH")
}

func (d *cudaDriver) MemGetInfo() (free, total uint64, err error) {
	var cFreeBytes, cTotalBytes C.size_t
	err = cuErr(C.cuMemGetInfo(&cFreeBytes, &cTotalBytes), "cuMemGetInfo")
	return uint64(cFreeBytes), uint64(cTotalBytes), err
}

func (d *cudaDriver) LaunchKernel(fn Function, gridX, blockX, sharedBytes int, params []KernelParam) error {
	if fn.cu == 0 {
		return errors.Errorf("cuda: kernel %q was not resolved by this driver", fn.name)
	}

	// Kernel arguments are passed as an array of pointers to the values.
	// Both the values and the array live in a C arena so no Go pointers
	// cross into the launch.
	a := d.arenas.Get(16*len(params) + 64)
	defer d.arenas.Return(a)
	argPtrs := arenaAllocSlice[unsafe.Pointer](a, len(params))
	for i, p := range params {
		switch p.kind {
		case paramInt32:
			v := arenaAlloc[int32](a)
			*v = p.i32
			argPtrs[i] = unsafe.Pointer(v)
		case paramFloat32:
			v := arenaAlloc[float32](a)
			*v = p.f32
			argPtrs[i] = unsafe.Pointer(v)
		case paramDevicePtr:
			v := arenaAlloc[C.CUdeviceptr](a)
			*v = C.CUdeviceptr(p.ptr)
			argPtrs[i] = unsafe.Pointer(v)
		default:
			return errors.Errorf("cuda: unknown kernel argument kind %d", p.kind)
		}
	}

	res := C.cuLaunchKernel(C.CUfunction(unsafe.Pointer(fn.cu)),
		C.uint(gridX), 1, 1,
		C.uint(blockX), 1, 1,
		C.uint(sharedBytes), nil,
		(*unsafe.Pointer)(unsafe.Pointer(unsafe.SliceData(argPtrs))), nil)
	return errors.WithMessagef(cuErr(res, "cuLaunchKernel"), "kernel %q", fn.name)
}

func (d *cudaDriver) Synchronize() error {
	return cuErr(C.cuCtxSynchronize(), "cuCtxSynchronize")
}
