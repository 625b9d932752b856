package cudriver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSim(t *testing.T, budget uint64) *Sim {
	s := NewSim(budget)
	require.NoError(t, s.Init(0))
	require.NoError(t, s.LoadModule(""))
	return s
}

// deviceVector allocates a buffer and fills it from values.
func deviceVector(t *testing.T, s *Sim, values []float32) DevicePtr {
	ptr, err := s.MemAlloc(int64(len(values) * 4))
	require.NoError(t, err)
	require.NoError(t, s.MemcpyHtoD(ptr, Float32Bytes(values)))
	return ptr
}

func hostVector(t *testing.T, s *Sim, ptr DevicePtr, n int) []float32 {
	out := make([]float32, n)
	require.NoError(t, s.MemcpyDtoH(Float32Bytes(out), ptr))
	return out
}

func TestSimMemoryAccounting(t *testing.T) {
	s := newTestSim(t, 1024)

	ptr, err := s.MemAlloc(1000)
	require.NoError(t, err)
	free, total, err := s.MemGetInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1024, total)
	require.EqualValues(t, 24, free)

	// Over budget.
	_, err = s.MemAlloc(100)
	require.Error(t, err)

	require.NoError(t, s.MemFree(ptr))
	free, _, err = s.MemGetInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1024, free)

	// Double free.
	require.Error(t, s.MemFree(ptr))
}

func TestSimZeroLengthBuffers(t *testing.T) {
	s := newTestSim(t, 1024)
	a, err := s.MemAlloc(0)
	require.NoError(t, err)
	b, err := s.MemAlloc(0)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "zero-length buffers must have distinct addresses")
	require.NoError(t, s.MemcpyDtoH(nil, a))
}

func TestSimTransferRoundTrip(t *testing.T) {
	s := newTestSim(t, 1<<20)
	in := []float32{-4, -2, 0, 2, 4}
	ptr := deviceVector(t, s, in)
	require.Equal(t, in, hostVector(t, s, ptr, len(in)))
}

func TestSimKernelResolution(t *testing.T) {
	s := NewSim(0)
	require.NoError(t, s.Init(0))

	// Before the module is loaded, resolution fails.
	_, err := s.GetFunction("add")
	require.Error(t, err)

	require.NoError(t, s.LoadModule("ignored.ptx"))
	fn, err := s.GetFunction("add")
	require.NoError(t, err)
	require.Equal(t, "add", fn.Name())

	_, err = s.GetFunction("no-such-kernel")
	require.Error(t, err)
}

func TestSimElementwiseKernels(t *testing.T) {
	s := newTestSim(t, 1<<20)
	in := []float32{1, 4, 9, 16}
	ptr := deviceVector(t, s, in)
	out, err := s.MemAlloc(int64(len(in) * 4))
	require.NoError(t, err)

	sqrt, err := s.GetFunction("cuSqrt")
	require.NoError(t, err)
	require.NoError(t, s.LaunchKernel(sqrt, 1, 256, 0, []KernelParam{
		Int32Param(int32(len(in))), PtrParam(ptr), PtrParam(out),
	}))
	require.Equal(t, []float32{1, 2, 3, 4}, hostVector(t, s, out, len(in)))

	addScalar, err := s.GetFunction("addScalar")
	require.NoError(t, err)
	require.NoError(t, s.LaunchKernel(addScalar, 1, 256, 0, []KernelParam{
		Int32Param(int32(len(in))), PtrParam(ptr), Float32Param(0.5), PtrParam(out),
	}))
	require.Equal(t, []float32{1.5, 4.5, 9.5, 16.5}, hostVector(t, s, out, len(in)))
}

func TestSimReducePartial(t *testing.T) {
	s := newTestSim(t, 1<<20)
	const n = 10
	in := make([]float32, n)
	for i := range in {
		in[i] = 1
	}
	ptr := deviceVector(t, s, in)

	// Block size 2: each block sums 4 elements, so 3 partial sums.
	out, err := s.MemAlloc(3 * 4)
	require.NoError(t, err)
	reduce, err := s.GetFunction("reducePartial")
	require.NoError(t, err)
	require.NoError(t, s.LaunchKernel(reduce, 3, 2, 2*4, []KernelParam{
		Int32Param(n), PtrParam(ptr), PtrParam(out),
	}))
	require.Equal(t, []float32{4, 4, 2}, hostVector(t, s, out, 3))
}

func TestSimLaunchGeometryCapsWork(t *testing.T) {
	s := newTestSim(t, 1<<20)
	in := []float32{1, 2, 3, 4}
	ptr := deviceVector(t, s, in)
	out := deviceVector(t, s, []float32{-1, -1, -1, -1})

	abs, err := s.GetFunction("cuAbs")
	require.NoError(t, err)
	// Only 2 threads exist; the tail must stay untouched.
	require.NoError(t, s.LaunchKernel(abs, 1, 2, 0, []KernelParam{
		Int32Param(4), PtrParam(ptr), PtrParam(out),
	}))
	require.Equal(t, []float32{1, 2, -1, -1}, hostVector(t, s, out, 4))
}
