package device

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/finsim/cuvec/cudriver"
)

// missingKernelDriver hides one kernel from resolution to exercise the
// fail-fast initialization path.
type missingKernelDriver struct {
	*cudriver.Sim
	missing string
}

func (d *missingKernelDriver) GetFunction(name string) (cudriver.Function, error) {
	if name == d.missing {
		return cudriver.Function{}, errors.Errorf("no kernel image for %q", name)
	}
	return d.Sim.GetFunction(name)
}

func TestSessionResolvesAllKernels(t *testing.T) {
	s := newSimSession(t, 0)
	for _, name := range KernelNames {
		fn, err := s.Kernel(name)
		require.NoError(t, err)
		require.Equal(t, name, fn.Name())
	}
	_, err := s.Kernel("sortPaths")
	require.Error(t, err)
}

func TestSessionInitFailsFastOnMissingKernel(t *testing.T) {
	drv := &missingKernelDriver{Sim: cudriver.NewSim(0), missing: KernelReducePartial}
	_, err := New("sim", WithDriver(drv))
	require.Error(t, err)
	require.Contains(t, err.Error(), KernelReducePartial)
}

func TestSessionGetCachesPerName(t *testing.T) {
	a, err := Get("sim")
	require.NoError(t, err)
	b, err := Get("sim")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestSessionGetUnknownDriver(t *testing.T) {
	_, err := Get("tpu")
	require.Error(t, err)
	// The failure is cached: a second lookup fails the same way, fast.
	_, err2 := Get("tpu")
	require.EqualError(t, err2, err.Error())
}

func TestSessionBufferRoundTrip(t *testing.T) {
	s := newSimSession(t, 0)
	for _, values := range [][]float32{nil, {42}, {-4, -2, 0, 2, 4}} {
		ptr, err := s.NewBuffer(values)
		require.NoError(t, err)
		got, err := s.ReadBuffer(ptr, len(values))
		require.NoError(t, err)
		require.Len(t, got, len(values))
		for i := range values {
			require.Equal(t, values[i], got[i])
		}
	}
}

// faultyCopyDriver fails the next host-to-device transfer.
type faultyCopyDriver struct {
	*cudriver.Sim
	fail bool
}

func (d *faultyCopyDriver) MemcpyHtoD(dst cudriver.DevicePtr, src []byte) error {
	if d.fail {
		d.fail = false
		return errors.New("transfer fault")
	}
	return d.Sim.MemcpyHtoD(dst, src)
}

func TestSessionNewBufferReleasesOnCopyFailure(t *testing.T) {
	drv := &faultyCopyDriver{Sim: cudriver.NewSim(0), fail: true}
	s, err := New("sim", WithDriver(drv))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.NewBuffer([]float32{1, 2, 3})
	require.Error(t, err)
	require.Equal(t, 1, s.Pool().FreeBuffers(3), "failed upload must return its buffer to the pool")

	// The retry recycles the returned buffer instead of allocating.
	_, err = s.NewBuffer([]float32{1, 2, 3})
	require.NoError(t, err)
	stats := s.Pool().Stats()
	require.EqualValues(t, 1, stats.DeviceAllocs)
	require.EqualValues(t, 1, stats.Recycled)
}

func TestSessionLaunch(t *testing.T) {
	s := newSimSession(t, 0)
	in, err := s.NewBuffer([]float32{1, 2, 3})
	require.NoError(t, err)
	out, err := s.Pool().Acquire(3)
	require.NoError(t, err)

	fn, err := s.Kernel(KernelMultScalar)
	require.NoError(t, err)
	require.NoError(t, s.Launch(fn, 1, 256, 0, []cudriver.KernelParam{
		cudriver.Int32Param(3),
		cudriver.PtrParam(in),
		cudriver.Float32Param(10),
		cudriver.PtrParam(out),
	}))

	got, err := s.ReadBuffer(out, 3)
	require.NoError(t, err)
	require.Equal(t, []float32{10, 20, 30}, got)
}
