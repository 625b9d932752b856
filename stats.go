package cuvec

import (
	"math"
	"runtime"

	"github.com/pkg/errors"

	"github.com/finsim/cuvec/cudriver"
	"github.com/finsim/cuvec/device"
	"github.com/finsim/cuvec/hostvec"
	"github.com/finsim/cuvec/stochastic"
)

// Threads per block for the tree reduction; each block folds twice its
// thread count of elements into one partial sum.
const reduceBlockSize = 1024

// host materializes the realizations as a host-resident variable, on which
// the aggregates run in double precision.
func (v *Value) host() (*hostvec.Value, error) {
	if v.det {
		return hostvec.Scalar(v.time, v.val), nil
	}
	vals, err := v.Realizations()
	if err != nil {
		return nil, err
	}
	return hostvec.New(v.time, vals), nil
}

// Sum adds all realizations on the device through a tree of partial
// reductions, in single precision. The aggregate statistics below instead
// copy the realizations to the host and accumulate in double precision;
// use Sum when the result stays in single-precision arithmetic anyway.
func (v *Value) Sum() (float64, error) {
	if v.det {
		return v.val, nil
	}
	if v.n == 0 {
		return 0, nil
	}
	cur := v
	for cur.n > 1 {
		grid := (cur.n + 2*reduceBlockSize - 1) / (2 * reduceBlockSize)
		ptr, err := v.sess.Pool().Acquire(grid)
		if err != nil {
			return 0, err
		}
		next := newStochastic(v.sess, cur.time, ptr, grid)
		fn, err := v.sess.Kernel(device.KernelReducePartial)
		if err != nil {
			return 0, err
		}
		err = v.sess.Launch(fn, grid, reduceBlockSize, reduceBlockSize*4, []cudriver.KernelParam{
			cudriver.Int32Param(int32(cur.n)),
			cudriver.PtrParam(cur.ptr),
			cudriver.PtrParam(ptr),
		})
		runtime.KeepAlive(cur)
		if err != nil {
			return 0, errors.WithMessage(err, "reducing partial sums")
		}
		cur = next
	}
	partial, err := v.sess.ReadBuffer(cur.ptr, 1)
	runtime.KeepAlive(cur)
	if err != nil {
		return 0, err
	}
	return float64(partial[0]), nil
}

func (v *Value) Average() (float64, error) {
	if v.det {
		return v.val, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	h, err := v.host()
	if err != nil {
		return 0, err
	}
	return h.Average()
}

func (v *Value) AverageWeighted(probabilities stochastic.Var) (float64, error) {
	weighted, err := v.Mult(probabilities)
	if err != nil {
		return 0, err
	}
	return weighted.Average()
}

// Variance is the population variance E[X^2] - E[X]^2. The square runs on the
// device; both averages accumulate on the host.
func (v *Value) Variance() (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	mean, err := v.Average()
	if err != nil {
		return 0, err
	}
	squared, err := v.Squared()
	if err != nil {
		return 0, err
	}
	secondMoment, err := squared.Average()
	if err != nil {
		return 0, err
	}
	return secondMoment - mean*mean, nil
}

func (v *Value) VarianceWeighted(probabilities stochastic.Var) (float64, error) {
	mean, err := v.AverageWeighted(probabilities)
	if err != nil {
		return 0, err
	}
	squared, err := v.Squared()
	if err != nil {
		return 0, err
	}
	centered, err := squared.SubScalar(mean * mean)
	if err != nil {
		return 0, err
	}
	return centered.AverageWeighted(probabilities)
}

func (v *Value) SampleVariance() (float64, error) {
	if v.det || v.Size() == 1 {
		return 0, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	variance, err := v.Variance()
	if err != nil {
		return 0, err
	}
	n := float64(v.n)
	return variance * n / (n - 1), nil
}

func (v *Value) StandardDeviation() (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	variance, err := v.Variance()
	if err != nil {
		return 0, err
	}
	return math.Sqrt(variance), nil
}

func (v *Value) StandardDeviationWeighted(probabilities stochastic.Var) (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	variance, err := v.VarianceWeighted(probabilities)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(variance), nil
}

func (v *Value) StandardError() (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	sd, err := v.StandardDeviation()
	if err != nil {
		return 0, err
	}
	return sd / math.Sqrt(float64(v.n)), nil
}

func (v *Value) StandardErrorWeighted(probabilities stochastic.Var) (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.n == 0 {
		return math.NaN(), nil
	}
	sd, err := v.StandardDeviationWeighted(probabilities)
	if err != nil {
		return 0, err
	}
	return sd / math.Sqrt(float64(v.n)), nil
}

// Min, Max and Quantile are selection statistics the kernel set does not
// cover; materialize through hostvec.FromVar to compute them on the host.

func (v *Value) Min() (float64, error) {
	if v.det {
		return v.val, nil
	}
	return 0, errors.WithMessage(stochastic.ErrNotSupported, "min of device-resident realizations")
}

func (v *Value) Max() (float64, error) {
	if v.det {
		return v.val, nil
	}
	return 0, errors.WithMessage(stochastic.ErrNotSupported, "max of device-resident realizations")
}

func (v *Value) Quantile(q float64) (float64, error) {
	if v.det {
		return v.val, nil
	}
	return 0, errors.WithMessage(stochastic.ErrNotSupported, "quantile of device-resident realizations")
}
