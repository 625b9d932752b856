package hostvec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finsim/cuvec/stochastic"
)

func TestDeterministicValue(t *testing.T) {
	v := Scalar(2.5, 3)
	require.True(t, v.IsDeterministic())
	require.Equal(t, 1, v.Size())
	require.Equal(t, 2.5, v.FiltrationTime())

	x, err := v.DoubleValue()
	require.NoError(t, err)
	require.Equal(t, 3.0, x)

	vals, err := v.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{3}, vals)
}

func TestStochasticValueIsImmutable(t *testing.T) {
	src := []float64{1, 2, 3}
	v := New(0, src)
	src[0] = 99
	vals, err := v.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, vals)

	vals[1] = 99
	again, err := v.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, again)

	_, err = v.DoubleValue()
	require.ErrorIs(t, err, stochastic.ErrNonDeterministic)
}

func TestScalarOperations(t *testing.T) {
	v := New(0, []float64{-4, -2, 0, 2, 4})

	shifted, err := v.AddScalar(4)
	require.NoError(t, err)
	scaled, err := shifted.DivScalar(2)
	require.NoError(t, err)
	vals, err := scaled.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 2, 3, 4}, vals)

	capped, err := v.CapScalar(0)
	require.NoError(t, err)
	floored, err := capped.FloorScalar(-2)
	require.NoError(t, err)
	vals, err = floored.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{-2, -2, 0, 0, 0}, vals)

	flipped, err := v.SubFromScalar(1)
	require.NoError(t, err)
	vals, err = flipped.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{5, 3, 1, -1, -3}, vals)
}

func TestUnaryOperations(t *testing.T) {
	v := New(0, []float64{1, 4, 9})

	root, err := v.Sqrt()
	require.NoError(t, err)
	vals, err := root.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, vals)

	sq, err := root.Squared()
	require.NoError(t, err)
	vals, err = sq.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 4, 9}, vals)

	inv, err := v.Invert()
	require.NoError(t, err)
	vals, err = inv.Realizations()
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1, 0.25, 1.0 / 9}, vals, 1e-15)

	logExp, err := v.Log()
	require.NoError(t, err)
	logExp, err = logExp.Exp()
	require.NoError(t, err)
	vals, err = logExp.Realizations()
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1, 4, 9}, vals, 1e-12)
}

func TestPairwiseMixesDeterminism(t *testing.T) {
	stoch := New(1, []float64{1, 2, 3})
	det := Scalar(2, 10)

	sum, err := stoch.Add(det)
	require.NoError(t, err)
	require.False(t, sum.IsDeterministic())
	require.Equal(t, 2.0, sum.FiltrationTime(), "filtration time must be the max of the operands")
	vals, err := sum.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{11, 12, 13}, vals)

	diff, err := det.Sub(stoch)
	require.NoError(t, err)
	vals, err = diff.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{9, 8, 7}, vals)

	both, err := det.Mult(Scalar(0, 4))
	require.NoError(t, err)
	require.True(t, both.IsDeterministic())
	x, err := both.DoubleValue()
	require.NoError(t, err)
	require.Equal(t, 40.0, x)
}

func TestPairwiseSizeMismatch(t *testing.T) {
	a := New(0, []float64{1, 2, 3})
	b := New(0, []float64{1, 2})
	_, err := a.Add(b)
	require.Error(t, err)
	require.Contains(t, err.Error(), "path count mismatch")
}

func TestSubFromAndDivFromReverseOperands(t *testing.T) {
	a := New(0, []float64{10, 20})
	b := New(0, []float64{1, 2})

	diff, err := b.SubFrom(a)
	require.NoError(t, err)
	vals, err := diff.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{9, 18}, vals)

	ratio, err := b.DivFrom(a)
	require.NoError(t, err)
	vals, err = ratio.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{10, 10}, vals)
}

func TestAccrueAndDiscountInvert(t *testing.T) {
	v := New(0, []float64{100, 200})
	rate := New(1, []float64{0.05, 0.10})

	accrued, err := v.Accrue(rate, 0.5)
	require.NoError(t, err)
	vals, err := accrued.Realizations()
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{102.5, 210}, vals, 1e-12)

	back, err := accrued.Discount(rate, 0.5)
	require.NoError(t, err)
	vals, err = back.Realizations()
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{100, 200}, vals, 1e-12)
	require.Equal(t, 1.0, back.FiltrationTime())
}

func TestAddProductAndRatios(t *testing.T) {
	v := New(0, []float64{1, 1})
	f1 := New(0, []float64{2, 3})
	f2 := New(0, []float64{10, 10})

	got, err := v.AddProduct(f1, f2)
	require.NoError(t, err)
	vals, err := got.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{21, 31}, vals)

	got, err = v.AddProductScalar(f1, 10)
	require.NoError(t, err)
	vals, err = got.Realizations()
	require.NoError(t, err)
	require.Equal(t, []float64{21, 31}, vals)

	got, err = v.AddRatio(f2, f1)
	require.NoError(t, err)
	vals, err = got.Realizations()
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{6, 1 + 10.0/3}, vals, 1e-12)

	got, err = v.SubRatio(f2, f1)
	require.NoError(t, err)
	vals, err = got.Realizations()
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{-4, 1 - 10.0/3}, vals, 1e-12)
}

func TestAggregates(t *testing.T) {
	v := New(0, []float64{0, 1, 2, 3, 4})

	mean, err := v.Average()
	require.NoError(t, err)
	require.Equal(t, 2.0, mean)

	variance, err := v.Variance()
	require.NoError(t, err)
	require.InDelta(t, 2.0, variance, 1e-12)

	sample, err := v.SampleVariance()
	require.NoError(t, err)
	require.InDelta(t, 2.5, sample, 1e-12)

	sd, err := v.StandardDeviation()
	require.NoError(t, err)
	require.InDelta(t, math.Sqrt(2), sd, 1e-12)

	se, err := v.StandardError()
	require.NoError(t, err)
	require.InDelta(t, math.Sqrt(2)/math.Sqrt(5), se, 1e-12)

	min, err := v.Min()
	require.NoError(t, err)
	require.Equal(t, 0.0, min)
	max, err := v.Max()
	require.NoError(t, err)
	require.Equal(t, 4.0, max)
}

func TestWeightedAggregates(t *testing.T) {
	v := New(0, []float64{1, 2, 3, 4})
	// Uniform probabilities 1/n reproduce the unweighted statistics.
	p := New(0, []float64{1, 1, 1, 1})

	mean, err := v.AverageWeighted(p)
	require.NoError(t, err)
	require.InDelta(t, 2.5, mean, 1e-12)

	variance, err := v.VarianceWeighted(p)
	require.NoError(t, err)
	plain, err := v.Variance()
	require.NoError(t, err)
	require.InDelta(t, plain, variance, 1e-12)

	sd, err := v.StandardDeviationWeighted(p)
	require.NoError(t, err)
	plainSD, err := v.StandardDeviation()
	require.NoError(t, err)
	require.InDelta(t, plainSD, sd, 1e-12)

	se, err := v.StandardErrorWeighted(p)
	require.NoError(t, err)
	require.InDelta(t, plainSD/2, se, 1e-12, "n=4, so the error is half the deviation")
}

func TestAggregatesOnDeterministic(t *testing.T) {
	v := Scalar(0, 7)

	mean, err := v.Average()
	require.NoError(t, err)
	require.Equal(t, 7.0, mean)

	variance, err := v.Variance()
	require.NoError(t, err)
	require.Zero(t, variance)

	sample, err := v.SampleVariance()
	require.NoError(t, err)
	require.Zero(t, sample)

	min, err := v.Min()
	require.NoError(t, err)
	require.Equal(t, 7.0, min)

	q, err := v.Quantile(0.99)
	require.NoError(t, err)
	require.Equal(t, 7.0, q)
}

func TestAggregatesOnEmpty(t *testing.T) {
	v := New(0, nil)
	require.Equal(t, 0, v.Size())
	for name, f := range map[string]func() (float64, error){
		"average":  v.Average,
		"variance": v.Variance,
		"min":      v.Min,
		"max":      v.Max,
	} {
		got, err := f()
		require.NoError(t, err, name)
		require.True(t, math.IsNaN(got), name)
	}
}

func TestQuantile(t *testing.T) {
	v := New(0, []float64{4, 1, 3, 0, 2})
	q, err := v.Quantile(0.5)
	require.NoError(t, err)
	require.InDelta(t, 2.0, q, 1.0)
	lo, err := v.Quantile(0)
	require.NoError(t, err)
	require.Equal(t, 0.0, lo)
}

func TestFromVar(t *testing.T) {
	v := New(1.5, []float64{1, 2})
	same, err := FromVar(v)
	require.NoError(t, err)
	require.Same(t, v, same)

	det, err := FromVar(Scalar(2, 3))
	require.NoError(t, err)
	require.True(t, det.IsDeterministic())
	require.Equal(t, 2.0, det.FiltrationTime())
}
