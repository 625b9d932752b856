// Package hostvec implements stochastic.Var with host-resident float64
// realizations. It is the promotion source and comparison baseline for the
// device-backed implementation, and carries the double-precision reductions
// behind its aggregate statistics.
package hostvec

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/finsim/cuvec/stochastic"
)

// TypePriority of host-resident variables. Device-resident and otherwise
// augmented representations rank higher and take over mixed operations.
const TypePriority = 1

// Value is an immutable host-resident random variable.
type Value struct {
	time   float64
	det    bool
	value  float64   // deterministic case
	values []float64 // stochastic case
}

var _ stochastic.Var = (*Value)(nil)

// New creates a stochastic variable from a copy of values.
func New(time float64, values []float64) *Value {
	vals := make([]float64, len(values))
	copy(vals, values)
	return &Value{time: time, values: vals}
}

// Scalar creates a deterministic variable.
func Scalar(time, value float64) *Value {
	return &Value{time: time, det: true, value: value}
}

// FromVar materializes any variable on the host.
func FromVar(v stochastic.Var) (*Value, error) {
	if hv, ok := v.(*Value); ok {
		return hv, nil
	}
	if v.IsDeterministic() {
		x, err := v.DoubleValue()
		if err != nil {
			return nil, err
		}
		return Scalar(v.FiltrationTime(), x), nil
	}
	vals, err := v.Realizations()
	if err != nil {
		return nil, err
	}
	return &Value{time: v.FiltrationTime(), values: vals}, nil
}

func (v *Value) FiltrationTime() float64 { return v.time }
func (v *Value) TypePriority() int       { return TypePriority }
func (v *Value) IsDeterministic() bool   { return v.det }

func (v *Value) Size() int {
	if v.det {
		return 1
	}
	return len(v.values)
}

func (v *Value) DoubleValue() (float64, error) {
	if !v.det {
		return 0, stochastic.ErrNonDeterministic
	}
	return v.value, nil
}

func (v *Value) Realizations() ([]float64, error) {
	if v.det {
		return []float64{v.value}, nil
	}
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out, nil
}

// apply maps op over the realizations, keeping the filtration time.
func (v *Value) apply(op func(x float64) float64) (stochastic.Var, error) {
	return v.applyAt(v.time, op)
}

func (v *Value) applyAt(time float64, op func(x float64) float64) (stochastic.Var, error) {
	if v.det {
		return Scalar(time, op(v.value)), nil
	}
	out := make([]float64, len(v.values))
	for i, x := range v.values {
		out[i] = op(x)
	}
	return &Value{time: time, values: out}, nil
}

// zip combines v with other elementwise. Callers have already handled the
// priority check; zip only handles the determinism case split.
func (v *Value) zip(other stochastic.Var, op func(x, y float64) float64) (stochastic.Var, error) {
	time := math.Max(v.time, other.FiltrationTime())
	if other.IsDeterministic() {
		y, err := other.DoubleValue()
		if err != nil {
			return nil, err
		}
		return v.applyAt(time, func(x float64) float64 { return op(x, y) })
	}
	ys, err := other.Realizations()
	if err != nil {
		return nil, err
	}
	if v.det {
		out := make([]float64, len(ys))
		for i, y := range ys {
			out[i] = op(v.value, y)
		}
		return &Value{time: time, values: out}, nil
	}
	if len(v.values) != len(ys) {
		return nil, errors.Errorf("path count mismatch: %d vs %d", len(v.values), len(ys))
	}
	out := make([]float64, len(ys))
	for i, y := range ys {
		out[i] = op(v.values[i], y)
	}
	return &Value{time: time, values: out}, nil
}

func (v *Value) AddScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return x + c })
}

func (v *Value) SubScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return x - c })
}

func (v *Value) SubFromScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return c - x })
}

func (v *Value) MultScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return x * c })
}

func (v *Value) DivScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return x / c })
}

func (v *Value) DivFromScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return c / x })
}

func (v *Value) Pow(exponent float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return math.Pow(x, exponent) })
}

func (v *Value) CapScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return math.Min(x, c) })
}

func (v *Value) FloorScalar(c float64) (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return math.Max(x, c) })
}

func (v *Value) Sqrt() (stochastic.Var, error) { return v.apply(math.Sqrt) }
func (v *Value) Exp() (stochastic.Var, error)  { return v.apply(math.Exp) }
func (v *Value) Log() (stochastic.Var, error)  { return v.apply(math.Log) }
func (v *Value) Abs() (stochastic.Var, error)  { return v.apply(math.Abs) }

func (v *Value) Invert() (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return 1 / x })
}

func (v *Value) Squared() (stochastic.Var, error) {
	return v.apply(func(x float64) float64 { return x * x })
}

func (v *Value) Add(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Add(v)
	}
	return v.zip(other, func(x, y float64) float64 { return x + y })
}

func (v *Value) Sub(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.SubFrom(v)
	}
	return v.zip(other, func(x, y float64) float64 { return x - y })
}

func (v *Value) SubFrom(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Sub(v)
	}
	return v.zip(other, func(x, y float64) float64 { return y - x })
}

func (v *Value) Mult(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Mult(v)
	}
	return v.zip(other, func(x, y float64) float64 { return x * y })
}

func (v *Value) Div(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.DivFrom(v)
	}
	return v.zip(other, func(x, y float64) float64 { return x / y })
}

func (v *Value) DivFrom(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Div(v)
	}
	return v.zip(other, func(x, y float64) float64 { return y / x })
}

func (v *Value) Cap(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Cap(v)
	}
	return v.zip(other, math.Min)
}

func (v *Value) Floor(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Floor(v)
	}
	return v.zip(other, math.Max)
}

func (v *Value) Accrue(rate stochastic.Var, periodLength float64) (stochastic.Var, error) {
	if rate.TypePriority() > TypePriority {
		accrual, err := rate.MultScalar(periodLength)
		if err != nil {
			return nil, err
		}
		accrual, err = accrual.AddScalar(1)
		if err != nil {
			return nil, err
		}
		return accrual.Mult(v)
	}
	return v.zip(rate, func(x, r float64) float64 { return x * (1 + r*periodLength) })
}

func (v *Value) Discount(rate stochastic.Var, periodLength float64) (stochastic.Var, error) {
	if rate.TypePriority() > TypePriority {
		accrual, err := rate.MultScalar(periodLength)
		if err != nil {
			return nil, err
		}
		accrual, err = accrual.AddScalar(1)
		if err != nil {
			return nil, err
		}
		accrual, err = accrual.Invert()
		if err != nil {
			return nil, err
		}
		return accrual.Mult(v)
	}
	return v.zip(rate, func(x, r float64) float64 { return x / (1 + r*periodLength) })
}

func (v *Value) AddProduct(factor1, factor2 stochastic.Var) (stochastic.Var, error) {
	product, err := factor1.Mult(factor2)
	if err != nil {
		return nil, err
	}
	return v.Add(product)
}

func (v *Value) AddProductScalar(factor1 stochastic.Var, factor2 float64) (stochastic.Var, error) {
	product, err := factor1.MultScalar(factor2)
	if err != nil {
		return nil, err
	}
	return v.Add(product)
}

func (v *Value) AddRatio(numerator, denominator stochastic.Var) (stochastic.Var, error) {
	ratio, err := numerator.Div(denominator)
	if err != nil {
		return nil, err
	}
	return v.Add(ratio)
}

func (v *Value) SubRatio(numerator, denominator stochastic.Var) (stochastic.Var, error) {
	ratio, err := numerator.Div(denominator)
	if err != nil {
		return nil, err
	}
	return v.Sub(ratio)
}

func (v *Value) Average() (float64, error) {
	if v.det {
		return v.value, nil
	}
	if len(v.values) == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(v.values, nil), nil
}

func (v *Value) AverageWeighted(probabilities stochastic.Var) (float64, error) {
	weighted, err := v.Mult(probabilities)
	if err != nil {
		return 0, err
	}
	return weighted.Average()
}

// Variance is the population variance E[X^2] - E[X]^2.
func (v *Value) Variance() (float64, error) {
	if v.det {
		return 0, nil
	}
	if len(v.values) == 0 {
		return math.NaN(), nil
	}
	mean := stat.Mean(v.values, nil)
	return stat.MomentAbout(2, v.values, mean, nil), nil
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
	if v.Size() == 0 {
		return math.NaN(), nil
	}
	variance, err := v.Variance()
	if err != nil {
		return 0, err
	}
	n := float64(v.Size())
	return variance * n / (n - 1), nil
}

func (v *Value) StandardDeviation() (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.Size() == 0 {
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
	if v.Size() == 0 {
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
	if v.Size() == 0 {
		return math.NaN(), nil
	}
	sd, err := v.StandardDeviation()
	if err != nil {
		return 0, err
	}
	return sd / math.Sqrt(float64(v.Size())), nil
}

func (v *Value) StandardErrorWeighted(probabilities stochastic.Var) (float64, error) {
	if v.det {
		return 0, nil
	}
	if v.Size() == 0 {
		return math.NaN(), nil
	}
	sd, err := v.StandardDeviationWeighted(probabilities)
	if err != nil {
		return 0, err
	}
	return sd / math.Sqrt(float64(v.Size())), nil
}

func (v *Value) Min() (float64, error) {
	if v.det {
		return v.value, nil
	}
	if len(v.values) == 0 {
		return math.NaN(), nil
	}
	return floats.Min(v.values), nil
}

func (v *Value) Max() (float64, error) {
	if v.det {
		return v.value, nil
	}
	if len(v.values) == 0 {
		return math.NaN(), nil
	}
	return floats.Max(v.values), nil
}

func (v *Value) Quantile(q float64) (float64, error) {
	if v.det {
		return v.value, nil
	}
	if len(v.values) == 0 {
		return math.NaN(), nil
	}
	sorted := make([]float64, len(v.values))
	copy(sorted, v.values)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil), nil
}
