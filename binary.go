package cuvec

import (
	"math"

	"github.com/pkg/errors"

	"github.com/finsim/cuvec/device"
	"github.com/finsim/cuvec/stochastic"
)

// pairPlan names the kernels of one binary operation: the vector-vector form
// and the scalar forms for a deterministic left or right operand. Operations
// that are not commutative use the operand-reversed scalar kernel on the
// deterministic-left side.
type pairPlan struct {
	pair        string
	leftScalar  string // left deterministic: kernel(n, right, c, out) = c op x
	rightScalar string // right deterministic: kernel(n, left, c, out) = x op c
	host        func(x, y float64) float64
}

var (
	addPlan = pairPlan{device.KernelAdd, device.KernelAddScalar, device.KernelAddScalar,
		func(x, y float64) float64 { return x + y }}
	subPlan = pairPlan{device.KernelSub, device.KernelBusScalar, device.KernelSubScalar,
		func(x, y float64) float64 { return x - y }}
	multPlan = pairPlan{device.KernelMult, device.KernelMultScalar, device.KernelMultScalar,
		func(x, y float64) float64 { return x * y }}
	divPlan = pairPlan{device.KernelDiv, device.KernelVidScalar, device.KernelDivScalar,
		func(x, y float64) float64 { return x / y }}
	capPlan   = pairPlan{device.KernelCap, device.KernelCapByScalar, device.KernelCapByScalar, math.Min}
	floorPlan = pairPlan{device.KernelFloor, device.KernelFloorByScalar, device.KernelFloorByScalar, math.Max}
)

// pairwise evaluates left op right on v's session. The caller has already
// delegated to higher-priority operands; one of left and right is v itself.
func (v *Value) pairwise(left, right stochastic.Var, plan pairPlan) (stochastic.Var, error) {
	time := math.Max(left.FiltrationTime(), right.FiltrationTime())

	if left.IsDeterministic() && right.IsDeterministic() {
		x, err := left.DoubleValue()
		if err != nil {
			return nil, err
		}
		y, err := right.DoubleValue()
		if err != nil {
			return nil, err
		}
		return v.detAt(time, plan.host(x, y)), nil
	}

	if right.IsDeterministic() {
		y, err := right.DoubleValue()
		if err != nil {
			return nil, err
		}
		a, err := v.toValue(left)
		if err != nil {
			return nil, err
		}
		return runKernel(v.sess, plan.rightScalar, time, a.n, []*Value{a}, []float32{float32(y)})
	}

	b, err := v.toValue(right)
	if err != nil {
		return nil, err
	}
	if left.IsDeterministic() {
		x, err := left.DoubleValue()
		if err != nil {
			return nil, err
		}
		return runKernel(v.sess, plan.leftScalar, time, b.n, []*Value{b}, []float32{float32(x)})
	}

	a, err := v.toValue(left)
	if err != nil {
		return nil, err
	}
	if a.n != b.n {
		return nil, errors.Errorf("path count mismatch: %d vs %d", a.n, b.n)
	}
	return runKernel(v.sess, plan.pair, time, a.n, []*Value{a, b}, nil)
}

func (v *Value) Add(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Add(v)
	}
	return v.pairwise(v, other, addPlan)
}

func (v *Value) Sub(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.SubFrom(v)
	}
	return v.pairwise(v, other, subPlan)
}

func (v *Value) SubFrom(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Sub(v)
	}
	return v.pairwise(other, v, subPlan)
}

func (v *Value) Mult(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Mult(v)
	}
	return v.pairwise(v, other, multPlan)
}

func (v *Value) Div(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.DivFrom(v)
	}
	return v.pairwise(v, other, divPlan)
}

func (v *Value) DivFrom(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Div(v)
	}
	return v.pairwise(other, v, divPlan)
}

func (v *Value) Cap(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Cap(v)
	}
	return v.pairwise(v, other, capPlan)
}

func (v *Value) Floor(other stochastic.Var) (stochastic.Var, error) {
	if other.TypePriority() > TypePriority {
		return other.Floor(v)
	}
	return v.pairwise(v, other, floorPlan)
}

// Accrue computes v * (1 + rate*periodLength). Stochastic rate and stochastic
// v fuse into a single kernel; other cases reduce to scalar kernels.
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
	time := math.Max(v.time, rate.FiltrationTime())

	if rate.IsDeterministic() {
		r, err := rate.DoubleValue()
		if err != nil {
			return nil, err
		}
		if v.det {
			return v.detAt(time, v.val*(1+r*periodLength)), nil
		}
		return runKernel(v.sess, device.KernelMultScalar, time, v.n,
			[]*Value{v}, []float32{float32(1 + r*periodLength)})
	}

	b, err := v.toValue(rate)
	if err != nil {
		return nil, err
	}
	if v.det {
		// value*(1 + rate*p) == rate*(p*value) + value
		scaled, err := runKernel(v.sess, device.KernelMultScalar, time, b.n,
			[]*Value{b}, []float32{float32(periodLength * v.val)})
		if err != nil {
			return nil, err
		}
		return runKernel(v.sess, device.KernelAddScalar, time, scaled.n,
			[]*Value{scaled}, []float32{float32(v.val)})
	}
	if v.n != b.n {
		return nil, errors.Errorf("path count mismatch: %d vs %d", v.n, b.n)
	}
	return runKernel(v.sess, device.KernelAccrue, time, v.n,
		[]*Value{v, b}, []float32{float32(periodLength)})
}

// Discount computes v / (1 + rate*periodLength).
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
	time := math.Max(v.time, rate.FiltrationTime())

	if rate.IsDeterministic() {
		r, err := rate.DoubleValue()
		if err != nil {
			return nil, err
		}
		if v.det {
			return v.detAt(time, v.val/(1+r*periodLength)), nil
		}
		return runKernel(v.sess, device.KernelDivScalar, time, v.n,
			[]*Value{v}, []float32{float32(1 + r*periodLength)})
	}

	b, err := v.toValue(rate)
	if err != nil {
		return nil, err
	}
	if v.det {
		accrual, err := runKernel(v.sess, device.KernelMultScalar, time, b.n,
			[]*Value{b}, []float32{float32(periodLength)})
		if err != nil {
			return nil, err
		}
		accrual, err = runKernel(v.sess, device.KernelAddScalar, time, accrual.n,
			[]*Value{accrual}, []float32{1})
		if err != nil {
			return nil, err
		}
		return runKernel(v.sess, device.KernelVidScalar, time, accrual.n,
			[]*Value{accrual}, []float32{float32(v.val)})
	}
	if v.n != b.n {
		return nil, errors.Errorf("path count mismatch: %d vs %d", v.n, b.n)
	}
	return runKernel(v.sess, device.KernelDiscount, time, v.n,
		[]*Value{v, b}, []float32{float32(periodLength)})
}

// AddProduct computes v + factor1*factor2, fused into one kernel when v and
// both factors are stochastic.
func (v *Value) AddProduct(factor1, factor2 stochastic.Var) (stochastic.Var, error) {
	if factor1.TypePriority() > TypePriority || factor2.TypePriority() > TypePriority {
		product, err := factor1.Mult(factor2)
		if err != nil {
			return nil, err
		}
		return product.Add(v)
	}
	// The scalar factor, if any, goes second.
	if factor1.IsDeterministic() && !factor2.IsDeterministic() {
		factor1, factor2 = factor2, factor1
	}
	if factor2.IsDeterministic() {
		c, err := factor2.DoubleValue()
		if err != nil {
			return nil, err
		}
		return v.AddProductScalar(factor1, c)
	}
	if v.det {
		product, err := factor1.Mult(factor2)
		if err != nil {
			return nil, err
		}
		return product.Add(v)
	}

	a, err := v.toValue(factor1)
	if err != nil {
		return nil, err
	}
	b, err := v.toValue(factor2)
	if err != nil {
		return nil, err
	}
	if a.n != v.n || b.n != v.n {
		return nil, errors.Errorf("path count mismatch: %d, %d and %d", v.n, a.n, b.n)
	}
	time := math.Max(v.time, math.Max(factor1.FiltrationTime(), factor2.FiltrationTime()))
	return runKernel(v.sess, device.KernelAddProduct, time, v.n, []*Value{v, a, b}, nil)
}

// AddProductScalar computes v + factor1*factor2 for a broadcast factor2.
func (v *Value) AddProductScalar(factor1 stochastic.Var, factor2 float64) (stochastic.Var, error) {
	if factor1.TypePriority() > TypePriority {
		product, err := factor1.MultScalar(factor2)
		if err != nil {
			return nil, err
		}
		return product.Add(v)
	}
	time := math.Max(v.time, factor1.FiltrationTime())

	if factor1.IsDeterministic() {
		x, err := factor1.DoubleValue()
		if err != nil {
			return nil, err
		}
		if v.det {
			return v.detAt(time, v.val+x*factor2), nil
		}
		return runKernel(v.sess, device.KernelAddScalar, time, v.n,
			[]*Value{v}, []float32{float32(x * factor2)})
	}

	a, err := v.toValue(factor1)
	if err != nil {
		return nil, err
	}
	if v.det {
		scaled, err := runKernel(v.sess, device.KernelMultScalar, time, a.n,
			[]*Value{a}, []float32{float32(factor2)})
		if err != nil {
			return nil, err
		}
		return runKernel(v.sess, device.KernelAddScalar, time, scaled.n,
			[]*Value{scaled}, []float32{float32(v.val)})
	}
	if a.n != v.n {
		return nil, errors.Errorf("path count mismatch: %d vs %d", v.n, a.n)
	}
	return runKernel(v.sess, device.KernelAddProductScalar, time, v.n,
		[]*Value{v, a}, []float32{float32(factor2)})
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
