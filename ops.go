package cuvec

import (
	"math"

	"github.com/finsim/cuvec/device"
	"github.com/finsim/cuvec/stochastic"
)

// scalarOp applies a one-input one-scalar kernel, with the deterministic case
// evaluated on the host in double precision.
func (v *Value) scalarOp(kernel string, c float32, host func(x float64) float64) (stochastic.Var, error) {
	if v.det {
		return v.detAt(v.time, host(v.val)), nil
	}
	return runKernel(v.sess, kernel, v.time, v.n, []*Value{v}, []float32{c})
}

func (v *Value) unaryOp(kernel string, host func(x float64) float64) (stochastic.Var, error) {
	if v.det {
		return v.detAt(v.time, host(v.val)), nil
	}
	return runKernel(v.sess, kernel, v.time, v.n, []*Value{v}, nil)
}

func (v *Value) AddScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelAddScalar, float32(c), func(x float64) float64 { return x + c })
}

func (v *Value) SubScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelSubScalar, float32(c), func(x float64) float64 { return x - c })
}

func (v *Value) SubFromScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelBusScalar, float32(c), func(x float64) float64 { return c - x })
}

func (v *Value) MultScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelMultScalar, float32(c), func(x float64) float64 { return x * c })
}

func (v *Value) DivScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelDivScalar, float32(c), func(x float64) float64 { return x / c })
}

func (v *Value) DivFromScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelVidScalar, float32(c), func(x float64) float64 { return c / x })
}

func (v *Value) Pow(exponent float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelPow, float32(exponent), func(x float64) float64 { return math.Pow(x, exponent) })
}

func (v *Value) CapScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelCapByScalar, float32(c), func(x float64) float64 { return math.Min(x, c) })
}

func (v *Value) FloorScalar(c float64) (stochastic.Var, error) {
	return v.scalarOp(device.KernelFloorByScalar, float32(c), func(x float64) float64 { return math.Max(x, c) })
}

func (v *Value) Sqrt() (stochastic.Var, error) {
	return v.unaryOp(device.KernelSqrt, math.Sqrt)
}

func (v *Value) Exp() (stochastic.Var, error) {
	return v.unaryOp(device.KernelExp, math.Exp)
}

func (v *Value) Log() (stochastic.Var, error) {
	return v.unaryOp(device.KernelLog, math.Log)
}

func (v *Value) Abs() (stochastic.Var, error) {
	return v.unaryOp(device.KernelAbs, math.Abs)
}

func (v *Value) Invert() (stochastic.Var, error) {
	return v.unaryOp(device.KernelInvert, func(x float64) float64 { return 1 / x })
}

func (v *Value) Squared() (stochastic.Var, error) {
	return v.Mult(v)
}
