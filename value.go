package cuvec

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/finsim/cuvec/cudriver"
	"github.com/finsim/cuvec/device"
	"github.com/finsim/cuvec/stochastic"
)

// TypePriority of device-resident variables. It exceeds the host
// implementation's, so mixed operations run on the device.
const TypePriority = 20

// Threads per block for elementwise kernel launches.
const elementBlockSize = 256

// Value is an immutable random variable on a device session. It is either
// deterministic (a single host float64) or stochastic (a device buffer of one
// float32 per path). The zero value is not usable; use the constructors.
type Value struct {
	sess *device.Session
	time float64

	n   int                // number of realizations
	ptr cudriver.DevicePtr // device buffer, stochastic case

	det bool
	val float64 // deterministic case
}

var _ stochastic.Var = (*Value)(nil)

// New uploads values as a stochastic variable at the given filtration time.
// Realizations are stored in single precision.
func New(sess *device.Session, time float64, values []float64) (*Value, error) {
	vals := make([]float32, len(values))
	for i, x := range values {
		vals[i] = float32(x)
	}
	return NewFloat32(sess, time, vals)
}

// NewFloat32 uploads single-precision realizations without conversion.
func NewFloat32(sess *device.Session, time float64, values []float32) (*Value, error) {
	ptr, err := sess.NewBuffer(values)
	if err != nil {
		return nil, errors.WithMessage(err, "uploading realizations")
	}
	return newStochastic(sess, time, ptr, len(values)), nil
}

// Scalar creates a deterministic variable. No device memory is involved until
// it is mixed with a stochastic operand.
func Scalar(sess *device.Session, time, value float64) *Value {
	return &Value{sess: sess, time: time, det: true, val: value}
}

// FromVar materializes any variable on the given session. Device-resident
// values of the same session pass through unchanged.
func FromVar(sess *device.Session, v stochastic.Var) (*Value, error) {
	if dv, ok := v.(*Value); ok && dv.sess == sess {
		return dv, nil
	}
	if v.IsDeterministic() {
		x, err := v.DoubleValue()
		if err != nil {
			return nil, err
		}
		return Scalar(sess, v.FiltrationTime(), x), nil
	}
	vals, err := v.Realizations()
	if err != nil {
		return nil, err
	}
	return New(sess, v.FiltrationTime(), vals)
}

// FromDevice wraps an already-resident device buffer of n realizations. The
// session's pool takes ownership: once the value becomes unreachable the
// buffer joins the free list for its size and may be recycled.
func FromDevice(sess *device.Session, time float64, ptr cudriver.DevicePtr, n int) *Value {
	return newStochastic(sess, time, ptr, n)
}

// newStochastic wraps a pool-acquired buffer and registers the value as its
// owner, so the buffer returns to the pool when the value becomes unreachable.
func newStochastic(sess *device.Session, time float64, ptr cudriver.DevicePtr, n int) *Value {
	v := &Value{sess: sess, time: time, n: n, ptr: ptr}
	device.Register(sess.Pool(), v, ptr, n)
	return v
}

// detAt derives a deterministic result on the same session.
func (v *Value) detAt(time, value float64) *Value {
	return &Value{sess: v.sess, time: time, det: true, val: value}
}

// toValue brings an operand onto v's session. Deterministic operands stay on
// the host; stochastic ones are uploaded unless already resident here.
func (v *Value) toValue(o stochastic.Var) (*Value, error) {
	return FromVar(v.sess, o)
}

// Session returns the device session the value lives on.
func (v *Value) Session() *device.Session { return v.sess }

func (v *Value) FiltrationTime() float64 { return v.time }
func (v *Value) TypePriority() int       { return TypePriority }
func (v *Value) IsDeterministic() bool   { return v.det }

func (v *Value) Size() int {
	if v.det {
		return 1
	}
	return v.n
}

func (v *Value) DoubleValue() (float64, error) {
	if !v.det {
		return 0, stochastic.ErrNonDeterministic
	}
	return v.val, nil
}

// Realizations copies the device buffer back to the host, widened to float64.
func (v *Value) Realizations() ([]float64, error) {
	if v.det {
		return []float64{v.val}, nil
	}
	vals, err := v.sess.ReadBuffer(v.ptr, v.n)
	runtime.KeepAlive(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, x := range vals {
		out[i] = float64(x)
	}
	return out, nil
}

// runKernel launches an elementwise kernel producing a fresh n-element buffer:
// arguments are the element count, the input buffers, the broadcast scalars
// and the output buffer, in that order. The result value is registered before
// the launch, so the buffer is reclaimed even when the launch fails.
func runKernel(sess *device.Session, kernel string, time float64, n int, inputs []*Value, scalars []float32) (*Value, error) {
	ptr, err := sess.Pool().Acquire(n)
	if err != nil {
		return nil, err
	}
	result := newStochastic(sess, time, ptr, n)
	if n == 0 {
		return result, nil
	}

	fn, err := sess.Kernel(kernel)
	if err != nil {
		return nil, err
	}
	params := make([]cudriver.KernelParam, 0, len(inputs)+len(scalars)+2)
	params = append(params, cudriver.Int32Param(int32(n)))
	for _, in := range inputs {
		params = append(params, cudriver.PtrParam(in.ptr))
	}
	for _, c := range scalars {
		params = append(params, cudriver.Float32Param(c))
	}
	params = append(params, cudriver.PtrParam(ptr))

	grid := (n + elementBlockSize - 1) / elementBlockSize
	err = sess.Launch(fn, grid, elementBlockSize, 0, params)
	for _, in := range inputs {
		runtime.KeepAlive(in)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "launching kernel %q", kernel)
	}
	return result, nil
}
