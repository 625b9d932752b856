package cudriver

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// The simulated kernel set. Names, argument orders and semantics match the
// precompiled device module one for one:
//
//	scalar ops:   (n, in, c, out)
//	unary ops:    (n, in, out)
//	pairwise ops: (n, a, b, out)
//	accrue/discount: (n, in, rate, period, out)
//	addProduct:   (n, in, f1, f2, out)
//	addProduct_vs:(n, in, f1, c, out)
//	reducePartial:(n, in, out) -- each block sums 2*blockDim elements
var simKernels = map[string]simKernel{
	"capByScalar":   scalarKernel(math32.Min),
	"floorByScalar": scalarKernel(math32.Max),
	"addScalar":     scalarKernel(func(x, c float32) float32 { return x + c }),
	"subScalar":     scalarKernel(func(x, c float32) float32 { return x - c }),
	"busScalar":     scalarKernel(func(x, c float32) float32 { return -x + c }),
	"multScalar":    scalarKernel(func(x, c float32) float32 { return x * c }),
	"divScalar":     scalarKernel(func(x, c float32) float32 { return x / c }),
	"vidScalar":     scalarKernel(func(x, c float32) float32 { return c / x }),
	"cuPow":         scalarKernel(math32.Pow),
	"cuSqrt":        unaryKernel(math32.Sqrt),
	"cuExp":         unaryKernel(math32.Exp),
	"cuLog":         unaryKernel(math32.Log),
	"invert":        unaryKernel(func(x float32) float32 { return 1 / x }),
	"cuAbs":         unaryKernel(math32.Abs),
	"cap":           pairwiseKernel(math32.Min),
	"cuFloor":       pairwiseKernel(math32.Max),
	"add":           pairwiseKernel(func(x, y float32) float32 { return x + y }),
	"sub":           pairwiseKernel(func(x, y float32) float32 { return x - y }),
	"mult":          pairwiseKernel(func(x, y float32) float32 { return x * y }),
	"cuDiv":         pairwiseKernel(func(x, y float32) float32 { return x / y }),
	"accrue":        rateKernel(func(x, r, p float32) float32 { return x * (1 + r*p) }),
	"discount":      rateKernel(func(x, r, p float32) float32 { return x / (1 + r*p) }),
	"addProduct":    addProductKernel,
	"addProduct_vs": addProductScalarKernel,
	"reducePartial": reducePartialKernel,
}

// kernelArgs unpacks the common leading arguments (element count) and checks
// the argument count.
func kernelArgs(params []KernelParam, want int) (int32, error) {
	if len(params) != want {
		return 0, errors.Errorf("got %d kernel arguments, want %d", len(params), want)
	}
	if params[0].kind != paramInt32 {
		return 0, errors.New("first kernel argument must be the element count")
	}
	return params[0].i32, nil
}

// span caps the element range at what the launch geometry can cover: threads
// beyond gridDim*blockDim do not exist, exactly as on the device.
func span(n int32, gridX, blockX int) int {
	covered := gridX * blockX
	if int(n) < covered {
		return int(n)
	}
	return covered
}

func scalarKernel(op func(x, c float32) float32) simKernel {
	return func(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
		n, err := kernelArgs(params, 4)
		if err != nil {
			return err
		}
		in, err := s.f32(params[1].ptr)
		if err != nil {
			return err
		}
		c := params[2].f32
		out, err := s.f32(params[3].ptr)
		if err != nil {
			return err
		}
		for i := 0; i < span(n, gridX, blockX); i++ {
			out[i] = op(in[i], c)
		}
		return nil
	}
}

func unaryKernel(op func(x float32) float32) simKernel {
	return func(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
		n, err := kernelArgs(params, 3)
		if err != nil {
			return err
		}
		in, err := s.f32(params[1].ptr)
		if err != nil {
			return err
		}
		out, err := s.f32(params[2].ptr)
		if err != nil {
			return err
		}
		for i := 0; i < span(n, gridX, blockX); i++ {
			out[i] = op(in[i])
		}
		return nil
	}
}

func pairwiseKernel(op func(x, y float32) float32) simKernel {
	return func(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
		n, err := kernelArgs(params, 4)
		if err != nil {
			return err
		}
		a, err := s.f32(params[1].ptr)
		if err != nil {
			return err
		}
		b, err := s.f32(params[2].ptr)
		if err != nil {
			return err
		}
		out, err := s.f32(params[3].ptr)
		if err != nil {
			return err
		}
		for i := 0; i < span(n, gridX, blockX); i++ {
			out[i] = op(a[i], b[i])
		}
		return nil
	}
}

func rateKernel(op func(x, r, p float32) float32) simKernel {
	return func(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
		n, err := kernelArgs(params, 5)
		if err != nil {
			return err
		}
		in, err := s.f32(params[1].ptr)
		if err != nil {
			return err
		}
		rate, err := s.f32(params[2].ptr)
		if err != nil {
			return err
		}
		p := params[3].f32
		out, err := s.f32(params[4].ptr)
		if err != nil {
			return err
		}
		for i := 0; i < span(n, gridX, blockX); i++ {
			out[i] = op(in[i], rate[i], p)
		}
		return nil
	}
}

func addProductKernel(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
	n, err := kernelArgs(params, 5)
	if err != nil {
		return err
	}
	in, err := s.f32(params[1].ptr)
	if err != nil {
		return err
	}
	f1, err := s.f32(params[2].ptr)
	if err != nil {
		return err
	}
	f2, err := s.f32(params[3].ptr)
	if err != nil {
		return err
	}
	out, err := s.f32(params[4].ptr)
	if err != nil {
		return err
	}
	for i := 0; i < span(n, gridX, blockX); i++ {
		out[i] = in[i] + f1[i]*f2[i]
	}
	return nil
}

func addProductScalarKernel(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
	n, err := kernelArgs(params, 5)
	if err != nil {
		return err
	}
	in, err := s.f32(params[1].ptr)
	if err != nil {
		return err
	}
	f1, err := s.f32(params[2].ptr)
	if err != nil {
		return err
	}
	c := params[3].f32
	out, err := s.f32(params[4].ptr)
	if err != nil {
		return err
	}
	for i := 0; i < span(n, gridX, blockX); i++ {
		out[i] = in[i] + f1[i]*c
	}
	return nil
}

// reducePartialKernel sums disjoint chunks of 2*blockX elements, one chunk
// per block, writing one partial sum per block.
func reducePartialKernel(s *Sim, gridX, blockX, _ int, params []KernelParam) error {
	n, err := kernelArgs(params, 3)
	if err != nil {
		return err
	}
	in, err := s.f32(params[1].ptr)
	if err != nil {
		return err
	}
	out, err := s.f32(params[2].ptr)
	if err != nil {
		return err
	}
	chunk := 2 * blockX
	for b := 0; b < gridX; b++ {
		var sum float32
		for i := b * chunk; i < (b+1)*chunk && i < int(n); i++ {
			sum += in[i]
		}
		out[b] = sum
	}
	return nil
}
