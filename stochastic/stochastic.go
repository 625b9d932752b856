// Package stochastic defines the interface of a random variable inside a
// Monte-Carlo simulation: a vector of realizations indexed by path, or a
// deterministic value logically broadcast across all paths, together with
// the filtration time at which the value is measurable.
//
// Implementations are immutable: every operation returns a new variable and
// never mutates its operands. When operands of different kinds are mixed,
// the kind with the higher type priority performs the combined computation --
// each binary operation starts by delegating to its argument when the
// argument's priority is strictly higher, using the operand-reversed form
// (SubFrom, DivFrom) for non-commutative operations. This keeps augmented
// representations (automatic differentiation, device-resident storage) in
// charge of results regardless of operand order, with ordinary interface
// calls instead of runtime type inspection.
package stochastic

import "github.com/pkg/errors"

// ErrNotSupported is returned by operations a representation cannot perform,
// such as selection and sorting statistics on device-resident realizations.
var ErrNotSupported = errors.New("operation not supported in this representation")

// ErrNonDeterministic is returned by DoubleValue on a variable that carries
// per-path realizations.
var ErrNonDeterministic = errors.New("random variable is non-deterministic")

// Var is one random variable. The filtration time of any operation's result
// is the maximum of its operands' times: a later measurability time
// dominates.
type Var interface {
	// FiltrationTime is the simulation time at which the value is known.
	// It is metadata only and never enters the arithmetic.
	FiltrationTime() float64

	// TypePriority ranks this representation for binary-operator dispatch.
	TypePriority() int

	// Size is the number of realizations; 1 for deterministic variables.
	Size() int

	// IsDeterministic reports whether the variable is a single value
	// broadcast across all paths.
	IsDeterministic() bool

	// DoubleValue returns the value of a deterministic variable and
	// ErrNonDeterministic otherwise.
	DoubleValue() (float64, error)

	// Realizations materializes the per-path values on the host. For a
	// deterministic variable it is the one-element slice of its value.
	Realizations() ([]float64, error)

	// Scalar arithmetic.
	AddScalar(c float64) (Var, error)
	SubScalar(c float64) (Var, error)
	SubFromScalar(c float64) (Var, error) // c - v
	MultScalar(c float64) (Var, error)
	DivScalar(c float64) (Var, error)
	DivFromScalar(c float64) (Var, error) // c / v
	Pow(exponent float64) (Var, error)
	CapScalar(c float64) (Var, error)   // min(v, c)
	FloorScalar(c float64) (Var, error) // max(v, c)

	// Elementwise functions.
	Sqrt() (Var, error)
	Exp() (Var, error)
	Log() (Var, error)
	Abs() (Var, error)
	Invert() (Var, error)
	Squared() (Var, error)

	// Pairwise arithmetic, dispatched by type priority.
	Add(other Var) (Var, error)
	Sub(other Var) (Var, error)
	SubFrom(other Var) (Var, error) // other - v
	Mult(other Var) (Var, error)
	Div(other Var) (Var, error)
	DivFrom(other Var) (Var, error) // other / v
	Cap(other Var) (Var, error)
	Floor(other Var) (Var, error)

	// Composite operations of the simulation layer.
	Accrue(rate Var, periodLength float64) (Var, error)   // v * (1 + rate*periodLength)
	Discount(rate Var, periodLength float64) (Var, error) // v / (1 + rate*periodLength)
	AddProduct(factor1, factor2 Var) (Var, error)
	AddProductScalar(factor1 Var, factor2 float64) (Var, error)
	AddRatio(numerator, denominator Var) (Var, error)
	SubRatio(numerator, denominator Var) (Var, error)

	// Aggregate statistics across paths. An empty variable yields NaN.
	Average() (float64, error)
	AverageWeighted(probabilities Var) (float64, error)
	Variance() (float64, error)
	VarianceWeighted(probabilities Var) (float64, error)
	SampleVariance() (float64, error)
	StandardDeviation() (float64, error)
	StandardDeviationWeighted(probabilities Var) (float64, error)
	StandardError() (float64, error)
	StandardErrorWeighted(probabilities Var) (float64, error)
	Min() (float64, error)
	Max() (float64, error)
	Quantile(q float64) (float64, error)
}
