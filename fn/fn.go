// Package fn implements the Function capability interface used by
// deterministic nodes: dimension checking, value checking, evaluation
// and discrete-value propagation. Functions are polymorphic values
// implementing a single interface rather than a class hierarchy, so
// the hot evaluation path stays monomorphic per call site.
//
// String-keyed lookup of a Function by name belongs to the (out of
// scope) BUGS compiler; this package only supplies the concrete
// Function values such a registry would dispatch to.
package fn

import (
	"math"

	"github.com/rlouf/gmc/gmcerr"
	"github.com/rlouf/gmc/tensor"
)

// Function is the capability interface every deterministic function
// must implement.
type Function interface {
	// Name returns the function's registered name, e.g. "pow".
	Name() string

	// CheckParamDims reports whether the parameter shapes are
	// acceptable (arity and broadcast compatibility), independent of
	// values.
	CheckParamDims(paramDims [][]int) bool

	// Dim computes the output shape from the parameter shapes. It is
	// only called after CheckParamDims has accepted paramDims.
	Dim(paramDims [][]int) []int

	// CheckParamValues reports whether the actual parameter values are
	// in the function's domain (e.g. Sqrt rejects negative input).
	CheckParamValues(params []*tensor.Tensor) bool

	// Eval computes the function's value given its parameters,
	// writing into a freshly allocated tensor of shape Dim(paramDims).
	Eval(params []*tensor.Tensor) *tensor.Tensor

	// IsDiscreteValued reports whether the output is discrete given
	// which parameter positions are discrete-valued.
	IsDiscreteValued(paramDiscrete []bool) bool
}

// scalarBinary is embedded by binary elementwise scalar functions
// (Pow, Sum, Prod) that operate position-wise on two equal-shaped
// tensors, broadcasting a scalar against a vector/matrix.
type scalarBinary struct {
	name string
	op   func(x, y float64) float64
}

func (f scalarBinary) Name() string { return f.name }

func (f scalarBinary) CheckParamDims(paramDims [][]int) bool {
	if len(paramDims) != 2 {
		return false
	}
	a, b := paramDims[0], paramDims[1]
	if tensor.SameShape(a, b) {
		return true
	}
	return prodOf(a) == 1 || prodOf(b) == 1
}

func prodOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (f scalarBinary) Dim(paramDims [][]int) []int {
	a, b := paramDims[0], paramDims[1]
	if prodOf(a) >= prodOf(b) {
		return a
	}
	return b
}

func (f scalarBinary) IsDiscreteValued(paramDiscrete []bool) bool {
	return paramDiscrete[0] && paramDiscrete[1]
}

func (f scalarBinary) Eval(params []*tensor.Tensor) *tensor.Tensor {
	x, y := params[0], params[1]
	outDim := f.Dim([][]int{x.Shape(), y.Shape()})
	n := prodOf(outDim)
	out := tensor.New(outDim...)
	xs, ys := x.Data(), y.Data()
	for i := 0; i < n; i++ {
		xi := xs[i%len(xs)]
		yi := ys[i%len(ys)]
		out.SetAt(i, f.op(xi, yi))
	}
	return out
}

// Pow computes base^exponent elementwise. Rejects base<0 with a
// non-integer exponent, and base=0 with a negative exponent, matching
// Biips's BiipsBase/src/functions/Pow.cpp parameter check.
var Pow Function = powFn{scalarBinary{name: "pow", op: math.Pow}}

type powFn struct{ scalarBinary }

func (powFn) CheckParamValues(params []*tensor.Tensor) bool {
	base, exp := params[0].Data(), params[1].Data()
	n := len(base)
	if len(exp) > n {
		n = len(exp)
	}
	for i := 0; i < n; i++ {
		b := base[i%len(base)]
		e := exp[i%len(exp)]
		if b < 0 && e != math.Trunc(e) {
			return false
		}
		if b == 0 && e < 0 {
			return false
		}
	}
	return true
}

// Sum computes the elementwise sum of two equal-shaped (or
// scalar-broadcastable) tensors. Grounded on Biips's
// src/functions/Sum.cpp and the teacher's SumGate (static.go).
var Sum Function = sumFn{scalarBinary{name: "sum", op: func(x, y float64) float64 { return x + y }}}

type sumFn struct{ scalarBinary }

func (sumFn) CheckParamValues(params []*tensor.Tensor) bool { return true }

// Prod computes the elementwise product of two equal-shaped (or
// scalar-broadcastable) tensors. Grounded on Biips's
// src/functions/Multiply.cpp and the teacher's ProdGate.
var Prod Function = prodFn{scalarBinary{name: "prod", op: func(x, y float64) float64 { return x * y }}}

type prodFn struct{ scalarBinary }

func (prodFn) CheckParamValues(params []*tensor.Tensor) bool { return true }

// unaryScalar is embedded by elementwise unary functions.
type unaryScalar struct {
	name string
	op   func(x float64) float64
}

func (f unaryScalar) Name() string { return f.name }

func (f unaryScalar) CheckParamDims(paramDims [][]int) bool { return len(paramDims) == 1 }

func (f unaryScalar) Dim(paramDims [][]int) []int { return paramDims[0] }

func (f unaryScalar) IsDiscreteValued(paramDiscrete []bool) bool { return false }

func (f unaryScalar) Eval(params []*tensor.Tensor) *tensor.Tensor {
	x := params[0]
	out := tensor.New(x.Shape()...)
	for i, v := range x.Data() {
		out.SetAt(i, f.op(v))
	}
	return out
}

// Sqrt rejects negative input, matching
// base/src/functions/UsualFunctions.cpp.
var Sqrt Function = sqrtFn{unaryScalar{name: "sqrt", op: math.Sqrt}}

type sqrtFn struct{ unaryScalar }

func (sqrtFn) CheckParamValues(params []*tensor.Tensor) bool {
	for _, v := range params[0].Data() {
		if v < 0 {
			return false
		}
	}
	return true
}

// Log rejects non-positive input, matching
// base/src/functions/UsualFunctions.cpp.
var Log Function = logFn{unaryScalar{name: "log", op: math.Log}}

type logFn struct{ unaryScalar }

func (logFn) CheckParamValues(params []*tensor.Tensor) bool {
	for _, v := range params[0].Data() {
		if v <= 0 {
			return false
		}
	}
	return true
}

// Probit computes the inverse standard normal CDF (the quantile
// function). It is only defined on the open interval (0,1), matching
// base/src/functions/Probit.cpp.
var Probit Function = probitFn{unaryScalar{name: "probit", op: probitScalar}}

type probitFn struct{ unaryScalar }

func (probitFn) CheckParamValues(params []*tensor.Tensor) bool {
	for _, v := range params[0].Data() {
		if v <= 0 || v >= 1 {
			return false
		}
	}
	return true
}

func probitScalar(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// Phi computes the standard normal CDF, clamped away from exactly 0/1
// as Biips does to keep downstream logit/probit chains finite.
var Phi Function = phiFn{unaryScalar{name: "phi", op: phiScalar}}

type phiFn struct{ unaryScalar }

func (phiFn) CheckParamValues(params []*tensor.Tensor) bool { return true }

func phiScalar(x float64) float64 {
	p := 0.5 * math.Erfc(-x/math.Sqrt2)
	switch {
	case p <= 0:
		return math.SmallestNonzeroFloat64
	case p >= 1:
		return 1 - 2.220446049250313e-16
	default:
		return p
	}
}

// Logistic applies the logistic (sigmoid) function elementwise,
// grounded on the teacher's LogisticGate (static.go), generalized from
// scalar-only to any shape.
var Logistic Function = logisticFn{unaryScalar{name: "logistic", op: logisticScalar}}

type logisticFn struct{ unaryScalar }

func (logisticFn) CheckParamValues(params []*tensor.Tensor) bool { return true }

func logisticScalar(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1 / (1 + z)
	}
	z := math.Exp(x)
	return z / (1 + z)
}

// Logit applies the logit (log-odds) function elementwise, grounded on
// the teacher's LogitGate (static.go). Defined on (0,1) only.
var Logit Function = logitFn{unaryScalar{name: "logit", op: func(x float64) float64 { return math.Log(x / (1 - x)) }}}

type logitFn struct{ unaryScalar }

func (logitFn) CheckParamValues(params []*tensor.Tensor) bool {
	for _, v := range params[0].Data() {
		if v <= 0 || v >= 1 {
			return false
		}
	}
	return true
}

// Identity is the pass-through function; the is-linear visitor in
// package sampler treats it as linear-preserving. It is not itself
// registered under any BUGS-visible name but is useful for tests that
// need a trivial Function.
var Identity Function = identityFn{}

type identityFn struct{}

func (identityFn) Name() string                                  { return "identity" }
func (identityFn) CheckParamDims(paramDims [][]int) bool         { return len(paramDims) == 1 }
func (identityFn) Dim(paramDims [][]int) []int                   { return paramDims[0] }
func (identityFn) CheckParamValues(params []*tensor.Tensor) bool { return true }
func (identityFn) IsDiscreteValued(paramDiscrete []bool) bool    { return paramDiscrete[0] }
func (identityFn) Eval(params []*tensor.Tensor) *tensor.Tensor   { return params[0].Clone() }

// Switch chooses between two variables' values depending on a third
// (the switch) and a threshold: value is Left if Switch<=threshold,
// else Right. Grounded on the teacher's SwitchGate (static.go).
type Switch struct {
	Threshold float64
}

func (Switch) Name() string { return "switch" }

func (Switch) CheckParamDims(paramDims [][]int) bool {
	if len(paramDims) != 3 {
		return false
	}
	return tensor.SameShape(paramDims[1], paramDims[2])
}

func (Switch) Dim(paramDims [][]int) []int { return paramDims[1] }

func (Switch) CheckParamValues(params []*tensor.Tensor) bool { return true }

func (Switch) IsDiscreteValued(paramDiscrete []bool) bool {
	return paramDiscrete[1] && paramDiscrete[2]
}

func (s Switch) Eval(params []*tensor.Tensor) *tensor.Tensor {
	sw, left, right := params[0], params[1], params[2]
	if sw.Scalar() <= s.Threshold {
		return left.Clone()
	}
	return right.Clone()
}

// CheckDimOrPanic asserts CheckParamDims passed, for callers that have
// already validated and want a typed error on an internal invariant
// violation. nodeID identifies the deterministic node under
// construction.
func CheckDimOrPanic(f Function, nodeID int, paramDims [][]int) ([]int, error) {
	if !f.CheckParamDims(paramDims) {
		return nil, gmcerr.NewDimension(nodeID, "function %q rejects parameter shapes %v", f.Name(), paramDims)
	}
	return f.Dim(paramDims), nil
}
