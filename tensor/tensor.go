// Package tensor implements the dense multi-dimensional numeric array
// that backs every node value in the graph: a shape vector plus a flat
// buffer in column-major order, with a sentinel NA value for unset
// slots.
//
// The textual dump format read/written by the (out-of-scope) host tool
// uses R-like literals: `NA`, `c(v1, v2, ...)` for a flat vector, and
// `structure(c(...), .Dim=c(d1, d2, ...))` for a shaped array in
// column-major order. Tensor.String is kept compatible with that
// convention so a host reader/writer can round trip values through
// this package without the core depending on any parsing code itself.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// NA is the sentinel value representing an unset slot.
var NA = math.NaN()

// IsNA reports whether v is the NA sentinel.
func IsNA(v float64) bool {
	return math.IsNaN(v)
}

// Tensor is a dense array with a shape and a column-major value buffer.
type Tensor struct {
	shape []int
	data  []float64
}

// New allocates a Tensor of the given shape, filled with NA.
func New(shape ...int) *Tensor {
	n := prod(shape)
	data := make([]float64, n)
	for i := range data {
		data[i] = NA
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}
}

// NewScalar returns a rank-1, length-1 tensor holding v.
func NewScalar(v float64) *Tensor {
	return &Tensor{shape: []int{1}, data: []float64{v}}
}

// NewVector returns a shape-[n] tensor wrapping data directly (no copy).
func NewVector(data []float64) *Tensor {
	return &Tensor{shape: []int{len(data)}, data: data}
}

// NewWithData returns a tensor of the given shape wrapping data
// directly (no copy). It panics if the buffer length does not match
// the shape's product, mirroring the teacher's fail-fast style for
// programmer errors rather than returning an error for an invariant
// that only internal callers can violate.
func NewWithData(shape []int, data []float64) *Tensor {
	if prod(shape) != len(data) {
		panic(fmt.Sprintf("tensor: shape %v does not match buffer length %d", shape, len(data)))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}
}

func prod(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Shape returns the tensor's shape. The returned slice must not be
// mutated by the caller.
func (t *Tensor) Shape() []int { return t.shape }

// Data returns the flat column-major buffer. The returned slice must
// not be mutated by the caller unless they own the tensor exclusively.
func (t *Tensor) Data() []float64 { return t.data }

// Len returns the number of scalar elements.
func (t *Tensor) Len() int { return len(t.data) }

// IsScalar reports whether the tensor holds exactly one element.
func (t *Tensor) IsScalar() bool { return t.Len() == 1 }

// IsVector reports whether the tensor's shape has at most one
// dimension greater than 1 and rank <= 2 with the data laid out flat;
// concretely: shape has length 1, or length 2 with one dimension equal
// to 1.
func (t *Tensor) IsVector() bool {
	if len(t.shape) > 2 {
		return false
	}
	nontrivial := 0
	for _, d := range t.shape {
		if d > 1 {
			nontrivial++
		}
	}
	return nontrivial <= 1
}

// IsMatrix reports whether the tensor's shape has exactly two
// dimensions (regardless of whether one of them is 1).
func (t *Tensor) IsMatrix() bool { return len(t.shape) == 2 }

// At returns the scalar at the given flat column-major index.
func (t *Tensor) At(i int) float64 { return t.data[i] }

// SetAt sets the scalar at the given flat column-major index.
func (t *Tensor) SetAt(i int, v float64) { t.data[i] = v }

// Scalar returns the sole value of a scalar tensor. It panics if the
// tensor is not scalar, mirroring the teacher's Value()-on-constant
// convention of trusting the caller to have checked IsScalar first.
func (t *Tensor) Scalar() float64 {
	if !t.IsScalar() {
		panic(fmt.Sprintf("tensor: Scalar() called on tensor of length %d", t.Len()))
	}
	return t.data[0]
}

// At2 returns the element at matrix position (row, col) assuming
// column-major storage with t.shape == [nrow, ncol].
func (t *Tensor) At2(row, col int) float64 {
	nrow := t.shape[0]
	return t.data[col*nrow+row]
}

// SetAt2 sets the element at matrix position (row, col).
func (t *Tensor) SetAt2(row, col int, v float64) {
	nrow := t.shape[0]
	t.data[col*nrow+row] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := append([]float64(nil), t.data...)
	return &Tensor{shape: append([]int(nil), t.shape...), data: data}
}

// View is a thin non-owning handle onto a tensor's shape and buffer,
// used on hot paths (the particle inner loop) to avoid allocating a
// fresh Tensor header per access.
type View struct {
	Shape []int
	Data  []float64
}

// AsView returns a non-owning View over t's storage.
func (t *Tensor) AsView() View {
	return View{Shape: t.shape, Data: t.data}
}

// Scalar returns the sole value of a scalar view.
func (v View) Scalar() float64 { return v.Data[0] }

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the tensor using the dump format's flat-vector
// convention for rank-1 tensors and the `structure(...)` convention
// otherwise.
func (t *Tensor) String() string {
	var parts []string
	for _, v := range t.data {
		if IsNA(v) {
			parts = append(parts, "NA")
		} else {
			parts = append(parts, fmt.Sprintf("%g", v))
		}
	}
	flat := fmt.Sprintf("c(%s)", strings.Join(parts, ", "))
	if len(t.shape) <= 1 {
		return flat
	}
	dims := make([]string, len(t.shape))
	for i, d := range t.shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("structure(%s, .Dim=c(%s))", flat, strings.Join(dims, ", "))
}
