package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScalar(t *testing.T) {
	s := NewScalar(3.14)
	assert.True(t, s.IsScalar())
	assert.Equal(t, []int{1}, s.Shape())
	assert.Equal(t, 3.14, s.Scalar())
}

func TestNewFillsNA(t *testing.T) {
	v := New(4)
	require.Equal(t, 4, v.Len())
	for i := 0; i < v.Len(); i++ {
		assert.True(t, IsNA(v.At(i)))
	}
}

func TestColumnMajorMatrix(t *testing.T) {
	// 2x3 matrix stored column-major: columns are (1,2), (3,4), (5,6)
	m := NewWithData([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 1.0, m.At2(0, 0))
	assert.Equal(t, 2.0, m.At2(1, 0))
	assert.Equal(t, 3.0, m.At2(0, 1))
	assert.Equal(t, 6.0, m.At2(1, 2))
}

func TestNewWithDataShapeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewWithData([]int{2, 2}, []float64{1, 2, 3})
	})
}

func TestCloneIsIndependent(t *testing.T) {
	a := NewScalar(1.0)
	b := a.Clone()
	b.SetAt(0, 2.0)
	assert.Equal(t, 1.0, a.Scalar())
	assert.Equal(t, 2.0, b.Scalar())
}

func TestSameShape(t *testing.T) {
	assert.True(t, SameShape([]int{2, 3}, []int{2, 3}))
	assert.False(t, SameShape([]int{2, 3}, []int{3, 2}))
	assert.False(t, SameShape([]int{2}, []int{2, 1}))
}

func TestStringRendersNA(t *testing.T) {
	v := New(2)
	assert.Equal(t, "c(NA, NA)", v.String())
}
