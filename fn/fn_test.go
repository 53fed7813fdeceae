package fn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rlouf/gmc/tensor"
)

func TestPowCheckParamValues(t *testing.T) {
	bad := []*tensor.Tensor{
		tensor.NewVector([]float64{-1, 0, 1}),
		tensor.NewVector([]float64{0.5, 1, 2}),
	}
	assert.False(t, Pow.CheckParamValues(bad))

	good := []*tensor.Tensor{
		tensor.NewVector([]float64{2}),
		tensor.NewVector([]float64{0.5}),
	}
	assert.True(t, Pow.CheckParamValues(good))
	out := Pow.Eval(good)
	assert.InDelta(t, math.Sqrt2, out.Scalar(), 1e-12)
}

func TestSqrtRejectsNegative(t *testing.T) {
	assert.False(t, Sqrt.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(-1)}))
	assert.True(t, Sqrt.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(4)}))
	out := Sqrt.Eval([]*tensor.Tensor{tensor.NewScalar(4)})
	assert.Equal(t, 2.0, out.Scalar())
}

func TestLogRejectsNonPositive(t *testing.T) {
	assert.False(t, Log.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(0)}))
	assert.False(t, Log.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(-1)}))
	assert.True(t, Log.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(1)}))
}

func TestProbitRejectsOutsideOpenUnitInterval(t *testing.T) {
	assert.False(t, Probit.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(0)}))
	assert.False(t, Probit.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(1)}))
	assert.True(t, Probit.CheckParamValues([]*tensor.Tensor{tensor.NewScalar(0.5)}))
	out := Probit.Eval([]*tensor.Tensor{tensor.NewScalar(0.5)})
	assert.InDelta(t, 0.0, out.Scalar(), 1e-9)
}

func TestLogisticLogitRoundTrip(t *testing.T) {
	x := tensor.NewScalar(0.3)
	l := Logistic.Eval([]*tensor.Tensor{x})
	back := Logit.Eval([]*tensor.Tensor{l})
	assert.InDelta(t, 0.3, back.Scalar(), 1e-9)
}

func TestSwitchGate(t *testing.T) {
	s := Switch{Threshold: 0.5}
	left := tensor.NewScalar(10)
	right := tensor.NewScalar(20)

	below := []*tensor.Tensor{tensor.NewScalar(0.1), left, right}
	assert.Equal(t, 10.0, s.Eval(below).Scalar())

	above := []*tensor.Tensor{tensor.NewScalar(0.9), left, right}
	assert.Equal(t, 20.0, s.Eval(above).Scalar())
}

func TestSumProdBroadcastScalar(t *testing.T) {
	vec := tensor.NewVector([]float64{1, 2, 3})
	scalar := tensor.NewScalar(10)
	sum := Sum.Eval([]*tensor.Tensor{vec, scalar})
	assert.Equal(t, []float64{11, 12, 13}, sum.Data())

	prod := Prod.Eval([]*tensor.Tensor{vec, scalar})
	assert.Equal(t, []float64{10, 20, 30}, prod.Data())
}
