package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/rlouf/gmc/dist"
	"github.com/rlouf/gmc/fn"
	"github.com/rlouf/gmc/gmcerr"
)

func buildSimpleChain(t *testing.T) (*Graph, int, int, int) {
	t.Helper()
	g := New()
	mean, err := g.AddConstant([]int{1}, []float64{0})
	require.NoError(t, err)
	prec, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	x, err := g.AddStochastic(dist.Normal, []int{mean, prec}, nil, NoNode, NoNode)
	require.NoError(t, err)
	return g, mean, prec, x
}

func TestAddConstantRejectsShapeMismatch(t *testing.T) {
	g := New()
	_, err := g.AddConstant([]int{2}, []float64{1})
	require.Error(t, err)
	var dimErr *gmcerr.DimensionError
	assert.ErrorAs(t, err, &dimErr)
}

func TestAccessorsFailBeforeBuild(t *testing.T) {
	g, _, _, x := buildSimpleChain(t)
	_, err := g.Rank(x)
	require.Error(t, err)
	var logicErr *gmcerr.LogicError
	assert.ErrorAs(t, err, &logicErr)
}

func TestBuildAssignsIncreasingRankToParents(t *testing.T) {
	g, mean, prec, x := buildSimpleChain(t)
	require.NoError(t, g.Build())

	rMean, err := g.Rank(mean)
	require.NoError(t, err)
	rPrec, err := g.Rank(prec)
	require.NoError(t, err)
	rX, err := g.Rank(x)
	require.NoError(t, err)

	assert.Less(t, rMean, rX)
	assert.Less(t, rPrec, rX)
}

func TestBuildTwiceFails(t *testing.T) {
	g, _, _, _ := buildSimpleChain(t)
	require.NoError(t, g.Build())
	err := g.Build()
	require.Error(t, err)
	var logicErr *gmcerr.LogicError
	assert.ErrorAs(t, err, &logicErr)
}

func TestPopLastUndoesUnbuiltAdd(t *testing.T) {
	g := New()
	id, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	require.NoError(t, g.PopLast())
	assert.Equal(t, 0, g.Size())
	_ = id
}

func TestPopLastOnlyConsidersLastAddedNode(t *testing.T) {
	g, mean, _, _ := buildSimpleChain(t)
	err := func() error {
		// mean has a child (x), but PopLast only ever removes the
		// last-added node, which here is x itself.
		return g.PopLast()
	}()
	_ = mean
	// x is last added and has no children, so this particular pop
	// succeeds; this test documents that LIFO pop only blocks on the
	// immediately-last node, not arbitrary ones.
	require.NoError(t, err)
}

func TestDeterministicNodeEvaluatesWhenParentsObserved(t *testing.T) {
	g := New()
	a, err := g.AddConstant([]int{1}, []float64{3})
	require.NoError(t, err)
	b, err := g.AddConstant([]int{1}, []float64{4})
	require.NoError(t, err)
	sum, err := g.AddDeterministic(fn.Sum, []int{a, b})
	require.NoError(t, err)

	assert.True(t, g.Observed(sum))
	assert.Equal(t, 7.0, g.Value(sum).Scalar())
}

func TestDeterministicNodeUnobservedUntilParentsKnown(t *testing.T) {
	g := New()
	mean, err := g.AddConstant([]int{1}, []float64{0})
	require.NoError(t, err)
	prec, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	x, err := g.AddStochastic(dist.Normal, []int{mean, prec}, nil, NoNode, NoNode)
	require.NoError(t, err)
	offset, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	y, err := g.AddDeterministic(fn.Sum, []int{x, offset})
	require.NoError(t, err)

	require.False(t, g.Observed(y))
	require.NoError(t, g.Build())

	require.NoError(t, g.SetObservedValue(x, []float64{2}))
	assert.True(t, g.Observed(y))
	assert.Equal(t, 3.0, g.Value(y).Scalar())

	require.NoError(t, g.SetUnobserved(x))
	assert.False(t, g.Observed(y))
	assert.Nil(t, g.Value(y))
}

func TestSetObservedValueRejectsNonIntegerForDiscreteNode(t *testing.T) {
	g := New()
	n, err := g.AddConstant([]int{1}, []float64{10})
	require.NoError(t, err)
	p, err := g.AddConstant([]int{1}, []float64{0.5})
	require.NoError(t, err)
	x, err := g.AddStochastic(dist.Binomial, []int{p, n}, nil, NoNode, NoNode)
	require.NoError(t, err)
	require.NoError(t, g.Build())

	err = g.SetObservedValue(x, []float64{2.5})
	require.Error(t, err)
	var domErr *gmcerr.DomainError
	assert.ErrorAs(t, err, &domErr)
}

func TestAddStochasticRejectsDimensionMismatch(t *testing.T) {
	g := New()
	mean, err := g.AddConstant([]int{2}, []float64{0, 0})
	require.NoError(t, err)
	prec, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	_, err = g.AddStochastic(dist.Normal, []int{mean, prec}, nil, NoNode, NoNode)
	require.Error(t, err)
	var dimErr *gmcerr.DimensionError
	assert.ErrorAs(t, err, &dimErr)
}

func TestAddStochasticRejectsDomainViolationAtConstruction(t *testing.T) {
	g := New()
	mean, err := g.AddConstant([]int{1}, []float64{0})
	require.NoError(t, err)
	badPrec, err := g.AddConstant([]int{1}, []float64{-1})
	require.NoError(t, err)
	_, err = g.AddStochastic(dist.Normal, []int{mean, badPrec}, nil, NoNode, NoNode)
	require.Error(t, err)
	var domErr *gmcerr.DomainError
	assert.ErrorAs(t, err, &domErr)
}

func TestStochasticChildrenIsReverseOfStochasticParents(t *testing.T) {
	g, _, _, x := buildSimpleChain(t)
	y, err := g.AddStochastic(dist.Normal, []int{x, x}, nil, NoNode, NoNode)
	require.NoError(t, err)
	require.NoError(t, g.Build())

	parentsOfY, err := g.StochasticParents(y)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{x}, parentsOfY)

	childrenOfX, err := g.StochasticChildren(x)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{y}, childrenOfX)
}

func TestLikelihoodChildrenRequiresObservedDescendant(t *testing.T) {
	g, _, _, x := buildSimpleChain(t)
	obsPrec, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	y, err := g.AddStochastic(dist.Normal, []int{x, obsPrec}, []float64{1.5}, NoNode, NoNode)
	require.NoError(t, err)
	require.NoError(t, g.Build())

	likelihoodOfX, err := g.LikelihoodChildren(x)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{y}, likelihoodOfX)
}

func TestSampleValuesFillsEveryUnobservedNode(t *testing.T) {
	g, _, _, x := buildSimpleChain(t)
	require.NoError(t, g.Build())

	rng := rand.New(rand.NewSource(7))
	require.NoError(t, g.SampleValues(rng))
	assert.NotNil(t, g.Value(x))
}

func TestBuildDetectsCycleIsUnreachableByConstructionButGuarded(t *testing.T) {
	// The public API cannot construct a cycle (parents must already
	// exist), so this test instead checks that Build on an empty graph
	// succeeds trivially.
	g := New()
	require.NoError(t, g.Build())
	order, err := g.TopoOrder()
	require.NoError(t, err)
	assert.Empty(t, order)
}
