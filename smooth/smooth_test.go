package smooth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlouf/gmc/dist"
	"github.com/rlouf/gmc/graph"
	"github.com/rlouf/gmc/monitor"
	"github.com/rlouf/gmc/smc"
)

// buildTwoStepChain builds mean0,prec0 -> x ~ Normal -> y ~ Normal(x, precY)
// observed, the minimal model exercising one backward step.
func buildTwoStepChain(t *testing.T) (*graph.Graph, int) {
	t.Helper()
	g := graph.New()
	mean0, err := g.AddConstant([]int{1}, []float64{0})
	require.NoError(t, err)
	prec0, err := g.AddConstant([]int{1}, []float64{1})
	require.NoError(t, err)
	x, err := g.AddStochastic(dist.Normal, []int{mean0, prec0}, nil, graph.NoNode, graph.NoNode)
	require.NoError(t, err)
	precY, err := g.AddConstant([]int{1}, []float64{4})
	require.NoError(t, err)
	_, err = g.AddStochastic(dist.Normal, []int{x, precY}, []float64{1.0}, graph.NoNode, graph.NoNode)
	require.NoError(t, err)
	require.NoError(t, g.Build())
	return g, x
}

func runForwardWithSmoothMonitor(t *testing.T, n int) (*graph.Graph, *smc.ForwardSampler, int) {
	t.Helper()
	g, x := buildTwoStepChain(t)
	fs := smc.NewForwardSampler(g, false)
	fs.SetBackwardSmoothMonitor(x)
	require.NoError(t, fs.Initialize(n, 17, smc.Stratified, 0))
	require.NoError(t, fs.Iterate())
	return g, fs, x
}

func TestSmootherAgreesWithFilterAtFinalIteration(t *testing.T) {
	g, fs, _ := runForwardWithSmoothMonitor(t, 64)
	history := fs.History()
	require.Len(t, history, 2)

	sm, err := NewSmoother(g, history, nil)
	require.NoError(t, err)
	assert.Equal(t, len(history)-1, sm.Iteration())
	assert.Equal(t, history[len(history)-1].Weights, sm.Weights())
}

func TestSmootherStepProducesNormalizedWeights(t *testing.T) {
	g, fs, _ := runForwardWithSmoothMonitor(t, 128)
	history := fs.History()

	sm, err := NewSmoother(g, history, nil)
	require.NoError(t, err)
	require.False(t, sm.AtStart())
	require.NoError(t, sm.Step())
	require.True(t, sm.AtStart())

	sum := 0.0
	for _, w := range sm.Weights() {
		assert.False(t, math.IsNaN(w))
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestSmootherStepAtStartFails(t *testing.T) {
	g, fs, _ := runForwardWithSmoothMonitor(t, 16)
	history := fs.History()
	sm, err := NewSmoother(g, history, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Step())
	require.True(t, sm.AtStart())
	err = sm.Step()
	require.Error(t, err)
}

func TestSmootherRecordsIntoMonitor(t *testing.T) {
	g, fs, x := runForwardWithSmoothMonitor(t, 32)
	history := fs.History()

	mon := monitor.NewMonitor()
	mon.Subscribe(x)
	sm, err := NewSmoother(g, history, mon)
	require.NoError(t, err)
	require.NoError(t, sm.Step())

	recs := mon.FilterRecords()
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Snapshots[x], 32)
	assert.Equal(t, 0, recs[0].Iteration)
}
