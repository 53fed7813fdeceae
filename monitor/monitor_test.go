package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlouf/gmc/tensor"
)

// buildFilterRecord wires a single filter record for node subscribing
// to values, with weights normalized to sum to exactly 1 - the shape
// ExtractStat and ExtractPDF actually see from the forward sampler.
func buildFilterRecord(node int, values []float64) (*Monitor, []float64) {
	m := NewMonitor()
	m.Subscribe(node)
	snap := make([]*tensor.Tensor, len(values))
	weights := make([]float64, len(values))
	u := 1.0 / float64(len(values))
	for i, v := range values {
		snap[i] = tensor.NewScalar(v)
		weights[i] = u
	}
	m.AppendFilter(FilterRecord{
		Iteration:        0,
		Weights:          weights,
		ConditionalNodes: []int{node},
		Snapshots:        map[int][]*tensor.Tensor{node: snap},
	})
	return m, weights
}

func TestExtractStatMatchesHandComputedMoments(t *testing.T) {
	const node = 7
	// Symmetric about 3: mean 3, population variance 2, zero skew.
	m, _ := buildFilterRecord(node, []float64{1, 2, 3, 4, 5})

	sum, err := m.ExtractStat(node, StatSum)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, sum, 1e-9)

	mean, err := m.ExtractStat(node, StatMean)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mean, 1e-9)

	variance, err := m.ExtractStat(node, StatVariance)
	require.NoError(t, err)
	assert.False(t, math.IsInf(variance, 1))
	assert.InDelta(t, 2.0, variance, 1e-9)

	moment2, err := m.ExtractStat(node, StatMoment2)
	require.NoError(t, err)
	assert.InDelta(t, variance, moment2, 1e-9)

	skew, err := m.ExtractStat(node, StatSkewness)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, skew, 1e-9)

	kurt, err := m.ExtractStat(node, StatKurtosis)
	require.NoError(t, err)
	assert.InDelta(t, -1.3, kurt, 1e-9)
}

func TestExtractStatVarianceAgreesWithMoment2UnderNormalizedWeights(t *testing.T) {
	const node = 1
	m, weights := buildFilterRecord(node, []float64{-4, -1, 0, 2, 9, 11})
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	require.InDelta(t, 1.0, sum, 1e-12)

	variance, err := m.ExtractStat(node, StatVariance)
	require.NoError(t, err)
	moment2, err := m.ExtractStat(node, StatMoment2)
	require.NoError(t, err)

	assert.False(t, math.IsNaN(variance))
	assert.False(t, math.IsInf(variance, 0))
	assert.InDelta(t, moment2, variance, 1e-9)
}

func TestExtractStatUnknownNodeErrors(t *testing.T) {
	m, _ := buildFilterRecord(1, []float64{1, 2, 3})
	_, err := m.ExtractStat(99, StatMean)
	assert.Error(t, err)
}

func TestExtractStatNoRecordsErrors(t *testing.T) {
	m := NewMonitor()
	m.Subscribe(1)
	_, err := m.ExtractStat(1, StatMean)
	assert.Error(t, err)
}

func TestExtractPDFHandlesUnsortedParticleOrder(t *testing.T) {
	const node = 3
	// Deliberately out of order: a sort.Float64s(clamped) done without
	// also permuting weights would desynchronize the pair and either
	// panic inside gonum or silently misattribute mass.
	m, _ := buildFilterRecord(node, []float64{5, 1, 4, 2, 3})

	hist, err := m.ExtractPDF(node, 5, 1.0)
	require.NoError(t, err)
	require.Len(t, hist.Edges, 6)
	require.Len(t, hist.Counts, 5)

	width := hist.Edges[1] - hist.Edges[0]
	mass := 0.0
	for _, c := range hist.Counts {
		assert.False(t, math.IsNaN(c))
		assert.GreaterOrEqual(t, c, 0.0)
		mass += c * width
	}
	assert.InDelta(t, 1.0, mass, 1e-9)
}

func TestExtractPDFClampsOutOfSupportObservations(t *testing.T) {
	const node = 4
	// First 80% (the reservoir, cacheFraction 0.8) fixes support
	// [0,10]; the trailing observation at 50 must clamp into the top
	// bin rather than panic or silently vanish.
	values := []float64{0, 2, 4, 6, 8, 10, 9, 1, 3, 50}
	m, _ := buildFilterRecord(node, values)

	hist, err := m.ExtractPDF(node, 10, 0.8)
	require.NoError(t, err)

	width := hist.Edges[1] - hist.Edges[0]
	mass := 0.0
	for _, c := range hist.Counts {
		mass += c * width
	}
	assert.InDelta(t, 1.0, mass, 1e-9)
}

func TestExtractPDFNoRecordsErrors(t *testing.T) {
	m := NewMonitor()
	m.Subscribe(1)
	_, err := m.ExtractPDF(1, 10, 0.5)
	assert.Error(t, err)
}

func TestMomentAccumulatorVarianceFiniteWhenWeightsSumToOne(t *testing.T) {
	var acc MomentAccumulator
	weights := []float64{0.1, 0.2, 0.3, 0.4}
	values := []float64{1, 2, 3, 4}
	for i, v := range values {
		acc.Add(v, weights[i])
	}
	variance := acc.Variance()
	assert.False(t, math.IsInf(variance, 0))
	assert.False(t, math.IsNaN(variance))
	assert.InDelta(t, acc.CentralMoment(2), variance, 1e-12)
}

func TestHistogramAccumulatorResultSortsValueWeightPairs(t *testing.T) {
	var acc HistogramAccumulator
	// Weights deliberately distinct so a desynchronized sort would
	// shift mass into the wrong bin instead of merely failing to sort.
	values := []float64{9, 1, 5, 3, 7}
	weights := []float64{0.05, 0.4, 0.1, 0.3, 0.15}
	for i, v := range values {
		acc.Add(v, weights[i])
	}
	hist := acc.Result(4, 1.0)
	width := hist.Edges[1] - hist.Edges[0]

	mass := 0.0
	for _, c := range hist.Counts {
		mass += c * width
	}
	assert.InDelta(t, 1.0, mass, 1e-9)

	// Value 1 carries the largest weight (0.4) and falls in the first
	// bin; that bin must carry the most mass if weights followed their
	// own value through the sort rather than the stream's original
	// index order.
	maxBin := 0
	for i, c := range hist.Counts {
		if c > hist.Counts[maxBin] {
			maxBin = i
		}
	}
	assert.Equal(t, 0, maxBin)
}

func TestQuantileAccumulatorQuantilesIgnoresInsertionOrder(t *testing.T) {
	var unordered, ordered QuantileAccumulator
	for _, v := range []float64{5, 1, 4, 2, 3} {
		unordered.Add(v, 0.2)
	}
	for _, v := range []float64{1, 2, 3, 4, 5} {
		ordered.Add(v, 0.2)
	}
	ps := []float64{0.0, 0.5, 1.0}
	assert.Equal(t, ordered.Quantiles(ps), unordered.Quantiles(ps))
}
