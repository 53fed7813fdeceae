// Package monitor implements the weighted-stream accumulators and the
// filter-monitor records that collect them from the forward sampler's
// particle trajectories.
package monitor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MomentAccumulator collects a weighted (value, weight) stream and
// derives sum, mean, and central moments 2-4 from it via gonum/stat's
// weighted moment routines. Variance, skewness and kurtosis are
// derived directly from the central moments rather than gonum's own
// Variance/Skew/ExKurtosis, which assume an unbiased (Σw-1) estimator
// unsuited to the normalized weights this package deals in.
type MomentAccumulator struct {
	values  []float64
	weights []float64
}

// Add appends one weighted observation.
func (m *MomentAccumulator) Add(value, weight float64) {
	m.values = append(m.values, value)
	m.weights = append(m.weights, weight)
}

// Sum returns the weighted sum Σ w_i x_i.
func (m *MomentAccumulator) Sum() float64 {
	if len(m.values) == 0 {
		return math.NaN()
	}
	return floats.Dot(m.values, m.weights)
}

// Mean returns the weighted mean.
func (m *MomentAccumulator) Mean() float64 {
	if len(m.values) == 0 {
		return math.NaN()
	}
	return stat.Mean(m.values, m.weights)
}

// Variance returns the weighted population variance (the second
// central moment). stat.Variance computes the unbiased estimator with
// denominator Σw_i - 1, which degenerates to +Inf on the normalized
// particle weights this accumulator is fed (they sum to exactly 1);
// CentralMoment's Σw_i denominator stays finite and is what every
// other moment here is defined in terms of, so Variance is defined the
// same way for consistency.
func (m *MomentAccumulator) Variance() float64 {
	if len(m.values) < 2 {
		return math.NaN()
	}
	return m.CentralMoment(2)
}

// CentralMoment returns the k-th weighted central moment (k in {2,3,4}).
func (m *MomentAccumulator) CentralMoment(k float64) float64 {
	if len(m.values) == 0 {
		return math.NaN()
	}
	mean := stat.Mean(m.values, m.weights)
	return stat.MomentAbout(k, m.values, mean, m.weights)
}

// Skewness returns the weighted skewness, standardized by the
// population variance rather than stat.Skew's unbiased one (see
// Variance).
func (m *MomentAccumulator) Skewness() float64 {
	if len(m.values) < 2 {
		return math.NaN()
	}
	variance := m.CentralMoment(2)
	return m.CentralMoment(3) / math.Pow(variance, 1.5)
}

// Kurtosis returns the weighted excess kurtosis, standardized by the
// population variance rather than stat.ExKurtosis's unbiased one (see
// Variance).
func (m *MomentAccumulator) Kurtosis() float64 {
	if len(m.values) < 2 {
		return math.NaN()
	}
	variance := m.CentralMoment(2)
	return m.CentralMoment(4)/(variance*variance) - 3
}

// N returns the number of observations accumulated.
func (m *MomentAccumulator) N() int { return len(m.values) }

// QuantileAccumulator collects a weighted stream and computes
// probability-weighted empirical quantiles on demand.
type QuantileAccumulator struct {
	values  []float64
	weights []float64
}

// Add appends one weighted observation.
func (q *QuantileAccumulator) Add(value, weight float64) {
	q.values = append(q.values, value)
	q.weights = append(q.weights, weight)
}

// Quantiles returns the empirical quantile at each probability in ps.
// Probabilities must be in [0,1]; the underlying sample is sorted
// (values and weights in lock-step) before gonum/stat's weighted
// quantile routine is applied, per the empirical-CDF convention.
func (q *QuantileAccumulator) Quantiles(ps []float64) []float64 {
	n := len(q.values)
	if n == 0 {
		out := make([]float64, len(ps))
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return q.values[idx[i]] < q.values[idx[j]] })

	sortedValues := make([]float64, n)
	sortedWeights := make([]float64, n)
	for i, id := range idx {
		sortedValues[i] = q.values[id]
		sortedWeights[i] = q.weights[id]
	}

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.Empirical, sortedValues, sortedWeights)
	}
	return out
}

// N returns the number of observations accumulated.
func (q *QuantileAccumulator) N() int { return len(q.values) }

// Histogram is the result of a HistogramAccumulator: bin edges
// (len = len(Counts)+1) and per-bin weighted mass, normalized to
// integrate to 1 over the support.
type Histogram struct {
	Edges  []float64
	Counts []float64
}

// HistogramAccumulator holds a reservoir of weighted observations and
// bins them into a fixed number of equal-width bins once the reservoir
// reaches cacheFraction of the eventual stream, using the reservoir to
// fix the support adaptively.
type HistogramAccumulator struct {
	values  []float64
	weights []float64
}

// Add appends one weighted observation.
func (h *HistogramAccumulator) Add(value, weight float64) {
	h.values = append(h.values, value)
	h.weights = append(h.weights, weight)
}

// N returns the number of observations accumulated.
func (h *HistogramAccumulator) N() int { return len(h.values) }

// Result bins the accumulated stream into bins equal-width buckets.
// cacheFraction selects a prefix of the stream (the "reservoir") whose
// min/max fixes the histogram's support; every observation (including
// ones added after the reservoir fraction) is then binned into that
// fixed support. Observations outside the support are clamped into the
// boundary bin so the result always integrates to 1.
func (h *HistogramAccumulator) Result(bins int, cacheFraction float64) *Histogram {
	n := len(h.values)
	if n == 0 || bins <= 0 {
		return &Histogram{}
	}
	cacheN := int(cacheFraction * float64(n))
	if cacheN < 1 {
		cacheN = 1
	}
	if cacheN > n {
		cacheN = n
	}

	lo, hi := h.values[0], h.values[0]
	for _, v := range h.values[:cacheN] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		hi = lo + 1
	}

	edges := make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}

	clamped := make([]float64, n)
	for i, v := range h.values {
		switch {
		case v < edges[0]:
			clamped[i] = edges[0]
		case v >= edges[bins]:
			// stat.Histogram bins x into [edges[j], edges[j+1]), so the
			// top edge itself lies outside the last bin.
			clamped[i] = math.Nextafter(edges[bins], math.Inf(-1))
		default:
			clamped[i] = v
		}
	}

	// stat.Histogram requires x sorted ascending and pairs weights[i]
	// to x[i], so the (clamped, weight) pairs must be sorted in
	// lock-step first, mirroring QuantileAccumulator.Quantiles.
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return clamped[idx[i]] < clamped[idx[j]] })

	sortedClamped := make([]float64, n)
	sortedWeights := make([]float64, n)
	for i, id := range idx {
		sortedClamped[i] = clamped[id]
		sortedWeights[i] = h.weights[id]
	}

	counts := stat.Histogram(nil, edges, sortedClamped, sortedWeights)
	totalWeight := floats.Sum(h.weights)
	if totalWeight > 0 {
		for i := range counts {
			counts[i] /= totalWeight * width
		}
	}
	return &Histogram{Edges: edges, Counts: counts}
}

// DiscreteAccumulator maintains a weighted frequency table over
// discrete-valued categories.
type DiscreteAccumulator struct {
	weightByValue map[float64]float64
	total         float64
}

// Add appends one weighted observation.
func (d *DiscreteAccumulator) Add(value, weight float64) {
	if d.weightByValue == nil {
		d.weightByValue = make(map[float64]float64)
	}
	d.weightByValue[value] += weight
	d.total += weight
}

// Frequencies returns the normalized weighted frequency of each
// observed category.
func (d *DiscreteAccumulator) Frequencies() map[float64]float64 {
	out := make(map[float64]float64, len(d.weightByValue))
	if d.total <= 0 {
		return out
	}
	for v, w := range d.weightByValue {
		out[v] = w / d.total
	}
	return out
}

// Mode returns the most heavily weighted category and reports whether
// any observation has been accumulated.
func (d *DiscreteAccumulator) Mode() (float64, bool) {
	best, bestW := 0.0, -1.0
	found := false
	for v, w := range d.weightByValue {
		if w > bestW {
			best, bestW = v, w
			found = true
		}
	}
	return best, found
}
