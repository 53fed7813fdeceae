package smc

import (
	"golang.org/x/exp/rand"
)

// ResamplingMode names one of the four offspring-count schemes.
type ResamplingMode int

const (
	Multinomial ResamplingMode = iota
	Residual
	Stratified // default
	Systematic
)

// ess computes the effective sample size S²/Q from normalized weights
// already exponentiated (w_i = exp(logW_i - logWmax)).
func ess(expWeights []float64) (s, q, effective float64) {
	for _, w := range expWeights {
		s += w
		q += w * w
	}
	if q == 0 {
		return s, q, 0
	}
	return s, q, (s * s) / q
}

// countVector computes, for each resampling mode, the number of
// offspring each parent particle produces, given normalized linear
// weights (summing to 1) and a target particle count n.
func countVector(mode ResamplingMode, weights []float64, n int, rng *rand.Rand) []int {
	switch mode {
	case Multinomial:
		return multinomialCounts(weights, n, rng)
	case Residual:
		return residualCounts(weights, n, rng)
	case Systematic:
		return systematicCounts(weights, n, rng)
	default:
		return stratifiedCounts(weights, n, rng)
	}
}

func multinomialCounts(weights []float64, n int, rng *rand.Rand) []int {
	counts := make([]int, len(weights))
	cum := cumulativeSum(weights)
	for i := 0; i < n; i++ {
		u := rng.Float64()
		counts[searchCumulative(cum, u)]++
	}
	return counts
}

func residualCounts(weights []float64, n int, rng *rand.Rand) []int {
	counts := make([]int, len(weights))
	fractional := make([]float64, len(weights))
	remaining := n
	for i, w := range weights {
		expected := float64(n) * w
		floor := int(expected)
		counts[i] = floor
		fractional[i] = expected - float64(floor)
		remaining -= floor
	}
	if remaining > 0 {
		total := 0.0
		for _, f := range fractional {
			total += f
		}
		normalized := make([]float64, len(fractional))
		if total > 0 {
			for i, f := range fractional {
				normalized[i] = f / total
			}
		} else {
			for i := range normalized {
				normalized[i] = 1.0 / float64(len(normalized))
			}
		}
		extra := multinomialCounts(normalized, remaining, rng)
		for i, c := range extra {
			counts[i] += c
		}
	}
	return counts
}

func stratifiedCounts(weights []float64, n int, rng *rand.Rand) []int {
	counts := make([]int, len(weights))
	cum := cumulativeSum(weights)
	for k := 0; k < n; k++ {
		u := (float64(k) + rng.Float64()) / float64(n)
		counts[searchCumulative(cum, u)]++
	}
	return counts
}

func systematicCounts(weights []float64, n int, rng *rand.Rand) []int {
	counts := make([]int, len(weights))
	cum := cumulativeSum(weights)
	u0 := rng.Float64()
	for k := 0; k < n; k++ {
		u := (float64(k) + u0) / float64(n)
		counts[searchCumulative(cum, u)]++
	}
	return counts
}

func cumulativeSum(weights []float64) []float64 {
	cum := make([]float64, len(weights))
	running := 0.0
	for i, w := range weights {
		running += w
		cum[i] = running
	}
	return cum
}

// searchCumulative returns the smallest index i such that cum[i] >= u,
// guarding the final index against floating-point rounding so a
// fully-peaked weight vector never reads past the array (the systems
// re-implementation guard called for where the source read an
// out-of-bounds index before its own bounds check).
func searchCumulative(cum []float64, u float64) int {
	for i, c := range cum {
		if u <= c {
			return i
		}
	}
	return len(cum) - 1
}

// countsToIndices converts a count vector (offspring per parent) into
// an index vector (one entry per output particle naming its parent).
// The index vector is a newly allocated slice of length sum(counts);
// counts is left unchanged and is not reused as the output buffer.
func countsToIndices(counts []int) []int {
	total := 0
	for _, c := range counts {
		total += c
	}
	indices := make([]int, 0, total)
	for parent, c := range counts {
		for k := 0; k < c; k++ {
			indices = append(indices, parent)
		}
	}
	return indices
}
