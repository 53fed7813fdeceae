package sampler

import "math"

// logBeta returns the log of the Beta function B(a,b).
func logBeta(a, b float64) float64 {
	lgA, _ := math.Lgamma(a)
	lgB, _ := math.Lgamma(b)
	lgAB, _ := math.Lgamma(a + b)
	return lgA + lgB - lgAB
}

// logChoose returns log(C(n, k)) via the log-gamma function, valid for
// non-negative integral n, k with k <= n.
func logChoose(n, k float64) float64 {
	lgN1, _ := math.Lgamma(n + 1)
	lgK1, _ := math.Lgamma(k + 1)
	lgNK1, _ := math.Lgamma(n - k + 1)
	return lgN1 - lgK1 - lgNK1
}
