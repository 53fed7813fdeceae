// Package smc implements the forward particle sampler: iteration
// groups computed once at build time, per-particle state, the four
// resampling schemes, and the ESS/log-normalising-constant bookkeeping
// that runs after every particle has moved.
package smc

import "github.com/rlouf/gmc/tensor"

// Particle is one member of the particle array: a value slot per graph
// node, a sampled-flag per node, and a log weight. It implements
// sampler.ParticleState so the node-sampler contract in package
// sampler can operate on it without that package depending on smc.
type Particle struct {
	Values       []*tensor.Tensor
	SampledFlags []bool
	LogWeight    float64
}

// NewParticle allocates a particle with n node slots, all unset and
// unsampled.
func NewParticle(n int) *Particle {
	return &Particle{Values: make([]*tensor.Tensor, n), SampledFlags: make([]bool, n)}
}

// Value returns node id's current value in this particle.
func (p *Particle) Value(id int) *tensor.Tensor { return p.Values[id] }

// SetValue assigns node id's value in this particle and marks it sampled.
func (p *Particle) SetValue(id int, v *tensor.Tensor) {
	p.Values[id] = v
	p.SampledFlags[id] = true
}

// Sampled reports whether node id has been assigned a value in this
// particle's current pass.
func (p *Particle) Sampled(id int) bool { return p.SampledFlags[id] }

// Clone returns a copy of the particle with a fresh Values/SampledFlags
// slice (tensors themselves are treated as immutable once written and
// so are shared, not copied) and the same log weight.
func (p *Particle) Clone() *Particle {
	return &Particle{
		Values:       append([]*tensor.Tensor(nil), p.Values...),
		SampledFlags: append([]bool(nil), p.SampledFlags...),
		LogWeight:    p.LogWeight,
	}
}
