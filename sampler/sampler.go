// Package sampler implements the node-sampler contract used by the
// forward particle sampler: given a particle's current value map, draw
// a new value for one unobserved stochastic node and return the log
// incremental weight contributed by its observed likelihood children.
//
// A single default sampler (prior sampling) always applies; a fixed
// chain of conjugacy detectors may replace it on a node-by-node basis
// when the local graph structure admits a closed-form posterior.
package sampler

import (
	"golang.org/x/exp/rand"

	"github.com/rlouf/gmc/gmcerr"
	"github.com/rlouf/gmc/graph"
	"github.com/rlouf/gmc/tensor"
)

// ParticleState is the minimal view of one particle's node-value map
// a sampler needs: read/write access to node values and a record of
// which nodes have already been drawn this pass. It is declared here
// rather than depending on the smc package's concrete Particle type to
// avoid a package cycle (smc depends on sampler, not the reverse).
type ParticleState interface {
	Value(nodeID int) *tensor.Tensor
	SetValue(nodeID int, v *tensor.Tensor)
	Sampled(nodeID int) bool
}

// NodeSampler advances one unobserved stochastic node of one particle:
// it draws (or computes, for conjugate samplers) a new value, writes
// it into state, and returns the log incremental weight.
type NodeSampler interface {
	// TargetNode is the node id this sampler was built for.
	TargetNode() int
	// Sample draws/writes the node's value and returns the log
	// incremental weight, or an error (*gmcerr.NumericError) on
	// numerical failure.
	Sample(state ParticleState, rng *rand.Rand) (float64, error)
}

// paramTensors collects state's current values for ids, in order.
func paramTensors(state ParticleState, ids []int) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(ids))
	for i, id := range ids {
		out[i] = state.Value(id)
	}
	return out
}

// defaultSampler draws from the node's prior, conditional on its
// parents' current values, and weighs the draw by the log density of
// every observed likelihood child evaluated with the new value
// substituted into the child's parameter list.
type defaultSampler struct {
	g      *graph.Graph
	nodeID int
}

// NewDefault builds the always-applicable prior sampler for nodeID.
func NewDefault(g *graph.Graph, nodeID int) NodeSampler {
	return &defaultSampler{g: g, nodeID: nodeID}
}

func (s *defaultSampler) TargetNode() int { return s.nodeID }

func (s *defaultSampler) Sample(state ParticleState, rng *rand.Rand) (float64, error) {
	g := s.g
	d := g.Distribution(s.nodeID)
	params := paramTensors(state, g.DistParams(s.nodeID))
	x := d.Sample(params, rng)
	state.SetValue(s.nodeID, x)

	children, err := g.LikelihoodChildren(s.nodeID)
	if err != nil {
		return 0, err
	}
	logWeight := 0.0
	for _, child := range children {
		cd := g.Distribution(child)
		cparams := paramTensors(state, g.DistParams(child))
		lp := cd.LogDensity(state.Value(child), cparams)
		if isNaN(lp) {
			return 0, gmcerr.NewNumeric(s.nodeID, "weight-nan")
		}
		logWeight += lp
	}
	return logWeight, nil
}

func isNaN(v float64) bool { return v != v }

// EvaluateDeterministic evaluates a deterministic node's value in a
// particle, used by the forward sampler's follow-up closure sweep
// after a node sampler has drawn the target node's value.
func EvaluateDeterministic(g *graph.Graph, nodeID int, state ParticleState) {
	if g.IsAggregation(nodeID) {
		valueOf := func(id int) *tensor.Tensor { return state.Value(id) }
		state.SetValue(nodeID, graph.EvalAggregation(g.Shape(nodeID), g.AggSlots(nodeID), valueOf))
		return
	}
	f := g.Function(nodeID)
	params := paramTensors(state, g.FuncArgs(nodeID))
	state.SetValue(nodeID, f.Eval(params))
}
