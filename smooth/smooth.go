// Package smooth implements the backward smoother: given a forward
// sampler's retained particle trajectory, it reweights the stored
// filtering history into marginal smoothing weights, one backward
// step at a time.
package smooth

import (
	"fmt"
	"math"

	"github.com/rlouf/gmc/gmcerr"
	"github.com/rlouf/gmc/graph"
	"github.com/rlouf/gmc/monitor"
	"github.com/rlouf/gmc/smc"
	"github.com/rlouf/gmc/tensor"
)

// Smoother runs the backward pass over a retained IterationSnapshot
// history, one step per call to Step. It starts at the final
// iteration, initialised to the filter weights there, and walks
// backward toward the initial snapshot.
type Smoother struct {
	g       *graph.Graph
	history []smc.IterationSnapshot
	weights []float64
	t       int
	mon     *monitor.Monitor
}

// NewSmoother builds a smoother over history, the trajectory retained
// by a ForwardSampler that had a backward-smooth monitor set. mon, if
// non-nil, receives a FilterRecord-shaped accumulation after every
// backward step for each of its subscribed nodes.
func NewSmoother(g *graph.Graph, history []smc.IterationSnapshot, mon *monitor.Monitor) (*Smoother, error) {
	if len(history) == 0 {
		return nil, gmcerr.NewNumeric(gmcerr.NoNode, "smoother-state: empty trajectory history")
	}
	t := len(history) - 1
	weights := append([]float64(nil), history[t].Weights...)
	return &Smoother{g: g, history: history, weights: weights, t: t, mon: mon}, nil
}

// AtStart reports whether the smoother has reached the initial
// snapshot and has no earlier iteration left to smooth into.
func (s *Smoother) AtStart() bool { return s.t == 0 }

// Iteration returns the trajectory index the smoother's current
// weight vector belongs to.
func (s *Smoother) Iteration() int { return s.t }

// Weights returns the current smoothing weight vector, aligned to the
// particles stored at index Iteration() of the trajectory.
func (s *Smoother) Weights() []float64 { return s.weights }

// Step performs one backward reweighting step from iteration t to
// t-1, per the smoothing recursion: for every particle i at t-1,
//
//	w~_{t-1,i} = w_{t-1,i} * sum_j( w~_{t,j} * p(x_t,j|x_{t-1,i}) / sum_k( w_{t-1,k} * p(x_t,j|x_{t-1,k}) ) )
//
// where p(.|.) is the density of the stochastic node introduced at
// iteration t, evaluated with its parents taken from the t-1
// particle's full value vector.
func (s *Smoother) Step() error {
	if s.AtStart() {
		return gmcerr.NewLogic("run_backward_smoother: no earlier iteration to smooth into")
	}
	cur := s.history[s.t]
	prev := s.history[s.t-1]

	targetID := cur.TargetNode
	if targetID == graph.NoNode {
		return gmcerr.NewNumeric(gmcerr.NoNode, "smoother-state: trajectory step has no introduced stochastic node")
	}
	d := s.g.Distribution(targetID)
	parentIDs := s.g.DistParams(targetID)

	n := len(prev.Values)
	m := len(cur.Values)

	cross := make([][]float64, m)
	for j := 0; j < m; j++ {
		x := cur.Values[j][targetID]
		row := make([]float64, n)
		for i := 0; i < n; i++ {
			row[i] = math.Exp(d.LogDensity(x, gatherParams(prev.Values[i], parentIDs)))
		}
		cross[j] = row
	}

	newWeights := make([]float64, n)
	anyNonZero := false
	for i := 0; i < n; i++ {
		var outer float64
		for j := 0; j < m; j++ {
			var denom float64
			for k := 0; k < n; k++ {
				denom += prev.Weights[k] * cross[j][k]
			}
			if denom == 0 {
				continue
			}
			outer += s.weights[j] * cross[j][i] / denom
		}
		newWeights[i] = prev.Weights[i] * outer
		if newWeights[i] != 0 {
			anyNonZero = true
		}
	}
	if !anyNonZero {
		return gmcerr.NewNumeric(gmcerr.NoNode, fmt.Sprintf("smoother-degenerate: all-zero normaliser at iteration %d", s.t))
	}

	s.weights = newWeights
	s.t--
	s.record()
	return nil
}

func gatherParams(values []*tensor.Tensor, parentIDs []int) []*tensor.Tensor {
	params := make([]*tensor.Tensor, len(parentIDs))
	for i, id := range parentIDs {
		params[i] = values[id]
	}
	return params
}

// record accumulates the current weight vector, restricted to the
// monitor's subscribed nodes, as a filter-shaped record so existing
// monitor accumulators can be reused unchanged on smoothing marginals.
func (s *Smoother) record() {
	if s.mon == nil {
		return
	}
	snap := s.history[s.t]
	snapshots := make(map[int][]*tensor.Tensor)
	for _, id := range s.mon.SubscribedNodes() {
		values := make([]*tensor.Tensor, len(snap.Values))
		for i, row := range snap.Values {
			values[i] = row[id]
		}
		snapshots[id] = values
	}
	s.mon.AppendFilter(monitor.FilterRecord{
		Iteration:        s.t,
		Weights:          s.weights,
		ConditionalNodes: nil,
		Snapshots:        snapshots,
	})
}
