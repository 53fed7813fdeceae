package smc

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/rlouf/gmc/gmcerr"
	"github.com/rlouf/gmc/graph"
	"github.com/rlouf/gmc/monitor"
	"github.com/rlouf/gmc/sampler"
	"github.com/rlouf/gmc/tensor"
)

// Group is one iteration group: one unobserved stochastic node plus
// the deterministic descendants that must be evaluated before the next
// stochastic node is reached, in topological order. Computed once at
// build time from the graph's topological order.
type Group struct {
	Target  int
	Closure []int
}

// buildGroups walks the graph's topological order and partitions the
// unobserved nodes into iteration groups: every unobserved stochastic
// node starts a new group, and every unobserved deterministic node
// that follows joins the most recently started group's closure.
func buildGroups(g *graph.Graph) ([]Group, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	var groups []Group
	for _, id := range order {
		if g.Observed(id) {
			continue
		}
		switch g.Kind(id) {
		case graph.Stochastic:
			groups = append(groups, Group{Target: id})
		case graph.Deterministic:
			if len(groups) == 0 {
				// An unobserved deterministic node with no preceding
				// unobserved stochastic node cannot occur in a
				// correctly built graph: every deterministic node's
				// observedness is a function of its parents', so by
				// topological order an ancestor stochastic node must
				// already have started a group.
				return nil, gmcerr.NewLogic("build_sampler: unobserved deterministic node %d precedes any stochastic group", id)
			}
			last := &groups[len(groups)-1]
			last.Closure = append(last.Closure, id)
		}
	}
	return groups, nil
}

// ForwardSampler is the SMC forward particle sampler: iteration
// groups, per-group node samplers, the particle array, resampling
// configuration and the running ESS / log-normalising-constant state.
type ForwardSampler struct {
	g         *graph.Graph
	priorOnly bool

	groups   []Group
	samplers []sampler.NodeSampler

	particles []*Particle
	n         int

	mode      ResamplingMode
	threshold float64

	iteration int
	cursor    int

	logNormConst float64
	prevS        float64

	needsResample       bool
	lastResampleIndices []int

	rng *rand.Rand

	filterMonitor  *monitor.Monitor
	genTreeMonitor *monitor.Monitor
	smoothMonitor  *monitor.Monitor

	history []IterationSnapshot
}

// IterationSnapshot is one retained step of the particle trajectory:
// the stochastic node the step introduced (NoNode for the initial
// snapshot), every particle's complete node-value vector, and the
// iteration's normalized linear particle weights. The backward
// smoother consumes a full run's worth of these to reweight the
// filtering history into marginal smoothing weights.
type IterationSnapshot struct {
	TargetNode int
	Values     [][]*tensor.Tensor
	Weights    []float64
}

// NewForwardSampler returns a sampler bound to g. If priorOnly is set,
// conjugacy detectors are disabled for every node built by Initialize.
func NewForwardSampler(g *graph.Graph, priorOnly bool) *ForwardSampler {
	return &ForwardSampler{g: g, priorOnly: priorOnly}
}

// SetFilterMonitor registers interest in nodeID's filtering
// distribution. Observed nodes are silently rejected, per the external
// interface contract.
func (s *ForwardSampler) SetFilterMonitor(nodeID int) {
	if s.g.Observed(nodeID) {
		return
	}
	if s.filterMonitor == nil {
		s.filterMonitor = monitor.NewMonitor()
	}
	s.filterMonitor.Subscribe(nodeID)
}

// SetGenTreeMonitor registers interest in nodeID's genealogy.
// Observed nodes are silently rejected.
func (s *ForwardSampler) SetGenTreeMonitor(nodeID int) {
	if s.g.Observed(nodeID) {
		return
	}
	if s.genTreeMonitor == nil {
		s.genTreeMonitor = monitor.NewMonitor()
	}
	s.genTreeMonitor.Subscribe(nodeID)
}

// FilterMonitor returns the filter monitor, or nil if nothing has been
// subscribed.
func (s *ForwardSampler) FilterMonitor() *monitor.Monitor { return s.filterMonitor }

// GenTreeMonitor returns the genealogy monitor, or nil if nothing has
// been subscribed.
func (s *ForwardSampler) GenTreeMonitor() *monitor.Monitor { return s.genTreeMonitor }

// SetBackwardSmoothMonitor registers nodeID for backward-smoothing
// accumulation. Observed nodes are silently rejected. The first
// subscription of a run switches the sampler into retaining a full
// particle-trajectory history, which the backward smoother needs to
// evaluate transition densities regardless of which node's marginal
// the caller ultimately reads.
func (s *ForwardSampler) SetBackwardSmoothMonitor(nodeID int) {
	if s.g.Observed(nodeID) {
		return
	}
	if s.smoothMonitor == nil {
		s.smoothMonitor = monitor.NewMonitor()
	}
	s.smoothMonitor.Subscribe(nodeID)
}

// SmoothMonitor returns the backward-smoothing monitor, or nil if
// nothing has been subscribed.
func (s *ForwardSampler) SmoothMonitor() *monitor.Monitor { return s.smoothMonitor }

// History returns the retained particle trajectory, one entry per
// completed iteration plus the initial snapshot at index 0. It is
// populated only when a backward-smooth monitor has been set.
func (s *ForwardSampler) History() []IterationSnapshot { return s.history }

// Initialize builds the iteration-group sequence, assigns a node
// sampler to each group, and allocates n particles seeded from the
// graph's current observed/deterministic-observed values.
func (s *ForwardSampler) Initialize(n int, seed uint64, mode ResamplingMode, threshold float64) error {
	groups, err := buildGroups(s.g)
	if err != nil {
		return err
	}
	s.groups = groups
	s.samplers = make([]sampler.NodeSampler, len(groups))
	for i, grp := range groups {
		s.samplers[i] = sampler.BuildNodeSampler(s.g, grp.Target, s.priorOnly)
	}

	size := s.g.Size()
	s.n = n
	s.particles = make([]*Particle, n)
	logW0 := -math.Log(float64(n))
	for i := 0; i < n; i++ {
		p := NewParticle(size)
		for id := 0; id < size; id++ {
			if s.g.Observed(id) {
				p.SetValue(id, s.g.Value(id))
			}
		}
		p.LogWeight = logW0
		s.particles[i] = p
	}

	s.mode = mode
	s.threshold = threshold
	s.iteration = 0
	s.cursor = 0
	s.logNormConst = 0
	s.prevS = 0
	s.needsResample = false
	s.lastResampleIndices = nil
	s.rng = rand.New(rand.NewSource(seed))

	s.history = nil
	if s.smoothMonitor != nil {
		s.history = append(s.history, s.snapshotTrajectory(graph.NoNode, uniform(n)))
	}
	return nil
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	u := 1.0 / float64(n)
	for i := range w {
		w[i] = u
	}
	return w
}

func (s *ForwardSampler) snapshotTrajectory(targetNode int, weights []float64) IterationSnapshot {
	size := s.g.Size()
	values := make([][]*tensor.Tensor, s.n)
	for i, p := range s.particles {
		row := make([]*tensor.Tensor, size)
		copy(row, p.Values)
		values[i] = row
	}
	return IterationSnapshot{TargetNode: targetNode, Values: values, Weights: weights}
}

// AtEnd reports whether every iteration group has been processed.
func (s *ForwardSampler) AtEnd() bool { return s.cursor >= len(s.groups) }

// LogNormConst returns the cumulative log normalising constant
// estimate accumulated so far.
func (s *ForwardSampler) LogNormConst() float64 { return s.logNormConst }

// Particles exposes the current particle array (read-only use
// expected; callers must not mutate LogWeight or Values directly).
func (s *ForwardSampler) Particles() []*Particle { return s.particles }

// Iterate advances one iteration group: it performs any resampling
// left pending from the previous call, then moves every particle's
// target node, evaluates the group's deterministic closure, updates
// ESS and the log normalising constant, and records monitors.
func (s *ForwardSampler) Iterate() error {
	if s.AtEnd() {
		return gmcerr.NewLogic("iterate: no more iteration groups")
	}
	if s.needsResample {
		s.resample()
	} else {
		s.lastResampleIndices = nil
	}

	group := s.groups[s.cursor]
	nodeSampler := s.samplers[s.cursor]

	seeds := make([]uint64, s.n)
	for i := range seeds {
		seeds[i] = s.rng.Uint64()
	}

	for i, p := range s.particles {
		particleRng := rand.New(rand.NewSource(seeds[i]))
		incr, err := nodeSampler.Sample(p, particleRng)
		if err != nil {
			return err
		}
		p.LogWeight += incr
		for _, detID := range group.Closure {
			sampler.EvaluateDeterministic(s.g, detID, p)
		}
	}

	wmax := math.Inf(-1)
	for _, p := range s.particles {
		if p.LogWeight > wmax {
			wmax = p.LogWeight
		}
	}
	expWeights := make([]float64, s.n)
	for i, p := range s.particles {
		p.LogWeight -= wmax
		expWeights[i] = math.Exp(p.LogWeight)
	}

	S, _, essVal := ess(expWeights)

	if s.iteration == 0 {
		s.logNormConst += math.Log(S) + wmax
	} else {
		s.logNormConst += math.Log(S) - math.Log(s.prevS) + wmax
	}
	s.prevS = S

	s.needsResample = essVal < s.threshold*float64(s.n)

	normalized := make([]float64, s.n)
	for i, w := range expWeights {
		normalized[i] = w / S
	}

	s.recordMonitors(group, normalized)
	if s.smoothMonitor != nil {
		s.history = append(s.history, s.snapshotTrajectory(group.Target, normalized))
	}

	s.iteration++
	s.cursor++
	return nil
}

func (s *ForwardSampler) recordMonitors(group Group, weights []float64) {
	if s.filterMonitor != nil {
		snapshots := s.snapshotSubscribed(s.filterMonitor)
		s.filterMonitor.AppendFilter(monitor.FilterRecord{
			Iteration:        s.iteration,
			Weights:          weights,
			ConditionalNodes: []int{group.Target},
			Snapshots:        snapshots,
		})
	}
	if s.genTreeMonitor != nil {
		indices := s.lastResampleIndices
		if indices == nil {
			indices = identityIndices(s.n)
		}
		s.genTreeMonitor.AppendGenTree(monitor.GenTreeRecord{
			Iteration:     s.iteration,
			ParentIndices: indices,
		})
	}
}

func (s *ForwardSampler) snapshotSubscribed(m *monitor.Monitor) map[int][]*tensor.Tensor {
	out := make(map[int][]*tensor.Tensor)
	for _, id := range m.SubscribedNodes() {
		values := make([]*tensor.Tensor, s.n)
		for i, p := range s.particles {
			values[i] = p.Value(id)
		}
		out[id] = values
	}
	return out
}

func identityIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *ForwardSampler) resample() {
	probs := make([]float64, s.n)
	sum := 0.0
	for _, p := range s.particles {
		sum += math.Exp(p.LogWeight)
	}
	for i, p := range s.particles {
		probs[i] = math.Exp(p.LogWeight) / sum
	}

	counts := countVector(s.mode, probs, s.n, s.rng)
	indices := countsToIndices(counts)

	newParticles := make([]*Particle, s.n)
	for i, parent := range indices {
		np := s.particles[parent].Clone()
		np.LogWeight = 0
		newParticles[i] = np
	}
	s.particles = newParticles
	s.lastResampleIndices = indices
	s.needsResample = false
}
