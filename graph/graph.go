// Package graph implements the DAG of constant, deterministic and
// stochastic nodes: construction, the one-shot build that freezes
// topological ranks and derived closure sets, and the
// observation/discreteness propagation rules of the data model.
package graph

import (
	"golang.org/x/exp/rand"

	"github.com/rlouf/gmc/dist"
	"github.com/rlouf/gmc/fn"
	"github.com/rlouf/gmc/gmcerr"
	"github.com/rlouf/gmc/tensor"
)

// Graph is the DAG of nodes. Parent references only ever point to
// already-added nodes, so it is acyclic by construction unless a
// future extension allows forward references; Build still checks for
// cycles defensively per the spec's contract.
type Graph struct {
	nodes    []*node
	observed []bool
	discrete []bool
	rank     []int
	values   []*tensor.Tensor // nil slot == unset

	children [][]int // reverse adjacency, computed at Build

	stochasticParents  [][]int
	stochasticChildren [][]int
	likelihoodChildren [][]int

	topoOrder []int
	built     bool
}

// New returns an empty, unbuilt graph.
func New() *Graph {
	return &Graph{}
}

// Size returns the number of nodes added so far.
func (g *Graph) Size() int { return len(g.nodes) }

// Built reports whether Build has been called successfully.
func (g *Graph) Built() bool { return g.built }

func (g *Graph) requireBuilt(op string) error {
	if !g.built {
		return gmcerr.NewLogic("%s: graph not built", op)
	}
	return nil
}

func (g *Graph) requireUnbuilt(op string) error {
	if g.built {
		return gmcerr.NewLogic("%s: graph already built", op)
	}
	return nil
}

func shapeLen(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func isInteger(v float64) bool {
	if tensor.IsNA(v) {
		return false
	}
	return v == float64(int64(v))
}

// AddConstant adds a Constant node owning the given value buffer.
func (g *Graph) AddConstant(shape []int, values []float64) (int, error) {
	if shapeLen(shape) != len(values) {
		return NoNode, gmcerr.NewDimension(NoNode, "constant: shape %v does not match %d values", shape, len(values))
	}

	id := len(g.nodes)
	n := &node{id: id, kind: Constant, shape: append([]int(nil), shape...)}
	g.nodes = append(g.nodes, n)

	discrete := true
	for _, v := range values {
		if !isInteger(v) {
			discrete = false
			break
		}
	}

	g.observed = append(g.observed, true)
	g.discrete = append(g.discrete, discrete)
	g.rank = append(g.rank, -1)
	g.values = append(g.values, tensor.NewWithData(shape, append([]float64(nil), values...)))

	g.built = false
	return id, nil
}

// paramDims returns the shapes of the given parent ids.
func (g *Graph) paramDims(parents []int) [][]int {
	dims := make([][]int, len(parents))
	for i, p := range parents {
		dims[i] = g.nodes[p].shape
	}
	return dims
}

func (g *Graph) paramDiscreteMask(parents []int) []bool {
	mask := make([]bool, len(parents))
	for i, p := range parents {
		mask[i] = g.discrete[p]
	}
	return mask
}

func (g *Graph) allObserved(parents []int) bool {
	for _, p := range parents {
		if !g.observed[p] {
			return false
		}
	}
	return true
}

func dedup(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) paramTensors(parents []int) []*tensor.Tensor {
	vals := make([]*tensor.Tensor, len(parents))
	for i, p := range parents {
		vals[i] = g.values[p]
	}
	return vals
}

// AddAggregation adds a Deterministic node assembled from scalar
// slots of other nodes: parents[i]/offsets[i] names the source node
// and offset for output slot i. len(parents) == len(offsets) ==
// product(shape).
func (g *Graph) AddAggregation(shape []int, parents []int, offsets []int) (int, error) {
	n := shapeLen(shape)
	if len(parents) != n || len(offsets) != n {
		return NoNode, gmcerr.NewDimension(NoNode, "aggregation: shape %v needs %d (parent,offset) pairs, got %d/%d", shape, n, len(parents), len(offsets))
	}
	for i, p := range parents {
		if p < 0 || p >= len(g.nodes) {
			return NoNode, gmcerr.NewLogic("aggregation: parent id %d out of range", p)
		}
		if offsets[i] < 0 || offsets[i] >= shapeLenOrOne(g.nodes[p].shape) {
			return NoNode, gmcerr.NewDimension(NoNode, "aggregation: offset %d out of range for parent %d of shape %v", offsets[i], p, g.nodes[p].shape)
		}
	}

	id := len(g.nodes)
	uniqueParents := dedup(parents)
	nd := &node{
		id:      id,
		kind:    Deterministic,
		shape:   append([]int(nil), shape...),
		parents: uniqueParents,
	}
	nd.aggSlots = make([]aggSlot, n)
	for i := range nd.aggSlots {
		nd.aggSlots[i] = aggSlot{ParentID: parents[i], Offset: offsets[i]}
	}
	g.nodes = append(g.nodes, nd)

	observed := g.allObserved(uniqueParents)
	discrete := true
	for _, p := range uniqueParents {
		if !g.discrete[p] {
			discrete = false
			break
		}
	}

	g.observed = append(g.observed, observed)
	g.discrete = append(g.discrete, discrete)
	g.rank = append(g.rank, -1)

	if observed {
		g.values = append(g.values, g.evalAggregation(nd))
	} else {
		g.values = append(g.values, nil)
	}

	g.built = false
	return id, nil
}

func shapeLenOrOne(shape []int) int {
	l := shapeLen(shape)
	if l == 0 {
		return 1
	}
	return l
}

func (g *Graph) evalAggregation(nd *node) *tensor.Tensor {
	out := tensor.New(nd.shape...)
	for i, slot := range nd.aggSlots {
		out.SetAt(i, g.values[slot.ParentID].At(slot.Offset))
	}
	return out
}

// AggSlot binds one scalar output slot of an aggregation node to an
// offset into one parent's value buffer; it is the exported mirror of
// the internal aggSlot type, used by callers (e.g. the per-particle
// forward sampler) that must evaluate an aggregation node against a
// value source other than the graph's own g.values.
type AggSlot struct {
	ParentID int
	Offset   int
}

// AggSlots returns a deterministic node's aggregation slots, or nil if
// it is function-backed instead.
func (g *Graph) AggSlots(id int) []AggSlot {
	nd := g.nodes[id]
	if !nd.isAggregation() {
		return nil
	}
	out := make([]AggSlot, len(nd.aggSlots))
	for i, s := range nd.aggSlots {
		out[i] = AggSlot{ParentID: s.ParentID, Offset: s.Offset}
	}
	return out
}

// EvalAggregation assembles an aggregation node's value from a value
// source callback, the shared core of both the graph's own immediate
// evaluation and any per-particle re-evaluation in the forward sampler.
func EvalAggregation(shape []int, slots []AggSlot, valueOf func(id int) *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(shape...)
	for i, slot := range slots {
		out.SetAt(i, valueOf(slot.ParentID).At(slot.Offset))
	}
	return out
}

// AddDeterministic adds a Deterministic node computing f(parents...).
// The output shape is computed from f's dimension rule, which must
// accept the parents' shapes or the call fails with a
// dimension-mismatch error.
func (g *Graph) AddDeterministic(f fn.Function, parents []int) (int, error) {
	if f == nil {
		return NoNode, gmcerr.NewLogic("deterministic: function is nil")
	}
	dims := g.paramDims(parents)
	if !f.CheckParamDims(dims) {
		return NoNode, gmcerr.NewDimension(NoNode, "function %q rejects parameter shapes %v", f.Name(), dims)
	}
	outShape := f.Dim(dims)

	id := len(g.nodes)
	uniqueParents := dedup(parents)
	nd := &node{
		id:       id,
		kind:     Deterministic,
		shape:    outShape,
		parents:  uniqueParents,
		fn:       f,
		funcArgs: append([]int(nil), parents...),
	}
	g.nodes = append(g.nodes, nd)

	mask := g.paramDiscreteMask(parents)
	observed := g.allObserved(uniqueParents)

	g.observed = append(g.observed, observed)
	g.discrete = append(g.discrete, f.IsDiscreteValued(mask))
	g.rank = append(g.rank, -1)

	if observed {
		params := g.paramTensors(nd.funcArgs)
		if !f.CheckParamValues(params) {
			g.popDeterministic()
			return NoNode, gmcerr.NewDomain(id, "function %q rejects parameter values", f.Name())
		}
		g.values = append(g.values, f.Eval(params))
	} else {
		g.values = append(g.values, nil)
	}

	g.built = false
	return id, nil
}

// popDeterministic undoes the tentative append of the most recently
// added deterministic node across every parallel slice except values,
// which the caller has not yet appended to.
func (g *Graph) popDeterministic() {
	g.nodes = g.nodes[:len(g.nodes)-1]
	g.observed = g.observed[:len(g.observed)-1]
	g.discrete = g.discrete[:len(g.discrete)-1]
	g.rank = g.rank[:len(g.rank)-1]
}

// AddStochastic adds a Stochastic node drawn from d given parents. If
// value is non-nil the node is observed with that value (length must
// match the node's shape); otherwise it is unobserved. lower/upper are
// NoNode if absent, otherwise node ids whose shape must match the new
// node's shape and whose distribution must declare itself boundable.
func (g *Graph) AddStochastic(d dist.Distribution, parents []int, value []float64, lower, upper int) (int, error) {
	if d == nil {
		return NoNode, gmcerr.NewLogic("stochastic: distribution is nil")
	}
	dims := g.paramDims(parents)
	if !d.CheckParamDims(dims) {
		return NoNode, gmcerr.NewDimension(NoNode, "distribution %q rejects parameter shapes %v", d.Name(), dims)
	}
	outShape := d.Dim(dims)

	mask := g.paramDiscreteMask(parents)
	if !d.CheckParamDiscrete(mask) {
		return NoNode, gmcerr.NewDistribution(NoNode, "distribution %q rejects parent discreteness %v", d.Name(), mask)
	}

	if lower != NoNode || upper != NoNode {
		if !d.CanBound() {
			return NoNode, gmcerr.NewDistribution(NoNode, "distribution %q cannot be bounded", d.Name())
		}
		if lower != NoNode && !tensor.SameShape(g.nodes[lower].shape, outShape) {
			return NoNode, gmcerr.NewDimension(NoNode, "lower bound shape mismatch")
		}
		if upper != NoNode && !tensor.SameShape(g.nodes[upper].shape, outShape) {
			return NoNode, gmcerr.NewDimension(NoNode, "upper bound shape mismatch")
		}
	}

	id := len(g.nodes)
	edgeParents := append([]int(nil), parents...)
	if lower != NoNode {
		edgeParents = append(edgeParents, lower)
	}
	if upper != NoNode {
		edgeParents = append(edgeParents, upper)
	}
	nd := &node{
		id:         id,
		kind:       Stochastic,
		shape:      outShape,
		parents:    dedup(edgeParents),
		dist:       d,
		distParams: append([]int(nil), parents...),
		lower:      lower,
		upper:      upper,
	}
	g.nodes = append(g.nodes, nd)

	discrete := d.IsDiscreteValued(mask)
	g.discrete = append(g.discrete, discrete)
	g.rank = append(g.rank, -1)

	observed := value != nil
	g.observed = append(g.observed, observed)

	if g.allObserved(parents) && !d.CheckParamValues(g.paramTensors(parents)) {
		g.popJustAdded()
		return NoNode, gmcerr.NewDomain(id, "distribution %q rejects parameter values", d.Name())
	}

	if observed {
		if len(value) != shapeLen(outShape) {
			g.popJustAdded()
			return NoNode, gmcerr.NewDimension(id, "observed value length %d does not match shape %v", len(value), outShape)
		}
		if discrete {
			for _, v := range value {
				if !isInteger(v) {
					g.popJustAdded()
					return NoNode, gmcerr.NewDomain(id, "observed value %v is not integer-valued for a discrete node", v)
				}
			}
		}
		g.values = append(g.values, tensor.NewWithData(outShape, append([]float64(nil), value...)))
	} else {
		g.values = append(g.values, nil)
	}

	g.built = false
	return id, nil
}

// popJustAdded undoes the last append to every parallel slice; used to
// unwind a stochastic-node add that fails validation after the node
// was tentatively appended.
func (g *Graph) popJustAdded() {
	g.nodes = g.nodes[:len(g.nodes)-1]
	g.observed = g.observed[:len(g.observed)-1]
	g.discrete = g.discrete[:len(g.discrete)-1]
	g.rank = g.rank[:len(g.rank)-1]
}

// PopLast removes the most recently added node, provided it has no
// children yet (LIFO pop before Build). It fails once the graph is
// built.
func (g *Graph) PopLast() error {
	if err := g.requireUnbuilt("pop_last"); err != nil {
		return err
	}
	if len(g.nodes) == 0 {
		return gmcerr.NewLogic("pop_last: graph is empty")
	}
	lastID := len(g.nodes) - 1
	for _, n := range g.nodes[:lastID] {
		for _, p := range n.parents {
			if p == lastID {
				return gmcerr.NewLogic("pop_last: node %d has children", lastID)
			}
		}
	}
	g.nodes = g.nodes[:lastID]
	g.observed = g.observed[:lastID]
	g.discrete = g.discrete[:lastID]
	g.rank = g.rank[:lastID]
	g.values = g.values[:lastID]
	return nil
}

// Kind returns node id's kind.
func (g *Graph) Kind(id int) Kind { return g.nodes[id].kind }

// Shape returns node id's shape.
func (g *Graph) Shape(id int) []int { return g.nodes[id].shape }

// Parents returns node id's parent ids (deduplicated edges).
func (g *Graph) Parents(id int) []int { return g.nodes[id].parents }

// Observed reports whether node id currently carries a value.
func (g *Graph) Observed(id int) bool { return g.observed[id] }

// Discrete reports whether node id's value is constrained to integers.
func (g *Graph) Discrete(id int) bool { return g.discrete[id] }

// Value returns node id's current value buffer, or nil if unset.
func (g *Graph) Value(id int) *tensor.Tensor { return g.values[id] }

// DistParams returns the ordered distribution-parameter parent ids of
// a stochastic node.
func (g *Graph) DistParams(id int) []int { return g.nodes[id].distParams }

// Distribution returns the distribution of a stochastic node.
func (g *Graph) Distribution(id int) dist.Distribution { return g.nodes[id].dist }

// Bounds returns the lower/upper bound parent ids of a stochastic
// node, or NoNode if absent.
func (g *Graph) Bounds(id int) (lower, upper int) {
	return g.nodes[id].lower, g.nodes[id].upper
}

// Function returns the function of a function-backed deterministic
// node, or nil for an aggregation node.
func (g *Graph) Function(id int) fn.Function { return g.nodes[id].fn }

// FuncArgs returns the positional (possibly repeating) parent ids of a
// function-backed deterministic node.
func (g *Graph) FuncArgs(id int) []int { return g.nodes[id].funcArgs }

// IsAggregation reports whether a deterministic node is an aggregation
// node rather than function-backed.
func (g *Graph) IsAggregation(id int) bool { return g.nodes[id].isAggregation() }

// Build freezes the graph: it checks for cycles, assigns a dense
// topological rank to every node (not just observed-reachable ones,
// so ranks are defined even before any sampling happens) and derives
// the stochastic-parent, stochastic-child and likelihood-child closure
// sets used by the node samplers. It fails if the graph is already
// built or contains a cycle.
func (g *Graph) Build() error {
	if g.built {
		return gmcerr.NewLogic("build: graph already built")
	}
	n := len(g.nodes)

	g.children = make([][]int, n)
	for id, nd := range g.nodes {
		for _, p := range nd.parents {
			g.children[p] = append(g.children[p], id)
		}
	}

	order, err := topoSort(g.nodes)
	if err != nil {
		return err
	}
	g.topoOrder = order
	for rank, id := range order {
		g.rank[id] = rank
	}

	g.buildStochasticParents()
	g.buildStochasticChildren()
	g.buildLikelihoodChildren()

	g.built = true
	return nil
}

// topoSort runs Kahn's algorithm over the parent edges, returning node
// ids in dependency order (every parent before its children) or an
// error if the graph contains a cycle.
func topoSort(nodes []*node) ([]int, error) {
	n := len(nodes)
	indegree := make([]int, n)
	childrenOf := make([][]int, n)
	for id, nd := range nodes {
		for _, p := range nd.parents {
			childrenOf[p] = append(childrenOf[p], id)
			indegree[id]++
		}
	}

	queue := make([]int, 0, n)
	for id := 0; id < n; id++ {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, c := range childrenOf[id] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(order) != n {
		return nil, gmcerr.NewLogic("build: graph contains a cycle")
	}
	return order, nil
}

// buildStochasticParents sets, for every node, the set of stochastic
// ancestors reachable without passing through another stochastic node
// (i.e. the nearest stochastic ancestors along every path).
func (g *Graph) buildStochasticParents() {
	g.stochasticParents = make([][]int, len(g.nodes))
	for _, id := range g.topoOrder {
		nd := g.nodes[id]
		set := map[int]struct{}{}
		for _, p := range nd.parents {
			if g.nodes[p].kind == Stochastic {
				set[p] = struct{}{}
				continue
			}
			for _, anc := range g.stochasticParents[p] {
				set[anc] = struct{}{}
			}
		}
		g.stochasticParents[id] = setToSlice(set)
	}
}

// buildStochasticChildren is the reverse relation of
// buildStochasticParents: for every stochastic node, which other
// stochastic nodes have it as a nearest stochastic ancestor.
func (g *Graph) buildStochasticChildren() {
	g.stochasticChildren = make([][]int, len(g.nodes))
	for id, parents := range g.stochasticParents {
		for _, p := range parents {
			g.stochasticChildren[p] = append(g.stochasticChildren[p], id)
		}
	}
}

// buildLikelihoodChildren computes, for every stochastic node, the set
// of observed stochastic descendants whose own stochastic parents
// (other than the ancestor itself) are all either observed or not yet
// relevant — i.e. the nodes contributing a likelihood factor to this
// node's full conditional. Grounded on Biips's anyUnknownParent check
// in its conjugate-sampler factory: a descendant only contributes a
// closed-form likelihood term if every other stochastic parent it
// depends on is already known.
func (g *Graph) buildLikelihoodChildren() {
	g.likelihoodChildren = make([][]int, len(g.nodes))
	for id, nd := range g.nodes {
		if nd.kind != Stochastic {
			continue
		}
		for _, child := range g.stochasticChildren[id] {
			if !g.observed[child] {
				continue
			}
			if g.anyOtherStochasticParentUnknown(child, id) {
				continue
			}
			g.likelihoodChildren[id] = append(g.likelihoodChildren[id], child)
		}
	}
}

func (g *Graph) anyOtherStochasticParentUnknown(child, exclude int) bool {
	for _, p := range g.stochasticParents[child] {
		if p == exclude {
			continue
		}
		if !g.observed[p] {
			return true
		}
	}
	return false
}

func setToSlice(set map[int]struct{}) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Rank returns node id's topological rank. Only valid after Build.
func (g *Graph) Rank(id int) (int, error) {
	if err := g.requireBuilt("rank"); err != nil {
		return 0, err
	}
	return g.rank[id], nil
}

// TopoOrder returns all node ids in topological order. Only valid
// after Build.
func (g *Graph) TopoOrder() ([]int, error) {
	if err := g.requireBuilt("topo_order"); err != nil {
		return nil, err
	}
	return append([]int(nil), g.topoOrder...), nil
}

// StochasticParents returns id's nearest stochastic ancestors. Only
// valid after Build.
func (g *Graph) StochasticParents(id int) ([]int, error) {
	if err := g.requireBuilt("stochastic_parents"); err != nil {
		return nil, err
	}
	return g.stochasticParents[id], nil
}

// StochasticChildren returns id's nearest stochastic descendants. Only
// valid after Build.
func (g *Graph) StochasticChildren(id int) ([]int, error) {
	if err := g.requireBuilt("stochastic_children"); err != nil {
		return nil, err
	}
	return g.stochasticChildren[id], nil
}

// LikelihoodChildren returns the observed stochastic descendants of id
// that contribute a closed-form likelihood factor to id's full
// conditional. Only valid after Build.
func (g *Graph) LikelihoodChildren(id int) ([]int, error) {
	if err := g.requireBuilt("likelihood_children"); err != nil {
		return nil, err
	}
	return g.likelihoodChildren[id], nil
}

// SampleValues draws a value for every unobserved node in topological
// order, evaluating deterministic nodes and sampling stochastic ones
// from their prior given already-assigned parent values. It leaves
// observed nodes untouched. Only valid after Build.
func (g *Graph) SampleValues(rng *rand.Rand) error {
	if err := g.requireBuilt("sample_values"); err != nil {
		return err
	}
	for _, id := range g.topoOrder {
		if g.observed[id] {
			continue
		}
		nd := g.nodes[id]
		switch nd.kind {
		case Constant:
			// always observed; unreachable.
		case Deterministic:
			if nd.isAggregation() {
				g.values[id] = g.evalAggregation(nd)
			} else {
				g.values[id] = nd.fn.Eval(g.paramTensors(nd.funcArgs))
			}
		case Stochastic:
			params := g.paramTensors(nd.distParams)
			g.values[id] = nd.dist.Sample(params, rng)
		}
	}
	return nil
}

// SetObservedValue assigns value to node id, which must be stochastic,
// and cascades the resulting observedness change forward to any
// deterministic descendant that becomes fully observed as a result.
// Only valid after Build, since cascading relies on topological order.
func (g *Graph) SetObservedValue(id int, value []float64) error {
	if err := g.requireBuilt("set_observed_value"); err != nil {
		return err
	}
	nd := g.nodes[id]
	if nd.kind != Stochastic {
		return gmcerr.NewLogic("set_observed_value: node %d is not stochastic", id)
	}
	if len(value) != shapeLen(nd.shape) {
		return gmcerr.NewDimension(id, "set_observed_value: value length %d does not match shape %v", len(value), nd.shape)
	}
	if g.discrete[id] {
		for _, v := range value {
			if !isInteger(v) {
				return gmcerr.NewDomain(id, "set_observed_value: value %v is not integer-valued for a discrete node", v)
			}
		}
	}
	g.values[id] = tensor.NewWithData(nd.shape, append([]float64(nil), value...))
	g.observed[id] = true
	g.propagateObserved(id)
	return nil
}

// SetUnobserved clears node id's value, which must be stochastic, and
// cascades the resulting unobservedness to any deterministic
// descendant that depended on it.
func (g *Graph) SetUnobserved(id int) error {
	if err := g.requireBuilt("set_unobserved"); err != nil {
		return err
	}
	nd := g.nodes[id]
	if nd.kind != Stochastic {
		return gmcerr.NewLogic("set_unobserved: node %d is not stochastic", id)
	}
	g.values[id] = nil
	g.observed[id] = false
	g.propagateUnobserved(id)
	return nil
}

// propagateObserved re-evaluates every deterministic descendant of id
// that has now become fully observed, recursing through each newly
// observed child in turn.
func (g *Graph) propagateObserved(id int) {
	for _, child := range g.children[id] {
		nd := g.nodes[child]
		if nd.kind != Deterministic || g.observed[child] {
			continue
		}
		if !g.allObserved(nd.parents) {
			continue
		}
		if nd.isAggregation() {
			g.values[child] = g.evalAggregation(nd)
		} else {
			g.values[child] = nd.fn.Eval(g.paramTensors(nd.funcArgs))
		}
		g.observed[child] = true
		g.propagateObserved(child)
	}
}

// propagateUnobserved clears every deterministic descendant of id that
// was only observed because id was.
func (g *Graph) propagateUnobserved(id int) {
	for _, child := range g.children[id] {
		nd := g.nodes[child]
		if nd.kind != Deterministic || !g.observed[child] {
			continue
		}
		g.values[child] = nil
		g.observed[child] = false
		g.propagateUnobserved(child)
	}
}
