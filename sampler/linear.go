package sampler

import (
	"github.com/rlouf/gmc/fn"
	"github.com/rlouf/gmc/graph"
)

// LinearRecord is the result of the is-linear visitor: a child mean
// parameter equal to A*target + B, where A and B are scalars known at
// detection time. It is returned by value rather than mutated in
// place, per the spec's guidance to implement constant propagation as
// a pure visitor rather than as overloaded operators on the graph.
type LinearRecord struct {
	A, B float64
}

// isLinear walks id's deterministic ancestry looking for an affine
// expression in target. Any node already observed is necessarily
// independent of target (target is unobserved while this runs, and
// observedness only propagates when every parent is observed), so an
// observed node contributes a constant term. Only Identity, Sum and
// Prod are recognised as linear-preserving; any other function, or a
// non-aggregation mix that depends on target in more than one operand
// of a Prod, fails detection.
func isLinear(g *graph.Graph, id, target int) (LinearRecord, bool) {
	if id == target {
		return LinearRecord{A: 1, B: 0}, true
	}
	if g.Observed(id) {
		v := g.Value(id)
		if !v.IsScalar() {
			return LinearRecord{}, false
		}
		return LinearRecord{A: 0, B: v.Scalar()}, true
	}
	if g.Kind(id) != graph.Deterministic || g.IsAggregation(id) {
		return LinearRecord{}, false
	}

	f := g.Function(id)
	args := g.FuncArgs(id)
	switch f {
	case fn.Identity:
		if len(args) != 1 {
			return LinearRecord{}, false
		}
		return isLinear(g, args[0], target)
	case fn.Sum:
		if len(args) != 2 {
			return LinearRecord{}, false
		}
		r1, ok1 := isLinear(g, args[0], target)
		r2, ok2 := isLinear(g, args[1], target)
		if !ok1 || !ok2 {
			return LinearRecord{}, false
		}
		return LinearRecord{A: r1.A + r2.A, B: r1.B + r2.B}, true
	case fn.Prod:
		if len(args) != 2 {
			return LinearRecord{}, false
		}
		r1, ok1 := isLinear(g, args[0], target)
		r2, ok2 := isLinear(g, args[1], target)
		if !ok1 || !ok2 {
			return LinearRecord{}, false
		}
		switch {
		case r1.A == 0:
			return LinearRecord{A: r2.A * r1.B, B: r2.B * r1.B}, true
		case r2.A == 0:
			return LinearRecord{A: r1.A * r2.B, B: r1.B * r2.B}, true
		default:
			return LinearRecord{}, false // both operands depend on target: nonlinear
		}
	default:
		return LinearRecord{}, false
	}
}
