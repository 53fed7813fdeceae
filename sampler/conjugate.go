package sampler

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/rlouf/gmc/dist"
	"github.com/rlouf/gmc/gmcerr"
	"github.com/rlouf/gmc/graph"
	"github.com/rlouf/gmc/internal/linalg"
	"github.com/rlouf/gmc/tensor"
)

// scalarOf reads a scalar node value through a tensor.View rather than
// the owning *tensor.Tensor, so the per-particle, per-child reads in
// the conjugate samplers below (the hottest loop in the forward pass)
// never go through more than a shape/buffer handle.
func scalarOf(t *tensor.Tensor) float64 { return t.AsView().Scalar() }

// detector is one conjugacy factory: it inspects nodeID's local graph
// structure and, if the pattern matches, returns a specialised
// NodeSampler. Detectors are tried in a fixed priority order by
// BuildNodeSampler; the first to accept a node owns it.
type detector func(g *graph.Graph, nodeID int) (NodeSampler, bool)

var detectors = []detector{
	detectNormalNormal,
	detectNormalMVNormal,
	detectNormalVarLinear,
	detectBetaBinomial,
}

// BuildNodeSampler returns the sampler that should own nodeID: the
// first conjugacy detector that accepts it, or the default prior
// sampler otherwise. If priorOnly is set, conjugacy detectors are
// skipped entirely and every node gets the default sampler.
func BuildNodeSampler(g *graph.Graph, nodeID int, priorOnly bool) NodeSampler {
	if !priorOnly {
		for _, detect := range detectors {
			if s, ok := detect(g, nodeID); ok {
				return s
			}
		}
	}
	return NewDefault(g, nodeID)
}

// unboundedStochastic reports whether nodeID is a stochastic node
// without attached bounds; the spec's conjugate samplers assume
// unbounded parents and fall back to the default sampler otherwise,
// mirroring the bound-handling "FIXME" left unresolved in the source
// this specification was distilled from.
func unboundedStochastic(g *graph.Graph, nodeID int) bool {
	if g.Kind(nodeID) != graph.Stochastic {
		return false
	}
	lower, upper := g.Bounds(nodeID)
	return lower == graph.NoNode && upper == graph.NoNode
}

// ---------------------------------------------------------------------
// Normal / known-precision Normal children.
// ---------------------------------------------------------------------

type normalNormalSampler struct {
	g       *graph.Graph
	nodeID  int
	mean0   int
	prec0   int
	allKids []int
}

func detectNormalNormal(g *graph.Graph, nodeID int) (NodeSampler, bool) {
	if !unboundedStochastic(g, nodeID) || g.Distribution(nodeID) != dist.Normal {
		return nil, false
	}
	params := g.DistParams(nodeID)
	mean0, prec0 := params[0], params[1]

	children, err := g.LikelihoodChildren(nodeID)
	if err != nil || len(children) == 0 {
		return nil, false
	}
	for _, child := range children {
		if g.Distribution(child) != dist.Normal {
			return nil, false
		}
		cparams := g.DistParams(child)
		if cparams[0] != nodeID {
			return nil, false // target must be the mean parent directly
		}
		if !g.Observed(cparams[1]) {
			return nil, false // precision must be known
		}
	}
	return &normalNormalSampler{g: g, nodeID: nodeID, mean0: mean0, prec0: prec0, allKids: children}, true
}

func (s *normalNormalSampler) TargetNode() int { return s.nodeID }

func (s *normalNormalSampler) Sample(state ParticleState, rng *rand.Rand) (float64, error) {
	g := s.g
	mean0 := scalarOf(state.Value(s.mean0))
	prec0 := scalarOf(state.Value(s.prec0))

	precPost := prec0
	weightedMean := prec0 * mean0
	for _, child := range s.allKids {
		cparams := g.DistParams(child)
		precI := scalarOf(state.Value(cparams[1]))
		yI := scalarOf(state.Value(child))
		precPost += precI
		weightedMean += precI * yI
	}
	if precPost <= 0 {
		return 0, gmcerr.NewNumeric(s.nodeID, "not-psd")
	}
	meanPost := weightedMean / precPost

	x := dist.Normal.Sample([]*tensor.Tensor{tensor.NewScalar(meanPost), tensor.NewScalar(precPost)}, rng)
	state.SetValue(s.nodeID, x)

	logWeight := dist.Normal.LogDensity(tensor.NewScalar(meanPost), []*tensor.Tensor{tensor.NewScalar(mean0), tensor.NewScalar(prec0)})
	for _, child := range s.allKids {
		cparams := g.DistParams(child)
		precI := scalarOf(state.Value(cparams[1]))
		yI := state.Value(child)
		logWeight += dist.Normal.LogDensity(yI, []*tensor.Tensor{tensor.NewScalar(meanPost), tensor.NewScalar(precI)})
	}
	logWeight -= dist.Normal.LogDensity(tensor.NewScalar(meanPost), []*tensor.Tensor{tensor.NewScalar(meanPost), tensor.NewScalar(precPost)})

	if isNaN(logWeight) {
		return 0, gmcerr.NewNumeric(s.nodeID, "weight-nan")
	}
	return logWeight, nil
}

// ---------------------------------------------------------------------
// Normal / known-precision multivariate Normal children.
// ---------------------------------------------------------------------

type mvNormalNormalSampler struct {
	g       *graph.Graph
	nodeID  int
	mean0   int
	prec0   int
	dim     int
	allKids []int
}

func detectNormalMVNormal(g *graph.Graph, nodeID int) (NodeSampler, bool) {
	if !unboundedStochastic(g, nodeID) || g.Distribution(nodeID) != dist.MVNormal {
		return nil, false
	}
	params := g.DistParams(nodeID)
	mean0, prec0 := params[0], params[1]
	dim := g.Shape(nodeID)[0]

	children, err := g.LikelihoodChildren(nodeID)
	if err != nil || len(children) == 0 {
		return nil, false
	}
	for _, child := range children {
		if g.Distribution(child) != dist.MVNormal {
			return nil, false
		}
		cparams := g.DistParams(child)
		if cparams[0] != nodeID {
			return nil, false
		}
		if !g.Observed(cparams[1]) {
			return nil, false
		}
	}
	return &mvNormalNormalSampler{g: g, nodeID: nodeID, mean0: mean0, prec0: prec0, dim: dim, allKids: children}, true
}

func (s *mvNormalNormalSampler) TargetNode() int { return s.nodeID }

func symFromTensor(t *tensor.Tensor, n int) *mat.SymDense {
	if !t.IsMatrix() {
		panic(fmt.Sprintf("sampler: symFromTensor called on non-matrix tensor of shape %v", t.Shape()))
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, t.At2(i, j))
		}
	}
	return sym
}

func vecFromTensor(t *tensor.Tensor, n int) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, t.At(i))
	}
	return v
}

func tensorFromVec(v *mat.VecDense) *tensor.Tensor {
	n := v.Len()
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = v.AtVec(i)
	}
	return tensor.NewVector(data)
}

func tensorFromSym(s *mat.SymDense) *tensor.Tensor {
	n := s.Symmetric()
	data := make([]float64, n*n)
	t := tensor.NewWithData([]int{n, n}, data)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			t.SetAt2(i, j, s.At(i, j))
		}
	}
	return t
}

func (s *mvNormalNormalSampler) Sample(state ParticleState, rng *rand.Rand) (float64, error) {
	g := s.g
	n := s.dim

	precPost := mat.NewSymDense(n, nil)
	precPost.AddSym(precPost, symFromTensor(state.Value(s.prec0), n))

	weighted := mat.NewVecDense(n, nil)
	prec0Mat := symFromTensor(state.Value(s.prec0), n)
	mean0Vec := vecFromTensor(state.Value(s.mean0), n)
	weighted.MulVec(prec0Mat, mean0Vec)

	for _, child := range s.allKids {
		cparams := g.DistParams(child)
		precI := symFromTensor(state.Value(cparams[1]), n)
		yI := vecFromTensor(state.Value(child), n)
		precPost.AddSym(precPost, precI)

		term := mat.NewVecDense(n, nil)
		term.MulVec(precI, yI)
		weighted.AddVec(weighted, term)
	}

	precPostInv, err := linalg.InvertSPD(precPost)
	if err != nil {
		return 0, gmcerr.NewNumeric(s.nodeID, "not-psd")
	}
	meanPost := mat.NewVecDense(n, nil)
	meanPost.MulVec(precPostInv, weighted)

	meanPostT := tensorFromVec(meanPost)
	precPostT := tensorFromSym(precPost)

	x := dist.MVNormal.Sample([]*tensor.Tensor{meanPostT, precPostT}, rng)
	state.SetValue(s.nodeID, x)

	logWeight := dist.MVNormal.LogDensity(meanPostT, []*tensor.Tensor{tensorFromVec(mean0Vec), tensorFromSym(prec0Mat)})
	for _, child := range s.allKids {
		cparams := g.DistParams(child)
		precI := state.Value(cparams[1])
		yI := state.Value(child)
		logWeight += dist.MVNormal.LogDensity(yI, []*tensor.Tensor{meanPostT, precI})
	}
	logWeight -= dist.MVNormal.LogDensity(meanPostT, []*tensor.Tensor{meanPostT, precPostT})

	if isNaN(logWeight) {
		return 0, gmcerr.NewNumeric(s.nodeID, "weight-nan")
	}
	return logWeight, nil
}

// ---------------------------------------------------------------------
// Normal-variance target with a linear-mean Normal-variance children.
// ---------------------------------------------------------------------

type normalVarLinearSampler struct {
	g        *graph.Graph
	nodeID   int
	mean0    int
	var0     int
	allKids  []int
	coeffs   []LinearRecord // one per child, against this target
	variance []int          // child's known variance parent
}

func detectNormalVarLinear(g *graph.Graph, nodeID int) (NodeSampler, bool) {
	if !unboundedStochastic(g, nodeID) || g.Distribution(nodeID) != dist.NormalVar {
		return nil, false
	}
	params := g.DistParams(nodeID)
	mean0, var0 := params[0], params[1]

	children, err := g.LikelihoodChildren(nodeID)
	if err != nil || len(children) == 0 {
		return nil, false
	}
	coeffs := make([]LinearRecord, len(children))
	variance := make([]int, len(children))
	for i, child := range children {
		if g.Distribution(child) != dist.NormalVar {
			return nil, false
		}
		cparams := g.DistParams(child)
		rec, ok := isLinear(g, cparams[0], nodeID)
		if !ok || rec.A == 0 {
			return nil, false
		}
		if !g.Observed(cparams[1]) {
			return nil, false
		}
		coeffs[i] = rec
		variance[i] = cparams[1]
	}
	return &normalVarLinearSampler{g: g, nodeID: nodeID, mean0: mean0, var0: var0, allKids: children, coeffs: coeffs, variance: variance}, true
}

func (s *normalVarLinearSampler) TargetNode() int { return s.nodeID }

func (s *normalVarLinearSampler) Sample(state ParticleState, rng *rand.Rand) (float64, error) {
	g := s.g
	mean0 := scalarOf(state.Value(s.mean0))
	var0 := scalarOf(state.Value(s.var0))

	precPost := 1 / var0
	weighted := mean0 / var0
	for i, child := range s.allKids {
		a, b := s.coeffs[i].A, s.coeffs[i].B
		varI := scalarOf(state.Value(s.variance[i]))
		yI := scalarOf(state.Value(child))
		precPost += (a * a) / varI
		weighted += a * (yI - b) / varI
	}
	if precPost <= 0 {
		return 0, gmcerr.NewNumeric(s.nodeID, "not-psd")
	}
	varPost := 1 / precPost
	meanPost := varPost * weighted

	x := dist.NormalVar.Sample([]*tensor.Tensor{tensor.NewScalar(meanPost), tensor.NewScalar(varPost)}, rng)
	state.SetValue(s.nodeID, x)

	logWeight := dist.NormalVar.LogDensity(tensor.NewScalar(meanPost), []*tensor.Tensor{tensor.NewScalar(mean0), tensor.NewScalar(var0)})
	for i, child := range s.allKids {
		a, b := s.coeffs[i].A, s.coeffs[i].B
		varI := scalarOf(state.Value(s.variance[i]))
		childMean := a*meanPost + b
		logWeight += dist.NormalVar.LogDensity(state.Value(child), []*tensor.Tensor{tensor.NewScalar(childMean), tensor.NewScalar(varI)})
	}
	logWeight -= dist.NormalVar.LogDensity(tensor.NewScalar(meanPost), []*tensor.Tensor{tensor.NewScalar(meanPost), tensor.NewScalar(varPost)})

	if isNaN(logWeight) {
		return 0, gmcerr.NewNumeric(s.nodeID, "weight-nan")
	}
	return logWeight, nil
}

// ---------------------------------------------------------------------
// Beta / Binomial children.
// ---------------------------------------------------------------------

type betaBinomialSampler struct {
	g       *graph.Graph
	nodeID  int
	alpha0  int
	beta0   int
	allKids []int // children whose probability parameter is the target
	trials  []int // child's known trial-count parent
}

func detectBetaBinomial(g *graph.Graph, nodeID int) (NodeSampler, bool) {
	if !unboundedStochastic(g, nodeID) || g.Distribution(nodeID) != dist.Beta {
		return nil, false
	}
	params := g.DistParams(nodeID)
	alpha0, beta0 := params[0], params[1]

	children, err := g.LikelihoodChildren(nodeID)
	if err != nil || len(children) == 0 {
		return nil, false
	}
	trials := make([]int, len(children))
	for i, child := range children {
		if g.Distribution(child) != dist.Binomial {
			return nil, false
		}
		cparams := g.DistParams(child) // [p, n]
		if cparams[0] != nodeID {
			return nil, false
		}
		if !g.Observed(cparams[1]) {
			return nil, false
		}
		trials[i] = cparams[1]
	}
	return &betaBinomialSampler{g: g, nodeID: nodeID, alpha0: alpha0, beta0: beta0, allKids: children, trials: trials}, true
}

func (s *betaBinomialSampler) TargetNode() int { return s.nodeID }

func (s *betaBinomialSampler) Sample(state ParticleState, rng *rand.Rand) (float64, error) {
	g := s.g
	alpha0 := scalarOf(state.Value(s.alpha0))
	beta0 := scalarOf(state.Value(s.beta0))

	sumY, sumFail := 0.0, 0.0
	for i, child := range s.allKids {
		n := scalarOf(state.Value(s.trials[i]))
		y := scalarOf(state.Value(child))
		sumY += y
		sumFail += n - y
	}
	alphaPost := alpha0 + sumY
	betaPost := beta0 + sumFail
	if alphaPost <= 0 || betaPost <= 0 {
		return 0, gmcerr.NewNumeric(s.nodeID, "not-psd")
	}

	x := dist.Beta.Sample([]*tensor.Tensor{tensor.NewScalar(alphaPost), tensor.NewScalar(betaPost)}, rng)
	state.SetValue(s.nodeID, x)

	logWeight := logBeta(alphaPost, betaPost) - logBeta(alpha0, beta0)
	for i, child := range s.allKids {
		n := scalarOf(state.Value(s.trials[i]))
		y := scalarOf(state.Value(child))
		logWeight += logChoose(n, y)
	}

	if isNaN(logWeight) {
		return 0, gmcerr.NewNumeric(s.nodeID, "weight-nan")
	}
	return logWeight, nil
}
