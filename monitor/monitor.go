package monitor

import (
	"errors"
	"fmt"

	"github.com/rlouf/gmc/tensor"
)

// FilterRecord captures one forward-sampler iteration: the particle
// weight vector (normalized, linear scale), which stochastic nodes
// were drawn that iteration (the "conditional nodes" observed in that
// step), and a per-monitored-node snapshot of every particle's value.
type FilterRecord struct {
	Iteration        int
	Weights          []float64
	ConditionalNodes []int
	Snapshots        map[int][]*tensor.Tensor
}

// GenTreeRecord captures one iteration's resampling lineage: for every
// current particle, the index of the parent particle it was copied
// from (identity if no resampling occurred that iteration). It is the
// raw material for reconstructing full particle trajectories.
type GenTreeRecord struct {
	Iteration     int
	ParentIndices []int
}

// StatTag names one of the scalar statistics extract_stat can report.
type StatTag int

const (
	StatSum StatTag = iota
	StatMean
	StatVariance
	StatMoment2
	StatMoment3
	StatMoment4
	StatSkewness
	StatKurtosis
)

// Monitor tracks which nodes the user has registered interest in and
// accumulates the corresponding records across iterations. The same
// type backs filter, genealogy-tree and backward-smoothing monitor
// subscriptions; which records it accumulates depends on which
// collaborator (the forward sampler or the backward smoother) appends
// to it.
type Monitor struct {
	nodes   map[int]bool
	filter  []FilterRecord
	genTree []GenTreeRecord
}

// NewMonitor returns an empty monitor with no node subscriptions.
func NewMonitor() *Monitor {
	return &Monitor{nodes: make(map[int]bool)}
}

// Subscribe registers interest in nodeID. Re-subscribing is a no-op.
func (m *Monitor) Subscribe(nodeID int) { m.nodes[nodeID] = true }

// Subscribed reports whether nodeID has been registered.
func (m *Monitor) Subscribed(nodeID int) bool { return m.nodes[nodeID] }

// SubscribedNodes returns every node id registered with this monitor,
// in no particular order.
func (m *Monitor) SubscribedNodes() []int {
	out := make([]int, 0, len(m.nodes))
	for id := range m.nodes {
		out = append(out, id)
	}
	return out
}

// AppendFilter records one forward-sampler iteration.
func (m *Monitor) AppendFilter(rec FilterRecord) { m.filter = append(m.filter, rec) }

// AppendGenTree records one iteration's resampling lineage.
func (m *Monitor) AppendGenTree(rec GenTreeRecord) { m.genTree = append(m.genTree, rec) }

// FilterRecords returns every recorded filter iteration, in order.
func (m *Monitor) FilterRecords() []FilterRecord { return m.filter }

// GenTreeRecords returns every recorded genealogy iteration, in order.
func (m *Monitor) GenTreeRecords() []GenTreeRecord { return m.genTree }

// errNoRecords is returned by the extraction methods when no filter
// iteration has been recorded yet.
var errNoRecords = errors.New("monitor: no filter records available")

func (m *Monitor) latestSnapshot(nodeID int) ([]*tensor.Tensor, []float64, error) {
	if len(m.filter) == 0 {
		return nil, nil, errNoRecords
	}
	rec := m.filter[len(m.filter)-1]
	snap, ok := rec.Snapshots[nodeID]
	if !ok {
		return nil, nil, fmt.Errorf("monitor: node %d was not subscribed", nodeID)
	}
	return snap, rec.Weights, nil
}

// ExtractStat returns the requested scalar statistic for nodeID over
// the most recently recorded filter iteration's particle values,
// weighted by that iteration's particle weights.
func (m *Monitor) ExtractStat(nodeID int, tag StatTag) (float64, error) {
	snap, weights, err := m.latestSnapshot(nodeID)
	if err != nil {
		return 0, err
	}
	var acc MomentAccumulator
	for i, t := range snap {
		acc.Add(t.Scalar(), weights[i])
	}
	switch tag {
	case StatSum:
		return acc.Sum(), nil
	case StatMean:
		return acc.Mean(), nil
	case StatVariance:
		return acc.Variance(), nil
	case StatMoment2:
		return acc.CentralMoment(2), nil
	case StatMoment3:
		return acc.CentralMoment(3), nil
	case StatMoment4:
		return acc.CentralMoment(4), nil
	case StatSkewness:
		return acc.Skewness(), nil
	case StatKurtosis:
		return acc.Kurtosis(), nil
	default:
		return 0, fmt.Errorf("monitor: unknown stat tag %d", tag)
	}
}

// ExtractPDF returns the empirical histogram PDF for nodeID over the
// most recently recorded filter iteration.
func (m *Monitor) ExtractPDF(nodeID int, bins int, cacheFraction float64) (*Histogram, error) {
	snap, weights, err := m.latestSnapshot(nodeID)
	if err != nil {
		return nil, err
	}
	var acc HistogramAccumulator
	for i, t := range snap {
		acc.Add(t.Scalar(), weights[i])
	}
	return acc.Result(bins, cacheFraction), nil
}
