package core

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// PairKey identifies an unordered leader pair by cluster-order indices,
// always with I < J.
type PairKey struct {
	I, J int
}

// NewPairKey orders a and b into a PairKey.
func NewPairKey(a, b int) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{I: a, J: b}
}

func (k PairKey) String() string { return fmt.Sprintf("%d-%d", k.I, k.J) }

// ConnectivityMetrics accumulates the sampler's counters for one run.
// Counters only grow.
type ConnectivityMetrics struct {
	TotalChecks      uint64
	ConnectedChecks  uint64
	PairConnectivity map[PairKey]uint64
}

// NewConnectivityMetrics returns zeroed metrics.
func NewConnectivityMetrics() *ConnectivityMetrics {
	return &ConnectivityMetrics{PairConnectivity: make(map[PairKey]uint64)}
}

// ConnectivityRatio is ConnectedChecks/TotalChecks, or 0 before the first check.
func (m *ConnectivityMetrics) ConnectivityRatio() float64 {
	if m == nil || m.TotalChecks == 0 {
		return 0
	}
	return float64(m.ConnectedChecks) / float64(m.TotalChecks)
}

// PairRatio is the fraction of checks in which the pair was within range.
func (m *ConnectivityMetrics) PairRatio(k PairKey) float64 {
	if m == nil || m.TotalChecks == 0 {
		return 0
	}
	return float64(m.PairConnectivity[k]) / float64(m.TotalChecks)
}

// PairStat is one row of the per-pair report.
type PairStat struct {
	I         int     `json:"i" yaml:"i"`
	J         int     `json:"j" yaml:"j"`
	LeaderA   string  `json:"leader_a" yaml:"leader_a"`
	LeaderB   string  `json:"leader_b" yaml:"leader_b"`
	Connected uint64  `json:"connected_samples" yaml:"connected_samples"`
	Ratio     float64 `json:"ratio" yaml:"ratio"`
}

// MetricsSnapshot is the end-of-run view handed to report writers.
type MetricsSnapshot struct {
	RunID             string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	SimTime           time.Duration `json:"sim_time_ns" yaml:"sim_time"`
	TotalChecks       uint64        `json:"total_checks" yaml:"total_checks"`
	ConnectedChecks   uint64        `json:"connected_checks" yaml:"connected_checks"`
	ConnectivityRatio float64       `json:"connectivity_ratio" yaml:"connectivity_ratio"`
	Pairs             []PairStat    `json:"pairs" yaml:"pairs"`
}

// Snapshot copies the counters into a MetricsSnapshot. leaders maps pair
// indices back to node IDs; indices without a name are reported as "#i".
// Every pair of named leaders is listed, including pairs that were never
// connected, in (I, J) order.
func (m *ConnectivityMetrics) Snapshot(leaders []string) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		TotalChecks:       m.TotalChecks,
		ConnectedChecks:   m.ConnectedChecks,
		ConnectivityRatio: m.ConnectivityRatio(),
	}
	name := func(i int) string {
		if i >= 0 && i < len(leaders) {
			return leaders[i]
		}
		return fmt.Sprintf("#%d", i)
	}

	counts := make(map[PairKey]uint64, len(m.PairConnectivity))
	for i := 0; i < len(leaders); i++ {
		for j := i + 1; j < len(leaders); j++ {
			counts[PairKey{I: i, J: j}] = 0
		}
	}
	for k, n := range m.PairConnectivity {
		counts[k] = n
	}

	snap.Pairs = make([]PairStat, 0, len(counts))
	for k, n := range counts {
		snap.Pairs = append(snap.Pairs, PairStat{
			I:         k.I,
			J:         k.J,
			LeaderA:   name(k.I),
			LeaderB:   name(k.J),
			Connected: n,
			Ratio:     m.PairRatio(k),
		})
	}
	slices.SortFunc(snap.Pairs, func(a, b PairStat) int {
		if a.I != b.I {
			return a.I - b.I
		}
		return a.J - b.J
	})
	return snap
}

// SampleResult describes a single connectivity check.
type SampleResult struct {
	At             time.Duration
	ConnectedPairs int
	TotalPairs     int
	Majority       bool
	// Excluded lists leaders whose position could not be read.
	Excluded []string
}
