package core

import (
	"context"
	"time"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

const (
	// DefaultMaxRange is the leader-to-leader connectivity range in metres.
	DefaultMaxRange = 300.0
	// DefaultSamplePeriod is the interval between connectivity checks.
	DefaultSamplePeriod = time.Second
)

// MetricsRecorder receives simulation measurements as they happen. The
// Prometheus collector in internal/observability implements it.
type MetricsRecorder interface {
	ObserveSample(connectedPairs, totalPairs int, majority bool)
	ObservePairConnected(leaderA, leaderB string)
	SetConnectivityRatio(ratio float64)
	ObserveCourseChange(role string)
	ObserveWaypointArrival(nodeID string)
	ObserveEvent(simTime time.Duration)
}

// ConnectivityService periodically checks which leader pairs are within
// MaxRange of each other and folds the result into its metrics.
type ConnectivityService struct {
	Positions PositionProvider
	// Leaders in cluster order; pair indices refer to this slice.
	Leaders  []string
	MaxRange float64
	Period   time.Duration

	Metrics *ConnectivityMetrics

	sched    Scheduler
	recorder MetricsRecorder
	log      logging.Logger
}

// NewConnectivityService creates a sampler with the default range and period.
func NewConnectivityService(positions PositionProvider, leaders []string, sched Scheduler, log logging.Logger) *ConnectivityService {
	if log == nil {
		log = logging.Noop()
	}
	return &ConnectivityService{
		Positions: positions,
		Leaders:   append([]string(nil), leaders...),
		MaxRange:  DefaultMaxRange,
		Period:    DefaultSamplePeriod,
		Metrics:   NewConnectivityMetrics(),
		sched:     sched,
		log:       log,
	}
}

// SetRecorder attaches a metrics recorder. nil disables recording.
func (cs *ConnectivityService) SetRecorder(r MetricsRecorder) {
	cs.recorder = r
}

// Start takes the first sample immediately and then one every Period.
func (cs *ConnectivityService) Start(ctx context.Context) {
	cs.sched.Schedule(0, func() { cs.tick(ctx) })
}

func (cs *ConnectivityService) tick(ctx context.Context) {
	cs.Sample(ctx)
	cs.sched.Schedule(cs.Period, func() { cs.tick(ctx) })
}

type resolvedLeader struct {
	index int
	id    string
	pos   model.Vector
}

// Sample performs one connectivity check. A leader whose position cannot be
// read is left out together with all of its pairs. The check counts as
// connected when at least half of the evaluated pairs are in range.
func (cs *ConnectivityService) Sample(ctx context.Context) SampleResult {
	res := SampleResult{At: cs.sched.Now()}
	cs.Metrics.TotalChecks++

	resolved := make([]resolvedLeader, 0, len(cs.Leaders))
	for i, id := range cs.Leaders {
		pos, err := cs.Positions.Position(id)
		if err != nil {
			res.Excluded = append(res.Excluded, id)
			cs.log.Warn(ctx, "leader excluded from connectivity check",
				logging.String("leader", id),
				logging.Error(err),
			)
			continue
		}
		resolved = append(resolved, resolvedLeader{index: i, id: id, pos: pos})
	}

	for a := 0; a < len(resolved); a++ {
		for b := a + 1; b < len(resolved); b++ {
			res.TotalPairs++
			la, lb := resolved[a], resolved[b]
			if !withinRange(la.pos, lb.pos, cs.MaxRange) {
				continue
			}
			res.ConnectedPairs++
			cs.Metrics.PairConnectivity[NewPairKey(la.index, lb.index)]++
			if cs.recorder != nil {
				cs.recorder.ObservePairConnected(la.id, lb.id)
			}
		}
	}

	if res.TotalPairs > 0 && 2*res.ConnectedPairs >= res.TotalPairs {
		res.Majority = true
		cs.Metrics.ConnectedChecks++
	}

	if cs.recorder != nil {
		cs.recorder.ObserveSample(res.ConnectedPairs, res.TotalPairs, res.Majority)
		cs.recorder.SetConnectivityRatio(cs.Metrics.ConnectivityRatio())
	}
	cs.log.Debug(ctx, "connectivity sample",
		logging.Duration("sim_time", res.At),
		logging.Int("connected_pairs", res.ConnectedPairs),
		logging.Int("total_pairs", res.TotalPairs),
		logging.Bool("majority", res.Majority),
	)
	return res
}

// Snapshot reports the metrics gathered so far.
func (cs *ConnectivityService) Snapshot() *MetricsSnapshot {
	snap := cs.Metrics.Snapshot(cs.Leaders)
	snap.SimTime = cs.sched.Now()
	return snap
}
