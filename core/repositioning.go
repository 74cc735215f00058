package core

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
	"github.com/signalsfoundry/cluster-patrol-sim/kb"
	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

const (
	// DefaultRepositionPeriod is how often subordinates are redrawn.
	DefaultRepositionPeriod = time.Second
	// DefaultRepositionOffset delays the first redraw.
	DefaultRepositionOffset = 500 * time.Millisecond

	// repositionSpread is the fraction of the mobility radius subordinates
	// are drawn within.
	repositionSpread = 0.8
	// initialSpread is the half-width, as a fraction of the mobility radius,
	// of the square subordinates start in.
	initialSpread = 0.5
)

// PositionProvider reads the current position and velocity of a node.
type PositionProvider interface {
	Position(id string) (model.Vector, error)
	Velocity(id string) (model.Vector, error)
}

// MobilityRegistry additionally hands out the mobility capability itself so
// positions can be overridden.
type MobilityRegistry interface {
	PositionProvider
	Mobility(id string) (kb.Mobility, error)
}

type positionSetter interface {
	SetPosition(p model.Vector)
}

// Cluster groups a leader with the subordinates it supervises.
type Cluster struct {
	ID               uint32
	Leader           string
	Subordinates     []string
	MobilityRadius   float64
	SubordinateSpeed float64
}

// SubordinateRepositioner keeps a cluster's subordinates around their
// leader. Every Period it reads the leader's position and drops each
// subordinate at a uniformly drawn angle and distance (up to 0.8 of the
// mobility radius) from it. Subordinates jump between draws; they do not
// move continuously.
type SubordinateRepositioner struct {
	Cluster Cluster
	Period  time.Duration

	registry MobilityRegistry
	sched    Scheduler
	rng      *rand.Rand
	log      logging.Logger

	rounds  uint64
	skipped uint64
}

// NewSubordinateRepositioner creates a repositioner for cluster. rng must
// not be shared with other goroutines.
func NewSubordinateRepositioner(
	cluster Cluster,
	registry MobilityRegistry,
	sched Scheduler,
	rng *rand.Rand,
	log logging.Logger,
) *SubordinateRepositioner {
	if log == nil {
		log = logging.Noop()
	}
	return &SubordinateRepositioner{
		Cluster:  cluster,
		Period:   DefaultRepositionPeriod,
		registry: registry,
		sched:    sched,
		rng:      rng,
		log:      log.With(logging.Int("cluster_id", int(cluster.ID))),
	}
}

// Start arms the first round after offset. Every round re-arms the next one.
func (r *SubordinateRepositioner) Start(ctx context.Context, offset time.Duration) {
	r.sched.Schedule(offset, func() { r.round(ctx) })
}

func (r *SubordinateRepositioner) round(ctx context.Context) {
	r.Reposition(ctx)
	r.sched.Schedule(r.Period, func() { r.round(ctx) })
}

// Reposition performs a single redraw of every subordinate. A leader or
// subordinate without a usable mobility capability is skipped with a warning.
func (r *SubordinateRepositioner) Reposition(ctx context.Context) {
	r.rounds++

	lp, err := r.registry.Position(r.Cluster.Leader)
	if err != nil {
		r.skipped++
		r.log.Warn(ctx, "skipping reposition: leader position unavailable",
			logging.String("leader", r.Cluster.Leader),
			logging.Error(err),
		)
		return
	}

	maxR := r.Cluster.MobilityRadius * repositionSpread
	for _, id := range r.Cluster.Subordinates {
		m, err := r.registry.Mobility(id)
		if err != nil {
			r.skipped++
			r.log.Warn(ctx, "skipping subordinate without mobility",
				logging.String("node", id),
				logging.Error(err),
			)
			continue
		}
		setter, ok := m.(positionSetter)
		if !ok {
			r.skipped++
			r.log.Warn(ctx, "skipping subordinate with read-only mobility", logging.String("node", id))
			continue
		}

		theta := r.rng.Float64() * 2 * math.Pi
		dist := r.rng.Float64() * maxR
		setter.SetPosition(polarOffset(lp, dist, theta))
	}
}

// Rounds returns the number of repositioning rounds run.
func (r *SubordinateRepositioner) Rounds() uint64 { return r.rounds }

// Skipped returns how many leader or subordinate lookups failed.
func (r *SubordinateRepositioner) Skipped() uint64 { return r.skipped }

// initialSubordinatePosition draws a start position uniformly in the square
// of half-width initialSpread*radius around the leader's start.
func initialSubordinatePosition(rng *rand.Rand, leader model.Vector, radius float64) model.Vector {
	half := radius * initialSpread
	return model.Vector{
		X: leader.X + (rng.Float64()*2-1)*half,
		Y: leader.Y + (rng.Float64()*2-1)*half,
	}
}

// newClusterRand returns the deterministic random stream for a cluster.
func newClusterRand(seed uint64, clusterID uint32) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(clusterID)))
}
