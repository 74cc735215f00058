package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

var (
	// ErrInvalidSpeed is returned when a trajectory with distinct waypoints
	// is assigned a speed that would never reach them.
	ErrInvalidSpeed = errors.New("speed must be positive for a non-degenerate trajectory")
	// ErrInvalidRadius is returned for negative or non-finite radii.
	ErrInvalidRadius = errors.New("radius must be a finite, non-negative number")
)

// WaypointState is the state of a WaypointMobility.
type WaypointState int

const (
	// StateIdle: no trajectory assigned.
	StateIdle WaypointState = iota
	// StateTransiting: heading for the current waypoint with an arrival
	// event scheduled.
	StateTransiting
	// StateParked: the assigned loop has zero length, so the walker sits on
	// its only distinct point and schedules nothing.
	StateParked
)

func (s WaypointState) String() string {
	switch s {
	case StateTransiting:
		return "transiting"
	case StateParked:
		return "parked"
	default:
		return "idle"
	}
}

// WaypointMobility walks a closed trajectory forever at constant speed.
//
// Only arrivals are scheduled. Between arrivals the position is
// extrapolated linearly from the last origin (an arrival or an override)
// using the current leg's velocity, so it can be read at any instant.
//
// A WaypointMobility is driven by a single scheduler goroutine and is not
// safe for concurrent use.
type WaypointMobility struct {
	courseNotifier
	sched Scheduler

	trajectory Trajectory
	speed      float64
	index      int // waypoint currently being approached
	state      WaypointState

	origin     model.Vector
	originTime time.Duration
	velocity   model.Vector

	pendingID   string
	nextArrival time.Duration

	arrivals uint64
	visits   []uint64
}

// NewWaypointMobility creates an idle model driven by sched.
func NewWaypointMobility(sched Scheduler) *WaypointMobility {
	return &WaypointMobility{sched: sched}
}

func (m *WaypointMobility) Kind() MobilityKind { return MobilityWaypoint }
func (m *WaypointMobility) mobilityModel()     {}

// SetTrajectory generates the loop for pattern, puts the walker on its first
// waypoint and schedules the first leg towards the second one. Calling it
// again replaces the previous trajectory and its pending arrival.
func (m *WaypointMobility) SetTrajectory(pattern Pattern, center model.Vector, radius, speed float64) error {
	if radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return fmt.Errorf("set trajectory: %w (got %v)", ErrInvalidRadius, radius)
	}
	traj := GenerateTrajectory(pattern, center, radius)
	length := traj.CycleLength()
	if length > 0 && (!(speed > 0) || math.IsInf(speed, 0)) {
		return fmt.Errorf("set trajectory %s: %w (got %v)", traj.Pattern, ErrInvalidSpeed, speed)
	}

	m.cancelPending()

	m.trajectory = traj
	m.speed = speed
	m.origin = traj.Waypoints[0]
	m.originTime = m.sched.Now()
	m.velocity = model.Vector{}
	m.arrivals = 0
	m.visits = make([]uint64, traj.Len())
	m.index = 0
	if traj.Len() > 1 {
		m.index = 1
	}

	if length == 0 {
		m.state = StateParked
		m.notify(m.courseChange(ReasonTrajectorySet))
		return nil
	}

	m.state = StateTransiting
	m.notify(m.courseChange(ReasonTrajectorySet))
	m.scheduleLeg()
	return nil
}

// scheduleLeg computes the velocity towards the current target and
// schedules the arrival. Coincident points arrive with zero delay.
func (m *WaypointMobility) scheduleLeg() {
	target := m.trajectory.Waypoints[m.index]
	tau := legDuration(m.origin.DistanceTo(target), m.speed)

	if tau > 0 {
		m.velocity = target.Sub(m.origin).Scale(1 / tau.Seconds())
	} else {
		m.velocity = model.Vector{}
	}

	m.nextArrival = m.sched.Now() + tau
	m.pendingID = m.sched.Schedule(tau, m.arrive)
}

// arrive snaps the walker onto the waypoint it was heading for, advances the
// index around the loop and starts the next leg.
func (m *WaypointMobility) arrive() {
	m.pendingID = ""

	m.origin = m.trajectory.Waypoints[m.index]
	m.originTime = m.sched.Now()
	m.arrivals++
	m.visits[m.index]++
	m.index = (m.index + 1) % m.trajectory.Len()

	m.notify(m.courseChange(ReasonWaypointArrival))
	m.scheduleLeg()
}

// Position returns the extrapolated position at the current simulation time.
func (m *WaypointMobility) Position() model.Vector {
	if m.state != StateTransiting {
		return m.origin
	}
	elapsed := (m.sched.Now() - m.originTime).Seconds()
	return m.origin.Add(m.velocity.Scale(elapsed))
}

// Velocity returns the constant velocity of the current leg.
func (m *WaypointMobility) Velocity() model.Vector {
	return m.velocity
}

// SetPosition overrides the position without touching the scheduled
// arrival; later extrapolation starts from p.
func (m *WaypointMobility) SetPosition(p model.Vector) {
	m.origin = p
	m.originTime = m.sched.Now()
	m.notify(m.courseChange(ReasonPositionOverride))
}

// Stop cancels the pending arrival and leaves the walker idle where it is.
func (m *WaypointMobility) Stop() {
	m.origin = m.Position()
	m.originTime = m.sched.Now()
	m.velocity = model.Vector{}
	m.cancelPending()
	m.state = StateIdle
}

func (m *WaypointMobility) cancelPending() {
	if m.pendingID != "" {
		m.sched.Cancel(m.pendingID)
		m.pendingID = ""
	}
}

func (m *WaypointMobility) courseChange(reason CourseChangeReason) CourseChange {
	return CourseChange{
		At:       m.sched.Now(),
		Position: m.origin,
		Velocity: m.velocity,
		Reason:   reason,
	}
}

// State returns the current state.
func (m *WaypointMobility) State() WaypointState { return m.state }

// Trajectory returns the assigned loop.
func (m *WaypointMobility) Trajectory() Trajectory { return m.trajectory }

// Speed returns the patrol speed.
func (m *WaypointMobility) Speed() float64 { return m.speed }

// CurrentWaypointIndex returns the index of the waypoint being approached.
func (m *WaypointMobility) CurrentWaypointIndex() int { return m.index }

// NextArrival returns the simulation time of the pending arrival. It is only
// meaningful while transiting.
func (m *WaypointMobility) NextArrival() time.Duration { return m.nextArrival }

// Arrivals returns the number of waypoint arrivals since the trajectory was set.
func (m *WaypointMobility) Arrivals() uint64 { return m.arrivals }

// Visits returns how many times waypoint i has been reached.
func (m *WaypointMobility) Visits(i int) uint64 {
	if i < 0 || i >= len(m.visits) {
		return 0
	}
	return m.visits[i]
}
