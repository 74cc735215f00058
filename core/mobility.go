package core

import (
	"time"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
	"github.com/signalsfoundry/cluster-patrol-sim/timectrl"
)

// Scheduler is the subset of the event scheduler the core components use.
type Scheduler interface {
	timectrl.SimClock
	Schedule(delay time.Duration, f func()) string
	Cancel(id string)
}

// MobilityKind tags the mobility strategy attached to a node.
type MobilityKind int

const (
	MobilityStatic MobilityKind = iota
	MobilityWaypoint
	MobilityUniformDisc
)

func (k MobilityKind) String() string {
	switch k {
	case MobilityWaypoint:
		return "waypoint"
	case MobilityUniformDisc:
		return "uniform-disc"
	default:
		return "static"
	}
}

// CourseChangeReason says why a course-change notification fired.
type CourseChangeReason int

const (
	ReasonTrajectorySet CourseChangeReason = iota
	ReasonWaypointArrival
	ReasonPositionOverride
)

// CourseChange is delivered to listeners whenever a model's position or
// heading changes discontinuously.
type CourseChange struct {
	At       time.Duration
	Position model.Vector
	Velocity model.Vector
	Reason   CourseChangeReason
}

// MobilityModel is implemented by exactly three strategies: StaticMobility,
// WaypointMobility and DiscMobility. The set is closed.
type MobilityModel interface {
	Kind() MobilityKind
	Position() model.Vector
	Velocity() model.Vector
	SetPosition(p model.Vector)
	AddCourseChangeListener(fn func(CourseChange))

	mobilityModel()
}

var (
	_ MobilityModel = (*StaticMobility)(nil)
	_ MobilityModel = (*WaypointMobility)(nil)
	_ MobilityModel = (*DiscMobility)(nil)
)

// courseNotifier is the listener list shared by all mobility models.
// Listeners run synchronously, in registration order.
type courseNotifier struct {
	listeners []func(CourseChange)
}

// AddCourseChangeListener subscribes fn to course changes.
func (c *courseNotifier) AddCourseChangeListener(fn func(CourseChange)) {
	if fn == nil {
		return
	}
	c.listeners = append(c.listeners, fn)
}

func (c *courseNotifier) notify(cc CourseChange) {
	for _, fn := range c.listeners {
		fn(cc)
	}
}

// StaticMobility keeps a node at a fixed position until it is overridden.
type StaticMobility struct {
	courseNotifier
	clock timectrl.SimClock
	pos   model.Vector
}

// NewStaticMobility places a node at pos.
func NewStaticMobility(clock timectrl.SimClock, pos model.Vector) *StaticMobility {
	return &StaticMobility{clock: clock, pos: pos}
}

func (m *StaticMobility) Kind() MobilityKind      { return MobilityStatic }
func (m *StaticMobility) Position() model.Vector { return m.pos }
func (m *StaticMobility) Velocity() model.Vector { return model.Vector{} }
func (m *StaticMobility) mobilityModel()         {}

// SetPosition moves the node and notifies listeners.
func (m *StaticMobility) SetPosition(p model.Vector) {
	m.pos = p
	m.notify(CourseChange{At: now(m.clock), Position: p, Reason: ReasonPositionOverride})
}

// DiscMobility is used by subordinates. The node does not move between
// draws: its position jumps to a fresh point around its leader each time the
// repositioning task runs, so its velocity is always zero.
type DiscMobility struct {
	courseNotifier
	clock timectrl.SimClock
	pos   model.Vector

	draws    uint64
	lastDraw time.Duration
}

// NewDiscMobility creates a subordinate mobility model at an initial position.
func NewDiscMobility(clock timectrl.SimClock, initial model.Vector) *DiscMobility {
	return &DiscMobility{clock: clock, pos: initial}
}

func (m *DiscMobility) Kind() MobilityKind      { return MobilityUniformDisc }
func (m *DiscMobility) Position() model.Vector { return m.pos }
func (m *DiscMobility) Velocity() model.Vector { return model.Vector{} }
func (m *DiscMobility) mobilityModel()         {}

// SetPosition records a new draw and notifies listeners.
func (m *DiscMobility) SetPosition(p model.Vector) {
	m.pos = p
	m.draws++
	m.lastDraw = now(m.clock)
	m.notify(CourseChange{At: m.lastDraw, Position: p, Reason: ReasonPositionOverride})
}

// Draws returns how many times the position has been overridden.
func (m *DiscMobility) Draws() uint64 { return m.draws }

// LastDraw returns the simulation time of the latest override.
func (m *DiscMobility) LastDraw() time.Duration { return m.lastDraw }

func now(clock timectrl.SimClock) time.Duration {
	if clock == nil {
		return 0
	}
	return clock.Now()
}
