package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/scheduler"
	"github.com/signalsfoundry/cluster-patrol-sim/model"
	"github.com/signalsfoundry/cluster-patrol-sim/timectrl"
)

func newTestScheduler() *scheduler.EventScheduler {
	return scheduler.New(timectrl.NewTimeController(timectrl.Accelerated))
}

func advance(t *testing.T, sched *scheduler.EventScheduler, until time.Duration) {
	t.Helper()
	if err := sched.Advance(context.Background(), until); err != nil {
		t.Fatalf("Advance(%v): %v", until, err)
	}
}

func TestWaypointMobility_FirstLeg(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	if m.State() != StateIdle {
		t.Fatalf("new model state = %v, want idle", m.State())
	}

	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, 4); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}
	if m.State() != StateTransiting {
		t.Fatalf("state = %v, want transiting", m.State())
	}
	if got := m.Position(); got != (model.Vector{X: -10}) {
		t.Fatalf("initial position = %+v, want (-10, 0)", got)
	}
	if m.CurrentWaypointIndex() != 1 {
		t.Fatalf("index = %d, want 1", m.CurrentWaypointIndex())
	}
	if m.NextArrival() != 5*time.Second {
		t.Fatalf("NextArrival = %v, want 5s", m.NextArrival())
	}
	if v := m.Velocity(); !v.ApproxEqual(model.Vector{X: 4}, 1e-12) {
		t.Fatalf("velocity = %+v, want (4, 0)", v)
	}

	advance(t, sched, 2500*time.Millisecond)
	if got := m.Position(); !got.ApproxEqual(model.Vector{}, 1e-9) {
		t.Fatalf("position at 2.5s = %+v, want origin", got)
	}
}

func TestWaypointMobility_PositionContinuousAcrossArrival(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	if err := m.SetTrajectory(PatternRectangular, model.Vector{X: 350, Y: 150}, 45, 8); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}

	for leg := 0; leg < 6; leg++ {
		arrival := m.NextArrival()
		target := m.Trajectory().At(m.CurrentWaypointIndex())

		advance(t, sched, arrival-time.Nanosecond)
		before := m.Position()
		advance(t, sched, arrival)
		after := m.Position()

		if !after.ApproxEqual(target, 1e-9) {
			t.Fatalf("leg %d: position after arrival = %+v, want waypoint %+v", leg, after, target)
		}
		if !before.ApproxEqual(after, 1e-6) {
			t.Fatalf("leg %d: jump across arrival: %+v -> %+v", leg, before, after)
		}
	}
	if m.Arrivals() != 6 {
		t.Fatalf("Arrivals = %d, want 6", m.Arrivals())
	}
}

func TestWaypointMobility_LoopsAround(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, 4); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}

	advance(t, sched, 10*time.Second)
	if m.Arrivals() != 2 || m.CurrentWaypointIndex() != 1 {
		t.Fatalf("after one cycle: arrivals=%d index=%d, want 2 and 1", m.Arrivals(), m.CurrentWaypointIndex())
	}
	if got := m.Position(); got != (model.Vector{X: -10}) {
		t.Fatalf("position after one cycle = %+v, want start", got)
	}
	if m.Visits(0) != 1 || m.Visits(1) != 1 || m.Visits(7) != 0 {
		t.Fatalf("visits = %d, %d, %d", m.Visits(0), m.Visits(1), m.Visits(7))
	}
}

func TestWaypointMobility_SetTrajectoryIdempotent(t *testing.T) {
	center := model.Vector{X: 150, Y: 150}

	a := NewWaypointMobility(newTestScheduler())
	b := NewWaypointMobility(newTestScheduler())
	for _, m := range []*WaypointMobility{a, b} {
		if err := m.SetTrajectory(PatternCircular, center, 50, 8); err != nil {
			t.Fatalf("SetTrajectory: %v", err)
		}
	}
	if a.Position() != b.Position() || a.NextArrival() != b.NextArrival() {
		t.Fatalf("fresh models differ: %+v@%v vs %+v@%v", a.Position(), a.NextArrival(), b.Position(), b.NextArrival())
	}

	// Re-applying on the same model replaces the pending arrival.
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	for i := 0; i < 2; i++ {
		if err := m.SetTrajectory(PatternCircular, center, 50, 8); err != nil {
			t.Fatalf("SetTrajectory: %v", err)
		}
	}
	if sched.Pending() != 1 {
		t.Fatalf("Pending = %d after re-setting the trajectory, want 1", sched.Pending())
	}
	if m.Position() != a.Position() || m.NextArrival() != a.NextArrival() {
		t.Fatalf("re-set model differs from fresh one")
	}
}

func TestWaypointMobility_DegenerateLoopParks(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	center := model.Vector{X: 42, Y: 7}

	// Zero speed is fine when there is nowhere to go.
	if err := m.SetTrajectory(PatternCircular, center, 0, 0); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}
	if m.State() != StateParked {
		t.Fatalf("state = %v, want parked", m.State())
	}
	if sched.Pending() != 0 {
		t.Fatalf("parked model scheduled %d events", sched.Pending())
	}

	if err := sched.Run(context.Background(), 30*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.Position() != center || m.Velocity() != (model.Vector{}) {
		t.Fatalf("parked model moved to %+v with velocity %+v", m.Position(), m.Velocity())
	}
}

func TestWaypointMobility_InvalidArguments(t *testing.T) {
	m := NewWaypointMobility(newTestScheduler())

	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, 0); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("zero speed error = %v, want ErrInvalidSpeed", err)
	}
	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, math.Inf(1)); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("infinite speed error = %v, want ErrInvalidSpeed", err)
	}
	if err := m.SetTrajectory(PatternLinear, model.Vector{}, -1, 5); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("negative radius error = %v, want ErrInvalidRadius", err)
	}
	if err := m.SetTrajectory(PatternLinear, model.Vector{}, math.NaN(), 5); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("NaN radius error = %v, want ErrInvalidRadius", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("failed SetTrajectory changed state to %v", m.State())
	}
}

func TestWaypointMobility_SetPositionKeepsArrival(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, 4); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}

	advance(t, sched, time.Second)
	override := model.Vector{X: 0, Y: 3}
	m.SetPosition(override)
	if m.Position() != override {
		t.Fatalf("position after override = %+v", m.Position())
	}
	if m.NextArrival() != 5*time.Second {
		t.Fatalf("override moved the arrival to %v", m.NextArrival())
	}

	advance(t, sched, 2*time.Second)
	if got := m.Position(); !got.ApproxEqual(model.Vector{X: 4, Y: 3}, 1e-9) {
		t.Fatalf("extrapolation from override = %+v, want (4, 3)", got)
	}

	advance(t, sched, 5*time.Second)
	if got := m.Position(); got != (model.Vector{X: 10}) {
		t.Fatalf("arrival did not snap to the waypoint: %+v", got)
	}
}

func TestWaypointMobility_CourseChangeListeners(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)

	var reasons []CourseChangeReason
	var times []time.Duration
	m.AddCourseChangeListener(func(cc CourseChange) {
		reasons = append(reasons, cc.Reason)
		times = append(times, cc.At)
	})
	m.AddCourseChangeListener(nil)

	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, 4); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}
	advance(t, sched, 7*time.Second)
	m.SetPosition(model.Vector{})

	wantReasons := []CourseChangeReason{ReasonTrajectorySet, ReasonWaypointArrival, ReasonPositionOverride}
	wantTimes := []time.Duration{0, 5 * time.Second, 7 * time.Second}
	if len(reasons) != len(wantReasons) {
		t.Fatalf("got %d notifications, want %d", len(reasons), len(wantReasons))
	}
	for i := range wantReasons {
		if reasons[i] != wantReasons[i] || times[i] != wantTimes[i] {
			t.Fatalf("notification %d = %v@%v, want %v@%v", i, reasons[i], times[i], wantReasons[i], wantTimes[i])
		}
	}
}

func TestWaypointMobility_Stop(t *testing.T) {
	sched := newTestScheduler()
	m := NewWaypointMobility(sched)
	if err := m.SetTrajectory(PatternLinear, model.Vector{}, 10, 4); err != nil {
		t.Fatalf("SetTrajectory: %v", err)
	}
	advance(t, sched, time.Second)
	m.Stop()

	if m.State() != StateIdle || sched.Pending() != 0 {
		t.Fatalf("after Stop: state=%v pending=%d", m.State(), sched.Pending())
	}
	advance(t, sched, 10*time.Second)
	if got := m.Position(); !got.ApproxEqual(model.Vector{X: -6}, 1e-9) {
		t.Fatalf("stopped model drifted to %+v", got)
	}
}

func TestWaypointMobility_VisitsEveryWaypointEachCycle(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("visits >= floor(T / cycleTime)", prop.ForAll(
		func(p Pattern, radius, speed float64, horizonSec int) bool {
			sched := newTestScheduler()
			m := NewWaypointMobility(sched)
			if err := m.SetTrajectory(p, model.Vector{X: 100, Y: 100}, radius, speed); err != nil {
				return false
			}
			horizon := time.Duration(horizonSec) * time.Second
			if err := sched.Run(context.Background(), horizon); err != nil {
				return false
			}

			cycle := m.Trajectory().CycleTime(speed)
			if cycle <= 0 {
				return false
			}
			want := uint64(horizon / cycle)
			for i := 0; i < m.Trajectory().Len(); i++ {
				if m.Visits(i) < want {
					return false
				}
			}
			return true
		},
		gen.OneConstOf(PatternCircular, PatternLinear, PatternRectangular, PatternZigzag),
		gen.Float64Range(1, 100),
		gen.Float64Range(0.5, 20),
		gen.IntRange(0, 120),
	))

	properties.TestingRun(t)
}
