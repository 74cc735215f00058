package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
	"github.com/signalsfoundry/cluster-patrol-sim/internal/scheduler"
	"github.com/signalsfoundry/cluster-patrol-sim/kb"
	"github.com/signalsfoundry/cluster-patrol-sim/model"
	"github.com/signalsfoundry/cluster-patrol-sim/timectrl"
)

// TracerName is the instrumentation name of the engine spans.
const TracerName = "github.com/signalsfoundry/cluster-patrol-sim/core"

// ErrAlreadyStarted is returned when Setup or Run is called twice on the
// same engine.
var ErrAlreadyStarted = errors.New("simulation already started")

// CourseChangeObserver is notified of every course change of every node.
type CourseChangeObserver func(nodeID string, cc CourseChange)

// EngineOption configures a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *SimulationEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder mirrors samples, course changes and executed events
// into r.
func WithMetricsRecorder(r MetricsRecorder) EngineOption {
	return func(e *SimulationEngine) { e.recorder = r }
}

// WithCourseChangeObserver registers an additional course-change observer.
func WithCourseChangeObserver(fn CourseChangeObserver) EngineOption {
	return func(e *SimulationEngine) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// WithTimeMode selects accelerated or real-time pacing.
func WithTimeMode(mode timectrl.Mode) EngineOption {
	return func(e *SimulationEngine) { e.mode = mode }
}

// WithTracer overrides the tracer used for setup and run spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *SimulationEngine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// SimulationEngine owns one complete run: the node registry, clock,
// scheduler, mobility models, repositioners and the connectivity sampler.
// Engines share no state, so several can run side by side.
type SimulationEngine struct {
	Scenario Scenario

	kb    *kb.KnowledgeBase
	clock *timectrl.TimeController
	sched *scheduler.EventScheduler

	connectivity  *ConnectivityService
	leaders       []string
	leaderModels  map[string]*WaypointMobility
	subordinates  map[string]*DiscMobility
	repositioners []*SubordinateRepositioner

	log       logging.Logger
	recorder  MetricsRecorder
	observers []CourseChangeObserver
	mode      timectrl.Mode
	tracer    trace.Tracer

	runID         string
	eventCtx      context.Context
	courseChanges map[string]uint64
	unsubscribe   func()
	setUp         bool
	ran           bool
}

// NewSimulationEngine prepares an engine for scn. Nothing is validated or
// scheduled until Setup.
func NewSimulationEngine(scn Scenario, opts ...EngineOption) *SimulationEngine {
	e := &SimulationEngine{
		Scenario:      scn,
		kb:            kb.NewKnowledgeBase(),
		leaderModels:  make(map[string]*WaypointMobility),
		subordinates:  make(map[string]*DiscMobility),
		courseChanges: make(map[string]uint64),
		log:           logging.Noop(),
		mode:          timectrl.Accelerated,
		tracer:        otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.clock = timectrl.NewTimeController(e.mode)
	schedOpts := []scheduler.Option{scheduler.WithLogger(e.log)}
	if e.recorder != nil {
		rec := e.recorder
		schedOpts = append(schedOpts, scheduler.WithEventHook(rec.ObserveEvent))
	}
	e.sched = scheduler.New(e.clock, schedOpts...)
	return e
}

// Setup validates the scenario, creates every node, attaches mobility and
// arms the periodic tasks.
func (e *SimulationEngine) Setup(ctx context.Context) (err error) {
	if e.setUp {
		return ErrAlreadyStarted
	}
	if err := e.Scenario.Validate(); err != nil {
		return err
	}

	ctx, e.log = logging.WithRunLogger(ctx, e.log)
	e.runID = logging.RunIDFromContext(ctx)
	// Scheduled actions outlive the setup span and must not log into it.
	e.eventCtx = ctx

	ctx, span := e.tracer.Start(ctx, "simulation.setup", trace.WithAttributes(
		attribute.String("run_id", e.runID),
		attribute.Int("clusters", e.Scenario.NumClusters),
		attribute.Int64("seed", int64(e.Scenario.Seed)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.unsubscribe = e.kb.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventCourseChanged {
			e.courseChanges[ev.Node.ID]++
		}
	})

	scn := e.Scenario
	for _, c := range scn.ActiveClusters() {
		cluster, err := e.setupCluster(ctx, c)
		if err != nil {
			return fmt.Errorf("setup cluster %d: %w", c.ID, err)
		}

		rp := NewSubordinateRepositioner(cluster, e.kb, e.sched, newClusterRand(scn.Seed, c.ID), e.log)
		rp.Period = scn.RepositionPeriod
		rp.Start(e.eventCtx, scn.RepositionOffset)
		e.repositioners = append(e.repositioners, rp)
	}

	e.connectivity = NewConnectivityService(e.kb, e.leaders, e.sched, e.log)
	e.connectivity.MaxRange = scn.MaxRange
	e.connectivity.Period = scn.SamplePeriod
	e.connectivity.SetRecorder(e.recorder)
	e.connectivity.Start(e.eventCtx)

	e.setUp = true
	e.log.Info(ctx, "simulation set up",
		logging.Int("clusters", len(e.leaders)),
		logging.Int("nodes", len(e.kb.ListNodes())),
		logging.Duration("horizon", scn.Horizon),
		logging.String("time_mode", e.mode.String()),
	)
	return nil
}

func (e *SimulationEngine) setupCluster(ctx context.Context, c ClusterSpec) (Cluster, error) {
	leaderID := model.LeaderID(c.ID)
	leader := &model.Node{ID: leaderID, Name: leaderID, Role: model.RoleLeader, ClusterID: c.ID}
	if err := e.kb.AddNode(leader); err != nil {
		return Cluster{}, err
	}

	wm := NewWaypointMobility(e.sched)
	wm.AddCourseChangeListener(e.courseListener(e.eventCtx, *leader))
	if err := e.kb.AttachMobility(leaderID, wm); err != nil {
		return Cluster{}, err
	}
	if err := wm.SetTrajectory(c.Pattern, c.Center, c.MobilityRadius, e.Scenario.LeaderSpeed); err != nil {
		return Cluster{}, err
	}
	e.leaders = append(e.leaders, leaderID)
	e.leaderModels[leaderID] = wm

	traj := wm.Trajectory()
	bound := traj.Bound()
	e.log.Debug(ctx, "leader trajectory set",
		logging.String("leader", leaderID),
		logging.String("pattern", string(traj.Pattern)),
		logging.Int("waypoints", traj.Len()),
		logging.Float("cycle_length", traj.CycleLength()),
		logging.Duration("cycle_time", traj.CycleTime(e.Scenario.LeaderSpeed)),
		logging.Any("bound_min", bound.Min),
		logging.Any("bound_max", bound.Max),
		logging.String("state", wm.State().String()),
	)

	cluster := Cluster{
		ID:               c.ID,
		Leader:           leaderID,
		MobilityRadius:   c.MobilityRadius,
		SubordinateSpeed: c.SubordinateSpeed,
	}

	// Initial placement uses its own stream so the repositioning draws do
	// not depend on the subordinate count.
	placement := newClusterRand(e.Scenario.Seed^0x9e3779b97f4a7c15, c.ID)
	start := wm.Position()
	for j := 1; j <= c.SubordinateCount; j++ {
		id := model.SubordinateID(c.ID, j)
		node := &model.Node{ID: id, Name: id, Role: model.RoleSubordinate, ClusterID: c.ID}
		if err := e.kb.AddNode(node); err != nil {
			return Cluster{}, err
		}
		dm := NewDiscMobility(e.sched, initialSubordinatePosition(placement, start, c.MobilityRadius))
		dm.AddCourseChangeListener(e.courseListener(e.eventCtx, *node))
		if err := e.kb.AttachMobility(id, dm); err != nil {
			return Cluster{}, err
		}
		e.subordinates[id] = dm
		cluster.Subordinates = append(cluster.Subordinates, id)
	}
	return cluster, nil
}

func (e *SimulationEngine) courseListener(ctx context.Context, node model.Node) func(CourseChange) {
	role := node.Role.String()
	return func(cc CourseChange) {
		if err := e.kb.PublishCourseChange(node.ID, cc.Position, cc.Velocity); err != nil {
			e.log.Warn(ctx, "course change for unknown node",
				logging.String("node", node.ID),
				logging.Error(err),
			)
		}
		if e.recorder != nil {
			e.recorder.ObserveCourseChange(role)
			if cc.Reason == ReasonWaypointArrival {
				e.recorder.ObserveWaypointArrival(node.ID)
			}
		}
		for _, obs := range e.observers {
			obs(node.ID, cc)
		}
	}
}

// Run executes the scenario up to its horizon and returns the final metrics.
// Setup is performed first if it has not been called.
func (e *SimulationEngine) Run(ctx context.Context) (snap *MetricsSnapshot, err error) {
	if e.ran {
		return nil, ErrAlreadyStarted
	}
	if !e.setUp {
		if err := e.Setup(ctx); err != nil {
			return nil, err
		}
	}
	e.ran = true
	defer e.unsubscribe()

	ctx = logging.ContextWithRunID(ctx, e.runID)
	ctx, span := e.tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("run_id", e.runID),
		attribute.Float64("horizon_seconds", e.Scenario.Horizon.Seconds()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	wallStart := time.Now()
	if err := e.sched.Run(ctx, e.Scenario.Horizon); err != nil {
		return nil, fmt.Errorf("run simulation: %w", err)
	}

	snap = e.connectivity.Snapshot()
	snap.RunID = e.runID

	span.SetAttributes(
		attribute.Int64("total_checks", int64(snap.TotalChecks)),
		attribute.Int64("connected_checks", int64(snap.ConnectedChecks)),
		attribute.Float64("connectivity_ratio", snap.ConnectivityRatio),
		attribute.Int64("events_executed", int64(e.sched.Executed())),
	)
	e.log.Info(ctx, "simulation finished",
		logging.Duration("sim_time", snap.SimTime),
		logging.Duration("wall_time", time.Since(wallStart)),
		logging.Uint64("total_checks", snap.TotalChecks),
		logging.Uint64("connected_checks", snap.ConnectedChecks),
		logging.Float("connectivity_ratio", snap.ConnectivityRatio),
		logging.Uint64("events_executed", e.sched.Executed()),
		logging.Uint64("event_panics", e.sched.Panics()),
	)
	return snap, nil
}

// Metrics returns the connectivity counters owned by this engine, or nil
// before Setup.
func (e *SimulationEngine) Metrics() *ConnectivityMetrics {
	if e.connectivity == nil {
		return nil
	}
	return e.connectivity.Metrics
}

// Connectivity returns the sampler, or nil before Setup.
func (e *SimulationEngine) Connectivity() *ConnectivityService { return e.connectivity }

// KnowledgeBase returns the node registry.
func (e *SimulationEngine) KnowledgeBase() *kb.KnowledgeBase { return e.kb }

// Scheduler returns the event scheduler, mainly for stepping in tests.
func (e *SimulationEngine) Scheduler() *scheduler.EventScheduler { return e.sched }

// Leaders returns leader IDs in cluster order.
func (e *SimulationEngine) Leaders() []string {
	return append([]string(nil), e.leaders...)
}

// LeaderMobility returns the waypoint model of a leader.
func (e *SimulationEngine) LeaderMobility(id string) (*WaypointMobility, bool) {
	m, ok := e.leaderModels[id]
	return m, ok
}

// SubordinateMobility returns the mobility model of a subordinate.
func (e *SimulationEngine) SubordinateMobility(id string) (*DiscMobility, bool) {
	m, ok := e.subordinates[id]
	return m, ok
}

// Repositioners returns one repositioner per active cluster.
func (e *SimulationEngine) Repositioners() []*SubordinateRepositioner {
	return append([]*SubordinateRepositioner(nil), e.repositioners...)
}

// CourseChanges returns how many course changes the registry published
// for node id.
func (e *SimulationEngine) CourseChanges(id string) uint64 { return e.courseChanges[id] }

// RunID identifies this run in logs, spans and reports.
func (e *SimulationEngine) RunID() string { return e.runID }
