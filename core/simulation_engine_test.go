package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

func TestSimulationEngine_DefaultScenario(t *testing.T) {
	rec := newFakeRecorder()
	var observed int
	engine := NewSimulationEngine(DefaultScenario(),
		WithMetricsRecorder(rec),
		WithCourseChangeObserver(func(string, CourseChange) { observed++ }),
	)

	snap, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Samples at 0, 1, ..., 60 inclusive.
	if snap.TotalChecks != 61 {
		t.Fatalf("TotalChecks = %d, want 61", snap.TotalChecks)
	}
	// Patrol areas are close enough that every pair stays within 300 m.
	if snap.ConnectivityRatio != 1 || snap.ConnectedChecks != 61 {
		t.Fatalf("ratio = %v (%d/%d), want 1", snap.ConnectivityRatio, snap.ConnectedChecks, snap.TotalChecks)
	}
	if len(snap.Pairs) != 3 || snap.Pairs[0].LeaderA != "Leader-1" || snap.Pairs[2].LeaderB != "Leader-3" {
		t.Fatalf("pairs = %+v", snap.Pairs)
	}
	if snap.RunID == "" || snap.RunID != engine.RunID() {
		t.Fatalf("RunID = %q, engine %q", snap.RunID, engine.RunID())
	}
	if snap.SimTime != 60*time.Second {
		t.Fatalf("SimTime = %v, want 60s", snap.SimTime)
	}
	if engine.Metrics().TotalChecks != snap.TotalChecks {
		t.Fatalf("engine metrics diverge from snapshot")
	}

	if n := len(engine.KnowledgeBase().ListNodes()); n != 13 {
		t.Fatalf("registered %d nodes, want 13", n)
	}
	if got := engine.Leaders(); len(got) != 3 || got[1] != "Leader-2" {
		t.Fatalf("Leaders = %v", got)
	}

	for _, id := range engine.Leaders() {
		m, ok := engine.LeaderMobility(id)
		if !ok || m.State() != StateTransiting || m.Arrivals() == 0 {
			t.Fatalf("%s: leader mobility not patrolling", id)
		}
		if engine.CourseChanges(id) != m.Arrivals()+1 {
			t.Fatalf("%s: registry saw %d course changes, model %d arrivals", id, engine.CourseChanges(id), m.Arrivals())
		}
		if rec.arrived[id] != int(m.Arrivals()) {
			t.Fatalf("%s: recorder saw %d arrivals, want %d", id, rec.arrived[id], m.Arrivals())
		}
	}

	// Repositioning at 0.5s, 1.5s, ..., 59.5s.
	for _, rp := range engine.Repositioners() {
		if rp.Rounds() != 60 || rp.Skipped() != 0 {
			t.Fatalf("cluster %d: rounds=%d skipped=%d", rp.Cluster.ID, rp.Rounds(), rp.Skipped())
		}
	}
	sub, ok := engine.SubordinateMobility(model.SubordinateID(1, 4))
	if !ok || sub.Draws() != 60 || engine.CourseChanges(model.SubordinateID(1, 4)) != 60 {
		t.Fatalf("C1-N4 was not redrawn every second")
	}
	if _, ok := engine.SubordinateMobility(model.SubordinateID(1, 5)); ok {
		t.Fatalf("cluster 1 should have exactly 4 subordinates")
	}

	if len(rec.samples) != 61 || rec.courses["subordinate"] != 600 {
		t.Fatalf("recorder: samples=%d subordinate course changes=%d", len(rec.samples), rec.courses["subordinate"])
	}
	if uint64(len(rec.events)) != engine.Scheduler().Executed() {
		t.Fatalf("recorder saw %d events, scheduler executed %d", len(rec.events), engine.Scheduler().Executed())
	}
	if observed == 0 {
		t.Fatalf("course change observer never called")
	}
}

func TestSimulationEngine_DisconnectedLeaders(t *testing.T) {
	scn := DefaultScenario()
	scn.NumClusters = 2
	scn.Clusters = []ClusterSpec{
		{ID: 1, Pattern: PatternCircular, Center: model.Vector{X: 0}, SubordinateCount: 1},
		{ID: 2, Pattern: PatternCircular, Center: model.Vector{X: 1000}, SubordinateCount: 1},
	}
	scn.LeaderSpeed = 0
	scn.MaxRange = 10
	scn.Horizon = 5 * time.Second

	engine := NewSimulationEngine(scn)
	snap, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.TotalChecks != 6 || snap.ConnectivityRatio != 0 {
		t.Fatalf("snapshot = %+v, want 6 checks with ratio 0", snap)
	}
	m, _ := engine.LeaderMobility("Leader-1")
	if m.State() != StateParked {
		t.Fatalf("zero-radius leader state = %v, want parked", m.State())
	}
}

func TestSimulationEngine_SubsetOfClusters(t *testing.T) {
	scn := DefaultScenario()
	scn.NumClusters = 2
	scn.Horizon = 10 * time.Second

	engine := NewSimulationEngine(scn)
	snap, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(engine.Leaders()) != 2 || len(snap.Pairs) != 1 {
		t.Fatalf("leaders=%v pairs=%+v, want 2 leaders and one pair", engine.Leaders(), snap.Pairs)
	}
	if n := len(engine.KnowledgeBase().ListNodes()); n != 2+4+3 {
		t.Fatalf("registered %d nodes, want 9", n)
	}
}

func TestSimulationEngine_InvalidScenario(t *testing.T) {
	scn := DefaultScenario()
	scn.LeaderSpeed = 0

	engine := NewSimulationEngine(scn)
	if _, err := engine.Run(context.Background()); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("Run error = %v, want ErrInvalidScenario", err)
	}
	if engine.Scheduler().Pending() != 0 || len(engine.KnowledgeBase().ListNodes()) != 0 {
		t.Fatalf("invalid scenario still wired the simulation")
	}
	if engine.Metrics() != nil {
		t.Fatalf("Metrics should be nil before a successful setup")
	}
}

func TestSimulationEngine_RunTwice(t *testing.T) {
	scn := DefaultScenario()
	scn.Horizon = time.Second

	engine := NewSimulationEngine(scn)
	if err := engine.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := engine.Setup(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Setup error = %v, want ErrAlreadyStarted", err)
	}
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := engine.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Run error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSimulationEngine_IndependentAndReproducible(t *testing.T) {
	scn := DefaultScenario()
	scn.Horizon = 20 * time.Second

	positions := func(e *SimulationEngine) map[string]model.Vector {
		out := make(map[string]model.Vector)
		for _, n := range e.KnowledgeBase().ListNodes() {
			p, err := e.KnowledgeBase().Position(n.ID)
			if err != nil {
				t.Fatalf("Position(%s): %v", n.ID, err)
			}
			out[n.ID] = p
		}
		return out
	}

	a := NewSimulationEngine(scn)
	b := NewSimulationEngine(scn)
	snapA, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run a: %v", err)
	}
	snapB, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run b: %v", err)
	}

	if snapA.RunID == snapB.RunID {
		t.Fatalf("engines share run id %q", snapA.RunID)
	}
	if snapA.TotalChecks != snapB.TotalChecks || snapA.ConnectedChecks != snapB.ConnectedChecks {
		t.Fatalf("same scenario gave different metrics")
	}
	pa, pb := positions(a), positions(b)
	for id, p := range pa {
		if pb[id] != p {
			t.Fatalf("%s ended at %+v and %+v", id, p, pb[id])
		}
	}

	scn.Seed = 99
	c := NewSimulationEngine(scn)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run c: %v", err)
	}
	if positions(c)["C1-N1"] == pa["C1-N1"] {
		t.Fatalf("different seeds produced the same subordinate draw")
	}
}

func TestSimulationEngine_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewSimulationEngine(DefaultScenario())
	if _, err := engine.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

// spanLogger records the span carried by the context of every log call.
type spanLogger struct {
	mu    sync.Mutex
	spans map[string][]trace.SpanContext
}

func newSpanLogger() *spanLogger {
	return &spanLogger{spans: make(map[string][]trace.SpanContext)}
}

func (l *spanLogger) record(ctx context.Context, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spans[msg] = append(l.spans[msg], trace.SpanContextFromContext(ctx))
}

func (l *spanLogger) seen(msg string) []trace.SpanContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]trace.SpanContext(nil), l.spans[msg]...)
}

func (l *spanLogger) Debug(ctx context.Context, msg string, _ ...logging.Field) { l.record(ctx, msg) }
func (l *spanLogger) Info(ctx context.Context, msg string, _ ...logging.Field)  { l.record(ctx, msg) }
func (l *spanLogger) Warn(ctx context.Context, msg string, _ ...logging.Field)  { l.record(ctx, msg) }
func (l *spanLogger) Error(ctx context.Context, msg string, _ ...logging.Field) { l.record(ctx, msg) }
func (l *spanLogger) With(...logging.Field) logging.Logger                      { return l }

func TestSimulationEngine_ScheduledActionsOutliveSetupSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	log := newSpanLogger()
	scn := DefaultScenario()
	scn.Horizon = 3 * time.Second
	engine := NewSimulationEngine(scn, WithLogger(log), WithTracer(tp.Tracer(TracerName)))
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var setup trace.SpanContext
	names := make(map[string]bool)
	for _, s := range spans.Ended() {
		names[s.Name()] = true
		if s.Name() == "simulation.setup" {
			setup = s.SpanContext()
		}
	}
	if !names["simulation.setup"] || !names["simulation.run"] {
		t.Fatalf("ended spans = %v, want setup and run", names)
	}

	// The setup log itself belongs to the setup span.
	if got := log.seen("simulation set up"); len(got) != 1 || !got[0].Equal(setup) {
		t.Fatalf("setup log span = %v, want %v", got, setup)
	}

	samples := log.seen("connectivity sample")
	if len(samples) != 4 {
		t.Fatalf("logged %d samples, want 4", len(samples))
	}
	for i, sc := range samples {
		if sc.IsValid() {
			t.Fatalf("sample %d logged under span %v after setup ended", i, sc.SpanID())
		}
	}
}
