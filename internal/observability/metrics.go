package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimulationCollector bundles Prometheus metrics mirroring a simulation run.
// It satisfies core.MetricsRecorder.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	Checks          prometheus.Counter
	ConnectedChecks prometheus.Counter
	Ratio           prometheus.Gauge
	ConnectedPairs  prometheus.Gauge
	PairConnected   *prometheus.CounterVec

	CourseChanges    *prometheus.CounterVec
	WaypointArrivals *prometheus.CounterVec

	EventsExecuted prometheus.Counter
	SimTime        prometheus.Gauge
	RunDuration    prometheus.Histogram
}

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	checks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_connectivity_checks_total",
		Help: "Number of leader connectivity samples taken.",
	}), "sim_connectivity_checks_total")
	if err != nil {
		return nil, err
	}
	connected, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_connectivity_connected_checks_total",
		Help: "Samples in which at least half of the leader pairs were within range.",
	}), "sim_connectivity_connected_checks_total")
	if err != nil {
		return nil, err
	}
	ratio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_connectivity_ratio",
		Help: "Connected checks divided by total checks for the current run.",
	}), "sim_connectivity_ratio")
	if err != nil {
		return nil, err
	}
	pairsGauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_connected_leader_pairs",
		Help: "Leader pairs within range in the latest sample.",
	}), "sim_connected_leader_pairs")
	if err != nil {
		return nil, err
	}
	pairConnected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_leader_pair_connected_samples_total",
		Help: "Samples in which a leader pair was within range, labeled by the pair.",
	}, []string{"leader_a", "leader_b"}), "sim_leader_pair_connected_samples_total")
	if err != nil {
		return nil, err
	}
	courseChanges, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_course_changes_total",
		Help: "Course-change notifications, labeled by node role.",
	}, []string{"role"}), "sim_course_changes_total")
	if err != nil {
		return nil, err
	}
	arrivals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_waypoint_arrivals_total",
		Help: "Waypoint arrivals, labeled by leader node.",
	}, []string{"node"}), "sim_waypoint_arrivals_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_executed_total",
		Help: "Scheduled events executed by the simulation loop.",
	}), "sim_events_executed_total")
	if err != nil {
		return nil, err
	}
	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Simulated time of the latest executed event.",
	}), "sim_time_seconds")
	if err != nil {
		return nil, err
	}
	runDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_run_duration_seconds",
		Help:    "Wall-clock duration of complete simulation runs.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}), "sim_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:         gatherer,
		Checks:           checks,
		ConnectedChecks:  connected,
		Ratio:            ratio,
		ConnectedPairs:   pairsGauge,
		PairConnected:    pairConnected,
		CourseChanges:    courseChanges,
		WaypointArrivals: arrivals,
		EventsExecuted:   events,
		SimTime:          simTime,
		RunDuration:      runDuration,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSample records one connectivity check.
func (c *SimulationCollector) ObserveSample(connectedPairs, totalPairs int, majority bool) {
	if c == nil {
		return
	}
	c.Checks.Inc()
	if majority {
		c.ConnectedChecks.Inc()
	}
	c.ConnectedPairs.Set(float64(connectedPairs))
}

// ObservePairConnected counts a leader pair found within range.
func (c *SimulationCollector) ObservePairConnected(leaderA, leaderB string) {
	if c == nil {
		return
	}
	c.PairConnected.WithLabelValues(leaderA, leaderB).Inc()
}

// SetConnectivityRatio updates the ratio gauge, clamped to [0, 1].
func (c *SimulationCollector) SetConnectivityRatio(ratio float64) {
	if c == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.Ratio.Set(ratio)
}

// ObserveCourseChange counts a course change for a node of the given role.
func (c *SimulationCollector) ObserveCourseChange(role string) {
	if c == nil {
		return
	}
	c.CourseChanges.WithLabelValues(role).Inc()
}

// ObserveWaypointArrival counts a waypoint arrival of a leader.
func (c *SimulationCollector) ObserveWaypointArrival(nodeID string) {
	if c == nil {
		return
	}
	c.WaypointArrivals.WithLabelValues(nodeID).Inc()
}

// ObserveEvent counts an executed event and tracks simulated time.
func (c *SimulationCollector) ObserveEvent(simTime time.Duration) {
	if c == nil {
		return
	}
	c.EventsExecuted.Inc()
	c.SimTime.Set(simTime.Seconds())
}

// ObserveRunDuration records the wall-clock duration of a finished run.
func (c *SimulationCollector) ObserveRunDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
