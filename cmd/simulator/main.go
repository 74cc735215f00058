package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/cluster-patrol-sim/core"
	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
	"github.com/signalsfoundry/cluster-patrol-sim/internal/observability"
	"github.com/signalsfoundry/cluster-patrol-sim/internal/report"
	"github.com/signalsfoundry/cluster-patrol-sim/timectrl"
)

type options struct {
	scenarioPath string
	numClusters  int
	simTime      time.Duration
	leaderSpeed  float64
	maxRange     float64
	samplePeriod time.Duration
	seed         uint64
	realtime     bool
	metricsAddr  string
	format       string
	outDir       string

	// set records which flags were given explicitly.
	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{set: make(map[string]bool)}
	fs.StringVar(&opts.scenarioPath, "scenario", "", "Path to a YAML or JSON scenario file (defaults to the built-in three-cluster scenario)")
	fs.IntVar(&opts.numClusters, "num-clusters", 0, "Number of active clusters")
	fs.DurationVar(&opts.simTime, "sim-time", 0, "Simulation horizon, e.g. 60s")
	fs.Float64Var(&opts.leaderSpeed, "leader-speed", 0, "Leader patrol speed in m/s")
	fs.Float64Var(&opts.maxRange, "max-range", 0, "Leader-to-leader connectivity range in metres")
	fs.DurationVar(&opts.samplePeriod, "sample-period", 0, "Interval between connectivity checks")
	fs.Uint64Var(&opts.seed, "seed", 0, "Seed for subordinate placement")
	fs.BoolVar(&opts.realtime, "realtime", false, "Pace simulated time against the wall clock")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	fs.StringVar(&opts.format, "format", "text", "Report format: text, json or yaml")
	fs.StringVar(&opts.outDir, "out", "", "Directory to also write the report into (created if missing)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// scenario builds the scenario from the file (or defaults) and applies the
// flags that were given explicitly.
func (o *options) scenario() (core.Scenario, error) {
	scn := core.DefaultScenario()
	if o.scenarioPath != "" {
		loaded, err := core.LoadScenarioFile(o.scenarioPath)
		if err != nil {
			return core.Scenario{}, err
		}
		scn = loaded
	}

	if o.set["num-clusters"] {
		scn.NumClusters = o.numClusters
	}
	if o.set["sim-time"] {
		scn.Horizon = o.simTime
	}
	if o.set["leader-speed"] {
		scn.LeaderSpeed = o.leaderSpeed
	}
	if o.set["max-range"] {
		scn.MaxRange = o.maxRange
	}
	if o.set["sample-period"] {
		scn.SamplePeriod = o.samplePeriod
	}
	if o.set["seed"] {
		scn.Seed = o.seed
	}

	if err := scn.Validate(); err != nil {
		return core.Scenario{}, err
	}
	return scn, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, log logging.Logger) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	scn, err := opts.scenario()
	if err != nil {
		return err
	}

	// The run id is fixed before tracing starts so the trace resource, the
	// engine logs and the report all carry the same one.
	ctx, runID := logging.EnsureRunID(ctx)
	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.Output = stderr
	tracing, err := observability.InitTracing(ctx, tracingCfg, observability.RunInfo{
		RunID:    runID,
		Scenario: scn.Name,
		Seed:     scn.Seed,
		Clusters: scn.NumClusters,
		Horizon:  scn.Horizon,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), tracing, log)

	collector, err := observability.NewSimulationCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	if opts.metricsAddr != "" {
		metricsSrv := serveMetrics(opts.metricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	mode := timectrl.Accelerated
	if opts.realtime {
		mode = timectrl.RealTime
	}
	engine := core.NewSimulationEngine(scn,
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
		core.WithTimeMode(mode),
		core.WithTracer(tracing.Tracer(core.TracerName)),
	)

	start := time.Now()
	snap, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	collector.ObserveRunDuration(time.Since(start))

	if err := report.Write(stdout, snap, format); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if opts.outDir != "" {
		path, err := writeReportFile(opts.outDir, snap, format)
		if err != nil {
			return err
		}
		log.Info(ctx, "report written", logging.String("path", path))
	}
	return nil
}

func writeReportFile(dir string, snap *core.MetricsSnapshot, format report.Format) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, format.FileName())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	if err := report.Write(f, snap, format); err != nil {
		f.Close()
		return "", fmt.Errorf("write report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report file: %w", err)
	}
	return path, nil
}

func serveMetrics(addr string, collector *observability.SimulationCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Error(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func main() {
	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, log)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	default:
		log.Error(context.Background(), "simulation failed", logging.Error(err))
		os.Exit(1)
	}
}
