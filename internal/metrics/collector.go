// Package metrics provides Prometheus metrics for go-locust-swarm.
//
// Metrics are grouped into panels:
//   - Overview: run configuration and elapsed time
//   - Worker: lifecycle of the supervised worker process
//   - Results: datapoints pulled from the results provider
//
// Each Collector owns its metrics and registers them on the registry it is
// given, so several collectors can coexist (one per test).
package metrics

import (
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
)

const namespace = "locust_swarm"

// Collector manages all Prometheus metrics for one run.
type Collector struct {
	// --- Panel 1: Overview ---
	info           *prometheus.GaugeVec
	targetClients  prometheus.Gauge
	hatchRate      prometheus.Gauge
	elapsedSeconds prometheus.Gauge

	// --- Panel 2: Worker ---
	workerState         *prometheus.GaugeVec
	workerStartsTotal   prometheus.Counter
	workerExitsTotal    *prometheus.CounterVec
	workerUptimeSeconds prometheus.Gauge

	// --- Panel 3: Results ---
	datapointsTotal   prometheus.Counter
	samplesTotal      prometheus.Counter
	failuresTotal     prometheus.Counter
	bytesTotal        prometheus.Counter
	throughput        prometheus.Gauge
	failureRate       prometheus.Gauge
	activeWorkers     prometheus.Gauge
	latencyAvgSeconds prometheus.Gauge
	latencyMaxSeconds prometheus.Gauge
	latencySeconds    *prometheus.GaugeVec
	intervalLatency   prometheus.Histogram

	// Configuration
	targetClientCount int
	hatch             int

	// Timing
	startTime time.Time

	// For summary generation
	mu          sync.Mutex
	totalStarts int64
	exitCodes   map[int]int64
	lastUptime  time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	TargetClients int
	HatchRate     int
	Script        string
	Role          string
	Version       string
}

// NewCollector creates a collector registered on the default registerer.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the load test (value always 1)",
		}, []string{"version", "script", "role"}),
		targetClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_clients",
			Help:      "Number of clients the worker is asked to simulate",
		}),
		hatchRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hatch_rate",
			Help:      "Clients started per second during ramp-up",
		}),
		elapsedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_elapsed_seconds",
			Help:      "Seconds since the run started",
		}),

		workerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_state",
			Help:      "1 for the worker's current lifecycle state, 0 otherwise",
		}, []string{"state"}),
		workerStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_starts_total",
			Help:      "Worker process starts",
		}),
		workerExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Worker process exits by category (success, error, signal)",
		}, []string{"category"}),
		workerUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_uptime_seconds",
			Help:      "Uptime of the worker when it exited",
		}),

		datapointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datapoints_total",
			Help:      "Interval datapoints pulled from the results provider",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Requests reported by the worker",
		}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed requests reported by the worker",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Response bytes reported by the worker",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_per_second",
			Help:      "Request rate of the last datapoint",
		}),
		failureRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failure_rate",
			Help:      "Failure ratio of the last datapoint (0.0 to 1.0)",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reporting_workers",
			Help:      "Workers that contributed to the last datapoint",
		}),
		latencyAvgSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_avg_seconds",
			Help:      "Average response time of the last datapoint",
		}),
		latencyMaxSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_max_seconds",
			Help:      "Maximum response time of the last datapoint",
		}),
		latencySeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "Response time percentiles of the last datapoint",
		}, []string{"quantile"}),
		// Histogram of per-interval averages, for heatmaps
		intervalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interval_latency_avg_seconds",
			Help:      "Distribution of per-interval average response times",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.075,
				0.1, 0.25, 0.5, 0.75,
				1.0, 2.5, 5.0, 10.0,
			},
		}),

		targetClientCount: cfg.TargetClients,
		hatch:             cfg.HatchRate,
		startTime:         time.Now(),
		exitCodes:         make(map[int]int64),
	}

	registry.MustRegister(
		// Panel 1: Overview
		c.info,
		c.targetClients,
		c.hatchRate,
		c.elapsedSeconds,

		// Panel 2: Worker
		c.workerState,
		c.workerStartsTotal,
		c.workerExitsTotal,
		c.workerUptimeSeconds,

		// Panel 3: Results
		c.datapointsTotal,
		c.samplesTotal,
		c.failuresTotal,
		c.bytesTotal,
		c.throughput,
		c.failureRate,
		c.activeWorkers,
		c.latencyAvgSeconds,
		c.latencyMaxSeconds,
		c.latencySeconds,
		c.intervalLatency,
	)

	// Set initial values
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Script, cfg.Role).Set(1)
	c.targetClients.Set(float64(cfg.TargetClients))
	c.hatchRate.Set(float64(cfg.HatchRate))

	return c
}

// =============================================================================
// Worker Events
// =============================================================================

// SetWorkerState marks state as the current worker state.
func (c *Collector) SetWorkerState(oldState, newState string) {
	if oldState != "" {
		c.workerState.WithLabelValues(oldState).Set(0)
	}
	c.workerState.WithLabelValues(newState).Set(1)
}

// WorkerStarted records a worker start event.
func (c *Collector) WorkerStarted() {
	c.workerStartsTotal.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// RecordExit records a worker exit event.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.workerExitsTotal.WithLabelValues(exitCategory(exitCode)).Inc()
	c.workerUptimeSeconds.Set(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.lastUptime = uptime
	c.mu.Unlock()
}

// exitCategory buckets an exit code.
func exitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Results
// =============================================================================

// RecordDatapoint updates counters and last-interval gauges from dp.
func (c *Collector) RecordDatapoint(dp sample.Datapoint) {
	c.datapointsTotal.Inc()
	c.samplesTotal.Add(float64(dp.Samples))
	c.failuresTotal.Add(float64(dp.Failures))
	c.bytesTotal.Add(float64(dp.Bytes))

	c.throughput.Set(dp.Throughput())
	c.failureRate.Set(dp.FailureRate())
	c.activeWorkers.Set(float64(dp.Workers))

	if dp.Samples == 0 {
		return
	}
	c.latencyAvgSeconds.Set(dp.AvgRT.Seconds())
	c.latencyMaxSeconds.Set(dp.MaxRT.Seconds())
	c.latencySeconds.WithLabelValues("0.5").Set(dp.P50.Seconds())
	c.latencySeconds.WithLabelValues("0.9").Set(dp.P90.Seconds())
	c.latencySeconds.WithLabelValues("0.99").Set(dp.P99.Seconds())
	c.intervalLatency.Observe(dp.AvgRT.Seconds())
}

// UpdateElapsed refreshes the elapsed-time gauge.
func (c *Collector) UpdateElapsed() {
	c.elapsedSeconds.Set(time.Since(c.startTime).Seconds())
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the worker side of the exit summary.
type Summary struct {
	Duration      time.Duration
	TargetClients int
	HatchRate     int
	TotalStarts   int64
	ExitCodes     map[int]int64
	WorkerUptime  time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &Summary{
		Duration:      time.Since(c.startTime),
		TargetClients: c.targetClientCount,
		HatchRate:     c.hatch,
		TotalStarts:   c.totalStarts,
		ExitCodes:     maps.Clone(c.exitCodes),
		WorkerUptime:  c.lastUptime,
	}
}

// TotalStarts returns the number of worker starts.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}
