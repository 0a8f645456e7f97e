// Package metrics keeps run metrics in a Prometheus registry and writes
// them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

const namespace = "meshgen"

// Collector records run metrics.
type Collector struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastStage      prometheus.Gauge
	lastExitCode   prometheus.Gauge
	lastRunTime    prometheus.Gauge
	artifactsTotal prometheus.Counter
	toolLines      prometheus.Counter
	setupSteps     *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Generation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of generation runs.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		lastStage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_stage_percent",
			Help:      "Progress reached by the most recent run.",
		}),
		lastExitCode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_exit_code",
			Help:      "Exit code of the most recent run.",
		}),
		lastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent run finished.",
		}),
		artifactsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Mesh files produced.",
		}),
		toolLines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_log_lines_total",
			Help:      "Log lines read from the tool.",
		}),
		setupSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "setup_steps_total",
			Help:      "Dependency installer steps by status.",
		}, []string{"step", "status"}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRun records a finished run.
func (c *Collector) RecordRun(outcome types.Outcome, exitCode int, duration time.Duration, percent float64, artifacts, lines int) {
	c.runsTotal.WithLabelValues(string(outcome)).Inc()
	c.runDuration.Observe(duration.Seconds())
	c.lastStage.Set(percent)
	c.lastExitCode.Set(float64(exitCode))
	c.lastRunTime.SetToCurrentTime()
	c.artifactsTotal.Add(float64(artifacts))
	c.toolLines.Add(float64(lines))
}

// RecordSetupStep records one installer step.
func (c *Collector) RecordSetupStep(step, status string) {
	c.setupSteps.WithLabelValues(step, status).Inc()
}

// WriteTextfile writes all metrics to path atomically. An empty path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
