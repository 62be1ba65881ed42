package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/deobby/transform"
	prom "github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics writes the pass counters of stats together with run-level
// gauges to path in the Prometheus text format. The file is replaced
// atomically, so a node exporter never reads a partial file.
func WriteMetrics(path string, stats *transform.Stats, run *Run) error {
	reg := prom.NewRegistry()
	duration := prom.NewGauge(prom.GaugeOpts{
		Namespace: "deobby",
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run",
	})
	classes := prom.NewGauge(prom.GaugeOpts{
		Namespace: "deobby",
		Name:      "classes",
		Help:      "Classes in the program of the last run",
	})
	removed := prom.NewGauge(prom.GaugeOpts{
		Namespace: "deobby",
		Name:      "removed_methods",
		Help:      "Methods removed by the last run",
	})
	reg.MustRegister(duration, classes, removed)
	duration.Set(run.Duration.Seconds())
	classes.Set(float64(run.Classes))
	removed.Set(float64(len(run.Removed)))

	gatherers := prom.Gatherers{reg}
	if stats != nil {
		gatherers = append(gatherers, stats.Registry())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := prom.WriteToTextfile(path, gatherers); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
