// Package metrics records per-run Prometheus metrics and exports them to the
// node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns one registry per command run.
type Recorder struct {
	registry *prometheus.Registry

	filesScanned     prometheus.Gauge
	scanWarnings     prometheus.Gauge
	bytesScanned     prometheus.Gauge
	duplicateSets    prometheus.Gauge
	reclaimableBytes prometheus.Gauge
	actionsTotal     *prometheus.CounterVec
	bytesTransferred prometheus.Gauge
	sinkEntries      *prometheus.CounterVec
	stageDuration    *prometheus.GaugeVec
	lastRun          *prometheus.GaugeVec
}

// New creates a recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		filesScanned: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magnolia_scan_files",
			Help: "Number of files cataloged by the last scan",
		}),
		scanWarnings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magnolia_scan_warnings",
			Help: "Number of warnings raised by the last scan",
		}),
		bytesScanned: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magnolia_scan_bytes",
			Help: "Total size in bytes of files cataloged by the last scan",
		}),
		duplicateSets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magnolia_duplicate_sets",
			Help: "Number of duplicate sets found by the last analysis",
		}),
		reclaimableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magnolia_reclaimable_bytes",
			Help: "Bytes held by non-keeper duplicates in the last analysis",
		}),
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "magnolia_organize_actions_total",
			Help: "Organize actions by kind and status",
		}, []string{"kind", "status"}),
		bytesTransferred: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magnolia_organize_bytes_transferred",
			Help: "Bytes moved or copied by the last organize run",
		}),
		sinkEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "magnolia_sink_entries_total",
			Help: "Catalog entries delivered to sinks by result",
		}, []string{"sink", "result"}),
		stageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magnolia_stage_duration_seconds",
			Help: "Wall-clock duration of the last run of each stage",
		}, []string{"stage"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magnolia_stage_last_run_timestamp_seconds",
			Help: "Unix time the stage last finished",
		}, []string{"stage", "result"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveScan records scan totals.
func (r *Recorder) ObserveScan(files, warnings int, bytes int64) {
	if r == nil {
		return
	}
	r.filesScanned.Set(float64(files))
	r.scanWarnings.Set(float64(warnings))
	r.bytesScanned.Set(float64(bytes))
}

// ObserveAnalysis records duplicate totals.
func (r *Recorder) ObserveAnalysis(sets int, reclaimable int64) {
	if r == nil {
		return
	}
	r.duplicateSets.Set(float64(sets))
	r.reclaimableBytes.Set(float64(reclaimable))
}

// ObserveAction counts one organize outcome.
func (r *Recorder) ObserveAction(kind, status string) {
	if r == nil {
		return
	}
	r.actionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveTransferred records bytes moved or copied.
func (r *Recorder) ObserveTransferred(bytes int64) {
	if r == nil {
		return
	}
	r.bytesTransferred.Set(float64(bytes))
}

// ObserveSink records one sink's delivery counts.
func (r *Recorder) ObserveSink(name string, ingested, failed int) {
	if r == nil {
		return
	}
	r.sinkEntries.WithLabelValues(name, "ingested").Add(float64(ingested))
	r.sinkEntries.WithLabelValues(name, "failed").Add(float64(failed))
}

// ObserveStage records a finished stage. result is "success" or "failure".
func (r *Recorder) ObserveStage(stage, result string, elapsed time.Duration, finished time.Time) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Set(elapsed.Seconds())
	r.lastRun.WithLabelValues(stage, result).Set(float64(finished.Unix()))
}

// WriteTextfile atomically writes the registry in text exposition format. An
// empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
