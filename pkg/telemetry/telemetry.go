// Package telemetry counts cases, defects and carved voxels in a Prometheus
// registry that is written to a textfile at the end of a run.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"airwaydefects/internal/models"
)

const namespace = "airwaydefects"

// Case statuses
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Metrics holds the collectors of one run
type Metrics struct {
	Registry *prometheus.Registry

	cases        *prometheus.CounterVec
	defects      *prometheus.CounterVec
	carvedVoxels prometheus.Counter
	skipped      *prometheus.CounterVec
	caseDuration *prometheus.HistogramVec
}

// New registers the collectors in a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		cases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_total",
			Help:      "Cases processed, by command and status.",
		}, []string{"command", "status"}),
		defects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defects_total",
			Help:      "Defects injected, by defect type.",
		}, []string{"type"}),
		carvedVoxels: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carved_voxels_total",
			Help:      "Mask voxels changed from foreground to background.",
		}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_branches_total",
			Help:      "Sampled branches left without a defect, by reason.",
		}, []string{"reason"}),
		caseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_duration_seconds",
			Help:      "Wall time per case, by command.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"command"}),
	}
}

// ObserveCase counts a finished case and its duration
func (m *Metrics) ObserveCase(command, status string, d time.Duration) {
	m.cases.WithLabelValues(command, status).Inc()
	m.caseDuration.WithLabelValues(command).Observe(d.Seconds())
}

// AddDefects counts injected defects of one type
func (m *Metrics) AddDefects(t models.DefectType, n int) {
	m.defects.WithLabelValues(t.String()).Add(float64(n))
}

// AddCarved counts carved voxels
func (m *Metrics) AddCarved(n int) {
	m.carvedVoxels.Add(float64(n))
}

// AddSkipped counts a branch skipped for the given reason
func (m *Metrics) AddSkipped(reason string) {
	m.skipped.WithLabelValues(reason).Inc()
}

// WriteTextfile writes the registry in the text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
