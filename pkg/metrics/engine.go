package metrics

import (
	"fmt"
	"log/slog"

	"airwaydefects/internal/logging"
	"airwaydefects/internal/models"
	"airwaydefects/pkg/morphology"
)

// Spec names a metric and its options, as found in configuration files
type Spec struct {
	Name        string
	DilateNoise bool
}

// DefaultSpecs lists the full metric battery in report order
func DefaultSpecs() []Spec {
	names := Names()
	specs := make([]Spec, len(names))
	for i, n := range names {
		specs[i] = Spec{Name: n}
	}
	return specs
}

// Engine evaluates an ordered list of metrics
type Engine struct {
	metrics []Metric
	log     *slog.Logger
}

// NewEngine creates an engine for the given metrics
func NewEngine(metrics ...Metric) *Engine {
	return &Engine{
		metrics: metrics,
		log:     logging.New("metrics"),
	}
}

// FromSpecs resolves every spec and rejects unknown or repeated names
func FromSpecs(specs []Spec) (*Engine, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no metrics requested", models.ErrConfiguration)
	}
	seen := make(map[Kind]bool)
	metrics := make([]Metric, 0, len(specs))
	for _, s := range specs {
		m, err := New(s.Name, Options{DilateNoise: s.DilateNoise})
		if err != nil {
			return nil, err
		}
		if seen[m.Kind()] {
			return nil, fmt.Errorf("%w: metric %q requested twice", models.ErrConfiguration, m.Name())
		}
		seen[m.Kind()] = true
		metrics = append(metrics, m)
	}
	return NewEngine(metrics...), nil
}

// Metrics returns the configured metrics in order
func (e *Engine) Metrics() []Metric {
	return append([]Metric(nil), e.metrics...)
}

// Names returns the configured metric names in order
func (e *Engine) Names() []string {
	names := make([]string, len(e.metrics))
	for i, m := range e.metrics {
		names[i] = m.Name()
	}
	return names
}

// Requires returns the union of the requirements of every metric
func (e *Engine) Requires() Requirement {
	var req Requirement
	for _, m := range e.metrics {
		r := m.Requires()
		req.NeedsCenterlines = req.NeedsCenterlines || r.NeedsCenterlines
		req.NeedsSpacing = req.NeedsSpacing || r.NeedsSpacing
	}
	return req
}

// Evaluate computes every metric for one case. The first failing metric
// aborts the evaluation.
func (e *Engine) Evaluate(caseName string, ctx Context) (models.MetricResult, error) {
	res := models.MetricResult{
		Case:   caseName,
		Values: make([]models.MetricValue, 0, len(e.metrics)),
	}
	for _, m := range e.metrics {
		v, err := m.Compute(ctx)
		if err != nil {
			return models.MetricResult{}, fmt.Errorf("case %s metric %s: %w", caseName, m.Name(), err)
		}
		e.log.Debug("metric computed", "case", caseName, "metric", m.Name(), "value", v)
		res.Values = append(res.Values, models.MetricValue{Name: m.Name(), Value: v})
	}
	return res, nil
}

// ExcludeRegion removes region from every mask of the context, typically the
// trachea and main bronchi so that scores reflect the peripheral tree.
// Nil centerlines stay nil.
func ExcludeRegion(ctx Context, region *models.Mask) (Context, error) {
	out := ctx
	masks := []**models.Mask{&out.Reference, &out.ReferenceCenterline, &out.Prediction, &out.PredictionCenterline}
	for _, mp := range masks {
		if *mp == nil {
			continue
		}
		cut, err := morphology.Subtract(*mp, region)
		if err != nil {
			return Context{}, err
		}
		*mp = cut
	}
	return out, nil
}
