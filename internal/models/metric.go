package models

// MetricValue is one named score
type MetricValue struct {
	Name  string
	Value float64
}

// MetricResult holds the scores of one (reference, prediction) pair, in the
// order the metrics were requested.
type MetricResult struct {
	Case   string
	Values []MetricValue
}

// Get returns the value of the named metric
func (r MetricResult) Get(name string) (float64, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

// Names returns the metric names in order
func (r MetricResult) Names() []string {
	names := make([]string, len(r.Values))
	for i, v := range r.Values {
		names[i] = v.Name
	}
	return names
}
