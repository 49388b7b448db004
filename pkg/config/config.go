// Package config provides configuration loading and management for airwaydefects.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"airwaydefects/internal/logging"
	"airwaydefects/internal/models"
	"airwaydefects/pkg/carve"
	"airwaydefects/pkg/injection"
	"airwaydefects/pkg/metrics"
	"airwaydefects/pkg/morphology"
	"airwaydefects/pkg/sampling"
	"airwaydefects/pkg/topology"
)

// MetricConfig selects one metric of the evaluation battery
type MetricConfig struct {
	// Name is the metric name, short or long form
	Name string `yaml:"name"`

	// Dilate closes one-voxel holes before the error-count metrics
	Dilate bool `yaml:"dilate,omitempty"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many cases run in parallel; 0 uses every CPU
		NumCores int `yaml:"numCores"`

		// Seed is mixed with each case name to seed its random source
		Seed uint64 `yaml:"seed"`

		// SamplingFailure is "skip-type" or "skip-case"
		SamplingFailure string `yaml:"samplingFailure"`
	} `yaml:"processing"`

	// Geometry parameters
	Geometry struct {
		// MeasuresInMillimetres marks branch diameters and lengths as mm
		MeasuresInMillimetres bool `yaml:"measuresInMillimetres"`

		// LengthTolerance is the slack of the branch length consistency check
		LengthTolerance float64 `yaml:"lengthTolerance"`

		// Shape is the blanking primitive, "cylinder" or "sphere"
		Shape string `yaml:"shape"`
	} `yaml:"geometry"`

	// Type1 configures mid-branch ablation
	Type1 struct {
		Enabled         bool    `yaml:"enabled"`
		Proportion      float64 `yaml:"proportion"`
		InflateDiameter float64 `yaml:"inflateDiameter"`
		MaxDiameter     float64 `yaml:"maxDiameter"`

		// ExcludeShortBranches drops branches shorter than MinBranchLength
		ExcludeShortBranches bool    `yaml:"excludeShortBranches"`
		MinBranchLength      float64 `yaml:"minBranchLength"`
		MinGeneration        int     `yaml:"minGeneration"`
		MinBlankLength       float64 `yaml:"minBlankLength"`
	} `yaml:"type1"`

	// Type2 configures terminal truncation
	Type2 struct {
		Enabled         bool    `yaml:"enabled"`
		Proportion      float64 `yaml:"proportion"`
		InflateDiameter float64 `yaml:"inflateDiameter"`
		MaxDiameter     float64 `yaml:"maxDiameter"`
	} `yaml:"type2"`

	// Evaluation parameters
	Evaluation struct {
		// Metrics lists the metrics in report order
		Metrics []MetricConfig `yaml:"metrics"`

		// Precision is the number of decimals written per score
		Precision int `yaml:"precision"`

		// RemoveCoarseAirways excludes the dilated coarse airways from scoring
		RemoveCoarseAirways bool `yaml:"removeCoarseAirways"`

		// CoarseDilateIterations is the dilation applied to the coarse airways
		CoarseDilateIterations int `yaml:"coarseDilateIterations"`
	} `yaml:"evaluation"`

	// Postprocess parameters
	Postprocess struct {
		// Threshold binarizes posteriors: voxels above it are airway
		Threshold float64 `yaml:"threshold"`

		// Connectivity is 6, 18 or 26
		Connectivity int `yaml:"connectivity"`

		// LargestComponent keeps only the largest connected component
		LargestComponent bool `yaml:"largestComponent"`
	} `yaml:"postprocess"`

	// Output parameters
	Output struct {
		LogLevel  string `yaml:"logLevel"`
		LogFormat string `yaml:"logFormat"`
		LogFile   string `yaml:"logFile"`

		// MetricsFile receives Prometheus text-format telemetry
		MetricsFile string `yaml:"metricsFile"`

		// Database is the SQLite results database
		Database string `yaml:"database"`

		// PreviewDir receives PNG slices of the carved regions
		PreviewDir string `yaml:"previewDir"`

		// TestShapes carves into an all-ones mask and writes the inverse
		TestShapes bool `yaml:"testShapes"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	params := injection.DefaultParams()

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Seed = 2017
	cfg.Processing.SamplingFailure = string(params.SamplingFailure)

	cfg.Geometry.MeasuresInMillimetres = true
	cfg.Geometry.LengthTolerance = topology.DefaultLengthTolerance
	cfg.Geometry.Shape = params.Shape.String()

	cfg.Type1.Enabled = params.MidBranch.Enabled
	cfg.Type1.Proportion = params.MidBranch.Proportion
	cfg.Type1.InflateDiameter = params.MidBranch.InflateDiameter
	cfg.Type1.MaxDiameter = params.MidBranch.MaxDiameter
	cfg.Type1.ExcludeShortBranches = params.Policy.ExcludeShortBranches
	cfg.Type1.MinBranchLength = params.Policy.MinBranchLength
	cfg.Type1.MinGeneration = params.Policy.MinGeneration
	cfg.Type1.MinBlankLength = params.MinBlankLength

	cfg.Type2.Enabled = params.Terminal.Enabled
	cfg.Type2.Proportion = params.Terminal.Proportion
	cfg.Type2.InflateDiameter = params.Terminal.InflateDiameter
	cfg.Type2.MaxDiameter = params.Terminal.MaxDiameter

	for _, s := range metrics.DefaultSpecs() {
		cfg.Evaluation.Metrics = append(cfg.Evaluation.Metrics, MetricConfig{Name: s.Name, Dilate: s.DilateNoise})
	}
	cfg.Evaluation.Precision = 6
	cfg.Evaluation.RemoveCoarseAirways = false
	cfg.Evaluation.CoarseDilateIterations = 4

	cfg.Postprocess.Threshold = 0.5
	cfg.Postprocess.Connectivity = 26
	cfg.Postprocess.LargestComponent = true

	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", models.ErrConfiguration, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Workers returns the number of cases to run in parallel
func (c *Config) Workers() int {
	if c.Processing.NumCores <= 0 {
		return runtime.NumCPU()
	}
	return c.Processing.NumCores
}

// InjectionParams converts the injection sections to injector parameters
func (c *Config) InjectionParams() (injection.Params, error) {
	shape, err := carve.ParseShape(c.Geometry.Shape)
	if err != nil {
		return injection.Params{}, err
	}
	failure, err := injection.ParseSamplingFailure(c.Processing.SamplingFailure)
	if err != nil {
		return injection.Params{}, err
	}

	p := injection.Params{
		MidBranch: injection.TypeParams{
			Enabled:         c.Type1.Enabled,
			Proportion:      c.Type1.Proportion,
			InflateDiameter: c.Type1.InflateDiameter,
			MaxDiameter:     c.Type1.MaxDiameter,
		},
		Policy: sampling.Policy{
			ExcludeShortBranches: c.Type1.ExcludeShortBranches,
			MinBranchLength:      c.Type1.MinBranchLength,
			MinGeneration:        c.Type1.MinGeneration,
		},
		MinBlankLength: c.Type1.MinBlankLength,
		Terminal: injection.TypeParams{
			Enabled:         c.Type2.Enabled,
			Proportion:      c.Type2.Proportion,
			InflateDiameter: c.Type2.InflateDiameter,
			MaxDiameter:     c.Type2.MaxDiameter,
		},
		Shape:           shape,
		SamplingFailure: failure,
	}
	return p, p.Validate()
}

// TopologyOptions returns the unit and consistency options of branch tables
func (c *Config) TopologyOptions() topology.Options {
	return topology.Options{
		MeasuresInMillimetres: c.Geometry.MeasuresInMillimetres,
		LengthTolerance:       c.Geometry.LengthTolerance,
	}
}

// MetricSpecs returns the requested metrics in report order
func (c *Config) MetricSpecs() []metrics.Spec {
	specs := make([]metrics.Spec, len(c.Evaluation.Metrics))
	for i, m := range c.Evaluation.Metrics {
		specs[i] = metrics.Spec{Name: m.Name, DilateNoise: m.Dilate}
	}
	return specs
}

// Validate checks every section so that a bad configuration fails before
// any case runs
func (c *Config) Validate() error {
	if _, err := c.InjectionParams(); err != nil {
		return err
	}
	if c.Geometry.LengthTolerance < 0 || math.IsNaN(c.Geometry.LengthTolerance) {
		return fmt.Errorf("%w: length tolerance must not be negative", models.ErrConfiguration)
	}
	if _, err := metrics.FromSpecs(c.MetricSpecs()); err != nil {
		return err
	}
	if c.Evaluation.Precision < 0 {
		return fmt.Errorf("%w: precision %d is negative", models.ErrConfiguration, c.Evaluation.Precision)
	}
	if c.Evaluation.CoarseDilateIterations < 0 {
		return fmt.Errorf("%w: coarse dilation iterations %d is negative",
			models.ErrConfiguration, c.Evaluation.CoarseDilateIterations)
	}
	if math.IsNaN(c.Postprocess.Threshold) {
		return fmt.Errorf("%w: postprocess threshold is NaN", models.ErrConfiguration)
	}
	if err := morphology.CheckConnectivity(c.Postprocess.Connectivity); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Output.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	switch strings.ToLower(c.Output.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", models.ErrConfiguration, c.Output.LogFormat)
	}
	return nil
}
