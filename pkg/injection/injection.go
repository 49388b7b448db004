// Package injection derives the geometry of synthetic segmentation defects
// from branch measurements and carves them into a tree mask.
package injection

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"airwaydefects/internal/logging"
	"airwaydefects/internal/models"
	"airwaydefects/pkg/carve"
	"airwaydefects/pkg/sampling"
	"airwaydefects/pkg/topology"
)

// SamplingFailure selects what happens to a case when a defect type cannot
// be sampled.
type SamplingFailure string

const (
	// SkipType continues the case without the failing defect type
	SkipType SamplingFailure = "skip-type"

	// SkipCase aborts the whole case
	SkipCase SamplingFailure = "skip-case"
)

// ParseSamplingFailure maps a configuration string to a policy
func ParseSamplingFailure(s string) (SamplingFailure, error) {
	switch SamplingFailure(strings.ToLower(strings.TrimSpace(s))) {
	case "", SkipType:
		return SkipType, nil
	case SkipCase:
		return SkipCase, nil
	}
	return "", fmt.Errorf("%w: unknown sampling failure policy %q (valid: %s, %s)",
		models.ErrConfiguration, s, SkipType, SkipCase)
}

// TypeParams holds the settings shared by both defect types
type TypeParams struct {
	// Enabled turns the defect type on or off
	Enabled bool

	// Proportion is the fraction of candidate branches that receive a defect
	Proportion float64

	// InflateDiameter multiplies the branch inner diameter to obtain the
	// blank diameter, so that the blank fully covers the branch lumen
	InflateDiameter float64

	// MaxDiameter caps the blank diameter, in voxels
	MaxDiameter float64
}

// Params holds the injection parameters for one run
type Params struct {
	// MidBranch configures type-1 defects (ablation somewhere along a branch)
	MidBranch TypeParams

	// Policy filters and weights the type-1 candidates
	Policy sampling.Policy

	// MinBlankLength floors the random type-1 blank length, in voxels
	MinBlankLength float64

	// Terminal configures type-2 defects (truncation of a terminal branch)
	Terminal TypeParams

	// Shape is the blanking primitive
	Shape carve.Shape

	// SamplingFailure decides the fate of a case on a sampling error
	SamplingFailure SamplingFailure
}

// DefaultParams returns the usual injection parameters
func DefaultParams() Params {
	return Params{
		MidBranch: TypeParams{
			Enabled:         true,
			Proportion:      0.4,
			InflateDiameter: 4,
			MaxDiameter:     30,
		},
		Policy:         sampling.DefaultPolicy(),
		MinBlankLength: 1,
		Terminal: TypeParams{
			Enabled:         true,
			Proportion:      0.8,
			InflateDiameter: 6,
			MaxDiameter:     30,
		},
		Shape:           carve.ShapeCylinder,
		SamplingFailure: SkipType,
	}
}

// Validate checks parameters that do not depend on any case
func (p Params) Validate() error {
	check := func(name string, tp TypeParams) error {
		if math.IsNaN(tp.Proportion) || tp.Proportion < 0 || tp.Proportion > 1 {
			return fmt.Errorf("%w: %s proportion %g outside [0, 1]", models.ErrConfiguration, name, tp.Proportion)
		}
		if !(tp.InflateDiameter > 0) {
			return fmt.Errorf("%w: %s inflate factor must be positive", models.ErrConfiguration, name)
		}
		if !(tp.MaxDiameter > 0) {
			return fmt.Errorf("%w: %s maximum diameter must be positive", models.ErrConfiguration, name)
		}
		return nil
	}
	if err := check(models.MidBranchAblation.String(), p.MidBranch); err != nil {
		return err
	}
	if err := check(models.TerminalTruncation.String(), p.Terminal); err != nil {
		return err
	}
	if p.MinBlankLength < 0 {
		return fmt.Errorf("%w: minimum blank length %g is negative", models.ErrConfiguration, p.MinBlankLength)
	}
	if _, err := ParseSamplingFailure(string(p.SamplingFailure)); err != nil {
		return err
	}
	return nil
}

// Skip describes a sampled branch that received no defect
type Skip struct {
	BranchID int
	Type     models.DefectType
	Reason   string
}

// Skip reasons
const (
	ReasonDiameter = "non-positive diameter"
	ReasonLength   = "non-positive length"
	ReasonAxis     = "degenerate axis"
)

// Result is the outcome of injecting defects into one case
type Result struct {
	// Records lists the injected defects, type 1 first, each type by branch id
	Records []models.DefectRecord

	// Skipped lists sampled branches left untouched
	Skipped []Skip

	// SamplingErrors holds the sampling failure of each skipped defect type
	SamplingErrors map[models.DefectType]error

	// Zeroed counts the voxels changed from set to background
	Zeroed int
}

// Count returns the number of records of the given type
func (r Result) Count(t models.DefectType) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Type == t {
			n++
		}
	}
	return n
}

// Injector carves synthetic defects into case masks
type Injector struct {
	params Params
	log    *slog.Logger
}

// NewInjector creates an injector after validating the parameters
func NewInjector(params Params) (*Injector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Injector{
		params: params,
		log:    logging.New("injection"),
	}, nil
}

// Params returns the parameters of the injector
func (inj *Injector) Params() Params {
	return inj.params
}

// Process samples the branches of one case, carves type-1 then type-2
// defects into mask in place and returns their provenance.
//
// The mask must be indexed in the same voxel space as the branch points.
// rng is the only source of randomness; a fixed seed reproduces the result.
func (inj *Injector) Process(c *topology.Case, mask *models.Mask, rng *rand.Rand) (Result, error) {
	res := Result{SamplingErrors: make(map[models.DefectType]error)}

	if inj.params.MidBranch.Enabled {
		branches, err := sampling.MidBranch(c, inj.params.MidBranch.Proportion, inj.params.Policy, rng)
		if err = inj.handleSampling(c, models.MidBranchAblation, err, &res); err != nil {
			return Result{}, err
		}
		inj.log.Debug("sampled branches", "case", c.Name, "type", models.MidBranchAblation.String(), "count", len(branches))
		for _, b := range branches {
			inj.midBranch(c, b, mask, rng, &res)
		}
	}

	if inj.params.Terminal.Enabled {
		branches, err := sampling.Terminal(c, inj.params.Terminal.Proportion, rng)
		if err = inj.handleSampling(c, models.TerminalTruncation, err, &res); err != nil {
			return Result{}, err
		}
		inj.log.Debug("sampled branches", "case", c.Name, "type", models.TerminalTruncation.String(), "count", len(branches))
		for _, b := range branches {
			inj.terminal(c, b, mask, rng, &res)
		}
	}

	return res, nil
}

// handleSampling applies the sampling failure policy. It returns a non-nil
// error only when the case must be aborted.
func (inj *Injector) handleSampling(c *topology.Case, t models.DefectType, err error, res *Result) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrSampling) || inj.params.SamplingFailure == SkipCase {
		return fmt.Errorf("case %s %s: %w", c.Name, t, err)
	}
	inj.log.Warn("skipping defect type", "case", c.Name, "type", t.String(), "error", err)
	res.SamplingErrors[t] = err
	return nil
}

// midBranch blanks a random stretch of a branch around a random point
func (inj *Injector) midBranch(c *topology.Case, b models.BranchRecord, mask *models.Mask, rng *rand.Rand, res *Result) {
	segLen := b.SegmentLength()

	rel := distuv.Uniform{Min: 0, Max: 1, Src: rng}.Rand()
	center := b.PointAt(rel)
	diameter := inj.blankDiameter(c, b, models.MidBranchAblation, inj.params.MidBranch)

	length := distuv.Uniform{Min: 0, Max: segLen, Src: rng}.Rand()
	length = math.Max(length, inj.params.MinBlankLength)

	inj.carve(c, b, models.MidBranchAblation, mask, center, diameter, length, false, res)
}

// terminal removes a terminal branch from a random start point in its first
// half up to the tip
func (inj *Injector) terminal(c *topology.Case, b models.BranchRecord, mask *models.Mask, rng *rand.Rand, res *Result) {
	segLen := b.SegmentLength()

	relStart := distuv.Uniform{Min: 0, Max: 0.5, Src: rng}.Rand()
	center := b.PointAt((relStart + 1) / 2)
	diameter := inj.blankDiameter(c, b, models.TerminalTruncation, inj.params.Terminal)
	length := (1 - relStart) * segLen

	inj.carve(c, b, models.TerminalTruncation, mask, center, diameter, length, true, res)
}

// blankDiameter inflates the branch diameter and clips it to the maximum
func (inj *Injector) blankDiameter(c *topology.Case, b models.BranchRecord, t models.DefectType, tp TypeParams) float64 {
	diameter := b.InnerDiameter * tp.InflateDiameter
	if diameter > tp.MaxDiameter {
		inj.log.Warn("blank diameter clipped", "case", c.Name, "branch", b.ID, "type", t.String(),
			"diameter", diameter, "max", tp.MaxDiameter)
		diameter = tp.MaxDiameter
	}
	return diameter
}

// carve rasterizes one blank and records it. Non-positive geometry skips the
// branch with a warning.
func (inj *Injector) carve(c *topology.Case, b models.BranchRecord, t models.DefectType, mask *models.Mask,
	center r3.Vector, diameter, length float64, openStart bool, res *Result) {

	reason := ""
	switch {
	case !(diameter > 0):
		reason = ReasonDiameter
	case !(length > 0):
		reason = ReasonLength
	case !(b.SegmentLength() > 0):
		reason = ReasonAxis
	}
	if reason != "" {
		inj.log.Warn("skipping branch", "case", c.Name, "branch", b.ID, "type", t.String(),
			"reason", reason, "diameter", diameter, "length", length)
		res.Skipped = append(res.Skipped, Skip{BranchID: b.ID, Type: t, Reason: reason})
		return
	}

	var (
		zeroed int
		err    error
	)
	switch {
	case inj.params.Shape == carve.ShapeSphere:
		zeroed, err = carve.Sphere(mask, center, diameter)
		length = math.Min(diameter, b.SegmentLength())
	case openStart:
		zeroed, err = carve.OpenStartCylinder(mask, center, b.Axis(), diameter, length)
	default:
		zeroed, err = carve.Cylinder(mask, center, b.Axis(), diameter, length)
	}
	if err != nil {
		// geometry was checked above; only NaN or infinite inputs reach here
		inj.log.Warn("skipping branch", "case", c.Name, "branch", b.ID, "type", t.String(), "error", err)
		res.Skipped = append(res.Skipped, Skip{BranchID: b.ID, Type: t, Reason: err.Error()})
		return
	}

	res.Zeroed += zeroed
	res.Records = append(res.Records, models.DefectRecord{
		BranchID: b.ID,
		Type:     t,
		Center:   center,
		Diameter: diameter,
		Length:   length,
	})
}
