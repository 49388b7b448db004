// Package metrics scores a predicted tree mask against a reference mask and
// the centerlines of both.
//
// Each metric is one of a closed set of kinds. A metric declares which inputs
// it needs through Requires, and Compute reads them from a Context.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/morphology"
)

// Smooth is added to every ratio denominator so that empty masks score 0
const Smooth = 1.0

// componentConnectivity is used to count centerline pieces
const componentConnectivity = 26

// Kind identifies a metric formula
type Kind int

const (
	Dice Kind = iota
	MaskedDice
	Completeness
	// VolumeLeakage and CenterlineLeakage count reference voxels holding
	// the ignore label as outside the reference
	VolumeLeakage
	VolumeLeakageDilated
	CenterlineLeakage
	TreeLength
	CenterlineDistFP
	CenterlineDistFN
	FNBranchErrors
	FNGapErrors
)

var kindNames = map[Kind]string{
	Dice:                 "dice",
	MaskedDice:           "dice_masked",
	Completeness:         "completeness",
	VolumeLeakage:        "volume_leakage",
	VolumeLeakageDilated: "volume_leakage_dilated",
	CenterlineLeakage:    "centerline_leakage",
	TreeLength:           "tree_length",
	CenterlineDistFP:     "centerline_dist_fp",
	CenterlineDistFN:     "centerline_dist_fn",
	FNBranchErrors:       "fn_branch_errors",
	FNGapErrors:          "fn_gap_errors",
}

// aliases maps the long metric names found in older result tables
var aliases = map[string]Kind{
	"dicecoefficient":                            Dice,
	"dicecoefficientmaskedtraining":              MaskedDice,
	"airwaycompleteness":                         Completeness,
	"airwayvolumeleakage":                        VolumeLeakage,
	"airwayvolumeleakagedilatedgt":               VolumeLeakageDilated,
	"airwaycentrelineleakage":                    CenterlineLeakage,
	"airwaytreelength":                           TreeLength,
	"airwaycentrelinedistancefalsepositiveerror": CenterlineDistFP,
	"airwaycentrelinedistancefalsenegativeerror": CenterlineDistFN,
	"airwaynumberfnerrors":                       FNBranchErrors,
	"airwaynumberfngaperrors":                    FNGapErrors,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("metric(%d)", int(k))
}

// Names returns the valid metric names in Kind order
func Names() []string {
	kinds := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// Requirement lists the inputs a metric needs besides the reference and
// prediction masks
type Requirement struct {
	// NeedsCenterlines selects the four-mask form
	NeedsCenterlines bool

	// NeedsSpacing requires a valid voxel spacing in the context
	NeedsSpacing bool
}

// Context carries the inputs of a metric computation. The masks must share
// one shape.
type Context struct {
	Reference            *models.Mask
	ReferenceCenterline  *models.Mask
	Prediction           *models.Mask
	PredictionCenterline *models.Mask
	Spacing              models.Spacing
}

// Options tunes individual metrics
type Options struct {
	// DilateNoise dilates the masks once with a cross before counting
	// components, which merges pieces split by a single voxel. Only the
	// branch and gap error counts use it.
	DilateNoise bool
}

// Metric is a configured metric instance
type Metric struct {
	kind Kind
	opts Options
}

// New resolves a metric name. Unknown names are configuration errors.
func New(name string, opts Options) (Metric, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == key {
			return Metric{kind: k, opts: opts}, nil
		}
	}
	if k, ok := aliases[key]; ok {
		return Metric{kind: k, opts: opts}, nil
	}
	return Metric{}, fmt.Errorf("%w: unknown metric %q (valid: %s)",
		models.ErrConfiguration, name, strings.Join(Names(), ", "))
}

// Of returns the metric of the given kind
func Of(k Kind, opts Options) Metric {
	return Metric{kind: k, opts: opts}
}

// Kind returns the formula of the metric
func (m Metric) Kind() Kind { return m.kind }

// Name returns the canonical metric name
func (m Metric) Name() string { return m.kind.String() }

// Requires declares the inputs the metric reads
func (m Metric) Requires() Requirement {
	switch m.kind {
	case Dice, MaskedDice:
		return Requirement{}
	case TreeLength, CenterlineDistFP, CenterlineDistFN:
		return Requirement{NeedsCenterlines: true, NeedsSpacing: true}
	default:
		return Requirement{NeedsCenterlines: true}
	}
}

// check verifies that the context holds what the metric requires
func (m Metric) check(ctx Context) error {
	if ctx.Reference == nil || ctx.Prediction == nil {
		return fmt.Errorf("%w: %s needs reference and prediction masks", models.ErrValidation, m.Name())
	}
	if err := ctx.Reference.CheckShape(ctx.Prediction); err != nil {
		return err
	}

	req := m.Requires()
	if req.NeedsCenterlines {
		if ctx.ReferenceCenterline == nil || ctx.PredictionCenterline == nil {
			return fmt.Errorf("%w: %s needs reference and prediction centerlines", models.ErrValidation, m.Name())
		}
		if err := ctx.Reference.CheckShape(ctx.ReferenceCenterline); err != nil {
			return err
		}
		if err := ctx.Reference.CheckShape(ctx.PredictionCenterline); err != nil {
			return err
		}
	}
	if req.NeedsSpacing && !ctx.Spacing.Valid() {
		return fmt.Errorf("%w: %s needs a positive voxel spacing", models.ErrValidation, m.Name())
	}
	return nil
}

// Compute evaluates the metric
func (m Metric) Compute(ctx Context) (float64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}

	ref := ctx.Reference.Data
	pred := ctx.Prediction.Data

	switch m.kind {
	case Dice:
		return dice(ref, pred, false), nil

	case MaskedDice:
		return dice(ref, pred, true), nil

	case Completeness:
		return float64(countBoth(ctx.ReferenceCenterline.Data, pred)) /
			(float64(count(ctx.ReferenceCenterline.Data)) + Smooth), nil

	case VolumeLeakage:
		return float64(countOnlySecond(ref, pred)) / (float64(count(ref)) + Smooth), nil

	case VolumeLeakageDilated:
		dilated := morphology.Dilate(ctx.Reference, morphology.Cube, 1)
		return float64(countOnlySecond(dilated.Data, pred)) / (float64(count(ref)) + Smooth), nil

	case CenterlineLeakage:
		return float64(countOnlySecond(ref, ctx.PredictionCenterline.Data)) /
			(float64(count(ctx.ReferenceCenterline.Data)) + Smooth), nil

	case TreeLength:
		return float64(countBoth(ctx.ReferenceCenterline.Data, pred)) * ctx.Spacing.LengthUnit(), nil

	case CenterlineDistFP:
		return meanNearestDistance(
			physicalPoints(ctx.PredictionCenterline, ctx.Spacing),
			physicalPoints(ctx.ReferenceCenterline, ctx.Spacing)), nil

	case CenterlineDistFN:
		return meanNearestDistance(
			physicalPoints(ctx.ReferenceCenterline, ctx.Spacing),
			physicalPoints(ctx.PredictionCenterline, ctx.Spacing)), nil

	case FNBranchErrors:
		return m.fnBranchErrors(ctx)

	case FNGapErrors:
		return m.fnGapErrors(ctx)
	}
	return 0, fmt.Errorf("%w: unsupported metric kind %d", models.ErrConfiguration, int(m.kind))
}

// fnBranchErrors counts the pieces of reference centerline missed entirely
func (m Metric) fnBranchErrors(ctx Context) (float64, error) {
	pred := ctx.Prediction
	if m.opts.DilateNoise {
		pred = morphology.Dilate(pred, morphology.Cross, 1)
	}
	missed, err := morphology.Subtract(ctx.ReferenceCenterline, pred)
	if err != nil {
		return 0, err
	}
	n, err := morphology.CountComponents(missed, componentConnectivity)
	return float64(n), err
}

// fnGapErrors counts how many extra pieces the recovered part of the
// reference centerline has compared to the whole centerline
func (m Metric) fnGapErrors(ctx Context) (float64, error) {
	refCL := ctx.ReferenceCenterline
	recovered, err := morphology.Multiply(refCL, ctx.Prediction)
	if err != nil {
		return 0, err
	}
	if m.opts.DilateNoise {
		refCL = morphology.Dilate(refCL, morphology.Cross, 1)
		recovered = morphology.Dilate(recovered, morphology.Cross, 1)
	}

	before, err := morphology.CountComponents(refCL, componentConnectivity)
	if err != nil {
		return 0, err
	}
	after, err := morphology.CountComponents(recovered, componentConnectivity)
	if err != nil {
		return 0, err
	}
	return float64(after - before), nil
}

// dice computes 2|A∩B| / (|A|+|B|+Smooth). When masked, voxels where the
// reference carries IgnoreLabel are dropped from both masks.
func dice(ref, pred []int8, masked bool) float64 {
	var inter, nRef, nPred int
	for i, r := range ref {
		if masked && r == models.IgnoreLabel {
			continue
		}
		a, b := r > 0, pred[i] > 0
		if a {
			nRef++
		}
		if b {
			nPred++
		}
		if a && b {
			inter++
		}
	}
	return 2 * float64(inter) / (float64(nRef+nPred) + Smooth)
}

func count(a []int8) int {
	n := 0
	for _, v := range a {
		if v > 0 {
			n++
		}
	}
	return n
}

// countBoth counts voxels set in both a and b
func countBoth(a, b []int8) int {
	n := 0
	for i, v := range a {
		if v > 0 && b[i] > 0 {
			n++
		}
	}
	return n
}

// countOnlySecond counts voxels set in b but not in a. Negative values in a,
// such as the ignore label, are not set.
func countOnlySecond(a, b []int8) int {
	n := 0
	for i, v := range b {
		if v > 0 && a[i] <= 0 {
			n++
		}
	}
	return n
}
