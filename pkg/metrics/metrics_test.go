package metrics

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"airwaydefects/internal/models"
)

var unit = models.Spacing{X: 1, Y: 1, Z: 1}

func compute(t *testing.T, k Kind, opts Options, ctx Context) float64 {
	t.Helper()
	v, err := Of(k, opts).Compute(ctx)
	if err != nil {
		t.Fatalf("%s failed: %v", k, err)
	}
	return v
}

func randomMask(rng *rand.Rand, n int, p float64) *models.Mask {
	m := models.NewMask(n, n, n)
	for i := range m.Data {
		if rng.Float64() < p {
			m.Data[i] = 1
		}
	}
	return m
}

func block(n, x0, x1 int) *models.Mask {
	m := models.NewMask(n, n, n)
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := x0; x < x1; x++ {
				m.Set(x, y, z, 1)
			}
		}
	}
	return m
}

// TestDice verifies the identity and disjoint cases
func TestDice(t *testing.T) {
	a := block(10, 0, 5)
	b := block(10, 5, 10)

	same := compute(t, Dice, Options{}, Context{Reference: a, Prediction: a})
	if want := 1000.0 / 1001.0; math.Abs(same-want) > 1e-12 {
		t.Errorf("Expected Dice(a,a) = %f, got %f", want, same)
	}
	if same < 0.999 {
		t.Errorf("Expected Dice(a,a) close to 1, got %f", same)
	}

	if got := compute(t, Dice, Options{}, Context{Reference: a, Prediction: b}); got != 0 {
		t.Errorf("Expected Dice of disjoint masks to be 0, got %f", got)
	}

	if got := compute(t, Dice, Options{}, Context{Reference: models.NewMask(3, 3, 3), Prediction: models.NewMask(3, 3, 3)}); got != 0 {
		t.Errorf("Expected Dice of empty masks to be 0, got %f", got)
	}
}

// TestMaskedDice verifies that ignored reference voxels do not count
func TestMaskedDice(t *testing.T) {
	ref := block(10, 0, 5)
	pred := block(10, 0, 6)

	// the extra predicted slab is marked as ignore in the reference
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			ref.Set(5, y, z, models.IgnoreLabel)
		}
	}

	plain := compute(t, Dice, Options{}, Context{Reference: ref, Prediction: pred})
	masked := compute(t, MaskedDice, Options{}, Context{Reference: ref, Prediction: pred})

	if want := 2 * 500.0 / 1101.0; math.Abs(plain-want) > 1e-12 {
		t.Errorf("Expected plain Dice %f, got %f", want, plain)
	}
	if want := 1000.0 / 1001.0; math.Abs(masked-want) > 1e-12 {
		t.Errorf("Expected masked Dice %f, got %f", want, masked)
	}
}

// TestRatiosOnRandomMasks verifies the ranges of the ratio metrics
func TestRatiosOnRandomMasks(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for range 5 {
		ctx := Context{
			Reference:            randomMask(rng, 12, 0.3),
			ReferenceCenterline:  randomMask(rng, 12, 0.05),
			Prediction:           randomMask(rng, 12, 0.4),
			PredictionCenterline: randomMask(rng, 12, 0.05),
			Spacing:              unit,
		}

		c := compute(t, Completeness, Options{}, ctx)
		if c < 0 || c > 1 {
			t.Errorf("Completeness %f outside [0, 1]", c)
		}
		for _, k := range []Kind{VolumeLeakage, VolumeLeakageDilated, CenterlineLeakage} {
			if v := compute(t, k, Options{}, ctx); v < 0 {
				t.Errorf("%s is negative: %f", k, v)
			}
		}
		if compute(t, VolumeLeakageDilated, Options{}, ctx) > compute(t, VolumeLeakage, Options{}, ctx) {
			t.Errorf("Dilating the reference must not increase leakage")
		}
	}
}

// TestVolumeLeakage verifies the plain and dilated leakage ratios
func TestVolumeLeakage(t *testing.T) {
	ref := models.NewMask(5, 5, 5)
	ref.Set(2, 2, 2, 1)
	pred := block(5, 1, 4)
	for z := 0; z < 5; z++ {
		for y := 0; y < 5; y++ {
			if y < 1 || y > 3 || z < 1 || z > 3 {
				for x := 1; x < 4; x++ {
					pred.Set(x, y, z, 0)
				}
			}
		}
	}
	ctx := Context{Reference: ref, ReferenceCenterline: ref, Prediction: pred, PredictionCenterline: ref}

	if got := compute(t, VolumeLeakage, Options{}, ctx); got != 26.0/2.0 {
		t.Errorf("Expected leakage 13, got %f", got)
	}
	if got := compute(t, VolumeLeakageDilated, Options{}, ctx); got != 0 {
		t.Errorf("Expected no leakage against the dilated reference, got %f", got)
	}
}

// TestLeakageIgnoreLabel verifies ignored reference voxels count as outside
// the reference
func TestLeakageIgnoreLabel(t *testing.T) {
	ref := models.NewMask(3, 3, 3)
	ref.Set(1, 1, 1, 1)
	ref.Set(1, 1, 2, models.IgnoreLabel)
	pred := models.NewMask(3, 3, 3)
	pred.Set(1, 1, 1, 1)
	pred.Set(1, 1, 2, 1)
	ctx := Context{Reference: ref, ReferenceCenterline: ref, Prediction: pred, PredictionCenterline: pred}

	if got := compute(t, VolumeLeakage, Options{}, ctx); got != 0.5 {
		t.Errorf("Expected volume leakage 0.5, got %f", got)
	}
	if got := compute(t, CenterlineLeakage, Options{}, ctx); got != 0.5 {
		t.Errorf("Expected centerline leakage 0.5, got %f", got)
	}
}

// TestTreeLengthScaling verifies linear scaling with the voxel spacing
func TestTreeLengthScaling(t *testing.T) {
	refCL := models.NewMask(8, 8, 8)
	for z := 0; z < 8; z++ {
		refCL.Set(4, 4, z, 1)
	}
	pred := block(8, 3, 6)
	ctx := Context{Reference: pred, ReferenceCenterline: refCL, Prediction: pred, PredictionCenterline: refCL}

	ctx.Spacing = models.Spacing{X: 0.5, Y: 1, Z: 2}
	base := compute(t, TreeLength, Options{}, ctx)
	if math.Abs(base-8) > 1e-9 {
		t.Errorf("Expected tree length 8, got %f", base)
	}

	ctx.Spacing = models.Spacing{X: 1, Y: 2, Z: 4}
	if got := compute(t, TreeLength, Options{}, ctx); math.Abs(got-2*base) > 1e-9 {
		t.Errorf("Expected doubled tree length %f, got %f", 2*base, got)
	}
}

// bruteForceMean computes the mean nearest distance through the full
// pairwise distance matrix
func bruteForceMean(query, target cloud) float64 {
	d := mat.NewDense(len(query), len(target), nil)
	for i, q := range query {
		for j, p := range target {
			d.Set(i, j, math.Sqrt(q.Distance(p)))
		}
	}
	total := 0.0
	row := make([]float64, len(target))
	for i := range query {
		total += floats.Min(mat.Row(row, i, d))
	}
	return total / float64(len(query))
}

// TestCenterlineDistances verifies the k-d tree against brute force and the
// symmetry between the two error directions
func TestCenterlineDistances(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	spacing := models.Spacing{X: 0.7, Y: 0.7, Z: 1.25}
	refCL := randomMask(rng, 14, 0.02)
	predCL := randomMask(rng, 14, 0.03)
	ref := randomMask(rng, 14, 0.3)
	pred := randomMask(rng, 14, 0.3)

	ctx := Context{Reference: ref, ReferenceCenterline: refCL, Prediction: pred, PredictionCenterline: predCL, Spacing: spacing}
	swapped := Context{Reference: pred, ReferenceCenterline: predCL, Prediction: ref, PredictionCenterline: refCL, Spacing: spacing}

	fp := compute(t, CenterlineDistFP, Options{}, ctx)
	fn := compute(t, CenterlineDistFN, Options{}, ctx)

	if want := bruteForceMean(physicalPoints(predCL, spacing), physicalPoints(refCL, spacing)); math.Abs(fp-want) > 1e-9 {
		t.Errorf("FP distance %f differs from brute force %f", fp, want)
	}
	if want := bruteForceMean(physicalPoints(refCL, spacing), physicalPoints(predCL, spacing)); math.Abs(fn-want) > 1e-9 {
		t.Errorf("FN distance %f differs from brute force %f", fn, want)
	}

	if got := compute(t, CenterlineDistFN, Options{}, swapped); math.Abs(got-fp) > 1e-12 {
		t.Errorf("Expected FN of swapped masks %f to equal FP %f", got, fp)
	}
	if got := compute(t, CenterlineDistFP, Options{}, swapped); math.Abs(got-fn) > 1e-12 {
		t.Errorf("Expected FP of swapped masks %f to equal FN %f", got, fn)
	}
}

// TestCenterlineDistanceEmpty verifies the empty point set conventions
func TestCenterlineDistanceEmpty(t *testing.T) {
	refCL := models.NewMask(4, 4, 4)
	refCL.Set(1, 1, 1, 1)
	empty := models.NewMask(4, 4, 4)
	ctx := Context{Reference: refCL, ReferenceCenterline: refCL, Prediction: empty, PredictionCenterline: empty, Spacing: unit}

	if got := compute(t, CenterlineDistFP, Options{}, ctx); got != 0 {
		t.Errorf("Expected 0 for an empty prediction centerline, got %f", got)
	}
	if got := compute(t, CenterlineDistFN, Options{}, ctx); !math.IsInf(got, 1) {
		t.Errorf("Expected +Inf when nothing was predicted, got %f", got)
	}
}

// gapFixture builds a reference centerline of three parallel lines; the
// prediction covers the first two fully and the third except one voxel
func gapFixture() Context {
	refCL := models.NewMask(12, 12, 12)
	pred := models.NewMask(12, 12, 12)
	for _, x := range []int{1, 5, 9} {
		for z := 1; z < 11; z++ {
			refCL.Set(x, 6, z, 1)
			if !(x == 9 && z == 5) {
				pred.Set(x, 6, z, 1)
			}
		}
	}
	return Context{Reference: pred, ReferenceCenterline: refCL, Prediction: pred, PredictionCenterline: pred, Spacing: unit}
}

// TestFNGapErrors verifies that splitting one of three branches in two
// counts (2+2)-3 = 1 gap
func TestFNGapErrors(t *testing.T) {
	ctx := gapFixture()

	if got := compute(t, FNGapErrors, Options{}, ctx); got != 1 {
		t.Errorf("Expected 1 gap, got %f", got)
	}
	if got := compute(t, FNBranchErrors, Options{}, ctx); got != 1 {
		t.Errorf("Expected 1 missed piece, got %f", got)
	}

	// a one-voxel gap closes after dilation
	if got := compute(t, FNGapErrors, Options{DilateNoise: true}, ctx); got != 0 {
		t.Errorf("Expected no gap after dilation, got %f", got)
	}
	if got := compute(t, FNBranchErrors, Options{DilateNoise: true}, ctx); got != 0 {
		t.Errorf("Expected no missed piece after dilation, got %f", got)
	}
}

// TestRequirements verifies the input checks
func TestRequirements(t *testing.T) {
	full := gapFixture()

	noCL := full
	noCL.PredictionCenterline = nil
	if _, err := Of(Completeness, Options{}).Compute(noCL); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error without centerlines, got %v", err)
	}
	if _, err := Of(Dice, Options{}).Compute(noCL); err != nil {
		t.Errorf("Dice must not need centerlines: %v", err)
	}

	noSpacing := full
	noSpacing.Spacing = models.Spacing{}
	if _, err := Of(TreeLength, Options{}).Compute(noSpacing); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error without spacing, got %v", err)
	}

	mismatch := full
	mismatch.Prediction = models.NewMask(3, 3, 3)
	if _, err := Of(Dice, Options{}).Compute(mismatch); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for mismatched shapes, got %v", err)
	}

	if req := Of(CenterlineDistFN, Options{}).Requires(); !req.NeedsCenterlines || !req.NeedsSpacing {
		t.Errorf("Unexpected requirement %+v", req)
	}
	if req := Of(MaskedDice, Options{}).Requires(); req.NeedsCenterlines || req.NeedsSpacing {
		t.Errorf("Unexpected requirement %+v", req)
	}
}

// TestFactory verifies name resolution
func TestFactory(t *testing.T) {
	for _, name := range Names() {
		m, err := New(name, Options{})
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if m.Name() != name {
			t.Errorf("Expected name %q, got %q", name, m.Name())
		}
	}

	m, err := New("AirwayNumberFNGAPErrors", Options{})
	if err != nil || m.Kind() != FNGapErrors {
		t.Errorf("Expected the long name to resolve, got %v (%v)", m.Kind(), err)
	}

	_, err = New("hausdorff", Options{})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "completeness") {
		t.Errorf("Expected the error to list valid names: %v", err)
	}
}

// TestEngine verifies ordered evaluation and spec validation
func TestEngine(t *testing.T) {
	e, err := FromSpecs([]Spec{{Name: "fn_gap_errors"}, {Name: "dice"}, {Name: "completeness"}})
	if err != nil {
		t.Fatalf("FromSpecs failed: %v", err)
	}

	res, err := e.Evaluate("case01", gapFixture())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Case != "case01" {
		t.Errorf("Expected case01, got %s", res.Case)
	}
	if diff := cmp.Diff([]string{"fn_gap_errors", "dice", "completeness"}, res.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if v, _ := res.Get("completeness"); math.Abs(v-29.0/31.0) > 1e-12 {
		t.Errorf("Expected completeness 29/31, got %f", v)
	}

	if _, err := FromSpecs([]Spec{{Name: "dice"}, {Name: "DiceCoefficient"}}); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error for a repeated metric, got %v", err)
	}
	if _, err := FromSpecs(nil); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error for an empty list, got %v", err)
	}

	if req := e.Requires(); !req.NeedsCenterlines || req.NeedsSpacing {
		t.Errorf("Unexpected engine requirement %+v", req)
	}
}

// TestExcludeRegion verifies that the coarse region is removed everywhere
func TestExcludeRegion(t *testing.T) {
	ctx := gapFixture()
	region := models.NewMask(12, 12, 12)
	for z := 0; z < 12; z++ {
		for y := 0; y < 12; y++ {
			region.Set(1, y, z, 1)
		}
	}

	out, err := ExcludeRegion(ctx, region)
	if err != nil {
		t.Fatalf("ExcludeRegion failed: %v", err)
	}
	if out.ReferenceCenterline.Count() != 20 || out.Prediction.Count() != 19 {
		t.Errorf("Expected the first line removed, got %d and %d voxels",
			out.ReferenceCenterline.Count(), out.Prediction.Count())
	}
	if ctx.ReferenceCenterline.Count() != 30 {
		t.Errorf("ExcludeRegion modified its input")
	}
	if got := compute(t, FNGapErrors, Options{}, out); got != 1 {
		t.Errorf("Expected the gap to survive, got %f", got)
	}
}
