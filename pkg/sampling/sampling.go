// Package sampling chooses the branches of a case that receive a synthetic
// defect.
//
// Every draw takes an explicit random source so that parallel cases stay
// reproducible from a single seed.
package sampling

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/topology"
)

// Policy filters and weights the candidates of mid-branch ablation
type Policy struct {
	// ExcludeShortBranches drops branches shorter than MinBranchLength
	ExcludeShortBranches bool

	// MinBranchLength is the shortest straight-line length, in voxels,
	// of a candidate branch
	MinBranchLength float64

	// MinGeneration excludes the trunk and main bronchi
	MinGeneration int
}

// DefaultPolicy returns the usual mid-branch policy
func DefaultPolicy() Policy {
	return Policy{
		ExcludeShortBranches: true,
		MinBranchLength:      6,
		MinGeneration:        4,
	}
}

// Weight returns the sampling weight of a branch of the given generation
func (p Policy) Weight(generation int) float64 {
	return float64(generation - p.MinGeneration + 1)
}

// MidBranchCandidates returns the branches eligible for mid-branch ablation,
// in table order.
func MidBranchCandidates(c *topology.Case, policy Policy) []models.BranchRecord {
	var out []models.BranchRecord
	for _, b := range c.Branches {
		if policy.ExcludeShortBranches && b.SegmentLength() < policy.MinBranchLength {
			continue
		}
		if b.Generation < policy.MinGeneration {
			continue
		}
		out = append(out, b)
	}
	return out
}

// MidBranch draws floor(p*n) of the n mid-branch candidates without
// replacement, weighting deeper generations more heavily. The result is
// sorted by branch id.
func MidBranch(c *topology.Case, p float64, policy Policy, src rand.Source) ([]models.BranchRecord, error) {
	candidates := MidBranchCandidates(c, policy)
	k, err := drawCount(p, len(candidates))
	if err != nil {
		return nil, err
	}
	if k == 0 {
		return nil, nil
	}

	weights := make([]float64, len(candidates))
	for i, b := range candidates {
		w := policy.Weight(b.Generation)
		if w <= 0 {
			return nil, fmt.Errorf("%w: branch %d of generation %d has non-positive weight %g",
				models.ErrSampling, b.ID, b.Generation, w)
		}
		weights[i] = w
	}

	sampler := sampleuv.NewWeighted(weights, src)
	out := make([]models.BranchRecord, 0, k)
	for range k {
		idx, ok := sampler.Take()
		if !ok {
			return nil, fmt.Errorf("%w: weighted draw exhausted after %d of %d branches",
				models.ErrSampling, len(out), k)
		}
		out = append(out, candidates[idx])
	}

	sortByID(out)
	return out, nil
}

// Terminal draws floor(p*n) of the n terminal branches uniformly without
// replacement. The result is sorted by branch id.
func Terminal(c *topology.Case, p float64, src rand.Source) ([]models.BranchRecord, error) {
	candidates := c.Terminals()
	k, err := drawCount(p, len(candidates))
	if err != nil {
		return nil, err
	}
	if k == 0 {
		return nil, nil
	}

	idxs := make([]int, k)
	sampleuv.WithoutReplacement(idxs, len(candidates), src)

	out := make([]models.BranchRecord, k)
	for i, idx := range idxs {
		out[i] = candidates[idx]
	}

	sortByID(out)
	return out, nil
}

// drawCount validates the proportion and returns floor(p*n)
func drawCount(p float64, n int) (int, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: proportion %g outside [0, 1]", models.ErrSampling, p)
	}
	k := int(math.Floor(p * float64(n)))
	if k > n {
		return 0, fmt.Errorf("%w: %d draws requested from %d candidates", models.ErrSampling, k, n)
	}
	return k, nil
}

func sortByID(bs []models.BranchRecord) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
}
