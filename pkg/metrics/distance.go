package metrics

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"airwaydefects/internal/models"
)

// point is a centerline voxel in physical coordinates
type point r3.Vector

// Compare implements the kdtree.Comparable interface
func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p point) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p point) Distance(c kdtree.Comparable) float64 {
	return r3.Vector(p).Sub(r3.Vector(c.(point))).Norm2()
}

// cloud is a set of points that satisfies kdtree.Interface
type cloud []point

func (c cloud) Index(i int) kdtree.Comparable         { return c[i] }
func (c cloud) Len() int                              { return len(c) }
func (c cloud) Slice(start, end int) kdtree.Interface { return c[start:end] }

// Pivot implements the kdtree.Interface method
func (c cloud) Pivot(d kdtree.Dim) int {
	plane := cloudPlane{cloud: c, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfRandoms(plane, 100))
}

// cloudPlane implements sort.Interface and kdtree.SortSlicer for cloud
type cloudPlane struct {
	cloud
	kdtree.Dim
}

func (p cloudPlane) Less(i, j int) bool {
	return p.cloud[i].Compare(p.cloud[j], p.Dim) < 0
}

func (p cloudPlane) Slice(start, end int) kdtree.SortSlicer {
	return cloudPlane{cloud: p.cloud[start:end], Dim: p.Dim}
}

func (p cloudPlane) Swap(i, j int) {
	p.cloud[i], p.cloud[j] = p.cloud[j], p.cloud[i]
}

// physicalPoints converts the set voxels of m to physical coordinates
func physicalPoints(m *models.Mask, spacing models.Spacing) cloud {
	var out cloud
	for idx, v := range m.Data {
		if v <= 0 {
			continue
		}
		x, y, z := m.Coords(idx)
		out = append(out, point{
			X: float64(x) * spacing.X,
			Y: float64(y) * spacing.Y,
			Z: float64(z) * spacing.Z,
		})
	}
	return out
}

// meanNearestDistance averages, over the query points, the distance to the
// closest target point. An empty query gives 0 and an empty target with a
// non-empty query gives +Inf.
func meanNearestDistance(query, target cloud) float64 {
	if len(query) == 0 {
		return 0
	}
	if len(target) == 0 {
		return math.Inf(1)
	}

	// the tree reorders its input
	tree := kdtree.New(append(cloud(nil), target...), false)
	dists := make([]float64, len(query))
	for i, q := range query {
		_, d2 := tree.Nearest(q)
		dists[i] = math.Sqrt(d2)
	}
	return stat.Mean(dists, nil)
}
