// Package morphology implements the binary mask operations used around the
// defect injector and the metrics engine: dilation, connected components,
// voxelwise set operations and thresholding.
package morphology

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"airwaydefects/internal/models"
)

// Structure is a 3x3x3 structuring element
type Structure int

const (
	// Cross connects the six face neighbours
	Cross Structure = iota

	// Cube connects all 26 neighbours
	Cube
)

// offset is a neighbour displacement in voxels
type offset struct {
	dx, dy, dz int
}

// CheckConnectivity accepts 6, 18 and 26
func CheckConnectivity(connectivity int) error {
	_, err := neighbourhood(connectivity)
	return err
}

// neighbourhood returns the displacements of a 6-, 18- or 26-connected
// neighbourhood, excluding the center.
func neighbourhood(connectivity int) ([]offset, error) {
	var maxNonZero int
	switch connectivity {
	case 6:
		maxNonZero = 1
	case 18:
		maxNonZero = 2
	case 26:
		maxNonZero = 3
	default:
		return nil, fmt.Errorf("%w: connectivity %d (valid: 6, 18, 26)", models.ErrConfiguration, connectivity)
	}

	var out []offset
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				n := abs(dx) + abs(dy) + abs(dz)
				if n == 0 || n > maxNonZero {
					continue
				}
				out = append(out, offset{dx, dy, dz})
			}
		}
	}
	return out, nil
}

func (s Structure) connectivity() int {
	if s == Cube {
		return 26
	}
	return 6
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Dilate grows the set voxels of m by the structuring element, repeated
// iterations times. The input is left unchanged.
func Dilate(m *models.Mask, s Structure, iterations int) *models.Mask {
	out := binarize(m)
	if iterations <= 0 {
		return out
	}
	nbrs, _ := neighbourhood(s.connectivity())

	front := make([]int, 0)
	for i, v := range out.Data {
		if v > 0 {
			front = append(front, i)
		}
	}

	// each iteration only needs to grow from voxels added by the previous one
	for range iterations {
		var next []int
		for _, idx := range front {
			x, y, z := out.Coords(idx)
			for _, o := range nbrs {
				nx, ny, nz := x+o.dx, y+o.dy, z+o.dz
				if !out.InBounds(nx, ny, nz) {
					continue
				}
				j := out.Index(nx, ny, nz)
				if out.Data[j] == 0 {
					out.Data[j] = 1
					next = append(next, j)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		front = next
	}
	return out
}

// Components returns the connected components of the set voxels of m, each
// as a sorted list of flat voxel indices. Components are ordered by their
// first voxel index.
func Components(m *models.Mask, connectivity int) ([][]int, error) {
	nbrs, err := neighbourhood(connectivity)
	if err != nil {
		return nil, err
	}

	var (
		w    traverse.BreadthFirst
		comp []graph.Node
		out  [][]int
	)
	during := func(n graph.Node) {
		comp = append(comp, n)
	}
	after := func() {
		out = append(out, nodeIndices(comp))
		comp = comp[:0]
	}
	w.WalkAll(voxelGraph{m: m, nbrs: nbrs}, nil, after, during)

	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

func nodeIndices(nodes []graph.Node) []int {
	idxs := make([]int, len(nodes))
	for i, n := range nodes {
		idxs[i] = int(n.ID())
	}
	sort.Ints(idxs)
	return idxs
}

// CountComponents returns the number of connected components of m
func CountComponents(m *models.Mask, connectivity int) (int, error) {
	comps, err := Components(m, connectivity)
	if err != nil {
		return 0, err
	}
	return len(comps), nil
}

// Label returns a label volume where background is 0 and components are
// numbered from 1 in the order of Components, plus the number of components.
func Label(m *models.Mask, connectivity int) ([]int32, int, error) {
	comps, err := Components(m, connectivity)
	if err != nil {
		return nil, 0, err
	}
	labels := make([]int32, len(m.Data))
	for i, comp := range comps {
		for _, idx := range comp {
			labels[idx] = int32(i + 1)
		}
	}
	return labels, len(comps), nil
}

// LargestComponent keeps only the biggest connected component of m. Ties go
// to the component with the lowest voxel index. An empty mask stays empty.
func LargestComponent(m *models.Mask, connectivity int) (*models.Mask, error) {
	comps, err := Components(m, connectivity)
	if err != nil {
		return nil, err
	}
	out := models.NewMaskLike(m)
	best := -1
	for i, comp := range comps {
		if best < 0 || len(comp) > len(comps[best]) {
			best = i
		}
	}
	if best >= 0 {
		for _, idx := range comps[best] {
			out.Data[idx] = 1
		}
	}
	return out, nil
}

// Multiply returns the voxelwise intersection of a and b
func Multiply(a, b *models.Mask) (*models.Mask, error) {
	return combine(a, b, func(x, y bool) bool { return x && y })
}

// Subtract clears the voxels of a that are set in b. Other values of a,
// including IgnoreLabel, are kept.
func Subtract(a, b *models.Mask) (*models.Mask, error) {
	if err := a.CheckShape(b); err != nil {
		return nil, err
	}
	out := models.NewMaskLike(a)
	for i, v := range a.Data {
		if b.Data[i] <= 0 {
			out.Data[i] = v
		}
	}
	return out, nil
}

// Merge returns the voxelwise union of a and b
func Merge(a, b *models.Mask) (*models.Mask, error) {
	return combine(a, b, func(x, y bool) bool { return x || y })
}

func combine(a, b *models.Mask, op func(x, y bool) bool) (*models.Mask, error) {
	if err := a.CheckShape(b); err != nil {
		return nil, err
	}
	out := models.NewMaskLike(a)
	for i := range out.Data {
		if op(a.Data[i] > 0, b.Data[i] > 0) {
			out.Data[i] = 1
		}
	}
	return out, nil
}

// Threshold binarizes a volume: voxels strictly above thr are set
func Threshold(v *models.Volume, thr float64) *models.Mask {
	out := &models.Mask{
		Data:    make([]int8, len(v.Data)),
		NX:      v.NX,
		NY:      v.NY,
		NZ:      v.NZ,
		Spacing: v.Spacing,
		Meta:    v.Meta,
	}
	for i, val := range v.Data {
		if val > thr {
			out.Data[i] = 1
		}
	}
	return out
}

// binarize copies m with every positive voxel set to 1 and everything else 0
func binarize(m *models.Mask) *models.Mask {
	out := models.NewMaskLike(m)
	for i, v := range m.Data {
		if v > 0 {
			out.Data[i] = 1
		}
	}
	return out
}

// voxelGraph is the undirected graph of the set voxels of a mask. Node ids
// are flat voxel indices and edges join set voxels within the neighbourhood.
// Nodes and edges are computed on demand from the mask.
type voxelGraph struct {
	m    *models.Mask
	nbrs []offset
}

var _ graph.Undirected = voxelGraph{}

func (g voxelGraph) set(id int64) bool {
	return id >= 0 && id < int64(len(g.m.Data)) && g.m.Data[id] > 0
}

// Node returns the voxel with the given flat index if it is set
func (g voxelGraph) Node(id int64) graph.Node {
	if !g.set(id) {
		return nil
	}
	return simple.Node(id)
}

// Nodes iterates the set voxels in index order
func (g voxelGraph) Nodes() graph.Nodes {
	n := 0
	for _, v := range g.m.Data {
		if v > 0 {
			n++
		}
	}
	if n == 0 {
		return graph.Empty
	}
	return &voxelNodes{data: g.m.Data, total: n, pos: -1}
}

// From returns the set neighbours of the voxel id
func (g voxelGraph) From(id int64) graph.Nodes {
	if !g.set(id) {
		return graph.Empty
	}
	it := &neighbourNodes{pos: -1}
	x, y, z := g.m.Coords(int(id))
	for _, o := range g.nbrs {
		nx, ny, nz := x+o.dx, y+o.dy, z+o.dz
		if !g.m.InBounds(nx, ny, nz) {
			continue
		}
		j := g.m.Index(nx, ny, nz)
		if g.m.Data[j] > 0 {
			it.ids[it.n] = int64(j)
			it.n++
		}
	}
	return it
}

// HasEdgeBetween reports whether both voxels are set and adjacent
func (g voxelGraph) HasEdgeBetween(xid, yid int64) bool {
	if xid == yid || !g.set(xid) || !g.set(yid) {
		return false
	}
	ax, ay, az := g.m.Coords(int(xid))
	bx, by, bz := g.m.Coords(int(yid))
	for _, o := range g.nbrs {
		if ax+o.dx == bx && ay+o.dy == by && az+o.dz == bz {
			return true
		}
	}
	return false
}

// Edge returns the edge between uid and vid, or nil when they are not adjacent
func (g voxelGraph) Edge(uid, vid int64) graph.Edge {
	if !g.HasEdgeBetween(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}

// EdgeBetween is Edge; the graph is undirected
func (g voxelGraph) EdgeBetween(xid, yid int64) graph.Edge {
	return g.Edge(xid, yid)
}

// voxelNodes iterates the set voxels of a flat mask
type voxelNodes struct {
	data  []int8
	total int
	seen  int
	pos   int
}

func (it *voxelNodes) Next() bool {
	for it.pos+1 < len(it.data) {
		it.pos++
		if it.data[it.pos] > 0 {
			it.seen++
			return true
		}
	}
	it.pos = len(it.data)
	return false
}

func (it *voxelNodes) Len() int { return it.total - it.seen }

func (it *voxelNodes) Reset() {
	it.pos = -1
	it.seen = 0
}

func (it *voxelNodes) Node() graph.Node {
	if it.pos < 0 || it.pos >= len(it.data) {
		return nil
	}
	return simple.Node(it.pos)
}

// neighbourNodes iterates at most 26 neighbour ids
type neighbourNodes struct {
	ids [26]int64
	n   int
	pos int
}

func (it *neighbourNodes) Next() bool {
	if it.pos+1 >= it.n {
		it.pos = it.n
		return false
	}
	it.pos++
	return true
}

func (it *neighbourNodes) Len() int {
	if it.pos >= it.n {
		return 0
	}
	return it.n - it.pos - 1
}

func (it *neighbourNodes) Reset() { it.pos = -1 }

func (it *neighbourNodes) Node() graph.Node {
	if it.pos < 0 || it.pos >= it.n {
		return nil
	}
	return simple.Node(it.ids[it.pos])
}
