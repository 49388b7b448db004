package morphology

import (
	"errors"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"airwaydefects/internal/models"
)

// TestNeighbourhoodSizes verifies the number of neighbours per connectivity
func TestNeighbourhoodSizes(t *testing.T) {
	for conn, want := range map[int]int{6: 6, 18: 18, 26: 26} {
		nbrs, err := neighbourhood(conn)
		if err != nil {
			t.Fatalf("neighbourhood(%d) failed: %v", conn, err)
		}
		if len(nbrs) != want {
			t.Errorf("connectivity %d: expected %d neighbours, got %d", conn, want, len(nbrs))
		}
	}
	if err := CheckConnectivity(8); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

// TestDilate verifies the growth of a single voxel
func TestDilate(t *testing.T) {
	m := models.NewMask(7, 7, 7)
	m.Set(3, 3, 3, 1)

	tests := []struct {
		name       string
		s          Structure
		iterations int
		want       int
	}{
		{"none", Cross, 0, 1},
		{"cross once", Cross, 1, 7},
		{"cross twice", Cross, 2, 25},
		{"cube once", Cube, 1, 27},
		{"cube twice", Cube, 2, 125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dilate(m, tt.s, tt.iterations)
			if got.Count() != tt.want {
				t.Errorf("Expected %d voxels, got %d", tt.want, got.Count())
			}
		})
	}

	if m.Count() != 1 {
		t.Errorf("Dilate modified its input")
	}

	// clamped at the border
	corner := models.NewMask(4, 4, 4)
	corner.Set(0, 0, 0, 1)
	if got := Dilate(corner, Cube, 1).Count(); got != 8 {
		t.Errorf("Expected 8 voxels at the corner, got %d", got)
	}
}

// TestComponents verifies connectivity-dependent labeling
func TestComponents(t *testing.T) {
	m := models.NewMask(5, 5, 5)
	// two voxels touching by a corner only
	m.Set(1, 1, 1, 1)
	m.Set(2, 2, 2, 1)
	// a separate straight run
	m.Set(4, 0, 0, 1)
	m.Set(4, 1, 0, 1)
	m.Set(4, 2, 0, 1)

	tests := []struct {
		conn int
		want int
	}{
		{6, 3},
		{18, 3},
		{26, 2},
	}
	for _, tt := range tests {
		n, err := CountComponents(m, tt.conn)
		if err != nil {
			t.Fatalf("CountComponents failed: %v", err)
		}
		if n != tt.want {
			t.Errorf("connectivity %d: expected %d components, got %d", tt.conn, tt.want, n)
		}
	}

	comps, err := Components(m, 26)
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	want := [][]int{
		{m.Index(4, 0, 0), m.Index(4, 1, 0), m.Index(4, 2, 0)},
		{m.Index(1, 1, 1), m.Index(2, 2, 2)},
	}
	if diff := cmp.Diff(want, comps); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}

	labels, n, err := Label(m, 26)
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if n != 2 || labels[m.Index(4, 1, 0)] != 1 || labels[m.Index(2, 2, 2)] != 2 || labels[0] != 0 {
		t.Errorf("Unexpected labels, n=%d", n)
	}

	if n, _ := CountComponents(models.NewMask(3, 3, 3), 26); n != 0 {
		t.Errorf("Expected no components in an empty mask, got %d", n)
	}
}

// TestComponentsLargeVolume verifies labeling of a solid block of a
// quarter million voxels stays within a bounded allocation
func TestComponentsLargeVolume(t *testing.T) {
	if testing.Short() {
		t.Skip("large volume")
	}
	const n = 64
	m := models.NewMask(n, n, n)
	// a 60^3 block plus a detached single-voxel-thick slab at z = 63
	for z := 0; z < 60; z++ {
		for y := 0; y < 60; y++ {
			for x := 0; x < 60; x++ {
				m.Set(x, y, z, 1)
			}
		}
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			m.Set(x, y, n-1, 1)
		}
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	comps, err := Components(m, 26)
	runtime.ReadMemStats(&after)
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}

	if len(comps) != 2 {
		t.Fatalf("Expected 2 components, got %d", len(comps))
	}
	if len(comps[0]) != 60*60*60 || len(comps[1]) != n*n {
		t.Errorf("Expected component sizes %d and %d, got %d and %d",
			60*60*60, n*n, len(comps[0]), len(comps[1]))
	}
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 400<<20 {
		t.Errorf("Expected at most 400 MiB allocated, got %d MiB", alloc>>20)
	}
}

// TestVoxelGraphEdges verifies adjacency follows the neighbourhood
func TestVoxelGraphEdges(t *testing.T) {
	m := models.NewMask(3, 3, 3)
	m.Set(0, 0, 0, 1)
	m.Set(1, 1, 1, 1)
	m.Set(1, 0, 0, 1)
	a, b, c := int64(m.Index(0, 0, 0)), int64(m.Index(1, 1, 1)), int64(m.Index(1, 0, 0))
	empty := int64(m.Index(2, 2, 2))

	tests := []struct {
		conn int
		x, y int64
		want bool
	}{
		{6, a, c, true},
		{6, a, b, false},
		{26, a, b, true},
		{26, a, a, false},
		{26, a, empty, false},
	}
	for _, tt := range tests {
		nbrs, err := neighbourhood(tt.conn)
		if err != nil {
			t.Fatalf("neighbourhood failed: %v", err)
		}
		g := voxelGraph{m: m, nbrs: nbrs}
		if got := g.HasEdgeBetween(tt.x, tt.y); got != tt.want {
			t.Errorf("connectivity %d: edge %d-%d expected %v, got %v", tt.conn, tt.x, tt.y, tt.want, got)
		}
		if got := g.EdgeBetween(tt.x, tt.y) != nil; got != tt.want {
			t.Errorf("connectivity %d: EdgeBetween %d-%d expected %v, got %v", tt.conn, tt.x, tt.y, tt.want, got)
		}
	}

	nbrs, _ := neighbourhood(26)
	g := voxelGraph{m: m, nbrs: nbrs}
	if got := g.Nodes().Len(); got != 3 {
		t.Errorf("Expected 3 nodes, got %d", got)
	}
	if got := g.From(a).Len(); got != 2 {
		t.Errorf("Expected 2 neighbours, got %d", got)
	}
	if g.Node(empty) != nil {
		t.Errorf("Expected no node at an unset voxel")
	}
}

// TestLargestComponent verifies that only the biggest component survives
func TestLargestComponent(t *testing.T) {
	m := models.NewMask(6, 6, 6)
	for x := 0; x < 4; x++ {
		m.Set(x, 5, 5, 1)
	}
	m.Set(0, 0, 0, 1)
	m.Set(1, 0, 0, 1)
	m.Meta = "header"

	out, err := LargestComponent(m, 26)
	if err != nil {
		t.Fatalf("LargestComponent failed: %v", err)
	}
	if out.Count() != 4 || out.At(0, 0, 0) != 0 || out.At(3, 5, 5) != 1 {
		t.Errorf("Expected only the 4-voxel run, got %d voxels", out.Count())
	}
	if out.Meta != "header" {
		t.Errorf("Expected metadata to be carried over")
	}
}

// TestSetOperations verifies intersection, difference and union
func TestSetOperations(t *testing.T) {
	a := models.NewMask(4, 1, 1)
	b := models.NewMask(4, 1, 1)
	copy(a.Data, []int8{1, 1, 0, 0})
	copy(b.Data, []int8{1, 0, 1, models.IgnoreLabel})

	mul, _ := Multiply(a, b)
	sub, _ := Subtract(a, b)
	mrg, _ := Merge(a, b)

	if diff := cmp.Diff([]int8{1, 0, 0, 0}, mul.Data); diff != "" {
		t.Errorf("Multiply mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int8{0, 1, 0, 0}, sub.Data); diff != "" {
		t.Errorf("Subtract mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int8{1, 1, 1, 0}, mrg.Data); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}

	if _, err := Merge(a, models.NewMask(2, 2, 1)); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for mismatched shapes, got %v", err)
	}
}

// TestThreshold verifies that only values strictly above the threshold are set
func TestThreshold(t *testing.T) {
	v := &models.Volume{
		Data: []float64{0.1, 0.5, 0.51, 0.9},
		NX:   4, NY: 1, NZ: 1,
		Spacing: models.Spacing{X: 0.6, Y: 0.6, Z: 1},
	}
	m := Threshold(v, 0.5)
	if diff := cmp.Diff([]int8{0, 0, 1, 1}, m.Data); diff != "" {
		t.Errorf("Threshold mismatch (-want +got):\n%s", diff)
	}
	if m.Spacing != v.Spacing {
		t.Errorf("Expected spacing to be carried over")
	}
}
