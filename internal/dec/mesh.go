package dec

import "fmt"

// NewLineMesh returns a uniform 1D complex on [0, length] with numNodes nodes
// embedded in the plane (y = 0).
func NewLineMesh(numNodes int, length float64) (*Complex, error) {
	if numNodes < 2 {
		return nil, fmt.Errorf("line mesh needs at least 2 nodes, got %d", numNodes)
	}
	if !(length > 0) {
		return nil, fmt.Errorf("line mesh length must be > 0, got %g", length)
	}
	coords := make([][]float64, numNodes)
	h := length / float64(numNodes-1)
	for i := range coords {
		coords[i] = []float64{float64(i) * h, 0}
	}
	edges := make([][]int, numNodes-1)
	for i := range edges {
		edges[i] = []int{i, i + 1}
	}
	return NewComplex(edges, coords)
}

// SquareMesh is a structured triangulation of [0,1]^2 with its boundary nodes.
type SquareMesh struct {
	Complex       *Complex
	BoundaryNodes []int
}

// NewUnitSquareMesh triangulates the unit square with n x n nodes, splitting
// every cell along its diagonal.
func NewUnitSquareMesh(n int) (SquareMesh, error) {
	if n < 2 {
		return SquareMesh{}, fmt.Errorf("square mesh needs at least 2 nodes per side, got %d", n)
	}
	h := 1 / float64(n-1)
	coords := make([][]float64, 0, n*n)
	var boundary []int
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			idx := j*n + i
			coords = append(coords, []float64{float64(i) * h, float64(j) * h})
			if i == 0 || j == 0 || i == n-1 || j == n-1 {
				boundary = append(boundary, idx)
			}
		}
	}
	tris := make([][]int, 0, 2*(n-1)*(n-1))
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			a := j*n + i
			b := a + 1
			c := a + n
			d := c + 1
			tris = append(tris, []int{a, b, d}, []int{a, d, c})
		}
	}
	cpx, err := NewComplex(tris, coords)
	if err != nil {
		return SquareMesh{}, err
	}
	return SquareMesh{Complex: cpx, BoundaryNodes: boundary}, nil
}
