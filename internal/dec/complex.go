package dec

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// MaxDim is the highest simplex dimension supported by the operators.
const MaxDim = 2

var (
	ErrEmptyComplex     = errors.New("complex has no simplices")
	ErrUnsupportedDim   = errors.New("unsupported complex dimension")
	ErrDegenerateVolume = errors.New("degenerate simplex volume")
)

// Complex is an oriented simplicial complex together with the metric data
// (primal/dual volumes and diagonal Hodge stars) needed by cochain operators.
// It is immutable after construction and safe for concurrent readers.
type Complex struct {
	Dim         int
	EmbeddedDim int
	NodeCoords  [][]float64

	// Simplices[k] lists the k-simplices as sorted vertex ids.
	Simplices [][][]int
	// Boundary[k] maps k-chains to (k-1)-chains (k >= 1). Boundary[0] is nil.
	Boundary []*mat.Dense

	PrimalVolumes [][]float64
	// DualVolumes[k] holds the volume of the (Dim-k)-dimensional dual cell of
	// every k-simplex (barycentric subdivision).
	DualVolumes [][]float64
	// HodgeStar[k] holds the diagonal of the primal k Hodge star.
	HodgeStar [][]float64
}

// NewComplex builds a complex from its top-dimensional simplices and node
// coordinates. Every node index in [0, len(coords)) becomes a 0-simplex.
func NewComplex(top [][]int, coords [][]float64) (*Complex, error) {
	if len(top) == 0 || len(coords) == 0 {
		return nil, ErrEmptyComplex
	}
	dim := len(top[0]) - 1
	if dim < 1 || dim > MaxDim {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedDim, dim)
	}
	embedded := len(coords[0])
	for i, c := range coords {
		if len(c) != embedded {
			return nil, fmt.Errorf("node %d has %d coordinates, want %d", i, len(c), embedded)
		}
	}

	c := &Complex{
		Dim:         dim,
		EmbeddedDim: embedded,
		NodeCoords:  coords,
		Simplices:   make([][][]int, dim+1),
		Boundary:    make([]*mat.Dense, dim+1),
	}

	sortedTop := make([][]int, 0, len(top))
	for i, s := range top {
		if len(s) != dim+1 {
			return nil, fmt.Errorf("simplex %d has %d vertices, want %d", i, len(s), dim+1)
		}
		verts := append([]int(nil), s...)
		sort.Ints(verts)
		for _, v := range verts {
			if v < 0 || v >= len(coords) {
				return nil, fmt.Errorf("simplex %d references node %d outside [0,%d)", i, v, len(coords))
			}
		}
		sortedTop = append(sortedTop, verts)
	}
	sortSimplices(sortedTop)
	c.Simplices[dim] = sortedTop

	for k := dim; k >= 1; k-- {
		var faces [][]int
		if k-1 == 0 {
			faces = make([][]int, len(coords))
			for i := range coords {
				faces[i] = []int{i}
			}
		} else {
			seen := make(map[string]struct{})
			for _, s := range c.Simplices[k] {
				for i := range s {
					face := removeVertex(s, i)
					key := simplexKey(face)
					if _, ok := seen[key]; ok {
						continue
					}
					seen[key] = struct{}{}
					faces = append(faces, face)
				}
			}
			sortSimplices(faces)
		}
		c.Simplices[k-1] = faces

		index := make(map[string]int, len(faces))
		for i, f := range faces {
			index[simplexKey(f)] = i
		}
		b := mat.NewDense(len(faces), len(c.Simplices[k]), nil)
		for j, s := range c.Simplices[k] {
			for i := range s {
				row := index[simplexKey(removeVertex(s, i))]
				sign := 1.0
				if i%2 == 1 {
					sign = -1
				}
				b.Set(row, j, sign)
			}
		}
		c.Boundary[k] = b
	}

	if err := c.computeMetric(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Complex) NumNodes() int {
	return len(c.Simplices[0])
}

// NumSimplices returns the number of k-simplices, or 0 when k is out of range.
func (c *Complex) NumSimplices(k int) int {
	if k < 0 || k > c.Dim {
		return 0
	}
	return len(c.Simplices[k])
}

func (c *Complex) computeMetric() error {
	c.PrimalVolumes = make([][]float64, c.Dim+1)
	c.DualVolumes = make([][]float64, c.Dim+1)
	c.HodgeStar = make([][]float64, c.Dim+1)

	for k := 0; k <= c.Dim; k++ {
		vols := make([]float64, len(c.Simplices[k]))
		for i, s := range c.Simplices[k] {
			v := c.simplexVolume(s)
			if k > 0 && !(v > 0) {
				return fmt.Errorf("%w: %d-simplex %v", ErrDegenerateVolume, k, s)
			}
			vols[i] = v
		}
		c.PrimalVolumes[k] = vols
		c.DualVolumes[k] = make([]float64, len(vols))
	}

	// Top simplices are dual to points.
	for i := range c.DualVolumes[c.Dim] {
		c.DualVolumes[c.Dim][i] = 1
	}

	switch c.Dim {
	case 1:
		for j, e := range c.Simplices[1] {
			half := c.PrimalVolumes[1][j] / 2
			c.DualVolumes[0][e[0]] += half
			c.DualVolumes[0][e[1]] += half
		}
	case 2:
		edgeIndex := make(map[string]int, len(c.Simplices[1]))
		for i, e := range c.Simplices[1] {
			edgeIndex[simplexKey(e)] = i
		}
		for j, t := range c.Simplices[2] {
			third := c.PrimalVolumes[2][j] / 3
			for _, v := range t {
				c.DualVolumes[0][v] += third
			}
			bary := c.barycenter(t)
			for i := range t {
				e := removeVertex(t, i)
				mid := c.barycenter(e)
				c.DualVolumes[1][edgeIndex[simplexKey(e)]] += distance(bary, mid)
			}
		}
	}

	for k := 0; k <= c.Dim; k++ {
		star := make([]float64, len(c.Simplices[k]))
		for i := range star {
			star[i] = c.DualVolumes[k][i] / c.PrimalVolumes[k][i]
		}
		c.HodgeStar[k] = star
	}
	return nil
}

func (c *Complex) simplexVolume(s []int) float64 {
	switch len(s) {
	case 1:
		return 1
	case 2:
		return distance(c.NodeCoords[s[0]], c.NodeCoords[s[1]])
	case 3:
		a := sub(c.NodeCoords[s[1]], c.NodeCoords[s[0]])
		b := sub(c.NodeCoords[s[2]], c.NodeCoords[s[0]])
		aa, bb, ab := dot(a, a), dot(b, b), dot(a, b)
		g := aa*bb - ab*ab
		if g < 0 {
			g = 0
		}
		return math.Sqrt(g) / 2
	default:
		return math.NaN()
	}
}

func (c *Complex) barycenter(s []int) []float64 {
	out := make([]float64, c.EmbeddedDim)
	for _, v := range s {
		for d, x := range c.NodeCoords[v] {
			out[d] += x
		}
	}
	for d := range out {
		out[d] /= float64(len(s))
	}
	return out
}

func removeVertex(s []int, i int) []int {
	out := make([]int, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

func simplexKey(s []int) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func sortSimplices(ss [][]int) {
	sort.Slice(ss, func(i, j int) bool {
		a, b := ss[i], ss[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func distance(a, b []float64) float64 {
	d := sub(a, b)
	return math.Sqrt(dot(d, d))
}
