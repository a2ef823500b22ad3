package dec

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type Category int

const (
	Primal Category = iota
	Dual
)

func (c Category) Letter() string {
	if c == Dual {
		return "D"
	}
	return "P"
}

// Flip returns the opposite category.
func (c Category) Flip() Category {
	if c == Dual {
		return Primal
	}
	return Dual
}

type Rank int

const (
	RankScalar Rank = iota
	RankVector
	RankTensor
)

// Suffix is the name suffix used for the rank in operator names.
func (r Rank) Suffix() string {
	switch r {
	case RankVector:
		return "V"
	case RankTensor:
		return "T"
	default:
		return ""
	}
}

var ErrShape = errors.New("cochain shape mismatch")

// Cochain is a discrete field attached to the k-simplices of a complex
// (primal) or to the cells dual to its (n-k)-simplices (dual). Coefficients
// are stored row-major, Width() values per cell.
type Cochain struct {
	Complex  *Complex
	Category Category
	Dim      int
	Rank     Rank
	Coeffs   []float64
}

// NewCochain validates the coefficient count against the complex.
func NewCochain(c *Complex, cat Category, dim int, rank Rank, coeffs []float64) (*Cochain, error) {
	if c == nil {
		return nil, ErrEmptyComplex
	}
	if dim < 0 || dim > c.Dim {
		return nil, fmt.Errorf("%w: dimension %d outside [0,%d]", ErrShape, dim, c.Dim)
	}
	out := &Cochain{Complex: c, Category: cat, Dim: dim, Rank: rank}
	if want := out.NumCells() * out.Width(); len(coeffs) != want {
		return nil, fmt.Errorf("%w: %d coefficients, want %d", ErrShape, len(coeffs), want)
	}
	out.Coeffs = coeffs
	return out, nil
}

// Zeros returns a zero cochain of the given type.
func Zeros(c *Complex, cat Category, dim int, rank Rank) *Cochain {
	out := &Cochain{Complex: c, Category: cat, Dim: dim, Rank: rank}
	out.Coeffs = make([]float64, out.NumCells()*out.Width())
	return out
}

// Constant returns a cochain whose every coefficient equals v.
func Constant(c *Complex, cat Category, dim int, rank Rank, v float64) *Cochain {
	out := Zeros(c, cat, dim, rank)
	for i := range out.Coeffs {
		out.Coeffs[i] = v
	}
	return out
}

// NumCells is the number of cells carrying coefficients.
func (x *Cochain) NumCells() int {
	if x.Category == Dual {
		return x.Complex.NumSimplices(x.Complex.Dim - x.Dim)
	}
	return x.Complex.NumSimplices(x.Dim)
}

func (x *Cochain) Width() int {
	e := x.Complex.EmbeddedDim
	switch x.Rank {
	case RankVector:
		return e
	case RankTensor:
		return e * e
	default:
		return 1
	}
}

func (x *Cochain) String() string {
	return fmt.Sprintf("Cochain%s%d%s%v", x.Category.Letter(), x.Dim, x.Rank.Suffix(), x.Coeffs)
}

func (x *Cochain) like(coeffs []float64) *Cochain {
	return &Cochain{Complex: x.Complex, Category: x.Category, Dim: x.Dim, Rank: x.Rank, Coeffs: coeffs}
}

func (x *Cochain) sameShape(y *Cochain) {
	if x.Complex != y.Complex || x.Category != y.Category || x.Dim != y.Dim || x.Rank != y.Rank {
		panic(fmt.Sprintf("%v: %s vs %s", ErrShape, x.typeName(), y.typeName()))
	}
}

func (x *Cochain) typeName() string {
	return fmt.Sprintf("%s%d%s", x.Category.Letter(), x.Dim, x.Rank.Suffix())
}

// Clone returns a deep copy of the coefficients.
func (x *Cochain) Clone() *Cochain {
	return x.like(append([]float64(nil), x.Coeffs...))
}

func Add(x, y *Cochain) *Cochain {
	x.sameShape(y)
	out := make([]float64, len(x.Coeffs))
	for i := range out {
		out[i] = x.Coeffs[i] + y.Coeffs[i]
	}
	return x.like(out)
}

func Sub(x, y *Cochain) *Cochain {
	x.sameShape(y)
	out := make([]float64, len(x.Coeffs))
	for i := range out {
		out[i] = x.Coeffs[i] - y.Coeffs[i]
	}
	return x.like(out)
}

// Scale multiplies every coefficient by a.
func Scale(a float64, x *Cochain) *Cochain {
	out := make([]float64, len(x.Coeffs))
	for i, v := range x.Coeffs {
		out[i] = a * v
	}
	return x.like(out)
}

// Mul is the elementwise product of two cochains of equal type.
func Mul(x, y *Cochain) *Cochain {
	x.sameShape(y)
	out := make([]float64, len(x.Coeffs))
	for i := range out {
		out[i] = x.Coeffs[i] * y.Coeffs[i]
	}
	return x.like(out)
}

// Apply maps f over every coefficient.
func Apply(f func(float64) float64, x *Cochain) *Cochain {
	out := make([]float64, len(x.Coeffs))
	for i, v := range x.Coeffs {
		out[i] = f(v)
	}
	return x.like(out)
}

func Square(x *Cochain) *Cochain {
	return Apply(func(v float64) float64 { return v * v }, x)
}

// Coboundary is the discrete exterior derivative. It raises the dimension by
// one and is undefined on top-dimensional cochains. On dual cochains it is
// (-1)^(n-k) times the primal boundary of the underlying (n-k)-simplices.
func Coboundary(x *Cochain) *Cochain {
	c := x.Complex
	n := c.Dim
	if x.Dim >= n {
		panic(fmt.Sprintf("%v: coboundary of %s", ErrShape, x.typeName()))
	}
	out := &Cochain{Complex: c, Category: x.Category, Dim: x.Dim + 1, Rank: x.Rank}
	w := x.Width()
	src := mat.NewDense(x.NumCells(), w, x.Coeffs)
	var dst mat.Dense
	if x.Category == Primal {
		dst.Mul(c.Boundary[x.Dim+1].T(), src)
	} else {
		dst.Mul(c.Boundary[n-x.Dim], src)
		if (n-x.Dim)%2 == 1 {
			dst.Scale(-1, &dst)
		}
	}
	out.Coeffs = denseData(&dst, out.NumCells(), w)
	return out
}

// Star is the diagonal Hodge star, mapping a k-cochain to an (n-k)-cochain of
// the opposite category. Star(Star(x)) = (-1)^{k(n-k)} x.
func Star(x *Cochain) *Cochain {
	c := x.Complex
	n := c.Dim
	out := &Cochain{Complex: c, Category: x.Category.Flip(), Dim: n - x.Dim, Rank: x.Rank}
	w := x.Width()
	coeffs := make([]float64, len(x.Coeffs))
	if x.Category == Primal {
		star := c.HodgeStar[x.Dim]
		for i := range star {
			for j := 0; j < w; j++ {
				coeffs[i*w+j] = x.Coeffs[i*w+j] * star[i]
			}
		}
	} else {
		k := x.Dim
		star := c.HodgeStar[n-k]
		sign := 1.0
		if (k*(n-k))%2 == 1 {
			sign = -1
		}
		for i := range star {
			for j := 0; j < w; j++ {
				coeffs[i*w+j] = sign * x.Coeffs[i*w+j] / star[i]
			}
		}
	}
	out.Coeffs = coeffs
	return out
}

// Codifferential is the adjoint of the coboundary, (-1)^{n(k+1)+1} * d *,
// lowering the dimension by one.
func Codifferential(x *Cochain) *Cochain {
	if x.Dim == 0 {
		panic(fmt.Sprintf("%v: codifferential of %s", ErrShape, x.typeName()))
	}
	n := x.Complex.Dim
	out := Star(Coboundary(Star(x)))
	if (n*(x.Dim+1)+1)%2 == 1 {
		return Scale(-1, out)
	}
	return out
}

// Inner is the metric inner product of two cochains of equal type.
func Inner(x, y *Cochain) float64 {
	x.sameShape(y)
	c := x.Complex
	w := x.Width()
	var weights []float64
	if x.Category == Primal {
		weights = c.HodgeStar[x.Dim]
	} else {
		weights = c.HodgeStar[c.Dim-x.Dim]
	}
	total := 0.0
	for i, wt := range weights {
		s := 0.0
		for j := 0; j < w; j++ {
			s += x.Coeffs[i*w+j] * y.Coeffs[i*w+j]
		}
		if x.Category == Primal {
			total += s * wt
		} else {
			total += s / wt
		}
	}
	return total
}

// Trace sums the diagonal of every tensor coefficient block.
func Trace(x *Cochain) *Cochain {
	e := x.Complex.EmbeddedDim
	cells := x.NumCells()
	out := &Cochain{Complex: x.Complex, Category: x.Category, Dim: x.Dim, Rank: RankScalar}
	out.Coeffs = make([]float64, cells)
	for i := 0; i < cells; i++ {
		block := mat.NewDense(e, e, x.Coeffs[i*e*e:(i+1)*e*e])
		out.Coeffs[i] = mat.Trace(block)
	}
	return out
}

// Transpose transposes every tensor coefficient block.
func Transpose(x *Cochain) *Cochain {
	e := x.Complex.EmbeddedDim
	cells := x.NumCells()
	coeffs := make([]float64, len(x.Coeffs))
	for i := 0; i < cells; i++ {
		base := i * e * e
		for r := 0; r < e; r++ {
			for s := 0; s < e; s++ {
				coeffs[base+s*e+r] = x.Coeffs[base+r*e+s]
			}
		}
	}
	return x.like(coeffs)
}

// MatVec applies the tensor block of t to the vector of v on every cell.
func MatVec(v, t *Cochain) *Cochain {
	if v.Complex != t.Complex || v.Category != t.Category || v.Dim != t.Dim {
		panic(fmt.Sprintf("%v: %s vs %s", ErrShape, v.typeName(), t.typeName()))
	}
	e := v.Complex.EmbeddedDim
	cells := v.NumCells()
	coeffs := make([]float64, len(v.Coeffs))
	for i := 0; i < cells; i++ {
		block := mat.NewDense(e, e, t.Coeffs[i*e*e:(i+1)*e*e])
		vec := mat.NewVecDense(e, v.Coeffs[i*e:(i+1)*e])
		dst := mat.NewVecDense(e, coeffs[i*e:(i+1)*e])
		dst.MulVec(block, vec)
	}
	return v.like(coeffs)
}

// Finite reports whether every coefficient is finite.
func (x *Cochain) Finite() bool {
	for _, v := range x.Coeffs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func denseData(m *mat.Dense, rows, cols int) []float64 {
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = m.At(i, j)
		}
	}
	return out
}
