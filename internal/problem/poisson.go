package problem

import (
	"fmt"
	"math"
	"math/rand"

	"stgp/internal/dataset"
	"stgp/internal/dec"
	"stgp/internal/gp"
)

// PoissonReference is the Dirichlet energy whose minimizer solves
// laplacian(u) = f.
const PoissonReference = "AddF(MulF(0.5, InnP1(dP0(u), dP0(u))), InnP0(u, fk))"

const (
	defaultPoissonMesh  = 8
	defaultPoissonGamma = 1000.0
)

// Poisson recovers nodal fields on the unit square from their forcing. The
// Dirichlet data enters the energy as a quadratic penalty on the boundary
// nodes.
type Poisson struct {
	Mesh  dec.SquareMesh
	Gamma float64
	X0    []float64
}

func (p *Poisson) Name() string { return "poisson" }

func (p *Poisson) StateDim() int { return p.Mesh.Complex.NumNodes() }

func (p *Poisson) InitialGuess() []float64 {
	return append([]float64(nil), p.X0...)
}

func (p *Poisson) Objective(energy gp.Func, s dataset.Sample, _ float64) func([]float64) float64 {
	cpx := p.Mesh.Complex
	fk := p0Cochain(cpx, s.Forcing)
	return func(x []float64) float64 {
		u := p0Cochain(cpx, x)
		penalty := 0.0
		for i, node := range p.Mesh.BoundaryNodes {
			d := x[node] - s.Boundary[i]
			penalty += d * d
		}
		return energy([]gp.Value{gp.CochainValue(u), gp.CochainValue(fk)}).Scalar + 0.5*p.Gamma*penalty
	}
}

func (p *Poisson) Field(x []float64, _ dataset.Sample) []float64 {
	return append([]float64(nil), x...)
}

// PoissonSamples builds mult samples of each of diff families: quadratic,
// trigonometric and power fields with their exact laplacians.
func PoissonSamples(mesh dec.SquareMesh, mult, diff int) ([]dataset.Sample, error) {
	if mult < 1 || diff < 1 || diff > 3 {
		return nil, fmt.Errorf("invalid poisson dataset size mult=%d diff=%d", mult, diff)
	}
	coords := mesh.Complex.NodeCoords
	n := len(coords)
	field := func(f func(x, y float64) float64) []float64 {
		out := make([]float64, n)
		for k, c := range coords {
			out[k] = f(c[0], c[1])
		}
		return out
	}
	sample := func(target, forcing []float64) dataset.Sample {
		bnd := make([]float64, len(mesh.BoundaryNodes))
		for i, node := range mesh.BoundaryNodes {
			bnd[i] = target[node]
		}
		return dataset.Sample{Target: target, Forcing: forcing, Boundary: bnd}
	}

	var out []dataset.Sample
	for i := 0; i < mult; i++ {
		fi := float64(i)
		scale := 1 / ((fi + 1) * (fi + 1))
		out = append(out, sample(
			field(func(x, y float64) float64 { return scale * (x*x + y*y) }),
			field(func(x, y float64) float64 { return 4 * scale }),
		))
		if diff >= 2 {
			out = append(out, sample(
				field(func(x, y float64) float64 { return math.Cos(fi*x) + math.Sin(fi*y) }),
				field(func(x, y float64) float64 { return -fi * fi * (math.Cos(fi*x) + math.Sin(fi*y)) }),
			))
		}
		if diff >= 3 {
			out = append(out, sample(
				field(func(x, y float64) float64 { return math.Pow(x, fi+2) + math.Pow(y, fi+2) }),
				field(func(x, y float64) float64 {
					return (fi + 2) * (fi + 1) * (math.Pow(x, fi) + math.Pow(y, fi))
				}),
			))
		}
	}
	return out, nil
}

func buildPoisson(s Settings, sels []gp.Selection, rng *rand.Rand) (*Instance, error) {
	mesh, err := dec.NewUnitSquareMesh(withDefaultInt(s.MeshSize, defaultPoissonMesh))
	if err != nil {
		return nil, err
	}
	if len(sels) == 0 {
		sels = DefaultSelections("poisson")
	}
	p0 := gp.CochainType(dec.Primal, 0, dec.RankScalar)
	g, err := newGrammar(mesh.Complex.Dim, sels, gp.Arg{Name: "u", Type: p0}, gp.Arg{Name: "fk", Type: p0})
	if err != nil {
		return nil, err
	}
	g.Freeze()

	samples, err := PoissonSamples(mesh, withDefaultInt(s.Mult, 3), withDefaultInt(s.Diff, 3))
	if err != nil {
		return nil, err
	}
	s.ValFrac = withDefault(s.ValFrac, 0.2)
	s.TestFrac = withDefault(s.TestFrac, 0.2)
	n := mesh.Complex.NumNodes()
	shape := sampleShape{target: n, forcing: n, boundary: len(mesh.BoundaryNodes)}
	data, err := splitSamples(s, samples, shape, rng)
	if err != nil {
		return nil, err
	}
	prb := &Poisson{
		Mesh:  mesh,
		Gamma: withDefault(s.Gamma, defaultPoissonGamma),
		X0:    randomGuess(rng, mesh.Complex.NumNodes(), 0.01),
	}
	return &Instance{
		Problem:     prb,
		Grammar:     g,
		Data:        data,
		Reference:   PoissonReference,
		RoundDigits: s.RoundDigits,
		Solver:      s.Solver,
	}, nil
}

func p0Cochain(cpx *dec.Complex, coeffs []float64) *dec.Cochain {
	return &dec.Cochain{Complex: cpx, Category: dec.Primal, Dim: 0, Rank: dec.RankScalar, Coeffs: coeffs}
}
