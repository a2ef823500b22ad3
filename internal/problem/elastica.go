package problem

import (
	"fmt"
	"math"
	"math/rand"

	"stgp/internal/dataset"
	"stgp/internal/dec"
	"stgp/internal/fitness"
	"stgp/internal/gp"
)

// ElasticaReference is the bending energy of a clamped rod under an end
// load, with the load normalized by the bending stiffness.
const ElasticaReference = "SubF(MulF(0.5, InnP0(CMulP0(int_coch, StD1(dD0(theta))), StD1(dD0(theta)))), InnD0(FL2_EI0, SinD0(theta)))"

const (
	defaultElasticaNodes = 11
	defaultElasticaEI0   = 2.0
	defaultElasticaRound = 5
)

var defaultElasticaLoads = []float64{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}

// Elastica recovers the rotation angle of a discretized rod. The angle is a
// dual 0-cochain (one value per edge) whose first value is clamped to the
// sample's first target; Forcing[0] holds the load FL^2.
type Elastica struct {
	Complex *dec.Complex
	X0      []float64
}

func (e *Elastica) Name() string { return "elastica" }

func (e *Elastica) StateDim() int { return e.Complex.NumNodes() - 2 }

func (e *Elastica) InitialGuess() []float64 {
	return append([]float64(nil), e.X0...)
}

// Objective evaluates the energy at theta = [theta_in, x...] with the
// normalized load coupling = FL^2/EI0 spread over every edge.
func (e *Elastica) Objective(energy gp.Func, s dataset.Sample, coupling float64) func([]float64) float64 {
	load := dec.Constant(e.Complex, dec.Dual, 0, dec.RankScalar, coupling)
	return func(x []float64) float64 {
		theta := &dec.Cochain{
			Complex:  e.Complex,
			Category: dec.Dual,
			Dim:      0,
			Rank:     dec.RankScalar,
			Coeffs:   e.Field(x, s),
		}
		return energy([]gp.Value{gp.CochainValue(theta), gp.CochainValue(load)}).Scalar
	}
}

func (e *Elastica) Field(x []float64, s dataset.Sample) []float64 {
	out := make([]float64, 0, len(x)+1)
	out = append(out, s.Target[0])
	return append(out, x...)
}

func (e *Elastica) Coupling(s dataset.Sample, ei0 float64) float64 {
	return s.Forcing[0] / ei0
}

func (e *Elastica) Param(s dataset.Sample, coupling float64) float64 {
	return s.Forcing[0] / coupling
}

// InteriorMask is the primal 0-cochain that is 1 on interior nodes and 0 on
// the two ends.
func InteriorMask(cpx *dec.Complex) *dec.Cochain {
	mask := dec.Constant(cpx, dec.Primal, 0, dec.RankScalar, 1)
	mask.Coeffs[0] = 0
	mask.Coeffs[len(mask.Coeffs)-1] = 0
	return mask
}

// ElasticaSamples solves the reference energy for every load and clamped
// angle with stiffness ei0.
func ElasticaSamples(prb *Elastica, g *gp.Grammar, solver fitness.Solver, loads, thetaIn []float64, ei0 float64) ([]dataset.Sample, error) {
	if len(loads) == 0 || len(thetaIn) == 0 {
		return nil, fmt.Errorf("elastica dataset needs loads and clamped angles")
	}
	if ei0 == 0 {
		return nil, fmt.Errorf("elastica stiffness must be non-zero")
	}
	tree, err := g.Parse(ElasticaReference)
	if err != nil {
		return nil, fmt.Errorf("parse reference energy: %w", err)
	}
	energy, err := g.Compile(tree)
	if err != nil {
		return nil, fmt.Errorf("compile reference energy: %w", err)
	}
	var out []dataset.Sample
	for _, angle := range thetaIn {
		for _, load := range loads {
			s := dataset.Sample{Target: []float64{angle}, Forcing: []float64{load}}
			x, fval := solver.Minimize(prb.Objective(energy, s, prb.Coupling(s, ei0)), prb.InitialGuess())
			if !isFinite(fval) {
				return nil, fmt.Errorf("reference solve diverged for load %g", load)
			}
			s.Target = prb.Field(x, s)
			out = append(out, s)
		}
	}
	return out, nil
}

func buildElastica(s Settings, sels []gp.Selection, rng *rand.Rand) (*Instance, error) {
	cpx, err := dec.NewLineMesh(withDefaultInt(s.MeshSize, defaultElasticaNodes), 1)
	if err != nil {
		return nil, err
	}
	if cpx.NumNodes() < 3 {
		return nil, fmt.Errorf("elastica needs at least 3 nodes, got %d", cpx.NumNodes())
	}
	if len(sels) == 0 {
		sels = DefaultSelections("elastica")
	}
	d0 := gp.CochainType(dec.Dual, 0, dec.RankScalar)
	g, err := newGrammar(cpx.Dim, sels, gp.Arg{Name: "theta", Type: d0}, gp.Arg{Name: "FL2_EI0", Type: d0})
	if err != nil {
		return nil, err
	}
	p0 := gp.CochainType(dec.Primal, 0, dec.RankScalar)
	if err := g.AddConstant("int_coch", p0, gp.CochainValue(InteriorMask(cpx))); err != nil {
		return nil, err
	}
	g.Freeze()

	prb := &Elastica{Complex: cpx, X0: randomGuess(rng, cpx.NumNodes()-2, 0.1)}
	loads := s.Loads
	if len(loads) == 0 {
		loads = defaultElasticaLoads
	}
	thetaIn := s.ThetaIn
	if len(thetaIn) == 0 {
		thetaIn = []float64{0}
	}
	var samples []dataset.Sample
	if s.DatasetCSV == "" {
		samples, err = ElasticaSamples(prb, g, fitness.NewSolver(s.Solver), loads, thetaIn, withDefault(s.EI0, defaultElasticaEI0))
		if err != nil {
			return nil, err
		}
	}
	s.ValFrac = withDefault(s.ValFrac, 0.2)
	s.TestFrac = withDefault(s.TestFrac, 0.2)
	shape := sampleShape{target: cpx.NumNodes() - 1, forcing: 1}
	data, err := splitSamples(s, samples, shape, rng)
	if err != nil {
		return nil, err
	}
	return &Instance{
		Problem:     prb,
		Grammar:     g,
		Data:        data,
		Reference:   ElasticaReference,
		Bilevel:     boolOr(s.Bilevel, true),
		RoundDigits: withDefaultInt(s.RoundDigits, defaultElasticaRound),
		Solver:      s.Solver,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
