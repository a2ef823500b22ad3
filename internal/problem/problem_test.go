package problem

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"stgp/internal/dataset"
	"stgp/internal/dec"
	"stgp/internal/fitness"
	"stgp/internal/gp"
)

func TestBuildRejectsUnknownProblem(t *testing.T) {
	_, err := Build(Settings{Name: "heat"}, nil, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrUnknownProblem) {
		t.Fatalf("expected ErrUnknownProblem, got %v", err)
	}
	if got := Names(); len(got) != 2 || got[0] != "elastica" || got[1] != "poisson" {
		t.Fatalf("unexpected problem names %v", got)
	}
}

func TestPoissonSamplesFamilies(t *testing.T) {
	mesh, err := dec.NewUnitSquareMesh(4)
	if err != nil {
		t.Fatalf("mesh: %v", err)
	}
	samples, err := PoissonSamples(mesh, 2, 3)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 6 {
		t.Fatalf("samples=%d, want 6", len(samples))
	}
	// second quadratic: (x^2+y^2)/4 with constant forcing 1
	quad := samples[3]
	last := len(quad.Target) - 1
	if math.Abs(quad.Target[last]-0.5) > 1e-12 || quad.Forcing[0] != 1 {
		t.Fatalf("unexpected quadratic sample target=%g forcing=%g", quad.Target[last], quad.Forcing[0])
	}
	if len(quad.Boundary) != len(mesh.BoundaryNodes) {
		t.Fatalf("boundary values=%d, want %d", len(quad.Boundary), len(mesh.BoundaryNodes))
	}
	if _, err := PoissonSamples(mesh, 1, 4); err == nil {
		t.Fatal("expected error for four families")
	}
}

func TestPoissonReferenceBeatsUnboundedEnergy(t *testing.T) {
	inst, err := Build(Settings{Name: "poisson", MeshSize: 4, Mult: 1, Diff: 1, ValFrac: 0.01, TestFrac: 0.01}, nil, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ev, err := fitness.NewEvaluator(inst.Grammar, fitness.Config{Problem: inst.Problem, Solver: inst.Solver})
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	ref, err := inst.Grammar.Parse(inst.Reference)
	if err != nil {
		t.Fatalf("parse reference: %v", err)
	}
	good, err := ev.Evaluate(gp.NewIndividual(ref), inst.Data.Train)
	if err != nil {
		t.Fatalf("evaluate reference: %v", err)
	}
	linear, err := inst.Grammar.Parse("InnP0(u, fk)")
	if err != nil {
		t.Fatalf("parse linear: %v", err)
	}
	bad, err := ev.Evaluate(gp.NewIndividual(linear), inst.Data.Train)
	if err != nil {
		t.Fatalf("evaluate linear: %v", err)
	}
	if !(good.Fitness < bad.Fitness) {
		t.Fatalf("reference fitness %g not below unbounded energy %g", good.Fitness, bad.Fitness)
	}
	if bad.Fitness != fitness.DefaultSentinel {
		t.Fatalf("unbounded energy fitness=%g, want sentinel", bad.Fitness)
	}
}

func TestElasticaGrammarHasMaskTerminal(t *testing.T) {
	inst, err := Build(Settings{Name: "elastica", Loads: []float64{2, 4, 6, 8, 10}}, nil, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	term, ok := inst.Grammar.Terminal("int_coch")
	if !ok {
		t.Fatal("missing int_coch terminal")
	}
	mask := term.Value.Cochain.Coeffs
	if mask[0] != 0 || mask[len(mask)-1] != 0 || mask[1] != 1 {
		t.Fatalf("unexpected interior mask %v", mask)
	}
	if got := inst.Problem.StateDim(); got != 9 {
		t.Fatalf("state dim=%d, want 9", got)
	}
	if inst.RoundDigits != 5 {
		t.Fatalf("round digits=%d, want 5", inst.RoundDigits)
	}
	for _, s := range inst.Data.Train {
		if len(s.Target) != 10 || s.Target[0] != 0 {
			t.Fatalf("unexpected elastica target %v", s.Target)
		}
	}
}

func TestElasticaReferenceWithTrueStiffness(t *testing.T) {
	inst, err := Build(Settings{Name: "elastica", Loads: []float64{2, 4, 6, 8, 10}}, nil, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ev, err := fitness.NewEvaluator(inst.Grammar, fitness.Config{Problem: inst.Problem, RoundDigits: inst.RoundDigits})
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	ref, err := inst.Grammar.Parse(inst.Reference)
	if err != nil {
		t.Fatalf("parse reference: %v", err)
	}
	ind := gp.NewIndividual(ref)
	ind.Param = defaultElasticaEI0
	res, err := ev.Test(ind, inst.Data.Train)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.MSE != 0 {
		t.Fatalf("reference with true stiffness mse=%g, want 0", res.MSE)
	}
}

func TestElasticaBilevelRecoversStiffness(t *testing.T) {
	inst, err := Build(Settings{Name: "elastica", Loads: []float64{2, 4, 6, 8, 10}}, nil, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ev, err := fitness.NewEvaluator(inst.Grammar, fitness.Config{Problem: inst.Problem, Bilevel: inst.Bilevel, RoundDigits: inst.RoundDigits})
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	ref, err := inst.Grammar.Parse(inst.Reference)
	if err != nil {
		t.Fatalf("parse reference: %v", err)
	}
	res, err := ev.Evaluate(gp.NewIndividual(ref), inst.Data.Train)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.ParamFitted || math.Abs(res.Param-defaultElasticaEI0) > 0.1 {
		t.Fatalf("fitted stiffness %+v, want near %g", res, defaultElasticaEI0)
	}
	if res.MSE > 1e-2 {
		t.Fatalf("mse=%g after bilevel fit", res.MSE)
	}
}

func writeSamplesCSV(t *testing.T, samples []dataset.Sample) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.csv")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create csv: %v", err)
	}
	defer file.Close()
	if err := dataset.WriteCSV(file, samples); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func repeatSample(s dataset.Sample, n int) []dataset.Sample {
	out := make([]dataset.Sample, n)
	for i := range out {
		out[i] = s.Clone()
	}
	return out
}

func TestBuildRejectsMisshapenSamples(t *testing.T) {
	mesh, err := dec.NewUnitSquareMesh(4)
	if err != nil {
		t.Fatalf("mesh: %v", err)
	}
	nodes := mesh.Complex.NumNodes()
	nb := len(mesh.BoundaryNodes)
	poisson := func(target, forcing, boundary int) dataset.Sample {
		return dataset.Sample{Target: make([]float64, target), Forcing: make([]float64, forcing), Boundary: make([]float64, boundary)}
	}
	elastica := func(target, forcing int) dataset.Sample {
		return dataset.Sample{Target: make([]float64, target), Forcing: make([]float64, forcing)}
	}

	cases := []struct {
		name     string
		settings Settings
		sample   dataset.Sample
		wantErr  bool
	}{
		{"poisson ok", Settings{Name: "poisson", MeshSize: 4}, poisson(nodes, nodes, nb), false},
		{"poisson short target", Settings{Name: "poisson", MeshSize: 4}, poisson(nodes-1, nodes, nb), true},
		{"poisson missing forcing", Settings{Name: "poisson", MeshSize: 4}, poisson(nodes, 0, nb), true},
		{"poisson short boundary", Settings{Name: "poisson", MeshSize: 4}, poisson(nodes, nodes, nb-1), true},
		{"elastica ok", Settings{Name: "elastica"}, elastica(10, 1), false},
		{"elastica missing forcing", Settings{Name: "elastica"}, elastica(10, 0), true},
		{"elastica long target", Settings{Name: "elastica"}, elastica(11, 1), true},
	}
	for _, tc := range cases {
		tc.settings.DatasetCSV = writeSamplesCSV(t, repeatSample(tc.sample, 5))
		_, err := Build(tc.settings, nil, rand.New(rand.NewSource(1)))
		if tc.wantErr {
			if !errors.Is(err, ErrSampleShape) {
				t.Fatalf("%s: expected ErrSampleShape, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: build: %v", tc.name, err)
		}
	}
}

func TestElasticaBilevelDefaultsOn(t *testing.T) {
	loads := []float64{2, 4, 6, 8, 10}
	inst, err := Build(Settings{Name: "elastica", Loads: loads}, nil, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !inst.Bilevel {
		t.Fatal("elastica should fit the stiffness by default")
	}
	off := false
	inst, err = Build(Settings{Name: "elastica", Loads: loads, Bilevel: &off}, nil, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if inst.Bilevel {
		t.Fatal("explicit bilevel=false was ignored")
	}
	inst, err = Build(Settings{Name: "poisson", MeshSize: 4, Mult: 1, Diff: 3}, nil, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("build poisson: %v", err)
	}
	if inst.Bilevel {
		t.Fatal("poisson has no parameter to fit")
	}
}
