package evo

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"stgp/internal/dataset"
	"stgp/internal/fitness"
	"stgp/internal/gp"
)

func testGrammar(t *testing.T) *gp.Grammar {
	t.Helper()
	cat, err := gp.DefaultCatalog(1)
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	g, err := gp.NewGrammar(gp.Scalar, gp.Arg{Name: "x", Type: gp.Scalar})
	if err != nil {
		t.Fatalf("new grammar: %v", err)
	}
	if err := g.AddSelections(cat, gp.Selection{Family: "AddF"}, gp.Selection{Family: "MulF"}, gp.Selection{Family: "SubF"}); err != nil {
		t.Fatalf("add selections: %v", err)
	}
	if err := g.AddEphemeral("const", func(rng *rand.Rand) float64 { return float64(rng.Intn(3)) }); err != nil {
		t.Fatalf("add ephemeral: %v", err)
	}
	g.Freeze()
	return g
}

// lengthScorer rewards short trees. Validation samples are marked by a
// negative first target and score a constant, so validation never improves.
type lengthScorer struct {
	calls atomic.Int64
	fail  string
}

func (s *lengthScorer) Evaluate(ind *gp.Individual, samples []dataset.Sample) (fitness.Result, error) {
	s.calls.Add(1)
	if s.fail != "" && ind.Tree.String() == s.fail {
		return fitness.Result{}, errors.New("solver exploded")
	}
	if samples[0].Target[0] < 0 {
		return fitness.Result{Fitness: 5, MSE: 5, Param: ind.Param}, nil
	}
	f := float64(ind.Tree.Len())
	return fitness.Result{Fitness: f, MSE: f, Param: ind.Param + 1, ParamFitted: true}, nil
}

var (
	trainSamples = []dataset.Sample{{Target: []float64{1}}}
	valSamples   = []dataset.Sample{{Target: []float64{-1}}}
)

func testMonitorConfig(t *testing.T, scorer Scorer) MonitorConfig {
	g := testGrammar(t)
	limit := gp.StaticLimit{}
	return MonitorConfig{
		Grammar: g,
		Variator: gp.Variator{
			Crossover: limit.Crossover(gp.CxOnePoint),
			Mutation:  limit.Mutation(gp.MutUniform(gp.ExprSpec{Method: gp.Grow, Min: 0, Max: 2})),
			CXPB:      0.5,
			MUTPB:     0.2,
		},
		Init:           gp.ExprSpec{Method: gp.HalfAndHalf, Min: 1, Max: 3},
		Selector:       TournamentSelector{Size: 3},
		Evaluator:      ParallelEvaluator{Scorer: scorer, Jobs: 3, Splits: 4},
		Train:          trainSamples,
		Val:            valSamples,
		PopulationSize: 12,
		Generations:    5,
		FracElitist:    0.2,
	}
}

func TestMonitorRunTracksBest(t *testing.T) {
	for _, overlapping := range []bool{false, true} {
		cfg := testMonitorConfig(t, &lengthScorer{})
		cfg.Overlapping = overlapping
		var seen []int
		cfg.OnGeneration = func(d GenerationDiagnostics) { seen = append(seen, d.Generation) }
		m, err := NewMonitor(cfg)
		if err != nil {
			t.Fatalf("new monitor: %v", err)
		}
		res, err := m.Run(context.Background(), 7)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(res.FinalPopulation) != cfg.PopulationSize {
			t.Fatalf("final population=%d, want %d", len(res.FinalPopulation), cfg.PopulationSize)
		}
		if len(res.History.Train) != cfg.Generations+1 || len(seen) != cfg.Generations+1 {
			t.Fatalf("history=%d observed=%d, want %d", len(res.History.Train), len(seen), cfg.Generations+1)
		}
		if len(res.History.Val) != 0 {
			t.Fatalf("unexpected validation history without early stopping: %v", res.History.Val)
		}
		for i := 1; i < len(res.History.Train); i++ {
			if res.History.Train[i] > res.History.Train[i-1] {
				t.Fatalf("elitist train history increased: %v", res.History.Train)
			}
		}
		last := res.History.Train[len(res.History.Train)-1]
		if res.Best == nil || res.Best.Fitness != last {
			t.Fatalf("best %v does not match final history %g", res.Best, last)
		}
		if res.History.Train[res.BestGeneration] != last {
			t.Fatalf("best generation %d has fitness %g, want %g", res.BestGeneration, res.History.Train[res.BestGeneration], last)
		}
		for _, ind := range res.FinalPopulation {
			if !ind.Valid {
				t.Fatalf("final individual %s not evaluated", ind.Tree)
			}
			if ind.Tree.Height() > gp.DefaultMaxHeight {
				t.Fatalf("individual %s exceeds height limit", ind.Tree)
			}
		}
	}
}

func TestMonitorRunIsReproducible(t *testing.T) {
	run := func() RunResult {
		m, err := NewMonitor(testMonitorConfig(t, &lengthScorer{}))
		if err != nil {
			t.Fatalf("new monitor: %v", err)
		}
		res, err := m.Run(context.Background(), 99)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	for i := range a.FinalPopulation {
		if a.FinalPopulation[i].Tree.String() != b.FinalPopulation[i].Tree.String() {
			t.Fatalf("individual %d differs between equal seeds", i)
		}
	}
}

func TestMonitorEarlyStopping(t *testing.T) {
	cfg := testMonitorConfig(t, &lengthScorer{})
	cfg.Generations = 20
	cfg.EarlyStopping = EarlyStopping{Enabled: true, MaxOverfit: 2}
	m, err := NewMonitor(cfg)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	res, err := m.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.EarlyStopped || res.Generations != 3 {
		t.Fatalf("stopped=%v after %d generations, want stop after 3", res.EarlyStopped, res.Generations)
	}
	if res.BestGeneration != 0 {
		t.Fatalf("best generation=%d, want 0", res.BestGeneration)
	}
	if len(res.History.Val) != 4 || len(res.History.ValMSE) != 4 || res.History.Val[0] != 5 {
		t.Fatalf("unexpected validation history %+v", res.History)
	}
}

func TestMonitorSeedsPopulation(t *testing.T) {
	cfg := testMonitorConfig(t, &lengthScorer{})
	seed, err := cfg.Grammar.Parse("MulF(x, x)")
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	cfg.Seed = []gp.Tree{seed}
	cfg.Generations = 0
	m, err := NewMonitor(cfg)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	res, err := m.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	first := res.FinalPopulation[0]
	if first.Tree.String() != "MulF(x, x)" || first.Fitness != 3 || first.Param != 2 {
		t.Fatalf("unexpected seeded individual %s", first.Describe())
	}
}

func TestMonitorAbortsOnEvaluationError(t *testing.T) {
	cfg := testMonitorConfig(t, &lengthScorer{fail: "MulF(x, x)"})
	seed, err := cfg.Grammar.Parse("MulF(x, x)")
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	cfg.Seed = []gp.Tree{seed}
	m, err := NewMonitor(cfg)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := m.Run(context.Background(), 1); err == nil {
		t.Fatal("expected evaluation error to abort the run")
	}
}

func TestNewMonitorValidatesConfig(t *testing.T) {
	cfg := testMonitorConfig(t, &lengthScorer{})
	cfg.Val = nil
	cfg.EarlyStopping.Enabled = true
	if _, err := NewMonitor(cfg); err == nil {
		t.Fatal("expected error for early stopping without validation samples")
	}
	cfg = testMonitorConfig(t, &lengthScorer{})
	cfg.PopulationSize = 0
	if _, err := NewMonitor(cfg); err == nil {
		t.Fatal("expected error for empty population")
	}
}

// refitScorer fits a distinct parameter on validation samples.
type refitScorer struct {
	lengthScorer
}

func (s *refitScorer) Evaluate(ind *gp.Individual, samples []dataset.Sample) (fitness.Result, error) {
	if samples[0].Target[0] < 0 {
		return fitness.Result{Fitness: 5, MSE: 5, Param: 42, ParamFitted: true}, nil
	}
	return s.lengthScorer.Evaluate(ind, samples)
}

func TestMonitorValidationRefitIsNotWrittenBack(t *testing.T) {
	cfg := testMonitorConfig(t, &refitScorer{})
	cfg.Generations = 2
	cfg.EarlyStopping = EarlyStopping{Enabled: true, MaxOverfit: 5}
	m, err := NewMonitor(cfg)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	res, err := m.Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Best.Param == 42 {
		t.Fatalf("validation fit leaked into the best individual: %s", res.Best.Describe())
	}
	for _, ind := range res.FinalPopulation {
		if ind.Param == 42 {
			t.Fatalf("validation fit leaked into %s", ind.Describe())
		}
	}
}
