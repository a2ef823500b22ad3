package stgp

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"stgp/internal/dataset"
	"stgp/internal/fitness"
	"stgp/internal/problem"
)

func smallPoissonConfig() Config {
	cfg := DefaultConfig()
	cfg.GP.NIndividuals = 6
	cfg.GP.NGen = 2
	cfg.GP.FracElitist = 0.2
	cfg.GP.Max = 3
	cfg.GP.Seed = []string{problem.PoissonReference}
	cfg.MP = MPConfig{NJobs: 2, NSplits: 3}
	cfg.Problem = problem.Settings{
		Name:     "poisson",
		MeshSize: 4,
		Mult:     3,
		Diff:     2,
		Solver:   fitness.SolverSettings{MaxIterations: 60, MaxFuncEvals: 4000},
	}
	cfg.Run.Seed = 7
	cfg.Run.TopK = 3
	return cfg
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	artifacts := filepath.Join(t.TempDir(), "runs")
	client, err := New(Options{StoreKind: "memory", ArtifactsDir: artifacts})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, artifacts
}

func TestClientRunPersistsAndWritesArtifacts(t *testing.T) {
	ctx := context.Background()
	client, artifacts := newTestClient(t)
	cfg := smallPoissonConfig()

	summary, err := client.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := uuid.Parse(summary.RunID); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", summary.RunID, err)
	}
	if summary.Problem != "poisson" || summary.Generations != cfg.GP.NGen {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.History.Train) != cfg.GP.NGen+1 {
		t.Fatalf("history length=%d, want %d", len(summary.History.Train), cfg.GP.NGen+1)
	}
	if last := summary.History.Train[len(summary.History.Train)-1]; last != summary.BestFitness {
		t.Fatalf("final history %g does not match best fitness %g", last, summary.BestFitness)
	}
	if summary.BestFitness >= fitness.DefaultSentinel {
		t.Fatalf("seeded reference energy should beat the sentinel, got %g", summary.BestFitness)
	}
	if math.IsNaN(summary.TestMSE) || summary.TestMSE < 0 {
		t.Fatalf("unexpected test mse %g", summary.TestMSE)
	}
	if summary.ArtifactsDir != filepath.Join(artifacts, summary.RunID) {
		t.Fatalf("unexpected artifacts dir %s", summary.ArtifactsDir)
	}
	for _, file := range []string{"config.json", "best_ind.txt", "fitness_history.csv", "best_sol_test_0.txt", "true_sol_test_0.txt"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}

	runs, err := client.Runs(ctx, 5)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != summary.RunID || runs[0].BestExpression != summary.BestExpression {
		t.Fatalf("unexpected runs %+v", runs)
	}

	history, err := client.FitnessHistory(ctx, RunRef{Latest: true})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.Train) != len(summary.History.Train) {
		t.Fatalf("stored history %v, want %v", history.Train, summary.History.Train)
	}
	diagnostics, err := client.Diagnostics(ctx, RunRef{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diagnostics) != cfg.GP.NGen+1 || diagnostics[0].Evaluations != cfg.GP.NIndividuals {
		t.Fatalf("unexpected diagnostics %+v", diagnostics)
	}
	top, err := client.TopIndividuals(ctx, RunRef{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("top individuals: %v", err)
	}
	if len(top) != cfg.Run.TopK || top[0].Fitness != summary.BestFitness {
		t.Fatalf("unexpected top individuals %+v", top)
	}
	for i := 1; i < len(top); i++ {
		if top[i].Fitness < top[i-1].Fitness {
			t.Fatalf("top individuals not ranked: %+v", top)
		}
	}
}

func TestClientRunStageErrors(t *testing.T) {
	client, _ := newTestClient(t)
	cases := []struct {
		name   string
		mutate func(*Config)
		stage  string
	}{
		{"invalid population", func(c *Config) { c.GP.NIndividuals = 0 }, StageConfig},
		{"unknown problem", func(c *Config) { c.Problem.Name = "heat" }, StageConfig},
		{"unknown penalty", func(c *Config) { c.GP.Penalty.Method = "depth" }, StageConfig},
		{"unknown crossover", func(c *Config) { c.GP.Crossover.Fun = "cxTwoPoint" }, StageConfig},
		{"bad seed", func(c *Config) { c.GP.Seed = []string{"AddF(u, fk)"} }, StageGrammar},
		{"unknown primitive", func(c *Config) { c.GP.Primitives = []PrimitiveConfig{{Name: "Grad"}} }, StageGrammar},
	}
	for _, tc := range cases {
		cfg := smallPoissonConfig()
		tc.mutate(&cfg)
		_, err := client.Run(context.Background(), cfg)
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			t.Fatalf("%s: expected StageError, got %v", tc.name, err)
		}
		if stageErr.Stage != tc.stage {
			t.Fatalf("%s: stage=%s, want %s (%v)", tc.name, stageErr.Stage, tc.stage, err)
		}
	}
}

func TestClientEvaluateRecoversElasticaStiffness(t *testing.T) {
	client, _ := newTestClient(t)
	cfg := DefaultConfig()
	cfg.GP.Penalty.Method = "none"
	cfg.Problem = problem.Settings{Name: "elastica"}

	res, err := client.Evaluate(context.Background(), cfg, problem.ElasticaReference)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Train.ParamFitted || math.Abs(res.Train.Param-2) > 0.1 {
		t.Fatalf("fitted param=%g (fitted=%v), want about 2", res.Train.Param, res.Train.ParamFitted)
	}
	if res.Train.MSE > 1e-2 {
		t.Fatalf("train mse=%g, want < 1e-2", res.Train.MSE)
	}
	if res.Test == nil || res.Test.MSE > 1e-2 {
		t.Fatalf("unexpected test result %+v", res.Test)
	}
}

func TestClientPrimitives(t *testing.T) {
	client, _ := newTestClient(t)
	cfg := smallPoissonConfig()
	prims, err := client.Primitives(cfg)
	if err != nil {
		t.Fatalf("primitives: %v", err)
	}
	found := false
	for _, p := range prims {
		if p.Name == "InnP0" {
			found = true
			if len(p.In) != 2 || p.In[0] != "CochainP0" || p.Out != "float" {
				t.Fatalf("unexpected InnP0 signature %+v", p)
			}
		}
	}
	if !found {
		t.Fatalf("InnP0 missing from %+v", prims)
	}
}

func TestClientRunRefValidation(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := client.FitnessHistory(ctx, RunRef{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected error for run id with latest")
	}
	if _, err := client.FitnessHistory(ctx, RunRef{}); err == nil {
		t.Fatal("expected error without run reference")
	}
	if _, err := client.Diagnostics(ctx, RunRef{Latest: true}); err == nil {
		t.Fatal("expected error with no stored runs")
	}
	if _, err := client.TopIndividuals(ctx, RunRef{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestClientEvaluateRejectsMisshapenDataset(t *testing.T) {
	client, _ := newTestClient(t)
	samples := make([]dataset.Sample, 5)
	for i := range samples {
		samples[i] = dataset.Sample{Target: make([]float64, 10)}
	}
	path := filepath.Join(t.TempDir(), "targets_only.csv")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create csv: %v", err)
	}
	if err := dataset.WriteCSV(file, samples); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Problem = problem.Settings{Name: "elastica", DatasetCSV: path}
	_, err = client.Evaluate(context.Background(), cfg, problem.ElasticaReference)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageDataset {
		t.Fatalf("expected dataset stage error, got %v", err)
	}
	if !errors.Is(err, problem.ErrSampleShape) {
		t.Fatalf("expected ErrSampleShape, got %v", err)
	}
}
