package storage

import (
	"context"
	"testing"
	"time"

	"stgp/internal/model"
)

func sampleRun(id string, started time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		Problem:         "poisson",
		Seed:            42,
		StartedAt:       started,
		FinishedAt:      started.Add(time.Minute),
		Population:      100,
		Generations:     20,
		BestGeneration:  17,
		BestExpression:  "InnP0(u, fk)",
		BestFitness:     0.25,
		BestParam:       1,
		TestMSE:         0.5,
	}
}

// exerciseStore runs the round trips shared by every backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.SaveRun(ctx, sampleRun("run-b", base.Add(time.Hour))); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-a", base)); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || run.BestExpression != "InnP0(u, fk)" || run.BestGeneration != 17 || !run.StartedAt.Equal(base) {
		t.Fatalf("unexpected run: %+v", run)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-a" || runs[1].ID != "run-b" {
		t.Fatalf("unexpected run order: %+v", runs)
	}

	history := model.FitnessHistory{Train: []float64{3, 2, 1}, Val: []float64{4, 4, 3}, ValMSE: []float64{4, 4, 3}}
	if err := store.SaveFitnessHistory(ctx, "run-a", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history.Train[0] = 99
	gotHistory, ok, err := store.GetFitnessHistory(ctx, "run-a")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok || len(gotHistory.Train) != 3 || gotHistory.Train[0] != 3 || gotHistory.Val[2] != 3 {
		t.Fatalf("unexpected history: %+v", gotHistory)
	}

	diagnostics := []model.GenerationDiagnostics{
		{Generation: 0, Evaluations: 100, MinFitness: 3, MeanFitness: 50, MaxFitness: 100, BestLength: 7},
		{Generation: 1, Evaluations: 61, MinFitness: 2, MeanFitness: 40, MaxFitness: 100, BestLength: 5},
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-a", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-a")
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if !ok || len(gotDiagnostics) != 2 || gotDiagnostics[1].Evaluations != 61 {
		t.Fatalf("unexpected diagnostics: %+v", gotDiagnostics)
	}

	top := []model.IndividualRecord{{VersionedRecord: CurrentVersion(), Rank: 0, Expression: "x", Fitness: 1, Length: 1, Height: 0}}
	if err := store.SaveTopIndividuals(ctx, "run-a", top); err != nil {
		t.Fatalf("save top: %v", err)
	}
	gotTop, ok, err := store.GetTopIndividuals(ctx, "run-a")
	if err != nil {
		t.Fatalf("get top: %v", err)
	}
	if !ok || len(gotTop) != 1 || gotTop[0].Expression != "x" {
		t.Fatalf("unexpected top individuals: %+v", gotTop)
	}
	if _, ok, err := store.GetTopIndividuals(ctx, "run-b"); err != nil || ok {
		t.Fatalf("expected no top individuals for run-b, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}
