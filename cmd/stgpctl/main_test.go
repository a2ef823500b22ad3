package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stgp/internal/stats"
)

const smallPoissonYAML = `
gp:
  NINDIVIDUALS: 6
  NGEN: 2
  frac_elitist: 0.2
  max_: 3
  seed:
    - "AddF(MulF(0.5, InnP1(dP0(u), dP0(u))), InnP0(u, fk))"
mp:
  n_jobs: 2
  n_splits: 3
problem:
  name: poisson
  mesh_size: 4
  mult: 3
  diff: 2
  solver:
    max_iterations: 60
    max_func_evals: 4000
run:
  seed: 11
  top_k: 3
`

func runSmallPoisson(t *testing.T, extra ...string) (dbPath, artifacts string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "poisson.yaml")
	if err := os.WriteFile(cfgPath, []byte(smallPoissonYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	dbPath = filepath.Join(dir, "stgp.db")
	artifacts = filepath.Join(dir, "runs")
	args := append([]string{
		"run",
		"--config", cfgPath,
		"--store", "sqlite",
		"--db-path", dbPath,
		"--artifacts-dir", artifacts,
		"--log-level", "warn",
	}, extra...)

	var out bytes.Buffer
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatalf("run command: %v", err)
	}
	if !strings.Contains(out.String(), "run completed run_id=") || !strings.Contains(out.String(), "best=") {
		t.Fatalf("unexpected run output: %s", out.String())
	}
	return dbPath, artifacts
}

func TestRunCommandSQLiteCreatesArtifacts(t *testing.T) {
	dbPath, artifacts := runSmallPoisson(t)
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}
	entries, err := stats.ListRunIndex(artifacts)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].Problem != "poisson" || entries[0].Seed != 11 {
		t.Fatalf("unexpected run index %+v", entries)
	}
	for _, file := range []string{"config.json", "run.json", "best_ind.txt", "fitness_history.json", "generation_diagnostics.json", "top_individuals.json"} {
		if _, err := os.Stat(filepath.Join(artifacts, entries[0].RunID, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}
}

func TestQueryCommandsReadPersistedRun(t *testing.T) {
	dbPath, _ := runSmallPoisson(t, "--gens", "3")
	storeArgs := []string{"--store", "sqlite", "--db-path", dbPath}
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, append([]string{"runs"}, storeArgs...), &out); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out.String(), "problem=poisson") || !strings.Contains(out.String(), "seed=11") {
		t.Fatalf("unexpected runs output: %s", out.String())
	}

	out.Reset()
	if err := run(ctx, append([]string{"history", "--latest", "--limit", "2"}, storeArgs...), &out); err != nil {
		t.Fatalf("history command: %v", err)
	}
	if !strings.Contains(out.String(), "generation=1") || strings.Contains(out.String(), "generation=2") {
		t.Fatalf("unexpected history output: %s", out.String())
	}

	out.Reset()
	if err := run(ctx, append([]string{"diagnostics", "--latest", "--json"}, storeArgs...), &out); err != nil {
		t.Fatalf("diagnostics command: %v", err)
	}
	var diagnostics []map[string]any
	if err := json.Unmarshal(out.Bytes(), &diagnostics); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if len(diagnostics) != 4 {
		t.Fatalf("diagnostics=%d, want 4 generations", len(diagnostics))
	}

	out.Reset()
	if err := run(ctx, append([]string{"top", "--latest"}, storeArgs...), &out); err != nil {
		t.Fatalf("top command: %v", err)
	}
	if strings.Count(out.String(), "rank=") != 3 {
		t.Fatalf("unexpected top output: %s", out.String())
	}

	if err := run(ctx, append([]string{"history"}, storeArgs...), &out); err == nil {
		t.Fatal("expected error without --run-id or --latest")
	}
}

func TestPrimitivesAndOperatorsCommands(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"primitives", "--problem", "elastica"}, &out); err != nil {
		t.Fatalf("primitives command: %v", err)
	}
	if !strings.Contains(out.String(), "InnD0(CochainD0, CochainD0) -> float") {
		t.Fatalf("unexpected primitives output: %s", out.String())
	}

	out.Reset()
	if err := run(context.Background(), []string{"operators"}, &out); err != nil {
		t.Fatalf("operators command: %v", err)
	}
	if !strings.Contains(out.String(), "cxOnePoint") || !strings.Contains(out.String(), "mutUniform") {
		t.Fatalf("unexpected operators output: %s", out.String())
	}
}

func TestEvalCommandScoresReferenceEnergy(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "poisson.yaml")
	if err := os.WriteFile(cfgPath, []byte(smallPoissonYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), []string{"eval", "--config", cfgPath, "--penalty", "none", "--log-level", "error"}, &out); err != nil {
		t.Fatalf("eval command: %v", err)
	}
	if !strings.Contains(out.String(), "train fitness=") || !strings.Contains(out.String(), "test mse=") {
		t.Fatalf("unexpected eval output: %s", out.String())
	}
}

func TestRunRejectsUnknownCommandAndLogFlags(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out); err == nil {
		t.Fatal("expected usage error without command")
	}
	if err := run(context.Background(), []string{"evolve"}, &out); err == nil {
		t.Fatal("expected usage error for unknown command")
	}
	if err := run(context.Background(), []string{"runs", "--log-format", "xml"}, &out); err == nil {
		t.Fatal("expected error for unknown log format")
	}
	if _, err := newLogger(&out, "json", "verbose"); err == nil {
		t.Fatal("expected error for unknown log level")
	}
	if _, err := newLogger(&out, "json", "debug"); err != nil {
		t.Fatalf("json logger: %v", err)
	}
}
