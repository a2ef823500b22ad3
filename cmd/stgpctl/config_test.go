package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, "run.yaml", `
gp:
  NINDIVIDUALS: 12
  NGEN: 3
  frac_elitist: 0.25
  penalty:
    method: primitive
    reg_param: 0.002
  select:
    tournsize: 2
    stochastic_tournament:
      enabled: true
      prob: [0.6, 0.4]
  primitives:
    - name: Inn
      dimension: [0]
      rank: [SC]
  seed:
    - "AddF(MulF(0.5, InnP1(dP0(u), dP0(u))), InnP0(u, fk))"
problem:
  name: poisson
  mesh_size: 5
mp:
  n_jobs: 3
  n_splits: 6
  start_method: fork
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.GP.NIndividuals != 12 || cfg.GP.NGen != 3 || cfg.GP.FracElitist != 0.25 {
		t.Fatalf("unexpected gp fields: %+v", cfg.GP)
	}
	if cfg.GP.CXPB != 0.5 || cfg.GP.MaxHeight != 17 || cfg.GP.Crossover.Fun != "cxOnePoint" {
		t.Fatalf("defaults not preserved: %+v", cfg.GP)
	}
	if cfg.GP.Penalty.Method != "primitive" || cfg.GP.Penalty.RegParam != 0.002 {
		t.Fatalf("unexpected penalty %+v", cfg.GP.Penalty)
	}
	if !cfg.GP.Select.StochasticTournament.Enabled || len(cfg.GP.Select.StochasticTournament.Prob) != 2 {
		t.Fatalf("unexpected select %+v", cfg.GP.Select)
	}
	if len(cfg.GP.Primitives) != 1 || cfg.GP.Primitives[0].Name != "Inn" || len(cfg.GP.Seed) != 1 {
		t.Fatalf("unexpected primitives/seed %+v %+v", cfg.GP.Primitives, cfg.GP.Seed)
	}
	if cfg.Problem.MeshSize != 5 || cfg.MP.NJobs != 3 || cfg.MP.StartMethod != "fork" {
		t.Fatalf("unexpected problem/mp %+v %+v", cfg.Problem, cfg.MP)
	}
	if cfg.Run.Seed != 42 || cfg.Run.Store != "memory" {
		t.Fatalf("run defaults not preserved: %+v", cfg.Run)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigTOMLAndJSON(t *testing.T) {
	tomlPath := writeConfig(t, "run.toml", `
[gp]
NINDIVIDUALS = 20
CXPB = 0.7

[gp.early_stopping]
enabled = true
max_overfit = 2

[problem]
name = "elastica"
bilevel = true

[run]
seed = 9
`)
	cfg, err := loadConfig(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.GP.NIndividuals != 20 || cfg.GP.CXPB != 0.7 || !cfg.GP.EarlyStopping.Enabled || cfg.GP.EarlyStopping.MaxOverfit != 2 {
		t.Fatalf("unexpected toml gp: %+v", cfg.GP)
	}
	if cfg.Problem.Name != "elastica" || cfg.Problem.Bilevel == nil || !*cfg.Problem.Bilevel || cfg.Run.Seed != 9 {
		t.Fatalf("unexpected toml problem/run: %+v %+v", cfg.Problem, cfg.Run)
	}

	jsonPath := writeConfig(t, "run.json", `{"gp": {"NGEN": 4, "mutate": {"fun": "mutShrink"}}, "run": {"store": "sqlite", "db_path": "x.db"}}`)
	cfg, err = loadConfig(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if cfg.GP.NGen != 4 || cfg.GP.Mutate.Fun != "mutShrink" || cfg.Run.Store != "sqlite" || cfg.Run.DBPath != "x.db" {
		t.Fatalf("unexpected json config: %+v", cfg)
	}
}

func TestLoadConfigRejectsUnknownKeysAndFormats(t *testing.T) {
	cases := map[string]string{
		"run.yaml": "gp:\n  NPOP: 3\n",
		"run.toml": "[gp]\nNPOP = 3\n",
		"run.json": `{"gp": {"NPOP": 3}}`,
		"run.ini":  "NINDIVIDUALS=3",
	}
	for name, body := range cases {
		if _, err := loadConfig(writeConfig(t, name, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOverrideFromFlagsAppliesOnlySetFlags(t *testing.T) {
	path := writeConfig(t, "run.yaml", "gp:\n  NINDIVIDUALS: 30\n  NGEN: 5\nrun:\n  seed: 3\n")
	cfg, err := loadOrDefaultConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	values := registerOverrideFlags(fs)
	if err := fs.Parse([]string{"--gens", "8", "--problem", "elastica", "--early-stopping", "--store", "sqlite", "--reg-param", "0.5"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if err := overrideFromFlags(&cfg, set, values); err != nil {
		t.Fatalf("override: %v", err)
	}
	if cfg.GP.NIndividuals != 30 || cfg.Run.Seed != 3 {
		t.Fatalf("unset flags changed config: %+v", cfg)
	}
	if cfg.GP.NGen != 8 || cfg.Problem.Name != "elastica" || !cfg.GP.EarlyStopping.Enabled || cfg.Run.Store != "sqlite" || cfg.GP.Penalty.RegParam != 0.5 {
		t.Fatalf("flags not applied: %+v", cfg)
	}

	if err := overrideFromFlags(&cfg, map[string]bool{"bogus": true}, map[string]any{"bogus": new(string)}); err == nil {
		t.Fatal("expected error for unsupported flag")
	}
}
