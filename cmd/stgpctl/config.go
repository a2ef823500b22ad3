package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"stgp/pkg/stgp"
)

// loadConfig decodes a run file over DefaultConfig, so keys a file omits
// keep their defaults.
func loadConfig(path string) (stgp.Config, error) {
	cfg := stgp.DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return stgp.Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return stgp.Config{}, fmt.Errorf("decode yaml config: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return stgp.Config{}, fmt.Errorf("decode toml config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return stgp.Config{}, fmt.Errorf("decode toml config: unknown key %s", undecoded[0])
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return stgp.Config{}, fmt.Errorf("decode json config: %w", err)
		}
	default:
		return stgp.Config{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return cfg, nil
}

func loadOrDefaultConfig(path string) (stgp.Config, error) {
	if path == "" {
		return stgp.DefaultConfig(), nil
	}
	return loadConfig(path)
}

func registerOverrideFlags(fs *flag.FlagSet) map[string]any {
	return map[string]any{
		"problem":        fs.String("problem", "", "problem name: poisson|elastica"),
		"pop":            fs.Int("pop", 0, "population size"),
		"gens":           fs.Int("gens", 0, "generations"),
		"seed":           fs.Int64("seed", 0, "rng seed"),
		"jobs":           fs.Int("jobs", 0, "parallel evaluation workers"),
		"splits":         fs.Int("splits", 0, "population chunks per generation"),
		"penalty":        fs.String("penalty", "", "penalty method: none|length|primitive"),
		"reg-param":      fs.Float64("reg-param", 0, "penalty weight"),
		"early-stopping": fs.Bool("early-stopping", false, "stop when validation stalls"),
		"max-overfit":    fs.Int("max-overfit", 0, "generations without validation improvement"),
		"bilevel":        fs.Bool("bilevel", false, "fit the physical parameter of each candidate (elastica default: true)"),
		"dataset":        fs.String("dataset", "", "dataset csv replacing the synthesized samples"),
		"store":          fs.String("store", "", "store backend: memory|sqlite"),
		"db-path":        fs.String("db-path", "", "sqlite database path"),
		"artifacts-dir":  fs.String("artifacts-dir", "", "run artifacts directory"),
		"top-k":          fs.Int("top-k", 0, "individuals persisted from the final population"),
	}
}

// overrideFromFlags applies explicitly set flags on top of cfg. Flags left
// at their zero default never override the file.
func overrideFromFlags(cfg *stgp.Config, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		value, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "problem":
			cfg.Problem.Name = *value.(*string)
		case "pop":
			cfg.GP.NIndividuals = *value.(*int)
		case "gens":
			cfg.GP.NGen = *value.(*int)
		case "seed":
			cfg.Run.Seed = *value.(*int64)
		case "jobs":
			cfg.MP.NJobs = *value.(*int)
		case "splits":
			cfg.MP.NSplits = *value.(*int)
		case "penalty":
			cfg.GP.Penalty.Method = *value.(*string)
		case "reg-param":
			cfg.GP.Penalty.RegParam = *value.(*float64)
		case "early-stopping":
			cfg.GP.EarlyStopping.Enabled = *value.(*bool)
		case "max-overfit":
			cfg.GP.EarlyStopping.MaxOverfit = *value.(*int)
		case "bilevel":
			bilevel := *value.(*bool)
			cfg.Problem.Bilevel = &bilevel
		case "dataset":
			cfg.Problem.DatasetCSV = *value.(*string)
		case "store":
			cfg.Run.Store = *value.(*string)
		case "db-path":
			cfg.Run.DBPath = *value.(*string)
		case "artifacts-dir":
			cfg.Run.ArtifactsDir = *value.(*string)
		case "top-k":
			cfg.Run.TopK = *value.(*int)
		default:
			return fmt.Errorf("unsupported override flag %q", name)
		}
	}
	return nil
}
