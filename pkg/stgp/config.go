package stgp

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stgp/internal/evo"
	"stgp/internal/fitness"
	"stgp/internal/gp"
	"stgp/internal/problem"
)

// Config is a complete run configuration. Field names follow the keys of the
// YAML run files, so one struct decodes YAML, TOML and JSON.
type Config struct {
	GP      GPConfig         `json:"gp" yaml:"gp" toml:"gp"`
	MP      MPConfig         `json:"mp" yaml:"mp" toml:"mp"`
	Problem problem.Settings `json:"problem" yaml:"problem" toml:"problem"`
	Run     RunSettings      `json:"run" yaml:"run" toml:"run"`
}

type GPConfig struct {
	NIndividuals          int                 `json:"NINDIVIDUALS" yaml:"NINDIVIDUALS" toml:"NINDIVIDUALS"`
	NGen                  int                 `json:"NGEN" yaml:"NGEN" toml:"NGEN"`
	CXPB                  float64             `json:"CXPB" yaml:"CXPB" toml:"CXPB"`
	MUTPB                 float64             `json:"MUTPB" yaml:"MUTPB" toml:"MUTPB"`
	FracElitist           float64             `json:"frac_elitist" yaml:"frac_elitist" toml:"frac_elitist"`
	Min                   int                 `json:"min_" yaml:"min_" toml:"min_"`
	Max                   int                 `json:"max_" yaml:"max_" toml:"max_"`
	MaxHeight             int                 `json:"max_height" yaml:"max_height" toml:"max_height"`
	OverlappingGeneration bool                `json:"overlapping_generation" yaml:"overlapping_generation" toml:"overlapping_generation"`
	EarlyStopping         EarlyStoppingConfig `json:"early_stopping" yaml:"early_stopping" toml:"early_stopping"`
	Penalty               PenaltyConfig       `json:"penalty" yaml:"penalty" toml:"penalty"`
	Select                SelectConfig        `json:"select" yaml:"select" toml:"select"`
	Generation            GenerationConfig    `json:"generation" yaml:"generation" toml:"generation"`
	Crossover             CrossoverConfig     `json:"crossover" yaml:"crossover" toml:"crossover"`
	Mutate                MutateConfig        `json:"mutate" yaml:"mutate" toml:"mutate"`
	// Primitives replaces the problem's default primitive selection.
	Primitives []PrimitiveConfig `json:"primitives,omitempty" yaml:"primitives,omitempty" toml:"primitives,omitempty"`
	// Seed expressions take the first slots of the initial population.
	Seed []string `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`
}

type EarlyStoppingConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxOverfit int  `json:"max_overfit" yaml:"max_overfit" toml:"max_overfit"`
}

type PenaltyConfig struct {
	Method   string  `json:"method" yaml:"method" toml:"method"`
	RegParam float64 `json:"reg_param" yaml:"reg_param" toml:"reg_param"`
}

type SelectConfig struct {
	TournSize            int                        `json:"tournsize" yaml:"tournsize" toml:"tournsize"`
	StochasticTournament StochasticTournamentConfig `json:"stochastic_tournament" yaml:"stochastic_tournament" toml:"stochastic_tournament"`
}

type StochasticTournamentConfig struct {
	Enabled bool      `json:"enabled" yaml:"enabled" toml:"enabled"`
	Prob    []float64 `json:"prob" yaml:"prob" toml:"prob"`
}

type GenerationConfig struct {
	Fun string `json:"fun" yaml:"fun" toml:"fun"`
}

type CrossoverConfig struct {
	Fun   string          `json:"fun" yaml:"fun" toml:"fun"`
	Kargs CrossoverKwargs `json:"kargs" yaml:"kargs" toml:"kargs"`
}

type CrossoverKwargs struct {
	TermPB float64 `json:"termpb" yaml:"termpb" toml:"termpb"`
}

type MutateConfig struct {
	Fun          string        `json:"fun" yaml:"fun" toml:"fun"`
	Kargs        MutateKwargs  `json:"kargs" yaml:"kargs" toml:"kargs"`
	ExprMut      string        `json:"expr_mut" yaml:"expr_mut" toml:"expr_mut"`
	ExprMutKargs ExprMutKwargs `json:"expr_mut_kargs" yaml:"expr_mut_kargs" toml:"expr_mut_kargs"`
}

type MutateKwargs struct {
	Mode string `json:"mode" yaml:"mode" toml:"mode"`
}

type ExprMutKwargs struct {
	Min int `json:"min_" yaml:"min_" toml:"min_"`
	Max int `json:"max_" yaml:"max_" toml:"max_"`
}

// PrimitiveConfig selects instantiations of one primitive family. Empty
// Dimension or Rank lists select all of them.
type PrimitiveConfig struct {
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Dimension []int    `json:"dimension,omitempty" yaml:"dimension,omitempty" toml:"dimension,omitempty"`
	Rank      []string `json:"rank,omitempty" yaml:"rank,omitempty" toml:"rank,omitempty"`
}

type MPConfig struct {
	NJobs   int `json:"n_jobs" yaml:"n_jobs" toml:"n_jobs"`
	NSplits int `json:"n_splits" yaml:"n_splits" toml:"n_splits"`
	// StartMethod is accepted for compatibility with existing run files.
	// Workers are goroutines, so it selects nothing.
	StartMethod string `json:"start_method,omitempty" yaml:"start_method,omitempty" toml:"start_method,omitempty"`
}

type RunSettings struct {
	Seed         int64  `json:"seed" yaml:"seed" toml:"seed"`
	Store        string `json:"store" yaml:"store" toml:"store"`
	DBPath       string `json:"db_path" yaml:"db_path" toml:"db_path"`
	ArtifactsDir string `json:"artifacts_dir" yaml:"artifacts_dir" toml:"artifacts_dir"`
	// TopK individuals of the final population are persisted.
	TopK int `json:"top_k" yaml:"top_k" toml:"top_k"`
}

// DefaultConfig returns the configuration of a small Poisson run.
func DefaultConfig() Config {
	return Config{
		GP: GPConfig{
			NIndividuals: 100,
			NGen:         20,
			CXPB:         0.5,
			MUTPB:        0.2,
			FracElitist:  0.1,
			Min:          1,
			Max:          4,
			MaxHeight:    gp.DefaultMaxHeight,
			EarlyStopping: EarlyStoppingConfig{
				MaxOverfit: 5,
			},
			Penalty: PenaltyConfig{Method: "length", RegParam: 0.01},
			Select: SelectConfig{
				TournSize: 3,
				StochasticTournament: StochasticTournamentConfig{
					Prob: []float64{0.7, 0.3},
				},
			},
			Generation: GenerationConfig{Fun: "genHalfAndHalf"},
			Crossover:  CrossoverConfig{Fun: "cxOnePoint", Kargs: CrossoverKwargs{TermPB: 0.1}},
			Mutate: MutateConfig{
				Fun:          "mutUniform",
				ExprMut:      "genGrow",
				ExprMutKargs: ExprMutKwargs{Min: 1, Max: 3},
			},
		},
		MP: MPConfig{NJobs: 4, NSplits: 10},
		Problem: problem.Settings{
			Name: "poisson",
		},
		Run: RunSettings{
			Seed:         42,
			Store:        "memory",
			DBPath:       "stgp.db",
			ArtifactsDir: "runs",
			TopK:         10,
		},
	}
}

// Validate checks the fields that have no usable zero value.
func (c Config) Validate() error {
	var errs []error
	if c.GP.NIndividuals <= 0 {
		errs = append(errs, errors.New("gp.NINDIVIDUALS must be > 0"))
	}
	if c.GP.NGen < 0 {
		errs = append(errs, errors.New("gp.NGEN must be >= 0"))
	}
	if c.GP.CXPB < 0 || c.GP.CXPB > 1 || c.GP.MUTPB < 0 || c.GP.MUTPB > 1 {
		errs = append(errs, fmt.Errorf("gp.CXPB and gp.MUTPB must be in [0,1], got %g and %g", c.GP.CXPB, c.GP.MUTPB))
	}
	if c.GP.FracElitist < 0 || c.GP.FracElitist > 1 {
		errs = append(errs, fmt.Errorf("gp.frac_elitist must be in [0,1], got %g", c.GP.FracElitist))
	}
	if c.GP.Min < 0 || c.GP.Max < c.GP.Min {
		errs = append(errs, fmt.Errorf("gp height range [%d,%d] is invalid", c.GP.Min, c.GP.Max))
	}
	if c.GP.Select.TournSize <= 0 {
		errs = append(errs, errors.New("gp.select.tournsize must be > 0"))
	}
	if c.GP.EarlyStopping.Enabled && c.GP.EarlyStopping.MaxOverfit < 0 {
		errs = append(errs, errors.New("gp.early_stopping.max_overfit must be >= 0"))
	}
	if c.MP.NJobs < 0 || c.MP.NSplits < 0 {
		errs = append(errs, errors.New("mp.n_jobs and mp.n_splits must be >= 0"))
	}
	if c.GP.Max > c.maxHeight() {
		errs = append(errs, fmt.Errorf("gp.max_ %d exceeds max_height %d", c.GP.Max, c.maxHeight()))
	}
	return errors.Join(errs...)
}

func (c Config) maxHeight() int {
	if c.GP.MaxHeight <= 0 {
		return gp.DefaultMaxHeight
	}
	return c.GP.MaxHeight
}

// Selections converts the configured primitives. It returns nil when none
// are configured so the problem default applies.
func (c Config) Selections() ([]gp.Selection, error) {
	if len(c.GP.Primitives) == 0 {
		return nil, nil
	}
	out := make([]gp.Selection, 0, len(c.GP.Primitives))
	for _, p := range c.GP.Primitives {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("primitive name is required")
		}
		sel := gp.Selection{Family: strings.TrimSpace(p.Name), Dimensions: append([]int(nil), p.Dimension...)}
		for _, r := range p.Rank {
			rank, err := parseRank(r)
			if err != nil {
				return nil, fmt.Errorf("primitive %s: %w", p.Name, err)
			}
			sel.Ranks = append(sel.Ranks, rank)
		}
		out = append(out, sel)
	}
	return out, nil
}

func parseRank(r string) (gp.RankSig, error) {
	switch strings.ToUpper(strings.TrimSpace(r)) {
	case "SC", "":
		return gp.RankSC, nil
	case "V":
		return gp.RankV, nil
	case "T":
		return gp.RankT, nil
	case "VT":
		return gp.RankVT, nil
	default:
		return "", fmt.Errorf("unknown rank %q", r)
	}
}

// Selector builds the configured tournament.
func (c Config) Selector() (evo.Selector, error) {
	st := c.GP.Select.StochasticTournament
	if !st.Enabled {
		return evo.TournamentSelector{Size: c.GP.Select.TournSize}, nil
	}
	if len(st.Prob) != 2 {
		return nil, fmt.Errorf("stochastic tournament needs two probabilities, got %d", len(st.Prob))
	}
	sel := evo.StochasticTournamentSelector{Size: c.GP.Select.TournSize, Prob: [2]float64{st.Prob[0], st.Prob[1]}}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return sel, nil
}

// Variator resolves the configured operators through the gp registries and
// wraps them in the static height limit.
func (c Config) Variator(g *gp.Grammar, logger *slog.Logger) (gp.Variator, error) {
	exprMethod, err := gp.LookupGenerator(withDefaultName(c.GP.Mutate.ExprMut, "genGrow"))
	if err != nil {
		return gp.Variator{}, fmt.Errorf("expr_mut: %w", err)
	}
	args := gp.OperatorArgs{
		TermPB: c.GP.Crossover.Kargs.TermPB,
		Expr:   gp.ExprSpec{Method: exprMethod, Min: c.GP.Mutate.ExprMutKargs.Min, Max: c.GP.Mutate.ExprMutKargs.Max},
		Mode:   c.GP.Mutate.Kargs.Mode,
	}
	cx, err := gp.LookupCrossover(withDefaultName(c.GP.Crossover.Fun, "cxOnePoint"), args)
	if err != nil {
		return gp.Variator{}, fmt.Errorf("crossover: %w", err)
	}
	mut, err := gp.LookupMutation(withDefaultName(c.GP.Mutate.Fun, "mutUniform"), args)
	if err != nil {
		return gp.Variator{}, fmt.Errorf("mutate: %w", err)
	}
	limit := gp.StaticLimit{MaxHeight: c.maxHeight(), Logger: logger}
	return gp.Variator{
		Grammar:   g,
		Crossover: limit.Crossover(cx),
		Mutation:  limit.Mutation(mut),
		CXPB:      c.GP.CXPB,
		MUTPB:     c.GP.MUTPB,
	}, nil
}

// Init is the generator of the initial population.
func (c Config) Init() (gp.ExprSpec, error) {
	method, err := gp.LookupGenerator(withDefaultName(c.GP.Generation.Fun, "genHalfAndHalf"))
	if err != nil {
		return gp.ExprSpec{}, fmt.Errorf("generation: %w", err)
	}
	return gp.ExprSpec{Method: method, Min: c.GP.Min, Max: c.GP.Max}, nil
}

func (c Config) Penalty() (fitness.Penalty, error) {
	method, err := fitness.ParsePenaltyMethod(c.GP.Penalty.Method)
	if err != nil {
		return fitness.Penalty{}, err
	}
	return fitness.Penalty{Method: method, RegParam: c.GP.Penalty.RegParam}, nil
}

func withDefaultName(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}
