package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"stgp/internal/dataset"
	"stgp/internal/gp"
)

// History holds one value per generation, starting with the initial
// population. Val and ValMSE stay empty without early stopping.
type History struct {
	Train  []float64 `json:"train"`
	Val    []float64 `json:"val,omitempty"`
	ValMSE []float64 `json:"val_mse,omitempty"`
}

type GenerationDiagnostics struct {
	Generation  int     `json:"generation"`
	Evaluations int     `json:"evaluations"`
	MinFitness  float64 `json:"min_fitness"`
	MeanFitness float64 `json:"mean_fitness"`
	MaxFitness  float64 `json:"max_fitness"`
	StdFitness  float64 `json:"std_fitness"`
	BestLength  int     `json:"best_length"`
	BestHeight  int     `json:"best_height"`
	ValFitness  float64 `json:"val_fitness,omitempty"`
	ValMSE      float64 `json:"val_mse,omitempty"`
}

type RunResult struct {
	Best *gp.Individual
	// BestGeneration is the generation in which Best was found.
	BestGeneration  int
	Generations     int
	EarlyStopped    bool
	History         History
	Diagnostics     []GenerationDiagnostics
	FinalPopulation []*gp.Individual
}

type EarlyStopping struct {
	Enabled    bool
	MaxOverfit int
}

type MonitorConfig struct {
	Grammar  *gp.Grammar
	Variator gp.Variator
	// Init generates the trees of the initial population.
	Init           gp.ExprSpec
	Selector       Selector
	Evaluator      ParallelEvaluator
	Train          []dataset.Sample
	Val            []dataset.Sample
	PopulationSize int
	Generations    int
	FracElitist    float64
	Overlapping    bool
	EarlyStopping  EarlyStopping
	// Seed trees take the first population slots.
	Seed   []gp.Tree
	Logger *slog.Logger
	// OnGeneration, when set, observes every generation after bookkeeping.
	OnGeneration func(GenerationDiagnostics)
}

type Monitor struct {
	cfg    MonitorConfig
	logger *slog.Logger
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Grammar == nil {
		return nil, fmt.Errorf("grammar is required")
	}
	if cfg.Evaluator.Scorer == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("selector is required")
	}
	if cfg.Variator.Crossover == nil || cfg.Variator.Mutation == nil {
		return nil, fmt.Errorf("crossover and mutation operators are required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations < 0 {
		return nil, fmt.Errorf("generations must be >= 0")
	}
	if cfg.FracElitist < 0 || cfg.FracElitist > 1 {
		return nil, fmt.Errorf("elitist fraction must be in [0,1]")
	}
	if len(cfg.Seed) > cfg.PopulationSize {
		return nil, fmt.Errorf("seed has %d individuals, population size is %d", len(cfg.Seed), cfg.PopulationSize)
	}
	if len(cfg.Train) == 0 {
		return nil, fmt.Errorf("training samples are required")
	}
	if cfg.EarlyStopping.Enabled {
		if len(cfg.Val) == 0 {
			return nil, fmt.Errorf("early stopping requires validation samples")
		}
		if cfg.EarlyStopping.MaxOverfit < 0 {
			return nil, fmt.Errorf("max overfit must be >= 0")
		}
	}
	if cfg.Variator.Grammar == nil {
		cfg.Variator.Grammar = cfg.Grammar
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{cfg: cfg, logger: logger}, nil
}

// Run evolves the population for the configured number of generations or
// until early stopping triggers. seed drives every random choice, so equal
// seeds give equal runs.
func (m *Monitor) Run(ctx context.Context, seed int64) (RunResult, error) {
	rng := rand.New(rand.NewSource(seed))
	pop, err := m.initialPopulation(rng)
	if err != nil {
		return RunResult{}, err
	}
	nevals, err := m.cfg.Evaluator.EvaluateInvalid(ctx, pop, m.cfg.Train)
	if err != nil {
		return RunResult{}, err
	}

	t := tracker{earlyStopping: m.cfg.EarlyStopping, bestVal: math.Inf(1)}
	if err := m.record(ctx, &t, pop, 0, nevals); err != nil {
		return RunResult{}, err
	}

	gen := 0
	for gen < m.cfg.Generations && !t.stopped {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		gen++
		pop, nevals, err = m.step(ctx, rng, pop)
		if err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen, err)
		}
		if err := m.record(ctx, &t, pop, gen, nevals); err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen, err)
		}
	}
	if t.stopped {
		m.logger.Info("early stopping", "generation", gen, "best_generation", t.bestGen, "best_val", t.bestVal)
	}

	return RunResult{
		Best:            t.best,
		BestGeneration:  t.bestGen,
		Generations:     gen,
		EarlyStopped:    t.stopped,
		History:         t.history,
		Diagnostics:     t.diagnostics,
		FinalPopulation: pop,
	}, nil
}

func (m *Monitor) initialPopulation(rng *rand.Rand) ([]*gp.Individual, error) {
	pop := make([]*gp.Individual, 0, m.cfg.PopulationSize)
	for _, tree := range m.cfg.Seed {
		if err := m.cfg.Grammar.Validate(tree); err != nil {
			return nil, fmt.Errorf("seed %s: %w", tree, err)
		}
		pop = append(pop, gp.NewIndividual(tree.Clone()))
	}
	spec := m.cfg.Init
	for len(pop) < m.cfg.PopulationSize {
		tree, err := m.cfg.Grammar.Generate(rng, spec.Method, spec.Min, spec.Max, m.cfg.Grammar.Return())
		if err != nil {
			return nil, fmt.Errorf("generate initial individual: %w", err)
		}
		pop = append(pop, gp.NewIndividual(tree))
	}
	return pop, nil
}

// step selects, varies and evaluates one generation and applies the
// replacement policy.
func (m *Monitor) step(ctx context.Context, rng *rand.Rand, pop []*gp.Individual) ([]*gp.Individual, int, error) {
	selected, err := SelectElitist(rng, pop, m.cfg.FracElitist, m.cfg.Selector)
	if err != nil {
		return nil, 0, err
	}
	k := EliteCount(m.cfg.FracElitist, len(pop))
	offspring, err := m.cfg.Variator.VarAnd(rng, selected[k:])
	if err != nil {
		return nil, 0, err
	}
	nevals, err := m.cfg.Evaluator.EvaluateInvalid(ctx, offspring, m.cfg.Train)
	if err != nil {
		return nil, 0, err
	}

	if !m.cfg.Overlapping {
		next := make([]*gp.Individual, 0, len(pop))
		next = append(next, selected[:k]...)
		next = append(next, offspring...)
		return next, nevals, nil
	}
	union := make([]*gp.Individual, 0, len(pop)+len(offspring))
	union = append(union, pop...)
	union = append(union, offspring...)
	next := make([]*gp.Individual, 0, len(pop))
	for _, idx := range RankByFitness(union)[:len(pop)] {
		next = append(next, union[idx].Clone())
	}
	return next, nevals, nil
}

type tracker struct {
	earlyStopping EarlyStopping

	history     History
	diagnostics []GenerationDiagnostics

	best    *gp.Individual
	bestGen int
	bestVal float64
	// lastImprovement is the last generation that lowered the best
	// validation fitness.
	lastImprovement int
	stopped         bool
}

func (m *Monitor) record(ctx context.Context, t *tracker, pop []*gp.Individual, gen, nevals int) error {
	diag := summarize(pop, gen, nevals)
	genBest := pop[RankByFitness(pop)[0]]
	t.history.Train = append(t.history.Train, genBest.Fitness)

	if t.earlyStopping.Enabled {
		val, err := m.cfg.Evaluator.Map(ctx, []*gp.Individual{genBest}, m.cfg.Val)
		if err != nil {
			return fmt.Errorf("validate best individual: %w", err)
		}
		diag.ValFitness, diag.ValMSE = val[0].Fitness, val[0].MSE
		t.history.Val = append(t.history.Val, val[0].Fitness)
		t.history.ValMSE = append(t.history.ValMSE, val[0].MSE)
		if t.best == nil || val[0].Fitness < t.bestVal {
			t.best, t.bestGen, t.bestVal = genBest.Clone(), gen, val[0].Fitness
			t.lastImprovement = gen
		} else if gen-t.lastImprovement > t.earlyStopping.MaxOverfit {
			t.stopped = true
		}
	} else if t.best == nil || genBest.Fitness < t.best.Fitness {
		t.best, t.bestGen = genBest.Clone(), gen
	}

	t.diagnostics = append(t.diagnostics, diag)
	attrs := []any{"gen", gen, "nevals", nevals, "min", diag.MinFitness, "avg", diag.MeanFitness, "max", diag.MaxFitness}
	if t.earlyStopping.Enabled {
		attrs = append(attrs, "val_fit", diag.ValFitness, "val_mse", diag.ValMSE)
	}
	m.logger.Info("generation", attrs...)
	if m.cfg.OnGeneration != nil {
		m.cfg.OnGeneration(diag)
	}
	return nil
}

func summarize(pop []*gp.Individual, gen, nevals int) GenerationDiagnostics {
	diag := GenerationDiagnostics{Generation: gen, Evaluations: nevals}
	if len(pop) == 0 {
		return diag
	}
	best := pop[0]
	minFit, maxFit, total := pop[0].Fitness, pop[0].Fitness, 0.0
	for _, ind := range pop {
		total += ind.Fitness
		if ind.Fitness < minFit {
			minFit, best = ind.Fitness, ind
		}
		if ind.Fitness > maxFit {
			maxFit = ind.Fitness
		}
	}
	mean := total / float64(len(pop))
	variance := 0.0
	for _, ind := range pop {
		d := ind.Fitness - mean
		variance += d * d
	}
	diag.MinFitness = minFit
	diag.MaxFitness = maxFit
	diag.MeanFitness = mean
	diag.StdFitness = math.Sqrt(variance / float64(len(pop)))
	diag.BestLength = best.Tree.Len()
	diag.BestHeight = best.Tree.Height()
	return diag
}
