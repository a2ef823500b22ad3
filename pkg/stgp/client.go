package stgp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stgp/internal/dataset"
	"stgp/internal/evo"
	"stgp/internal/fitness"
	"stgp/internal/gp"
	"stgp/internal/model"
	"stgp/internal/problem"
	"stgp/internal/stats"
	"stgp/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultDBPath       = "stgp.db"
	defaultTopK         = 10
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	Logger       *slog.Logger
}

type Client struct {
	store        storage.Store
	artifactsDir string
	logger       *slog.Logger
}

type RunSummary struct {
	RunID          string
	ArtifactsDir   string
	Problem        string
	BestExpression string
	BestFitness    float64
	BestParam      float64
	BestGeneration int
	Generations    int
	EarlyStopped   bool
	Evaluations    int
	TestMSE        float64
	History        model.FitnessHistory
	Duration       time.Duration
}

// RunRef names a stored run either by id or as the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
}

// EvalSummary scores one expression on the train and test splits.
type EvalSummary struct {
	Expression string
	Train      fitness.Result
	Test       *fitness.Result
}

type PrimitiveInfo struct {
	Name string
	In   []string
	Out  string
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, stageErr(StageStorage, err)
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		logger:       logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return stageErr(StageStorage, c.store.Init(ctx))
}

// setup holds everything a run or a single evaluation needs.
type setup struct {
	inst      *problem.Instance
	evaluator *fitness.Evaluator
}

func (c *Client) prepare(cfg Config, rng *rand.Rand) (*setup, error) {
	sels, err := cfg.Selections()
	if err != nil {
		return nil, stageErr(StageConfig, err)
	}
	penalty, err := cfg.Penalty()
	if err != nil {
		return nil, stageErr(StageConfig, err)
	}
	inst, err := problem.Build(cfg.Problem, sels, rng)
	if err != nil {
		if errors.Is(err, problem.ErrUnknownProblem) {
			return nil, stageErr(StageConfig, err)
		}
		return nil, stageErr(buildStage(err), err)
	}
	ev, err := fitness.NewEvaluator(inst.Grammar, fitness.Config{
		Problem:     inst.Problem,
		Penalty:     penalty,
		Solver:      inst.Solver,
		Bilevel:     inst.Bilevel,
		RoundDigits: inst.RoundDigits,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, stageErr(StageEvaluation, err)
	}
	return &setup{inst: inst, evaluator: ev}, nil
}

// Run executes one evolutionary run described by cfg, persists it and writes
// its artifacts.
func (c *Client) Run(ctx context.Context, cfg Config) (RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, stageErr(StageConfig, err)
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	started := time.Now().UTC()
	rng := rand.New(rand.NewSource(cfg.Run.Seed))

	s, err := c.prepare(cfg, rng)
	if err != nil {
		return RunSummary{}, err
	}
	g := s.inst.Grammar

	seeds := make([]gp.Tree, 0, len(cfg.GP.Seed))
	for _, expr := range cfg.GP.Seed {
		tree, err := g.Parse(expr)
		if err != nil {
			return RunSummary{}, stageErr(StageGrammar, fmt.Errorf("seed %q: %w", expr, err))
		}
		seeds = append(seeds, tree)
	}
	selector, err := cfg.Selector()
	if err != nil {
		return RunSummary{}, stageErr(StageConfig, err)
	}
	variator, err := cfg.Variator(g, c.logger)
	if err != nil {
		return RunSummary{}, stageErr(StageConfig, err)
	}
	initSpec, err := cfg.Init()
	if err != nil {
		return RunSummary{}, stageErr(StageConfig, err)
	}

	data := s.inst.Data
	train, val := data.Train, data.Val
	if !cfg.GP.EarlyStopping.Enabled {
		train, val = data.TrainVal(), nil
	}
	if len(train) == 0 {
		return RunSummary{}, stageErr(StageDataset, dataset.ErrEmpty)
	}

	monitor, err := evo.NewMonitor(evo.MonitorConfig{
		Grammar:        g,
		Variator:       variator,
		Init:           initSpec,
		Selector:       selector,
		Evaluator:      evo.ParallelEvaluator{Scorer: s.evaluator, Jobs: cfg.MP.NJobs, Splits: cfg.MP.NSplits},
		Train:          train,
		Val:            val,
		PopulationSize: cfg.GP.NIndividuals,
		Generations:    cfg.GP.NGen,
		FracElitist:    cfg.GP.FracElitist,
		Overlapping:    cfg.GP.OverlappingGeneration,
		EarlyStopping:  evo.EarlyStopping{Enabled: cfg.GP.EarlyStopping.Enabled, MaxOverfit: cfg.GP.EarlyStopping.MaxOverfit},
		Seed:           seeds,
		Logger:         c.logger,
	})
	if err != nil {
		return RunSummary{}, stageErr(StageConfig, err)
	}

	c.logger.Info("run started", "problem", s.inst.Name, "population", cfg.GP.NIndividuals,
		"generations", cfg.GP.NGen, "train", len(train), "val", len(val), "test", len(data.Test))
	result, err := monitor.Run(ctx, cfg.Run.Seed)
	if err != nil {
		return RunSummary{}, stageErr(StageEvaluation, err)
	}
	best := result.Best

	testMSE := 0.0
	var bestSols, trueSols [][]float64
	if len(data.Test) > 0 {
		res, err := s.evaluator.Test(best, data.Test)
		if err != nil {
			return RunSummary{}, stageErr(StageEvaluation, err)
		}
		testMSE = res.MSE
		bestSols, err = s.evaluator.Solutions(best, data.Test)
		if err != nil {
			return RunSummary{}, stageErr(StageEvaluation, err)
		}
		for _, sample := range data.Test {
			trueSols = append(trueSols, append([]float64(nil), sample.Target...))
		}
	}

	evaluations := 0
	for _, d := range result.Diagnostics {
		evaluations += d.Evaluations
	}
	finished := time.Now().UTC()
	run := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              uuid.NewString(),
		Problem:         s.inst.Name,
		Seed:            cfg.Run.Seed,
		StartedAt:       started,
		FinishedAt:      finished,
		Population:      cfg.GP.NIndividuals,
		Generations:     result.Generations,
		BestGeneration:  result.BestGeneration,
		EarlyStopped:    result.EarlyStopped,
		BestExpression:  best.Tree.String(),
		BestFitness:     best.Fitness,
		BestParam:       best.Param,
		TestMSE:         testMSE,
		Evaluations:     evaluations,
	}
	if bg := result.BestGeneration; bg < len(result.History.Val) {
		run.BestValFitness = result.History.Val[bg]
	}
	history := toFitnessHistory(result.History)
	diagnostics := toDiagnostics(result.Diagnostics)
	top := topIndividuals(result.FinalPopulation, cfg.Run.TopK)

	if err := c.store.SaveRun(ctx, run); err != nil {
		return RunSummary{}, stageErr(StageStorage, err)
	}
	if err := c.store.SaveFitnessHistory(ctx, run.ID, history); err != nil {
		return RunSummary{}, stageErr(StageStorage, err)
	}
	if err := c.store.SaveGenerationDiagnostics(ctx, run.ID, diagnostics); err != nil {
		return RunSummary{}, stageErr(StageStorage, err)
	}
	if err := c.store.SaveTopIndividuals(ctx, run.ID, top); err != nil {
		return RunSummary{}, stageErr(StageStorage, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Run:           run,
		Config:        cfg,
		History:       history,
		Diagnostics:   diagnostics,
		Top:           top,
		BestSolutions: bestSols,
		TrueSolutions: trueSols,
	})
	if err != nil {
		return RunSummary{}, stageErr(StageArtifacts, err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        run.ID,
		Problem:      run.Problem,
		Seed:         run.Seed,
		Generations:  run.Generations,
		BestFitness:  run.BestFitness,
		TestMSE:      run.TestMSE,
		CreatedAtUTC: started.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, stageErr(StageArtifacts, err)
	}

	c.logger.Info("run finished", "run_id", run.ID, "best", run.BestExpression,
		"fitness", run.BestFitness, "param", run.BestParam, "test_mse", testMSE)

	return RunSummary{
		RunID:          run.ID,
		ArtifactsDir:   filepath.Clean(runDir),
		Problem:        run.Problem,
		BestExpression: run.BestExpression,
		BestFitness:    run.BestFitness,
		BestParam:      run.BestParam,
		BestGeneration: run.BestGeneration,
		Generations:    run.Generations,
		EarlyStopped:   run.EarlyStopped,
		Evaluations:    evaluations,
		TestMSE:        testMSE,
		History:        history,
		Duration:       finished.Sub(started),
	}, nil
}

// Evaluate scores expr on the training set of the configured problem, with
// the bilevel fit when the problem uses one, and reports the test MSE with
// the resulting parameter.
func (c *Client) Evaluate(_ context.Context, cfg Config, expr string) (EvalSummary, error) {
	s, err := c.prepare(cfg, rand.New(rand.NewSource(cfg.Run.Seed)))
	if err != nil {
		return EvalSummary{}, err
	}
	tree, err := s.inst.Grammar.Parse(expr)
	if err != nil {
		return EvalSummary{}, stageErr(StageGrammar, err)
	}
	ind := gp.NewIndividual(tree)
	train := s.inst.Data.TrainVal()
	if len(train) == 0 {
		return EvalSummary{}, stageErr(StageDataset, dataset.ErrEmpty)
	}
	res, err := s.evaluator.Evaluate(ind, train)
	if err != nil {
		return EvalSummary{}, stageErr(StageEvaluation, err)
	}
	out := EvalSummary{Expression: tree.String(), Train: res}
	if len(s.inst.Data.Test) > 0 {
		ind.Param = res.Param
		test, err := s.evaluator.Test(ind, s.inst.Data.Test)
		if err != nil {
			return EvalSummary{}, stageErr(StageEvaluation, err)
		}
		out.Test = &test
	}
	return out, nil
}

// Primitives lists the primitives of the grammar cfg builds.
func (c *Client) Primitives(cfg Config) ([]PrimitiveInfo, error) {
	sels, err := cfg.Selections()
	if err != nil {
		return nil, stageErr(StageConfig, err)
	}
	inst, err := problem.Build(cfg.Problem, sels, rand.New(rand.NewSource(cfg.Run.Seed)))
	if err != nil {
		return nil, stageErr(buildStage(err), err)
	}
	g := inst.Grammar
	names := g.PrimitiveNames()
	out := make([]PrimitiveInfo, 0, len(names))
	for _, name := range names {
		p, _ := g.Primitive(name)
		in := make([]string, len(p.In))
		for i, t := range p.In {
			in[i] = t.String()
		}
		out = append(out, PrimitiveInfo{Name: name, In: in, Out: p.Out.String()})
	}
	return out, nil
}

// Runs returns stored runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, stageErr(StageStorage, err)
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (c *Client) FitnessHistory(ctx context.Context, ref RunRef) (model.FitnessHistory, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return model.FitnessHistory{}, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return model.FitnessHistory{}, stageErr(StageStorage, err)
	}
	if !ok {
		return model.FitnessHistory{}, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	return history, nil
}

func (c *Client) Diagnostics(ctx context.Context, ref RunRef) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, stageErr(StageStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("generation diagnostics not found for run id: %s", runID)
	}
	return diagnostics, nil
}

func (c *Client) TopIndividuals(ctx context.Context, ref RunRef) ([]model.IndividualRecord, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopIndividuals(ctx, runID)
	if err != nil {
		return nil, stageErr(StageStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("top individuals not found for run id: %s", runID)
	}
	return top, nil
}

func (c *Client) resolveRunID(ctx context.Context, ref RunRef) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if ref.RunID != "" {
		return ref.RunID, nil
	}
	if !ref.Latest {
		return "", errors.New("run id or latest is required")
	}
	runs, err := c.Runs(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].ID, nil
}

func toFitnessHistory(h evo.History) model.FitnessHistory {
	return model.FitnessHistory{
		Train:  append([]float64(nil), h.Train...),
		Val:    append([]float64(nil), h.Val...),
		ValMSE: append([]float64(nil), h.ValMSE...),
	}
}

func toDiagnostics(in []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, len(in))
	for i, d := range in {
		out[i] = model.GenerationDiagnostics(d)
	}
	return out
}

func topIndividuals(pop []*gp.Individual, k int) []model.IndividualRecord {
	if k <= 0 {
		k = defaultTopK
	}
	order := evo.RankByFitness(pop)
	if len(order) > k {
		order = order[:k]
	}
	out := make([]model.IndividualRecord, 0, len(order))
	for rank, idx := range order {
		ind := pop[idx]
		out = append(out, model.IndividualRecord{
			VersionedRecord: storage.CurrentVersion(),
			Rank:            rank,
			Expression:      ind.Tree.String(),
			Fitness:         ind.Fitness,
			Param:           ind.Param,
			Length:          ind.Tree.Len(),
			Height:          ind.Tree.Height(),
		})
	}
	return out
}
