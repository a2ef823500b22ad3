package fitness

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	lru "github.com/hashicorp/golang-lru"

	"stgp/internal/dataset"
	"stgp/internal/gp"
)

// DefaultSentinel is the error assigned to a sample whose solve diverged.
const DefaultSentinel = 100.0

var (
	ErrCompile    = errors.New("compile individual")
	ErrNoSamples  = errors.New("no samples to evaluate")
	ErrNilProblem = errors.New("problem is required")
)

// Problem turns a compiled energy into per-sample objectives over the
// unknown state vector.
type Problem interface {
	Name() string
	// StateDim is the number of free unknowns of the inner solve.
	StateDim() int
	InitialGuess() []float64
	// Objective returns the total energy of a sample, boundary penalty
	// included. coupling is ignored by non-parametric problems.
	Objective(energy gp.Func, s dataset.Sample, coupling float64) func(x []float64) float64
	// Field expands a state vector to the full observed field.
	Field(x []float64, s dataset.Sample) []float64
}

// ParametricProblem has a physical parameter that can be fitted jointly
// with the state on one sample.
type ParametricProblem interface {
	Problem
	// Coupling maps the individual's parameter to the coupling used by
	// Objective for sample s, and Param inverts it.
	Coupling(s dataset.Sample, param float64) float64
	Param(s dataset.Sample, coupling float64) float64
}

type Config struct {
	Problem  Problem
	Penalty  Penalty
	Solver   SolverSettings
	Bilevel  bool
	Sentinel float64
	// RoundDigits rounds the mean error when > 0.
	RoundDigits int
	CacheSize   int
	Logger      *slog.Logger
}

// Result is the outcome of evaluating one individual on one split.
type Result struct {
	Fitness float64
	MSE     float64
	// Param is the individual's parameter after evaluation; ParamFitted
	// reports whether a bilevel fit produced it.
	Param       float64
	ParamFitted bool
	// Errors holds the clamped per-sample errors.
	Errors []float64
}

// Evaluator scores individuals. It holds only read-only data plus a
// concurrency-safe compile cache, so one Evaluator serves every worker.
type Evaluator struct {
	grammar *gp.Grammar
	cfg     Config
	solver  Solver
	cache   *lru.Cache
	logger  *slog.Logger
}

func NewEvaluator(g *gp.Grammar, cfg Config) (*Evaluator, error) {
	if g == nil {
		return nil, fmt.Errorf("grammar is required")
	}
	if cfg.Problem == nil {
		return nil, ErrNilProblem
	}
	if cfg.Sentinel <= 0 {
		cfg.Sentinel = DefaultSentinel
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.Bilevel {
		if _, ok := cfg.Problem.(ParametricProblem); !ok {
			return nil, fmt.Errorf("bilevel fit requires a parametric problem, %s is not", cfg.Problem.Name())
		}
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("compile cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		grammar: g,
		cfg:     cfg,
		solver:  NewSolver(cfg.Solver),
		cache:   cache,
		logger:  logger,
	}, nil
}

func (e *Evaluator) Grammar() *gp.Grammar {
	return e.grammar
}

func (e *Evaluator) Problem() Problem {
	return e.cfg.Problem
}

// Compile returns the energy of tree, memoized by its printed form.
func (e *Evaluator) Compile(tree gp.Tree) (gp.Func, error) {
	key := tree.String()
	if v, ok := e.cache.Get(key); ok {
		return v.(gp.Func), nil
	}
	fn, err := e.grammar.Compile(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, key, err)
	}
	e.cache.Add(key, fn)
	return fn, nil
}

// Evaluate scores ind on samples with the configured bilevel setting. The
// individual is not modified; a fitted parameter is returned in the result.
func (e *Evaluator) Evaluate(ind *gp.Individual, samples []dataset.Sample) (Result, error) {
	return e.evaluate(ind, samples, e.cfg.Bilevel)
}

// Test scores ind with its stored parameter and no bilevel fit.
func (e *Evaluator) Test(ind *gp.Individual, samples []dataset.Sample) (Result, error) {
	return e.evaluate(ind, samples, false)
}

func (e *Evaluator) evaluate(ind *gp.Individual, samples []dataset.Sample, bilevel bool) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrNoSamples
	}
	energy, err := e.Compile(ind.Tree)
	if err != nil {
		return Result{}, err
	}
	res := Result{Param: ind.Param, Errors: make([]float64, len(samples))}
	total := 0.0
	for i, s := range samples {
		var sampleErr float64
		if i == 0 && bilevel {
			var param float64
			sampleErr, param = e.fitSample(energy, s, res.Param)
			if finite(param) {
				res.Param, res.ParamFitted = param, true
			}
		} else {
			_, sampleErr = e.solveSample(energy, s, res.Param)
		}
		if !finite(sampleErr) || sampleErr > e.cfg.Sentinel {
			e.logger.Debug("clamped sample error", "individual", ind.Tree.String(), "sample", i, "error", sampleErr)
			sampleErr = e.cfg.Sentinel
		}
		res.Errors[i] = sampleErr
		total += sampleErr
	}
	mse := total / float64(len(samples))
	if e.cfg.RoundDigits > 0 {
		scale := math.Pow(10, float64(e.cfg.RoundDigits))
		mse = math.Round(mse*scale) / scale
	}
	res.MSE = mse
	res.Fitness = e.cfg.Penalty.Apply(mse, ind.Tree)
	return res, nil
}

// Solutions returns the solved field of every sample, using the stored
// parameter.
func (e *Evaluator) Solutions(ind *gp.Individual, samples []dataset.Sample) ([][]float64, error) {
	energy, err := e.Compile(ind.Tree)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(samples))
	for i, s := range samples {
		field, _ := e.solveSample(energy, s, ind.Param)
		out[i] = field
	}
	return out, nil
}

func (e *Evaluator) coupling(s dataset.Sample, param float64) float64 {
	if pp, ok := e.cfg.Problem.(ParametricProblem); ok {
		return pp.Coupling(s, param)
	}
	return param
}

func (e *Evaluator) solveSample(energy gp.Func, s dataset.Sample, param float64) ([]float64, float64) {
	prb := e.cfg.Problem
	obj := prb.Objective(energy, s, e.coupling(s, param))
	x, _ := e.solver.Minimize(obj, prb.InitialGuess())
	field := prb.Field(x, s)
	return field, squaredDistance(field, s.Target)
}

func (e *Evaluator) fitSample(energy gp.Func, s dataset.Sample, param float64) (float64, float64) {
	pp := e.cfg.Problem.(ParametricProblem)
	inner := func(c float64) func([]float64) float64 {
		return pp.Objective(energy, s, c)
	}
	outer := func(x []float64) float64 {
		return squaredDistance(pp.Field(x, s), s.Target)
	}
	_, c, fval := e.solver.Bilevel(inner, outer, pp.InitialGuess(), pp.Coupling(s, param))
	if !finite(fval) {
		return math.NaN(), math.NaN()
	}
	return fval, pp.Param(s, c)
}

func squaredDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.NaN()
	}
	total := 0.0
	for i := range a {
		d := a[i] - b[i]
		total += d * d
	}
	return total
}
