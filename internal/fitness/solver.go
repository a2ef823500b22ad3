package fitness

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// SolverSettings bound the inner and outer minimizations. Zero fields take
// the defaults of DefaultSolverSettings.
type SolverSettings struct {
	GradTol       float64 `json:"grad_tol" yaml:"grad_tol" toml:"grad_tol"`
	FuncTol       float64 `json:"func_tol" yaml:"func_tol" toml:"func_tol"`
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations" toml:"max_iterations"`
	MaxFuncEvals  int     `json:"max_func_evals" yaml:"max_func_evals" toml:"max_func_evals"`
	// Outer bilevel iterations over the coupling parameter.
	OuterIterations int `json:"outer_iterations" yaml:"outer_iterations" toml:"outer_iterations"`
}

func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		GradTol:         1e-6,
		FuncTol:         1e-10,
		MaxIterations:   500,
		MaxFuncEvals:    20000,
		OuterIterations: 40,
	}
}

func (s SolverSettings) withDefaults() SolverSettings {
	d := DefaultSolverSettings()
	if s.GradTol > 0 {
		d.GradTol = s.GradTol
	}
	if s.FuncTol > 0 {
		d.FuncTol = s.FuncTol
	}
	if s.MaxIterations > 0 {
		d.MaxIterations = s.MaxIterations
	}
	if s.MaxFuncEvals > 0 {
		d.MaxFuncEvals = s.MaxFuncEvals
	}
	if s.OuterIterations > 0 {
		d.OuterIterations = s.OuterIterations
	}
	return d
}

// Solver minimizes energies with L-BFGS and central finite-difference
// gradients. It is deterministic and never fails: a diverging or panicking
// objective yields a NaN location, which callers clamp.
type Solver struct {
	Settings SolverSettings
}

func NewSolver(s SolverSettings) Solver {
	return Solver{Settings: s.withDefaults()}
}

// Minimize returns the best point found from x0 and its objective value.
func (s Solver) Minimize(f func([]float64) float64, x0 []float64) (x []float64, fval float64) {
	defer func() {
		if r := recover(); r != nil {
			x, fval = nanVector(len(x0)), math.NaN()
		}
	}()
	if len(x0) == 0 {
		return nil, f(nil)
	}
	fdSettings := &fd.Settings{Formula: fd.Central}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, fdSettings)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: s.Settings.GradTol,
		MajorIterations:   s.Settings.MaxIterations,
		FuncEvaluations:   s.Settings.MaxFuncEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.Settings.FuncTol,
			Relative:   s.Settings.FuncTol,
			Iterations: 5,
		},
	}
	start := append([]float64(nil), x0...)
	// A failed line search still reports the best location, so the error
	// only matters through the returned value.
	result, _ := optimize.Minimize(problem, start, settings, &optimize.LBFGS{})
	if result == nil || !finite(result.F) {
		return nanVector(len(x0)), math.NaN()
	}
	return append([]float64(nil), result.X...), result.F
}

// Bilevel jointly fits the state and a scalar coupling: the outer loop
// minimizes outer(x*(c)) over c with Nelder-Mead, where x*(c) minimizes
// inner(c). It returns the fitted state, coupling and outer value.
func (s Solver) Bilevel(inner func(c float64) func([]float64) float64, outer func([]float64) float64, x0 []float64, c0 float64) (x []float64, c, fval float64) {
	defer func() {
		if r := recover(); r != nil {
			x, c, fval = nanVector(len(x0)), c0, math.NaN()
		}
	}()
	bestX := nanVector(len(x0))
	bestC, bestF := c0, math.Inf(1)
	solveAt := func(coupling float64) float64 {
		xs, _ := s.Minimize(inner(coupling), x0)
		v := outer(xs)
		if math.IsNaN(v) {
			v = math.Inf(1)
		}
		if v < bestF {
			bestF, bestC, bestX = v, coupling, xs
		}
		return v
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 { return solveAt(p[0]) },
	}
	settings := &optimize.Settings{
		MajorIterations: s.Settings.OuterIterations,
		FuncEvaluations: 3 * s.Settings.OuterIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.Settings.FuncTol,
			Iterations: 5,
		},
	}
	_, _ = optimize.Minimize(problem, []float64{c0}, settings, &optimize.NelderMead{})
	if math.IsInf(bestF, 1) {
		return bestX, bestC, math.NaN()
	}
	return bestX, bestC, bestF
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nanVector(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
