package evo

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"stgp/internal/dataset"
	"stgp/internal/fitness"
	"stgp/internal/gp"
)

// Scorer evaluates one individual on a split without modifying it.
// *fitness.Evaluator implements it.
type Scorer interface {
	Evaluate(ind *gp.Individual, samples []dataset.Sample) (fitness.Result, error)
}

// ParallelEvaluator maps a Scorer over a population with a bounded
// goroutine pool. The population is cut into Splits contiguous batches and
// each batch is one task; results come back in population order.
type ParallelEvaluator struct {
	Scorer Scorer
	Jobs   int
	Splits int
}

func (p ParallelEvaluator) Map(ctx context.Context, inds []*gp.Individual, samples []dataset.Sample) ([]fitness.Result, error) {
	if p.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	n := len(inds)
	results := make([]fitness.Result, n)
	if n == 0 {
		return results, nil
	}
	jobs := p.Jobs
	if jobs <= 0 {
		jobs = 1
	}
	splits := p.Splits
	if splits <= 0 {
		splits = jobs
	}
	if splits > n {
		splits = n
	}

	workers := pool.New().WithMaxGoroutines(jobs).WithContext(ctx).WithCancelOnError().WithFirstError()
	for b := 0; b < splits; b++ {
		lo, hi := b*n/splits, (b+1)*n/splits
		workers.Go(func(ctx context.Context) error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := p.Scorer.Evaluate(inds[i], samples)
				if err != nil {
					return fmt.Errorf("evaluate individual %d (%s): %w", i, inds[i].Tree, err)
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateInvalid scores the individuals whose fitness is stale and writes
// fitness and fitted parameter back. It returns the number of evaluations.
func (p ParallelEvaluator) EvaluateInvalid(ctx context.Context, pop []*gp.Individual, samples []dataset.Sample) (int, error) {
	var invalid []*gp.Individual
	for _, ind := range pop {
		if !ind.Valid {
			invalid = append(invalid, ind)
		}
	}
	results, err := p.Map(ctx, invalid, samples)
	if err != nil {
		return 0, err
	}
	for i, ind := range invalid {
		ind.Fitness = results[i].Fitness
		ind.Param = results[i].Param
		ind.Valid = true
	}
	return len(invalid), nil
}
