package evo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"stgp/internal/gp"
)

var ErrEmptyPopulation = errors.New("population is empty")

// Selector picks one parent from a population. Lower fitness is better.
type Selector interface {
	Name() string
	Pick(rng *rand.Rand, pop []*gp.Individual) (*gp.Individual, error)
}

// TournamentSelector draws Size aspirants uniformly with replacement and
// returns the fittest; ties go to the earliest draw.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Pick(rng *rand.Rand, pop []*gp.Individual) (*gp.Individual, error) {
	aspirants, err := drawAspirants(rng, pop, s.Size)
	if err != nil {
		return nil, err
	}
	best := aspirants[0]
	for _, cand := range aspirants[1:] {
		if cand.Fitness < best.Fitness {
			best = cand
		}
	}
	return best, nil
}

// StochasticTournamentSelector runs a tournament and then, with
// probability Prob[1], lets the smaller of the two best aspirants win
// instead of the fitter one. Prob must sum to 1.
type StochasticTournamentSelector struct {
	Size int
	Prob [2]float64
}

func (StochasticTournamentSelector) Name() string {
	return "stochastic_tournament"
}

func (s StochasticTournamentSelector) Validate() error {
	if s.Prob[0] < 0 || s.Prob[1] < 0 || math.Abs(s.Prob[0]+s.Prob[1]-1) > 1e-9 {
		return fmt.Errorf("stochastic tournament probabilities %v must be non-negative and sum to 1", s.Prob)
	}
	return nil
}

func (s StochasticTournamentSelector) Pick(rng *rand.Rand, pop []*gp.Individual) (*gp.Individual, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	aspirants, err := drawAspirants(rng, pop, s.Size)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(aspirants, func(i, j int) bool {
		return aspirants[i].Fitness < aspirants[j].Fitness
	})
	if len(aspirants) < 2 || s.Prob[1] == 0 {
		return aspirants[0], nil
	}
	favorSmall := s.Prob[1] == 1 || rng.Float64() < s.Prob[1]
	if !favorSmall {
		return aspirants[0], nil
	}
	if aspirants[1].Tree.Len() < aspirants[0].Tree.Len() {
		return aspirants[1], nil
	}
	return aspirants[0], nil
}

func drawAspirants(rng *rand.Rand, pop []*gp.Individual, size int) ([]*gp.Individual, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(pop) == 0 {
		return nil, ErrEmptyPopulation
	}
	if size <= 0 {
		return nil, fmt.Errorf("tournament size must be > 0, got %d", size)
	}
	out := make([]*gp.Individual, size)
	for i := range out {
		out[i] = pop[rng.Intn(len(pop))]
	}
	return out, nil
}

// EliteCount is floor(frac * n).
func EliteCount(frac float64, n int) int {
	return int(math.Floor(frac * float64(n)))
}

// RankByFitness returns the indices of pop ordered by ascending fitness,
// keeping the original order among ties.
func RankByFitness(pop []*gp.Individual) []int {
	order := make([]int, len(pop))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pop[order[a]].Fitness < pop[order[b]].Fitness
	})
	return order
}

// SelectElitist returns len(pop) clones: the floor(frac*N) fittest
// individuals first, then tournament winners. pop is not modified.
func SelectElitist(rng *rand.Rand, pop []*gp.Individual, frac float64, sel Selector) ([]*gp.Individual, error) {
	if len(pop) == 0 {
		return nil, ErrEmptyPopulation
	}
	if frac < 0 || frac > 1 {
		return nil, fmt.Errorf("elitist fraction must be in [0,1], got %g", frac)
	}
	if sel == nil {
		return nil, fmt.Errorf("selector is required")
	}
	k := EliteCount(frac, len(pop))
	out := make([]*gp.Individual, 0, len(pop))
	for _, idx := range RankByFitness(pop)[:k] {
		out = append(out, pop[idx].Clone())
	}
	for len(out) < len(pop) {
		winner, err := sel.Pick(rng, pop)
		if err != nil {
			return nil, fmt.Errorf("select parent with %s: %w", sel.Name(), err)
		}
		out = append(out, winner.Clone())
	}
	return out, nil
}
