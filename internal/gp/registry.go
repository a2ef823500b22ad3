package gp

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrOperatorExists   = errors.New("operator already registered")
	ErrOperatorNotFound = errors.New("operator not found")
)

// OperatorArgs carries the keyword arguments of a configured operator.
type OperatorArgs struct {
	// TermPB is the leaf probability of cxOnePointLeafBiased.
	TermPB float64
	// Expr is the subtree generator used by mutUniform.
	Expr ExprSpec
	// Mode is "one" or "all" for mutEphemeral.
	Mode string
}

type (
	CrossoverFactory func(OperatorArgs) (CrossoverFunc, error)
	MutationFactory  func(OperatorArgs) (MutationFunc, error)
)

var operatorRegistry = struct {
	mu         sync.RWMutex
	crossovers map[string]CrossoverFactory
	mutations  map[string]MutationFactory
	generators map[string]Method
}{
	crossovers: map[string]CrossoverFactory{
		"cxOnePoint": func(OperatorArgs) (CrossoverFunc, error) {
			return CxOnePoint, nil
		},
		"cxOnePointLeafBiased": func(args OperatorArgs) (CrossoverFunc, error) {
			if args.TermPB < 0 || args.TermPB > 1 {
				return nil, fmt.Errorf("termpb must be in [0,1], got %g", args.TermPB)
			}
			return CxOnePointLeafBiased(args.TermPB), nil
		},
	},
	mutations: map[string]MutationFactory{
		"mutUniform": func(args OperatorArgs) (MutationFunc, error) {
			if args.Expr.Max < args.Expr.Min || args.Expr.Min < 0 {
				return nil, fmt.Errorf("invalid expr_mut height range [%d,%d]", args.Expr.Min, args.Expr.Max)
			}
			return MutUniform(args.Expr), nil
		},
		"mutNodeReplacement": func(OperatorArgs) (MutationFunc, error) {
			return MutNodeReplacement, nil
		},
		"mutShrink": func(OperatorArgs) (MutationFunc, error) {
			return MutShrink, nil
		},
		"mutEphemeral": func(args OperatorArgs) (MutationFunc, error) {
			switch args.Mode {
			case "", "one":
				return MutEphemeral(false), nil
			case "all":
				return MutEphemeral(true), nil
			default:
				return nil, fmt.Errorf("mutEphemeral mode must be one or all, got %q", args.Mode)
			}
		},
	},
	generators: map[string]Method{
		"genGrow":        Grow,
		"genFull":        Full,
		"genHalfAndHalf": HalfAndHalf,
	},
}

func canonical(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "gp.")
}

// RegisterCrossover adds a named crossover factory.
func RegisterCrossover(name string, f CrossoverFactory) error {
	if name == "" || f == nil {
		return errors.New("crossover name and factory are required")
	}
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	if _, exists := operatorRegistry.crossovers[name]; exists {
		return fmt.Errorf("%w: %s", ErrOperatorExists, name)
	}
	operatorRegistry.crossovers[name] = f
	return nil
}

// RegisterMutation adds a named mutation factory.
func RegisterMutation(name string, f MutationFactory) error {
	if name == "" || f == nil {
		return errors.New("mutation name and factory are required")
	}
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	if _, exists := operatorRegistry.mutations[name]; exists {
		return fmt.Errorf("%w: %s", ErrOperatorExists, name)
	}
	operatorRegistry.mutations[name] = f
	return nil
}

// LookupCrossover resolves a crossover by name ("gp." prefix accepted).
func LookupCrossover(name string, args OperatorArgs) (CrossoverFunc, error) {
	operatorRegistry.mu.RLock()
	f, ok := operatorRegistry.crossovers[canonical(name)]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: crossover %s", ErrOperatorNotFound, name)
	}
	return f(args)
}

// LookupMutation resolves a mutation by name ("gp." prefix accepted).
func LookupMutation(name string, args OperatorArgs) (MutationFunc, error) {
	operatorRegistry.mu.RLock()
	f, ok := operatorRegistry.mutations[canonical(name)]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: mutation %s", ErrOperatorNotFound, name)
	}
	return f(args)
}

// LookupGenerator resolves a tree generation method by name.
func LookupGenerator(name string) (Method, error) {
	operatorRegistry.mu.RLock()
	m, ok := operatorRegistry.generators[canonical(name)]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: generator %s", ErrOperatorNotFound, name)
	}
	return m, nil
}

// ListOperators returns the registered crossover, mutation and generator
// names, each sorted.
func ListOperators() (crossovers, mutations, generators []string) {
	operatorRegistry.mu.RLock()
	defer operatorRegistry.mu.RUnlock()
	for name := range operatorRegistry.crossovers {
		crossovers = append(crossovers, name)
	}
	for name := range operatorRegistry.mutations {
		mutations = append(mutations, name)
	}
	for name := range operatorRegistry.generators {
		generators = append(generators, name)
	}
	sort.Strings(crossovers)
	sort.Strings(mutations)
	sort.Strings(generators)
	return crossovers, mutations, generators
}
