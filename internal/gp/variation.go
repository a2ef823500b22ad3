package gp

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
)

// DefaultMaxHeight is the bloat ceiling applied to offspring.
const DefaultMaxHeight = 17

// ExprSpec configures subtree generation for mutation.
type ExprSpec struct {
	Method Method
	Min    int
	Max    int
}

// CrossoverFunc exchanges subtrees between two trees. Inputs are not modified.
type CrossoverFunc func(rng *rand.Rand, a, b Tree) (Tree, Tree)

// MutationFunc returns a mutated copy of tree. Inputs are not modified.
type MutationFunc func(rng *rand.Rand, g *Grammar, tree Tree) (Tree, error)

// CxOnePoint swaps two random subtrees of the same type, never at the root.
// Trees without a common non-root type are returned unchanged.
func CxOnePoint(rng *rand.Rand, a, b Tree) (Tree, Tree) {
	return crossover(rng, a, b, nil, nil)
}

// CxOnePointLeafBiased is CxOnePoint restricted, per parent, to leaves with
// probability termpb and to internal nodes otherwise.
func CxOnePointLeafBiased(termpb float64) CrossoverFunc {
	return func(rng *rand.Rand, a, b Tree) (Tree, Tree) {
		if len(a) < 2 || len(b) < 2 {
			return a, b
		}
		pick := func() func(Node) bool {
			if rng.Float64() < termpb {
				return func(n Node) bool { return n.Arity() == 0 }
			}
			return func(n Node) bool { return n.Arity() > 0 }
		}
		return crossover(rng, a, b, pick(), pick())
	}
}

func crossover(rng *rand.Rand, a, b Tree, keepA, keepB func(Node) bool) (Tree, Tree) {
	if len(a) < 2 || len(b) < 2 {
		return a, b
	}
	typesA := indexByType(a, keepA)
	typesB := indexByType(b, keepB)
	var common []Type
	for t := range typesA {
		if _, ok := typesB[t]; ok {
			common = append(common, t)
		}
	}
	if len(common) == 0 {
		return a, b
	}
	sort.Slice(common, func(i, j int) bool { return common[i].String() < common[j].String() })
	t := common[rng.Intn(len(common))]
	ia := typesA[t][rng.Intn(len(typesA[t]))]
	ib := typesB[t][rng.Intn(len(typesB[t]))]
	ea := a.SearchSubtree(ia)
	eb := b.SearchSubtree(ib)
	subA := a[ia:ea].Clone()
	subB := b[ib:eb].Clone()
	return a.Replace(ia, ea, subB), b.Replace(ib, eb, subA)
}

func indexByType(t Tree, keep func(Node) bool) map[Type][]int {
	out := make(map[Type][]int)
	for i := 1; i < len(t); i++ {
		if keep != nil && !keep(t[i]) {
			continue
		}
		out[t[i].Ret] = append(out[t[i].Ret], i)
	}
	return out
}

// MutUniform replaces a random subtree with a freshly generated one of the
// same type.
func MutUniform(expr ExprSpec) MutationFunc {
	return func(rng *rand.Rand, g *Grammar, tree Tree) (Tree, error) {
		i := rng.Intn(len(tree))
		end := tree.SearchSubtree(i)
		sub, err := g.Generate(rng, expr.Method, expr.Min, expr.Max, tree[i].Ret)
		if err != nil {
			return nil, err
		}
		return tree.Replace(i, end, sub), nil
	}
}

// MutNodeReplacement swaps one non-root node for another of the same
// signature.
func MutNodeReplacement(rng *rand.Rand, g *Grammar, tree Tree) (Tree, error) {
	if len(tree) < 2 {
		return tree.Clone(), nil
	}
	out := tree.Clone()
	i := 1 + rng.Intn(len(tree)-1)
	n := out[i]
	if n.Arity() == 0 {
		terms := g.Terminals(n.Ret)
		if len(terms) == 0 {
			return out, nil
		}
		out[i] = terms[rng.Intn(len(terms))].node(rng)
		return out, nil
	}
	var candidates []*Primitive
	for _, p := range g.Primitives(n.Ret) {
		if sameTypes(p.In, n.Prim.In) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return out, nil
	}
	p := candidates[rng.Intn(len(candidates))]
	out[i] = Node{Kind: NodePrimitive, Name: p.Name, Ret: p.Out, Prim: p}
	return out, nil
}

// MutShrink replaces a random primitive by one of its arguments of the same
// type, shrinking the tree.
func MutShrink(rng *rand.Rand, _ *Grammar, tree Tree) (Tree, error) {
	if len(tree) < 3 || tree.Height() <= 1 {
		return tree.Clone(), nil
	}
	var candidates []int
	for i := 1; i < len(tree); i++ {
		n := tree[i]
		if n.Arity() == 0 {
			continue
		}
		for _, in := range n.Prim.In {
			if in == n.Ret {
				candidates = append(candidates, i)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return tree.Clone(), nil
	}
	i := candidates[rng.Intn(len(candidates))]
	prim := tree[i].Prim
	var argIdx []int
	for j, in := range prim.In {
		if in == prim.Out {
			argIdx = append(argIdx, j)
		}
	}
	which := argIdx[rng.Intn(len(argIdx))]
	start := i + 1
	for j := 0; j < which; j++ {
		start = tree.SearchSubtree(start)
	}
	end := tree.SearchSubtree(start)
	sub := tree[start:end].Clone()
	return tree.Replace(i, tree.SearchSubtree(i), sub), nil
}

// MutEphemeral redraws ephemeral constants: one at random, or all of them
// when all is true.
func MutEphemeral(all bool) MutationFunc {
	return func(rng *rand.Rand, g *Grammar, tree Tree) (Tree, error) {
		out := tree.Clone()
		var idx []int
		for i, n := range out {
			if n.Kind == NodeConstant && n.Source != "" {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			return out, nil
		}
		if !all {
			idx = []int{idx[rng.Intn(len(idx))]}
		}
		for _, i := range idx {
			term, ok := g.Terminal(out[i].Source)
			if !ok || term.Ephemeral == nil {
				return nil, fmt.Errorf("%w: ephemeral %s", ErrUnknownPrimitive, out[i].Source)
			}
			out[i] = term.node(rng)
		}
		return out, nil
	}
}

func sameTypes(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StaticLimit reverts offspring taller than MaxHeight to the corresponding
// parent.
type StaticLimit struct {
	MaxHeight int
	Logger    *slog.Logger
}

func (l StaticLimit) maxHeight() int {
	if l.MaxHeight <= 0 {
		return DefaultMaxHeight
	}
	return l.MaxHeight
}

func (l StaticLimit) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l StaticLimit) Crossover(fn CrossoverFunc) CrossoverFunc {
	return func(rng *rand.Rand, a, b Tree) (Tree, Tree) {
		ca, cb := fn(rng, a, b)
		if h := ca.Height(); h > l.maxHeight() {
			l.logger().Debug("bloat limit reverted crossover child", "height", h, "max_height", l.maxHeight())
			ca = a.Clone()
		}
		if h := cb.Height(); h > l.maxHeight() {
			l.logger().Debug("bloat limit reverted crossover child", "height", h, "max_height", l.maxHeight())
			cb = b.Clone()
		}
		return ca, cb
	}
}

func (l StaticLimit) Mutation(fn MutationFunc) MutationFunc {
	return func(rng *rand.Rand, g *Grammar, tree Tree) (Tree, error) {
		out, err := fn(rng, g, tree)
		if err != nil {
			return nil, err
		}
		if h := out.Height(); h > l.maxHeight() {
			l.logger().Debug("bloat limit reverted mutant", "height", h, "max_height", l.maxHeight())
			return tree.Clone(), nil
		}
		return out, nil
	}
}

// Variator applies crossover and mutation to a selected population.
type Variator struct {
	Grammar   *Grammar
	Crossover CrossoverFunc
	Mutation  MutationFunc
	CXPB      float64
	MUTPB     float64
}

// VarAnd clones the population, mates consecutive pairs with probability
// CXPB and mutates every individual with probability MUTPB. Touched
// offspring lose their fitness but keep their parent's Param.
func (v Variator) VarAnd(rng *rand.Rand, pop []*Individual) ([]*Individual, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	offspring := make([]*Individual, len(pop))
	for i, ind := range pop {
		offspring[i] = ind.Clone()
	}
	for i := 1; i < len(offspring); i += 2 {
		if rng.Float64() < v.CXPB {
			a, b := v.Crossover(rng, offspring[i-1].Tree, offspring[i].Tree)
			offspring[i-1].Tree, offspring[i].Tree = a, b
			offspring[i-1].Invalidate()
			offspring[i].Invalidate()
		}
	}
	for _, ind := range offspring {
		if rng.Float64() < v.MUTPB {
			tree, err := v.Mutation(rng, v.Grammar, ind.Tree)
			if err != nil {
				return nil, fmt.Errorf("mutate %s: %w", ind.Tree, err)
			}
			ind.Tree = tree
			ind.Invalidate()
		}
	}
	return offspring, nil
}
