package gp

import (
	"fmt"
	"math/rand"
)

// Method is a tree generation strategy.
type Method int

const (
	Grow Method = iota
	Full
	HalfAndHalf
)

func (m Method) String() string {
	switch m {
	case Full:
		return "full"
	case HalfAndHalf:
		return "half_and_half"
	default:
		return "grow"
	}
}

// Generate draws a height in [min,max] and builds a random tree of type t.
// Choices are restricted to primitives that can still close within the
// remaining height, so Full may stop early when the grammar forces a leaf.
// A drawn height below MinHeight(t) is raised to it, since no smaller tree
// of type t exists.
func (g *Grammar) Generate(rng *rand.Rand, method Method, min, max int, t Type) (Tree, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if min < 0 || max < min {
		return nil, fmt.Errorf("invalid height range [%d,%d]", min, max)
	}
	g.Freeze()
	if method == HalfAndHalf {
		if rng.Intn(2) == 0 {
			method = Grow
		} else {
			method = Full
		}
	}
	height := min + rng.Intn(max-min+1)
	floor, ok := g.minHeight[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no finite tree", ErrNoCandidate, t)
	}
	if height < floor {
		height = floor
	}
	var tree Tree
	if err := g.generate(rng, method, min, height, 0, t, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (g *Grammar) generate(rng *rand.Rand, method Method, min, height, depth int, t Type, out *Tree) error {
	remaining := height - depth
	eligible := g.eligiblePrimitives(t, remaining)
	terms := g.terms[t]

	stop := depth >= height
	if method == Grow && depth >= min && rng.Float64() < g.terminalRatio {
		stop = true
	}
	if len(eligible) == 0 {
		stop = true
	}
	if stop && len(terms) == 0 {
		// No leaf of this type: fall back to the cheapest closing primitive.
		// Its height is MinHeight(t), which the parent already fit into the
		// remaining height.
		eligible = g.cheapestPrimitives(t)
		if len(eligible) == 0 {
			return fmt.Errorf("%w: %s at depth %d", ErrNoCandidate, t, depth)
		}
		stop = false
	}

	if stop {
		term := terms[rng.Intn(len(terms))]
		*out = append(*out, term.node(rng))
		return nil
	}

	p := eligible[rng.Intn(len(eligible))]
	*out = append(*out, Node{Kind: NodePrimitive, Name: p.Name, Ret: p.Out, Prim: p})
	for _, in := range p.In {
		if err := g.generate(rng, method, min, height, depth+1, in, out); err != nil {
			return err
		}
	}
	return nil
}

// eligiblePrimitives returns the primitives of type t whose smallest closing
// subtree fits in the remaining height.
func (g *Grammar) eligiblePrimitives(t Type, remaining int) []*Primitive {
	var out []*Primitive
	for _, p := range g.prims[t] {
		h, ok := primitiveMinHeight(g.minHeight, p)
		if ok && h <= remaining {
			out = append(out, p)
		}
	}
	return out
}

func (g *Grammar) cheapestPrimitives(t Type) []*Primitive {
	best := -1
	var out []*Primitive
	for _, p := range g.prims[t] {
		h, ok := primitiveMinHeight(g.minHeight, p)
		if !ok {
			continue
		}
		switch {
		case best < 0 || h < best:
			best = h
			out = []*Primitive{p}
		case h == best:
			out = append(out, p)
		}
	}
	return out
}
