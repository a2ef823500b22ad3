package gp

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

var ErrNoCandidate = errors.New("no primitive or terminal for requested type")

// Arg is a free argument of the compiled energy, in call order.
type Arg struct {
	Name string
	Type Type
}

// Terminal is a leaf of the grammar: an argument, a named constant or an
// ephemeral scalar generator.
type Terminal struct {
	Name  string
	Type  Type
	Arg   int
	Value Value
	// Ephemeral draws a fresh constant every time the terminal is chosen.
	Ephemeral func(rng *rand.Rand) float64
}

func (t Terminal) node(rng *rand.Rand) Node {
	switch {
	case t.Ephemeral != nil:
		n := constantNode(t.Ephemeral(rng))
		n.Source = t.Name
		return n
	case t.Arg >= 0:
		return Node{Kind: NodeArgument, Name: t.Name, Ret: t.Type, Arg: t.Arg}
	default:
		return Node{Kind: NodeConstant, Name: t.Name, Ret: t.Type, Value: t.Value}
	}
}

// Grammar is the typed primitive set. It is built once per run and only read
// afterwards, so it can be shared across goroutines.
type Grammar struct {
	ret   Type
	args  []Arg
	prims map[Type][]*Primitive
	terms map[Type][]Terminal

	primByName map[string]*Primitive
	termByName map[string]Terminal

	minHeight map[Type]int
	// probability of closing a grow branch early
	terminalRatio float64
}

// NewGrammar creates a grammar whose trees return ret and take args.
func NewGrammar(ret Type, args ...Arg) (*Grammar, error) {
	g := &Grammar{
		ret:        ret,
		args:       args,
		prims:      make(map[Type][]*Primitive),
		terms:      make(map[Type][]Terminal),
		primByName: make(map[string]*Primitive),
		termByName: make(map[string]Terminal),
	}
	for i, a := range args {
		if err := g.addTerminal(Terminal{Name: a.Name, Type: a.Type, Arg: i}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Grammar) Return() Type {
	return g.ret
}

func (g *Grammar) Args() []Arg {
	return g.args
}

func (g *Grammar) AddPrimitive(p Primitive) error {
	if _, exists := g.primByName[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNameCollision, p.Name)
	}
	if _, exists := g.termByName[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNameCollision, p.Name)
	}
	stored := p
	g.prims[p.Out] = append(g.prims[p.Out], &stored)
	g.primByName[p.Name] = &stored
	g.minHeight = nil
	return nil
}

// AddSelections adds every catalog primitive matched by the selections.
func (g *Grammar) AddSelections(c *Catalog, sels ...Selection) error {
	for _, sel := range sels {
		prims, err := c.Select(sel)
		if err != nil {
			return err
		}
		for _, p := range prims {
			if err := g.AddPrimitive(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddConstant adds a named constant leaf.
func (g *Grammar) AddConstant(name string, t Type, v Value) error {
	return g.addTerminal(Terminal{Name: name, Type: t, Arg: -1, Value: v})
}

// AddEphemeral adds a scalar constant generator.
func (g *Grammar) AddEphemeral(name string, gen func(rng *rand.Rand) float64) error {
	if gen == nil {
		return fmt.Errorf("ephemeral %s: generator is required", name)
	}
	return g.addTerminal(Terminal{Name: name, Type: Scalar, Arg: -1, Ephemeral: gen})
}

func (g *Grammar) addTerminal(t Terminal) error {
	if t.Name == "" {
		return errors.New("terminal name is required")
	}
	if _, exists := g.termByName[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNameCollision, t.Name)
	}
	if _, exists := g.primByName[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNameCollision, t.Name)
	}
	g.terms[t.Type] = append(g.terms[t.Type], t)
	g.termByName[t.Name] = t
	g.minHeight = nil
	return nil
}

// Primitives returns the primitives producing t.
func (g *Grammar) Primitives(t Type) []*Primitive {
	return g.prims[t]
}

// Terminals returns the terminals of type t.
func (g *Grammar) Terminals(t Type) []Terminal {
	return g.terms[t]
}

func (g *Grammar) Primitive(name string) (*Primitive, bool) {
	p, ok := g.primByName[name]
	return p, ok
}

func (g *Grammar) Terminal(name string) (Terminal, bool) {
	t, ok := g.termByName[name]
	return t, ok
}

// PrimitiveNames returns the sorted names of all primitives in the grammar.
func (g *Grammar) PrimitiveNames() []string {
	names := make([]string, 0, len(g.primByName))
	for name := range g.primByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Types returns every type that has a primitive or terminal.
func (g *Grammar) Types() []Type {
	seen := make(map[Type]struct{})
	var out []Type
	for t := range g.prims {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for t := range g.terms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Freeze computes the generation tables. It is called by the run setup once
// the grammar is complete; Generate calls it lazily otherwise.
func (g *Grammar) Freeze() {
	if g.minHeight != nil {
		return
	}
	nTerms, nPrims := 0, 0
	for _, ts := range g.terms {
		nTerms += len(ts)
	}
	for _, ps := range g.prims {
		nPrims += len(ps)
	}
	if nTerms+nPrims > 0 {
		g.terminalRatio = float64(nTerms) / float64(nTerms+nPrims)
	}

	minHeight := make(map[Type]int)
	for t, ts := range g.terms {
		if len(ts) > 0 {
			minHeight[t] = 0
		}
	}
	for changed := true; changed; {
		changed = false
		for out, ps := range g.prims {
			for _, p := range ps {
				h, ok := primitiveMinHeight(minHeight, p)
				if !ok {
					continue
				}
				if cur, exists := minHeight[out]; !exists || h < cur {
					minHeight[out] = h
					changed = true
				}
			}
		}
	}
	g.minHeight = minHeight
}

func primitiveMinHeight(minHeight map[Type]int, p *Primitive) (int, bool) {
	h := 0
	for _, in := range p.In {
		ch, ok := minHeight[in]
		if !ok {
			return 0, false
		}
		if ch > h {
			h = ch
		}
	}
	return h + 1, true
}

// MinHeight is the height of the smallest tree of type t, or false when no
// finite tree of that type exists.
func (g *Grammar) MinHeight(t Type) (int, bool) {
	g.Freeze()
	h, ok := g.minHeight[t]
	return h, ok
}

// Validate checks that tree is a well-typed expression of the grammar's
// return type.
func (g *Grammar) Validate(tree Tree) error {
	return g.validateAs(tree, g.ret)
}

func (g *Grammar) validateAs(tree Tree, want Type) error {
	if len(tree) == 0 {
		return fmt.Errorf("%w: empty tree", ErrTypeMismatch)
	}
	expected := []Type{want}
	for i, n := range tree {
		if len(expected) == 0 {
			return fmt.Errorf("%w: trailing node %d (%s)", ErrTypeMismatch, i, n.Name)
		}
		t := expected[len(expected)-1]
		expected = expected[:len(expected)-1]
		if n.Ret != t {
			return fmt.Errorf("%w: node %d (%s) returns %s, want %s", ErrTypeMismatch, i, n.Name, n.Ret, t)
		}
		switch n.Kind {
		case NodePrimitive:
			p, ok := g.primByName[n.Name]
			if !ok || n.Prim == nil {
				return fmt.Errorf("%w: %s", ErrUnknownPrimitive, n.Name)
			}
			if p.Out != n.Ret {
				return fmt.Errorf("%w: node %d (%s) output %s", ErrTypeMismatch, i, n.Name, p.Out)
			}
			for j := len(p.In) - 1; j >= 0; j-- {
				expected = append(expected, p.In[j])
			}
		case NodeArgument:
			if n.Arg < 0 || n.Arg >= len(g.args) || g.args[n.Arg].Type != n.Ret {
				return fmt.Errorf("%w: bad argument node %s", ErrTypeMismatch, n.Name)
			}
		}
	}
	if len(expected) != 0 {
		return fmt.Errorf("%w: tree is missing %d operand(s)", ErrTypeMismatch, len(expected))
	}
	return nil
}
