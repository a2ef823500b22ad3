package gp

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
)

// Parse reads a tree in the Name(arg, ...) form produced by Tree.String.
// Identifiers resolve to terminals, numeric literals to scalar constants,
// and every result is type checked against the grammar. Literals take the
// first scalar ephemeral of the grammar as their source, so ephemeral
// mutation can redraw them.
func (g *Grammar) Parse(expr string) (Tree, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrTypeMismatch)
	}
	params := make(map[string]interface{}, len(g.termByName))
	for name, term := range g.termByName {
		if term.Ephemeral != nil {
			continue
		}
		params[name] = Tree{term.node(nil)}
	}
	var first error
	record := func(err error) error {
		if first == nil {
			first = err
		}
		return err
	}
	v, err := g.language(record).Evaluate(expr, params)
	if first != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, first)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	tree, err := asTree(v)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	if err := g.Validate(tree); err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	g.attachEphemeralSource(tree)
	return tree, nil
}

func (g *Grammar) attachEphemeralSource(tree Tree) {
	var source string
	for _, term := range g.terms[Scalar] {
		if term.Ephemeral != nil {
			source = term.Name
			break
		}
	}
	if source == "" {
		return
	}
	for i, n := range tree {
		if n.Kind != NodeConstant || n.Ret != Scalar || n.Source != "" {
			continue
		}
		if _, named := g.termByName[n.Name]; named {
			continue
		}
		tree[i].Source = source
	}
}

// language builds the gval dialect of the grammar. Builder errors go through
// record so their sentinel survives gval's own error wrapping.
func (g *Grammar) language(record func(error) error) gval.Language {
	exts := []gval.Language{
		gval.Base(),
		gval.PrefixOperator("-", func(_ context.Context, v interface{}) (interface{}, error) {
			t, err := asTree(v)
			if err != nil {
				return nil, record(err)
			}
			if len(t) != 1 || t[0].Kind != NodeConstant || !t[0].Ret.IsScalar() {
				return nil, record(fmt.Errorf("%w: negation of non-numeric operand", ErrTypeMismatch))
			}
			return Tree{constantNode(-t[0].Value.Scalar)}, nil
		}),
	}
	for name, p := range g.primByName {
		exts = append(exts, gval.Function(name, primitiveBuilder(p, record)))
	}
	return gval.NewLanguage(exts...)
}

func primitiveBuilder(p *Primitive, record func(error) error) func(args ...interface{}) (interface{}, error) {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != len(p.In) {
			return nil, record(fmt.Errorf("%w: %s takes %d operand(s), got %d", ErrTypeMismatch, p.Name, len(p.In), len(args)))
		}
		out := Tree{{Kind: NodePrimitive, Name: p.Name, Ret: p.Out, Prim: p}}
		for i, a := range args {
			sub, err := asTree(a)
			if err != nil {
				return nil, record(err)
			}
			if sub[0].Ret != p.In[i] {
				return nil, record(fmt.Errorf("%w: operand %d of %s is %s, want %s", ErrTypeMismatch, i, p.Name, sub[0].Ret, p.In[i]))
			}
			out = append(out, sub...)
		}
		return out, nil
	}
}

func asTree(v interface{}) (Tree, error) {
	switch x := v.(type) {
	case Tree:
		if len(x) == 0 {
			return nil, fmt.Errorf("%w: empty operand", ErrTypeMismatch)
		}
		return x, nil
	case float64:
		return Tree{constantNode(x)}, nil
	case int:
		return Tree{constantNode(float64(x))}, nil
	case nil:
		return nil, fmt.Errorf("%w: unresolved identifier", ErrUnknownPrimitive)
	default:
		return nil, fmt.Errorf("%w: unexpected operand %T", ErrTypeMismatch, v)
	}
}
