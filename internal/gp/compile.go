package gp

import "fmt"

// Func is a compiled tree. args are bound to the grammar's arguments in order.
type Func func(args []Value) Value

type evalNode func(args []Value) Value

// Compile turns a validated tree into a closure. It never evaluates the tree.
func (g *Grammar) Compile(tree Tree) (Func, error) {
	if err := g.Validate(tree); err != nil {
		return nil, err
	}
	pos := 0
	root, err := compileNode(tree, &pos)
	if err != nil {
		return nil, err
	}
	nargs := len(g.args)
	return func(args []Value) Value {
		if len(args) != nargs {
			panic(fmt.Sprintf("compiled tree takes %d argument(s), got %d", nargs, len(args)))
		}
		return root(args)
	}, nil
}

func compileNode(tree Tree, pos *int) (evalNode, error) {
	if *pos >= len(tree) {
		return nil, fmt.Errorf("%w: truncated tree", ErrTypeMismatch)
	}
	n := tree[*pos]
	*pos++
	switch n.Kind {
	case NodeArgument:
		idx := n.Arg
		return func(args []Value) Value { return args[idx] }, nil
	case NodeConstant:
		v := n.Value
		return func([]Value) Value { return v }, nil
	}
	if n.Prim == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrimitive, n.Name)
	}
	children := make([]evalNode, len(n.Prim.In))
	for i := range children {
		child, err := compileNode(tree, pos)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	op := n.Prim.Op
	return func(args []Value) Value {
		vals := make([]Value, len(children))
		for i, c := range children {
			vals[i] = c(args)
		}
		return op(vals)
	}, nil
}
