package gp

import (
	"strconv"
	"strings"
)

type NodeKind int

const (
	NodePrimitive NodeKind = iota
	NodeArgument
	NodeConstant
)

// Node is one element of a prefix-ordered tree.
type Node struct {
	Kind NodeKind
	Name string
	Ret  Type
	// Prim is set for primitive nodes and points into the grammar's table.
	Prim *Primitive
	// Arg is the argument index for argument nodes.
	Arg int
	// Value holds the payload of constant nodes.
	Value Value
	// Source names the ephemeral terminal that drew a constant node.
	Source string
}

func (n Node) Arity() int {
	if n.Kind != NodePrimitive || n.Prim == nil {
		return 0
	}
	return len(n.Prim.In)
}

func constantNode(v float64) Node {
	return Node{
		Kind:  NodeConstant,
		Name:  strconv.FormatFloat(v, 'g', -1, 64),
		Ret:   Scalar,
		Value: ScalarValue(v),
	}
}

// Tree is an expression in prefix order. The subtree rooted at i spans
// [i, SearchSubtree(i)).
type Tree []Node

func (t Tree) Len() int {
	return len(t)
}

// Height is the depth of the deepest node; a single leaf has height 0.
func (t Tree) Height() int {
	stack := []int{0}
	maxDepth := 0
	for _, n := range t {
		if len(stack) == 0 {
			break
		}
		depth := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if depth > maxDepth {
			maxDepth = depth
		}
		for i := 0; i < n.Arity(); i++ {
			stack = append(stack, depth+1)
		}
	}
	return maxDepth
}

// SearchSubtree returns the end (exclusive) of the subtree starting at begin.
func (t Tree) SearchSubtree(begin int) int {
	end := begin + 1
	total := t[begin].Arity()
	for total > 0 && end < len(t) {
		total += t[end].Arity() - 1
		end++
	}
	return end
}

func (t Tree) Clone() Tree {
	return append(Tree(nil), t...)
}

// Replace returns a new tree with the subtree [begin,end) replaced by sub.
func (t Tree) Replace(begin, end int, sub Tree) Tree {
	out := make(Tree, 0, len(t)-(end-begin)+len(sub))
	out = append(out, t[:begin]...)
	out = append(out, sub...)
	return append(out, t[end:]...)
}

// Tally counts the nodes of each primitive name.
func (t Tree) Tally() map[string]int {
	counts := make(map[string]int)
	for _, n := range t {
		if n.Kind == NodePrimitive {
			counts[n.Name]++
		}
	}
	return counts
}

// String renders the tree as Name(arg, arg) in prefix form.
func (t Tree) String() string {
	var b strings.Builder
	var open []int
	for _, n := range t {
		b.WriteString(n.Name)
		if a := n.Arity(); a > 0 {
			b.WriteByte('(')
			open = append(open, a)
			continue
		}
		for len(open) > 0 {
			open[len(open)-1]--
			if open[len(open)-1] > 0 {
				b.WriteString(", ")
				break
			}
			b.WriteByte(')')
			open = open[:len(open)-1]
		}
	}
	return b.String()
}
