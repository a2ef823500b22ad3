package gp

import "fmt"

// Individual is an expression tree with its fitness and the auxiliary
// physical parameter fitted by the bilevel evaluator.
type Individual struct {
	Tree    Tree
	Fitness float64
	// Valid is false until the fitness has been computed for the current tree.
	Valid bool
	Param float64
}

// NewIndividual wraps a tree with an invalid fitness and Param = 1.
func NewIndividual(tree Tree) *Individual {
	return &Individual{Tree: tree, Param: 1}
}

func (ind *Individual) Clone() *Individual {
	out := *ind
	out.Tree = ind.Tree.Clone()
	return &out
}

// Invalidate marks the fitness as stale.
func (ind *Individual) Invalidate() {
	ind.Valid = false
	ind.Fitness = 0
}

func (ind *Individual) String() string {
	return ind.Tree.String()
}

func (ind *Individual) Describe() string {
	if !ind.Valid {
		return fmt.Sprintf("%s [fitness=invalid param=%g]", ind.Tree, ind.Param)
	}
	return fmt.Sprintf("%s [fitness=%g param=%g]", ind.Tree, ind.Fitness, ind.Param)
}
