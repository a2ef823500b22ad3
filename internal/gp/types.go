package gp

import (
	"fmt"

	"stgp/internal/dec"
)

type Kind int

const (
	KindScalar Kind = iota
	KindCochain
)

// Type is a value type of the grammar: the scalar type or a cochain type.
// Types are comparable and usable as map keys.
type Type struct {
	Kind     Kind
	Category dec.Category
	Dim      int
	Rank     dec.Rank
}

// Scalar is the float type; it is also the root type of every energy tree.
var Scalar = Type{Kind: KindScalar}

func CochainType(cat dec.Category, dim int, rank dec.Rank) Type {
	return Type{Kind: KindCochain, Category: cat, Dim: dim, Rank: rank}
}

func (t Type) IsScalar() bool {
	return t.Kind == KindScalar
}

func (t Type) String() string {
	if t.Kind == KindScalar {
		return "float"
	}
	return fmt.Sprintf("Cochain%s%d%s", t.Category.Letter(), t.Dim, t.Rank.Suffix())
}

// Value is the runtime value flowing through a compiled tree.
type Value struct {
	Scalar  float64
	Cochain *dec.Cochain
}

func ScalarValue(v float64) Value {
	return Value{Scalar: v}
}

func CochainValue(c *dec.Cochain) Value {
	return Value{Cochain: c}
}
