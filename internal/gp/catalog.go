package gp

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"stgp/internal/dec"
)

var (
	ErrNameCollision    = errors.New("primitive name collision")
	ErrUnknownPrimitive = errors.New("unknown primitive")
	ErrTypeMismatch     = errors.New("type mismatch")
)

// Primitive is a concrete, fully typed operator.
type Primitive struct {
	Name   string
	Family string
	// Category, Dim and Rank record the instantiation; Dim is -1 for scalar
	// primitives.
	Category dec.Category
	Dim      int
	Rank     RankSig
	Op       func(args []Value) Value
	In       []Type
	Out      Type
}

func (p Primitive) Arity() int {
	return len(p.In)
}

// RankSig is the rank attribute of a family instantiation. Mixed signatures
// assign one rank letter per cochain operand.
type RankSig string

const (
	RankSC RankSig = "SC"
	RankV  RankSig = "V"
	RankT  RankSig = "T"
	RankVT RankSig = "VT"
)

func (r RankSig) suffix() string {
	if r == RankSC {
		return ""
	}
	return string(r)
}

func (r RankSig) operand(i int) dec.Rank {
	letters := string(r)
	if r == RankSC {
		return dec.RankScalar
	}
	if i >= len(letters) {
		i = len(letters) - 1
	}
	switch letters[i] {
	case 'V':
		return dec.RankVector
	case 'T':
		return dec.RankTensor
	default:
		return dec.RankScalar
	}
}

// Slot is an operand template of a family.
type Slot int

const (
	SlotCochain Slot = iota
	SlotFloat
)

// Family declares a set of operators instantiated over category x dimension x
// rank. Map rules derive the output type from the instantiation; a rule
// reporting false drops that combination.
type Family struct {
	Name        string
	Op          func(args []Value) Value
	Inputs      []Slot
	OutputFloat bool
	Categories  []dec.Category
	Dimensions  []int
	Ranks       []RankSig
	MapCategory func(dec.Category) dec.Category
	MapDim      func(dim, maxDim int) (int, bool)
	MapRank     func(RankSig) (dec.Rank, bool)
}

// Expand returns every valid instantiation of the family.
func (f Family) Expand(maxDim int) []Primitive {
	var out []Primitive
	for _, cat := range f.Categories {
		for _, dim := range f.Dimensions {
			if dim < 0 || dim > maxDim {
				continue
			}
			for _, rank := range f.Ranks {
				p, ok := f.instantiate(cat, dim, rank, maxDim)
				if ok {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

func (f Family) instantiate(cat dec.Category, dim int, rank RankSig, maxDim int) (Primitive, bool) {
	in := make([]Type, len(f.Inputs))
	cochainOperand := 0
	for i, slot := range f.Inputs {
		if slot == SlotFloat {
			in[i] = Scalar
			continue
		}
		in[i] = CochainType(cat, dim, rank.operand(cochainOperand))
		cochainOperand++
	}

	out := Scalar
	if !f.OutputFloat {
		outCat := cat
		if f.MapCategory != nil {
			outCat = f.MapCategory(cat)
		}
		outDim := dim
		if f.MapDim != nil {
			d, ok := f.MapDim(dim, maxDim)
			if !ok {
				return Primitive{}, false
			}
			outDim = d
		}
		if outDim < 0 || outDim > maxDim {
			return Primitive{}, false
		}
		outRank := rank.operand(0)
		if f.MapRank != nil {
			r, ok := f.MapRank(rank)
			if !ok {
				return Primitive{}, false
			}
			outRank = r
		}
		out = CochainType(outCat, outDim, outRank)
	}

	return Primitive{
		Name:     fmt.Sprintf("%s%s%d%s", f.Name, cat.Letter(), dim, rank.suffix()),
		Family:   f.Name,
		Category: cat,
		Dim:      dim,
		Rank:     rank,
		Op:       f.Op,
		In:       in,
		Out:      out,
	}, true
}

// Catalog is the flat name -> primitive table.
type Catalog struct {
	MaxDim int
	byName map[string]Primitive
}

// BuildCatalog expands the families and adds the scalar primitives. A name
// produced twice is reported as ErrNameCollision.
func BuildCatalog(maxDim int, families []Family, scalars []Primitive) (*Catalog, error) {
	c := &Catalog{MaxDim: maxDim, byName: make(map[string]Primitive)}
	for _, p := range scalars {
		if err := c.add(p); err != nil {
			return nil, err
		}
	}
	for _, f := range families {
		for _, p := range f.Expand(maxDim) {
			if err := c.add(p); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// DefaultCatalog builds the standard operator set for the given maximum
// complex dimension.
func DefaultCatalog(maxDim int) (*Catalog, error) {
	return BuildCatalog(maxDim, DefaultFamilies(), ScalarPrimitives())
}

func (c *Catalog) add(p Primitive) error {
	if _, exists := c.byName[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNameCollision, p.Name)
	}
	c.byName[p.Name] = p
	return nil
}

func (c *Catalog) Lookup(name string) (Primitive, bool) {
	p, ok := c.byName[name]
	return p, ok
}

func (c *Catalog) Len() int {
	return len(c.byName)
}

// Names returns the primitive names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Selection picks the instantiations of one family. Empty Dimensions or Ranks
// match everything.
type Selection struct {
	Family     string
	Dimensions []int
	Ranks      []RankSig
}

// Select returns the primitives matching sel, sorted by name.
func (c *Catalog) Select(sel Selection) ([]Primitive, error) {
	var out []Primitive
	for _, name := range c.Names() {
		p := c.byName[name]
		if p.Family != sel.Family {
			continue
		}
		if p.Dim >= 0 && len(sel.Dimensions) > 0 && !containsInt(sel.Dimensions, p.Dim) {
			continue
		}
		if p.Dim >= 0 && len(sel.Ranks) > 0 && !containsRank(sel.Ranks, p.Rank) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no instantiation of family %q", ErrUnknownPrimitive, sel.Family)
	}
	return out, nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsRank(xs []RankSig, v RankSig) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

var (
	allCategories = []dec.Category{dec.Primal, dec.Dual}
	allDimensions = []int{0, 1, 2}
)

func sameRank(r RankSig) (dec.Rank, bool) {
	return r.operand(0), true
}

func binaryCochain(f func(x, y *dec.Cochain) *dec.Cochain) func([]Value) Value {
	return func(args []Value) Value {
		return CochainValue(f(args[0].Cochain, args[1].Cochain))
	}
}

func unaryCochain(f func(x *dec.Cochain) *dec.Cochain) func([]Value) Value {
	return func(args []Value) Value {
		return CochainValue(f(args[0].Cochain))
	}
}

func elementwise(f func(float64) float64) func([]Value) Value {
	return func(args []Value) Value {
		return CochainValue(dec.Apply(f, args[0].Cochain))
	}
}

func elementwiseFamily(name string, f func(float64) float64) Family {
	return Family{
		Name:       name,
		Op:         elementwise(f),
		Inputs:     []Slot{SlotCochain},
		Categories: allCategories,
		Dimensions: allDimensions,
		Ranks:      []RankSig{RankSC},
	}
}

// DefaultFamilies returns the standard cochain operator families.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name:       "AddC",
			Op:         binaryCochain(dec.Add),
			Inputs:     []Slot{SlotCochain, SlotCochain},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankSC, RankV, RankT},
		},
		{
			Name:       "SubC",
			Op:         binaryCochain(dec.Sub),
			Inputs:     []Slot{SlotCochain, SlotCochain},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankSC, RankV, RankT},
		},
		{
			Name:       "d",
			Op:         unaryCochain(dec.Coboundary),
			Inputs:     []Slot{SlotCochain},
			Categories: allCategories,
			Dimensions: []int{0, 1},
			Ranks:      []RankSig{RankSC},
			MapDim: func(dim, maxDim int) (int, bool) {
				return dim + 1, dim+1 <= maxDim
			},
		},
		{
			Name:       "del",
			Op:         unaryCochain(dec.Codifferential),
			Inputs:     []Slot{SlotCochain},
			Categories: allCategories,
			Dimensions: []int{1, 2},
			Ranks:      []RankSig{RankSC},
			MapDim: func(dim, _ int) (int, bool) {
				return dim - 1, dim >= 1
			},
		},
		{
			Name:        "St",
			Op:          unaryCochain(dec.Star),
			Inputs:      []Slot{SlotCochain},
			Categories:  allCategories,
			Dimensions:  allDimensions,
			Ranks:       []RankSig{RankSC, RankT},
			MapCategory: dec.Category.Flip,
			MapDim: func(dim, maxDim int) (int, bool) {
				return maxDim - dim, true
			},
		},
		{
			Name: "Inn",
			Op: func(args []Value) Value {
				return ScalarValue(dec.Inner(args[0].Cochain, args[1].Cochain))
			},
			Inputs:      []Slot{SlotCochain, SlotCochain},
			OutputFloat: true,
			Categories:  allCategories,
			Dimensions:  allDimensions,
			Ranks:       []RankSig{RankSC, RankT},
		},
		{
			Name: "MF",
			Op: func(args []Value) Value {
				return CochainValue(dec.Scale(args[1].Scalar, args[0].Cochain))
			},
			Inputs:     []Slot{SlotCochain, SlotFloat},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankSC, RankT},
		},
		{
			Name:       "CMul",
			Op:         binaryCochain(dec.Mul),
			Inputs:     []Slot{SlotCochain, SlotCochain},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankSC},
		},
		{
			Name:       "tr",
			Op:         unaryCochain(dec.Trace),
			Inputs:     []Slot{SlotCochain},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankT},
			MapRank: func(r RankSig) (dec.Rank, bool) {
				return dec.RankScalar, r == RankT
			},
		},
		{
			Name:       "tran",
			Op:         unaryCochain(dec.Transpose),
			Inputs:     []Slot{SlotCochain},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankT},
			MapRank:    sameRank,
		},
		{
			Name:       "Mv",
			Op:         binaryCochain(dec.MatVec),
			Inputs:     []Slot{SlotCochain, SlotCochain},
			Categories: allCategories,
			Dimensions: allDimensions,
			Ranks:      []RankSig{RankVT},
			MapRank: func(r RankSig) (dec.Rank, bool) {
				return dec.RankVector, r == RankVT
			},
		},
		elementwiseFamily("Sin", math.Sin),
		elementwiseFamily("ArcSin", math.Asin),
		elementwiseFamily("Cos", math.Cos),
		elementwiseFamily("ArcCos", math.Acos),
		elementwiseFamily("Exp", math.Exp),
		elementwiseFamily("Log", math.Log),
		elementwiseFamily("Sqrt", math.Sqrt),
		elementwiseFamily("Square", func(v float64) float64 { return v * v }),
	}
}

func scalarPrimitive(name string, arity int, f func(args []Value) Value) Primitive {
	in := make([]Type, arity)
	for i := range in {
		in[i] = Scalar
	}
	return Primitive{Name: name, Family: name, Dim: -1, Op: f, In: in, Out: Scalar}
}

func scalarUnary(name string, f func(float64) float64) Primitive {
	return scalarPrimitive(name, 1, func(args []Value) Value {
		return ScalarValue(f(args[0].Scalar))
	})
}

func scalarBinary(name string, f func(a, b float64) float64) Primitive {
	return scalarPrimitive(name, 2, func(args []Value) Value {
		return ScalarValue(f(args[0].Scalar, args[1].Scalar))
	})
}

// ScalarPrimitives returns the float -> float operators. Division and the
// partial functions follow IEEE semantics; out-of-domain inputs yield NaN or
// Inf, which the evaluator clamps.
func ScalarPrimitives() []Primitive {
	return []Primitive{
		scalarBinary("AddF", func(a, b float64) float64 { return a + b }),
		scalarBinary("SubF", func(a, b float64) float64 { return a - b }),
		scalarBinary("MulF", func(a, b float64) float64 { return a * b }),
		scalarBinary("Div", func(a, b float64) float64 { return a / b }),
		scalarUnary("SinF", math.Sin),
		scalarUnary("ArcsinF", math.Asin),
		scalarUnary("CosF", math.Cos),
		scalarUnary("ArccosF", math.Acos),
		scalarUnary("ExpF", math.Exp),
		scalarUnary("LogF", math.Log),
		scalarUnary("SqrtF", math.Sqrt),
		scalarUnary("SquareF", func(v float64) float64 { return v * v }),
		scalarUnary("InvF", func(v float64) float64 { return 1 / v }),
	}
}
