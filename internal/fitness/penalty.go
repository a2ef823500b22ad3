package fitness

import (
	"fmt"
	"strings"

	"stgp/internal/gp"
)

type PenaltyMethod int

const (
	PenaltyNone PenaltyMethod = iota
	PenaltyLength
	PenaltyPrimitive
)

func (m PenaltyMethod) String() string {
	switch m {
	case PenaltyLength:
		return "length"
	case PenaltyPrimitive:
		return "primitive"
	default:
		return "none"
	}
}

// ParsePenaltyMethod resolves a configured method name.
func ParsePenaltyMethod(name string) (PenaltyMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return PenaltyNone, nil
	case "length":
		return PenaltyLength, nil
	case "primitive":
		return PenaltyPrimitive, nil
	default:
		return PenaltyNone, fmt.Errorf("unsupported penalty method: %s", name)
	}
}

// Penalty is the complexity term added to the mean error.
type Penalty struct {
	Method   PenaltyMethod
	RegParam float64
}

// Term returns the unscaled complexity of tree: its node count, or the
// largest number of occurrences of any single primitive.
func (p Penalty) Term(tree gp.Tree) float64 {
	switch p.Method {
	case PenaltyLength:
		return float64(tree.Len())
	case PenaltyPrimitive:
		best := 0
		for _, n := range tree.Tally() {
			if n > best {
				best = n
			}
		}
		return float64(best)
	default:
		return 0
	}
}

func (p Penalty) Apply(mse float64, tree gp.Tree) float64 {
	if p.Method == PenaltyNone {
		return mse
	}
	return mse + p.RegParam*p.Term(tree)
}
