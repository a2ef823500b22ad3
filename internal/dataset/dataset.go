package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrEmpty = errors.New("dataset has no samples")

// Sample is one observation: the field the energy minimizer must reproduce,
// the sample-specific forcing (source term or load) and, when the problem has
// Dirichlet data, the prescribed boundary values.
type Sample struct {
	Target   []float64 `json:"target"`
	Forcing  []float64 `json:"forcing,omitempty"`
	Boundary []float64 `json:"boundary,omitempty"`
}

func (s Sample) Clone() Sample {
	return Sample{
		Target:   append([]float64(nil), s.Target...),
		Forcing:  append([]float64(nil), s.Forcing...),
		Boundary: append([]float64(nil), s.Boundary...),
	}
}

// Dataset holds the train, validation and test splits.
type Dataset struct {
	Train []Sample `json:"train"`
	Val   []Sample `json:"val"`
	Test  []Sample `json:"test"`
}

// TrainVal returns train followed by validation, used as the training set
// when no validation split is tracked.
func (d Dataset) TrainVal() []Sample {
	out := make([]Sample, 0, len(d.Train)+len(d.Val))
	out = append(out, d.Train...)
	return append(out, d.Val...)
}

func (d Dataset) Len() int {
	return len(d.Train) + len(d.Val) + len(d.Test)
}

// Split shuffles samples with rng and cuts them into train, validation and
// test splits. Fractions are of the total; train gets the remainder.
func Split(rng *rand.Rand, samples []Sample, valFrac, testFrac float64) (Dataset, error) {
	if len(samples) == 0 {
		return Dataset{}, ErrEmpty
	}
	if valFrac < 0 || testFrac < 0 || valFrac+testFrac >= 1 {
		return Dataset{}, fmt.Errorf("invalid split fractions val=%g test=%g", valFrac, testFrac)
	}
	if rng == nil {
		return Dataset{}, fmt.Errorf("random source is required")
	}
	order := rng.Perm(len(samples))
	nTest := int(testFrac * float64(len(samples)))
	nVal := int(valFrac * float64(len(samples)))
	if len(samples)-nTest-nVal < 1 {
		return Dataset{}, fmt.Errorf("split leaves no training samples out of %d", len(samples))
	}
	pick := func(idx []int) []Sample {
		out := make([]Sample, len(idx))
		for i, j := range idx {
			out[i] = samples[j].Clone()
		}
		return out
	}
	return Dataset{
		Test:  pick(order[:nTest]),
		Val:   pick(order[nTest : nTest+nVal]),
		Train: pick(order[nTest+nVal:]),
	}, nil
}
