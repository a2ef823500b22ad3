package problem

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"stgp/internal/dataset"
	"stgp/internal/fitness"
	"stgp/internal/gp"
)

var (
	ErrUnknownProblem = errors.New("unknown problem")
	// ErrSampleShape reports a sample whose vectors do not fit the mesh of
	// the problem.
	ErrSampleShape = errors.New("sample shape does not match problem")
)

// Settings is the problem section of a run configuration. Zero fields take
// the defaults of the named problem.
type Settings struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// MeshSize is the number of nodes per side of the square mesh, or the
	// number of nodes of the line mesh.
	MeshSize int `json:"mesh_size" yaml:"mesh_size" toml:"mesh_size"`
	// Mult samples per dataset family, Diff families (1..3).
	Mult     int     `json:"mult" yaml:"mult" toml:"mult"`
	Diff     int     `json:"diff" yaml:"diff" toml:"diff"`
	Gamma    float64 `json:"gamma" yaml:"gamma" toml:"gamma"`
	// Bilevel fits the physical parameter of each candidate. Unset means the
	// problem default: elastica fits EI0, poisson has nothing to fit.
	Bilevel  *bool   `json:"bilevel,omitempty" yaml:"bilevel,omitempty" toml:"bilevel,omitempty"`
	ValFrac  float64 `json:"val_frac" yaml:"val_frac" toml:"val_frac"`
	TestFrac float64 `json:"test_frac" yaml:"test_frac" toml:"test_frac"`
	// Loads and ThetaIn span the synthesized elastica samples; EI0 is the
	// stiffness they are generated with.
	Loads       []float64 `json:"loads" yaml:"loads" toml:"loads"`
	ThetaIn     []float64 `json:"theta_in" yaml:"theta_in" toml:"theta_in"`
	EI0         float64   `json:"ei0" yaml:"ei0" toml:"ei0"`
	RoundDigits int       `json:"round_digits" yaml:"round_digits" toml:"round_digits"`
	// DatasetCSV replaces the synthesized samples when set.
	DatasetCSV string                 `json:"dataset_csv" yaml:"dataset_csv" toml:"dataset_csv"`
	Solver     fitness.SolverSettings `json:"solver" yaml:"solver" toml:"solver"`
}

// Instance is a problem ready to run: its grammar, data and the energy
// known to generate the data.
type Instance struct {
	Name        string
	Problem     fitness.Problem
	Grammar     *gp.Grammar
	Data        dataset.Dataset
	Reference   string
	Bilevel     bool
	RoundDigits int
	Solver      fitness.SolverSettings
}

type builder func(s Settings, sels []gp.Selection, rng *rand.Rand) (*Instance, error)

var builders = map[string]builder{
	"poisson":  buildPoisson,
	"elastica": buildElastica,
}

// Names lists the supported problems.
func Names() []string {
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build creates the named problem. sels overrides the default primitive
// selection when non-empty; rng draws the initial guess and the split.
func Build(s Settings, sels []gp.Selection, rng *rand.Rand) (*Instance, error) {
	name := strings.ToLower(strings.TrimSpace(s.Name))
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProblem, s.Name)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	inst, err := b(s, sels, rng)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	inst.Name = name
	return inst, nil
}

// DefaultSelections returns the primitive selection used when a run does not
// configure one.
func DefaultSelections(name string) []gp.Selection {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "elastica":
		return []gp.Selection{
			{Family: "AddC", Dimensions: []int{0, 1}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "SubC", Dimensions: []int{0, 1}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "d", Dimensions: []int{0}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "St", Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "Inn", Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "MF", Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "CMul", Dimensions: []int{0}},
			{Family: "Sin", Dimensions: []int{0}},
			{Family: "Cos", Dimensions: []int{0}},
			{Family: "AddF"},
			{Family: "SubF"},
			{Family: "MulF"},
		}
	default:
		return []gp.Selection{
			{Family: "AddC", Dimensions: []int{0, 1}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "SubC", Dimensions: []int{0, 1}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "d", Dimensions: []int{0}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "St", Dimensions: []int{0}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "Inn", Dimensions: []int{0, 1}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "MF", Dimensions: []int{0, 1}, Ranks: []gp.RankSig{gp.RankSC}},
			{Family: "AddF"},
			{Family: "SubF"},
			{Family: "MulF"},
		}
	}
}

// ephemeralConstants are the values drawn by the "const" terminal.
var ephemeralConstants = []float64{-1, -0.5, 0.5, 1, 2}

func newGrammar(maxDim int, sels []gp.Selection, args ...gp.Arg) (*gp.Grammar, error) {
	cat, err := gp.DefaultCatalog(maxDim)
	if err != nil {
		return nil, err
	}
	g, err := gp.NewGrammar(gp.Scalar, args...)
	if err != nil {
		return nil, err
	}
	if err := g.AddSelections(cat, sels...); err != nil {
		return nil, err
	}
	err = g.AddEphemeral("const", func(rng *rand.Rand) float64 {
		return ephemeralConstants[rng.Intn(len(ephemeralConstants))]
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// sampleShape is the exact vector lengths a problem reads from a sample.
type sampleShape struct {
	target, forcing, boundary int
}

func (sh sampleShape) check(i int, s dataset.Sample) error {
	switch {
	case len(s.Target) != sh.target:
		return fmt.Errorf("%w: sample %d has %d target values, want %d", ErrSampleShape, i, len(s.Target), sh.target)
	case len(s.Forcing) != sh.forcing:
		return fmt.Errorf("%w: sample %d has %d forcing values, want %d", ErrSampleShape, i, len(s.Forcing), sh.forcing)
	case len(s.Boundary) != sh.boundary:
		return fmt.Errorf("%w: sample %d has %d boundary values, want %d", ErrSampleShape, i, len(s.Boundary), sh.boundary)
	}
	return nil
}

// splitSamples loads the configured CSV in place of samples, checks every
// sample against shape and splits them.
func splitSamples(s Settings, samples []dataset.Sample, shape sampleShape, rng *rand.Rand) (dataset.Dataset, error) {
	if strings.TrimSpace(s.DatasetCSV) != "" {
		loaded, err := dataset.LoadCSV(s.DatasetCSV)
		if err != nil {
			return dataset.Dataset{}, err
		}
		samples = loaded
	}
	for i, sample := range samples {
		if err := shape.check(i, sample); err != nil {
			return dataset.Dataset{}, err
		}
	}
	return dataset.Split(rng, samples, s.ValFrac, s.TestFrac)
}

func randomGuess(rng *rand.Rand, n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = scale * rng.Float64()
	}
	return out
}

func withDefault(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}

func boolOr(v *bool, d bool) bool {
	if v == nil {
		return d
	}
	return *v
}

func withDefaultInt(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
