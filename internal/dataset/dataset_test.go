package dataset

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
)

func testSamples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{
			Target:   []float64{float64(i), float64(i) + 0.5},
			Forcing:  []float64{float64(-i)},
			Boundary: []float64{float64(i)},
		}
	}
	return out
}

func TestSplitIsDeterministic(t *testing.T) {
	samples := testSamples(10)
	a, err := Split(rand.New(rand.NewSource(1)), samples, 0.2, 0.3)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	b, err := Split(rand.New(rand.NewSource(1)), samples, 0.2, 0.3)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(a.Train) != 5 || len(a.Val) != 2 || len(a.Test) != 3 {
		t.Fatalf("unexpected split sizes %d/%d/%d", len(a.Train), len(a.Val), len(a.Test))
	}
	for i := range a.Train {
		if a.Train[i].Target[0] != b.Train[i].Target[0] {
			t.Fatalf("split not deterministic at train[%d]", i)
		}
	}
	if got := len(a.TrainVal()); got != 7 {
		t.Fatalf("train+val=%d, want 7", got)
	}
}

func TestSplitRejectsBadFractions(t *testing.T) {
	if _, err := Split(rand.New(rand.NewSource(1)), testSamples(3), 0.5, 0.5); err == nil {
		t.Fatal("expected error for fractions summing to 1")
	}
	if _, err := Split(rand.New(rand.NewSource(1)), nil, 0.1, 0.1); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	samples := testSamples(3)
	var buf bytes.Buffer
	if err := WriteCSV(&buf, samples); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "target_0,target_1,forcing_0,boundary_0\n") {
		t.Fatalf("unexpected header: %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(got) != 3 || got[2].Target[1] != 2.5 || got[2].Forcing[0] != -2 {
		t.Fatalf("unexpected samples %+v", got)
	}
}

func TestReadCSVRejectsUnknownColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("target_0,weight\n1,2\n"))
	if err == nil {
		t.Fatal("expected unknown column error")
	}
}

func TestDatasetFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "split.json")
	d, err := Split(rand.New(rand.NewSource(2)), testSamples(6), 0.2, 0.2)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if err := WriteFile(path, d); err != nil {
		t.Fatalf("write file: %v", err)
	}
	back, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if back.Len() != d.Len() {
		t.Fatalf("len=%d, want %d", back.Len(), d.Len())
	}
}
