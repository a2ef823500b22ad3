package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"stgp/internal/model"
)

const runIndexFile = "run_index.json"

// RunArtifacts is everything written to a run directory. Config is
// marshalled verbatim so callers can pass their own configuration type.
type RunArtifacts struct {
	Run           model.RunRecord
	Config        any
	History       model.FitnessHistory
	Diagnostics   []model.GenerationDiagnostics
	Top           []model.IndividualRecord
	BestSolutions [][]float64
	TrueSolutions [][]float64
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Problem      string  `json:"problem"`
	Seed         int64   `json:"seed"`
	Generations  int     `json:"generations"`
	BestFitness  float64 `json:"best_fitness"`
	TestMSE      float64 `json:"test_mse"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes the run into baseDir/<run id> and returns that
// directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if strings.TrimSpace(artifacts.Run.ID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if artifacts.Config != nil {
		if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
			return "", err
		}
	}
	if err := writeJSON(filepath.Join(runDir, "run.json"), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeBestIndividual(filepath.Join(runDir, "best_ind.txt"), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), artifacts.History); err != nil {
		return "", err
	}
	if err := WriteFitnessHistoryCSV(filepath.Join(runDir, "fitness_history.csv"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "top_individuals.json"), artifacts.Top); err != nil {
		return "", err
	}
	for i, sol := range artifacts.BestSolutions {
		if err := writeVector(filepath.Join(runDir, fmt.Sprintf("best_sol_test_%d.txt", i)), sol); err != nil {
			return "", err
		}
	}
	for i, sol := range artifacts.TrueSolutions {
		if err := writeVector(filepath.Join(runDir, fmt.Sprintf("true_sol_test_%d.txt", i)), sol); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// WriteFitnessHistoryCSV writes one row per generation. Validation columns
// are left empty when the run tracked no validation history.
func WriteFitnessHistoryCSV(path string, history model.FitnessHistory) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "train", "val", "val_mse"}); err != nil {
		return err
	}
	for i, train := range history.Train {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			formatFloat(train),
			optionalFloat(history.Val, i),
			optionalFloat(history.ValMSE, i),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFitnessHistoryCSV(path string) (model.FitnessHistory, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.FitnessHistory{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return model.FitnessHistory{}, nil
		}
		return model.FitnessHistory{}, err
	}
	if len(header) < 4 {
		return model.FitnessHistory{}, fmt.Errorf("fitness history header must have 4 columns")
	}

	var history model.FitnessHistory
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.FitnessHistory{}, err
		}
		train, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return model.FitnessHistory{}, err
		}
		history.Train = append(history.Train, train)
		if record[2] == "" {
			continue
		}
		val, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return model.FitnessHistory{}, err
		}
		valMSE, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return model.FitnessHistory{}, err
		}
		history.Val = append(history.Val, val)
		history.ValMSE = append(history.ValMSE, valMSE)
	}
	return history, nil
}

func writeBestIndividual(path string, run model.RunRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", run.BestExpression)
	fmt.Fprintf(&b, "fitness: %s\n", formatFloat(run.BestFitness))
	fmt.Fprintf(&b, "param: %s\n", formatFloat(run.BestParam))
	fmt.Fprintf(&b, "generation: %d\n", run.BestGeneration)
	fmt.Fprintf(&b, "test_mse: %s\n", formatFloat(run.TestMSE))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// writeVector writes one value per line.
func writeVector(path string, values []float64) error {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(formatFloat(v))
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func ReadVector(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func optionalFloat(values []float64, i int) string {
	if i >= len(values) {
		return ""
	}
	return formatFloat(values[i])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
