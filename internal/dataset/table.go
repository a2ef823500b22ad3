package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Column prefixes of the CSV layout: one sample per row, columns named
// target_<i>, forcing_<i> and boundary_<i>.
const (
	targetPrefix   = "target"
	forcingPrefix  = "forcing"
	boundaryPrefix = "boundary"
)

// LoadCSV reads samples from a CSV file with a header row.
func LoadCSV(path string) ([]Sample, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("dataset csv path is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file)
}

func ReadCSV(in io.Reader) ([]Sample, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset csv header: %w", err)
	}

	var samples []Sample
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		sample, err := sampleFromRecord(header, record, rowIndex)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
		rowIndex++
	}
	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	return samples, nil
}

func sampleFromRecord(header, record []string, index int) (Sample, error) {
	var s Sample
	for i, raw := range record {
		if i >= len(header) {
			return Sample{}, fmt.Errorf("dataset csv row %d has %d columns, header has %d", index, len(record), len(header))
		}
		key := strings.ToLower(strings.TrimSpace(header[i]))
		if strings.TrimSpace(raw) == "" {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parse dataset row %d column %q: %w", index, key, err)
		}
		switch {
		case strings.HasPrefix(key, targetPrefix):
			s.Target = append(s.Target, value)
		case strings.HasPrefix(key, forcingPrefix):
			s.Forcing = append(s.Forcing, value)
		case strings.HasPrefix(key, boundaryPrefix):
			s.Boundary = append(s.Boundary, value)
		default:
			return Sample{}, fmt.Errorf("dataset csv column %q has unknown prefix", key)
		}
	}
	if len(s.Target) == 0 {
		return Sample{}, fmt.Errorf("dataset csv row %d has no target columns", index)
	}
	return s, nil
}

// WriteCSV writes samples in the layout read by ReadCSV. All samples must
// share their column counts.
func WriteCSV(out io.Writer, samples []Sample) error {
	if len(samples) == 0 {
		return ErrEmpty
	}
	first := samples[0]
	var header []string
	for i := range first.Target {
		header = append(header, fmt.Sprintf("%s_%d", targetPrefix, i))
	}
	for i := range first.Forcing {
		header = append(header, fmt.Sprintf("%s_%d", forcingPrefix, i))
	}
	for i := range first.Boundary {
		header = append(header, fmt.Sprintf("%s_%d", boundaryPrefix, i))
	}
	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, s := range samples {
		if len(s.Target) != len(first.Target) || len(s.Forcing) != len(first.Forcing) || len(s.Boundary) != len(first.Boundary) {
			return fmt.Errorf("sample %d shape differs from sample 0", i)
		}
		row := make([]string, 0, len(header))
		for _, group := range [][]float64{s.Target, s.Forcing, s.Boundary} {
			for _, v := range group {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFile stores a split dataset as JSON.
func WriteFile(path string, d Dataset) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("dataset file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func ReadFile(path string) (Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return Dataset{}, fmt.Errorf("dataset file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, err
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
