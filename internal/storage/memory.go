package storage

import (
	"context"
	"sort"
	"sync"

	"stgp/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]model.RunRecord
	history     map[string]model.FitnessHistory
	diagnostics map[string][]model.GenerationDiagnostics
	top         map[string][]model.IndividualRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]model.RunRecord),
		history:     make(map[string]model.FitnessHistory),
		diagnostics: make(map[string][]model.GenerationDiagnostics),
		top:         make(map[string][]model.IndividualRecord),
	}
}

func (s *MemoryStore) Init(_ context.Context) error {
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

// ListRuns returns every stored run ordered by start time, oldest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history model.FitnessHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[runID] = copyHistory(history)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) (model.FitnessHistory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return model.FitnessHistory{}, false, nil
	}
	return copyHistory(history), true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func (s *MemoryStore) SaveTopIndividuals(_ context.Context, runID string, top []model.IndividualRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.IndividualRecord, len(top))
	copy(copied, top)
	s.top[runID] = copied
	return nil
}

func (s *MemoryStore) GetTopIndividuals(_ context.Context, runID string) ([]model.IndividualRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	top, ok := s.top[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.IndividualRecord, len(top))
	copy(copied, top)
	return copied, true, nil
}

func copyHistory(h model.FitnessHistory) model.FitnessHistory {
	return model.FitnessHistory{
		Train:  append([]float64(nil), h.Train...),
		Val:    append([]float64(nil), h.Val...),
		ValMSE: append([]float64(nil), h.ValMSE...),
	}
}

func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
}
