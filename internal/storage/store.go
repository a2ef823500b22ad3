package storage

import (
	"context"

	"stgp/internal/model"
)

// Store persists run summaries and their per-generation records, keyed by
// run id.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history model.FitnessHistory) error
	GetFitnessHistory(ctx context.Context, runID string) (model.FitnessHistory, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopIndividuals(ctx context.Context, runID string, top []model.IndividualRecord) error
	GetTopIndividuals(ctx context.Context, runID string) ([]model.IndividualRecord, bool, error)
}
