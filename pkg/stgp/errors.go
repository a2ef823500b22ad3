package stgp

import (
	"errors"
	"fmt"

	"stgp/internal/gp"
)

const (
	StageConfig     = "config"
	StageGrammar    = "grammar"
	StageDataset    = "dataset"
	StageEvaluation = "evaluation"
	StageStorage    = "storage"
	StageArtifacts  = "artifacts"
)

// StageError reports which step of a run failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// buildStage classifies a problem construction failure.
func buildStage(err error) string {
	for _, target := range []error{gp.ErrNameCollision, gp.ErrUnknownPrimitive, gp.ErrTypeMismatch, gp.ErrNoCandidate} {
		if errors.Is(err, target) {
			return StageGrammar
		}
	}
	return StageDataset
}
