package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one evolutionary run.
type RunRecord struct {
	VersionedRecord
	ID             string    `json:"id"`
	Problem        string    `json:"problem"`
	Seed           int64     `json:"seed"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Population     int       `json:"population"`
	Generations    int       `json:"generations"`
	BestGeneration int       `json:"best_generation"`
	EarlyStopped   bool      `json:"early_stopped"`
	BestExpression string    `json:"best_expression"`
	BestFitness    float64   `json:"best_fitness"`
	BestParam      float64   `json:"best_param"`
	BestValFitness float64   `json:"best_val_fitness,omitempty"`
	TestMSE        float64   `json:"test_mse"`
	Evaluations    int       `json:"evaluations"`
}

// IndividualRecord is a persisted member of a final population.
type IndividualRecord struct {
	VersionedRecord
	Rank       int     `json:"rank"`
	Expression string  `json:"expression"`
	Fitness    float64 `json:"fitness"`
	Param      float64 `json:"param"`
	Length     int     `json:"length"`
	Height     int     `json:"height"`
}

type FitnessHistory struct {
	Train  []float64 `json:"train"`
	Val    []float64 `json:"val,omitempty"`
	ValMSE []float64 `json:"val_mse,omitempty"`
}

type GenerationDiagnostics struct {
	Generation  int     `json:"generation"`
	Evaluations int     `json:"evaluations"`
	MinFitness  float64 `json:"min_fitness"`
	MeanFitness float64 `json:"mean_fitness"`
	MaxFitness  float64 `json:"max_fitness"`
	StdFitness  float64 `json:"std_fitness"`
	BestLength  int     `json:"best_length"`
	BestHeight  int     `json:"best_height"`
	ValFitness  float64 `json:"val_fitness,omitempty"`
	ValMSE      float64 `json:"val_mse,omitempty"`
}
