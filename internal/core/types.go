// Package core provides the business logic for import jobs.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/importer/internal/importer"
)

// RecordStore persists the objects created by import kinds.
// Satisfied by *store.Store and by in-memory fakes in tests.
type RecordStore interface {
	// InsertRecord inserts one row and returns its generated id.
	InsertRecord(ctx context.Context, table string, values map[string]any) (string, error)

	// FindID returns the id of the first row matching every key of where.
	FindID(ctx context.Context, table string, where map[string]any) (string, bool, error)

	// Exists reports whether a row matching every key of where exists.
	Exists(ctx context.Context, table string, where map[string]any) (bool, error)
}

// RunRecorder keeps a history of import runs. It is optional.
type RunRecorder interface {
	StartRun(ctx context.Context, run RunInfo) error
	FinishRun(ctx context.Context, result *ImportResult) error
	RecordFailedRows(ctx context.Context, runID string, rows []FailedRow) error
}

// KindInfo contains display information about an import kind.
type KindInfo struct {
	Key         string   `json:"key"`   // Unique identifier: "contacts"
	Group       string   `json:"group"` // Area of the product: "helpdesk", "meters"
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Columns     []string `json:"columns"` // Expected header, filled from the column descriptors
}

// Deps are the collaborators a kind's pipeline may use.
type Deps struct {
	Records  RecordStore
	Messages *Catalogue
	Logger   *slog.Logger
}

// Pipeline is the row-level behavior of a kind.
type Pipeline struct {
	Normalizer importer.RowNormalizer
	Validator  importer.RowValidator
	Creator    importer.ObjectCreator
}

// KindDefinition contains everything needed to import one kind of file.
type KindDefinition struct {
	Info    KindInfo
	Columns []importer.Column

	// NewPipeline builds the pipeline for one job. Pipelines may keep
	// per-job caches, so each job gets its own.
	NewPipeline func(Deps) Pipeline
}

// ImportPhase represents the current phase of an import job.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting" // Accepted, not yet running
	PhaseImporting ImportPhase = "importing"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p ImportPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// ImportProgress tracks the progress of an import job.
type ImportProgress struct {
	ImportID  string      `json:"import_id"`
	Kind      string      `json:"kind"`
	FileName  string      `json:"file_name"`
	Phase     ImportPhase `json:"phase"`
	Percent   float64     `json:"percent"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Imported  int         `json:"imported"`
	Failed    int         `json:"failed"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
}

// FailedRow is a data row that was rejected or created with problems.
type FailedRow struct {
	Line     int      `json:"line"`
	Reason   string   `json:"reason"`
	Errors   []string `json:"errors,omitempty"`
	Data     []string `json:"data"`
	Reported bool     `json:"reported"` // Created, but flagged for the user's attention
}

// ImportResult is the outcome of a finished import job.
type ImportResult struct {
	ImportID   string        `json:"import_id"`
	Kind       string        `json:"kind"`
	FileName   string        `json:"file_name"`
	Phase      ImportPhase   `json:"phase"`
	Total      int           `json:"total"`
	Imported   int           `json:"imported"`
	Failed     int           `json:"failed"`
	FailedRows []FailedRow   `json:"failed_rows,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorTitle string        `json:"error_title,omitempty"`
	Code       string        `json:"code,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// RunInfo describes a job when it starts.
type RunInfo struct {
	ID        string
	Kind      string
	FileName  string
	Total     int
	StartedAt time.Time
}
