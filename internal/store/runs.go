package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/importer/internal/core"
)

// StartRun records a job that has begun importing.
func (s *Store) StartRun(ctx context.Context, run core.RunInfo) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO import_runs (id, kind, file_name, phase, total_rows, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ToPgUUID(run.ID), run.Kind, run.FileName, string(core.PhaseImporting), run.Total, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final counters and phase of a job.
func (s *Store) FinishRun(ctx context.Context, result *core.ImportResult) error {
	_, err := s.db.Exec(ctx, `
		UPDATE import_runs
		SET phase = $2, total_rows = $3, imported = $4, failed = $5,
		    error = $6, error_code = $7, finished_at = $8
		WHERE id = $1`,
		ToPgUUID(result.ImportID), string(result.Phase), result.Total, result.Imported, result.Failed,
		ToPgText(result.Error), ToPgText(result.Code), result.StartedAt.Add(result.Duration),
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", result.ImportID, err)
	}
	return nil
}

// RecordFailedRows stores rejected rows of a job in one batch.
func (s *Store) RecordFailedRows(ctx context.Context, runID string, rows []core.FailedRow) error {
	if len(rows) == 0 {
		return nil
	}

	id := ToPgUUID(runID)
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO import_failed_rows (run_id, line, reason, errors, data, reported)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, row.Line, row.Reason, nonNil(row.Errors), nonNil(row.Data), row.Reported,
		)
	}

	// Batches need a pool or a transaction; both implement SendBatch.
	sender, ok := s.db.(interface {
		SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		for _, q := range batch.QueuedQueries {
			if _, err := s.db.Exec(ctx, q.SQL, q.Arguments...); err != nil {
				return fmt.Errorf("record failed rows: %w", err)
			}
		}
		return nil
	}

	if err := sender.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record failed rows: %w", err)
	}
	return nil
}

// Run is a row of the import history.
type Run struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	FileName   string           `json:"file_name"`
	Phase      core.ImportPhase `json:"phase"`
	Total      int              `json:"total"`
	Imported   int              `json:"imported"`
	Failed     int              `json:"failed"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// ListRuns returns the most recent runs, newest first. An empty kind lists
// every kind.
func (s *Store) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, kind, file_name, phase, total_rows, imported, failed,
		       coalesce(error, ''), started_at, finished_at
		FROM import_runs
		WHERE $1 = '' OR kind = $1
		ORDER BY started_at DESC
		LIMIT $2`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var phase string
		if err := rows.Scan(&r.ID, &r.Kind, &r.FileName, &phase, &r.Total, &r.Imported,
			&r.Failed, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Phase = core.ImportPhase(phase)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFailedRows returns the failed rows of a run in line order.
func (s *Store) ListFailedRows(ctx context.Context, runID string) ([]core.FailedRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT line, reason, errors, data, reported
		FROM import_failed_rows
		WHERE run_id = $1
		ORDER BY line`, ToPgUUID(runID))
	if err != nil {
		return nil, fmt.Errorf("list failed rows: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.FailedRow, error) {
		var fr core.FailedRow
		err := row.Scan(&fr.Line, &fr.Reason, &fr.Errors, &fr.Data, &fr.Reported)
		return fr, err
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
