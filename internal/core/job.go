package core

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/JonMunkholm/importer/internal/importer"
)

// wire connects the engine callbacks of a job to its progress state.
func (s *Service) wire(job *activeImport) {
	job.engine.OnProgressUpdate(func(p importer.Progress) {
		job.mu.Lock()
		job.progress.Percent = p.Current
		job.progress.Total = p.Total
		job.progress.Processed = p.Processed
		job.progress.Imported = p.Imported
		job.progress.Failed = p.Failed
		job.mu.Unlock()
		s.notify(job)
	})

	job.engine.OnRowFailed(func(res importer.RowResult) {
		row := FailedRow{Line: res.Line, Reason: res.Reason}
		if res.Row != nil {
			row.Errors = append([]string(nil), res.Row.Errors...)
			row.Data = res.Row.OriginalRow.Strings()
			row.Reported = res.Row.ShouldBeReported
		}

		job.mu.Lock()
		job.failedRows = append(job.failedRows, row)
		job.mu.Unlock()
	})

	// The service reports fatal errors itself once Import returns.
	job.engine.OnError(func(error) {})
}

func (s *Service) run(ctx context.Context, job *activeImport, table importer.Table, logger *slog.Logger) {
	job.mu.Lock()
	job.progress.Phase = PhaseImporting
	total := job.progress.Total
	job.mu.Unlock()
	s.notify(job)

	logger.Info("import started", "file", job.FileName, "rows", total)

	if s.recorder != nil {
		err := s.recorder.StartRun(ctx, RunInfo{
			ID:        job.ID,
			Kind:      job.Kind,
			FileName:  job.FileName,
			Total:     total,
			StartedAt: job.startedAt,
		})
		if err != nil {
			logger.Warn("record run start", "error", err)
		}
	}

	err := job.engine.Import(ctx, table)
	s.finish(job, err)
}

// finish stores the result of a job, ends its subscriptions and writes the
// run history. It runs exactly once per job.
func (s *Service) finish(job *activeImport, err error) {
	logger := s.logger.With("import_id", job.ID, "kind", job.Kind)

	job.mu.Lock()
	if job.result != nil {
		job.mu.Unlock()
		return
	}

	p := &job.progress
	result := &ImportResult{
		ImportID:   job.ID,
		Kind:       job.Kind,
		FileName:   job.FileName,
		Total:      p.Total,
		FailedRows: job.failedRows,
		StartedAt:  job.startedAt,
		Duration:   time.Since(job.startedAt),
	}

	switch {
	case err == nil:
		p.Phase = PhaseComplete
	case errors.Is(err, importer.ErrCancelled):
		p.Phase = PhaseCancelled
	default:
		p.Phase = PhaseFailed
	}
	if err != nil {
		title, text := errorText(err)
		p.Error = text
		p.Code = MapError(err).Code
		result.ErrorTitle = title
	}

	result.Phase = p.Phase
	result.Imported = p.Imported
	result.Failed = p.Failed
	result.Error = p.Error
	result.Code = p.Code
	job.result = result
	job.mu.Unlock()

	switch result.Phase {
	case PhaseComplete:
		logger.Info("import complete",
			"imported", result.Imported,
			"failed", result.Failed,
			"total", result.Total,
			"duration", result.Duration,
		)
	case PhaseCancelled:
		logger.Info("import cancelled", "imported", result.Imported, "total", result.Total)
	default:
		logger.Error("import failed", "error", err, "code", result.Code)
	}

	s.notify(job)

	job.mu.Lock()
	for _, ch := range job.listeners {
		close(ch)
	}
	job.listeners = nil
	job.mu.Unlock()
	close(job.done)

	s.record(result, logger)
	s.cleanup(job.ID, s.opts.RetainResults)
}

// record writes the run history. The job context may already be done, so
// it uses its own deadline.
func (s *Service) record(result *ImportResult, logger *slog.Logger) {
	if s.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	if err := s.recorder.FinishRun(ctx, result); err != nil {
		logger.Warn("record run finish", "error", err)
	}
	if err := s.recorder.RecordFailedRows(ctx, result.ImportID, result.FailedRows); err != nil {
		logger.Warn("record failed rows", "error", err, "rows", len(result.FailedRows))
	}
}

func sortJobs(jobs []*activeImport) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].startedAt.After(jobs[j].startedAt)
	})
}
