package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// errStopped is returned by processRow when a pipeline function failed
// with the error of the cancelled run context.
var errStopped = errors.New("stopped")

// run holds the state of a single Import call.
type run struct {
	im       *Importer
	ctx      context.Context
	progress Progress
	step     float64
}

func (r *run) execute(table Table) error {
	cfg := r.im.cfg

	if len(table) == 0 {
		return r.fail(PhaseColumnsRejected, &ImportError{Kind: ErrInvalidColumns, Message: cfg.Messages.InvalidColumns})
	}
	if !ColumnsValid(cfg.Columns, table[0]) {
		return r.fail(PhaseColumnsRejected, &ImportError{Kind: ErrInvalidColumns, Message: cfg.Messages.InvalidColumns})
	}

	body := table[1:]
	if len(body) > cfg.MaxRows {
		return r.fail(PhaseRowCountExceeded, &ImportError{Kind: ErrTooManyRows, Message: cfg.Messages.TooManyRows})
	}
	if len(body) == 0 && cfg.Messages.EmptyRows.Text != "" {
		return r.fail(PhaseEmptyRejected, &ImportError{Kind: ErrEmptyRows, Message: cfg.Messages.EmptyRows})
	}

	rows := make([]Row, len(body))
	for i, row := range body {
		rows[i] = row.Clone()
	}

	total := len(rows)
	r.step = 100 / float64(max(total, 1))
	r.progress = Progress{Min: 0, Max: 100, Total: total}
	r.im.setProgress(r.progress)

	r.im.logger.Debug("import started", "rows", total)

	for i := 0; ; i++ {
		if r.stopRequested() {
			return r.cancel()
		}
		if i == len(rows) {
			return r.finish()
		}

		err := r.processRow(i, rows[i])
		if errors.Is(err, errStopped) {
			return r.cancel()
		}
		if err != nil {
			return r.fail(PhaseFailed, err)
		}
	}
}

// processRow runs one row through the pipeline. Panics raised by the
// pipeline functions become fatal errors.
func (r *run) processRow(i int, raw Row) (err error) {
	line := i + 2
	defer func() {
		if rec := recover(); rec != nil {
			err = &ImportError{Kind: ErrUnexpected, Line: line, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	cfg := r.im.cfg

	coerced, ok := ValidateRow(cfg.Columns, raw, cfg.StrictDates)
	if !ok {
		pr := &ProcessedRow{Row: raw.Clone(), OriginalRow: raw}
		pr.AddError(cfg.Messages.InvalidTypes.Text)
		r.rowFailed(RowResult{Index: i, Line: line, Row: pr, Reason: cfg.Messages.InvalidTypes.Text})
		r.advance()
		return nil
	}

	pr, err := cfg.Normalizer(r.ctx, coerced)
	if err != nil {
		return r.pipelineError(line, "normalize", err)
	}
	if pr == nil {
		pr = &ProcessedRow{Row: coerced}
	}
	if pr.OriginalRow == nil {
		pr.OriginalRow = raw
	}

	valid, err := cfg.Validator(r.ctx, pr)
	if err != nil {
		return r.pipelineError(line, "validate", err)
	}
	if !valid {
		r.rowFailed(RowResult{Index: i, Line: line, Row: pr, Reason: strings.Join(pr.Errors, "; ")})
		return nil
	}

	if err := r.create(pr); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && cfg.CreateTimeout > 0 && r.ctx.Err() == nil {
			pr.AddError(cfg.Messages.Timeout.Text)
			r.rowFailed(RowResult{Index: i, Line: line, Row: pr, Reason: cfg.Messages.Timeout.Text})
			r.advance()
			return nil
		}
		return r.pipelineError(line, "create", err)
	}

	if pr.ShouldBeReported {
		r.rowFailed(RowResult{Index: i, Line: line, Row: pr, Reason: strings.Join(pr.Errors, "; ")})
	} else {
		r.progress.Imported++
		r.rowProcessed(RowResult{Index: i, Line: line, Row: pr})
	}
	r.advance()
	r.pause()
	return nil
}

func (r *run) create(pr *ProcessedRow) error {
	ctx := r.ctx
	if d := r.im.cfg.CreateTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return r.im.cfg.Creator(ctx, pr)
}

func (r *run) pipelineError(line int, stage string, err error) error {
	if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return errStopped
	}
	return &ImportError{Kind: ErrUnexpected, Line: line, Err: fmt.Errorf("%s: %w", stage, err)}
}

func (r *run) stopRequested() bool {
	return r.im.broken.Load() || r.ctx.Err() != nil
}

// pause sleeps for the pacing interval unless the run is stopped first.
func (r *run) pause() {
	d := r.im.cfg.SleepInterval
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.ctx.Done():
	case <-r.im.breakCh:
	}
}

func (r *run) advance() {
	r.progress.Processed++
	r.progress.Current = min(r.progress.Current+r.step, 100)
	r.im.setProgress(r.progress)

	h := r.im.handlers()
	if h.onProgress != nil {
		h.onProgress(r.progress)
	}
	publish(r.ctx, h.subscribers, Event{Kind: EventProgress, Progress: r.progress})
}

func (r *run) rowProcessed(res RowResult) {
	h := r.im.handlers()
	if h.onRowProcessed != nil {
		h.onRowProcessed(res)
	}
	publish(r.ctx, h.subscribers, Event{Kind: EventRowProcessed, Progress: r.progress, Row: &res})
}

func (r *run) rowFailed(res RowResult) {
	r.progress.Failed++
	r.im.setProgress(r.progress)

	r.im.logger.Debug("row failed", "line", res.Line, "reason", res.Reason)

	h := r.im.handlers()
	if h.onRowFailed != nil {
		h.onRowFailed(res)
	}
	publish(r.ctx, h.subscribers, Event{Kind: EventRowFailed, Progress: r.progress, Row: &res})
}

func (r *run) finish() error {
	r.progress.Current = 100
	r.im.setProgress(r.progress)
	r.im.setPhase(PhaseCompleted)

	r.im.logger.Debug("import finished",
		"imported", r.progress.Imported,
		"failed", r.progress.Failed,
		"total", r.progress.Total,
	)

	h := r.im.handlers()
	if h.onProgress != nil {
		h.onProgress(r.progress)
	}
	publish(r.ctx, h.subscribers, Event{Kind: EventProgress, Progress: r.progress})

	if h.onFinish != nil {
		h.onFinish()
	}
	publish(r.ctx, h.subscribers, Event{Kind: EventFinish, Progress: r.progress})
	return nil
}

func (r *run) cancel() error {
	r.im.setPhase(PhaseCancelled)
	r.im.logger.Info("import cancelled",
		"processed", r.progress.Processed,
		"total", r.progress.Total,
	)

	h := r.im.handlers()
	publish(r.ctx, h.subscribers, Event{Kind: EventCancelled, Progress: r.progress})

	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return ErrCancelled
}

func (r *run) fail(phase Phase, err error) error {
	r.im.setPhase(phase)

	h := r.im.handlers()
	if h.onError != nil {
		h.onError(err)
	} else {
		r.im.logger.Error("import failed", "error", err)
	}
	publish(r.ctx, h.subscribers, Event{Kind: EventError, Progress: r.progress, Err: err})
	return err
}
