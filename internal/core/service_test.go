package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/importer/internal/importer"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  []RunInfo
	finished []*ImportResult
	failed   map[string][]FailedRow
}

func (f *fakeRecorder) StartRun(_ context.Context, run RunInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, run)
	return nil
}

func (f *fakeRecorder) FinishRun(_ context.Context, result *ImportResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, result)
	return nil
}

func (f *fakeRecorder) RecordFailedRows(_ context.Context, runID string, rows []FailedRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[string][]FailedRow)
	}
	f.failed[runID] = rows
	return nil
}

func (f *fakeRecorder) finishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finished)
}

// registerKind registers a kind whose creator rejects names starting with
// "bad" and blocks while gate is open.
func registerKind(t *testing.T, key string, gate chan struct{}) {
	t.Helper()
	Clear()
	t.Cleanup(Clear)

	def := testKind(key, "test")
	def.NewPipeline = func(deps Deps) Pipeline {
		return Pipeline{
			Normalizer: func(_ context.Context, row importer.Row) (*importer.ProcessedRow, error) {
				return &importer.ProcessedRow{Row: row}, nil
			},
			Validator: func(_ context.Context, pr *importer.ProcessedRow) (bool, error) {
				name, _ := pr.Row[0].Value.(string)
				if len(name) >= 3 && name[:3] == "bad" {
					pr.AddError(deps.Messages.Row(MsgInvalidValue, map[string]string{"column": "Name"}))
					return false, nil
				}
				return true, nil
			},
			Creator: func(ctx context.Context, pr *importer.ProcessedRow) error {
				if gate != nil {
					select {
					case <-gate:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if pr.Row[0].Value == "boom" {
					return errors.New("duplicate key value violates unique constraint")
				}
				return nil
			},
		}
	}
	Register(def)
}

func table(names ...any) importer.Table {
	t := importer.Table{{{Value: "Name"}, {Value: "Value"}}}
	for _, n := range names {
		t = append(t, importer.Row{{Value: n}, {Value: 1.0}})
	}
	return t
}

func newTestService(rec RunRecorder) *Service {
	return NewService(nil, rec, Options{SleepInterval: -1, RetainResults: time.Minute})
}

func waitResult(t *testing.T, svc *Service, id string) *ImportResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := svc.GetImportResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestService_ImportCompletes(t *testing.T) {
	registerKind(t, "people", nil)
	rec := &fakeRecorder{}
	svc := newTestService(rec)

	id, err := svc.StartImport(context.Background(), "people", "people.csv", table("Ivan", "bad row", 42.0, "Olga"))
	require.NoError(t, err)

	result := waitResult(t, svc, id)
	assert.Equal(t, PhaseComplete, result.Phase)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Error)

	require.Len(t, result.FailedRows, 1)
	failed := result.FailedRows[0]
	assert.Equal(t, 3, failed.Line)
	assert.Equal(t, []string{"bad row", "1"}, failed.Data)
	assert.Equal(t, `Column "Name" has an invalid value`, failed.Reason)

	progress, err := svc.GetImportProgress(id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, progress.Percent)
	assert.Equal(t, PhaseComplete, progress.Phase)

	assert.Eventually(t, func() bool { return rec.finishedCount() == 1 }, time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, id, rec.started[0].ID)
	assert.Equal(t, 4, rec.started[0].Total)
	assert.Len(t, rec.failed[id], 1)
	rec.mu.Unlock()
}

func TestService_FailedCountMatchesFailedRows(t *testing.T) {
	registerKind(t, "people", nil)
	svc := newTestService(nil)

	id, err := svc.StartImport(context.Background(), "people", "people.csv",
		table("bad one", "Ivan", "bad two", "bad three", "Olga"))
	require.NoError(t, err)

	result := waitResult(t, svc, id)
	assert.Equal(t, PhaseComplete, result.Phase)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 3, result.Failed)
	assert.Len(t, result.FailedRows, 3)

	progress, err := svc.GetImportProgress(id)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Failed)
	assert.Equal(t, 5, progress.Processed)
}

func TestService_UnknownKind(t *testing.T) {
	Clear()
	svc := newTestService(nil)

	_, err := svc.StartImport(context.Background(), "nope", "x.csv", table("a"))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 0, svc.LimiterStatus().Active)
}

func TestService_NotFound(t *testing.T) {
	svc := newTestService(nil)

	_, err := svc.GetImportProgress("missing")
	assert.ErrorIs(t, err, ErrImportNotFound)
	assert.ErrorIs(t, svc.CancelImport("missing"), ErrImportNotFound)
	_, err = svc.SubscribeProgress("missing")
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestService_InvalidHeaderFails(t *testing.T) {
	registerKind(t, "people", nil)
	svc := newTestService(nil)

	tbl := importer.Table{{{Value: "Wrong"}, {Value: "Header"}}, {{Value: "Ivan"}, {Value: 1.0}}}
	id, err := svc.StartImport(context.Background(), "people", "people.csv", tbl)
	require.NoError(t, err)

	result := waitResult(t, svc, id)
	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, "IMP001", result.Code)
	assert.Equal(t, "Invalid columns", result.ErrorTitle)
	assert.Equal(t, `The file must have these columns in this order: "Name", "Value"`, result.Error)
	assert.Zero(t, result.Imported)
}

func TestService_CreatorErrorIsFatal(t *testing.T) {
	registerKind(t, "people", nil)
	svc := newTestService(nil)

	id, err := svc.StartImport(context.Background(), "people", "people.csv", table("Ivan", "boom", "Olga"))
	require.NoError(t, err)

	result := waitResult(t, svc, id)
	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, "IMP006", result.Code)
	assert.Equal(t, 1, result.Imported)
}

func TestService_CancelImport(t *testing.T) {
	gate := make(chan struct{})
	registerKind(t, "people", gate)
	svc := newTestService(nil)

	id, err := svc.StartImport(context.Background(), "people", "people.csv", table("a", "b", "c"))
	require.NoError(t, err)

	updates, err := svc.SubscribeProgress(id)
	require.NoError(t, err)

	// let one row through, then cancel while the second is blocked
	gate <- struct{}{}
	require.NoError(t, svc.CancelImport(id))
	close(gate)

	var last ImportProgress
	for p := range updates {
		last = p
	}
	assert.Equal(t, PhaseCancelled, last.Phase)

	result := waitResult(t, svc, id)
	assert.Equal(t, PhaseCancelled, result.Phase)
	assert.Equal(t, "IMP004", result.Code)
	assert.Less(t, result.Imported, 3)
}

func TestService_SubscribeAfterFinish(t *testing.T) {
	registerKind(t, "people", nil)
	svc := newTestService(nil)

	id, err := svc.StartImport(context.Background(), "people", "people.csv", table("Ivan"))
	require.NoError(t, err)
	waitResult(t, svc, id)

	updates, err := svc.SubscribeProgress(id)
	require.NoError(t, err)

	first, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, PhaseComplete, first.Phase)
	_, ok = <-updates
	assert.False(t, ok, "channel should be closed after the final state")
}

func TestService_Observers(t *testing.T) {
	registerKind(t, "people", nil)
	svc := newTestService(nil)

	var mu sync.Mutex
	var phases []ImportPhase
	remove := svc.AddObserver(func(p ImportProgress) {
		mu.Lock()
		phases = append(phases, p.Phase)
		mu.Unlock()
	})

	id, err := svc.StartImport(context.Background(), "people", "people.csv", table("Ivan", "Olga"))
	require.NoError(t, err)
	waitResult(t, svc, id)
	remove()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseImporting, phases[0])
	assert.Equal(t, PhaseComplete, phases[len(phases)-1])
}

func TestService_TooManyImports(t *testing.T) {
	gate := make(chan struct{})
	registerKind(t, "people", gate)
	svc := NewService(nil, nil, Options{SleepInterval: -1, MaxConcurrent: 1, MaxWaitTime: 50 * time.Millisecond})

	id, err := svc.StartImport(context.Background(), "people", "a.csv", table("a"))
	require.NoError(t, err)

	_, err = svc.StartImport(context.Background(), "people", "b.csv", table("b"))
	assert.ErrorIs(t, err, ErrTooManyImports)

	close(gate)
	waitResult(t, svc, id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.WaitForImports(ctx))
	assert.Equal(t, 0, svc.LimiterStatus().Active)
}

func TestService_ListImports(t *testing.T) {
	registerKind(t, "people", nil)
	svc := newTestService(nil)

	var ids []string
	for i := 0; i < 2; i++ {
		id, err := svc.StartImport(context.Background(), "people", fmt.Sprintf("%d.csv", i), table("Ivan"))
		require.NoError(t, err)
		waitResult(t, svc, id)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	list := svc.ListImports()
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ImportID)
	assert.Equal(t, ids[0], list[1].ImportID)
}

func TestService_ResultWaitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	registerKind(t, "people", gate)
	svc := newTestService(nil)

	id, err := svc.StartImport(context.Background(), "people", "a.csv", table("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.GetImportResult(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	waitResult(t, svc, id)
}
