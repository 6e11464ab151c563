package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []Column{
	{Name: "id", Type: TypeNumber, Required: true},
	{Name: "stringColumn", Type: TypeString, Required: true},
}

var testMessages = ErrorMessages{
	InvalidColumns: Message{Title: "columns", Text: "invalid columns"},
	TooManyRows:    Message{Title: "rows", Text: "too many rows"},
	InvalidTypes:   Message{Title: "types", Text: "invalid types"},
}

// recorder collects every callback invocation.
type recorder struct {
	mu        sync.Mutex
	progress  []Progress
	processed []RowResult
	failed    []RowResult
	errs      []error
	finished  int
	created   []any
}

func (rec *recorder) attach(im *Importer) {
	im.OnProgressUpdate(func(p Progress) {
		rec.mu.Lock()
		rec.progress = append(rec.progress, p)
		rec.mu.Unlock()
	})
	im.OnRowProcessed(func(r RowResult) {
		rec.mu.Lock()
		rec.processed = append(rec.processed, r)
		rec.mu.Unlock()
	})
	im.OnRowFailed(func(r RowResult) {
		rec.mu.Lock()
		rec.failed = append(rec.failed, r)
		rec.mu.Unlock()
	})
	im.OnError(func(err error) {
		rec.mu.Lock()
		rec.errs = append(rec.errs, err)
		rec.mu.Unlock()
	})
	im.OnFinish(func() {
		rec.mu.Lock()
		rec.finished++
		rec.mu.Unlock()
	})
}

func (rec *recorder) creator(ctx context.Context, row *ProcessedRow) error {
	rec.mu.Lock()
	rec.created = append(rec.created, row.Row[0].Value)
	rec.mu.Unlock()
	return nil
}

func passThrough(ctx context.Context, row Row) (*ProcessedRow, error) {
	return &ProcessedRow{Row: row}, nil
}

func acceptAll(ctx context.Context, row *ProcessedRow) (bool, error) {
	return true, nil
}

func newTestImporter(t *testing.T, mutate func(*Config)) (*Importer, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := Config{
		Columns:       testColumns,
		Normalizer:    passThrough,
		Validator:     acceptAll,
		Creator:       rec.creator,
		Messages:      testMessages,
		SleepInterval: -1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	im, err := New(cfg)
	require.NoError(t, err)
	rec.attach(im)
	return im, rec
}

func testTable(n int) Table {
	table := Table{cells("id", "stringColumn")}
	for i := 0; i < n; i++ {
		table = append(table, cells(float64(i), fmt.Sprintf("row %d", i)))
	}
	return table
}

func TestImport_CompletesAllRows(t *testing.T) {
	im, rec := newTestImporter(t, nil)

	err := im.Import(context.Background(), testTable(5))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.finished)
	assert.Empty(t, rec.errs)
	require.Len(t, rec.processed, 5)
	for i, r := range rec.processed {
		assert.Equal(t, float64(i), r.Row.Row[0].Value)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i+2, r.Line)
	}

	require.Len(t, rec.progress, 6)
	for i := 1; i < len(rec.progress); i++ {
		assert.GreaterOrEqual(t, rec.progress[i].Current, rec.progress[i-1].Current)
	}
	last := rec.progress[len(rec.progress)-1]
	assert.Equal(t, 100.0, last.Current)
	assert.Equal(t, 5, last.Imported)
	assert.Equal(t, 5, last.Processed)
	assert.Equal(t, PhaseCompleted, im.Phase())
}

func TestImport_InvalidHeader(t *testing.T) {
	im, rec := newTestImporter(t, nil)

	table := testTable(3)
	table[0][0] = Cell{Value: "incorrect title"}

	err := im.Import(context.Background(), table)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidColumns)

	require.Len(t, rec.errs, 1)
	var ie *ImportError
	require.ErrorAs(t, rec.errs[0], &ie)
	assert.Equal(t, testMessages.InvalidColumns, ie.Message)
	assert.Empty(t, rec.processed)
	assert.Zero(t, rec.finished)
	assert.Empty(t, rec.created)
	assert.Equal(t, PhaseColumnsRejected, im.Phase())
}

func TestImport_MissingHeader(t *testing.T) {
	im, rec := newTestImporter(t, nil)

	err := im.Import(context.Background(), Table{})
	assert.ErrorIs(t, err, ErrInvalidColumns)
	assert.Len(t, rec.errs, 1)
	assert.Zero(t, rec.finished)
}

func TestImport_TooManyRows(t *testing.T) {
	im, rec := newTestImporter(t, func(c *Config) { c.MaxRows = 3 })

	err := im.Import(context.Background(), testTable(4))
	assert.ErrorIs(t, err, ErrTooManyRows)
	require.Len(t, rec.errs, 1)
	assert.Equal(t, "too many rows", rec.errs[0].(*ImportError).Message.Text)
	assert.Empty(t, rec.created)
	assert.Empty(t, rec.progress)
	assert.Equal(t, PhaseRowCountExceeded, im.Phase())

	im2, rec2 := newTestImporter(t, func(c *Config) { c.MaxRows = 3 })
	require.NoError(t, im2.Import(context.Background(), testTable(3)))
	assert.Len(t, rec2.created, 3)
}

func TestImport_EmptyBody(t *testing.T) {
	t.Run("completes without rows", func(t *testing.T) {
		im, rec := newTestImporter(t, nil)
		require.NoError(t, im.Import(context.Background(), testTable(0)))
		assert.Equal(t, 1, rec.finished)
		require.Len(t, rec.progress, 1)
		assert.Equal(t, 100.0, rec.progress[0].Current)
	})

	t.Run("fatal when empty rows message is set", func(t *testing.T) {
		im, rec := newTestImporter(t, func(c *Config) {
			c.Messages.EmptyRows = Message{Text: "no rows"}
		})
		err := im.Import(context.Background(), testTable(0))
		assert.ErrorIs(t, err, ErrEmptyRows)
		assert.Zero(t, rec.finished)
		assert.Equal(t, PhaseEmptyRejected, im.Phase())
	})
}

func TestImport_TypeRejectionContinues(t *testing.T) {
	im, rec := newTestImporter(t, nil)

	table := testTable(3)
	table[2] = cells("not a number", "row 1")

	require.NoError(t, im.Import(context.Background(), table))

	assert.Equal(t, []any{0.0, 2.0}, rec.created)
	require.Len(t, rec.failed, 1)
	assert.Equal(t, 1, rec.failed[0].Index)
	assert.Equal(t, "invalid types", rec.failed[0].Reason)
	assert.Equal(t, "not a number", rec.failed[0].Row.OriginalRow[0].Value)
	assert.Equal(t, 1, rec.finished)

	// type-rejected rows advance progress
	require.Len(t, rec.progress, 4)
	assert.Equal(t, 3, rec.progress[2].Processed)
}

func TestImport_ValidatorRejection(t *testing.T) {
	im, rec := newTestImporter(t, func(c *Config) {
		c.Validator = func(ctx context.Context, row *ProcessedRow) (bool, error) {
			if row.Row[0].Value == 1.0 {
				row.AddError("id 1 is reserved")
				return false, nil
			}
			return true, nil
		}
	})

	require.NoError(t, im.Import(context.Background(), testTable(3)))

	assert.Equal(t, []any{0.0, 2.0}, rec.created)
	require.Len(t, rec.failed, 1)
	assert.Equal(t, "id 1 is reserved", rec.failed[0].Reason)
	assert.Equal(t, []string{"id 1 is reserved"}, rec.failed[0].Row.Errors)

	// rejected rows do not advance progress; the final update forces 100
	require.Len(t, rec.progress, 3)
	assert.Equal(t, 100.0, rec.progress[2].Current)
}

func TestImport_ReportedAfterCreate(t *testing.T) {
	im, rec := newTestImporter(t, func(c *Config) {
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			if row.Row[0].Value == 0.0 {
				row.ShouldBeReported = true
				row.AddError("second phone could not be saved")
			}
			return nil
		}
	})

	require.NoError(t, im.Import(context.Background(), testTable(2)))
	require.Len(t, rec.failed, 1)
	assert.Equal(t, 0, rec.failed[0].Index)
	require.Len(t, rec.processed, 1)
	assert.Equal(t, 1, rec.processed[0].Index)
	assert.Equal(t, 1, im.Progress().Imported)
	assert.Equal(t, 2, im.Progress().Processed)
}

func TestImport_NormalizerSeesCoercedRow(t *testing.T) {
	var seen []any
	im, _ := newTestImporter(t, func(c *Config) {
		c.Columns = []Column{
			{Name: "code", Type: TypeString, Required: true},
		}
		c.Normalizer = func(ctx context.Context, row Row) (*ProcessedRow, error) {
			seen = append(seen, row[0].Value)
			return nil, nil
		}
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			assert.Equal(t, 123.0, row.OriginalRow[0].Value)
			return nil
		}
	})

	table := Table{cells("code"), cells(123.0)}
	require.NoError(t, im.Import(context.Background(), table))
	assert.Equal(t, []any{"123"}, seen)
	assert.Equal(t, 123.0, table[1][0].Value)
}

func TestImport_PipelineErrorIsFatal(t *testing.T) {
	boom := errors.New("backend down")

	im, rec := newTestImporter(t, func(c *Config) {
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			if row.Row[0].Value == 1.0 {
				return boom
			}
			return nil
		}
	})

	err := im.Import(context.Background(), testTable(3))
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.errs, 1)
	assert.Equal(t, 3, rec.errs[0].(*ImportError).Line)
	assert.Zero(t, rec.finished)
	assert.Len(t, rec.processed, 1)
	assert.Equal(t, PhaseFailed, im.Phase())
}

func TestImport_PanicIsFatal(t *testing.T) {
	im, rec := newTestImporter(t, func(c *Config) {
		c.Validator = func(ctx context.Context, row *ProcessedRow) (bool, error) {
			panic("nil map")
		}
	})

	err := im.Import(context.Background(), testTable(1))
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.Contains(t, err.Error(), "nil map")
	assert.Len(t, rec.errs, 1)
	assert.Zero(t, rec.finished)
}

func TestImport_BreakStopsAtRowBoundary(t *testing.T) {
	var im *Importer
	var rec *recorder
	im, rec = newTestImporter(t, func(c *Config) {
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			rec.mu.Lock()
			rec.created = append(rec.created, row.Row[0].Value)
			n := len(rec.created)
			rec.mu.Unlock()
			if n == 2 {
				im.Break()
			}
			return nil
		}
	})

	err := im.Import(context.Background(), testTable(5))
	assert.ErrorIs(t, err, ErrCancelled)

	// the in-flight row finishes, no further row starts
	assert.Equal(t, []any{0.0, 1.0}, rec.created)
	assert.Len(t, rec.processed, 2)
	assert.Zero(t, rec.finished)
	assert.Empty(t, rec.errs)
	assert.Equal(t, PhaseCancelled, im.Phase())

	// break is permanent
	err = im.Import(context.Background(), testTable(2))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Len(t, rec.created, 2)
	assert.Zero(t, rec.finished)
	assert.Empty(t, rec.errs)
}

func TestImport_CreatorErrorAfterBreakIsFatal(t *testing.T) {
	boom := errors.New("constraint violated")

	var im *Importer
	var rec *recorder
	im, rec = newTestImporter(t, func(c *Config) {
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			if row.Row[0].Value == 1.0 {
				im.Break()
				return boom
			}
			return nil
		}
	})

	err := im.Import(context.Background(), testTable(3))
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCancelled)
	require.Len(t, rec.errs, 1)
	assert.Equal(t, 3, rec.errs[0].(*ImportError).Line)
	assert.Zero(t, rec.finished)
	assert.Equal(t, PhaseFailed, im.Phase())
}

func TestImport_BreakInterruptsPause(t *testing.T) {
	im, rec := newTestImporter(t, func(c *Config) { c.SleepInterval = time.Hour })

	go func() {
		for {
			rec.mu.Lock()
			n := len(rec.created)
			rec.mu.Unlock()
			if n > 0 {
				im.Break()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- im.Import(context.Background(), testTable(3)) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("import did not stop after Break")
	}
	assert.Len(t, rec.created, 1)
}

func TestImport_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	im, rec := newTestImporter(t, func(c *Config) {
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			if row.Row[0].Value == 1.0 {
				cancel()
				return ctx.Err()
			}
			return nil
		}
	})

	err := im.Import(ctx, testTable(4))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.errs)
	assert.Zero(t, rec.finished)
	assert.Len(t, rec.processed, 1)
	assert.False(t, im.Broken())
}

func TestImport_RejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	im, _ := newTestImporter(t, func(c *Config) {
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			close(entered)
			<-release
			return nil
		}
	})

	done := make(chan error, 1)
	go func() { done <- im.Import(context.Background(), testTable(1)) }()

	<-entered
	assert.ErrorIs(t, im.Import(context.Background(), testTable(1)), ErrImportInProgress)
	assert.Equal(t, PhaseRunning, im.Phase())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseCompleted, im.Phase())
}

func TestImport_CreateTimeoutFailsRow(t *testing.T) {
	im, rec := newTestImporter(t, func(c *Config) {
		c.CreateTimeout = 10 * time.Millisecond
		c.Creator = func(ctx context.Context, row *ProcessedRow) error {
			if row.Row[0].Value == 0.0 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}
	})

	require.NoError(t, im.Import(context.Background(), testTable(2)))
	require.Len(t, rec.failed, 1)
	assert.Equal(t, DefaultMessages().Timeout.Text, rec.failed[0].Reason)
	assert.Len(t, rec.processed, 1)
	assert.Equal(t, 1, rec.finished)
}

func TestImport_LenientDateReachesValidator(t *testing.T) {
	var got time.Time
	im, rec := newTestImporter(t, func(c *Config) {
		c.Columns = []Column{{Name: "date", Type: TypeDate, Required: true}}
		c.Validator = func(ctx context.Context, row *ProcessedRow) (bool, error) {
			got = row.Row[0].Value.(time.Time)
			return true, nil
		}
		c.Creator = func(ctx context.Context, row *ProcessedRow) error { return nil }
	})

	require.NoError(t, im.Import(context.Background(), Table{cells("date"), cells("31.31.2023")}))
	assert.True(t, got.IsZero())
	assert.Len(t, rec.processed, 1)

	strict, srec := newTestImporter(t, func(c *Config) {
		c.Columns = []Column{{Name: "date", Type: TypeDate, Required: true}}
		c.StrictDates = true
	})
	require.NoError(t, strict.Import(context.Background(), Table{cells("date"), cells("31.31.2023")}))
	assert.Len(t, srec.failed, 1)
	assert.Empty(t, srec.created)
}

func TestImport_WithoutErrorHandlerLogs(t *testing.T) {
	var buf bytes.Buffer
	im, err := New(Config{
		Columns:    testColumns,
		Normalizer: passThrough,
		Validator:  acceptAll,
		Creator:    func(ctx context.Context, row *ProcessedRow) error { return nil },
		Logger:     slog.New(slog.NewTextHandler(&buf, nil)),
	})
	require.NoError(t, err)

	err = im.Import(context.Background(), Table{cells("wrong")})
	assert.ErrorIs(t, err, ErrInvalidColumns)
	assert.Contains(t, buf.String(), "import failed")
}

func TestImport_HandlerReplacement(t *testing.T) {
	im, _ := newTestImporter(t, nil)

	var first, second int
	im.OnFinish(func() { first++ })
	im.OnFinish(func() { second++ })

	require.NoError(t, im.Import(context.Background(), testTable(1)))
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestSubscribe(t *testing.T) {
	im, _ := newTestImporter(t, func(c *Config) {
		c.Validator = func(ctx context.Context, row *ProcessedRow) (bool, error) {
			return row.Row[0].Value != 1.0, nil
		}
	})

	a := im.Subscribe(0)
	b := im.Subscribe(64)

	collect := func(ch <-chan Event, out *[]EventKind, wg *sync.WaitGroup) {
		defer wg.Done()
		for ev := range ch {
			*out = append(*out, ev.Kind)
		}
	}

	var kindsA, kindsB []EventKind
	var wg sync.WaitGroup
	wg.Add(2)
	go collect(a, &kindsA, &wg)
	go collect(b, &kindsB, &wg)

	require.NoError(t, im.Import(context.Background(), testTable(2)))
	wg.Wait()

	want := []EventKind{
		EventRowProcessed, EventProgress,
		EventRowFailed,
		EventProgress, EventFinish,
	}
	assert.Equal(t, want, kindsA)
	assert.Equal(t, want, kindsB)
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(Config{
		Columns: []Column{
			{Name: "a", Type: "bool"},
			{Name: " A ", Type: TypeString},
			{Name: "", Type: TypeString},
		},
		MaxRows: -1,
	})
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		`unknown type "bool"`,
		"duplicate name",
		"name is required",
		"normalizer is required",
		"validator is required",
		"creator is required",
		"max rows must not be negative",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestNew_Defaults(t *testing.T) {
	im, err := New(Config{
		Columns:    testColumns,
		Normalizer: passThrough,
		Validator:  acceptAll,
		Creator:    func(ctx context.Context, row *ProcessedRow) error { return nil },
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultSleepInterval, im.cfg.SleepInterval)
	assert.Equal(t, DefaultMaxRows, im.cfg.MaxRows)
	assert.Equal(t, DefaultMessages().InvalidColumns, im.Messages().InvalidColumns)
	assert.Equal(t, PhaseIdle, im.Phase())
	assert.Equal(t, Progress{Min: 0, Max: 100}, im.Progress())
}
