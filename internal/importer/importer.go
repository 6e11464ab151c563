package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultSleepInterval is the pause after each created row.
	DefaultSleepInterval = 300 * time.Millisecond

	// DefaultMaxRows is the largest body Import accepts.
	DefaultMaxRows = 500
)

// Config is the immutable configuration of an Importer.
type Config struct {
	Columns    []Column
	Normalizer RowNormalizer
	Validator  RowValidator
	Creator    ObjectCreator

	// Messages missing a title and text fall back to DefaultMessages.
	Messages ErrorMessages

	// SleepInterval is the pause after each created row. Zero means
	// DefaultSleepInterval; a negative value disables pacing.
	SleepInterval time.Duration

	// MaxRows caps the number of data rows. Zero means DefaultMaxRows.
	MaxRows int

	// CreateTimeout bounds each creator call when positive. A creator that
	// returns because its context expired fails the row, not the run.
	CreateTimeout time.Duration

	// StrictDates rejects rows whose date strings do not parse.
	StrictDates bool

	Logger *slog.Logger
}

func (c Config) validate() error {
	var result *multierror.Error

	if len(c.Columns) == 0 {
		result = multierror.Append(result, errors.New("at least one column is required"))
	}
	seen := make(map[string]bool, len(c.Columns))
	for i, col := range c.Columns {
		name := normalizeName(col.Name)
		if name == "" {
			result = multierror.Append(result, fmt.Errorf("column %d: name is required", i))
		} else if seen[name] {
			result = multierror.Append(result, fmt.Errorf("column %d: duplicate name %q", i, col.Name))
		}
		seen[name] = true
		if !col.Type.Valid() {
			result = multierror.Append(result, fmt.Errorf("column %d: unknown type %q", i, col.Type))
		}
	}
	if c.Normalizer == nil {
		result = multierror.Append(result, errors.New("normalizer is required"))
	}
	if c.Validator == nil {
		result = multierror.Append(result, errors.New("validator is required"))
	}
	if c.Creator == nil {
		result = multierror.Append(result, errors.New("creator is required"))
	}
	if c.MaxRows < 0 {
		result = multierror.Append(result, fmt.Errorf("max rows must not be negative, got %d", c.MaxRows))
	}
	if c.CreateTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("create timeout must not be negative, got %s", c.CreateTimeout))
	}

	return result.ErrorOrNil()
}

// Importer runs tables through a configured row pipeline. An Importer runs
// one table at a time; once Break has been called it never runs again.
type Importer struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	onProgress     func(Progress)
	onFinish       func()
	onError        func(error)
	onRowProcessed func(RowResult)
	onRowFailed    func(RowResult)
	subscribers    []chan Event
	phase          Phase
	progress       Progress

	running   atomic.Bool
	broken    atomic.Bool
	breakOnce sync.Once
	breakCh   chan struct{}
}

// New validates cfg and returns an idle Importer.
func New(cfg Config) (*Importer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("importer config: %w", err)
	}

	if cfg.SleepInterval == 0 {
		cfg.SleepInterval = DefaultSleepInterval
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	cfg.Messages = cfg.Messages.withDefaults()
	cfg.Columns = append([]Column(nil), cfg.Columns...)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{
		cfg:      cfg,
		logger:   logger,
		phase:    PhaseIdle,
		progress: Progress{Min: 0, Max: 100},
		breakCh:  make(chan struct{}),
	}, nil
}

// Columns returns the configured column descriptors.
func (im *Importer) Columns() []Column {
	return append([]Column(nil), im.cfg.Columns...)
}

// Messages returns the effective error messages.
func (im *Importer) Messages() ErrorMessages {
	return im.cfg.Messages
}

// Break requests cancellation. The row being created is allowed to finish;
// no further row is started. Break is permanent.
func (im *Importer) Break() {
	im.breakOnce.Do(func() {
		im.broken.Store(true)
		close(im.breakCh)
	})
}

// Broken reports whether Break has been called.
func (im *Importer) Broken() bool {
	return im.broken.Load()
}

// Phase returns the current lifecycle state.
func (im *Importer) Phase() Phase {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.phase
}

// Progress returns a snapshot of the current progress.
func (im *Importer) Progress() Progress {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.progress
}

func (im *Importer) setPhase(p Phase) {
	im.mu.Lock()
	im.phase = p
	im.mu.Unlock()
}

func (im *Importer) setProgress(p Progress) {
	im.mu.Lock()
	im.progress = p
	im.mu.Unlock()
}

// Import runs table through the pipeline and blocks until the run ends.
//
// It returns nil on completion, an *ImportError for fatal conditions (also
// passed to the error handler) and an error wrapping ErrCancelled when the
// run was stopped by Break or ctx. A second call while a run is active
// returns ErrImportInProgress without side effects.
func (im *Importer) Import(ctx context.Context, table Table) error {
	if !im.running.CompareAndSwap(false, true) {
		return ErrImportInProgress
	}
	defer im.running.Store(false)
	defer im.closeSubscribers()

	if im.broken.Load() {
		im.setPhase(PhaseCancelled)
		return ErrCancelled
	}

	im.setPhase(PhaseRunning)
	im.setProgress(Progress{Min: 0, Max: 100})

	r := &run{im: im, ctx: ctx}
	return r.execute(table)
}
