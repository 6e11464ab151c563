package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/importer"
)

const (
	// DefaultJobTimeout is the maximum duration of one import job.
	DefaultJobTimeout = 30 * time.Minute

	// DefaultRetainResults is how long finished jobs stay queryable.
	DefaultRetainResults = 5 * time.Minute

	// finishTimeout bounds writing the run history after a job ends.
	finishTimeout = 10 * time.Second
)

// Options configures a Service. Zero values fall back to the defaults of
// this package and of the importer package.
type Options struct {
	SleepInterval time.Duration
	MaxRows       int
	CreateTimeout time.Duration
	StrictDates   bool

	MaxConcurrent int
	MaxWaitTime   time.Duration
	JobTimeout    time.Duration
	RetainResults time.Duration

	Catalogue *Catalogue
	Logger    *slog.Logger
}

// OptionsFromConfig maps the import settings of the service configuration.
func OptionsFromConfig(cfg config.ImportConfig) Options {
	return Options{
		SleepInterval: cfg.SleepInterval,
		MaxRows:       cfg.MaxRows,
		CreateTimeout: cfg.CreateTimeout,
		StrictDates:   cfg.StrictDates,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxWaitTime:   cfg.MaxWaitTime,
		JobTimeout:    cfg.JobTimeout,
		RetainResults: cfg.RetainResults,
	}
}

// Service runs import jobs. Each job owns one importer.Importer, so jobs of
// the same kind can run side by side.
type Service struct {
	records  RecordStore
	recorder RunRecorder
	opts     Options
	limiter  *JobLimiter
	logger   *slog.Logger

	mu      sync.RWMutex
	imports map[string]*activeImport

	obsMu     sync.RWMutex
	observers map[int]func(ImportProgress)
	nextObs   int
}

type activeImport struct {
	ID       string
	Kind     string
	FileName string
	Cancel   context.CancelFunc

	engine    *importer.Importer
	startedAt time.Time

	mu         sync.Mutex
	progress   ImportProgress
	failedRows []FailedRow
	result     *ImportResult
	listeners  []chan ImportProgress
	done       chan struct{}
}

// NewService creates a Service. recorder may be nil to skip run history.
func NewService(records RecordStore, recorder RunRecorder, opts Options) *Service {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.RetainResults <= 0 {
		opts.RetainResults = DefaultRetainResults
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = importer.DefaultMaxRows
	}
	if opts.Catalogue == nil {
		opts.Catalogue = DefaultCatalogue()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		records:   records,
		recorder:  recorder,
		opts:      opts,
		limiter:   NewJobLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		logger:    logger,
		imports:   make(map[string]*activeImport),
		observers: make(map[int]func(ImportProgress)),
	}
}

// ListKinds returns information about all registered kinds.
func (s *Service) ListKinds() []KindInfo {
	defs := All()
	infos := make([]KindInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// Catalogue returns the messages the service was configured with.
func (s *Service) Catalogue() *Catalogue {
	return s.opts.Catalogue
}

// MaxRows returns the data row limit applied to every job.
func (s *Service) MaxRows() int {
	return s.opts.MaxRows
}

// StartImport begins importing table as kind and returns the job id
// immediately. Use SubscribeProgress or GetImportResult to follow it.
//
// Returns ErrUnknownKind for an unregistered kind and ErrTooManyImports if
// no job slot frees up in time.
func (s *Service) StartImport(ctx context.Context, kind, fileName string, table importer.Table) (string, error) {
	def, ok := Get(kind)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	importID := uuid.New().String()
	logger := s.logger.With("import_id", importID, "kind", kind)

	pipeline := def.NewPipeline(Deps{
		Records:  s.records,
		Messages: s.opts.Catalogue,
		Logger:   logger,
	})

	engine, err := importer.New(importer.Config{
		Columns:       def.Columns,
		Normalizer:    pipeline.Normalizer,
		Validator:     pipeline.Validator,
		Creator:       pipeline.Creator,
		Messages:      s.opts.Catalogue.ImportMessages(def.Columns, s.opts.MaxRows),
		SleepInterval: s.opts.SleepInterval,
		MaxRows:       s.opts.MaxRows,
		CreateTimeout: s.opts.CreateTimeout,
		StrictDates:   s.opts.StrictDates,
		Logger:        logger,
	})
	if err != nil {
		s.limiter.Release()
		return "", fmt.Errorf("kind %s: %w", kind, err)
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)

	job := &activeImport{
		ID:        importID,
		Kind:      kind,
		FileName:  fileName,
		Cancel:    cancel,
		engine:    engine,
		startedAt: time.Now(),
		progress: ImportProgress{
			ImportID: importID,
			Kind:     kind,
			FileName: fileName,
			Phase:    PhaseStarting,
			Total:    max(len(table)-1, 0),
		},
		done: make(chan struct{}),
	}
	s.wire(job)

	s.mu.Lock()
	s.imports[importID] = job
	s.mu.Unlock()

	logger.Info("import accepted",
		"file", fileName,
		"requested_by", GetRequesterFromContext(ctx),
		"ip", GetIPAddressFromContext(ctx),
	)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in import", "panic", r)
				s.finish(job, fmt.Errorf("%w: panic: %v", importer.ErrUnexpected, r))
			}
		}()
		s.run(jobCtx, job, table, logger)
	}()

	return importID, nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The current state is sent immediately. The channel is closed when the
// job ends; for a job that already ended it is closed after the final state.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	job, err := s.get(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	job.mu.Lock()
	defer job.mu.Unlock()

	ch <- job.progress
	if job.result != nil {
		close(ch)
		return ch, nil
	}
	job.listeners = append(job.listeners, ch)
	return ch, nil
}

// CancelImport stops a job at the next row boundary. Rows already created
// are kept.
func (s *Service) CancelImport(importID string) error {
	job, err := s.get(importID)
	if err != nil {
		return err
	}
	job.engine.Break()
	return nil
}

// CancelAll stops every running job.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.imports {
		job.engine.Break()
	}
}

// GetImportResult returns the result of a job, waiting for it to finish.
func (s *Service) GetImportResult(ctx context.Context, importID string) (*ImportResult, error) {
	job, err := s.get(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	return job.result, nil
}

// GetImportProgress returns the current progress without blocking.
func (s *Service) GetImportProgress(importID string) (ImportProgress, error) {
	job, err := s.get(importID)
	if err != nil {
		return ImportProgress{}, err
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	return job.progress, nil
}

// ListImports returns the progress of every tracked job, newest first.
func (s *Service) ListImports() []ImportProgress {
	s.mu.RLock()
	jobs := make([]*activeImport, 0, len(s.imports))
	for _, job := range s.imports {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	sortJobs(jobs)

	out := make([]ImportProgress, len(jobs))
	for i, job := range jobs {
		job.mu.Lock()
		out[i] = job.progress
		job.mu.Unlock()
	}
	return out
}

// AddObserver registers fn to receive the progress of every job. fn runs on
// the job's goroutine and must not block. The returned func removes it.
func (s *Service) AddObserver(fn func(ImportProgress)) (remove func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// LimiterStatus returns the state of the job limiter.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every running job has finished or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) get(importID string) (*activeImport, error) {
	s.mu.RLock()
	job, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return job, nil
}

// notify sends the job's progress to its listeners and to every observer.
// Slow listeners miss updates rather than stall the job.
func (s *Service) notify(job *activeImport) {
	job.mu.Lock()
	p := job.progress
	for _, ch := range job.listeners {
		select {
		case ch <- p:
		default:
		}
	}
	job.mu.Unlock()

	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, fn := range s.observers {
		fn(p)
	}
}

// cleanup removes the job from tracking after a delay.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

// errorText returns the text shown for a job that did not complete.
func errorText(err error) (title, text string) {
	var ie *importer.ImportError
	if errors.As(err, &ie) && ie.Message.Text != "" {
		return ie.Message.Title, ie.Message.Text
	}
	return "", MapError(err).Message
}
