package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

const (
	DefaultJobTimeout = 5 * time.Minute

	staleGrace = time.Minute

	outputPrefix = "outputs/"
)

func outputKey(jobID string) string {
	return outputPrefix + jobID + ".md"
}

type DispatcherOption func(*ConversionDispatcher)

func WithJobTimeout(timeout time.Duration) DispatcherOption {
	return func(d *ConversionDispatcher) {
		if timeout > 0 {
			d.jobTimeout = timeout
		}
	}
}

func WithObserver(observer ports.ConversionObserver) DispatcherOption {
	return func(d *ConversionDispatcher) {
		if observer != nil {
			d.observer = observer
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *ConversionDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *ConversionDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// ConversionDispatcher creates conversion jobs and drives them to a terminal state.
type ConversionDispatcher struct {
	files    ports.FileRepository
	jobs     ports.JobRepository
	storage  ports.ObjectStorage
	catalog  ports.ConverterCatalog
	engines  map[domain.ConverterID]ports.Engine
	settings ports.SettingsProvider
	queue    ports.JobQueue
	observer ports.ConversionObserver
	logger   *slog.Logger

	jobTimeout time.Duration
	limits     map[domain.ConverterID]*semaphore.Weighted
	now        func() time.Time
}

func NewConversionDispatcher(
	files ports.FileRepository,
	jobs ports.JobRepository,
	storage ports.ObjectStorage,
	catalog ports.ConverterCatalog,
	engines map[domain.ConverterID]ports.Engine,
	settings ports.SettingsProvider,
	queue ports.JobQueue,
	opts ...DispatcherOption,
) *ConversionDispatcher {
	d := &ConversionDispatcher{
		files:      files,
		jobs:       jobs,
		storage:    storage,
		catalog:    catalog,
		engines:    engines,
		settings:   settings,
		queue:      queue,
		observer:   noopObserver{},
		logger:     slog.Default(),
		jobTimeout: DefaultJobTimeout,
		limits:     make(map[domain.ConverterID]*semaphore.Weighted),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, desc := range catalog.List() {
		if desc.MaxConcurrency > 0 {
			d.limits[desc.ID] = semaphore.NewWeighted(int64(desc.MaxConcurrency))
		}
	}
	return d
}

// Start creates one pending job per file and enqueues it. Every file id is
// checked before any job is created.
func (d *ConversionDispatcher) Start(ctx context.Context, req ports.StartRequest) ([]domain.Job, error) {
	if len(req.FileIDs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start conversion", errors.New("file_ids must not be empty"))
	}
	converter := req.Converter
	if converter == "" {
		converter = domain.ConverterAuto
	}
	overrides, err := d.validateSelection(converter, req.Overrides)
	if err != nil {
		return nil, err
	}

	files := make([]*domain.FileRecord, 0, len(req.FileIDs))
	for _, id := range req.FileIDs {
		file, err := d.files.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup file %s: %w", id, err)
		}
		files = append(files, file)
	}

	jobs := make([]domain.Job, 0, len(files))
	for _, file := range files {
		job, err := d.createJob(ctx, file, converter, overrides)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// validateSelection checks the requested converter and returns the overrides
// keyed by normalized extension.
func (d *ConversionDispatcher) validateSelection(converter domain.ConverterID, overrides map[string]domain.ConverterID) (map[string]domain.ConverterID, error) {
	if converter != domain.ConverterAuto && converter != domain.ConverterCustom {
		if _, ok := d.catalog.Get(converter); !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "start conversion", fmt.Errorf("unknown converter %q", converter))
		}
	}
	if converter != domain.ConverterCustom {
		return nil, nil
	}
	normalized, err := domain.NormalizeOverrides(overrides)
	if err != nil {
		return nil, err
	}
	for ext, id := range normalized {
		if id == domain.ConverterAuto {
			continue
		}
		if _, ok := d.catalog.Get(id); !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "start conversion", fmt.Errorf("unknown converter %q for extension %q", id, ext))
		}
	}
	return normalized, nil
}

func (d *ConversionDispatcher) createJob(ctx context.Context, file *domain.FileRecord, converter domain.ConverterID, overrides map[string]domain.ConverterID) (*domain.Job, error) {
	var (
		desc domain.ConverterDescriptor
		err  error
	)
	if converter == domain.ConverterCustom {
		desc, err = d.catalog.ResolveCustom(file.Extension, overrides)
	} else {
		desc, err = d.catalog.Resolve(file.Extension, converter)
	}
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		FileInfo:  *file,
		Converter: converter,
		Engine:    desc.ID,
		Status:    domain.JobPending,
		Progress:  domain.ProgressQueued,
		CreatedAt: d.now().UTC(),
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := d.queue.Enqueue(ctx, job.ID); err != nil {
		d.logger.Error("job_enqueue_failed", "job_id", job.ID, "error", err)
		patch := domain.FailedPatch(sanitizeMessage("enqueue: "+err.Error(), ""), 0, d.now())
		if updErr := d.jobs.Update(context.WithoutCancel(ctx), job.ID, patch); updErr != nil {
			return nil, fmt.Errorf("mark unqueued job failed: %w", updErr)
		}
		_ = job.Apply(patch)
		return job, nil
	}

	d.logger.Info("job_enqueued", "job_id", job.ID, "file_id", file.ID, "engine", desc.ID)
	return job, nil
}

// ProcessByID runs a queued job. Conversion failures are recorded on the job
// and are not returned; only infrastructure errors are.
func (d *ConversionDispatcher) ProcessByID(ctx context.Context, jobID string) error {
	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			d.logger.Info("job_skipped", "job_id", jobID, "reason", "deleted")
			return nil
		}
		return fmt.Errorf("fetch job by id: %w", err)
	}
	if job.Status != domain.JobPending {
		d.logger.Info("job_skipped", "job_id", jobID, "status", job.Status)
		return nil
	}

	started := d.now()
	if err := d.jobs.Update(ctx, jobID, domain.ProcessingPatch(domain.ProgressStarted, started)); err != nil {
		if isGone(err) {
			d.logger.Info("job_skipped", "job_id", jobID, "reason", "claim lost", "error", err)
			return nil
		}
		return fmt.Errorf("set status=processing: %w", err)
	}
	d.observer.JobStarted(job.Engine, started.Sub(job.CreatedAt))
	d.logger.Info("job_started", "job_id", jobID, "engine", job.Engine, "file", job.FileInfo.Name)

	settings, err := d.settings.Snapshot(ctx)
	if err != nil {
		return d.fail(ctx, job, err, started, domain.Settings{})
	}
	text, convErr := d.convert(ctx, job, settings)
	if convErr != nil {
		return d.fail(ctx, job, convErr, started, settings)
	}
	return d.complete(ctx, job, text, started, settings)
}

func (d *ConversionDispatcher) convert(ctx context.Context, job *domain.Job, settings domain.Settings) (string, error) {
	desc, ok := d.catalog.Get(job.Engine)
	engine, registered := d.engines[job.Engine]
	if !ok || !registered {
		return "", domain.WrapError(domain.ErrEngine, "convert", fmt.Errorf("engine %q is not available", job.Engine))
	}

	data, err := d.loadSource(ctx, job.FileInfo)
	if err != nil {
		return "", err
	}
	if desc.RequiresAPIKey && !settings.HasAPIKey() {
		return "", domain.WrapError(domain.ErrMissingCredential, "convert", fmt.Errorf("%s requires an API key", desc.Name))
	}
	d.progress(ctx, job.ID, domain.ProgressConverted)

	convCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	sem := d.limits[job.Engine]
	if sem != nil {
		if err := sem.Acquire(convCtx, 1); err != nil {
			return "", classifyEngineError(convCtx, err)
		}
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if sem != nil {
			defer sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: domain.WrapError(domain.ErrEngine, "convert", fmt.Errorf("engine panic: %v", r))}
			}
		}()
		text, err := engine.Convert(convCtx, domain.ConversionInput{
			Filename:  job.FileInfo.Name,
			Extension: job.FileInfo.Extension,
			Data:      data,
			Settings:  settings,
		})
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", classifyEngineError(convCtx, res.err)
		}
		if strings.TrimSpace(res.text) == "" {
			return "", domain.WrapError(domain.ErrEngine, "convert", errors.New("engine produced empty output"))
		}
		return res.text, nil
	case <-convCtx.Done():
		return "", classifyEngineError(convCtx, convCtx.Err())
	}
}

func (d *ConversionDispatcher) loadSource(ctx context.Context, file domain.FileRecord) ([]byte, error) {
	rc, err := d.storage.Open(ctx, file.StorageKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEngine, "load source", fmt.Errorf("source file %s is unavailable: %w", file.Name, err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEngine, "load source", err)
	}
	return data, nil
}

func (d *ConversionDispatcher) complete(ctx context.Context, job *domain.Job, text string, started time.Time, settings domain.Settings) error {
	key := outputKey(job.ID)
	if err := d.storage.Save(ctx, key, strings.NewReader(text)); err != nil {
		return d.fail(ctx, job, fmt.Errorf("store output: %w", err), started, settings)
	}
	d.progress(ctx, job.ID, domain.ProgressStored)

	finished := d.now()
	elapsed := finished.Sub(started)
	d.observer.JobFinished(job.Engine, domain.JobCompleted, elapsed)
	err := d.jobs.Update(ctx, job.ID, domain.CompletedPatch(key, int64(len(text)), elapsed, finished))
	if err != nil {
		if isGone(err) {
			d.releaseOutput(ctx, job.ID, key, err)
			return nil
		}
		return fmt.Errorf("set status=completed: %w", err)
	}

	d.logger.Info("job_completed",
		"job_id", job.ID,
		"engine", job.Engine,
		"output_size", len(text),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (d *ConversionDispatcher) fail(ctx context.Context, job *domain.Job, cause error, started time.Time, settings domain.Settings) error {
	finished := d.now()
	elapsed := finished.Sub(started)
	message := sanitizeMessage(cause.Error(), settings.APIKey)
	d.observer.JobFinished(job.Engine, domain.JobFailed, elapsed)

	if err := d.jobs.Update(ctx, job.ID, domain.FailedPatch(message, elapsed, finished)); err != nil {
		if isGone(err) {
			d.logger.Info("job_failure_dropped", "job_id", job.ID, "error", err)
			return nil
		}
		return fmt.Errorf("set status=failed: %w", err)
	}

	d.logger.Warn("job_failed",
		"job_id", job.ID,
		"engine", job.Engine,
		"error", message,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

// Recover re-enqueues pending jobs and fails processing jobs claimed before
// interruptedBefore. A zero cutoff leaves processing jobs alone.
func (d *ConversionDispatcher) Recover(ctx context.Context, interruptedBefore time.Time) (int, error) {
	jobs, err := d.jobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs for recovery: %w", err)
	}

	recovered := 0
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		switch {
		case job.Status == domain.JobPending:
			if err := d.queue.Enqueue(ctx, job.ID); err != nil {
				return recovered, fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
			}
			recovered++
		case !interruptedBefore.IsZero() && job.ClaimedBefore(interruptedBefore):
			if err := d.failInterrupted(ctx, job); err != nil {
				return recovered, err
			}
			recovered++
		}
	}
	if recovered > 0 {
		d.logger.Info("jobs_recovered", "count", recovered)
	}
	return recovered, nil
}

// FailStale fails processing jobs claimed more than olderThan ago.
func (d *ConversionDispatcher) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	jobs, err := d.jobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs for stale check: %w", err)
	}
	cutoff := d.now().Add(-olderThan)
	failed := 0
	for _, job := range jobs {
		if !job.ClaimedBefore(cutoff) {
			continue
		}
		if err := d.failInterrupted(ctx, job); err != nil {
			return failed, err
		}
		failed++
	}
	if failed > 0 {
		d.logger.Warn("stale_jobs_failed", "count", failed)
	}
	return failed, nil
}

// StaleAfter is how long a claim may last before FailStale treats its worker
// as dead.
func (d *ConversionDispatcher) StaleAfter() time.Duration {
	return d.jobTimeout + staleGrace
}

func (d *ConversionDispatcher) failInterrupted(ctx context.Context, job domain.Job) error {
	now := d.now()
	claimed := job.CreatedAt
	if job.StartedAt != nil {
		claimed = *job.StartedAt
	}
	patch := domain.FailedPatch("conversion interrupted: worker stopped before finishing", max(now.Sub(claimed), 0), now)
	if err := d.jobs.Update(ctx, job.ID, patch); err != nil && !isGone(err) {
		return fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
	}
	return nil
}

func (d *ConversionDispatcher) progress(ctx context.Context, jobID string, progress int) {
	if err := d.jobs.Update(ctx, jobID, domain.ProgressPatch(progress)); err != nil && !isGone(err) {
		d.logger.Warn("job_progress_update_failed", "job_id", jobID, "error", err)
	}
}

// releaseOutput handles a completion that lost to a delete or to a concurrent
// terminal transition. The stored output is kept only while the job record
// still references it.
func (d *ConversionDispatcher) releaseOutput(ctx context.Context, jobID, key string, cause error) {
	current, err := d.jobs.GetByID(context.WithoutCancel(ctx), jobID)
	switch {
	case err == nil && current.OutputRef == key:
		d.logger.Warn("job_completion_dropped", "job_id", jobID, "status", current.Status, "error", cause)
		return
	case err != nil && !domain.IsKind(err, domain.ErrNotFound):
		d.logger.Warn("job_completion_dropped", "job_id", jobID, "error", err)
		return
	}
	d.discardOutput(ctx, jobID, key)
}

func (d *ConversionDispatcher) discardOutput(ctx context.Context, jobID, key string) {
	if err := d.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
		d.logger.Warn("orphan_output_delete_failed", "job_id", jobID, "error", err)
		return
	}
	d.logger.Info("orphan_output_discarded", "job_id", jobID)
}

// isGone reports whether a job update lost a race with a delete or a
// concurrent terminal transition.
func isGone(err error) bool {
	return domain.IsKind(err, domain.ErrNotFound) || domain.IsKind(err, domain.ErrConflict)
}

func classifyEngineError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, "convert", errors.New("conversion exceeded the job timeout"))
	case domain.IsKind(err, domain.ErrMissingCredential),
		domain.IsKind(err, domain.ErrUnsupportedFormat),
		domain.IsKind(err, domain.ErrEngine),
		domain.IsKind(err, domain.ErrTimeout):
		return err
	default:
		return domain.WrapError(domain.ErrEngine, "convert", err)
	}
}

type noopObserver struct{}

func (noopObserver) JobStarted(domain.ConverterID, time.Duration) {}

func (noopObserver) JobFinished(domain.ConverterID, domain.JobStatus, time.Duration) {}
