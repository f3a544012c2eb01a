package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/tomd/internal/core/ports"
)

const DefaultFileTTL = time.Hour

type SweepReport struct {
	ExpiredFiles   int
	OrphanedOutput int
	StaleJobs      int
}

type JanitorOption func(*Janitor)

// WithStaleJobs makes every sweep fail processing jobs claimed longer ago
// than the dispatcher's StaleAfter.
func WithStaleJobs(d *ConversionDispatcher) JanitorOption {
	return func(j *Janitor) {
		j.dispatcher = d
	}
}

// Janitor expires old uploads, removes outputs whose job no longer exists and
// optionally fails abandoned jobs.
type Janitor struct {
	files      ports.FileRepository
	jobs       ports.JobRepository
	storage    ports.ObjectStorage
	dispatcher *ConversionDispatcher
	fileTTL    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewJanitor(files ports.FileRepository, jobs ports.JobRepository, storage ports.ObjectStorage, fileTTL time.Duration, logger *slog.Logger, opts ...JanitorOption) *Janitor {
	if fileTTL <= 0 {
		fileTTL = DefaultFileTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		files:   files,
		jobs:    jobs,
		storage: storage,
		fileTTL: fileTTL,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if j.dispatcher != nil {
		stale, err := j.dispatcher.FailStale(ctx, j.dispatcher.StaleAfter())
		report.StaleJobs = stale
		if err != nil {
			return report, fmt.Errorf("fail stale jobs: %w", err)
		}
	}

	expired, err := j.files.ListCreatedBefore(ctx, j.now().Add(-j.fileTTL))
	if err != nil {
		return report, fmt.Errorf("list expired files: %w", err)
	}
	for _, file := range expired {
		if err := j.files.Delete(ctx, file.ID); err != nil {
			j.logger.Warn("expired_file_delete_failed", "file_id", file.ID, "error", err)
			continue
		}
		if err := j.storage.Delete(ctx, file.StorageKey); err != nil {
			j.logger.Warn("expired_file_blob_delete_failed", "file_id", file.ID, "error", err)
		}
		report.ExpiredFiles++
	}

	objects, err := j.storage.List(ctx, outputPrefix)
	if err != nil {
		return report, fmt.Errorf("list outputs: %w", err)
	}
	if len(objects) == 0 {
		return report, nil
	}
	jobs, err := j.jobs.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs: %w", err)
	}
	known := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		known[job.ID] = struct{}{}
	}
	for _, obj := range objects {
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, outputPrefix), ".md")
		if _, ok := known[id]; ok {
			continue
		}
		if err := j.storage.Delete(ctx, obj.Key); err != nil {
			j.logger.Warn("orphan_output_delete_failed", "key", obj.Key, "error", err)
			continue
		}
		report.OrphanedOutput++
	}
	return report, nil
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := j.Sweep(ctx)
			if err != nil {
				j.logger.Error("janitor_sweep_failed", "error", err)
				continue
			}
			if report.ExpiredFiles > 0 || report.OrphanedOutput > 0 || report.StaleJobs > 0 {
				j.logger.Info("janitor_sweep",
					"expired_files", report.ExpiredFiles,
					"orphaned_outputs", report.OrphanedOutput,
					"stale_jobs", report.StaleJobs,
				)
			}
		}
	}
}
