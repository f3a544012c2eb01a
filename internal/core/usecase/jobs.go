package usecase

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

const (
	DefaultPreviewLimit = 100 << 10

	archiveFetchConcurrency = 4
)

type JobQueryUseCase struct {
	jobs         ports.JobRepository
	storage      ports.ObjectStorage
	cache        ports.PreviewCache
	previewLimit int
	logger       *slog.Logger
}

func NewJobQueryUseCase(
	jobs ports.JobRepository,
	storage ports.ObjectStorage,
	cache ports.PreviewCache,
	previewLimit int,
	logger *slog.Logger,
) *JobQueryUseCase {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	if cache == nil {
		cache = noopPreviewCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueryUseCase{
		jobs:         jobs,
		storage:      storage,
		cache:        cache,
		previewLimit: previewLimit,
		logger:       logger,
	}
}

func (uc *JobQueryUseCase) List(ctx context.Context) ([]domain.Job, error) {
	return uc.jobs.List(ctx)
}

func (uc *JobQueryUseCase) Get(ctx context.Context, id string) (*domain.Job, error) {
	return uc.jobs.GetByID(ctx, id)
}

// Delete removes the job and its output. A worker still converting the job
// discards its own output when it finds the record gone.
func (uc *JobQueryUseCase) Delete(ctx context.Context, id string) error {
	if err := uc.jobs.Delete(ctx, id); err != nil {
		return err
	}
	if err := uc.storage.Delete(ctx, outputKey(id)); err != nil {
		uc.logger.Warn("job_output_delete_failed", "job_id", id, "error", err)
	}
	if err := uc.cache.Invalidate(ctx, id); err != nil {
		uc.logger.Warn("preview_cache_invalidate_failed", "job_id", id, "error", err)
	}
	uc.logger.Info("job_deleted", "job_id", id)
	return nil
}

func (uc *JobQueryUseCase) DeleteMany(ctx context.Context, ids []string) ports.BulkDeleteResult {
	result := ports.BulkDeleteResult{Deleted: []string{}, Failed: []string{}}
	for _, id := range ids {
		if err := uc.Delete(ctx, id); err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result
}

func (uc *JobQueryUseCase) completedJob(ctx context.Context, id, operation string) (*domain.Job, error) {
	job, err := uc.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, domain.WrapError(domain.ErrNotReady, operation, fmt.Errorf("job %s is %s", id, job.Status))
	}
	return job, nil
}

// Preview returns at most previewLimit bytes of the output, cut on a rune boundary.
func (uc *JobQueryUseCase) Preview(ctx context.Context, id string) (*domain.Preview, error) {
	job, err := uc.completedJob(ctx, id, "preview job")
	if err != nil {
		return nil, err
	}
	if cached, ok := uc.cache.Get(ctx, id); ok {
		return cached, nil
	}

	rc, err := uc.storage.Open(ctx, job.OutputRef)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNotFound, "preview job", err)
	}
	defer rc.Close()

	head, err := io.ReadAll(io.LimitReader(rc, int64(uc.previewLimit)+1))
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	total := int64(len(head))
	if job.OutputSize != nil {
		total = *job.OutputSize
	} else if total > int64(uc.previewLimit) {
		rest, err := io.Copy(io.Discard, rc)
		if err != nil {
			return nil, fmt.Errorf("read output: %w", err)
		}
		total += rest
	}

	preview := domain.Preview{TotalLength: total}
	if total > int64(uc.previewLimit) || len(head) > uc.previewLimit {
		preview.Truncated = true
		head = trimPartialRune(head[:min(len(head), uc.previewLimit)])
	}
	preview.Content = string(head)

	if err := uc.cache.Set(ctx, id, preview); err != nil {
		uc.logger.Warn("preview_cache_set_failed", "job_id", id, "error", err)
	}
	return &preview, nil
}

// Download opens the full output of a completed job together with its
// attachment name.
func (uc *JobQueryUseCase) Download(ctx context.Context, id string) (string, io.ReadCloser, error) {
	job, err := uc.completedJob(ctx, id, "download job")
	if err != nil {
		return "", nil, err
	}
	rc, err := uc.storage.Open(ctx, job.OutputRef)
	if err != nil {
		return "", nil, domain.WrapError(domain.ErrNotFound, "download job", err)
	}
	return domain.MarkdownName(job.FileInfo.Name), rc, nil
}

type archiveEntry struct {
	job  domain.Job
	body []byte
}

// Archive writes a zip of the outputs of the completed jobs among ids.
// Jobs that are missing, not completed or whose output is gone are skipped.
// Nothing is written to w when no entry remains.
func (uc *JobQueryUseCase) Archive(ctx context.Context, ids []string, w io.Writer) (int, error) {
	if len(ids) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "archive jobs", errors.New("job_ids must not be empty"))
	}

	seen := make(map[string]struct{}, len(ids))
	var entries []*archiveEntry
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		job, err := uc.jobs.GetByID(ctx, id)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return 0, err
		}
		if job.Status == domain.JobCompleted {
			entries = append(entries, &archiveEntry{job: *job})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveFetchConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			rc, err := uc.storage.Open(gctx, entry.job.OutputRef)
			if err != nil {
				uc.logger.Warn("archive_output_missing", "job_id", entry.job.ID, "error", err)
				return nil
			}
			defer rc.Close()
			body, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("read output %s: %w", entry.job.ID, err)
			}
			entry.body = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	available := entries[:0]
	for _, entry := range entries {
		if entry.body != nil {
			available = append(available, entry)
		}
	}
	if len(available) == 0 {
		return 0, domain.WrapError(domain.ErrNoCompletedJobs, "archive jobs", errors.New("none of the requested jobs has a completed output"))
	}

	zw := zip.NewWriter(w)
	names := make(map[string]int, len(available))
	for _, entry := range available {
		header := &zip.FileHeader{
			Name:   uniqueName(names, domain.MarkdownName(entry.job.FileInfo.Name)),
			Method: zip.Deflate,
		}
		if entry.job.CompletedAt != nil {
			header.Modified = *entry.job.CompletedAt
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return 0, fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := fw.Write(entry.body); err != nil {
			return 0, fmt.Errorf("write archive entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finalize archive: %w", err)
	}
	return len(available), nil
}

// uniqueName suffixes repeated names as "name (2).md", "name (3).md".
func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	n := seen[name]
	if n == 1 {
		return name
	}
	stem := strings.TrimSuffix(name, ".md")
	candidate := fmt.Sprintf("%s (%d).md", stem, n)
	for seen[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s (%d).md", stem, n)
	}
	seen[candidate] = 1
	return candidate
}

type noopPreviewCache struct{}

func (noopPreviewCache) Get(context.Context, string) (*domain.Preview, bool) { return nil, false }

func (noopPreviewCache) Set(context.Context, string, domain.Preview) error { return nil }

func (noopPreviewCache) Invalidate(context.Context, string) error { return nil }
