package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/tomd/internal/core/domain"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, file_id, file_name, file_size, file_mime_type, file_extension, file_created_at, source_key,
	converter, engine, status, progress, created_at, completed_at, output_ref, output_size, error_message, processing_time,
	started_at`

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	f := job.FileInfo
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversion_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`,
		job.ID, f.ID, f.Name, f.Size, f.MimeType, f.Extension, f.CreatedAt, f.StorageKey,
		string(job.Converter), string(job.Engine), string(job.Status), job.Progress, job.CreatedAt,
		nullTime(job.CompletedAt), nullString(job.OutputRef), nullInt64(job.OutputSize),
		nullString(job.Error), nullFloat64(job.ProcessingTime), nullTime(job.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conversion job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM conversion_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobNotFound("get job", id)
		}
		return nil, fmt.Errorf("scan conversion job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM conversion_jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query conversion jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversion jobs: %w", err)
	}
	return out, nil
}

// Update locks the row, applies the patch with the domain transition rules and
// writes the result back in one transaction.
func (r *JobRepository) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin job update tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM conversion_jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobNotFound("update job", id)
		}
		return fmt.Errorf("lock conversion job: %w", err)
	}
	if err := job.Apply(patch); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE conversion_jobs
SET status = $2, progress = $3, completed_at = $4, output_ref = $5, output_size = $6, error_message = $7, processing_time = $8,
	started_at = $9
WHERE id = $1
`,
		id, string(job.Status), job.Progress, nullTime(job.CompletedAt), nullString(job.OutputRef),
		nullInt64(job.OutputSize), nullString(job.Error), nullFloat64(job.ProcessingTime), nullTime(job.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("update conversion job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job update: %w", err)
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversion_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversion job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversion job rows affected: %w", err)
	}
	if affected == 0 {
		return jobNotFound("delete job", id)
	}
	return nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                       domain.Job
		converter, engine, status string
		completedAt, startedAt    sql.NullTime
		outputRef, errorMessage   sql.NullString
		outputSize                sql.NullInt64
		processingTime            sql.NullFloat64
	)
	f := &job.FileInfo
	err := row.Scan(
		&job.ID, &f.ID, &f.Name, &f.Size, &f.MimeType, &f.Extension, &f.CreatedAt, &f.StorageKey,
		&converter, &engine, &status, &job.Progress, &job.CreatedAt,
		&completedAt, &outputRef, &outputSize, &errorMessage, &processingTime, &startedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Converter = domain.ConverterID(converter)
	job.Engine = domain.ConverterID(engine)
	job.Status = domain.JobStatus(status)
	if startedAt.Valid {
		at := startedAt.Time.UTC()
		job.StartedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		job.CompletedAt = &at
	}
	job.OutputRef = outputRef.String
	job.Error = errorMessage.String
	if outputSize.Valid {
		size := outputSize.Int64
		job.OutputSize = &size
	}
	if processingTime.Valid {
		seconds := processingTime.Float64
		job.ProcessingTime = &seconds
	}
	return &job, nil
}

func jobNotFound(op, id string) error {
	return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("job %s", id))
}
