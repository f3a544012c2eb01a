package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/tomd/internal/core/domain"
)

var jobColumnNames = []string{
	"id", "file_id", "file_name", "file_size", "file_mime_type", "file_extension", "file_created_at", "source_key",
	"converter", "engine", "status", "progress", "created_at", "completed_at", "output_ref", "output_size",
	"error_message", "processing_time", "started_at",
}

func newJobRepoWithMock(t *testing.T) (*JobRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewJobRepository(db), mock, func() { _ = db.Close() }
}

func jobRow(rows *sqlmock.Rows, id string, status domain.JobStatus, completed bool) *sqlmock.Rows {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	if !completed {
		return rows.AddRow(id, "f-1", "report.pdf", int64(10), "application/pdf", "pdf", now, "uploads/f-1_report.pdf",
			"auto", "markitdown", string(status), int64(10), now, nil, nil, nil, nil, nil, startedAt(status, now))
	}
	return rows.AddRow(id, "f-1", "report.pdf", int64(10), "application/pdf", "pdf", now, "uploads/f-1_report.pdf",
		"auto", "markitdown", string(status), int64(100), now, now, "outputs/"+id+".md", int64(500), nil, 1.25, now)
}

func startedAt(status domain.JobStatus, at time.Time) any {
	if status == domain.JobPending {
		return nil
	}
	return at
}

func TestJobGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM conversion_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobListScansNullableColumns(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(jobColumnNames)
	jobRow(rows, "done", domain.JobCompleted, true)
	jobRow(rows, "queued", domain.JobPending, false)
	mock.ExpectQuery("ORDER BY created_at DESC").WillReturnRows(rows)

	jobs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	done0 := jobs[0]
	if done0.Status != domain.JobCompleted || done0.OutputSize == nil || *done0.OutputSize != 500 {
		t.Fatalf("unexpected completed job: %+v", done0)
	}
	if done0.ProcessingTime == nil || *done0.ProcessingTime != 1.25 || done0.CompletedAt == nil {
		t.Fatalf("unexpected terminal fields: %+v", done0)
	}
	if done0.FileInfo.StorageKey != "uploads/f-1_report.pdf" || done0.Engine != domain.ConverterMarkitdown {
		t.Fatalf("unexpected file snapshot: %+v", done0.FileInfo)
	}
	if done0.StartedAt == nil {
		t.Fatalf("expected claim time scanned: %+v", done0)
	}
	queued := jobs[1]
	if queued.StartedAt != nil {
		t.Fatalf("pending job must not carry a claim time: %+v", queued)
	}
	if queued.CompletedAt != nil || queued.OutputSize != nil || queued.ProcessingTime != nil || queued.Error != "" {
		t.Fatalf("pending job must not carry terminal fields: %+v", queued)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobUpdateAppliesPatchUnderRowLock(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("j-1").
		WillReturnRows(jobRow(sqlmock.NewRows(jobColumnNames), "j-1", domain.JobProcessing, false))
	mock.ExpectExec("UPDATE conversion_jobs").
		WithArgs("j-1", string(domain.JobCompleted), 100, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), "j-1", domain.CompletedPatch("outputs/j-1.md", 12, time.Second, time.Now()))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobUpdateRejectsTerminalJob(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("j-1").
		WillReturnRows(jobRow(sqlmock.NewRows(jobColumnNames), "j-1", domain.JobCompleted, true))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), "j-1", domain.ProcessingPatch(domain.ProgressStarted, time.Now()))
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobUpdateRejectsSecondClaim(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("j-1").
		WillReturnRows(jobRow(sqlmock.NewRows(jobColumnNames), "j-1", domain.JobProcessing, false))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), "j-1", domain.ProcessingPatch(domain.ProgressStarted, time.Now()))
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for a job already claimed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobUpdateMissingRow(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("gone").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Update(context.Background(), "gone", domain.ProgressPatch(30))
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobDeleteReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectExec("DELETE FROM conversion_jobs").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobCreateInsertsSnapshot(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        "j-1",
		FileInfo:  domain.FileRecord{ID: "f-1", Name: "a.pdf", Size: 3, MimeType: "application/pdf", Extension: "pdf", CreatedAt: now, StorageKey: "uploads/f-1_a.pdf"},
		Converter: domain.ConverterAuto,
		Engine:    domain.ConverterMarkitdown,
		Status:    domain.JobPending,
		CreatedAt: now,
	}
	mock.ExpectExec("INSERT INTO conversion_jobs").
		WithArgs("j-1", "f-1", "a.pdf", int64(3), "application/pdf", "pdf", now, "uploads/f-1_a.pdf",
			"auto", "markitdown", "pending", 0, now,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
