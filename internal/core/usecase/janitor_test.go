package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
)

func TestJanitorSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	old := testFile("old", "old.pdf")
	old.CreatedAt = now.Add(-2 * time.Hour)
	fresh := testFile("fresh", "fresh.pdf")
	fresh.CreatedAt = now.Add(-time.Minute)

	files := newFileRepoFake(old, fresh)
	jobs := newJobRepoFake(completedJob("kept", "k.pdf", 1))
	storage := newStorageFake()
	storage.objects[old.StorageKey] = []byte("o")
	storage.objects[fresh.StorageKey] = []byte("f")
	storage.objects[outputKey("kept")] = []byte("k")
	storage.objects[outputKey("orphan")] = []byte("x")

	j := NewJanitor(files, jobs, storage, time.Hour, nil)
	j.now = func() time.Time { return now }

	report, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.ExpiredFiles != 1 || report.OrphanedOutput != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if storage.has(old.StorageKey) || !storage.has(fresh.StorageKey) {
		t.Fatalf("unexpected upload state: %v", storage.objects)
	}
	if !storage.has(outputKey("kept")) || storage.has(outputKey("orphan")) {
		t.Fatalf("unexpected output state: %v", storage.objects)
	}
	if _, err := files.GetByID(context.Background(), "old"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected expired file metadata removed, got %v", err)
	}
}

func TestJanitorFailsStaleClaims(t *testing.T) {
	fx := newDispatcherFixture()
	base := time.Unix(1700000000, 0).UTC()
	abandoned := base.Add(-time.Hour)
	running := base.Add(-time.Minute)
	fx.jobs = newJobRepoFake(
		domain.Job{ID: "abandoned", Status: domain.JobProcessing, CreatedAt: abandoned, StartedAt: &abandoned},
		domain.Job{ID: "running", Status: domain.JobProcessing, CreatedAt: abandoned, StartedAt: &running},
	)
	d := fx.dispatcher()

	j := NewJanitor(fx.files, fx.jobs, fx.storage, time.Hour, nil, WithStaleJobs(d))
	report, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.StaleJobs != 1 {
		t.Fatalf("expected one stale job, got %+v", report)
	}
	if job, _ := fx.jobs.GetByID(context.Background(), "abandoned"); job.Status != domain.JobFailed {
		t.Fatalf("expected abandoned job failed, got %s", job.Status)
	}
	if job, _ := fx.jobs.GetByID(context.Background(), "running"); job.Status != domain.JobProcessing {
		t.Fatalf("expected running job untouched, got %s", job.Status)
	}
}
