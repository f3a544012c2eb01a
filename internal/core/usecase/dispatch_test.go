package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

func runQueued(t *testing.T, d *ConversionDispatcher, q *queueFake) {
	t.Helper()
	for _, id := range q.ids {
		if err := d.ProcessByID(context.Background(), id); err != nil {
			t.Fatalf("ProcessByID(%s) error = %v", id, err)
		}
	}
}

func TestStartCreatesOnePendingJobPerFile(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"), testFile("f2", "b.docx"), testFile("f3", "c.tex"))
	d := fx.dispatcher()

	jobs, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1", "f2", "f3"}, Converter: domain.ConverterAuto})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	seen := map[string]bool{}
	for i, job := range jobs {
		if job.Status != domain.JobPending || job.Progress != 0 {
			t.Fatalf("job %d not pending: %+v", i, job)
		}
		if seen[job.ID] {
			t.Fatalf("duplicate job id %s", job.ID)
		}
		seen[job.ID] = true
	}
	if jobs[0].FileInfo.ID != "f1" || jobs[2].FileInfo.ID != "f3" {
		t.Fatalf("unexpected file snapshots: %+v", jobs)
	}
	if jobs[2].Engine != domain.ConverterPypandoc {
		t.Fatalf("expected tex to resolve to pypandoc, got %s", jobs[2].Engine)
	}
	if len(fx.queue.ids) != 3 {
		t.Fatalf("expected 3 enqueued ids, got %d", len(fx.queue.ids))
	}
}

func TestStartFailsBeforeCreatingJobsOnUnknownFile(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	d := fx.dispatcher()

	_, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1", "missing"}, Converter: domain.ConverterAuto})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(fx.jobs.jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(fx.jobs.jobs))
	}
}

func TestStartValidatesSelection(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	d := fx.dispatcher()

	cases := []ports.StartRequest{
		{FileIDs: nil, Converter: domain.ConverterAuto},
		{FileIDs: []string{"f1"}, Converter: "unknown"},
		{FileIDs: []string{"f1"}, Converter: domain.ConverterCustom, Overrides: map[string]domain.ConverterID{"pdf": "bogus"}},
		{FileIDs: []string{"f1"}, Converter: domain.ConverterCustom, Overrides: map[string]domain.ConverterID{"PDF": domain.ConverterMarker, ".pdf": domain.ConverterDocling}},
	}
	for _, req := range cases {
		if _, err := d.Start(context.Background(), req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}
	if len(fx.jobs.jobs) != 0 {
		t.Fatalf("rejected requests must not create jobs, got %d", len(fx.jobs.jobs))
	}
}

func TestStartCustomNormalizesOverrideKeys(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.PDF"))
	d := fx.dispatcher()

	jobs, err := d.Start(context.Background(), ports.StartRequest{
		FileIDs:   []string{"f1"},
		Converter: domain.ConverterCustom,
		Overrides: map[string]domain.ConverterID{".Pdf": domain.ConverterMarker, "PDF": domain.ConverterMarker},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if jobs[0].Engine != domain.ConverterMarker {
		t.Fatalf("expected marker for pdf, got %s", jobs[0].Engine)
	}
}

func TestStartCustomUsesOverrides(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"), testFile("f2", "b.docx"))
	d := fx.dispatcher()

	jobs, err := d.Start(context.Background(), ports.StartRequest{
		FileIDs:   []string{"f1", "f2"},
		Converter: domain.ConverterCustom,
		Overrides: map[string]domain.ConverterID{"pdf": domain.ConverterMarker},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if jobs[0].Engine != domain.ConverterMarker {
		t.Fatalf("expected marker for pdf, got %s", jobs[0].Engine)
	}
	if jobs[1].Engine != domain.ConverterMarkitdown {
		t.Fatalf("expected auto fallback for docx, got %s", jobs[1].Engine)
	}
	if jobs[0].Converter != domain.ConverterCustom {
		t.Fatalf("expected requested converter custom, got %s", jobs[0].Converter)
	}
}

func TestStartMarksJobFailedWhenEnqueueFails(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	fx.queue.err = errors.New("queue full")
	d := fx.dispatcher()

	jobs, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stored, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if stored.Status != domain.JobFailed || !strings.Contains(stored.Error, "queue full") {
		t.Fatalf("expected failed job, got %+v", stored)
	}
	if jobs[0].Status != domain.JobFailed {
		t.Fatalf("expected returned job failed, got %s", jobs[0].Status)
	}
}

func TestProcessAutoPDFCompletes(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "report.pdf"))
	var gotInput domain.ConversionInput
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(_ context.Context, in domain.ConversionInput) (string, error) {
		gotInput = in
		return strings.Repeat("m", 500), nil
	})
	d := fx.dispatcher()

	jobs, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}, Converter: domain.ConverterAuto})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	runQueued(t, d, fx.queue)

	job, err := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if job.Engine != domain.ConverterMarkitdown {
		t.Fatalf("expected markitdown, got %s", job.Engine)
	}
	if job.Status != domain.JobCompleted || job.Progress != 100 {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if job.OutputSize == nil || *job.OutputSize != 500 {
		t.Fatalf("expected output size 500, got %v", job.OutputSize)
	}
	if job.ProcessingTime == nil || *job.ProcessingTime <= 0 {
		t.Fatalf("expected positive processing time, got %v", job.ProcessingTime)
	}
	if job.CompletedAt == nil || job.Error != "" {
		t.Fatalf("unexpected terminal fields: %+v", job)
	}
	if gotInput.Extension != "pdf" || string(gotInput.Data) != "source:report.pdf" {
		t.Fatalf("unexpected engine input: %+v", gotInput)
	}
	want := []domain.JobStatus{domain.JobProcessing, domain.JobCompleted}
	if len(fx.jobs.statusLog) != 2 || fx.jobs.statusLog[0] != want[0] || fx.jobs.statusLog[1] != want[1] {
		t.Fatalf("unexpected status transitions: %v", fx.jobs.statusLog)
	}
	if !fx.storage.has(job.OutputRef) {
		t.Fatalf("expected stored output at %s", job.OutputRef)
	}
}

func TestProcessMarkerOnDocxFailsUnsupported(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "memo.docx"))
	fx.engines[domain.ConverterMarker] = engineFunc(func(_ context.Context, in domain.ConversionInput) (string, error) {
		if in.Extension != "pdf" {
			return "", domain.WrapError(domain.ErrUnsupportedFormat, "marker", errors.New("only pdf input is accepted"))
		}
		return "ok", nil
	})
	d := fx.dispatcher()

	jobs, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}, Converter: domain.ConverterMarker})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if jobs[0].Engine != domain.ConverterMarker {
		t.Fatalf("explicit converter must not be re-resolved, got %s", jobs[0].Engine)
	}
	runQueued(t, d, fx.queue)

	job, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if job.Status != domain.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "unsupported format") {
		t.Fatalf("expected unsupported format error, got %q", job.Error)
	}
	if job.OutputSize != nil || job.OutputRef != "" || job.ProcessingTime == nil || job.CompletedAt == nil {
		t.Fatalf("unexpected terminal fields: %+v", job)
	}
}

func TestProcessMissingCredential(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "mail.eml"))
	called := false
	fx.engines[domain.ConverterUnstructured] = engineFunc(func(context.Context, domain.ConversionInput) (string, error) {
		called = true
		return "x", nil
	})
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}, Converter: domain.ConverterUnstructured})
	runQueued(t, d, fx.queue)

	job, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if job.Status != domain.JobFailed || !strings.Contains(job.Error, "missing credential") {
		t.Fatalf("expected missing credential failure, got %+v", job)
	}
	if called {
		t.Fatalf("engine must not be invoked without credentials")
	}
}

func TestProcessPassesSettingsSnapshotAndRedactsKey(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "mail.eml"))
	if _, err := fx.settings.Update(context.Background(), domain.SettingsPatch{APIKey: ptr("sk-secret"), BaseURL: ptr("https://api.example.com/")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	var got domain.Settings
	fx.engines[domain.ConverterUnstructured] = engineFunc(func(_ context.Context, in domain.ConversionInput) (string, error) {
		got = in.Settings
		return "", errors.New("401 for key sk-secret\nretry later")
	})
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}, Converter: domain.ConverterUnstructured})
	runQueued(t, d, fx.queue)

	if got.APIKey != "sk-secret" || got.BaseURL != "https://api.example.com" {
		t.Fatalf("unexpected settings passed to engine: %+v", got)
	}
	job, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if strings.Contains(job.Error, "sk-secret") || strings.Contains(job.Error, "\n") {
		t.Fatalf("error not sanitized: %q", job.Error)
	}
	if !strings.Contains(job.Error, "engine error") {
		t.Fatalf("expected engine error kind, got %q", job.Error)
	}
}

func TestProcessTimeout(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(ctx context.Context, _ domain.ConversionInput) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	d := fx.dispatcher(WithJobTimeout(20 * time.Millisecond))

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	runQueued(t, d, fx.queue)

	job, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if job.Status != domain.JobFailed || !strings.Contains(job.Error, "timeout") {
		t.Fatalf("expected timeout failure, got %+v", job)
	}
}

func TestProcessRecoversEnginePanicAndEmptyOutput(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"), testFile("f2", "b.html"))
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(_ context.Context, in domain.ConversionInput) (string, error) {
		if in.Extension == "pdf" {
			panic("corrupt xref table")
		}
		return "   ", nil
	})
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1", "f2"}})
	runQueued(t, d, fx.queue)

	first, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if first.Status != domain.JobFailed || !strings.Contains(first.Error, "corrupt xref table") {
		t.Fatalf("expected panic recorded, got %+v", first)
	}
	second, _ := fx.jobs.GetByID(context.Background(), jobs[1].ID)
	if second.Status != domain.JobFailed || !strings.Contains(second.Error, "empty output") {
		t.Fatalf("expected empty output failure, got %+v", second)
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "bad.pdf"), testFile("f2", "good.pdf"))
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(_ context.Context, in domain.ConversionInput) (string, error) {
		if in.Filename == "bad.pdf" {
			return "", errors.New("cannot parse")
		}
		return "# good", nil
	})
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1", "f2"}})
	runQueued(t, d, fx.queue)

	bad, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	good, _ := fx.jobs.GetByID(context.Background(), jobs[1].ID)
	if bad.Status != domain.JobFailed || good.Status != domain.JobCompleted {
		t.Fatalf("expected failed+completed, got %s+%s", bad.Status, good.Status)
	}
}

func TestProcessIsIdempotentForTerminalJobs(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	runQueued(t, d, fx.queue)
	before, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)

	if err := d.ProcessByID(context.Background(), jobs[0].ID); err != nil {
		t.Fatalf("second ProcessByID() error = %v", err)
	}
	after, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if *after.ProcessingTime != *before.ProcessingTime || after.Status != domain.JobCompleted {
		t.Fatalf("terminal job changed: before=%+v after=%+v", before, after)
	}
}

func TestProcessDeletedMidFlightDiscardsOutput(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	d := fx.dispatcher()
	queries := NewJobQueryUseCase(fx.jobs, fx.storage, nil, 0, nil)

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	jobID := jobs[0].ID

	var once sync.Once
	fx.jobs.onUpdate = func(id string, patch domain.JobPatch) {
		if patch.Status != nil && *patch.Status == domain.JobCompleted {
			once.Do(func() {
				if err := queries.Delete(context.Background(), id); err != nil {
					t.Errorf("Delete() error = %v", err)
				}
			})
		}
	}

	if err := d.ProcessByID(context.Background(), jobID); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if _, err := fx.jobs.GetByID(context.Background(), jobID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected job to stay deleted, got %v", err)
	}
	if fx.storage.has(outputKey(jobID)) {
		t.Fatalf("expected orphaned output to be discarded")
	}
}

func TestProcessSkipsJobDeletedWhilePending(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	d := fx.dispatcher()
	queries := NewJobQueryUseCase(fx.jobs, fx.storage, nil, 0, nil)

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	if err := queries.Delete(context.Background(), jobs[0].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	runQueued(t, d, fx.queue)

	if _, err := queries.Get(context.Background(), jobs[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(fx.jobs.jobs) != 0 || fx.storage.has(outputKey(jobs[0].ID)) {
		t.Fatalf("deleted job was resurrected")
	}
}

func TestRecoverRequeuesPendingAndFailsProcessing(t *testing.T) {
	fx := newDispatcherFixture()
	now := time.Now().UTC()
	fx.jobs = newJobRepoFake(
		domain.Job{ID: "p", Status: domain.JobPending, CreatedAt: now.Add(-time.Minute)},
		domain.Job{ID: "r", Status: domain.JobProcessing, CreatedAt: now.Add(-2 * time.Minute)},
		domain.Job{ID: "c", Status: domain.JobCompleted, CreatedAt: now.Add(-3 * time.Minute)},
	)
	d := fx.dispatcher()

	n, err := d.Recover(context.Background(), now)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recovered jobs, got %d", n)
	}
	if len(fx.queue.ids) != 1 || fx.queue.ids[0] != "p" {
		t.Fatalf("expected pending job re-enqueued, got %v", fx.queue.ids)
	}
	job, _ := fx.jobs.GetByID(context.Background(), "r")
	if job.Status != domain.JobFailed || !strings.Contains(job.Error, "interrupted") {
		t.Fatalf("expected interrupted job failed, got %+v", job)
	}
}

func TestRecoverLeavesClaimsOwnedByLiveWorkers(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-30 * time.Second)
	seed := func() *jobRepoFake {
		return newJobRepoFake(
			domain.Job{ID: "p", Status: domain.JobPending, CreatedAt: now.Add(-time.Hour)},
			domain.Job{ID: "r", Status: domain.JobProcessing, CreatedAt: now.Add(-time.Hour), StartedAt: &recent},
		)
	}

	cutoffs := map[string]time.Time{
		"no cutoff":           {},
		"stale cutoff":        now.Add(-DefaultJobTimeout),
		"cutoff before claim": recent.Add(-time.Second),
	}
	for name, cutoff := range cutoffs {
		fx := newDispatcherFixture()
		fx.jobs = seed()
		d := fx.dispatcher()

		n, err := d.Recover(context.Background(), cutoff)
		if err != nil {
			t.Fatalf("%s: Recover() error = %v", name, err)
		}
		if n != 1 || len(fx.queue.ids) != 1 {
			t.Fatalf("%s: expected only the pending job recovered, got n=%d queued=%v", name, n, fx.queue.ids)
		}
		if job, _ := fx.jobs.GetByID(context.Background(), "r"); job.Status != domain.JobProcessing {
			t.Fatalf("%s: live claim was failed: %+v", name, job)
		}
	}
}

func TestDuplicateDeliveryRunsEngineOnceAndKeepsOutput(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	var (
		mu    sync.Mutex
		calls int
	)
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(context.Context, domain.ConversionInput) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "# converted", nil
	})
	d := fx.dispatcher()
	queries := NewJobQueryUseCase(fx.jobs, fx.storage, nil, 0, nil)

	jobs, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	jobID := jobs[0].ID

	// Both deliveries read the job as pending before either claims it.
	var claims sync.WaitGroup
	claims.Add(2)
	fx.jobs.onUpdate = func(_ string, patch domain.JobPatch) {
		if patch.Status != nil && *patch.Status == domain.JobProcessing {
			claims.Done()
			claims.Wait()
		}
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ProcessByID(context.Background(), jobID); err != nil {
				t.Errorf("ProcessByID() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected one engine call, got %d", calls)
	}
	job, _ := fx.jobs.GetByID(context.Background(), jobID)
	if job.Status != domain.JobCompleted || !fx.storage.has(job.OutputRef) {
		t.Fatalf("completed job lost its output: %+v", job)
	}
	preview, err := queries.Preview(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if preview.Content != "# converted" {
		t.Fatalf("unexpected preview: %+v", preview)
	}
}

func TestProcessFailedElsewhereDiscardsLateOutput(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	jobID := jobs[0].ID
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(context.Context, domain.ConversionInput) (string, error) {
		patch := domain.FailedPatch("conversion interrupted", time.Second, time.Now())
		if err := fx.jobs.Update(context.Background(), jobID, patch); err != nil {
			t.Errorf("Update() error = %v", err)
		}
		return "# late", nil
	})

	if err := d.ProcessByID(context.Background(), jobID); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	job, _ := fx.jobs.GetByID(context.Background(), jobID)
	if job.Status != domain.JobFailed || job.OutputRef != "" {
		t.Fatalf("expected job to stay failed, got %+v", job)
	}
	if fx.storage.has(outputKey(jobID)) {
		t.Fatalf("expected unreferenced output discarded")
	}
}

func TestProcessLoadsSourceBeforeCheckingCredentials(t *testing.T) {
	file := testFile("f1", "mail.eml")
	fx := newDispatcherFixture(file)
	delete(fx.storage.objects, file.StorageKey)
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}, Converter: domain.ConverterUnstructured})
	runQueued(t, d, fx.queue)

	job, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if job.Status != domain.JobFailed || !strings.Contains(job.Error, "source file") {
		t.Fatalf("expected source failure, got %+v", job)
	}
	if strings.Contains(job.Error, "missing credential") {
		t.Fatalf("credential check ran before the source was loaded: %q", job.Error)
	}
}

func TestProcessFailsWhenSettingsUnavailable(t *testing.T) {
	fx := newDispatcherFixture(testFile("f1", "a.pdf"))
	fx.settings = NewSettingsStore(domain.Settings{}, WithSettingsRepository(&settingsRepoFake{loadErr: errors.New("connection refused")}))
	called := false
	fx.engines[domain.ConverterMarkitdown] = engineFunc(func(context.Context, domain.ConversionInput) (string, error) {
		called = true
		return "x", nil
	})
	d := fx.dispatcher()

	jobs, _ := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1"}})
	runQueued(t, d, fx.queue)

	job, _ := fx.jobs.GetByID(context.Background(), jobs[0].ID)
	if job.Status != domain.JobFailed || !strings.Contains(job.Error, "connection refused") {
		t.Fatalf("expected settings failure recorded, got %+v", job)
	}
	if called {
		t.Fatalf("engine must not run without settings")
	}
}

func TestEngineConcurrencyLimit(t *testing.T) {
	files := []domain.FileRecord{testFile("f1", "a.pdf"), testFile("f2", "b.pdf"), testFile("f3", "c.pdf")}
	fx := newDispatcherFixture(files...)
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	fx.engines[domain.ConverterMarker] = engineFunc(func(context.Context, domain.ConversionInput) (string, error) {
		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	})
	d := fx.dispatcher()

	if _, err := d.Start(context.Background(), ports.StartRequest{FileIDs: []string{"f1", "f2", "f3"}, Converter: domain.ConverterMarker}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	var wg sync.WaitGroup
	for _, id := range fx.queue.ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.ProcessByID(context.Background(), id)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected marker serialized, max concurrency %d", maxSeen)
	}
}

func ptr[T any](v T) *T {
	return &v
}
