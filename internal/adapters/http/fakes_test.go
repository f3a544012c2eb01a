package httpadapter

import (
	"context"
	"io"
	"iter"
	"net/http"
	"strings"
	"testing"

	"github.com/kirillkom/tomd/internal/config"
	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
	"github.com/kirillkom/tomd/internal/core/registry"
	"github.com/kirillkom/tomd/internal/core/usecase"
)

type uploadedFake struct {
	name string
	body string
}

type filesFake struct {
	err      error
	uploaded []uploadedFake
	records  map[string]domain.FileRecord
}

func (f *filesFake) Upload(_ context.Context, parts iter.Seq2[ports.UploadPart, error]) ([]domain.FileRecord, error) {
	var out []domain.FileRecord
	for part, err := range parts {
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, err
		}
		f.uploaded = append(f.uploaded, uploadedFake{name: part.Name, body: string(body)})
		out = append(out, domain.FileRecord{
			ID:        "file-" + part.Name,
			Name:      part.Name,
			Size:      int64(len(body)),
			Extension: domain.ExtensionOf(part.Name),
		})
	}
	if f.err != nil {
		return nil, f.err
	}
	return out, nil
}

func (f *filesFake) Get(_ context.Context, id string) (*domain.FileRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get file", io.EOF)
	}
	return &record, nil
}

func (f *filesFake) Remove(_ context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "remove file", io.EOF)
	}
	delete(f.records, id)
	return nil
}

type starterFake struct {
	err  error
	last ports.StartRequest
}

func (f *starterFake) Start(_ context.Context, req ports.StartRequest) ([]domain.Job, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	jobs := make([]domain.Job, 0, len(req.FileIDs))
	for _, id := range req.FileIDs {
		jobs = append(jobs, domain.Job{
			ID:        "job-" + id,
			FileInfo:  domain.FileRecord{ID: id},
			Converter: req.Converter,
			Status:    domain.JobPending,
		})
	}
	return jobs, nil
}

type jobsFake struct {
	jobs       []domain.Job
	err        error
	preview    *domain.Preview
	download   string
	filename   string
	archive    string
	archiveErr error
	archiveIDs []string
}

func (f *jobsFake) List(context.Context) ([]domain.Job, error) { return f.jobs, f.err }

func (f *jobsFake) Get(_ context.Context, id string) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			return &f.jobs[i], nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get job", io.EOF)
}

func (f *jobsFake) Delete(ctx context.Context, id string) error {
	_, err := f.Get(ctx, id)
	return err
}

func (f *jobsFake) DeleteMany(ctx context.Context, ids []string) ports.BulkDeleteResult {
	var result ports.BulkDeleteResult
	for _, id := range ids {
		if err := f.Delete(ctx, id); err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result
}

func (f *jobsFake) Preview(context.Context, string) (*domain.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.preview, nil
}

func (f *jobsFake) Download(context.Context, string) (string, io.ReadCloser, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.filename, io.NopCloser(strings.NewReader(f.download)), nil
}

func (f *jobsFake) Archive(_ context.Context, ids []string, w io.Writer) (int, error) {
	f.archiveIDs = ids
	if f.archiveErr != nil {
		return 0, f.archiveErr
	}
	_, err := io.WriteString(w, f.archive)
	return len(ids), err
}

type settingsRepoFake struct {
	err error
}

func (f settingsRepoFake) Load(context.Context) (domain.Settings, bool, error) {
	return domain.Settings{}, false, f.err
}

func (f settingsRepoFake) Modify(context.Context, domain.Settings, func(*domain.Settings)) (domain.Settings, error) {
	return domain.Settings{}, f.err
}

type testDeps struct {
	files    *filesFake
	starter  *starterFake
	jobs     *jobsFake
	settings *usecase.SettingsStore
}

func newTestDeps() *testDeps {
	return &testDeps{
		files:    &filesFake{records: map[string]domain.FileRecord{}},
		starter:  &starterFake{},
		jobs:     &jobsFake{},
		settings: usecase.NewSettingsStore(domain.Settings{}),
	}
}

func newTestRouter(t *testing.T, cfg config.Config, deps *testDeps) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, Dependencies{
		Files:    deps.files,
		Starter:  deps.starter,
		Jobs:     deps.jobs,
		Settings: deps.settings,
		Catalog:  registry.MustDefault(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router.Handler()
}

func newTestHandler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	return newTestRouter(t, cfg, newTestDeps())
}
