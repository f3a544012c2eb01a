package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
	"github.com/kirillkom/tomd/internal/core/registry"
)

type fileRepoFake struct {
	mu    sync.Mutex
	files map[string]domain.FileRecord
}

func newFileRepoFake(files ...domain.FileRecord) *fileRepoFake {
	f := &fileRepoFake{files: map[string]domain.FileRecord{}}
	for _, file := range files {
		f.files[file.ID] = file
	}
	return f
}

func (f *fileRepoFake) Create(_ context.Context, file *domain.FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.ID] = *file
	return nil
}

func (f *fileRepoFake) GetByID(_ context.Context, id string) (*domain.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get file", errors.New(id))
	}
	return &file, nil
}

func (f *fileRepoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete file", errors.New(id))
	}
	delete(f.files, id)
	return nil
}

func (f *fileRepoFake) ListCreatedBefore(_ context.Context, before time.Time) ([]domain.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FileRecord
	for _, file := range f.files {
		if file.CreatedAt.Before(before) {
			out = append(out, file)
		}
	}
	return out, nil
}

type jobRepoFake struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	statusLog []domain.JobStatus
	onUpdate  func(id string, patch domain.JobPatch)
	createErr error
}

func newJobRepoFake(jobs ...domain.Job) *jobRepoFake {
	f := &jobRepoFake{jobs: map[string]domain.Job{}}
	for _, job := range jobs {
		f.jobs[job.ID] = job
	}
	return f
}

func (f *jobRepoFake) Create(_ context.Context, job *domain.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}

func (f *jobRepoFake) GetByID(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get job", errors.New(id))
	}
	return &job, nil
}

func (f *jobRepoFake) List(context.Context) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *jobRepoFake) Update(_ context.Context, id string, patch domain.JobPatch) error {
	if f.onUpdate != nil {
		f.onUpdate(id, patch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update job", errors.New(id))
	}
	if err := job.Apply(patch); err != nil {
		return err
	}
	if patch.Status != nil {
		f.statusLog = append(f.statusLog, *patch.Status)
	}
	f.jobs[id] = job
	return nil
}

func (f *jobRepoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete job", errors.New(id))
	}
	delete(f.jobs, id)
	return nil
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if err != nil {
		f.objects[key] = raw
		return err
	}
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *storageFake) List(_ context.Context, prefix string) ([]domain.StoredObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StoredObject
	for key, raw := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.StoredObject{Key: key, Size: int64(len(raw))})
		}
	}
	return out, nil
}

func (f *storageFake) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

type queueFake struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *queueFake) Enqueue(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
	return nil
}

type engineFunc func(ctx context.Context, in domain.ConversionInput) (string, error)

func (f engineFunc) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	return f(ctx, in)
}

func stubEngine(output string) ports.Engine {
	return engineFunc(func(context.Context, domain.ConversionInput) (string, error) {
		return output, nil
	})
}

// stepClock advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(step)
		return current
	}
}

type dispatcherFixture struct {
	files    *fileRepoFake
	jobs     *jobRepoFake
	storage  *storageFake
	queue    *queueFake
	settings *SettingsStore
	engines  map[domain.ConverterID]ports.Engine
}

func newDispatcherFixture(files ...domain.FileRecord) *dispatcherFixture {
	storage := newStorageFake()
	for _, file := range files {
		storage.objects[file.StorageKey] = []byte("source:" + file.Name)
	}
	engines := map[domain.ConverterID]ports.Engine{}
	for _, desc := range registry.MustDefault().List() {
		engines[desc.ID] = stubEngine("stub-output")
	}
	return &dispatcherFixture{
		files:    newFileRepoFake(files...),
		jobs:     newJobRepoFake(),
		storage:  storage,
		queue:    &queueFake{},
		settings: NewSettingsStore(domain.Settings{}),
		engines:  engines,
	}
}

func (f *dispatcherFixture) dispatcher(opts ...DispatcherOption) *ConversionDispatcher {
	opts = append([]DispatcherOption{WithClock(stepClock(time.Unix(1700000000, 0), 250*time.Millisecond))}, opts...)
	return NewConversionDispatcher(
		f.files,
		f.jobs,
		f.storage,
		registry.MustDefault(),
		f.engines,
		f.settings,
		f.queue,
		opts...,
	)
}

func testFile(id, name string) domain.FileRecord {
	return domain.FileRecord{
		ID:         id,
		Name:       name,
		Size:       10,
		MimeType:   "application/octet-stream",
		Extension:  domain.ExtensionOf(name),
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
		StorageKey: "uploads/" + id + "_" + name,
	}
}

type settingsRepoFake struct {
	mu      sync.Mutex
	stored  *domain.Settings
	loadErr error
}

func (f *settingsRepoFake) Load(context.Context) (domain.Settings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.Settings{}, false, f.loadErr
	}
	if f.stored == nil {
		return domain.Settings{}, false, nil
	}
	return *f.stored, true, nil
}

func (f *settingsRepoFake) Modify(_ context.Context, seed domain.Settings, mutate func(*domain.Settings)) (domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.Settings{}, f.loadErr
	}
	current := seed
	if f.stored != nil {
		current = *f.stored
	}
	mutate(&current)
	f.stored = &current
	return current, nil
}
