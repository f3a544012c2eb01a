package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
)

// FileRepository persists uploaded file metadata.
type FileRepository interface {
	Create(ctx context.Context, file *domain.FileRecord) error
	GetByID(ctx context.Context, id string) (*domain.FileRecord, error)
	Delete(ctx context.Context, id string) error
	ListCreatedBefore(ctx context.Context, before time.Time) ([]domain.FileRecord, error)
}

// JobRepository persists conversion jobs. Update must reject changes to terminal jobs.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	Update(ctx context.Context, id string, patch domain.JobPatch) error
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores uploaded sources and converted outputs.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]domain.StoredObject, error)
}

// JobQueue hands job ids to conversion workers.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Engine converts one document into Markdown text.
type Engine interface {
	Convert(ctx context.Context, in domain.ConversionInput) (string, error)
}

// ConverterCatalog exposes the static engine registry.
type ConverterCatalog interface {
	List() []domain.ConverterDescriptor
	Get(id domain.ConverterID) (domain.ConverterDescriptor, bool)
	Resolve(extension string, requested domain.ConverterID) (domain.ConverterDescriptor, error)
	ResolveCustom(extension string, overrides map[string]domain.ConverterID) (domain.ConverterDescriptor, error)
}

// SettingsProvider yields the settings snapshot handed to engines.
type SettingsProvider interface {
	Snapshot(ctx context.Context) (domain.Settings, error)
}

// SettingsRepository shares settings between the API and worker processes.
// Load reports false when nothing was saved yet. Modify runs mutate on the
// stored settings, or on seed when none exist, and saves the result atomically.
type SettingsRepository interface {
	Load(ctx context.Context) (domain.Settings, bool, error)
	Modify(ctx context.Context, seed domain.Settings, mutate func(*domain.Settings)) (domain.Settings, error)
}

// PreviewCache caches rendered previews. Implementations may drop entries at any time.
type PreviewCache interface {
	Get(ctx context.Context, jobID string) (*domain.Preview, bool)
	Set(ctx context.Context, jobID string, preview domain.Preview) error
	Invalidate(ctx context.Context, jobID string) error
}

// ConversionObserver receives worker lifecycle events, typically for metrics.
type ConversionObserver interface {
	JobStarted(engine domain.ConverterID, queueLag time.Duration)
	JobFinished(engine domain.ConverterID, status domain.JobStatus, duration time.Duration)
}
