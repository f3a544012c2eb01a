package ports

import (
	"context"
	"io"
	"iter"

	"github.com/kirillkom/tomd/internal/core/domain"
)

// UploadPart is one file of an upload batch.
type UploadPart struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// FileService is the inbound contract for the upload store.
type FileService interface {
	Upload(ctx context.Context, parts iter.Seq2[UploadPart, error]) ([]domain.FileRecord, error)
	Get(ctx context.Context, id string) (*domain.FileRecord, error)
	Remove(ctx context.Context, id string) error
}

// StartRequest asks for one conversion job per file id.
type StartRequest struct {
	FileIDs   []string                      `json:"file_ids"`
	Converter domain.ConverterID            `json:"converter"`
	Overrides map[string]domain.ConverterID `json:"overrides,omitempty"`
}

// ConversionStarter creates and enqueues conversion jobs.
type ConversionStarter interface {
	Start(ctx context.Context, req StartRequest) ([]domain.Job, error)
}

// ConversionProcessor runs a single queued job to a terminal state.
type ConversionProcessor interface {
	ProcessByID(ctx context.Context, jobID string) error
}

// BulkDeleteResult reports per-id outcomes of a bulk delete.
type BulkDeleteResult struct {
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed"`
}

// JobService is the inbound read and retrieval model for jobs.
type JobService interface {
	List(ctx context.Context) ([]domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) BulkDeleteResult
	Preview(ctx context.Context, id string) (*domain.Preview, error)
	Download(ctx context.Context, id string) (filename string, body io.ReadCloser, err error)
	Archive(ctx context.Context, ids []string, w io.Writer) (int, error)
}

// SettingsService manages engine credentials.
type SettingsService interface {
	SettingsProvider
	View(ctx context.Context) (domain.SettingsView, error)
	Update(ctx context.Context, patch domain.SettingsPatch) (domain.SettingsView, error)
	ClearAPIKey(ctx context.Context) (domain.SettingsView, error)
}
