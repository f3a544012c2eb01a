package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

const (
	DefaultMaxUploadSize int64 = 100 << 20

	uploadPrefix = "uploads/"
)

var errUploadTooLarge = errors.New("upload exceeds size limit")

type FileStoreUseCase struct {
	repo    ports.FileRepository
	storage ports.ObjectStorage
	maxSize int64
	logger  *slog.Logger
	now     func() time.Time
}

func NewFileStoreUseCase(repo ports.FileRepository, storage ports.ObjectStorage, maxSize int64, logger *slog.Logger) *FileStoreUseCase {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStoreUseCase{
		repo:    repo,
		storage: storage,
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}
}

func (uc *FileStoreUseCase) MaxSize() int64 {
	return uc.maxSize
}

// Upload stores every part of the batch. If any part fails, the parts already
// stored by this call are removed again.
func (uc *FileStoreUseCase) Upload(ctx context.Context, parts iter.Seq2[ports.UploadPart, error]) ([]domain.FileRecord, error) {
	var stored []domain.FileRecord
	rollback := func() {
		cleanupCtx := context.WithoutCancel(ctx)
		for i := range stored {
			if err := uc.remove(cleanupCtx, &stored[i]); err != nil {
				uc.logger.Warn("upload_rollback_failed", "file_id", stored[i].ID, "error", err)
			}
		}
	}

	for part, err := range parts {
		if err != nil {
			rollback()
			return nil, err
		}
		if strings.TrimSpace(part.Name) == "" {
			continue
		}
		file, err := uc.store(ctx, part)
		if err != nil {
			rollback()
			return nil, err
		}
		stored = append(stored, *file)
	}

	if len(stored) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload files", errors.New("no files provided"))
	}
	return stored, nil
}

func (uc *FileStoreUseCase) store(ctx context.Context, part ports.UploadPart) (*domain.FileRecord, error) {
	name := filepath.Base(strings.ReplaceAll(part.Name, `\`, "/"))
	id := uuid.NewString()
	key := fmt.Sprintf("%s%s_%s", uploadPrefix, id, sanitizeFilename(name))
	body := &sizeLimitedReader{r: part.Body, limit: uc.maxSize}

	err := uc.storage.Save(ctx, key, body)
	if err != nil || body.exceeded {
		if delErr := uc.storage.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			uc.logger.Warn("upload_cleanup_failed", "key", key, "error", delErr)
		}
		if body.exceeded {
			return nil, domain.WrapError(
				domain.ErrPayloadTooLarge,
				"upload file",
				fmt.Errorf("%s exceeds the %d byte limit", name, uc.maxSize),
			)
		}
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	ext := domain.ExtensionOf(name)
	file := &domain.FileRecord{
		ID:         id,
		Name:       name,
		Size:       body.n,
		MimeType:   detectMimeType(ext, part.MimeType),
		Extension:  ext,
		CreatedAt:  uc.now().UTC(),
		StorageKey: key,
	}
	if err := uc.repo.Create(ctx, file); err != nil {
		_ = uc.storage.Delete(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("create file metadata: %w", err)
	}

	uc.logger.Info("file_uploaded", "file_id", id, "name", name, "size", body.n)
	return file, nil
}

func (uc *FileStoreUseCase) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	return uc.repo.GetByID(ctx, id)
}

func (uc *FileStoreUseCase) Remove(ctx context.Context, id string) error {
	file, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return uc.remove(ctx, file)
}

func (uc *FileStoreUseCase) remove(ctx context.Context, file *domain.FileRecord) error {
	if err := uc.repo.Delete(ctx, file.ID); err != nil {
		return err
	}
	if err := uc.storage.Delete(ctx, file.StorageKey); err != nil {
		return fmt.Errorf("delete stored upload: %w", err)
	}
	return nil
}

func detectMimeType(ext, declared string) string {
	if ext != "" {
		if guessed := mime.TypeByExtension("." + ext); guessed != "" {
			if media, _, err := mime.ParseMediaType(guessed); err == nil {
				return media
			}
			return guessed
		}
	}
	if declared != "" {
		if media, _, err := mime.ParseMediaType(declared); err == nil {
			return media
		}
	}
	return "application/octet-stream"
}

// sizeLimitedReader fails once more than limit bytes have been read.
type sizeLimitedReader struct {
	r        io.Reader
	limit    int64
	n        int64
	exceeded bool
}

func (r *sizeLimitedReader) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, errUploadTooLarge
	}
	n, err := r.r.Read(p)
	r.n += int64(n)
	if r.n > r.limit {
		r.exceeded = true
		return n, errUploadTooLarge
	}
	return n, err
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "upload.bin"
	}
	return base
}
