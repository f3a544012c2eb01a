package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
)

type FileRepository struct {
	mu    sync.RWMutex
	files map[string]domain.FileRecord
}

func NewFileRepository() *FileRepository {
	return &FileRepository{files: make(map[string]domain.FileRecord)}
}

func (r *FileRepository) Create(_ context.Context, file *domain.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.files[file.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "create file", fmt.Errorf("file %s already exists", file.ID))
	}
	r.files[file.ID] = *file
	return nil
}

func (r *FileRepository) GetByID(_ context.Context, id string) (*domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.files[id]
	if !ok {
		return nil, notFound("get file", id)
	}
	return &file, nil
}

func (r *FileRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return notFound("delete file", id)
	}
	delete(r.files, id)
	return nil
}

func (r *FileRepository) ListCreatedBefore(_ context.Context, before time.Time) ([]domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.FileRecord
	for _, file := range r.files {
		if file.CreatedAt.Before(before) {
			out = append(out, file)
		}
	}
	return out, nil
}
