// Package memory keeps files and jobs in process memory. It is the default
// store for single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kirillkom/tomd/internal/core/domain"
)

type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]domain.Job)}
}

func (r *JobRepository) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "create job", fmt.Errorf("job %s already exists", job.ID))
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, notFound("get job", id)
	}
	return &job, nil
}

// List returns jobs ordered by creation time, newest first.
func (r *JobRepository) List(_ context.Context) ([]domain.Job, error) {
	r.mu.RLock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *JobRepository) Update(_ context.Context, id string, patch domain.JobPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return notFound("update job", id)
	}
	if err := job.Apply(patch); err != nil {
		return err
	}
	r.jobs[id] = job
	return nil
}

func (r *JobRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return notFound("delete job", id)
	}
	delete(r.jobs, id)
	return nil
}

func notFound(op, id string) error {
	return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id %s", id))
}
