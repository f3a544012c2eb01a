package domain

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Progress milestones reported while a job runs.
const (
	ProgressQueued    = 0
	ProgressStarted   = 10
	ProgressConverted = 30
	ProgressStored    = 90
	ProgressDone      = 100
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

type Job struct {
	ID             string      `json:"id"`
	FileInfo       FileRecord  `json:"file_info"`
	Converter      ConverterID `json:"converter"`
	Engine         ConverterID `json:"engine"`
	Status         JobStatus   `json:"status"`
	Progress       int         `json:"progress"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	OutputRef      string      `json:"output_ref,omitempty"`
	OutputSize     *int64      `json:"output_size,omitempty"`
	Error          string      `json:"error,omitempty"`
	ProcessingTime *float64    `json:"processing_time,omitempty"`
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status         *JobStatus
	Progress       *int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	OutputRef      *string
	OutputSize     *int64
	Error          *string
	ProcessingTime *float64
}

// ProcessingPatch claims a pending job. Applying it to a job that is
// already processing is a conflict.
func ProcessingPatch(progress int, at time.Time) JobPatch {
	status := JobProcessing
	startedAt := at.UTC()
	return JobPatch{Status: &status, Progress: &progress, StartedAt: &startedAt}
}

func ProgressPatch(progress int) JobPatch {
	return JobPatch{Progress: &progress}
}

func CompletedPatch(outputRef string, outputSize int64, elapsed time.Duration, at time.Time) JobPatch {
	status := JobCompleted
	progress := ProgressDone
	seconds := elapsed.Seconds()
	completedAt := at.UTC()
	return JobPatch{
		Status:         &status,
		Progress:       &progress,
		CompletedAt:    &completedAt,
		OutputRef:      &outputRef,
		OutputSize:     &outputSize,
		ProcessingTime: &seconds,
	}
}

func FailedPatch(message string, elapsed time.Duration, at time.Time) JobPatch {
	status := JobFailed
	seconds := elapsed.Seconds()
	completedAt := at.UTC()
	return JobPatch{
		Status:         &status,
		CompletedAt:    &completedAt,
		Error:          &message,
		ProcessingTime: &seconds,
	}
}

var allowedTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobFailed},
	JobProcessing: {JobCompleted, JobFailed},
}

// canTransition rejects self transitions, so claiming a job with
// ProcessingPatch succeeds exactly once.
func canTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply mutates job according to patch. Terminal jobs reject every change.
func (j *Job) Apply(p JobPatch) error {
	if j.Status.Terminal() {
		return WrapError(ErrConflict, "apply job patch", fmt.Errorf("job %s is already %s", j.ID, j.Status))
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return WrapError(ErrInvalidInput, "apply job patch", fmt.Errorf("unknown status %q", *p.Status))
		}
		if !canTransition(j.Status, *p.Status) {
			return WrapError(ErrConflict, "apply job patch", fmt.Errorf("transition %s -> %s", j.Status, *p.Status))
		}
		j.Status = *p.Status
	}
	if p.Progress != nil {
		progress := min(max(*p.Progress, 0), 100)
		j.Progress = max(j.Progress, progress)
	}
	if p.StartedAt != nil {
		at := *p.StartedAt
		j.StartedAt = &at
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		j.CompletedAt = &at
	}
	if p.OutputRef != nil {
		j.OutputRef = *p.OutputRef
	}
	if p.OutputSize != nil {
		size := *p.OutputSize
		j.OutputSize = &size
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.ProcessingTime != nil {
		seconds := *p.ProcessingTime
		j.ProcessingTime = &seconds
	}
	return nil
}

// ClaimedBefore reports whether a processing job was claimed before cutoff.
// Jobs without a claim time fall back to their creation time.
func (j Job) ClaimedBefore(cutoff time.Time) bool {
	if j.Status != JobProcessing {
		return false
	}
	claimed := j.CreatedAt
	if j.StartedAt != nil {
		claimed = *j.StartedAt
	}
	return claimed.Before(cutoff)
}

// Preview is a bounded view of a completed job's output.
type Preview struct {
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated"`
	TotalLength int64  `json:"total_length"`
}

// StoredObject describes an entry returned by an object storage listing.
type StoredObject struct {
	Key     string
	Size    int64
	ModTime time.Time
}
