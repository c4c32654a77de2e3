package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobPriority orders the queue: higher values dequeue first, FIFO within
// a tier.
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
)

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ConversionJob is one conversion attempt for a document. A document may
// accumulate a history of jobs but holds at most one active
// (queued/processing) job at a time.
type ConversionJob struct {
	ID          string
	DocumentID  string
	Status      JobStatus
	Priority    JobPriority
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

func NewConversionJob(documentID string, priority JobPriority) *ConversionJob {
	return &ConversionJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     JobStatusQueued,
		Priority:   priority,
		CreatedAt:  time.Now().UTC(),
	}
}

// Active reports whether the job still occupies the document's
// exclusivity slot.
func (j *ConversionJob) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusProcessing
}

func (j *ConversionJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
