package port

import (
	"context"
	"time"

	"github.com/docshare/convertd/internal/domain"
)

// JobStore persists conversion jobs. The active-job exclusivity
// invariant (at most one queued/processing job per document) is
// enforced here, at insert time.
type JobStore interface {
	// Insert stores a new queued job. Returns
	// domain.ErrDuplicateActiveJob when the document already has an
	// active job.
	Insert(ctx context.Context, job *domain.ConversionJob) error

	Get(ctx context.Context, jobID string) (*domain.ConversionJob, error)
	GetActiveByDocument(ctx context.Context, documentID string) (*domain.ConversionJob, error)
	GetLatestByDocument(ctx context.Context, documentID string) (*domain.ConversionJob, error)

	// ClaimNext atomically moves the next runnable queued job to
	// processing and returns it. Highest priority first, FIFO within a
	// tier; jobs whose availability time is in the future are skipped.
	// Returns (nil, nil) when nothing is runnable.
	ClaimNext(ctx context.Context) (*domain.ConversionJob, error)

	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
	MarkCancelled(ctx context.Context, jobID string) error

	// Requeue moves a failed attempt back to queued, increments the
	// retry count, and defers availability by delay.
	Requeue(ctx context.Context, jobID string, lastError string, delay time.Duration) error

	// ResetStalled re-queues jobs left processing by a previous run.
	ResetStalled(ctx context.Context) (int, error)

	// Counts returns the queued and processing job counts.
	Counts(ctx context.Context) (queued, processing int, err error)
}
