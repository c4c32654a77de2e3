package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

// SQLITE_CONSTRAINT_UNIQUE, raised by the active-document partial index.
const sqliteConstraintUnique = 2067

type JobStore struct {
	db *sql.DB
}

func NewJobStore(store *Store) *JobStore {
	return &JobStore{db: store.db}
}

const jobColumns = `id, document_id, status, priority, retry_count, last_error,
	created_at, started_at, completed_at`

func (s *JobStore) Insert(ctx context.Context, job *domain.ConversionJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversion_jobs (id, document_id, status, priority, retry_count, last_error, created_at, available_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, string(job.Status), int(job.Priority),
		job.RetryCount, job.LastError, job.CreatedAt, job.CreatedAt,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteConstraintUnique {
			return domain.ErrDuplicateActiveJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.ConversionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM conversion_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *JobStore) GetActiveByDocument(ctx context.Context, documentID string) (*domain.ConversionJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM conversion_jobs
		WHERE document_id = ? AND status IN ('queued', 'processing')`, documentID)
	return scanJob(row)
}

func (s *JobStore) GetLatestByDocument(ctx context.Context, documentID string) (*domain.ConversionJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM conversion_jobs
		WHERE document_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, documentID)
	return scanJob(row)
}

func (s *JobStore) ClaimNext(ctx context.Context) (*domain.ConversionJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM conversion_jobs
		WHERE status = 'queued' AND available_at <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`, now)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversion_jobs SET status = 'processing', started_at = ?
		WHERE id = ?`, now, job.ID); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = domain.JobStatusProcessing
	job.StartedAt = sql.NullTime{Time: now, Valid: true}
	return job, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.finish(ctx, jobID, domain.JobStatusCompleted, "")
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	return s.finish(ctx, jobID, domain.JobStatusFailed, lastError)
}

func (s *JobStore) MarkCancelled(ctx context.Context, jobID string) error {
	return s.finish(ctx, jobID, domain.JobStatusCancelled, "")
}

func (s *JobStore) finish(ctx context.Context, jobID string, status domain.JobStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversion_jobs
		SET status = ?, last_error = CASE WHEN ? != '' THEN ? ELSE last_error END, completed_at = ?
		WHERE id = ?`,
		string(status), lastError, lastError, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", jobID, status, err)
	}
	return requireAffected(res, jobID)
}

func (s *JobStore) Requeue(ctx context.Context, jobID string, lastError string, delay time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversion_jobs
		SET status = 'queued', retry_count = retry_count + 1, last_error = ?,
		    available_at = ?, started_at = NULL, completed_at = NULL
		WHERE id = ?`,
		lastError, now.Add(delay), jobID)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return requireAffected(res, jobID)
}

func (s *JobStore) ResetStalled(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversion_jobs
		SET status = 'queued', available_at = ?, started_at = NULL
		WHERE status = 'processing'`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reset stalled jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *JobStore) Counts(ctx context.Context) (queued, processing int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'queued' THEN 1 END),
			COUNT(CASE WHEN status = 'processing' THEN 1 END)
		FROM conversion_jobs`)
	if err := row.Scan(&queued, &processing); err != nil {
		return 0, 0, fmt.Errorf("count jobs: %w", err)
	}
	return queued, processing, nil
}

func requireAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ConversionJob, error) {
	var job domain.ConversionJob
	var status string
	var priority int
	err := row.Scan(
		&job.ID, &job.DocumentID, &status, &priority, &job.RetryCount,
		&job.LastError, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.Priority = domain.JobPriority(priority)
	return &job, nil
}

var _ port.JobStore = (*JobStore)(nil)
