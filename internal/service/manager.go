package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/infrastructure/logger"
	"github.com/docshare/convertd/internal/port"
)

// ManagerConfig tunes the worker pool and retry policy.
type ManagerConfig struct {
	Workers        int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JobTimeout     time.Duration
	PollInterval   time.Duration
	MetricsWindow  int
	DPI            int
	Format         domain.PageFormat
}

func (c *ManagerConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = 100
	}
	if c.DPI <= 0 {
		c.DPI = 150
	}
	if c.Format == "" {
		c.Format = domain.FormatJPEG
	}
}

// Metrics is the rolling operational snapshot callers combine with
// per-document progress to compute queue-wait ETAs.
type Metrics struct {
	QueueDepth            int
	ActiveJobs            int
	AverageProcessingTime time.Duration
	SuccessRate           float64
}

type jobOutcome struct {
	success  bool
	duration time.Duration
}

// JobManager owns the conversion queue: exclusivity, the bounded worker
// pool, retry classification, and progress/ETA bookkeeping. It is the
// only writer of ConversionJob and ConversionProgress state.
type JobManager struct {
	cfg       ManagerConfig
	jobs      port.JobStore
	pages     port.PageCache
	documents port.DocumentRepository
	converter port.DocumentConverter
	estimator *Estimator
	events    *EventBus

	mu       sync.Mutex
	progress map[string]*domain.ConversionProgress
	cancels  map[string]context.CancelFunc
	outcomes []jobOutcome

	wg sync.WaitGroup
}

func NewJobManager(
	cfg ManagerConfig,
	jobs port.JobStore,
	pages port.PageCache,
	documents port.DocumentRepository,
	converter port.DocumentConverter,
	estimator *Estimator,
	events *EventBus,
) *JobManager {
	cfg.applyDefaults()
	return &JobManager{
		cfg:       cfg,
		jobs:      jobs,
		pages:     pages,
		documents: documents,
		converter: converter,
		estimator: estimator,
		events:    events,
		progress:  make(map[string]*domain.ConversionProgress),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start recovers jobs stranded by a previous run and launches the
// worker pool. Workers exit when ctx is cancelled; Wait blocks until
// they have drained.
func (m *JobManager) Start(ctx context.Context) error {
	reset, err := m.jobs.ResetStalled(ctx)
	if err != nil {
		return fmt.Errorf("reset stalled jobs: %w", err)
	}
	if reset > 0 {
		logger.Info.Printf("re-queued %d stalled conversion jobs", reset)
	}

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx, i)
	}
	logger.Info.Printf("job manager started with %d workers", m.cfg.Workers)
	return nil
}

// Wait blocks until all workers have exited.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// CreateJob enqueues a conversion for the document. Fails with
// domain.ErrDuplicateActiveJob when the document already has an active
// job, and domain.ErrNotFound when the document is unknown.
func (m *JobManager) CreateJob(ctx context.Context, documentID string, priority domain.JobPriority) (*domain.ConversionJob, error) {
	if _, err := m.documents.Get(ctx, documentID); err != nil {
		return nil, fmt.Errorf("look up document %s: %w", documentID, err)
	}

	job := domain.NewConversionJob(documentID, priority)
	if err := m.jobs.Insert(ctx, job); err != nil {
		return nil, err
	}

	m.setProgress(documentID, func(p *domain.ConversionProgress) {
		p.Status = domain.JobStatusQueued
		p.Stage = domain.StageQueued
		p.Progress = 0
		p.TotalPages = 0
		p.ProcessedPages = 0
		p.RetryCount = 0
		p.Message = "queued for conversion"
	})
	m.publish(documentID, Event{Type: "status", Status: domain.JobStatusQueued, Stage: domain.StageQueued})

	logger.Info.Printf("queued conversion job %s for document %s (priority %s)", job.ID, documentID, priority)
	return job, nil
}

// GetProgress returns the latest known progress for the document, or
// (nil, nil) when no job has ever run for it.
func (m *JobManager) GetProgress(ctx context.Context, documentID string) (*domain.ConversionProgress, error) {
	m.mu.Lock()
	if p, ok := m.progress[documentID]; ok {
		snapshot := *p
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()

	// Not in memory: reconstruct from the most recent persisted job so
	// progress survives restarts.
	job, err := m.jobs.GetLatestByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return progressFromJob(job), nil
}

// RetryJob re-enqueues the document's most recent job. Only legal when
// that job is failed and under the retry limit.
func (m *JobManager) RetryJob(ctx context.Context, documentID string) (*domain.ConversionJob, error) {
	job, err := m.jobs.GetLatestByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if job.Active() {
		return nil, domain.ErrDuplicateActiveJob
	}
	if job.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", job.ID, job.Status)
	}
	if job.RetryCount >= m.cfg.MaxRetries {
		return nil, domain.ErrRetryLimitExceeded
	}

	if err := m.jobs.Requeue(ctx, job.ID, job.LastError, 0); err != nil {
		return nil, err
	}

	m.setProgress(documentID, func(p *domain.ConversionProgress) {
		p.Status = domain.JobStatusQueued
		p.Stage = domain.StageQueued
		p.Progress = 0
		p.ProcessedPages = 0
		p.RetryCount = job.RetryCount + 1
		p.Message = "re-queued for retry"
	})
	m.publish(documentID, Event{Type: "status", Status: domain.JobStatusQueued, Stage: domain.StageQueued})

	logger.Info.Printf("re-queued job %s for document %s (retry %d)", job.ID, documentID, job.RetryCount+1)
	return m.jobs.Get(ctx, job.ID)
}

// CancelJob cancels a queued or processing job. Processing jobs observe
// the cancellation cooperatively at the next batch boundary.
func (m *JobManager) CancelJob(ctx context.Context, jobID string) error {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case domain.JobStatusQueued:
		if err := m.jobs.MarkCancelled(ctx, jobID); err != nil {
			return err
		}
		m.markTerminalProgress(job.DocumentID, domain.JobStatusCancelled, "cancelled before processing")
		return nil
	case domain.JobStatusProcessing:
		m.mu.Lock()
		cancel, ok := m.cancels[jobID]
		m.mu.Unlock()
		if ok {
			cancel()
			return nil
		}
		// Claimed by a previous run that never came back.
		if err := m.jobs.MarkCancelled(ctx, jobID); err != nil {
			return err
		}
		m.markTerminalProgress(job.DocumentID, domain.JobStatusCancelled, "cancelled")
		return nil
	default:
		return fmt.Errorf("job %s is %s and cannot be cancelled", jobID, job.Status)
	}
}

// GetActiveJob returns the document's queued or processing job, or
// (nil, nil) when none is active.
func (m *JobManager) GetActiveJob(ctx context.Context, documentID string) (*domain.ConversionJob, error) {
	job, err := m.jobs.GetActiveByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// GetMetrics aggregates queue state and the rolling outcome window.
func (m *JobManager) GetMetrics(ctx context.Context) (*Metrics, error) {
	queued, processing, err := m.jobs.Counts(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := &Metrics{QueueDepth: queued, ActiveJobs: processing}
	if len(m.outcomes) == 0 {
		return metrics, nil
	}

	var successes int
	var totalDuration time.Duration
	for _, o := range m.outcomes {
		if o.success {
			successes++
			totalDuration += o.duration
		}
	}
	if successes > 0 {
		metrics.AverageProcessingTime = totalDuration / time.Duration(successes)
	}
	metrics.SuccessRate = float64(successes) / float64(len(m.outcomes))
	return metrics, nil
}

func (m *JobManager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything runnable before sleeping again.
			for {
				job, err := m.jobs.ClaimNext(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logger.Error.Printf("worker %d: claim failed: %v", id, err)
					}
					break
				}
				if job == nil {
					break
				}
				m.processJob(ctx, job)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func (m *JobManager) processJob(ctx context.Context, job *domain.ConversionJob) {
	documentID := job.DocumentID
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, job.ID)
		m.mu.Unlock()
		cancel()
	}()

	// The job may have been cancelled between claim and pickup.
	if current, err := m.jobs.Get(ctx, job.ID); err == nil && current.Status == domain.JobStatusCancelled {
		return
	}

	doc, err := m.documents.Get(ctx, documentID)
	if err != nil {
		cause := fmt.Errorf("document lookup: %w", err)
		if errors.Is(err, domain.ErrNotFound) {
			m.finishFailed(ctx, job, domain.Permanent(domain.StepDownload, cause))
		} else {
			m.finishFailed(ctx, job, domain.Transient(domain.StepDownload, cause))
		}
		return
	}

	version, err := m.pages.NextVersion(ctx, documentID)
	if err != nil {
		m.finishFailed(ctx, job, fmt.Errorf("allocate version: %w", err))
		return
	}

	m.setProgress(documentID, func(p *domain.ConversionProgress) {
		p.Status = domain.JobStatusProcessing
		p.Stage = domain.StageInitializing
		p.Progress = 0
		p.ProcessedPages = 0
		p.RetryCount = job.RetryCount
		p.Message = "conversion started"
	})

	logger.Info.Printf("processing job %s for document %s (attempt %d)", job.ID, documentID, job.RetryCount+1)

	// The converter reports from parallel page goroutines; the committed
	// count must only move forward.
	var reportMu sync.Mutex
	maxProcessed := 0
	report := func(stage domain.Stage, processed, total int) {
		reportMu.Lock()
		if processed > maxProcessed {
			maxProcessed = processed
		}
		committed := maxProcessed
		reportMu.Unlock()

		pct := domain.ProgressPercent(committed, total)

		estimate := m.estimator.Estimate(documentID, EstimateInput{
			Elapsed:           time.Since(start),
			ProgressPct:       float64(pct),
			ProcessedPages:    committed,
			TotalPages:        total,
			DocumentSizeBytes: doc.SizeBytes,
			Stage:             stage,
		})

		m.setProgress(documentID, func(p *domain.ConversionProgress) {
			p.Status = domain.JobStatusProcessing
			p.Stage = stage
			p.Progress = pct
			p.TotalPages = total
			p.ProcessedPages = committed
			p.EstimatedTimeRemaining = estimate.ETA
			p.Message = fmt.Sprintf("processed %d of %d pages", committed, total)
		})
		m.publish(documentID, Event{Type: "progress", Status: domain.JobStatusProcessing, Stage: stage, Progress: pct})
	}

	opts := port.ConvertOptions{
		Format:  m.cfg.Format,
		Quality: domain.QualityStandard,
		DPI:     m.cfg.DPI,
		Version: version,
	}
	result, convErr := m.converter.Convert(jobCtx, documentID, doc.StorageRef, opts, report)
	if convErr != nil {
		m.handleFailure(ctx, job, jobCtx, convErr, time.Since(start))
		return
	}

	pages := make([]domain.DocumentPage, len(result.Pages))
	for i, artifact := range result.Pages {
		pages[i] = domain.DocumentPage{
			DocumentID:       documentID,
			PageNumber:       artifact.PageNumber,
			URL:              artifact.URL,
			Format:           artifact.Format,
			QualityLevel:     opts.Quality,
			FileSize:         artifact.FileSize,
			CacheKey:         artifact.StoragePath,
			ProcessingTimeMs: result.ProcessingTime.Milliseconds() / int64(result.PageCount),
		}
	}
	committedVersion, err := m.pages.RecordCompletedConversion(ctx, documentID, pages)
	if err != nil {
		m.handleFailure(ctx, job, jobCtx, domain.Transient(domain.StepUpload, fmt.Errorf("record pages: %w", err)), time.Since(start))
		return
	}

	if err := m.jobs.MarkCompleted(ctx, job.ID); err != nil {
		logger.Error.Printf("job %s finished but could not be marked completed: %v", job.ID, err)
	}

	m.estimator.Record(domain.ConversionRecord{
		DocumentSizeBytes: doc.SizeBytes,
		TotalPages:        result.PageCount,
		TotalTimeMs:       time.Since(start).Milliseconds(),
		CompletedAt:       time.Now().UTC(),
	})
	m.estimator.Forget(documentID)
	m.recordOutcome(true, time.Since(start))

	m.setProgress(documentID, func(p *domain.ConversionProgress) {
		p.Status = domain.JobStatusCompleted
		p.Stage = domain.StageCompleted
		p.Progress = 100
		p.TotalPages = result.PageCount
		p.ProcessedPages = result.PageCount
		p.EstimatedTimeRemaining = 0
		p.Message = fmt.Sprintf("converted %d pages as version %d", result.PageCount, committedVersion)
	})
	m.publish(documentID, Event{Type: "status", Status: domain.JobStatusCompleted, Stage: domain.StageCompleted, Progress: 100})

	logger.Info.Printf("job %s completed: %d pages in %s (version %d)", job.ID, result.PageCount, time.Since(start).Round(time.Millisecond), committedVersion)
}

// handleFailure decides cancelled vs. retry vs. terminal failure for a
// failed attempt.
func (m *JobManager) handleFailure(ctx context.Context, job *domain.ConversionJob, jobCtx context.Context, convErr error, elapsed time.Duration) {
	documentID := job.DocumentID
	m.estimator.Forget(documentID)

	// Cancellation is not a failure.
	if errors.Is(convErr, context.Canceled) && ctx.Err() == nil {
		if err := m.jobs.MarkCancelled(ctx, job.ID); err != nil {
			logger.Error.Printf("job %s: mark cancelled: %v", job.ID, err)
		}
		m.markTerminalProgress(documentID, domain.JobStatusCancelled, "cancelled during processing")
		logger.Info.Printf("job %s cancelled", job.ID)
		return
	}

	// A timeout is a transient failure like any other.
	timedOut := errors.Is(convErr, context.DeadlineExceeded) && jobCtx.Err() != nil && ctx.Err() == nil
	retryable := timedOut || domain.IsTransient(convErr)

	if retryable && job.RetryCount < m.cfg.MaxRetries {
		delay := m.retryDelay(job.RetryCount)
		if err := m.jobs.Requeue(ctx, job.ID, convErr.Error(), delay); err != nil {
			logger.Error.Printf("job %s: requeue: %v", job.ID, err)
			return
		}
		m.setProgress(documentID, func(p *domain.ConversionProgress) {
			p.Status = domain.JobStatusQueued
			p.Stage = domain.StageQueued
			p.RetryCount = job.RetryCount + 1
			p.Message = fmt.Sprintf("retrying after error: %v", convErr)
		})
		m.publish(documentID, Event{Type: "status", Status: domain.JobStatusQueued, Stage: domain.StageQueued, Message: convErr.Error()})
		logger.Warn.Printf("job %s failed transiently, retry %d/%d in %s: %s",
			job.ID, job.RetryCount+1, m.cfg.MaxRetries, delay, logger.SanitizeForLog(convErr.Error()))
		return
	}

	if err := m.jobs.MarkFailed(ctx, job.ID, convErr.Error()); err != nil {
		logger.Error.Printf("job %s: mark failed: %v", job.ID, err)
	}
	m.recordOutcome(false, elapsed)
	m.markTerminalProgress(documentID, domain.JobStatusFailed, convErr.Error())
	logger.Error.Printf("job %s failed terminally: %s", job.ID, logger.SanitizeForLog(convErr.Error()))
}

func (m *JobManager) finishFailed(ctx context.Context, job *domain.ConversionJob, cause error) {
	m.handleFailure(ctx, job, ctx, cause, 0)
}

// retryDelay walks the exponential backoff schedule to the delay for
// the given attempt number.
func (m *JobManager) retryDelay(retryCount int) time.Duration {
	backoff := retry.WithCappedDuration(m.cfg.RetryMaxDelay, retry.NewExponential(m.cfg.RetryBaseDelay))
	var delay time.Duration
	for i := 0; i <= retryCount; i++ {
		next, stop := backoff.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}

func (m *JobManager) recordOutcome(success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, jobOutcome{success: success, duration: duration})
	if len(m.outcomes) > m.cfg.MetricsWindow {
		m.outcomes = m.outcomes[len(m.outcomes)-m.cfg.MetricsWindow:]
	}
}

func (m *JobManager) setProgress(documentID string, update func(*domain.ConversionProgress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[documentID]
	if !ok {
		p = &domain.ConversionProgress{DocumentID: documentID}
		m.progress[documentID] = p
	}
	update(p)
	p.UpdatedAt = time.Now().UTC()
}

func (m *JobManager) markTerminalProgress(documentID string, status domain.JobStatus, message string) {
	stage := domain.StageFailed
	if status == domain.JobStatusCompleted {
		stage = domain.StageCompleted
	}
	m.setProgress(documentID, func(p *domain.ConversionProgress) {
		p.Status = status
		p.Stage = stage
		p.EstimatedTimeRemaining = 0
		p.Message = message
	})
	m.publish(documentID, Event{Type: "status", Status: status, Stage: stage, Message: message})
}

func (m *JobManager) publish(documentID string, event Event) {
	if m.events != nil {
		m.events.Publish(documentID, event)
	}
}

// progressFromJob rebuilds a queryable progress view from a persisted
// job after a restart.
func progressFromJob(job *domain.ConversionJob) *domain.ConversionProgress {
	p := &domain.ConversionProgress{
		DocumentID: job.DocumentID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Message:    job.LastError,
		UpdatedAt:  job.CreatedAt,
	}
	switch job.Status {
	case domain.JobStatusQueued:
		p.Stage = domain.StageQueued
	case domain.JobStatusProcessing:
		p.Stage = domain.StageProcessing
	case domain.JobStatusCompleted:
		p.Stage = domain.StageCompleted
		p.Progress = 100
	default:
		p.Stage = domain.StageFailed
	}
	if job.CompletedAt.Valid {
		p.UpdatedAt = job.CompletedAt.Time
	}
	return p
}
