package domain

import "time"

// Stage is the sub-phase of an in-progress conversion.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageInitializing Stage = "initializing"
	StageExtracting   Stage = "extracting_pages"
	StageProcessing   Stage = "processing_pages"
	StageUploading    Stage = "uploading_pages"
	StageFinalizing   Stage = "finalizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// ConversionProgress is the queryable view over a job. It is mutated
// only by the job manager during an active attempt; callers poll it.
type ConversionProgress struct {
	DocumentID             string
	Status                 JobStatus
	Stage                  Stage
	Progress               int // 0-100
	TotalPages             int // 0 until the page count is known
	ProcessedPages         int
	RetryCount             int
	EstimatedTimeRemaining time.Duration // 0 when no estimate is available
	Message                string
	UpdatedAt              time.Time
}

// ProgressPercent converts page counts into a bounded 0-100 value.
// Stays at 0 until the total is known.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := processed * 100 / total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
