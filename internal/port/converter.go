package port

import (
	"context"
	"time"

	"github.com/docshare/convertd/internal/domain"
)

// ConvertOptions tunes one conversion attempt.
type ConvertOptions struct {
	Format  domain.PageFormat
	Quality domain.QualityLevel
	DPI     int
	Version int
}

// PageArtifact describes one uploaded page image.
type PageArtifact struct {
	PageNumber  int
	StoragePath string
	URL         string
	Format      domain.PageFormat
	FileSize    int64
}

// ConvertResult is the outcome of a successful conversion attempt.
type ConvertResult struct {
	PageCount      int
	Pages          []PageArtifact
	ProcessingTime time.Duration
}

// ProgressFunc receives per-page progress. The processed count only
// advances monotonically.
type ProgressFunc func(stage domain.Stage, processed, total int)

// DocumentConverter is one stateless unit of conversion work. It never
// retries; the caller owns the retry policy. Failures are
// domain.ConversionError values classified at the failing step.
type DocumentConverter interface {
	Convert(ctx context.Context, documentID, storageRef string, opts ConvertOptions, report ProgressFunc) (*ConvertResult, error)
}
