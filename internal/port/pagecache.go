package port

import (
	"context"
	"time"

	"github.com/docshare/convertd/internal/domain"
)

// PageCache owns DocumentPage rows: versioned, TTL-bound records of the
// rendered pages a conversion produced.
type PageCache interface {
	// RecordCompletedConversion allocates the next version for the
	// document, expires all strictly older versions, and inserts the
	// given pages with a fresh TTL. Returns the allocated version.
	RecordCompletedConversion(ctx context.Context, documentID string, pages []domain.DocumentPage) (int, error)

	// GetCurrentPages returns the highest non-expired version's pages
	// in page-number order, or an empty slice when nothing is current.
	GetCurrentPages(ctx context.Context, documentID string) ([]domain.DocumentPage, error)

	// NextVersion returns the version number the next completed
	// conversion for the document will be recorded under.
	NextVersion(ctx context.Context, documentID string) (int, error)

	// GetPage returns one page row by ID.
	GetPage(ctx context.Context, pageID int64) (*domain.DocumentPage, error)

	RecordAccess(ctx context.Context, pageID int64, processingTimeMs int64) error
	PagesNeedingRefresh(ctx context.Context) ([]domain.DocumentPage, error)

	// CleanupExpired purges expired rows, always retaining version 1 of
	// each document as a render fallback. Returns the purge count.
	CleanupExpired(ctx context.Context) (int, error)

	UpdateQuality(ctx context.Context, pageID int64, level domain.QualityLevel) error
	ListAccessedSince(ctx context.Context, since time.Time) ([]domain.DocumentPage, error)
}
