package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/infrastructure/logger"
	"github.com/docshare/convertd/internal/port"
)

// PageService fronts the page cache: current-version lookups, access
// accounting, the adaptive quality policy, and the periodic maintenance
// sweeps.
type PageService struct {
	pages port.PageCache
	cron  *cron.Cron
}

func NewPageService(pages port.PageCache) *PageService {
	return &PageService{pages: pages}
}

// GetCurrentPages returns the current version's pages in page-number
// order, or an empty slice when the caller must trigger a conversion.
func (s *PageService) GetCurrentPages(ctx context.Context, documentID string) ([]domain.DocumentPage, error) {
	return s.pages.GetCurrentPages(ctx, documentID)
}

// RecordPageView counts one read against the page.
func (s *PageService) RecordPageView(ctx context.Context, pageID int64, processingTimeMs int64) error {
	return s.pages.RecordAccess(ctx, pageID, processingTimeMs)
}

func (s *PageService) PagesNeedingRefresh(ctx context.Context) ([]domain.DocumentPage, error) {
	return s.pages.PagesNeedingRefresh(ctx)
}

// OptimizeQuality applies the access-driven quality policy to one page.
func (s *PageService) OptimizeQuality(ctx context.Context, pageID int64) error {
	page, err := s.pages.GetPage(ctx, pageID)
	if err != nil {
		return err
	}

	next := page.NextQuality(time.Now().UTC())
	if next == page.QualityLevel {
		return nil
	}
	if err := s.pages.UpdateQuality(ctx, pageID, next); err != nil {
		return fmt.Errorf("optimize page %d: %w", pageID, err)
	}
	logger.Info.Printf("page %d (%s p%d) quality %s -> %s after %d hits",
		pageID, page.DocumentID, page.PageNumber, page.QualityLevel, next, page.CacheHitCount)
	return nil
}

// OptimizeAll sweeps every page with access history and returns how
// many changed tier.
func (s *PageService) OptimizeAll(ctx context.Context) (int, error) {
	pages, err := s.pages.ListAccessedSince(ctx, time.Unix(0, 0).UTC())
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	changed := 0
	for i := range pages {
		page := &pages[i]
		next := page.NextQuality(now)
		if next == page.QualityLevel {
			continue
		}
		if err := s.pages.UpdateQuality(ctx, page.ID, next); err != nil {
			logger.Error.Printf("quality sweep: page %d: %v", page.ID, err)
			continue
		}
		changed++
	}
	if changed > 0 {
		logger.Info.Printf("quality sweep retiered %d of %d pages", changed, len(pages))
	}
	return changed, nil
}

// CleanupExpired purges stale page rows, keeping version 1 of each
// document as a render fallback.
func (s *PageService) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := s.pages.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info.Printf("cleanup removed %d expired page rows", deleted)
	}
	return deleted, nil
}

// StartMaintenance schedules the recurring sweeps: expired-page cleanup
// hourly, the quality sweep daily.
func (s *PageService) StartMaintenance(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("maintenance already started")
	}

	c := cron.New()
	if _, err := c.AddFunc("@hourly", func() {
		if _, err := s.CleanupExpired(ctx); err != nil {
			logger.Error.Printf("scheduled cleanup: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	if _, err := c.AddFunc("@daily", func() {
		if _, err := s.OptimizeAll(ctx); err != nil {
			logger.Error.Printf("scheduled quality sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule quality sweep: %w", err)
	}

	c.Start()
	s.cron = c
	logger.Info.Printf("page maintenance scheduled (cleanup hourly, quality sweep daily)")
	return nil
}

// StopMaintenance stops the schedules and waits for a running sweep to
// finish.
func (s *PageService) StopMaintenance() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}
