package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/convertd/internal/domain"
)

func testPages(n int) []domain.DocumentPage {
	pages := make([]domain.DocumentPage, n)
	for i := range pages {
		pages[i] = domain.DocumentPage{
			PageNumber:   i + 1,
			URL:          fmt.Sprintf("/pages/doc-1/page-%d.jpg", i+1),
			Format:       domain.FormatJPEG,
			QualityLevel: domain.QualityStandard,
			FileSize:     2048,
			CacheKey:     fmt.Sprintf("key-%d", i+1),
		}
	}
	return pages
}

func TestPageCache_VersionAllocation(t *testing.T) {
	ctx := context.Background()
	cache := NewPageCache(newTestStore(t), 7*24*time.Hour)

	next, err := cache.NextVersion(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	v1, err := cache.RecordCompletedConversion(ctx, "doc-1", testPages(3))
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	current, err := cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, current, 3)
	for i, page := range current {
		assert.Equal(t, i+1, page.PageNumber, "page-number order")
		assert.Equal(t, 1, page.Version)
	}

	v2, err := cache.RecordCompletedConversion(ctx, "doc-1", testPages(3))
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	current, err = cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, current, 3)
	assert.Equal(t, 2, current[0].Version)

	// Superseded rows are expired, not deleted, so they show up in the
	// refresh scan until cleanup runs.
	stale, err := cache.PagesNeedingRefresh(ctx)
	require.NoError(t, err)
	assert.Len(t, stale, 3)
	for _, page := range stale {
		assert.Equal(t, 1, page.Version)
	}
}

func TestPageCache_ExpiredPagesNotCurrent(t *testing.T) {
	ctx := context.Background()
	cache := NewPageCache(newTestStore(t), -time.Hour) // already expired on insert

	_, err := cache.RecordCompletedConversion(ctx, "doc-1", testPages(2))
	require.NoError(t, err)

	current, err := cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, current, "expired version must not be served")

	stale, err := cache.PagesNeedingRefresh(ctx)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

func TestPageCache_CleanupRetainsVersionOne(t *testing.T) {
	ctx := context.Background()
	cache := NewPageCache(newTestStore(t), -time.Hour)

	for range 3 {
		_, err := cache.RecordCompletedConversion(ctx, "doc-1", testPages(2))
		require.NoError(t, err)
	}

	deleted, err := cache.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted, "versions 2 and 3 purged, 2 pages each")

	stale, err := cache.PagesNeedingRefresh(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	for _, page := range stale {
		assert.Equal(t, 1, page.Version, "version 1 survives as fallback")
	}
}

func TestPageCache_RecordAccess(t *testing.T) {
	ctx := context.Background()
	cache := NewPageCache(newTestStore(t), 7*24*time.Hour)

	_, err := cache.RecordCompletedConversion(ctx, "doc-1", testPages(1))
	require.NoError(t, err)
	pages, err := cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	pageID := pages[0].ID

	require.NoError(t, cache.RecordAccess(ctx, pageID, 120))
	require.NoError(t, cache.RecordAccess(ctx, pageID, 0))

	pages, err = cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pages[0].CacheHitCount)
	assert.True(t, pages[0].LastAccessedAt.Valid)
	assert.Equal(t, int64(120), pages[0].ProcessingTimeMs, "zero sample keeps last timing")

	recent, err := cache.ListAccessedSince(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	assert.ErrorIs(t, cache.RecordAccess(ctx, 9999, 0), domain.ErrNotFound)
}

func TestPageCache_UpdateQuality(t *testing.T) {
	ctx := context.Background()
	cache := NewPageCache(newTestStore(t), 7*24*time.Hour)

	_, err := cache.RecordCompletedConversion(ctx, "doc-1", testPages(1))
	require.NoError(t, err)
	pages, err := cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)

	require.NoError(t, cache.UpdateQuality(ctx, pages[0].ID, domain.QualityHigh))

	pages, err = cache.GetCurrentPages(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.QualityHigh, pages[0].QualityLevel)
}
