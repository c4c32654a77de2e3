package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

// PageCache persists versioned page rows. Versions are append-only:
// recording a new conversion expires older versions instead of
// rewriting them.
type PageCache struct {
	db  *sql.DB
	ttl time.Duration
}

func NewPageCache(store *Store, ttl time.Duration) *PageCache {
	return &PageCache{db: store.db, ttl: ttl}
}

const pageColumns = `id, document_id, page_number, version, url, format, quality_level,
	file_size, cache_key, cache_expires_at, cache_hit_count, last_accessed_at,
	processing_time_ms, created_at`

func (c *PageCache) RecordCompletedConversion(ctx context.Context, documentID string, pages []domain.DocumentPage) (int, error) {
	if len(pages) == 0 {
		return 0, fmt.Errorf("record conversion for %s: no pages", documentID)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin record conversion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM document_pages WHERE document_id = ?`,
		documentID).Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("read max version for %s: %w", documentID, err)
	}
	version := maxVersion + 1

	// Expire, never delete: superseded rows stay queryable until the
	// cleanup sweep reclaims them.
	if _, err := tx.ExecContext(ctx, `
		UPDATE document_pages SET cache_expires_at = ?
		WHERE document_id = ? AND version < ?
		  AND (cache_expires_at IS NULL OR cache_expires_at > ?)`,
		now, documentID, version, now); err != nil {
		return 0, fmt.Errorf("expire old versions for %s: %w", documentID, err)
	}

	expiresAt := now.Add(c.ttl)
	for _, page := range pages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_pages (document_id, page_number, version, url, format,
				quality_level, file_size, cache_key, cache_expires_at, processing_time_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			documentID, page.PageNumber, version, page.URL, string(page.Format),
			string(page.QualityLevel), page.FileSize, page.CacheKey, expiresAt,
			page.ProcessingTimeMs, now); err != nil {
			return 0, fmt.Errorf("insert page %d for %s: %w", page.PageNumber, documentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit record conversion: %w", err)
	}
	return version, nil
}

func (c *PageCache) GetCurrentPages(ctx context.Context, documentID string) ([]domain.DocumentPage, error) {
	now := time.Now().UTC()

	var version sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM document_pages
		WHERE document_id = ? AND cache_expires_at IS NOT NULL AND cache_expires_at > ?`,
		documentID, now).Scan(&version); err != nil {
		return nil, fmt.Errorf("find current version for %s: %w", documentID, err)
	}
	if !version.Valid {
		return []domain.DocumentPage{}, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM document_pages
		WHERE document_id = ? AND version = ?
		ORDER BY page_number ASC`, documentID, version.Int64)
	if err != nil {
		return nil, fmt.Errorf("list current pages for %s: %w", documentID, err)
	}
	defer rows.Close()
	return collectPages(rows)
}

func (c *PageCache) NextVersion(ctx context.Context, documentID string) (int, error) {
	var next int
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM document_pages WHERE document_id = ?`,
		documentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version for %s: %w", documentID, err)
	}
	return next, nil
}

func (c *PageCache) GetPage(ctx context.Context, pageID int64) (*domain.DocumentPage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM document_pages WHERE id = ?`, pageID)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", pageID, err)
	}
	defer rows.Close()

	pages, err := collectPages(rows)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page %d: %w", pageID, domain.ErrNotFound)
	}
	return &pages[0], nil
}

func (c *PageCache) RecordAccess(ctx context.Context, pageID int64, processingTimeMs int64) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE document_pages
		SET cache_hit_count = cache_hit_count + 1,
		    last_accessed_at = ?,
		    processing_time_ms = CASE WHEN ? > 0 THEN ? ELSE processing_time_ms END
		WHERE id = ?`,
		time.Now().UTC(), processingTimeMs, processingTimeMs, pageID)
	if err != nil {
		return fmt.Errorf("record access for page %d: %w", pageID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("page %d: %w", pageID, domain.ErrNotFound)
	}
	return nil
}

func (c *PageCache) PagesNeedingRefresh(ctx context.Context) ([]domain.DocumentPage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM document_pages
		WHERE cache_expires_at IS NULL OR cache_expires_at <= ?
		ORDER BY document_id, page_number`, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list pages needing refresh: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

func (c *PageCache) CleanupExpired(ctx context.Context) (int, error) {
	// Version 1 survives cleanup so a document always has renderable
	// pages while a reconversion is pending.
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM document_pages
		WHERE (cache_expires_at IS NULL OR cache_expires_at <= ?)
		  AND version != 1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired pages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *PageCache) UpdateQuality(ctx context.Context, pageID int64, level domain.QualityLevel) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE document_pages SET quality_level = ? WHERE id = ?`,
		string(level), pageID)
	if err != nil {
		return fmt.Errorf("update quality for page %d: %w", pageID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("page %d: %w", pageID, domain.ErrNotFound)
	}
	return nil
}

func (c *PageCache) ListAccessedSince(ctx context.Context, since time.Time) ([]domain.DocumentPage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM document_pages
		WHERE last_accessed_at IS NOT NULL AND last_accessed_at >= ?`, since)
	if err != nil {
		return nil, fmt.Errorf("list accessed pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

func collectPages(rows *sql.Rows) ([]domain.DocumentPage, error) {
	pages := []domain.DocumentPage{}
	for rows.Next() {
		var p domain.DocumentPage
		var format, quality string
		var expiresAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.DocumentID, &p.PageNumber, &p.Version, &p.URL, &format,
			&quality, &p.FileSize, &p.CacheKey, &expiresAt, &p.CacheHitCount,
			&p.LastAccessedAt, &p.ProcessingTimeMs, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.Format = domain.PageFormat(format)
		p.QualityLevel = domain.QualityLevel(quality)
		if expiresAt.Valid {
			p.CacheExpiresAt = expiresAt.Time
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return pages, nil
}

var _ port.PageCache = (*PageCache)(nil)
