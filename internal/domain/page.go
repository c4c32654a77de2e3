package domain

import (
	"database/sql"
	"time"
)

type PageFormat string

const (
	FormatJPEG PageFormat = "jpeg"
	FormatPNG  PageFormat = "png"
	FormatWebP PageFormat = "webp"
)

type QualityLevel string

const (
	QualityStandard QualityLevel = "standard"
	QualityHigh     QualityLevel = "high"
)

// DocumentPage is one rendered page of one version of a document.
// Versions are immutable generations: a reconversion creates new rows
// instead of mutating the rows it supersedes.
type DocumentPage struct {
	ID               int64
	DocumentID       string
	PageNumber       int // 1-indexed
	Version          int
	URL              string
	Format           PageFormat
	QualityLevel     QualityLevel
	FileSize         int64
	CacheKey         string
	CacheExpiresAt   time.Time
	CacheHitCount    int64
	LastAccessedAt   sql.NullTime
	ProcessingTimeMs int64
	CreatedAt        time.Time
}

// Stale reports whether the page needs a refresh: its TTL has lapsed or
// it never had one.
func (p *DocumentPage) Stale(now time.Time) bool {
	return p.CacheExpiresAt.IsZero() || !now.Before(p.CacheExpiresAt)
}

// Quality adaptation thresholds. Hot pages earn the high tier, cold
// pages fall back to standard, everything in between keeps its level.
const (
	qualityUpgradeHits   = 50
	qualityUpgradeWithin = 7 * 24 * time.Hour
	qualityDowngradeHits = 10
	qualityDowngradeIdle = 30 * 24 * time.Hour
)

// NextQuality applies the access-driven quality policy and returns the
// level the page should hold.
func (p *DocumentPage) NextQuality(now time.Time) QualityLevel {
	if !p.LastAccessedAt.Valid {
		if p.CacheHitCount < qualityDowngradeHits {
			return QualityStandard
		}
		return p.QualityLevel
	}

	sinceAccess := now.Sub(p.LastAccessedAt.Time)
	if p.CacheHitCount > qualityUpgradeHits && sinceAccess <= qualityUpgradeWithin {
		return QualityHigh
	}
	if p.CacheHitCount < qualityDowngradeHits && sinceAccess > qualityDowngradeIdle {
		return QualityStandard
	}
	return p.QualityLevel
}
