package domain

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocumentPage_NextQuality(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		hits     int64
		accessed time.Duration // how long ago; negative means never
		current  QualityLevel
		want     QualityLevel
	}{
		{
			name:     "hot page upgrades",
			hits:     60,
			accessed: 24 * time.Hour,
			current:  QualityStandard,
			want:     QualityHigh,
		},
		{
			name:     "cold page downgrades",
			hits:     5,
			accessed: 35 * 24 * time.Hour,
			current:  QualityHigh,
			want:     QualityStandard,
		},
		{
			name:     "middle ground unchanged",
			hits:     25,
			accessed: 2 * 24 * time.Hour,
			current:  QualityStandard,
			want:     QualityStandard,
		},
		{
			name:     "many hits but idle stays put",
			hits:     60,
			accessed: 10 * 24 * time.Hour,
			current:  QualityStandard,
			want:     QualityStandard,
		},
		{
			name:     "few hits but recent stays put",
			hits:     5,
			accessed: 24 * time.Hour,
			current:  QualityHigh,
			want:     QualityHigh,
		},
		{
			name:     "never accessed with few hits downgrades",
			hits:     0,
			accessed: -1,
			current:  QualityHigh,
			want:     QualityStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &DocumentPage{
				CacheHitCount: tt.hits,
				QualityLevel:  tt.current,
			}
			if tt.accessed >= 0 {
				page.LastAccessedAt = sql.NullTime{Time: now.Add(-tt.accessed), Valid: true}
			}
			assert.Equal(t, tt.want, page.NextQuality(now))
		})
	}
}

func TestDocumentPage_Stale(t *testing.T) {
	now := time.Now()

	fresh := &DocumentPage{CacheExpiresAt: now.Add(time.Hour)}
	assert.False(t, fresh.Stale(now))

	expired := &DocumentPage{CacheExpiresAt: now.Add(-time.Minute)}
	assert.True(t, expired.Stale(now))

	never := &DocumentPage{}
	assert.True(t, never.Stale(now))
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, ProgressPercent(3, 0), "unknown total reports zero")
	assert.Equal(t, 0, ProgressPercent(0, 10))
	assert.Equal(t, 50, ProgressPercent(5, 10))
	assert.Equal(t, 100, ProgressPercent(10, 10))
	assert.Equal(t, 100, ProgressPercent(12, 10), "overshoot is clamped")
}
