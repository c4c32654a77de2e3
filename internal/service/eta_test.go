package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/convertd/internal/domain"
)

func newTestEstimator(t *testing.T, records ...domain.ConversionRecord) *Estimator {
	t.Helper()
	history := &memHistory{records: records}
	return NewEstimator(history, 5*time.Second, 300*time.Second)
}

func historyRecord(pages int, sizeBytes int64, totalMs int64) domain.ConversionRecord {
	return domain.ConversionRecord{
		DocumentSizeBytes: sizeBytes,
		TotalPages:        pages,
		TotalTimeMs:       totalMs,
		CompletedAt:       time.Now().UTC(),
	}
}

func TestEstimator_EarlyProgressUsesStageBaseline(t *testing.T) {
	est := newTestEstimator(t)

	small := est.Estimate("doc-small", EstimateInput{
		Elapsed:           time.Second,
		ProgressPct:       2,
		Stage:             domain.StageInitializing,
		DocumentSizeBytes: 1 * 1024 * 1024,
	})
	large := est.Estimate("doc-large", EstimateInput{
		Elapsed:           time.Second,
		ProgressPct:       2,
		Stage:             domain.StageInitializing,
		DocumentSizeBytes: 100 * 1024 * 1024,
	})

	assert.Greater(t, large.ETA, small.ETA, "bigger documents get bigger baselines")
	assert.Less(t, small.Confidence, 0.5, "early estimates are low confidence")
}

func TestEstimator_ProgressRateDominatesMidFlight(t *testing.T) {
	est := newTestEstimator(t)

	// 50% done in 60s at a steady rate: remaining should be near 60s.
	got := est.Estimate("doc-1", EstimateInput{
		Elapsed:        60 * time.Second,
		ProgressPct:    50,
		ProcessedPages: 5,
		TotalPages:     10,
		Stage:          domain.StageProcessing,
	})
	assert.InDelta(t, float64(60*time.Second), float64(got.ETA), float64(10*time.Second))
}

func TestEstimator_MonotoneForSteadyRate(t *testing.T) {
	est := newTestEstimator(t)

	// A fixed progress rate polled over time must never push the ETA
	// up (within smoothing tolerance).
	prev := time.Duration(1<<62 - 1)
	for pct := 10.0; pct <= 90; pct += 10 {
		elapsed := time.Duration(pct) * time.Second // 1%/s
		got := est.Estimate("doc-1", EstimateInput{
			Elapsed:     elapsed,
			ProgressPct: pct,
			Stage:       domain.StageProcessing,
		})
		assert.LessOrEqual(t, got.ETA, prev+time.Second, "pct=%v", pct)
		prev = got.ETA
	}
}

func TestEstimator_ClampsToBounds(t *testing.T) {
	est := newTestEstimator(t)

	fast := est.Estimate("doc-fast", EstimateInput{
		Elapsed:     time.Second,
		ProgressPct: 99,
		Stage:       domain.StageFinalizing,
	})
	assert.GreaterOrEqual(t, fast.ETA, 5*time.Second)

	slow := est.Estimate("doc-slow", EstimateInput{
		Elapsed:     time.Hour,
		ProgressPct: 6,
		Stage:       domain.StageProcessing,
	})
	assert.LessOrEqual(t, slow.ETA, 300*time.Second)
}

func TestEstimator_SmoothingReducesJitter(t *testing.T) {
	est := newTestEstimator(t)

	first := est.Estimate("doc-1", EstimateInput{
		Elapsed:     60 * time.Second,
		ProgressPct: 50,
		Stage:       domain.StageProcessing,
	})

	// A wildly different signal on the next poll moves the ETA only
	// partway toward the new raw value.
	second := est.Estimate("doc-1", EstimateInput{
		Elapsed:     61 * time.Second,
		ProgressPct: 90,
		Stage:       domain.StageProcessing,
	})

	rawSecondFloat := float64(61*time.Second) * 10 / 90
	rawSecond := time.Duration(rawSecondFloat)
	assert.Greater(t, second.ETA, rawSecond, "smoothing keeps memory of the previous estimate")
	assert.Less(t, second.ETA, first.ETA)
}

func TestEstimator_HistoryRaisesConfidence(t *testing.T) {
	bare := newTestEstimator(t)
	var records []domain.ConversionRecord
	for range 50 {
		records = append(records, historyRecord(10, 2_000_000, 20_000))
	}
	seasoned := newTestEstimator(t, records...)

	in := EstimateInput{
		Elapsed:        30 * time.Second,
		ProgressPct:    40,
		ProcessedPages: 4,
		TotalPages:     10,
		Stage:          domain.StageProcessing,
	}

	assert.Greater(t, seasoned.Estimate("doc-1", in).Confidence, bare.Estimate("doc-1", in).Confidence)
}

func TestEstimator_RecordExtendsHistory(t *testing.T) {
	est := newTestEstimator(t)
	assert.Equal(t, time.Duration(0), est.avgTimePerPage())

	est.Record(historyRecord(10, 2_000_000, 20_000))
	assert.Equal(t, 2*time.Second, est.avgTimePerPage())
}

func TestEstimator_SimilarAvgTotalFallsBackToGlobal(t *testing.T) {
	est := newTestEstimator(t,
		historyRecord(10, 2_000_000, 20_000),
		historyRecord(12, 2_400_000, 24_000),
	)

	// Similar document: matches the ±50% band.
	similar := est.similarAvgTotal(2_100_000, 11)
	assert.Equal(t, 22*time.Second, similar)

	// Nothing similar: global average.
	global := est.similarAvgTotal(500_000_000, 900)
	assert.Equal(t, 22*time.Second, global)

	// Empty history contributes nothing.
	empty := newTestEstimator(t)
	require.Equal(t, time.Duration(0), empty.similarAvgTotal(1, 1))
}
