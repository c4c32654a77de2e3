package service

import (
	"sync"
	"time"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/infrastructure/logger"
	"github.com/docshare/convertd/internal/port"
)

// EstimateInput is the live progress signal an estimate is computed
// from.
type EstimateInput struct {
	Elapsed           time.Duration
	ProgressPct       float64
	ProcessedPages    int
	TotalPages        int   // 0 when not yet known
	DocumentSizeBytes int64 // 0 when not known
	Stage             domain.Stage
}

// Estimate is a time-remaining prediction with a display confidence.
type Estimate struct {
	ETA        time.Duration
	Confidence float64
}

// Early progress signals are too noisy for the rate estimators; below
// this threshold a stage baseline is used instead.
const minBlendProgressPct = 5.0

// Weights for the four estimators; renormalized over whichever subset
// can contribute.
const (
	weightProgressRate = 0.4
	weightPageRate     = 0.3
	weightSizeRate     = 0.2
	weightHistorical   = 0.1
)

// Fixed baseline durations per stage for the early-progress estimate.
var stageBaselines = map[domain.Stage]time.Duration{
	domain.StageQueued:       30 * time.Second,
	domain.StageInitializing: 25 * time.Second,
	domain.StageExtracting:   20 * time.Second,
	domain.StageProcessing:   15 * time.Second,
	domain.StageUploading:    10 * time.Second,
	domain.StageFinalizing:   5 * time.Second,
}

// Estimator predicts time remaining for in-flight conversions. It
// learns from a bounded window of completed jobs and smooths each
// document's consecutive estimates to avoid visible jitter between
// polls.
type Estimator struct {
	history port.HistoryStore

	minETA         time.Duration
	maxETA         time.Duration
	smoothingAlpha float64

	mu      sync.Mutex
	records []domain.ConversionRecord
	lastETA map[string]time.Duration
}

func NewEstimator(history port.HistoryStore, minETA, maxETA time.Duration) *Estimator {
	est := &Estimator{
		history:        history,
		minETA:         minETA,
		maxETA:         maxETA,
		smoothingAlpha: 0.3,
		lastETA:        make(map[string]time.Duration),
	}
	if records, err := history.List(); err == nil {
		est.records = records
	} else {
		logger.Warn.Printf("could not load conversion history: %v", err)
	}
	return est
}

// Estimate computes the blended time-remaining prediction for one
// document's active conversion.
func (e *Estimator) Estimate(documentID string, in EstimateInput) Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	var raw time.Duration
	if in.ProgressPct < minBlendProgressPct {
		raw = e.stageEstimate(in)
	} else {
		raw = e.blendedEstimate(in)
		if raw <= 0 {
			raw = e.stageEstimate(in)
		}
	}

	eta := clampDuration(raw, e.minETA, e.maxETA)

	// Exponential smoothing against the previous estimate for this
	// document.
	if last, ok := e.lastETA[documentID]; ok {
		eta = time.Duration(e.smoothingAlpha*float64(eta) + (1-e.smoothingAlpha)*float64(last))
	}
	e.lastETA[documentID] = eta

	return Estimate{ETA: eta, Confidence: e.confidence(in)}
}

// Record feeds one completed job back into the history window.
func (e *Estimator) Record(rec domain.ConversionRecord) {
	if err := e.history.Append(rec); err != nil {
		logger.Error.Printf("failed to persist conversion record: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if records, err := e.history.List(); err == nil {
		e.records = records
	} else {
		e.records = append(e.records, rec)
	}
}

// Forget drops the smoothing state for a document once its job reaches
// a terminal status.
func (e *Estimator) Forget(documentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastETA, documentID)
}

func (e *Estimator) blendedEstimate(in EstimateInput) time.Duration {
	type contribution struct {
		eta    time.Duration
		weight float64
	}
	var contribs []contribution
	add := func(eta time.Duration, weight float64) {
		if eta > 0 {
			contribs = append(contribs, contribution{eta: eta, weight: weight})
		}
	}

	// Progress-rate: extrapolate the observed percent-per-millisecond.
	if in.Elapsed > 0 && in.ProgressPct > 0 {
		remaining := 100 - in.ProgressPct
		add(time.Duration(float64(in.Elapsed)*remaining/in.ProgressPct), weightProgressRate)
	}

	// Page-rate: remaining pages at the historical per-page pace.
	if in.TotalPages > 0 && in.ProcessedPages >= 0 {
		if perPage := e.avgTimePerPage(); perPage > 0 {
			add(time.Duration(in.TotalPages-in.ProcessedPages)*perPage, weightPageRate)
		}
	}

	// Size-rate: remaining bytes at the observed bytes-per-millisecond
	// rate implied by progress so far.
	if in.DocumentSizeBytes > 0 && in.Elapsed > 0 && in.ProgressPct > 0 {
		bytesDone := float64(in.DocumentSizeBytes) * in.ProgressPct / 100
		rate := bytesDone / float64(in.Elapsed)
		remainingBytes := float64(in.DocumentSizeBytes) - bytesDone
		add(time.Duration(remainingBytes/rate), weightSizeRate)
	}

	// Historical: how long similar documents took, less what has
	// already elapsed.
	if total := e.similarAvgTotal(in.DocumentSizeBytes, in.TotalPages); total > 0 {
		add(total-in.Elapsed, weightHistorical)
	}

	if len(contribs) == 0 {
		return 0
	}

	var weighted, weightSum float64
	for _, c := range contribs {
		weighted += float64(c.eta) * c.weight
		weightSum += c.weight
	}
	return time.Duration(weighted / weightSum)
}

func (e *Estimator) stageEstimate(in EstimateInput) time.Duration {
	base, ok := stageBaselines[in.Stage]
	if !ok {
		base = stageBaselines[domain.StageProcessing]
	}

	multiplier := 1.0
	if in.DocumentSizeBytes > 0 {
		multiplier += float64(in.DocumentSizeBytes) / (10 * 1024 * 1024)
	}
	if in.TotalPages > 0 {
		multiplier += float64(in.TotalPages) / 50
	}
	return time.Duration(float64(base) * multiplier)
}

func (e *Estimator) confidence(in EstimateInput) float64 {
	conf := 0.2
	conf += in.ProgressPct / 100 * 0.5
	if in.TotalPages > 0 {
		conf += 0.15
	}
	if n := len(e.records); n > 0 {
		sample := float64(n) / 100
		if sample > 1 {
			sample = 1
		}
		conf += 0.15 * sample
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// avgTimePerPage is the mean per-page duration over the history
// window.
func (e *Estimator) avgTimePerPage() time.Duration {
	var sum float64
	var n int
	for _, rec := range e.records {
		if rec.TotalPages > 0 && rec.TotalTimeMs > 0 {
			sum += float64(rec.TotalTimeMs) / float64(rec.TotalPages)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return time.Duration(sum/float64(n)) * time.Millisecond
}

// similarAvgTotal averages the total time of past jobs within ±50% of
// the given size or page count, falling back to the global average.
func (e *Estimator) similarAvgTotal(sizeBytes int64, totalPages int) time.Duration {
	var similarSum, globalSum int64
	var similarN, globalN int

	for _, rec := range e.records {
		if rec.TotalTimeMs <= 0 {
			continue
		}
		globalSum += rec.TotalTimeMs
		globalN++
		if similarRange(float64(rec.DocumentSizeBytes), float64(sizeBytes)) ||
			similarRange(float64(rec.TotalPages), float64(totalPages)) {
			similarSum += rec.TotalTimeMs
			similarN++
		}
	}

	switch {
	case similarN > 0:
		return time.Duration(similarSum/int64(similarN)) * time.Millisecond
	case globalN > 0:
		return time.Duration(globalSum/int64(globalN)) * time.Millisecond
	default:
		return 0
	}
}

func similarRange(past, current float64) bool {
	if past <= 0 || current <= 0 {
		return false
	}
	return past >= current*0.5 && past <= current*1.5
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
