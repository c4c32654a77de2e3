package domain

import "time"

// ConversionRecord captures one completed job's vitals. A rolling
// window of these biases future ETA estimates.
type ConversionRecord struct {
	DocumentSizeBytes int64     `json:"document_size_bytes"`
	TotalPages        int       `json:"total_pages"`
	TotalTimeMs       int64     `json:"total_time_ms"`
	CompletedAt       time.Time `json:"completed_at"`
}
