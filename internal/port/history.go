package port

import "github.com/docshare/convertd/internal/domain"

// HistoryStore persists the bounded window of completed-conversion
// records the ETA estimator learns from.
type HistoryStore interface {
	Append(rec domain.ConversionRecord) error
	List() ([]domain.ConversionRecord, error)
}
