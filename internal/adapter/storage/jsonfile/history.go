package jsonfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

// HistoryStore keeps the conversion-history window in a single JSON
// file so ETA estimates survive restarts.
type HistoryStore struct {
	mu      sync.RWMutex
	path    string
	window  int
	records []domain.ConversionRecord
}

func NewHistoryStore(dataDir string, window int) (*HistoryStore, error) {
	store := &HistoryStore{
		path:   filepath.Join(dataDir, "conversion_history.json"),
		window: window,
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return store, nil
}

func (s *HistoryStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.records)
}

func (s *HistoryStore) save() error {
	tmpPath := s.path + ".tmp"

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *HistoryStore) Append(rec domain.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if len(s.records) > s.window {
		s.records = s.records[len(s.records)-s.window:]
	}
	return s.save()
}

func (s *HistoryStore) List() ([]domain.ConversionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConversionRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

var _ port.HistoryStore = (*HistoryStore)(nil)
