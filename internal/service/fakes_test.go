package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

// memHistory is an in-memory port.HistoryStore.
type memHistory struct {
	mu      sync.Mutex
	records []domain.ConversionRecord
	err     error
}

func (m *memHistory) Append(rec domain.ConversionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memHistory) List() ([]domain.ConversionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.ConversionRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

// memObjectStore is an in-memory port.ObjectStore with per-call error
// injection.
type memObjectStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploadErr   error
	downloadErr error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.objects[path] = append([]byte(nil), data...)
	return path, nil
}

func (m *memObjectStore) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	data, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memObjectStore) SignedURL(path string, _ time.Duration) (string, error) {
	return "/files/" + path + "?sig=test", nil
}

func (m *memObjectStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *memObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for path := range m.objects {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// fakeRasterizer renders every page as the same small PNG.
type fakeRasterizer struct {
	mu        sync.Mutex
	rendered  []int
	renderErr error
	delay     time.Duration
}

func (f *fakeRasterizer) RenderPage(ctx context.Context, _ string, pageNumber, _ int) ([]byte, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	f.rendered = append(f.rendered, pageNumber)
	return testPagePNG(), nil
}

func (f *fakeRasterizer) renderedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.rendered))
	copy(out, f.rendered)
	return out
}

// testPagePNG is a decodable stand-in for a rendered page.
func testPagePNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// fakeInspector reports a fixed page count.
type fakeInspector struct {
	pages       int
	countErr    error
	validateErr error
}

func (f *fakeInspector) PageCount(string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.pages, nil
}

func (f *fakeInspector) Validate(string) error {
	return f.validateErr
}

// fakeDocRepo serves DocumentInfo from a map.
type fakeDocRepo struct {
	docs map[string]*port.DocumentInfo
}

func (f *fakeDocRepo) Get(_ context.Context, documentID string) (*port.DocumentInfo, error) {
	doc, ok := f.docs[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// fakePageCache records completed conversions in memory.
type fakePageCache struct {
	mu       sync.Mutex
	versions map[string]int
	pages    map[string][]domain.DocumentPage
}

func newFakePageCache() *fakePageCache {
	return &fakePageCache{
		versions: make(map[string]int),
		pages:    make(map[string][]domain.DocumentPage),
	}
}

func (f *fakePageCache) RecordCompletedConversion(_ context.Context, documentID string, pages []domain.DocumentPage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[documentID]++
	version := f.versions[documentID]
	for i := range pages {
		pages[i].Version = version
	}
	f.pages[documentID] = pages
	return version, nil
}

func (f *fakePageCache) GetCurrentPages(_ context.Context, documentID string) ([]domain.DocumentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[documentID], nil
}

func (f *fakePageCache) NextVersion(_ context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[documentID] + 1, nil
}

func (f *fakePageCache) GetPage(_ context.Context, pageID int64) (*domain.DocumentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pages := range f.pages {
		for i := range pages {
			if pages[i].ID == pageID {
				page := pages[i]
				return &page, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePageCache) RecordAccess(context.Context, int64, int64) error { return nil }

func (f *fakePageCache) PagesNeedingRefresh(context.Context) ([]domain.DocumentPage, error) {
	return nil, nil
}

func (f *fakePageCache) CleanupExpired(context.Context) (int, error) { return 0, nil }

func (f *fakePageCache) UpdateQuality(context.Context, int64, domain.QualityLevel) error { return nil }

func (f *fakePageCache) ListAccessedSince(context.Context, time.Time) ([]domain.DocumentPage, error) {
	return nil, nil
}

// fakeConverter lets manager tests script the conversion outcome.
type fakeConverter struct {
	mu      sync.Mutex
	calls   int
	convert func(ctx context.Context, documentID string, attempt int, report port.ProgressFunc) (*port.ConvertResult, error)
}

func (f *fakeConverter) Convert(ctx context.Context, documentID, _ string, _ port.ConvertOptions, report port.ProgressFunc) (*port.ConvertResult, error) {
	f.mu.Lock()
	f.calls++
	attempt := f.calls
	f.mu.Unlock()
	if f.convert != nil {
		return f.convert(ctx, documentID, attempt, report)
	}
	return successResult(3), nil
}

func (f *fakeConverter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func successResult(pages int) *port.ConvertResult {
	artifacts := make([]port.PageArtifact, pages)
	for i := range artifacts {
		artifacts[i] = port.PageArtifact{
			PageNumber:  i + 1,
			StoragePath: fmt.Sprintf("docs/doc/v1/page-%d.jpg", i+1),
			URL:         fmt.Sprintf("/files/docs/doc/v1/page-%d.jpg?sig=test", i+1),
			Format:      domain.FormatJPEG,
			FileSize:    4096,
		}
	}
	return &port.ConvertResult{
		PageCount:      pages,
		Pages:          artifacts,
		ProcessingTime: 250 * time.Millisecond,
	}
}

var (
	_ port.HistoryStore       = (*memHistory)(nil)
	_ port.ObjectStore        = (*memObjectStore)(nil)
	_ port.Rasterizer         = (*fakeRasterizer)(nil)
	_ port.Inspector          = (*fakeInspector)(nil)
	_ port.DocumentRepository = (*fakeDocRepo)(nil)
	_ port.PageCache          = (*fakePageCache)(nil)
	_ port.DocumentConverter  = (*fakeConverter)(nil)
)
