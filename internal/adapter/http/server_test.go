package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/service"
)

type stubJobs struct {
	job      *domain.ConversionJob
	progress *domain.ConversionProgress
	metrics  *service.Metrics
	err      error
}

func (s *stubJobs) CreateJob(context.Context, string, domain.JobPriority) (*domain.ConversionJob, error) {
	return s.job, s.err
}

func (s *stubJobs) GetProgress(context.Context, string) (*domain.ConversionProgress, error) {
	return s.progress, s.err
}

func (s *stubJobs) RetryJob(context.Context, string) (*domain.ConversionJob, error) {
	return s.job, s.err
}

func (s *stubJobs) CancelJob(context.Context, string) error { return s.err }

func (s *stubJobs) GetActiveJob(context.Context, string) (*domain.ConversionJob, error) {
	return s.job, s.err
}

func (s *stubJobs) GetMetrics(context.Context) (*service.Metrics, error) {
	return s.metrics, s.err
}

type stubPages struct {
	pages []domain.DocumentPage
	err   error
}

func (s *stubPages) GetCurrentPages(context.Context, string) ([]domain.DocumentPage, error) {
	return s.pages, s.err
}

func (s *stubPages) RecordPageView(context.Context, int64, int64) error { return s.err }

type stubFiles struct {
	objects map[string][]byte
	valid   bool
}

func (s *stubFiles) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (s *stubFiles) Verify(string, int64, string) bool { return s.valid }

func newTestServer(jobs *stubJobs, pages *stubPages, files *stubFiles) *Server {
	if files == nil {
		files = &stubFiles{valid: true}
	}
	return NewServer(jobs, pages, files, service.NewEventBus())
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_CreateJob(t *testing.T) {
	job := domain.NewConversionJob("doc-1", domain.PriorityHigh)
	srv := newTestServer(&stubJobs{job: job}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/documents/doc-1/convert?priority=high")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "queued", got.Status)
	assert.Equal(t, "high", got.Priority)
}

func TestServer_CreateJobDuplicate(t *testing.T) {
	srv := newTestServer(&stubJobs{err: domain.ErrDuplicateActiveJob}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/documents/doc-1/convert")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ProgressNotFoundWhenNeverRun(t *testing.T) {
	srv := newTestServer(&stubJobs{}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/documents/doc-1/progress")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Progress(t *testing.T) {
	srv := newTestServer(&stubJobs{progress: &domain.ConversionProgress{
		DocumentID:             "doc-1",
		Status:                 domain.JobStatusProcessing,
		Stage:                  domain.StageProcessing,
		Progress:               40,
		TotalPages:             10,
		ProcessedPages:         4,
		EstimatedTimeRemaining: 30 * time.Second,
	}}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/documents/doc-1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var got progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "processing_pages", got.Stage)
	assert.Equal(t, int64(30_000), got.EstimatedTimeRemaining)
}

func TestServer_RetryLimit(t *testing.T) {
	srv := newTestServer(&stubJobs{err: domain.ErrRetryLimitExceeded}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/documents/doc-1/retry")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_CancelJob(t *testing.T) {
	srv := newTestServer(&stubJobs{}, &stubPages{}, nil)
	rec := doRequest(t, srv, http.MethodPost, "/jobs/job-1/cancel")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	srv = newTestServer(&stubJobs{err: domain.ErrNotFound}, &stubPages{}, nil)
	rec = doRequest(t, srv, http.MethodPost, "/jobs/job-1/cancel")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Pages(t *testing.T) {
	srv := newTestServer(&stubJobs{}, &stubPages{pages: []domain.DocumentPage{
		{ID: 1, PageNumber: 1, Version: 2, URL: "/files/docs/doc-1/v2/page-1.jpg?sig=x", Format: domain.FormatJPEG, QualityLevel: domain.QualityStandard, FileSize: 4096},
		{ID: 2, PageNumber: 2, Version: 2, URL: "/files/docs/doc-1/v2/page-2.jpg?sig=x", Format: domain.FormatJPEG, QualityLevel: domain.QualityHigh, FileSize: 5120},
	}}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/documents/doc-1/pages")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []pageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].PageNumber)
	assert.Equal(t, "high", got[1].QualityLevel)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(&stubJobs{metrics: &service.Metrics{
		QueueDepth:            2,
		ActiveJobs:            1,
		AverageProcessingTime: 12 * time.Second,
		SuccessRate:           0.9,
	}}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(2), got["queueDepth"])
	assert.Equal(t, float64(12_000), got["averageProcessingTimeMs"])
}

func TestServer_File(t *testing.T) {
	files := &stubFiles{
		objects: map[string][]byte{"docs/doc-1/v1/page-1.jpg": []byte("jpegbytes")},
		valid:   true,
	}
	srv := newTestServer(&stubJobs{}, &stubPages{}, files)

	rec := doRequest(t, srv, http.MethodGet, "/files/docs/doc-1/v1/page-1.jpg?expires=9999999999&sig=ok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpegbytes", rec.Body.String())

	files.valid = false
	rec = doRequest(t, srv, http.MethodGet, "/files/docs/doc-1/v1/page-1.jpg?expires=9999999999&sig=bad")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	files.valid = true
	rec = doRequest(t, srv, http.MethodGet, "/files/docs/doc-1/v1/page-1.jpg")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "signature parameters are mandatory")
}

func TestServer_EventsTerminalSnapshot(t *testing.T) {
	srv := newTestServer(&stubJobs{progress: &domain.ConversionProgress{
		DocumentID: "doc-1",
		Status:     domain.JobStatusCompleted,
		Stage:      domain.StageCompleted,
		Progress:   100,
	}}, &stubPages{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/events/doc-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: progress")
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
