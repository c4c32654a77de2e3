package http

import (
	"context"
	"net/http"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/service"
)

// JobService is the slice of the job manager the API exposes.
type JobService interface {
	CreateJob(ctx context.Context, documentID string, priority domain.JobPriority) (*domain.ConversionJob, error)
	GetProgress(ctx context.Context, documentID string) (*domain.ConversionProgress, error)
	RetryJob(ctx context.Context, documentID string) (*domain.ConversionJob, error)
	CancelJob(ctx context.Context, jobID string) error
	GetActiveJob(ctx context.Context, documentID string) (*domain.ConversionJob, error)
	GetMetrics(ctx context.Context) (*service.Metrics, error)
}

// PageService serves cached page rows and access accounting.
type PageService interface {
	GetCurrentPages(ctx context.Context, documentID string) ([]domain.DocumentPage, error)
	RecordPageView(ctx context.Context, pageID int64, processingTimeMs int64) error
}

// FileStore serves stored page images behind signed URLs.
type FileStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Verify(path string, expires int64, sig string) bool
}

type Server struct {
	mux        *http.ServeMux
	handlers   *Handlers
	sseHandler *SSEHandler
}

func NewServer(jobs JobService, pages PageService, files FileStore, eventBus *service.EventBus) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		handlers:   NewHandlers(jobs, pages, files),
		sseHandler: NewSSEHandler(eventBus, jobs),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /documents/{id}/convert", s.handlers.CreateJob())
	s.mux.HandleFunc("GET /documents/{id}/progress", s.handlers.Progress())
	s.mux.HandleFunc("GET /documents/{id}/job", s.handlers.ActiveJob())
	s.mux.HandleFunc("POST /documents/{id}/retry", s.handlers.Retry())
	s.mux.HandleFunc("GET /documents/{id}/pages", s.handlers.Pages())

	s.mux.HandleFunc("POST /jobs/{id}/cancel", s.handlers.Cancel())
	s.mux.HandleFunc("POST /pages/{id}/view", s.handlers.PageView())

	s.mux.HandleFunc("GET /metrics", s.handlers.Metrics())
	s.mux.HandleFunc("GET /events/{id}", s.sseHandler.Events())
	s.mux.HandleFunc("GET /files/{path...}", s.handlers.File())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
