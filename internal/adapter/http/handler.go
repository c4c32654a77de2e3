package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/infrastructure/logger"
)

type Handlers struct {
	jobs  JobService
	pages PageService
	files FileStore
}

func NewHandlers(jobs JobService, pages PageService, files FileStore) *Handlers {
	return &Handlers{jobs: jobs, pages: pages, files: files}
}

type jobResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`
}

type progressResponse struct {
	DocumentID             string `json:"documentId"`
	Status                 string `json:"status"`
	Stage                  string `json:"stage"`
	Progress               int    `json:"progress"`
	TotalPages             int    `json:"totalPages,omitempty"`
	ProcessedPages         int    `json:"processedPages"`
	RetryCount             int    `json:"retryCount"`
	EstimatedTimeRemaining int64  `json:"estimatedTimeRemainingMs,omitempty"`
	Message                string `json:"message,omitempty"`
}

type pageResponse struct {
	ID           int64  `json:"id"`
	PageNumber   int    `json:"pageNumber"`
	Version      int    `json:"version"`
	URL          string `json:"url"`
	Format       string `json:"format"`
	QualityLevel string `json:"qualityLevel"`
	FileSize     int64  `json:"fileSize"`
}

func toJobResponse(job *domain.ConversionJob) jobResponse {
	return jobResponse{
		ID:         job.ID,
		DocumentID: job.DocumentID,
		Status:     string(job.Status),
		Priority:   job.Priority.String(),
		RetryCount: job.RetryCount,
		LastError:  job.LastError,
	}
}

func toProgressResponse(p *domain.ConversionProgress) progressResponse {
	return progressResponse{
		DocumentID:             p.DocumentID,
		Status:                 string(p.Status),
		Stage:                  string(p.Stage),
		Progress:               p.Progress,
		TotalPages:             p.TotalPages,
		ProcessedPages:         p.ProcessedPages,
		RetryCount:             p.RetryCount,
		EstimatedTimeRemaining: p.EstimatedTimeRemaining.Milliseconds(),
		Message:                p.Message,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateActiveJob):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRetryLimitExceeded):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error.Printf("request failed: %s", logger.SanitizeForLog(err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parsePriority(s string) domain.JobPriority {
	switch s {
	case "low":
		return domain.PriorityLow
	case "high":
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

func (h *Handlers) CreateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := r.PathValue("id")
		priority := parsePriority(r.URL.Query().Get("priority"))

		job, err := h.jobs.CreateJob(r.Context(), documentID, priority)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, toJobResponse(job))
	}
}

func (h *Handlers) Progress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		progress, err := h.jobs.GetProgress(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if progress == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no conversion has run for this document"})
			return
		}
		writeJSON(w, http.StatusOK, toProgressResponse(progress))
	}
}

func (h *Handlers) ActiveJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.jobs.GetActiveJob(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if job == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active job"})
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (h *Handlers) Retry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.jobs.RetryJob(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, toJobResponse(job))
	}
}

func (h *Handlers) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.jobs.CancelJob(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) Pages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pages, err := h.pages.GetCurrentPages(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]pageResponse, len(pages))
		for i, p := range pages {
			out[i] = pageResponse{
				ID:           p.ID,
				PageNumber:   p.PageNumber,
				Version:      p.Version,
				URL:          p.URL,
				Format:       string(p.Format),
				QualityLevel: string(p.QualityLevel),
				FileSize:     p.FileSize,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handlers) PageView() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page id"})
			return
		}
		var processingTimeMs int64
		if v := r.URL.Query().Get("processingTimeMs"); v != "" {
			processingTimeMs, _ = strconv.ParseInt(v, 10, 64)
		}
		if err := h.pages.RecordPageView(r.Context(), pageID, processingTimeMs); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) Metrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := h.jobs.GetMetrics(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"queueDepth":              metrics.QueueDepth,
			"activeJobs":              metrics.ActiveJobs,
			"averageProcessingTimeMs": metrics.AverageProcessingTime.Milliseconds(),
			"successRate":             metrics.SuccessRate,
		})
	}
}

// File serves stored page images. The URL must carry a valid, unexpired
// signature produced by the object store.
func (h *Handlers) File() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.PathValue("path")
		expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
		if err != nil {
			http.Error(w, "missing or invalid expiry", http.StatusBadRequest)
			return
		}
		sig := r.URL.Query().Get("sig")
		if !h.files.Verify(path, expires, sig) {
			http.Error(w, "invalid or expired signature", http.StatusForbidden)
			return
		}

		data, err := h.files.Download(r.Context(), path)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeError(w, err)
			return
		}

		w.Header().Set("Cache-Control", "private, max-age="+strconv.FormatInt(maxAge(expires), 10))
		http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(data))
	}
}

func maxAge(expires int64) int64 {
	remaining := expires - time.Now().Unix()
	if remaining < 0 {
		return 0
	}
	return remaining
}
