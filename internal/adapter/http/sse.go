package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/service"
)

// SSEHandler streams progress snapshots for one document over
// server-sent events. Polling GET /documents/{id}/progress remains the
// contract; this is the optional push surface on top of it.
type SSEHandler struct {
	eventBus *service.EventBus
	jobs     JobService
}

func NewSSEHandler(eventBus *service.EventBus, jobs JobService) *SSEHandler {
	return &SSEHandler{eventBus: eventBus, jobs: jobs}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandler) sendProgress(w http.ResponseWriter, p *domain.ConversionProgress) {
	payload, err := json.Marshal(toProgressResponse(p))
	if err != nil {
		return
	}
	sseWrite(w, "progress", string(payload))
}

func terminal(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		return true
	}
	return false
}

func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := r.PathValue("id")

		progress, err := h.jobs.GetProgress(r.Context(), documentID)
		if err != nil || progress == nil {
			http.Error(w, "no conversion for this document", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		// Send the current state first so late subscribers see something
		// immediately.
		h.sendProgress(w, progress)
		if terminal(progress.Status) {
			return
		}

		ch := h.eventBus.Subscribe(documentID)
		defer h.eventBus.Unsubscribe(documentID, ch)

		ctx := r.Context()
		keepAlive := time.NewTicker(15 * time.Second)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				// Re-fetch for the full snapshot; bus events are thin.
				progress, err := h.jobs.GetProgress(ctx, documentID)
				if err != nil || progress == nil {
					return
				}
				h.sendProgress(w, progress)
				if terminal(event.Status) {
					return
				}
			}
		}
	}
}
