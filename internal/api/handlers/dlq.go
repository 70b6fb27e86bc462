package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/service"
)

type DLQHandler struct {
	dlq   domain.DLQLog
	retry *service.RetryService
}

func NewDLQHandler(dlq domain.DLQLog, retry *service.RetryService) *DLQHandler {
	return &DLQHandler{dlq: dlq, retry: retry}
}

type dlqListResponse struct {
	Entries        []*domain.DLQEntry `json:"entries"`
	Count          int                `json:"count"`
	MalformedLines int                `json:"malformed_lines"`
}

// List folds the DLQ into current per-entry state, oldest first, optionally
// filtered by status.
func (h *DLQHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, malformed, err := h.dlq.Fold()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dlq")
		return
	}

	statusFilter := r.URL.Query().Get("status")
	out := make([]*domain.DLQEntry, 0, len(entries))
	for _, e := range entries {
		if statusFilter != "" && e.Status != statusFilter {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenTS < out[j].FirstSeenTS })

	writeJSON(w, http.StatusOK, dlqListResponse{Entries: out, Count: len(out), MalformedLines: malformed})
}

type dlqRetryRequest struct {
	Limit         int  `json:"limit,omitempty"`
	MaxRetries    int  `json:"max_retries,omitempty"`
	IncludeNotDue bool `json:"include_not_due,omitempty"`
	ForceCommit   bool `json:"force_commit,omitempty"`
}

// Retry replays due entries through their pipelines.
func (h *DLQHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var req dlqRetryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	summary, err := h.retry.Retry(r.Context(), service.RetryOpts{
		Limit:         req.Limit,
		MaxRetries:    req.MaxRetries,
		IncludeNotDue: req.IncludeNotDue,
		ForceCommit:   req.ForceCommit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retry dlq")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
