package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/service"
)

type ConfirmationHandler struct {
	svc           *service.ConfirmService
	maxPending    int
	promoteLimit  int
	minConfidence float64
}

func NewConfirmationHandler(svc *service.ConfirmService, maxPending, promoteLimit int, minConfidence float64) *ConfirmationHandler {
	return &ConfirmationHandler{
		svc:           svc,
		maxPending:    maxPending,
		promoteLimit:  promoteLimit,
		minConfidence: minConfidence,
	}
}

// Apply resolves one pending prompt with a user decision.
func (h *ConfirmationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var c domain.UserConfirmation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.ApplyConfirmation(r.Context(), &c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply confirmation")
		return
	}
	writeJSON(w, statusCode(res.Status), res)
}

type promoteRequest struct {
	EntityID      string   `json:"entity_id,omitempty"`
	Domain        string   `json:"domain,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	Limit         *int     `json:"limit,omitempty"`
	MaxPending    *int     `json:"max_pending,omitempty"`
}

// Promote lifts eligible tentatives into the pending queue.
func (h *ConfirmationHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := service.PromoteOpts{
		EntityID:      req.EntityID,
		Domain:        req.Domain,
		MinConfidence: h.minConfidence,
		Limit:         h.promoteLimit,
		MaxPending:    h.maxPending,
	}
	if req.MinConfidence != nil {
		opts.MinConfidence = *req.MinConfidence
	}
	if req.Limit != nil && *req.Limit > 0 {
		opts.Limit = *req.Limit
	}
	if req.MaxPending != nil && *req.MaxPending > 0 {
		opts.MaxPending = *req.MaxPending
	}

	res, err := h.svc.PromoteReviewQueue(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to promote review queue")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
