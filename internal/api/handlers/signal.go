package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/service"
)

type SignalHandler struct {
	svc *service.SignalService
}

func NewSignalHandler(svc *service.SignalService) *SignalHandler {
	return &SignalHandler{svc: svc}
}

// Create ingests one calendar/email signal batch.
func (h *SignalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var sig domain.SignalEvent
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := service.IngestOpts{ForceCommit: r.URL.Query().Get("force_commit") == "true"}
	res, err := h.svc.IngestSignal(r.Context(), &sig, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest signal")
		return
	}
	writeJSON(w, statusCode(res.Status), res)
}
