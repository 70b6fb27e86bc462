package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/service"
)

type ObservationHandler struct {
	ingest    *service.IngestService
	extractor *service.Extractor
	entityID  string
}

func NewObservationHandler(ingest *service.IngestService, extractor *service.Extractor, entityID string) *ObservationHandler {
	return &ObservationHandler{ingest: ingest, extractor: extractor, entityID: entityID}
}

// Create ingests one structured observation. force_commit=true bypasses the
// threshold decision.
func (h *ObservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var obs domain.StateObservation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := service.IngestOpts{ForceCommit: r.URL.Query().Get("force_commit") == "true"}
	res, err := h.ingest.Ingest(r.Context(), &obs, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest observation")
		return
	}
	writeJSON(w, statusCode(res.Status), res)
}

type textObservationRequest struct {
	Text        string `json:"text"`
	EntityID    string `json:"entity_id,omitempty"`
	Field       string `json:"field,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	SourceRef   string `json:"source_ref,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
	ForceCommit bool   `json:"force_commit,omitempty"`
}

type textObservationResponse struct {
	Observation *domain.StateObservation `json:"observation"`
	Result      *service.IngestResult    `json:"result"`
}

// CreateFromText extracts an observation from free text (inferred domain,
// classified intent) and ingests it.
func (h *ObservationHandler) CreateFromText(w http.ResponseWriter, r *http.Request) {
	var req textObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	entityID := req.EntityID
	if entityID == "" {
		entityID = h.entityID
	}

	obs := h.extractor.Extract(r.Context(), req.Text, service.ExtractOpts{
		EntityID:      entityID,
		FieldOverride: req.Field,
		SourceType:    req.SourceType,
		SourceRef:     req.SourceRef,
		EventTS:       req.EventTS,
	})

	res, err := h.ingest.Ingest(r.Context(), obs, service.IngestOpts{ForceCommit: req.ForceCommit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest observation")
		return
	}
	writeJSON(w, statusCode(res.Status), textObservationResponse{Observation: obs, Result: res})
}
