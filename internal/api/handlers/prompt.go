package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/statetracker/statetracker/internal/domain"
)

type PromptHandler struct {
	docs domain.DocumentStore
}

func NewPromptHandler(docs domain.DocumentStore) *PromptHandler {
	return &PromptHandler{docs: docs}
}

type promptListResponse struct {
	Prompts []domain.PendingPrompt `json:"prompts"`
	Count   int                    `json:"count"`
}

// List returns pending prompts in dispatch order, optionally filtered by
// entity_id.
func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	h.docs.Lock()
	doc, err := h.docs.Load()
	h.docs.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}

	prompts := doc.PendingForEntity(r.URL.Query().Get("entity_id"))
	if prompts == nil {
		prompts = []domain.PendingPrompt{}
	}
	writeJSON(w, http.StatusOK, promptListResponse{Prompts: prompts, Count: len(prompts)})
}

// GetByRef resolves one prompt by full id or unique prefix of at least 8
// characters.
func (h *PromptHandler) GetByRef(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if len(ref) < 8 {
		writeError(w, http.StatusBadRequest, "prompt ref must be at least 8 characters")
		return
	}

	h.docs.Lock()
	doc, err := h.docs.Load()
	h.docs.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}

	var matches []domain.PendingPrompt
	for id, p := range doc.PendingConfirmations {
		if strings.HasPrefix(id, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		writeError(w, http.StatusNotFound, "prompt not found")
	case 1:
		writeJSON(w, http.StatusOK, matches[0])
	default:
		writeError(w, http.StatusConflict, "ambiguous prompt ref")
	}
}
