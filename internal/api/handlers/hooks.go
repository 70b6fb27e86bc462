package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/statetracker/statetracker/internal/bridge"
)

// HookHandler exposes the host-runtime bridge: pre-response context
// injection, inbound message ingestion, and the /state-confirm command.
type HookHandler struct {
	bridge *bridge.Bridge
}

func NewHookHandler(b *bridge.Bridge) *HookHandler {
	return &HookHandler{bridge: b}
}

// Context returns the snapshot the host prepends before the assistant
// responds.
func (h *HookHandler) Context(w http.ResponseWriter, r *http.Request) {
	res, err := h.bridge.InjectContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build context")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Message handles one inbound user message from the host runtime.
func (h *HookHandler) Message(w http.ResponseWriter, r *http.Request) {
	var msg bridge.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.bridge.HandleInbound(r.Context(), &msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to handle message")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type commandRequest struct {
	Text string `json:"text"`
}

// StateConfirm serves the /state-confirm chat command.
func (h *HookHandler) StateConfirm(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.bridge.HandleStateConfirm(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to handle command")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
