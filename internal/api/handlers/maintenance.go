package handlers

import (
	"net/http"

	"github.com/statetracker/statetracker/internal/service"
)

// MaintenanceHandler exposes the on-demand projection and learner runs.
type MaintenanceHandler struct {
	projection *service.ProjectionService
	learner    *service.LearnerService
}

func NewMaintenanceHandler(projection *service.ProjectionService, learner *service.LearnerService) *MaintenanceHandler {
	return &MaintenanceHandler{projection: projection, learner: learner}
}

// Project rewrites the Markdown artifact from the current document.
func (h *MaintenanceHandler) Project(w http.ResponseWriter, r *http.Request) {
	res, err := h.projection.Project(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to project state")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunLearner triggers one adaptive-threshold run. force=true skips the
// min-interval throttle.
func (h *MaintenanceHandler) RunLearner(w http.ResponseWriter, r *http.Request) {
	res, err := h.learner.Run(r.Context(), service.LearnerOpts{
		Force: r.URL.Query().Get("force") == "true",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to run learner")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
