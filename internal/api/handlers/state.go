package handlers

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
)

type StateHandler struct {
	docs     domain.DocumentStore
	audit    domain.AuditLog
	dlq      domain.DLQLog
	learning domain.LearningLog
	runtime  domain.RuntimeStateStore

	artifact   string
	sessionDir string
}

func NewStateHandler(docs domain.DocumentStore, audit domain.AuditLog, dlq domain.DLQLog, learning domain.LearningLog, runtime domain.RuntimeStateStore, artifact, sessionDir string) *StateHandler {
	return &StateHandler{
		docs:       docs,
		audit:      audit,
		dlq:        dlq,
		learning:   learning,
		runtime:    runtime,
		artifact:   artifact,
		sessionDir: sessionDir,
	}
}

type stateResponse struct {
	Document *domain.Document   `json:"document,omitempty"`
	Records  []domain.RecordRef `json:"records,omitempty"`
}

// Get returns the canonical document, or just the committed records for one
// entity when entity_id is given.
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.docs.Lock()
	doc, err := h.docs.Load()
	h.docs.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}

	if entityID := r.URL.Query().Get("entity_id"); entityID != "" {
		var records []domain.RecordRef
		for _, rec := range doc.SortedRecords() {
			if rec.EntityID == entityID {
				records = append(records, rec)
			}
		}
		writeJSON(w, http.StatusOK, stateResponse{Records: records})
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Document: doc})
}

type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type doctorResponse struct {
	Status string        `json:"status"`
	Checks []doctorCheck `json:"checks"`
}

// Doctor inspects every persisted surface and reports per-check health.
func (h *StateHandler) Doctor(w http.ResponseWriter, r *http.Request) {
	var checks []doctorCheck
	add := func(name string, err error, detail string) {
		c := doctorCheck{Name: name, Status: "ok", Detail: detail}
		if err != nil {
			c.Status = "fail"
			c.Detail = err.Error()
		}
		checks = append(checks, c)
	}

	h.docs.Lock()
	doc, err := h.docs.Load()
	h.docs.Unlock()
	detail := ""
	if err == nil {
		detail = "version " + strconv.Itoa(doc.Version) + ", " + strconv.Itoa(len(doc.PendingConfirmations)) + " pending"
	}
	add("document", err, detail)

	lines, err := h.audit.Tail(5)
	if err == nil {
		detail = strconv.Itoa(len(lines)) + " recent entries"
	}
	add("audit_log", err, detail)

	entries, malformed, err := h.dlq.Fold()
	if err == nil {
		detail = strconv.Itoa(len(entries)) + " entries, " + strconv.Itoa(malformed) + " malformed lines"
	}
	add("dlq", err, detail)

	events, err := h.learning.ReadSince(time.Now().Add(-14 * 24 * time.Hour))
	if err == nil {
		detail = strconv.Itoa(len(events)) + " events in window"
	}
	add("learning_log", err, detail)

	state, err := h.runtime.Load()
	if err == nil {
		detail = "cursor " + strconv.FormatInt(state.SessionCursor, 10)
		if state.ActivePromptID != "" {
			detail += ", active prompt " + state.ActivePromptID[:8]
		}
	}
	add("worker_state", err, detail)

	checks = append(checks, h.artifactCheck())

	if _, serr := os.Stat(h.sessionDir); serr != nil {
		checks = append(checks, doctorCheck{Name: "session_dir", Status: "warn", Detail: serr.Error()})
	} else {
		checks = append(checks, doctorCheck{Name: "session_dir", Status: "ok", Detail: h.sessionDir})
	}

	overall := "ok"
	for _, c := range checks {
		if c.Status == "fail" {
			overall = "fail"
			break
		}
	}
	writeJSON(w, http.StatusOK, doctorResponse{Status: overall, Checks: checks})
}

func (h *StateHandler) artifactCheck() doctorCheck {
	data, err := os.ReadFile(h.artifact)
	if err != nil {
		if os.IsNotExist(err) {
			return doctorCheck{Name: "projection_artifact", Status: "warn", Detail: "not yet projected"}
		}
		return doctorCheck{Name: "projection_artifact", Status: "fail", Detail: err.Error()}
	}
	content := string(data)
	if !strings.Contains(content, "zone_id=canonical_state") || !strings.Contains(content, "zone_id=state_change_log") {
		return doctorCheck{Name: "projection_artifact", Status: "warn", Detail: "machine-managed zones missing"}
	}
	return doctorCheck{Name: "projection_artifact", Status: "ok", Detail: h.artifact}
}
