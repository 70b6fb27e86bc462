package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
)

// Ingest statuses. These never cross a boundary as errors; callers branch on
// the status string.
const (
	StatusCommitted           = "committed"
	StatusPendingConfirmation = "pending_confirmation"
	StatusTentative           = "tentative"
	StatusDuplicate           = "duplicate"
	StatusValidationFailed    = "validation_failed"
	StatusRejected            = "rejected"
	StatusOK                  = "ok"
	StatusNotFound            = "not_found"
	StatusMismatch            = "mismatch"
	StatusUnsupportedSchema   = "unsupported_schema"
)

// quarantine appends a fresh DLQ entry for a payload that failed validation.
func quarantine(log domain.DLQLog, now time.Time, schemaName string, payload []byte, validationErrors []string) (*domain.DLQEntry, error) {
	entry := &domain.DLQEntry{
		DLQID:            uuid.NewString(),
		SchemaName:       schemaName,
		Payload:          payload,
		ValidationErrors: validationErrors,
		FirstSeenTS:      now.UTC().Format(time.RFC3339),
		RetryCount:       domain.IntPtr(0),
		NextRetryTS:      now.Add(domain.BackoffFor(0)).UTC().Format(time.RFC3339),
		Status:           domain.DLQStatusPendingRetry,
	}
	if err := log.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// applyCommit writes or deletes the committed record for an observation that
// has already been routed to commit.
func applyCommit(doc *domain.Document, o *domain.StateObservation, confidence float64, now time.Time) {
	field := o.StoredField()
	if o.IsRetract() {
		doc.DeleteRecord(o.EntityID, o.Domain, field)
		return
	}
	doc.SetRecord(o.EntityID, o.Domain, field, domain.StateRecord{
		Value:      o.CandidateValue,
		LastUpdate: now.UTC().Format(time.RFC3339),
		Source:     o.Source.Type,
		Confidence: confidence,
		EventID:    o.EventID,
	})
}

// firstN truncates a reason list for prompt summaries.
func firstN(reasons []string, n int) []string {
	if len(reasons) <= n {
		return reasons
	}
	return reasons[:n]
}
