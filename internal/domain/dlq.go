package domain

import (
	"encoding/json"
	"time"
)

// DLQ entry statuses.
const (
	DLQStatusPendingRetry    = "pending_retry"
	DLQStatusResolved        = "resolved"
	DLQStatusFailedPermanent = "failed_permanent"
)

// DLQBackoff is the retry schedule; retries past the end reuse the last
// interval until max retries.
var DLQBackoff = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// DLQMaxRetries is the default retry cap before an entry is classified
// failed_permanent.
const DLQMaxRetries = 5

// BackoffFor returns the wait before retry number retryCount (0-based).
func BackoffFor(retryCount int) time.Duration {
	if retryCount >= len(DLQBackoff) {
		return DLQBackoff[len(DLQBackoff)-1]
	}
	if retryCount < 0 {
		return DLQBackoff[0]
	}
	return DLQBackoff[retryCount]
}

// DLQEntry is one quarantined payload with its retry metadata. The DLQ store
// is an append-only line log; the authoritative entry state is the per-field
// last-write-wins fold of all lines sharing a dlq_id.
type DLQEntry struct {
	DLQID            string          `json:"dlq_id"`
	SchemaName       string          `json:"schema_name,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	FirstSeenTS      string          `json:"first_seen_ts,omitempty"`
	RetryCount       *int            `json:"retry_count,omitempty"`
	NextRetryTS      string          `json:"next_retry_ts,omitempty"`
	Status           string          `json:"status,omitempty"`
	LastRetryTS      string          `json:"last_retry_ts,omitempty"`
	LastResultStatus string          `json:"last_result_status,omitempty"`
}

// Retries returns the folded retry count, treating absent as zero.
func (e *DLQEntry) Retries() int {
	if e.RetryCount == nil {
		return 0
	}
	return *e.RetryCount
}

// IntPtr is a small helper for DLQEntry.RetryCount updates.
func IntPtr(v int) *int { return &v }
