package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"go.uber.org/zap"
)

func newRetrier(env *testEnv) *RetryService {
	r := NewRetryService(env.dlq, env.validator, env.ingest, env.confirm, env.signal, zap.NewNop())
	r.Now = func() time.Time { return testNow }
	return r
}

// quarantineEntry appends a hand-built pending_retry entry so tests control
// the payload and schedule directly.
func quarantineEntry(t *testing.T, env *testEnv, schemaName string, payload any, e domain.DLQEntry) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	e.DLQID = uuid.NewString()
	e.SchemaName = schemaName
	e.Payload = raw
	if e.FirstSeenTS == "" {
		e.FirstSeenTS = testNow.Add(-time.Hour).Format(time.RFC3339)
	}
	if e.Status == "" {
		e.Status = domain.DLQStatusPendingRetry
	}
	if e.NextRetryTS == "" {
		e.NextRetryTS = testNow.Add(-time.Minute).Format(time.RFC3339)
	}
	if err := env.dlq.Append(&e); err != nil {
		t.Fatalf("append dlq entry: %v", err)
	}
	return e.DLQID
}

func TestRetryResolvesFixedPayload(t *testing.T) {
	env := newTestEnv(t)
	id := quarantineEntry(t, env, schema.Observation, validObs(), domain.DLQEntry{})

	sum, err := newRetrier(env).Retry(context.Background(), RetryOpts{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sum.Attempted != 1 || sum.Resolved != 1 {
		t.Fatalf("summary = %+v, want 1 attempted, 1 resolved", sum)
	}

	entries, _, err := env.dlq.Fold()
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	e := entries[id]
	if e.Status != domain.DLQStatusResolved {
		t.Fatalf("status = %s, want resolved", e.Status)
	}
	if e.LastResultStatus != StatusCommitted {
		t.Fatalf("last_result_status = %s, want committed", e.LastResultStatus)
	}
	if e.Retries() != 0 {
		t.Fatalf("retry_count = %d, want 0 on first-attempt resolve", e.Retries())
	}

	doc := env.loadDoc(t)
	if _, ok := doc.Record("user:primary", "travel", "destination"); !ok {
		t.Fatal("replayed observation did not commit")
	}
}

func TestRetryInvalidPayloadFailsInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o := validObs()
	o.Domain = "astrology"
	res, err := env.ingest.Ingest(ctx, o, IngestOpts{})
	if err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	if res.Status != StatusValidationFailed {
		t.Fatalf("seed status = %s, want validation_failed", res.Status)
	}

	sum, err := newRetrier(env).Retry(ctx, RetryOpts{IncludeNotDue: true})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sum.Attempted != 1 || sum.PendingRetry != 1 {
		t.Fatalf("summary = %+v, want 1 attempted still pending", sum)
	}

	// The invalid payload must fail against its own entry, never spawn a
	// second quarantine.
	entries, _, err := env.dlq.Fold()
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[res.DLQID]
	if e.Retries() != 1 {
		t.Fatalf("retry_count = %d, want 1", e.Retries())
	}
	if e.LastResultStatus != StatusValidationFailed {
		t.Fatalf("last_result_status = %s", e.LastResultStatus)
	}
	wantNext := testNow.Add(domain.BackoffFor(1)).UTC().Format(time.RFC3339)
	if e.NextRetryTS != wantNext {
		t.Fatalf("next_retry_ts = %s, want %s", e.NextRetryTS, wantNext)
	}
}

func TestRetrySkipsNotDueEntries(t *testing.T) {
	env := newTestEnv(t)
	quarantineEntry(t, env, schema.Observation, validObs(), domain.DLQEntry{
		NextRetryTS: testNow.Add(time.Hour).Format(time.RFC3339),
	})

	retrier := newRetrier(env)
	sum, err := retrier.Retry(context.Background(), RetryOpts{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sum.Scanned != 1 || sum.Attempted != 0 {
		t.Fatalf("summary = %+v, want scanned but not attempted", sum)
	}

	sum, err = retrier.Retry(context.Background(), RetryOpts{IncludeNotDue: true})
	if err != nil {
		t.Fatalf("Retry include_not_due: %v", err)
	}
	if sum.Attempted != 1 || sum.Resolved != 1 {
		t.Fatalf("summary = %+v, want forced attempt resolved", sum)
	}
}

func TestRetryExhaustionGoesPermanent(t *testing.T) {
	env := newTestEnv(t)
	bad := validObs()
	bad.Domain = "astrology"
	id := quarantineEntry(t, env, schema.Observation, bad, domain.DLQEntry{
		RetryCount: domain.IntPtr(domain.DLQMaxRetries - 1),
	})

	sum, err := newRetrier(env).Retry(context.Background(), RetryOpts{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sum.FailedPermanent != 1 {
		t.Fatalf("summary = %+v, want 1 failed_permanent", sum)
	}

	entries, _, _ := env.dlq.Fold()
	e := entries[id]
	if e.Status != domain.DLQStatusFailedPermanent {
		t.Fatalf("status = %s, want failed_permanent", e.Status)
	}
	if e.Retries() != domain.DLQMaxRetries {
		t.Fatalf("retry_count = %d, want %d", e.Retries(), domain.DLQMaxRetries)
	}
}

func TestRetryUnsupportedSchemaIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	id := quarantineEntry(t, env, "telepathy.v1", map[string]any{"x": 1}, domain.DLQEntry{})

	sum, err := newRetrier(env).Retry(context.Background(), RetryOpts{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sum.FailedPermanent != 1 {
		t.Fatalf("summary = %+v, want 1 failed_permanent", sum)
	}

	entries, _, _ := env.dlq.Fold()
	if entries[id].LastResultStatus != StatusUnsupportedSchema {
		t.Fatalf("last_result_status = %s, want unsupported_schema", entries[id].LastResultStatus)
	}
}

func TestRetryOldestFirstUnderLimit(t *testing.T) {
	env := newTestEnv(t)

	older := validObs()
	newer := validObs()
	newer.Field = "travel.dates"
	newer.CandidateValue = "2026-09-01"
	oldID := quarantineEntry(t, env, schema.Observation, older, domain.DLQEntry{
		FirstSeenTS: testNow.Add(-2 * time.Hour).Format(time.RFC3339),
	})
	quarantineEntry(t, env, schema.Observation, newer, domain.DLQEntry{})

	sum, err := newRetrier(env).Retry(context.Background(), RetryOpts{Limit: 1})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sum.Attempted != 1 {
		t.Fatalf("attempted = %d, want 1 under limit", sum.Attempted)
	}

	entries, _, _ := env.dlq.Fold()
	if entries[oldID].Status != domain.DLQStatusResolved {
		t.Fatal("oldest entry was not the one replayed")
	}
}
