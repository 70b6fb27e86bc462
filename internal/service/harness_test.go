package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"github.com/statetracker/statetracker/internal/store"
	"go.uber.org/zap"
)

// testNow is the frozen clock every service under test runs on.
var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	root      string
	docs      *store.DocumentStore
	audit     *store.AuditLog
	dlq       *store.DLQLog
	learning  *store.LearningLog
	validator *schema.Validator
	resolver  *Resolver
	ingest    *IngestService
	confirm   *ConfirmService
	signal    *SignalService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	paths := store.NewPaths(root)

	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	logger := zap.NewNop()
	now := func() time.Time { return testNow }

	docs := store.NewDocumentStore(paths.Document())
	audit := store.NewAuditLog(paths.Audit())
	audit.SetNow(now)
	dlq := store.NewDLQLog(paths.DLQ())
	learning := store.NewLearningLog(paths.Learning())

	resolver := &Resolver{Now: now}
	ingest := NewIngestService(docs, audit, dlq, validator, resolver, logger)
	ingest.Now = now
	confirm := NewConfirmService(docs, audit, dlq, learning, validator, resolver, logger)
	confirm.Now = now
	signal := NewSignalService(docs, dlq, validator, ingest, logger)
	signal.Now = now

	return &testEnv{
		root:      root,
		docs:      docs,
		audit:     audit,
		dlq:       dlq,
		learning:  learning,
		validator: validator,
		resolver:  resolver,
		ingest:    ingest,
		confirm:   confirm,
		signal:    signal,
	}
}

func (e *testEnv) artifact() string { return filepath.Join(e.root, "state.md") }

func (e *testEnv) loadDoc(t *testing.T) *domain.Document {
	t.Helper()
	doc, err := e.docs.Load()
	if err != nil {
		t.Fatalf("load document: %v", err)
	}
	return doc
}

// validObs builds a schema-valid travel observation with fresh identity.
func validObs() *domain.StateObservation {
	return &domain.StateObservation{
		EventID:        uuid.NewString(),
		EventTS:        testNow.Format(time.RFC3339),
		Domain:         string(domain.DomainTravel),
		EntityID:       "user:primary",
		Field:          "travel.destination",
		CandidateValue: "Tahoe",
		Intent:         string(domain.IntentAssertive),
		Source:         domain.SourceRef{Type: string(domain.SourceManualCLI), Ref: "cli:test"},
	}
}
