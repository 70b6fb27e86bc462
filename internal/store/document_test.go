package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/statetracker/statetracker/internal/domain"
)

func TestDocumentBootstrapOnFirstLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DocumentFile)
	s := NewDocumentStore(path)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Version != domain.DocumentVersion {
		t.Fatalf("version = %d, want %d", doc.Version, domain.DocumentVersion)
	}
	if doc.DomainConfigFor("travel").AskThreshold != 0.60 {
		t.Fatal("bootstrap document missing domain defaults")
	}

	// Bootstrap persists immediately.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("bootstrap file missing: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatal("document must end with a trailing newline")
	}
	if !strings.Contains(string(data), "\n  \"version\"") {
		t.Fatal("document must be pretty-printed")
	}
}

func TestDocumentSaveLoadRoundtrip(t *testing.T) {
	s := NewDocumentStore(filepath.Join(t.TempDir(), DocumentFile))

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc.SetRecord("user:primary", "travel", "destination", domain.StateRecord{
		Value: "Tahoe", Confidence: 0.95, Source: "manual_cli", EventID: "evt-1",
	})
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec, ok := again.Record("user:primary", "travel", "destination")
	if !ok || rec.Value != "Tahoe" || rec.EventID != "evt-1" {
		t.Fatalf("record = %+v ok=%v", rec, ok)
	}
}

func TestDocumentNormalizesSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DocumentFile)
	if err := os.WriteFile(path, []byte(`{"version": 3}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc, err := NewDocumentStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Domains == nil || doc.Entities == nil || doc.PendingConfirmations == nil {
		t.Fatal("maps not backfilled")
	}
	if doc.Runtime.ProjectionMode != domain.ProjectionModeLegacyString {
		t.Fatalf("projection mode = %q", doc.Runtime.ProjectionMode)
	}
	if doc.Runtime.AdaptiveLearning.MinSamples == 0 {
		t.Fatal("adaptive defaults not backfilled")
	}
	if doc.SourceReliability["manual_cli"] == 0 {
		t.Fatal("source reliability not backfilled")
	}
}
