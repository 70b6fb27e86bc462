package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
)

var logTestNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestAuditAppendAndTail(t *testing.T) {
	l := NewAuditLog(filepath.Join(t.TempDir(), AuditFile))
	l.SetNow(func() time.Time { return logTestNow })

	for _, msg := range []string{"first", "second", "third"} {
		if err := l.Append(msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	lines, err := l.Tail(0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if lines[0] != "- 2026-08-24T12:00:00Z | first" {
		t.Fatalf("line = %q", lines[0])
	}

	last, err := l.Tail(2)
	if err != nil {
		t.Fatalf("Tail(2): %v", err)
	}
	if len(last) != 2 || last[0] != "- 2026-08-24T12:00:00Z | second" {
		t.Fatalf("tail = %v, want newest two oldest-first", last)
	}
}

func TestAuditTailMissingFile(t *testing.T) {
	l := NewAuditLog(filepath.Join(t.TempDir(), AuditFile))
	lines, err := l.Tail(10)
	if err != nil || lines != nil {
		t.Fatalf("lines=%v err=%v, want empty read", lines, err)
	}
}

func TestDLQFoldLastWriteWins(t *testing.T) {
	l := NewDLQLog(filepath.Join(t.TempDir(), DLQFile))

	if err := l.Append(&domain.DLQEntry{
		DLQID:       "dlq-1",
		SchemaName:  "observation",
		Payload:     []byte(`{"x":1}`),
		FirstSeenTS: "2026-08-24T10:00:00Z",
		Status:      domain.DLQStatusPendingRetry,
		RetryCount:  domain.IntPtr(0),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Update line carries only the changed fields.
	if err := l.Append(&domain.DLQEntry{
		DLQID:      "dlq-1",
		Status:     domain.DLQStatusResolved,
		RetryCount: domain.IntPtr(2),
	}); err != nil {
		t.Fatalf("Append update: %v", err)
	}
	if err := l.Append(&domain.DLQEntry{
		DLQID:      "dlq-2",
		SchemaName: "signal",
		Status:     domain.DLQStatusPendingRetry,
	}); err != nil {
		t.Fatalf("Append second: %v", err)
	}

	entries, malformed, err := l.Fold()
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if malformed != 0 || len(entries) != 2 {
		t.Fatalf("entries=%d malformed=%d", len(entries), malformed)
	}
	e := entries["dlq-1"]
	if e.Status != domain.DLQStatusResolved || e.Retries() != 2 {
		t.Fatalf("folded = %+v, want last-write fields", e)
	}
	// Fields absent from the update survive from the creation line.
	if e.SchemaName != "observation" || string(e.Payload) != `{"x":1}` || e.FirstSeenTS != "2026-08-24T10:00:00Z" {
		t.Fatalf("folded = %+v, lost creation fields", e)
	}
}

func TestDLQFoldCountsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), DLQFile)
	l := NewDLQLog(path)

	if err := l.Append(&domain.DLQEntry{DLQID: "dlq-1", Status: domain.DLQStatusPendingRetry}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := appendLine(path, "{not json"); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	if err := appendLine(path, `{"status":"pending_retry"}`); err != nil {
		t.Fatalf("append id-less line: %v", err)
	}

	entries, malformed, err := l.Fold()
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(entries) != 1 || malformed != 2 {
		t.Fatalf("entries=%d malformed=%d, want 1 and 2", len(entries), malformed)
	}
}

func TestLearningReadSinceCutoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), LearningFile)
	l := NewLearningLog(path)

	old := &domain.LearningEvent{
		LearningEventID: "ev-old",
		TS:              logTestNow.Add(-30 * 24 * time.Hour).Format(time.RFC3339),
		Domain:          "travel",
		Outcome:         domain.OutcomeAccepted,
	}
	fresh := &domain.LearningEvent{
		LearningEventID: "ev-fresh",
		TS:              logTestNow.Add(-time.Hour).Format(time.RFC3339),
		Domain:          "travel",
		Outcome:         domain.OutcomeCorrected,
	}
	for _, e := range []*domain.LearningEvent{old, fresh} {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := appendLine(path, "not json at all"); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	events, err := l.ReadSince(logTestNow.Add(-14 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(events) != 1 || events[0].LearningEventID != "ev-fresh" {
		t.Fatalf("events = %+v, want only the fresh one", events)
	}
}

func TestRuntimeStateDefaultsAndRoundtrip(t *testing.T) {
	s := NewRuntimeStateStore(filepath.Join(t.TempDir(), RuntimeStateFile))

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Version != 1 || st.SessionCursor != 0 {
		t.Fatalf("state = %+v, want zero state at version 1", st)
	}

	st.Target = "telegram"
	st.SessionCursor = 420
	st.ActivePromptID = "11111111-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	if err := s.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Target != "telegram" || again.SessionCursor != 420 || again.ActivePromptID != st.ActivePromptID {
		t.Fatalf("state = %+v", again)
	}
}
