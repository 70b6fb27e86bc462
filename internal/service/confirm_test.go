package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
)

// pendingPrompt ingests a calendar observation that lands in the ask band and
// returns its prompt.
func pendingPrompt(t *testing.T, env *testEnv) *domain.PendingPrompt {
	t.Helper()
	o := validObs()
	o.Source = domain.SourceRef{Type: "calendar_poll", Ref: "cal:evt-1"}
	res, err := env.ingest.Ingest(context.Background(), o, IngestOpts{})
	if err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	if res.Status != StatusPendingConfirmation {
		t.Fatalf("seed status = %s, want pending_confirmation", res.Status)
	}
	return res.Prompt
}

func TestApplyConfirmationConfirm(t *testing.T) {
	env := newTestEnv(t)
	prompt := pendingPrompt(t, env)

	res, err := env.confirm.ApplyConfirmation(context.Background(), &domain.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: prompt.EntityID,
		Domain:   prompt.Domain,
		Action:   "confirm",
		TS:       testNow.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("status = %s, want committed", res.Status)
	}
	if res.EventID == prompt.ObservationEvent.EventID {
		t.Fatal("confirmation must commit under a fresh event id")
	}

	doc := env.loadDoc(t)
	rec, ok := doc.Record("user:primary", "travel", "destination")
	if !ok {
		t.Fatal("record missing after confirm")
	}
	if rec.Source != "user_confirmation" {
		t.Fatalf("source = %s, want user_confirmation", rec.Source)
	}
	// user_confirmation reliability 0.98, assertive, fresh.
	if rec.Confidence != 0.98 {
		t.Fatalf("confidence = %.3f, want 0.98", rec.Confidence)
	}
	if len(doc.PendingConfirmations) != 0 {
		t.Fatal("prompt not removed")
	}
	if doc.LearningStats.UserConfirms != 1 || doc.LearningStats.AskUserConfirmations != 1 {
		t.Fatalf("stats = %+v", doc.LearningStats)
	}

	events, err := env.learning.ReadSince(testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(events) != 1 || events[0].Outcome != domain.OutcomeAccepted {
		t.Fatalf("learning events = %+v", events)
	}
}

func TestApplyConfirmationEdit(t *testing.T) {
	env := newTestEnv(t)
	prompt := pendingPrompt(t, env)

	res, err := env.confirm.ApplyConfirmation(context.Background(), &domain.UserConfirmation{
		PromptID:    prompt.PromptID,
		EntityID:    prompt.EntityID,
		Domain:      prompt.Domain,
		Action:      "edit",
		EditedValue: "Lake Tahoe, North Shore",
		TS:          testNow.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("status = %s, want committed", res.Status)
	}

	doc := env.loadDoc(t)
	rec, _ := doc.Record("user:primary", "travel", "destination")
	if rec.Value != "Lake Tahoe, North Shore" {
		t.Fatalf("value = %v, want edited value", rec.Value)
	}
	if doc.LearningStats.UserEdits != 1 {
		t.Fatalf("user_edits = %d, want 1", doc.LearningStats.UserEdits)
	}

	events, _ := env.learning.ReadSince(testNow.Add(-time.Hour))
	if len(events) != 1 || events[0].Outcome != domain.OutcomeCorrected {
		t.Fatalf("learning events = %+v", events)
	}
}

func TestApplyConfirmationReject(t *testing.T) {
	env := newTestEnv(t)
	prompt := pendingPrompt(t, env)

	res, err := env.confirm.ApplyConfirmation(context.Background(), &domain.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: prompt.EntityID,
		Domain:   prompt.Domain,
		Action:   "reject",
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", res.Status)
	}

	doc := env.loadDoc(t)
	if _, ok := doc.Record("user:primary", "travel", "destination"); ok {
		t.Fatal("reject must not mutate state")
	}
	if doc.LearningStats.UserRejects != 1 {
		t.Fatalf("user_rejects = %d, want 1", doc.LearningStats.UserRejects)
	}

	lines, _ := env.audit.Tail(10)
	found := false
	for _, l := range lines {
		if strings.Contains(l, "action=reject | no state mutation") {
			found = true
		}
	}
	if !found {
		t.Fatalf("audit missing reject line: %v", lines)
	}
}

func TestApplyConfirmationNotFoundAndMismatch(t *testing.T) {
	env := newTestEnv(t)
	prompt := pendingPrompt(t, env)

	res, err := env.confirm.ApplyConfirmation(context.Background(), &domain.UserConfirmation{
		PromptID: "0b8ee1cc-0000-4000-8000-000000000000",
		EntityID: "user:primary",
		Domain:   "travel",
		Action:   "confirm",
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != StatusNotFound {
		t.Fatalf("status = %s, want not_found", res.Status)
	}

	res, err = env.confirm.ApplyConfirmation(context.Background(), &domain.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: "user:someone-else",
		Domain:   prompt.Domain,
		Action:   "confirm",
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != StatusMismatch {
		t.Fatalf("status = %s, want mismatch", res.Status)
	}

	// The mismatched decision must leave the prompt pending.
	doc := env.loadDoc(t)
	if _, ok := doc.PendingConfirmations[prompt.PromptID]; !ok {
		t.Fatal("mismatch removed the prompt")
	}
}

func TestApplyConfirmationEditWithoutValueQuarantines(t *testing.T) {
	env := newTestEnv(t)
	prompt := pendingPrompt(t, env)

	res, err := env.confirm.ApplyConfirmation(context.Background(), &domain.UserConfirmation{
		PromptID: prompt.PromptID,
		EntityID: prompt.EntityID,
		Domain:   prompt.Domain,
		Action:   "edit", // edited_value missing
	})
	if err != nil {
		t.Fatalf("ApplyConfirmation: %v", err)
	}
	if res.Status != StatusValidationFailed {
		t.Fatalf("status = %s, want validation_failed", res.Status)
	}
	if res.DLQID == "" {
		t.Fatal("expected a dlq entry")
	}
}

func TestPromoteReviewQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Three planning observations on distinct fields land as tentatives with
	// confidence 0.540.
	for _, field := range []string{"travel.destination", "travel.dates", "travel.lodging"} {
		o := validObs()
		o.Field = field
		o.Source = domain.SourceRef{Type: "conversation_planning", Ref: "chat:1"}
		o.Intent = "planning"
		if _, err := env.ingest.Ingest(ctx, o, IngestOpts{}); err != nil {
			t.Fatalf("seed ingest: %v", err)
		}
	}

	res, err := env.confirm.PromoteReviewQueue(ctx, PromoteOpts{
		MinConfidence: 0.45,
		Limit:         2,
		MaxPending:    10,
	})
	if err != nil {
		t.Fatalf("PromoteReviewQueue: %v", err)
	}
	if res.PromotedCount != 2 {
		t.Fatalf("promoted = %d, want 2 (limit)", res.PromotedCount)
	}

	doc := env.loadDoc(t)
	if len(doc.PendingConfirmations) != 2 {
		t.Fatalf("pending = %d, want 2", len(doc.PendingConfirmations))
	}
	promoted := 0
	for _, tent := range doc.TentativeObservations {
		if tent.PromotedAt != "" {
			promoted++
			if tent.PromptID == "" {
				t.Fatal("promoted tentative missing prompt id")
			}
		}
	}
	if promoted != 2 {
		t.Fatalf("promoted tentatives = %d, want 2", promoted)
	}

	// A second run only lifts the remaining one, and never re-promotes.
	res, err = env.confirm.PromoteReviewQueue(ctx, PromoteOpts{
		MinConfidence: 0.45,
		Limit:         5,
		MaxPending:    10,
	})
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if res.PromotedCount != 1 {
		t.Fatalf("second promoted = %d, want 1", res.PromotedCount)
	}
}

func TestPromoteRespectsPendingCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pendingPrompt(t, env) // one prompt already queued

	o := validObs()
	o.Field = "travel.dates"
	o.Source = domain.SourceRef{Type: "conversation_planning", Ref: "chat:1"}
	o.Intent = "planning"
	if _, err := env.ingest.Ingest(ctx, o, IngestOpts{}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	res, err := env.confirm.PromoteReviewQueue(ctx, PromoteOpts{
		MinConfidence: 0.45,
		Limit:         5,
		MaxPending:    1,
	})
	if err != nil {
		t.Fatalf("PromoteReviewQueue: %v", err)
	}
	if res.PromotedCount != 0 || res.Reason != "pending_limit_reached" {
		t.Fatalf("result = %+v, want pending_limit_reached", res)
	}
}
