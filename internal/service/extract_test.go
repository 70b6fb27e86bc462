package service

import (
	"context"
	"testing"
	"time"
)

func TestInferDomain(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Booked the flight to Denver for Friday", "travel"},
		{"My daughter's birthday is in March", "family"},
		{"The rent went up to 2400", "financial"},
		{"We cut the release for sprint 14", "project"},
		{"I am allergic to shellfish", "profile"},
		{"Parent-teacher conference moved to Thursday", "school"},
		{"Nothing in particular happened today", "general"},
	}
	for _, tc := range tests {
		if got := InferDomain(tc.text); got != tc.want {
			t.Errorf("InferDomain(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestRefineFamilyToSchool(t *testing.T) {
	if got := RefineFamilyToSchool("family", "The kids have a piano lesson Tuesday"); got != "school" {
		t.Errorf("refined = %s, want school", got)
	}
	if got := RefineFamilyToSchool("family", "Grandma visits on Sunday"); got != "family" {
		t.Errorf("refined = %s, want family", got)
	}
	// Only family refines; other domains pass through.
	if got := RefineFamilyToSchool("travel", "school trip to the coast"); got != "travel" {
		t.Errorf("refined = %s, want travel", got)
	}
}

func TestRuleClassifier(t *testing.T) {
	c := RuleClassifier{}
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"We are staying in Tahoe this weekend", "assertive"},
		{"We might maybe go if the weather holds", "hypothetical"},
		{"I'm planning to book the cabin next week", "planning"},
		{"We used to live in Portland years ago", "historical"},
		{"Forget the Tahoe trip, cancel that", "retract"},
	}
	for _, tc := range tests {
		if got := c.Classify(ctx, "travel", tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestExtractorDefaults(t *testing.T) {
	e := NewExtractor(RuleClassifier{})
	e.Now = func() time.Time { return testNow }

	o := e.Extract(context.Background(), "Booked the flight to Denver", ExtractOpts{EntityID: "user:primary"})
	if o.Domain != "travel" {
		t.Fatalf("domain = %s, want travel", o.Domain)
	}
	if o.Field != "travel.note" {
		t.Fatalf("field = %s, want travel.note", o.Field)
	}
	if o.Intent != "assertive" {
		t.Fatalf("intent = %s", o.Intent)
	}
	if o.Source.Type != "manual_cli" || o.Source.Ref != "manual:text" {
		t.Fatalf("source = %+v", o.Source)
	}
	if o.EventTS != testNow.Format(time.RFC3339) {
		t.Fatalf("event_ts = %s", o.EventTS)
	}
	if o.EventID == "" {
		t.Fatal("event id missing")
	}
}

func TestExtractorOverrides(t *testing.T) {
	e := NewExtractor(RuleClassifier{})
	e.Now = func() time.Time { return testNow }

	o := e.Extract(context.Background(), "Booked the flight to Denver", ExtractOpts{
		EntityID:      "user:primary",
		FieldOverride: "travel.current_assertion",
		SourceType:    "conversation_assertive",
		SourceRef:     "chat:telegram/42",
	})
	if o.Field != "travel.current_assertion" {
		t.Fatalf("field = %s", o.Field)
	}
	if o.Source.Type != "conversation_assertive" || o.Source.Ref != "chat:telegram/42" {
		t.Fatalf("source = %+v", o.Source)
	}
}

func TestExtractedObservationValidates(t *testing.T) {
	env := newTestEnv(t)
	e := NewExtractor(RuleClassifier{})
	e.Now = func() time.Time { return testNow }

	o := e.Extract(context.Background(), "Booked the flight to Denver", ExtractOpts{EntityID: "user:primary"})
	res, err := env.ingest.Ingest(context.Background(), o, IngestOpts{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status == StatusValidationFailed {
		t.Fatalf("extracted observation failed validation: %v", res.ValidationErrors)
	}
}
