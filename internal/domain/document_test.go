package domain

import (
	"fmt"
	"testing"
)

func TestSetAndDeleteRecordPrunes(t *testing.T) {
	d := NewDocument()
	d.SetRecord("user:primary", "travel", "destination", StateRecord{Value: "Tahoe", EventID: "evt-1"})
	d.SetRecord("user:primary", "travel", "dates", StateRecord{Value: "Sept", EventID: "evt-2"})

	if rec, ok := d.Record("user:primary", "travel", "destination"); !ok || rec.Value != "Tahoe" {
		t.Fatalf("record = %+v ok=%v", rec, ok)
	}

	d.DeleteRecord("user:primary", "travel", "destination")
	if _, ok := d.Record("user:primary", "travel", "destination"); ok {
		t.Fatal("record survived deletion")
	}
	if _, ok := d.Entities["user:primary"]; !ok {
		t.Fatal("entity with remaining fields was pruned")
	}

	d.DeleteRecord("user:primary", "travel", "dates")
	if _, ok := d.Entities["user:primary"]; ok {
		t.Fatal("empty entity map must be pruned")
	}

	// Deleting what does not exist is a no-op.
	d.DeleteRecord("user:ghost", "travel", "destination")
}

func TestMarkProcessedEvictsOldest(t *testing.T) {
	d := NewDocument()
	for i := 0; i < MaxProcessedEventIDs+10; i++ {
		d.MarkProcessed(fmt.Sprintf("evt-%d", i))
	}
	if len(d.ProcessedEventIDs) != MaxProcessedEventIDs {
		t.Fatalf("len = %d, want cap %d", len(d.ProcessedEventIDs), MaxProcessedEventIDs)
	}
	if d.HasProcessed("evt-0") {
		t.Fatal("oldest id should have been evicted")
	}
	if !d.HasProcessed(fmt.Sprintf("evt-%d", MaxProcessedEventIDs+9)) {
		t.Fatal("newest id missing")
	}
}

func TestPushTentativeEvictsOldest(t *testing.T) {
	d := NewDocument()
	for i := 0; i < MaxTentativeObservations+5; i++ {
		d.PushTentative(TentativeObservation{StateObservation: StateObservation{EventID: fmt.Sprintf("evt-%d", i)}})
	}
	if len(d.TentativeObservations) != MaxTentativeObservations {
		t.Fatalf("len = %d, want cap %d", len(d.TentativeObservations), MaxTentativeObservations)
	}
	if d.TentativeObservations[0].EventID != "evt-5" {
		t.Fatalf("oldest kept = %s, want evt-5", d.TentativeObservations[0].EventID)
	}
}

func TestSortedRecordsOrdering(t *testing.T) {
	d := NewDocument()
	d.SetRecord("user:zed", "travel", "destination", StateRecord{EventID: "e1"})
	d.SetRecord("user:abe", "travel", "destination", StateRecord{EventID: "e2"})
	d.SetRecord("user:abe", "financial", "rent", StateRecord{EventID: "e3"})
	d.SetRecord("user:abe", "travel", "dates", StateRecord{EventID: "e4"})

	recs := d.SortedRecords()
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.EntityID + "/" + r.Domain + "/" + r.Field
	}
	want := []string{
		"user:abe/financial/rent",
		"user:abe/travel/dates",
		"user:abe/travel/destination",
		"user:zed/travel/destination",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortedPendingOrdering(t *testing.T) {
	d := NewDocument()
	d.PendingConfirmations["b-prompt"] = PendingPrompt{PromptID: "b-prompt", CreatedAt: "2026-08-24T10:00:00Z"}
	d.PendingConfirmations["a-prompt"] = PendingPrompt{PromptID: "a-prompt", CreatedAt: "2026-08-24T11:00:00Z"}
	d.PendingConfirmations["c-prompt"] = PendingPrompt{PromptID: "c-prompt", CreatedAt: "2026-08-24T10:00:00Z"}

	out := d.SortedPending()
	if out[0].PromptID != "b-prompt" || out[1].PromptID != "c-prompt" || out[2].PromptID != "a-prompt" {
		t.Fatalf("order = %s, %s, %s", out[0].PromptID, out[1].PromptID, out[2].PromptID)
	}
}

func TestDomainConfigFallsBackToGeneral(t *testing.T) {
	d := NewDocument()
	cfg := d.DomainConfigFor("astrology")
	if cfg != DomainDefaults()[string(DomainGeneral)] {
		t.Fatalf("config = %+v, want general defaults", cfg)
	}
}
