package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
)

// domainKeywords is the fixed matcher for free-text domain inference; checked
// in order, first hit wins, general is the fallback.
var domainKeywords = []struct {
	domain   domain.Domain
	keywords []string
}{
	{domain.DomainTravel, []string{
		"trip", "flight", "travel", "hotel", "airport", "vacation",
		"itinerary", "airbnb", "passport", "drive to", "leave for",
	}},
	{domain.DomainFamily, []string{
		"family", "kid", "kids", "son", "daughter", "wife", "husband",
		"mom", "dad", "grandma", "grandpa", "birthday", "anniversary",
	}},
	{domain.DomainFinancial, []string{
		"pay", "paid", "invoice", "budget", "bank", "rent", "mortgage",
		"tax", "salary", "cost", "bill", "subscription", "refund",
	}},
	{domain.DomainProject, []string{
		"project", "deploy", "release", "sprint", "deadline", "repo",
		"launch", "milestone", "ticket", "standup",
	}},
	{domain.DomainProfile, []string{
		"my name", "i am allergic", "allerg", "prefer", "favorite",
		"timezone", "time zone", "my address", "my email", "my phone",
	}},
	{domain.DomainSchool, []string{
		"school", "class", "teacher", "homework", "lesson", "semester",
		"exam", "tuition", "pta", "recital",
	}},
}

// schoolRefinement keywords lift family-domain signals into school.
var schoolRefinement = []string{"school", "class", "lesson", "teacher", "homework"}

// InferDomain maps free text onto a fact domain with the fixed keyword
// matcher.
func InferDomain(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return string(entry.domain)
			}
		}
	}
	return string(domain.DomainGeneral)
}

// RefineFamilyToSchool narrows family to school when school-ish keywords
// appear in the source text.
func RefineFamilyToSchool(d, text string) string {
	if d != string(domain.DomainFamily) {
		return d
	}
	lower := strings.ToLower(text)
	for _, kw := range schoolRefinement {
		if strings.Contains(lower, kw) {
			return string(domain.DomainSchool)
		}
	}
	return d
}

// ExtractOpts shape a free-text extraction.
type ExtractOpts struct {
	EntityID      string
	FieldOverride string
	SourceType    string
	SourceRef     string
	EventTS       string
}

// Extractor turns free-form utterances into observations: inferred domain,
// classified intent, "<domain>.note" field unless overridden.
type Extractor struct {
	classifier IntentClassifier
	Now        func() time.Time
}

func NewExtractor(classifier IntentClassifier) *Extractor {
	return &Extractor{classifier: classifier, Now: time.Now}
}

func (e *Extractor) Extract(ctx context.Context, text string, opts ExtractOpts) *domain.StateObservation {
	d := InferDomain(text)
	intent := e.classifier.Classify(ctx, d, text)

	field := opts.FieldOverride
	if field == "" {
		field = d + ".note"
	}
	eventTS := opts.EventTS
	if eventTS == "" {
		eventTS = e.Now().UTC().Format(time.RFC3339)
	}
	sourceType := opts.SourceType
	if sourceType == "" {
		sourceType = string(domain.SourceManualCLI)
	}
	sourceRef := opts.SourceRef
	if sourceRef == "" {
		sourceRef = "manual:text"
	}

	return &domain.StateObservation{
		EventID:        uuid.NewString(),
		EventTS:        eventTS,
		Domain:         d,
		EntityID:       opts.EntityID,
		Field:          field,
		CandidateValue: text,
		Intent:         intent,
		Source:         domain.SourceRef{Type: sourceType, Ref: sourceRef},
	}
}
