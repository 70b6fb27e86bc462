package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Domain is the closed set of fact domains a field can belong to.
type Domain string

const (
	DomainTravel    Domain = "travel"
	DomainFamily    Domain = "family"
	DomainProject   Domain = "project"
	DomainFinancial Domain = "financial"
	DomainProfile   Domain = "profile"
	DomainSchool    Domain = "school"
	DomainGeneral   Domain = "general"
)

// Domains lists every valid domain in stable order.
var Domains = []Domain{
	DomainTravel, DomainFamily, DomainProject, DomainFinancial,
	DomainProfile, DomainSchool, DomainGeneral,
}

func ValidDomain(d string) bool {
	for _, known := range Domains {
		if Domain(d) == known {
			return true
		}
	}
	return false
}

// Intent classifies how strongly an utterance asserts its candidate value.
type Intent string

const (
	IntentAssertive    Intent = "assertive"
	IntentPlanning     Intent = "planning"
	IntentHypothetical Intent = "hypothetical"
	IntentHistorical   Intent = "historical"
	IntentRetract      Intent = "retract"
)

func ValidIntent(i string) bool {
	switch Intent(i) {
	case IntentAssertive, IntentPlanning, IntentHypothetical, IntentHistorical, IntentRetract:
		return true
	}
	return false
}

// IntentFactor scales confidence by how assertive the utterance was.
func (i Intent) Factor() float64 {
	switch i {
	case IntentAssertive:
		return 1.00
	case IntentRetract:
		return 0.95
	case IntentPlanning:
		return 0.72
	case IntentHistorical:
		return 0.68
	case IntentHypothetical:
		return 0.45
	default:
		return 0.45
	}
}

// SourceType is the closed set of observation origins.
type SourceType string

const (
	SourceConversationAssertive SourceType = "conversation_assertive"
	SourceConversationPlanning  SourceType = "conversation_planning"
	SourceCalendarPoll          SourceType = "calendar_poll"
	SourceCalendarWebhook       SourceType = "calendar_webhook"
	SourceEmailPoll             SourceType = "email_poll"
	SourceEmailWebhook          SourceType = "email_webhook"
	SourceStaticMarkdown        SourceType = "static_markdown"
	SourceDocumentImport        SourceType = "document_import"
	SourceUserConfirmation      SourceType = "user_confirmation"
	SourceManualCLI             SourceType = "manual_cli"
)

// SourceTypes lists every valid source type in stable order.
var SourceTypes = []SourceType{
	SourceConversationAssertive, SourceConversationPlanning,
	SourceCalendarPoll, SourceCalendarWebhook,
	SourceEmailPoll, SourceEmailWebhook,
	SourceStaticMarkdown, SourceDocumentImport,
	SourceUserConfirmation, SourceManualCLI,
}

// SourceReliabilityDefaults is the baseline reliability table. Unknown source
// types fall back to 0.5 at lookup time, not here.
func SourceReliabilityDefaults() map[string]float64 {
	return map[string]float64{
		string(SourceUserConfirmation):      0.98,
		string(SourceConversationAssertive): 0.95,
		string(SourceManualCLI):             0.95,
		string(SourceCalendarWebhook):       0.90,
		string(SourceCalendarPoll):          0.85,
		string(SourceEmailWebhook):          0.85,
		string(SourceEmailPoll):             0.80,
		string(SourceConversationPlanning):  0.75,
		string(SourceDocumentImport):        0.70,
		string(SourceStaticMarkdown):        0.60,
	}
}

// UnknownSourceReliability is applied when a source type has no table entry.
const UnknownSourceReliability = 0.5

// SourceRef identifies where an observation (or corroboration) came from.
type SourceRef struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

var entityIDPattern = regexp.MustCompile(`^(user|family|team):[a-z0-9._-]+$`)

// ValidEntityID reports whether id matches the entity scope grammar.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// StateObservation is a single inbound claim that a field has a candidate
// value. candidate_value == nil with intent == retract means "remove the
// field".
type StateObservation struct {
	EventID        string      `json:"event_id"`
	EventTS        string      `json:"event_ts"`
	Domain         string      `json:"domain"`
	EntityID       string      `json:"entity_id"`
	Field          string      `json:"field"`
	CandidateValue any         `json:"candidate_value"`
	Intent         string      `json:"intent"`
	Source         SourceRef   `json:"source"`
	Corroborators  []SourceRef `json:"corroborators,omitempty"`
}

// StoredField strips the "<domain>." prefix observations carry on the wire.
func (o *StateObservation) StoredField() string {
	return strings.TrimPrefix(o.Field, o.Domain+".")
}

// IsRetract reports whether the observation removes its field.
func (o *StateObservation) IsRetract() bool {
	return Intent(o.Intent) == IntentRetract && o.CandidateValue == nil
}

// DisplayValue renders a candidate value for prompts and audit lines. Strings
// pass through; everything else is JSON-encoded.
func DisplayValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// CanonicalJSON serializes v with object keys sorted at every level, so the
// same value always produces the same bytes. Used for content-derived ids.
func CanonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		eb, err := json.Marshal(t)
		if err != nil {
			eb, _ = json.Marshal(fmt.Sprintf("%v", t))
		}
		b.Write(eb)
	}
}
