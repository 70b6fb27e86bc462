package domain

import (
	"sort"
	"time"
)

const (
	DocumentVersion = 1

	// Bounded collections inside the canonical document.
	MaxProcessedEventIDs     = 5000
	MaxTentativeObservations = 1000
)

// Projection modes.
const (
	ProjectionModeZones        = "ast_zones"
	ProjectionModeLegacyString = "legacy_string"
)

// Adaptive learner modes.
const (
	AdaptiveModeOff    = "off"
	AdaptiveModeShadow = "shadow"
	AdaptiveModeApply  = "apply"
)

// DomainConfig divides the confidence range into reject / ask / auto zones
// for one domain.
type DomainConfig struct {
	AskThreshold    float64 `json:"ask_threshold"`
	AutoThreshold   float64 `json:"auto_threshold"`
	MarginThreshold float64 `json:"margin_threshold"`
}

// DomainDefaults is the initial per-domain threshold table. Financial facts
// carry the strictest auto band; general chatter the loosest.
func DomainDefaults() map[string]DomainConfig {
	return map[string]DomainConfig{
		string(DomainTravel):    {AskThreshold: 0.60, AutoThreshold: 0.90, MarginThreshold: 0.15},
		string(DomainFamily):    {AskThreshold: 0.60, AutoThreshold: 0.90, MarginThreshold: 0.15},
		string(DomainProject):   {AskThreshold: 0.58, AutoThreshold: 0.88, MarginThreshold: 0.12},
		string(DomainFinancial): {AskThreshold: 0.70, AutoThreshold: 0.95, MarginThreshold: 0.20},
		string(DomainProfile):   {AskThreshold: 0.60, AutoThreshold: 0.90, MarginThreshold: 0.15},
		string(DomainSchool):    {AskThreshold: 0.62, AutoThreshold: 0.90, MarginThreshold: 0.15},
		string(DomainGeneral):   {AskThreshold: 0.55, AutoThreshold: 0.85, MarginThreshold: 0.10},
	}
}

// AdaptiveConfig holds the threshold learner's tunables and run bookkeeping.
type AdaptiveConfig struct {
	Mode                 string  `json:"mode"`
	MinSamples           int     `json:"min_samples"`
	LookbackDays         int     `json:"lookback_days"`
	MaxDailyStep         float64 `json:"max_daily_step"`
	TargetCorrectionRate float64 `json:"target_correction_rate"`
	LowConfirmationRate  float64 `json:"low_confirmation_rate"`
	HighConfirmationRate float64 `json:"high_confirmation_rate"`
	MinIntervalHours     float64 `json:"min_interval_hours"`
	LastRunAt            string  `json:"last_run_at,omitempty"`
}

func AdaptiveDefaults() AdaptiveConfig {
	return AdaptiveConfig{
		Mode:                 AdaptiveModeOff,
		MinSamples:           12,
		LookbackDays:         14,
		MaxDailyStep:         0.02,
		TargetCorrectionRate: 0.08,
		LowConfirmationRate:  0.55,
		HighConfirmationRate: 0.85,
		MinIntervalHours:     20,
	}
}

// RuntimeConfig is machine-owned runtime state inside the canonical document.
type RuntimeConfig struct {
	ProjectionMode          string            `json:"projection_mode"`
	AdaptiveLearningEnabled bool              `json:"adaptive_learning_enabled"`
	AdaptiveLearning        AdaptiveConfig    `json:"adaptive_learning"`
	ProjectionHashes        map[string]string `json:"projection_hashes"`
	LastPollAt              string            `json:"last_poll_at,omitempty"`
	LastReviewQueueAt       string            `json:"last_review_queue_at,omitempty"`
}

// StateRecord is one committed fact, keyed by (entity_id, domain, field).
type StateRecord struct {
	Value      any     `json:"value"`
	LastUpdate string  `json:"last_update"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	EventID    string  `json:"event_id"`
}

// EntityState holds all committed records for one entity: domain -> field -> record.
type EntityState struct {
	State map[string]map[string]StateRecord `json:"state"`
}

// LearningStats are monotonic decision counters.
type LearningStats struct {
	AutoCommits          int `json:"auto_commits"`
	AskUserConfirmations int `json:"ask_user_confirmations"`
	UserConfirms         int `json:"user_confirms"`
	UserRejects          int `json:"user_rejects"`
	UserEdits            int `json:"user_edits"`
	TentativeRejects     int `json:"tentative_rejects"`
	DuplicateEvents      int `json:"duplicate_events"`
}

// Document is the single canonical machine-owned view of committed facts,
// pending prompts, tentatives and runtime config. Single-writer; persisted
// only via atomic replace.
type Document struct {
	Version               int                      `json:"version"`
	LastConsistencyCheck  string                   `json:"last_consistency_check"`
	Runtime               RuntimeConfig            `json:"runtime"`
	Domains               map[string]DomainConfig  `json:"domains"`
	SourceReliability     map[string]float64       `json:"source_reliability"`
	Entities              map[string]*EntityState  `json:"entities"`
	TentativeObservations []TentativeObservation   `json:"tentative_observations"`
	ActiveConflicts       []any                    `json:"active_conflicts"`
	PendingConfirmations  map[string]PendingPrompt `json:"pending_confirmations"`
	ProcessedEventIDs     []string                 `json:"processed_event_ids"`
	LearningStats         LearningStats            `json:"learning_stats"`
}

// NewDocument builds the bootstrap document with all defaults.
func NewDocument() *Document {
	return &Document{
		Version:              DocumentVersion,
		LastConsistencyCheck: time.Now().UTC().Format(time.RFC3339),
		Runtime: RuntimeConfig{
			ProjectionMode:   ProjectionModeLegacyString,
			AdaptiveLearning: AdaptiveDefaults(),
			ProjectionHashes: map[string]string{},
		},
		Domains:               DomainDefaults(),
		SourceReliability:     SourceReliabilityDefaults(),
		Entities:              map[string]*EntityState{},
		TentativeObservations: []TentativeObservation{},
		ActiveConflicts:       []any{},
		PendingConfirmations:  map[string]PendingPrompt{},
		ProcessedEventIDs:     []string{},
	}
}

// Reliability looks up a source type, defaulting unknown types to 0.5.
func (d *Document) Reliability(sourceType string) float64 {
	if r, ok := d.SourceReliability[sourceType]; ok {
		return r
	}
	return UnknownSourceReliability
}

// DomainConfigFor returns the threshold config for a domain, falling back to
// the general defaults if the document predates the domain.
func (d *Document) DomainConfigFor(domain string) DomainConfig {
	if c, ok := d.Domains[domain]; ok {
		return c
	}
	return DomainDefaults()[string(DomainGeneral)]
}

// Record returns the committed record for (entity, domain, field), if any.
func (d *Document) Record(entityID, domain, field string) (StateRecord, bool) {
	ent, ok := d.Entities[entityID]
	if !ok || ent.State == nil {
		return StateRecord{}, false
	}
	fields, ok := ent.State[domain]
	if !ok {
		return StateRecord{}, false
	}
	rec, ok := fields[field]
	return rec, ok
}

// SetRecord writes the committed record for (entity, domain, field).
func (d *Document) SetRecord(entityID, domain, field string, rec StateRecord) {
	if d.Entities == nil {
		d.Entities = map[string]*EntityState{}
	}
	ent, ok := d.Entities[entityID]
	if !ok {
		ent = &EntityState{State: map[string]map[string]StateRecord{}}
		d.Entities[entityID] = ent
	}
	if ent.State == nil {
		ent.State = map[string]map[string]StateRecord{}
	}
	if ent.State[domain] == nil {
		ent.State[domain] = map[string]StateRecord{}
	}
	ent.State[domain][field] = rec
}

// DeleteRecord removes the committed record for (entity, domain, field),
// pruning empty maps so retraction leaves no residue.
func (d *Document) DeleteRecord(entityID, domain, field string) {
	ent, ok := d.Entities[entityID]
	if !ok || ent.State == nil {
		return
	}
	fields, ok := ent.State[domain]
	if !ok {
		return
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(ent.State, domain)
	}
	if len(ent.State) == 0 {
		delete(d.Entities, entityID)
	}
}

// HasProcessed reports whether an event id was already ingested.
func (d *Document) HasProcessed(eventID string) bool {
	for _, id := range d.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkProcessed appends an event id, evicting the oldest beyond the cap.
func (d *Document) MarkProcessed(eventID string) {
	d.ProcessedEventIDs = append(d.ProcessedEventIDs, eventID)
	if over := len(d.ProcessedEventIDs) - MaxProcessedEventIDs; over > 0 {
		d.ProcessedEventIDs = append([]string(nil), d.ProcessedEventIDs[over:]...)
	}
}

// PushTentative stashes a tentative observation, evicting the oldest beyond
// the cap.
func (d *Document) PushTentative(t TentativeObservation) {
	d.TentativeObservations = append(d.TentativeObservations, t)
	if over := len(d.TentativeObservations) - MaxTentativeObservations; over > 0 {
		d.TentativeObservations = append([]TentativeObservation(nil), d.TentativeObservations[over:]...)
	}
}

// RecordRef is a committed record together with its key, for projection and
// context injection.
type RecordRef struct {
	EntityID string
	Domain   string
	Field    string
	Record   StateRecord
}

// SortedRecords enumerates committed records sorted by entity id, then
// domain, then field.
func (d *Document) SortedRecords() []RecordRef {
	var out []RecordRef
	for entityID, ent := range d.Entities {
		if ent == nil {
			continue
		}
		for domain, fields := range ent.State {
			for field, rec := range fields {
				out = append(out, RecordRef{EntityID: entityID, Domain: domain, Field: field, Record: rec})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// SortedPending returns pending prompts ordered by created_at, then prompt id
// for stability. This ordering is what the confirmation worker dispatches in.
func (d *Document) SortedPending() []PendingPrompt {
	out := make([]PendingPrompt, 0, len(d.PendingConfirmations))
	for _, p := range d.PendingConfirmations {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].PromptID < out[j].PromptID
	})
	return out
}

// PendingForEntity filters pending prompts by entity, keeping dispatch order.
func (d *Document) PendingForEntity(entityID string) []PendingPrompt {
	var out []PendingPrompt
	for _, p := range d.SortedPending() {
		if entityID == "" || p.EntityID == entityID {
			out = append(out, p)
		}
	}
	return out
}

// Touch stamps the consistency-check time; every persisted mutation calls it.
func (d *Document) Touch(now time.Time) {
	d.LastConsistencyCheck = now.UTC().Format(time.RFC3339)
}
