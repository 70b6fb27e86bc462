package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"go.uber.org/zap"
)

// IngestOpts tweak a single ingest call.
type IngestOpts struct {
	ForceCommit bool
}

// IngestResult is the structured outcome of one observation.
type IngestResult struct {
	Status           string                `json:"status"`
	EventID          string                `json:"event_id,omitempty"`
	Confidence       float64               `json:"confidence,omitempty"`
	Margin           float64               `json:"margin,omitempty"`
	Reasons          []string              `json:"reasons,omitempty"`
	Prompt           *domain.PendingPrompt `json:"prompt,omitempty"`
	DLQID            string                `json:"dlq_id,omitempty"`
	ValidationErrors []string              `json:"validation_errors,omitempty"`
}

// IngestService drives an observation through validate -> dedupe -> resolve
// -> apply, emitting one audit line per decision. Idempotent via the
// processed-event set.
type IngestService struct {
	docs      domain.DocumentStore
	audit     domain.AuditLog
	dlq       domain.DLQLog
	validator *schema.Validator
	resolver  *Resolver
	logger    *zap.Logger

	Now func() time.Time
}

func NewIngestService(docs domain.DocumentStore, audit domain.AuditLog, dlq domain.DLQLog, validator *schema.Validator, resolver *Resolver, logger *zap.Logger) *IngestService {
	return &IngestService{
		docs:      docs,
		audit:     audit,
		dlq:       dlq,
		validator: validator,
		resolver:  resolver,
		logger:    logger,
		Now:       time.Now,
	}
}

// Ingest routes one observation. The returned error is infrastructural
// (storage failure); every policy outcome is a status.
func (s *IngestService) Ingest(ctx context.Context, o *domain.StateObservation, opts IngestOpts) (*IngestResult, error) {
	errs, payload, err := s.validator.ValidateValue(schema.Observation, o)
	if err != nil {
		return nil, err
	}
	if errs != nil {
		entry, qerr := quarantine(s.dlq, s.Now(), schema.Observation, payload, errs)
		if qerr != nil {
			return nil, qerr
		}
		s.logger.Warn("observation failed validation",
			zap.String("event_id", o.EventID),
			zap.String("dlq_id", entry.DLQID),
			zap.Strings("errors", errs))
		return &IngestResult{Status: StatusValidationFailed, EventID: o.EventID, DLQID: entry.DLQID, ValidationErrors: errs}, nil
	}

	s.docs.Lock()
	defer s.docs.Unlock()

	doc, err := s.docs.Load()
	if err != nil {
		return nil, err
	}

	if doc.HasProcessed(o.EventID) {
		doc.LearningStats.DuplicateEvents++
		doc.Touch(s.Now())
		if err := s.docs.Save(doc); err != nil {
			return nil, err
		}
		return &IngestResult{Status: StatusDuplicate, EventID: o.EventID}, nil
	}

	// First write after validation: a replay of the same event id can never
	// produce a second prompt or commit.
	doc.MarkProcessed(o.EventID)

	res := s.resolver.Resolve(doc, o, opts.ForceCommit)
	key := fmt.Sprintf("%s/%s.%s", o.EntityID, o.Domain, o.StoredField())
	now := s.Now()

	result := &IngestResult{
		EventID:    o.EventID,
		Confidence: res.Confidence,
		Margin:     res.Margin,
		Reasons:    res.Reasons,
	}

	var auditLine string
	switch res.Decision {
	case DecisionAutoCommit:
		applyCommit(doc, o, res.Confidence, now)
		doc.LearningStats.AutoCommits++
		result.Status = StatusCommitted
		auditLine = fmt.Sprintf("%s | decision=auto_commit | %s | value=%s | confidence=%.3f | source=%s",
			o.EventID, key, domain.DisplayValue(o.CandidateValue), res.Confidence, o.Source.Type)

	case DecisionAskUser:
		prompt := domain.PendingPrompt{
			PromptID:         uuid.NewString(),
			EntityID:         o.EntityID,
			Domain:           o.Domain,
			ProposedChange:   fmt.Sprintf("%s -> %s", o.Field, domain.DisplayValue(o.CandidateValue)),
			Confidence:       res.Confidence,
			ReasonSummary:    firstN(res.Reasons, 5),
			Action:           string(domain.ActionConfirm),
			ObservationEvent: *o,
			Source:           o.Source,
			CreatedAt:        now.UTC().Format(time.RFC3339),
		}
		doc.PendingConfirmations[prompt.PromptID] = prompt
		result.Status = StatusPendingConfirmation
		result.Prompt = &prompt
		auditLine = fmt.Sprintf("%s | decision=ask_user | prompt_id=%s | %s | value=%s | confidence=%.3f | source=%s",
			o.EventID, prompt.PromptID, key, domain.DisplayValue(o.CandidateValue), res.Confidence, o.Source.Type)

	case DecisionTentativeReject:
		doc.PushTentative(domain.TentativeObservation{
			StateObservation: *o,
			ObservedAt:       now.UTC().Format(time.RFC3339),
			Confidence:       res.Confidence,
			Reasons:          res.Reasons,
		})
		doc.LearningStats.TentativeRejects++
		result.Status = StatusTentative
		auditLine = fmt.Sprintf("%s | decision=tentative_reject | %s | confidence=%.3f | source=%s",
			o.EventID, key, res.Confidence, o.Source.Type)
	}

	doc.Touch(now)
	if err := s.docs.Save(doc); err != nil {
		return nil, err
	}
	if err := s.audit.Append(auditLine); err != nil {
		return nil, err
	}

	s.logger.Info("observation ingested",
		zap.String("event_id", o.EventID),
		zap.String("status", result.Status),
		zap.String("key", key),
		zap.Float64("confidence", res.Confidence))
	return result, nil
}
