package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"go.uber.org/zap"
)

// ConfirmResult is the structured outcome of applying a user decision.
type ConfirmResult struct {
	Status           string   `json:"status"`
	PromptID         string   `json:"prompt_id,omitempty"`
	EventID          string   `json:"event_id,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	DLQID            string   `json:"dlq_id,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// ConfirmService owns the pending-prompt lifecycle: applying user decisions
// and promoting tentatives into the review queue under the pending cap.
type ConfirmService struct {
	docs      domain.DocumentStore
	audit     domain.AuditLog
	dlq       domain.DLQLog
	learning  domain.LearningLog
	validator *schema.Validator
	resolver  *Resolver
	logger    *zap.Logger

	Now func() time.Time
}

func NewConfirmService(docs domain.DocumentStore, audit domain.AuditLog, dlq domain.DLQLog, learning domain.LearningLog, validator *schema.Validator, resolver *Resolver, logger *zap.Logger) *ConfirmService {
	return &ConfirmService{
		docs:      docs,
		audit:     audit,
		dlq:       dlq,
		learning:  learning,
		validator: validator,
		resolver:  resolver,
		logger:    logger,
		Now:       time.Now,
	}
}

// ApplyConfirmation resolves one pending prompt with a user decision. A
// confirm or edit synthesizes a fresh observation (new event id, assertive
// intent, user_confirmation source) and commits it directly.
func (s *ConfirmService) ApplyConfirmation(ctx context.Context, c *domain.UserConfirmation) (*ConfirmResult, error) {
	errs, payload, err := s.validator.ValidateValue(schema.Confirmation, c)
	if err != nil {
		return nil, err
	}
	if errs != nil {
		entry, qerr := quarantine(s.dlq, s.Now(), schema.Confirmation, payload, errs)
		if qerr != nil {
			return nil, qerr
		}
		s.logger.Warn("confirmation failed validation",
			zap.String("prompt_id", c.PromptID),
			zap.String("dlq_id", entry.DLQID),
			zap.Strings("errors", errs))
		return &ConfirmResult{Status: StatusValidationFailed, PromptID: c.PromptID, DLQID: entry.DLQID, ValidationErrors: errs}, nil
	}

	s.docs.Lock()
	defer s.docs.Unlock()

	doc, err := s.docs.Load()
	if err != nil {
		return nil, err
	}

	prompt, ok := doc.PendingConfirmations[c.PromptID]
	if !ok {
		return &ConfirmResult{Status: StatusNotFound, PromptID: c.PromptID}, nil
	}
	if prompt.EntityID != c.EntityID || prompt.Domain != c.Domain {
		return &ConfirmResult{Status: StatusMismatch, PromptID: c.PromptID}, nil
	}

	delete(doc.PendingConfirmations, c.PromptID)
	doc.LearningStats.AskUserConfirmations++
	now := s.Now()

	if domain.Action(c.Action) == domain.ActionReject {
		doc.LearningStats.UserRejects++
		doc.Touch(now)
		if err := s.docs.Save(doc); err != nil {
			return nil, err
		}
		if err := s.audit.Append(fmt.Sprintf("prompt=%s | action=reject | no state mutation", c.PromptID)); err != nil {
			return nil, err
		}
		s.appendLearningEvent(&prompt, string(domain.ActionReject), domain.OutcomeCorrected, now)
		return &ConfirmResult{Status: StatusRejected, PromptID: c.PromptID}, nil
	}

	// confirm or edit: a fresh event id breaks the idempotency tie with the
	// pending observation so the commit goes through.
	committed := prompt.ObservationEvent
	committed.EventID = uuid.NewString()
	committed.Intent = string(domain.IntentAssertive)
	committed.Source = domain.SourceRef{
		Type: string(domain.SourceUserConfirmation),
		Ref:  "prompt:" + c.PromptID,
	}
	committed.EventTS = c.TS
	if committed.EventTS == "" {
		committed.EventTS = now.UTC().Format(time.RFC3339)
	}
	outcome := domain.OutcomeAccepted
	if domain.Action(c.Action) == domain.ActionEdit {
		committed.CandidateValue = c.EditedValue
		outcome = domain.OutcomeCorrected
	}

	cerrs, cpayload, err := s.validator.ValidateValue(schema.Observation, &committed)
	if err != nil {
		return nil, err
	}
	if cerrs != nil {
		entry, qerr := quarantine(s.dlq, now, schema.Observation, cpayload, cerrs)
		if qerr != nil {
			return nil, qerr
		}
		doc.Touch(now)
		if err := s.docs.Save(doc); err != nil {
			return nil, err
		}
		return &ConfirmResult{Status: StatusValidationFailed, PromptID: c.PromptID, DLQID: entry.DLQID, ValidationErrors: cerrs}, nil
	}

	confidence, _ := s.resolver.Confidence(doc, &committed)
	doc.MarkProcessed(committed.EventID)
	applyCommit(doc, &committed, confidence, now)
	if domain.Action(c.Action) == domain.ActionEdit {
		doc.LearningStats.UserEdits++
	} else {
		doc.LearningStats.UserConfirms++
	}

	doc.Touch(now)
	if err := s.docs.Save(doc); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s.%s", committed.EntityID, committed.Domain, committed.StoredField())
	line := fmt.Sprintf("%s | decision=user_confirmation | prompt=%s | action=%s | %s | value=%s | confidence=%.3f",
		committed.EventID, c.PromptID, c.Action, key, domain.DisplayValue(committed.CandidateValue), confidence)
	if err := s.audit.Append(line); err != nil {
		return nil, err
	}
	s.appendLearningEvent(&prompt, c.Action, outcome, now)

	s.logger.Info("confirmation applied",
		zap.String("prompt_id", c.PromptID),
		zap.String("action", c.Action),
		zap.String("event_id", committed.EventID))
	return &ConfirmResult{Status: StatusCommitted, PromptID: c.PromptID, EventID: committed.EventID, Confidence: confidence}, nil
}

// BuildConfirmation synthesizes the confirmation payload for a chat decision
// on a prompt.
func BuildConfirmation(p *domain.PendingPrompt, action string, editedValue any, now time.Time) *domain.UserConfirmation {
	c := &domain.UserConfirmation{
		PromptID:       p.PromptID,
		EntityID:       p.EntityID,
		Domain:         p.Domain,
		ProposedChange: p.ProposedChange,
		Confidence:     p.Confidence,
		ReasonSummary:  p.ReasonSummary,
		Action:         action,
		TS:             now.UTC().Format(time.RFC3339),
	}
	if domain.Action(action) == domain.ActionEdit {
		c.EditedValue = editedValue
	}
	return c
}

// appendLearningEvent records one ask_user outcome; failures are logged and
// swallowed, learning must never block a confirmation.
func (s *ConfirmService) appendLearningEvent(prompt *domain.PendingPrompt, action, outcome string, now time.Time) {
	ev := &domain.LearningEvent{
		LearningEventID: uuid.NewString(),
		TS:              now.UTC().Format(time.RFC3339),
		EntityID:        prompt.EntityID,
		Domain:          prompt.Domain,
		Field:           prompt.ObservationEvent.StoredField(),
		Decision:        DecisionAskUser,
		Action:          action,
		Outcome:         outcome,
		Confidence:      prompt.Confidence,
		Intent:          prompt.ObservationEvent.Intent,
		SourceType:      prompt.Source.Type,
		SourceRef:       prompt.Source.Ref,
		PromptID:        prompt.PromptID,
	}
	if err := s.learning.Append(ev); err != nil {
		s.logger.Warn("could not append learning event", zap.Error(err))
	}
}

// PromoteOpts shape one review-queue promotion run. MaxPending caps the
// pending count within the same entity/domain filter the run was given; an
// unfiltered run caps the global queue.
type PromoteOpts struct {
	EntityID      string
	Domain        string
	MinConfidence float64
	Limit         int
	MaxPending    int
}

// PromoteResult reports one promotion run.
type PromoteResult struct {
	PromotedCount int      `json:"promoted_count"`
	Reason        string   `json:"reason,omitempty"`
	PromptIDs     []string `json:"prompt_ids,omitempty"`
}

// PromoteReviewQueue lifts eligible tentatives into pending prompts, highest
// confidence first, oldest first on ties, without exceeding the pending cap.
func (s *ConfirmService) PromoteReviewQueue(ctx context.Context, opts PromoteOpts) (*PromoteResult, error) {
	s.docs.Lock()
	defer s.docs.Unlock()

	doc, err := s.docs.Load()
	if err != nil {
		return nil, err
	}

	matches := func(entityID, dom string) bool {
		if opts.EntityID != "" && entityID != opts.EntityID {
			return false
		}
		if opts.Domain != "" && dom != opts.Domain {
			return false
		}
		return true
	}

	currentPending := 0
	pendingEventIDs := map[string]bool{}
	for _, p := range doc.PendingConfirmations {
		pendingEventIDs[p.ObservationEvent.EventID] = true
		if matches(p.EntityID, p.Domain) {
			currentPending++
		}
	}

	remaining := opts.MaxPending - currentPending
	if remaining <= 0 {
		return &PromoteResult{PromotedCount: 0, Reason: "pending_limit_reached"}, nil
	}

	type candidate struct{ idx int }
	var eligible []candidate
	for i, t := range doc.TentativeObservations {
		if t.PromotedAt != "" {
			continue
		}
		if !matches(t.EntityID, t.Domain) {
			continue
		}
		if t.Confidence < opts.MinConfidence {
			continue
		}
		if pendingEventIDs[t.EventID] {
			continue
		}
		eligible = append(eligible, candidate{idx: i})
	}

	sort.SliceStable(eligible, func(a, b int) bool {
		ta, tb := doc.TentativeObservations[eligible[a].idx], doc.TentativeObservations[eligible[b].idx]
		if ta.Confidence != tb.Confidence {
			return ta.Confidence > tb.Confidence
		}
		return ta.ObservedAt < tb.ObservedAt
	})

	take := opts.Limit
	if take > remaining {
		take = remaining
	}
	if take > len(eligible) {
		take = len(eligible)
	}

	now := s.Now()
	result := &PromoteResult{}
	for _, c := range eligible[:take] {
		t := &doc.TentativeObservations[c.idx]
		prompt := domain.PendingPrompt{
			PromptID:         uuid.NewString(),
			EntityID:         t.EntityID,
			Domain:           t.Domain,
			ProposedChange:   fmt.Sprintf("%s -> %s", t.Field, domain.DisplayValue(t.CandidateValue)),
			Confidence:       t.Confidence,
			ReasonSummary:    firstN(t.Reasons, 5),
			Action:           string(domain.ActionConfirm),
			ObservationEvent: t.StateObservation,
			Source:           t.Source,
			CreatedAt:        now.UTC().Format(time.RFC3339),
		}
		doc.PendingConfirmations[prompt.PromptID] = prompt
		t.PromotedAt = now.UTC().Format(time.RFC3339)
		t.PromptID = prompt.PromptID
		result.PromotedCount++
		result.PromptIDs = append(result.PromptIDs, prompt.PromptID)
	}

	doc.Runtime.LastReviewQueueAt = now.UTC().Format(time.RFC3339)
	doc.Touch(now)
	if err := s.docs.Save(doc); err != nil {
		return nil, err
	}
	if result.PromotedCount > 0 {
		if err := s.audit.Append(fmt.Sprintf("review_queue | promoted=%d | pending=%d", result.PromotedCount, currentPending+result.PromotedCount)); err != nil {
			return nil, err
		}
	}

	s.logger.Info("review queue promoted",
		zap.Int("promoted", result.PromotedCount),
		zap.Int("pending_before", currentPending))
	return result, nil
}
