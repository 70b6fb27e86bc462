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

// signalNamespace is the uuid5 namespace for content-derived event ids.
var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("statetracker/signal"))

// SignalResult aggregates the per-item ingest outcomes of one batch.
type SignalResult struct {
	Status           string         `json:"status"`
	SignalID         string         `json:"signal_id,omitempty"`
	Counters         map[string]int `json:"counters,omitempty"`
	DLQID            string         `json:"dlq_id,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
}

// SignalService explodes calendar/email batches into observations with
// stable content-derived event ids, so re-polling the same feed only ever
// produces duplicates.
type SignalService struct {
	docs      domain.DocumentStore
	dlq       domain.DLQLog
	validator *schema.Validator
	ingest    *IngestService
	logger    *zap.Logger

	Now func() time.Time
}

func NewSignalService(docs domain.DocumentStore, dlq domain.DLQLog, validator *schema.Validator, ingest *IngestService, logger *zap.Logger) *SignalService {
	return &SignalService{
		docs:      docs,
		dlq:       dlq,
		validator: validator,
		ingest:    ingest,
		logger:    logger,
		Now:       time.Now,
	}
}

// EventIDFor derives the deterministic event id for one signal item: same
// (kind, mode, entity, ref, value) tuple, same id, across polls and sources.
func EventIDFor(src domain.SignalSource, entityID, itemRef string, value any) string {
	key := fmt.Sprintf("%s:%s:%s:%s:%s", src.Kind, src.Mode, entityID, itemRef, domain.CanonicalJSON(value))
	return uuid.NewSHA1(signalNamespace, []byte(key)).String()
}

// IngestSignal validates one batch and drives each item through the
// ingestion pipeline in array order.
func (s *SignalService) IngestSignal(ctx context.Context, sig *domain.SignalEvent, opts IngestOpts) (*SignalResult, error) {
	errs, payload, err := s.validator.ValidateValue(schema.Signal, sig)
	if err != nil {
		return nil, err
	}
	if errs != nil {
		entry, qerr := quarantine(s.dlq, s.Now(), schema.Signal, payload, errs)
		if qerr != nil {
			return nil, qerr
		}
		s.logger.Warn("signal failed validation",
			zap.String("signal_id", sig.SignalID),
			zap.String("dlq_id", entry.DLQID),
			zap.Strings("errors", errs))
		return &SignalResult{Status: StatusValidationFailed, SignalID: sig.SignalID, DLQID: entry.DLQID, ValidationErrors: errs}, nil
	}

	sourceType := sig.Source.ObservationSourceType()
	counters := map[string]int{}

	for i, item := range sig.Items {
		intent := item.Intent
		if intent == "" {
			intent = string(domain.IntentAssertive)
		}
		obs := &domain.StateObservation{
			EventID:        EventIDFor(sig.Source, sig.EntityID, item.Ref, item.Value),
			EventTS:        sig.EventTS,
			Domain:         item.Domain,
			EntityID:       sig.EntityID,
			Field:          item.Field,
			CandidateValue: item.Value,
			Intent:         intent,
			Source: domain.SourceRef{
				Type: string(sourceType),
				Ref:  fmt.Sprintf("%s#item-%d", sig.Source.Ref, i+1),
			},
			Corroborators: item.Corroborators,
		}

		res, err := s.ingest.Ingest(ctx, obs, opts)
		if err != nil {
			return nil, err
		}
		counters[res.Status]++
	}

	s.markPolled()

	s.logger.Info("signal ingested",
		zap.String("signal_id", sig.SignalID),
		zap.String("kind", sig.Source.Kind),
		zap.Int("items", len(sig.Items)),
		zap.Any("counters", counters))
	return &SignalResult{Status: StatusOK, SignalID: sig.SignalID, Counters: counters}, nil
}

// markPolled stamps the last poll time; failures here are non-critical.
func (s *SignalService) markPolled() {
	s.docs.Lock()
	defer s.docs.Unlock()
	doc, err := s.docs.Load()
	if err != nil {
		s.logger.Warn("could not stamp last_poll_at", zap.Error(err))
		return
	}
	now := s.Now()
	doc.Runtime.LastPollAt = now.UTC().Format(time.RFC3339)
	doc.Touch(now)
	if err := s.docs.Save(doc); err != nil {
		s.logger.Warn("could not stamp last_poll_at", zap.Error(err))
	}
}

// InferSignalDomain classifies calendar/email texts with the shared keyword
// matcher, then refines family to school.
func InferSignalDomain(texts ...string) string {
	joined := ""
	for _, t := range texts {
		joined += " " + t
	}
	d := InferDomain(joined)
	return RefineFamilyToSchool(d, joined)
}
