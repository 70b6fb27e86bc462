package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"go.uber.org/zap"
)

// RetryOpts shape one DLQ replay run.
type RetryOpts struct {
	Limit         int
	MaxRetries    int
	IncludeNotDue bool
	ForceCommit   bool
}

// RetrySummary reports one DLQ replay run.
type RetrySummary struct {
	Scanned         int `json:"scanned"`
	Attempted       int `json:"attempted"`
	Resolved        int `json:"resolved"`
	PendingRetry    int `json:"pending_retry"`
	FailedPermanent int `json:"failed_permanent"`
	MalformedLines  int `json:"malformed_lines"`
}

// RetryService replays quarantined payloads with exponential backoff,
// classifying terminal failures permanently. It also runs as a periodic
// background worker.
type RetryService struct {
	dlq       domain.DLQLog
	validator *schema.Validator
	ingest    *IngestService
	confirm   *ConfirmService
	signal    *SignalService
	logger    *zap.Logger

	Now func() time.Time

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRetryService(dlq domain.DLQLog, validator *schema.Validator, ingest *IngestService, confirm *ConfirmService, signal *SignalService, logger *zap.Logger) *RetryService {
	return &RetryService{
		dlq:       dlq,
		validator: validator,
		ingest:    ingest,
		confirm:   confirm,
		signal:    signal,
		logger:    logger,
		Now:       time.Now,
		interval:  5 * time.Minute,
		stopCh:    make(chan struct{}),
	}
}

func (s *RetryService) SetInterval(d time.Duration) { s.interval = d }

// Start runs the retrier on a periodic schedule in a background goroutine.
func (s *RetryService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("dlq retrier started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := s.Retry(ctx, RetryOpts{Limit: 20, MaxRetries: domain.DLQMaxRetries}); err != nil {
					s.logger.Error("dlq retry run failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("dlq retrier stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the retrier.
func (s *RetryService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Retry folds the DLQ, replays due entries oldest first, and appends one
// update line per attempt.
func (s *RetryService) Retry(ctx context.Context, opts RetryOpts) (*RetrySummary, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = domain.DLQMaxRetries
	}

	entries, malformed, err := s.dlq.Fold()
	if err != nil {
		return nil, err
	}

	now := s.Now()
	summary := &RetrySummary{Scanned: len(entries), MalformedLines: malformed}

	var due []*domain.DLQEntry
	for _, e := range entries {
		if e.Status != domain.DLQStatusPendingRetry {
			continue
		}
		if !opts.IncludeNotDue {
			next, err := time.Parse(time.RFC3339, e.NextRetryTS)
			if err == nil && next.After(now) {
				continue
			}
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FirstSeenTS < due[j].FirstSeenTS })
	if len(due) > opts.Limit {
		due = due[:opts.Limit]
	}

	for _, e := range due {
		summary.Attempted++
		resultStatus := s.dispatch(ctx, e, opts)

		update := &domain.DLQEntry{
			DLQID:            e.DLQID,
			LastRetryTS:      now.UTC().Format(time.RFC3339),
			LastResultStatus: resultStatus,
		}
		switch {
		case isResolved(e.SchemaName, resultStatus):
			update.Status = domain.DLQStatusResolved
			update.RetryCount = domain.IntPtr(e.Retries())
			summary.Resolved++
		case isPermanentFailure(resultStatus) || e.Retries()+1 >= opts.MaxRetries:
			update.Status = domain.DLQStatusFailedPermanent
			update.RetryCount = domain.IntPtr(e.Retries() + 1)
			summary.FailedPermanent++
		default:
			count := e.Retries() + 1
			update.Status = domain.DLQStatusPendingRetry
			update.RetryCount = domain.IntPtr(count)
			update.NextRetryTS = now.Add(domain.BackoffFor(count)).UTC().Format(time.RFC3339)
			summary.PendingRetry++
		}

		if err := s.dlq.Append(update); err != nil {
			return nil, err
		}
		s.logger.Info("dlq entry retried",
			zap.String("dlq_id", e.DLQID),
			zap.String("schema", e.SchemaName),
			zap.String("result", resultStatus),
			zap.String("status", update.Status))
	}

	return summary, nil
}

// dispatch replays one payload through the pipeline its schema belongs to.
// The payload is pre-validated so a still-invalid one fails here instead of
// re-quarantining itself under a second dlq id.
func (s *RetryService) dispatch(ctx context.Context, e *domain.DLQEntry, opts RetryOpts) string {
	switch e.SchemaName {
	case schema.Observation, schema.Confirmation, schema.Signal:
	default:
		return StatusUnsupportedSchema
	}

	errs, verr := s.validator.Validate(e.SchemaName, e.Payload)
	if verr != nil {
		return StatusUnsupportedSchema
	}
	if errs != nil {
		return StatusValidationFailed
	}

	ingestOpts := IngestOpts{ForceCommit: opts.ForceCommit}
	switch e.SchemaName {
	case schema.Observation:
		var o domain.StateObservation
		if err := json.Unmarshal(e.Payload, &o); err != nil {
			return StatusValidationFailed
		}
		res, err := s.ingest.Ingest(ctx, &o, ingestOpts)
		if err != nil {
			s.logger.Warn("dlq observation replay failed", zap.String("dlq_id", e.DLQID), zap.Error(err))
			return "error"
		}
		return res.Status

	case schema.Confirmation:
		var c domain.UserConfirmation
		if err := json.Unmarshal(e.Payload, &c); err != nil {
			return StatusValidationFailed
		}
		res, err := s.confirm.ApplyConfirmation(ctx, &c)
		if err != nil {
			s.logger.Warn("dlq confirmation replay failed", zap.String("dlq_id", e.DLQID), zap.Error(err))
			return "error"
		}
		return res.Status

	default:
		var sig domain.SignalEvent
		if err := json.Unmarshal(e.Payload, &sig); err != nil {
			return StatusValidationFailed
		}
		res, err := s.signal.IngestSignal(ctx, &sig, ingestOpts)
		if err != nil {
			s.logger.Warn("dlq signal replay failed", zap.String("dlq_id", e.DLQID), zap.Error(err))
			return "error"
		}
		return res.Status
	}
}

// isResolved maps per-schema result statuses to terminal success.
func isResolved(schemaName, status string) bool {
	switch schemaName {
	case schema.Observation:
		switch status {
		case StatusCommitted, StatusPendingConfirmation, StatusTentative, StatusDuplicate:
			return true
		}
	case schema.Confirmation:
		switch status {
		case StatusCommitted, StatusRejected:
			return true
		}
	case schema.Signal:
		return status == StatusOK
	}
	return false
}

// isPermanentFailure lists result statuses that are never retried further.
func isPermanentFailure(status string) bool {
	switch status {
	case StatusUnsupportedSchema, StatusNotFound, StatusMismatch:
		return true
	}
	return false
}
