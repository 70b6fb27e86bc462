package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
	"go.uber.org/zap"
)

// Hard bounds the learner can never walk a threshold past, regardless of how
// skewed the recent outcomes are.
const (
	learnerAskFloor  = 0.55
	learnerAskCeil   = 0.80
	learnerAutoFloor = 0.80
	learnerAutoCeil  = 0.99

	// ask must stay at least this far below auto so the ask band cannot
	// collapse.
	learnerMinBand = 0.08

	// correction-confidence percentile used to floor the auto threshold when
	// corrections cluster high.
	correctionPercentile = 0.75
	minCorrectionSamples = 3
)

// ThresholdProposal is one per-domain adjustment derived from recent ask_user
// outcomes.
type ThresholdProposal struct {
	Domain           string  `json:"domain"`
	Samples          int     `json:"samples"`
	ConfirmationRate float64 `json:"confirmation_rate"`
	CorrectionRate   float64 `json:"correction_rate"`
	CurrentAsk       float64 `json:"current_ask"`
	CurrentAuto      float64 `json:"current_auto"`
	ProposedAsk      float64 `json:"proposed_ask"`
	ProposedAuto     float64 `json:"proposed_auto"`
	Applied          bool    `json:"applied"`
	Reason           string  `json:"reason,omitempty"`
}

// LearnerResult reports one learner run.
type LearnerResult struct {
	Status    string              `json:"status"`
	Mode      string              `json:"mode"`
	Proposals []ThresholdProposal `json:"proposals,omitempty"`
	Applied   int                 `json:"applied"`
}

// LearnerOpts shape one run.
type LearnerOpts struct {
	Force bool
}

// LearnerService nudges per-domain thresholds toward the observed ask_user
// outcome rates, one bounded step per day. In shadow mode it only records
// what it would have done.
type LearnerService struct {
	docs     domain.DocumentStore
	audit    domain.AuditLog
	learning domain.LearningLog
	logger   *zap.Logger

	Now func() time.Time

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewLearnerService(docs domain.DocumentStore, audit domain.AuditLog, learning domain.LearningLog, logger *zap.Logger) *LearnerService {
	return &LearnerService{
		docs:     docs,
		audit:    audit,
		learning: learning,
		logger:   logger,
		Now:      time.Now,
		interval: 6 * time.Hour,
		stopCh:   make(chan struct{}),
	}
}

func (s *LearnerService) SetInterval(d time.Duration) { s.interval = d }

// Start runs the learner on a periodic schedule in a background goroutine.
func (s *LearnerService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("threshold learner started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := s.Run(ctx, LearnerOpts{}); err != nil {
					s.logger.Error("learner run failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("threshold learner stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the learner.
func (s *LearnerService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Run derives per-domain threshold proposals from the learning log and, in
// apply mode, commits them to the document.
func (s *LearnerService) Run(ctx context.Context, opts LearnerOpts) (*LearnerResult, error) {
	s.docs.Lock()
	defer s.docs.Unlock()

	doc, err := s.docs.Load()
	if err != nil {
		return nil, err
	}

	cfg := doc.Runtime.AdaptiveLearning
	mode := cfg.Mode
	if mode == "" || mode == domain.AdaptiveModeOff {
		return &LearnerResult{Status: "off", Mode: domain.AdaptiveModeOff}, nil
	}

	now := s.Now()
	if !opts.Force && cfg.LastRunAt != "" {
		last, perr := time.Parse(time.RFC3339, cfg.LastRunAt)
		if perr == nil && now.Sub(last) < time.Duration(cfg.MinIntervalHours*float64(time.Hour)) {
			return &LearnerResult{Status: "throttled", Mode: mode}, nil
		}
	}

	cutoff := now.Add(-time.Duration(cfg.LookbackDays) * 24 * time.Hour)
	events, err := s.learning.ReadSince(cutoff)
	if err != nil {
		return nil, err
	}

	byDomain := map[string][]domain.LearningEvent{}
	for _, ev := range events {
		byDomain[ev.Domain] = append(byDomain[ev.Domain], ev)
	}

	result := &LearnerResult{Status: StatusOK, Mode: mode}
	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	for _, d := range domains {
		evs := byDomain[d]
		if len(evs) < cfg.MinSamples {
			continue
		}
		p := s.propose(doc, d, evs, cfg)
		if p.ProposedAsk == p.CurrentAsk && p.ProposedAuto == p.CurrentAuto {
			continue
		}

		if mode == domain.AdaptiveModeApply {
			dc := doc.DomainConfigFor(d)
			dc.AskThreshold = p.ProposedAsk
			dc.AutoThreshold = p.ProposedAuto
			doc.Domains[d] = dc
			p.Applied = true
			result.Applied++
			if err := s.audit.Append(fmt.Sprintf("adaptive | domain=%s | ask %.3f->%.3f | auto %.3f->%.3f | samples=%d",
				d, p.CurrentAsk, p.ProposedAsk, p.CurrentAuto, p.ProposedAuto, p.Samples)); err != nil {
				return nil, err
			}
		} else {
			if err := s.audit.Append(fmt.Sprintf("adaptive_shadow | domain=%s | ask %.3f->%.3f | auto %.3f->%.3f | samples=%d",
				d, p.CurrentAsk, p.ProposedAsk, p.CurrentAuto, p.ProposedAuto, p.Samples)); err != nil {
				return nil, err
			}
		}
		result.Proposals = append(result.Proposals, p)
	}

	doc.Runtime.AdaptiveLearning.LastRunAt = now.UTC().Format(time.RFC3339)
	doc.Touch(now)
	if err := s.docs.Save(doc); err != nil {
		return nil, err
	}

	s.logger.Info("learner run complete",
		zap.String("mode", mode),
		zap.Int("proposals", len(result.Proposals)),
		zap.Int("applied", result.Applied))
	return result, nil
}

// propose computes one domain's bounded threshold step from its outcome rates.
func (s *LearnerService) propose(doc *domain.Document, d string, evs []domain.LearningEvent, cfg domain.AdaptiveConfig) ThresholdProposal {
	accepted := 0
	var correctionConfs []float64
	for _, ev := range evs {
		if ev.Outcome == domain.OutcomeAccepted {
			accepted++
		} else {
			correctionConfs = append(correctionConfs, ev.Confidence)
		}
	}
	samples := len(evs)
	confirmRate := float64(accepted) / float64(samples)
	correctionRate := float64(len(correctionConfs)) / float64(samples)

	dc := doc.DomainConfigFor(d)
	p := ThresholdProposal{
		Domain:           d,
		Samples:          samples,
		ConfirmationRate: Round3(confirmRate),
		CorrectionRate:   Round3(correctionRate),
		CurrentAsk:       dc.AskThreshold,
		CurrentAuto:      dc.AutoThreshold,
	}

	// Auto threshold: corrections above target push it up a full step; only
	// corrections well under target combined with a high confirm rate relax
	// it, and then by half a step. Rates in between hold.
	candidateAuto := dc.AutoThreshold
	switch {
	case correctionRate > cfg.TargetCorrectionRate:
		candidateAuto = dc.AutoThreshold + cfg.MaxDailyStep
		p.Reason = "correction_rate_above_target"
	case correctionRate < cfg.TargetCorrectionRate/2 && confirmRate >= cfg.HighConfirmationRate:
		candidateAuto = dc.AutoThreshold - cfg.MaxDailyStep*0.5
		p.Reason = "high_confirmation_rate"
	}
	// Corrections that cluster high floor the candidate above them whichever
	// branch fired; the per-run step clamp below still bounds the move.
	if len(correctionConfs) >= minCorrectionSamples {
		floor := percentile(correctionConfs, correctionPercentile) + 0.01
		if floor > candidateAuto {
			candidateAuto = floor
		}
	}

	// Ask threshold: a high confirm rate means the prompts were redundant, a
	// low one means the band started too low.
	candidateAsk := dc.AskThreshold
	switch {
	case confirmRate >= cfg.HighConfirmationRate:
		candidateAsk = dc.AskThreshold - cfg.MaxDailyStep
	case confirmRate < cfg.LowConfirmationRate:
		candidateAsk = dc.AskThreshold + cfg.MaxDailyStep
		if p.Reason == "" {
			p.Reason = "low_confirmation_rate"
		}
	}

	auto := dc.AutoThreshold + clampStep(candidateAuto-dc.AutoThreshold, cfg.MaxDailyStep)
	auto = clampRange(auto, learnerAutoFloor, learnerAutoCeil)

	ask := dc.AskThreshold + clampStep(candidateAsk-dc.AskThreshold, cfg.MaxDailyStep)
	ask = clampRange(ask, learnerAskFloor, learnerAskCeil)
	if ask > auto-learnerMinBand {
		ask = auto - learnerMinBand
	}

	p.ProposedAsk = Round3(ask)
	p.ProposedAuto = Round3(auto)
	return p
}

func clampStep(delta, step float64) float64 {
	if delta > step {
		return step
	}
	if delta < -step {
		return -step
	}
	return delta
}

func clampRange(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// percentile interpolates linearly between the closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
