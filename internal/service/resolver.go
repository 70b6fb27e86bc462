package service

import (
	"fmt"
	"math"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
)

// Decision outcomes of the resolver.
const (
	DecisionAutoCommit      = "auto_commit"
	DecisionAskUser         = "ask_user"
	DecisionTentativeReject = "tentative_reject"
)

// Recency decay constants: confidence decays linearly from 1.0 to 0.4 over
// 168 hours and is floored there.
const (
	recencyWindowHours = 168.0
	recencyDecaySpan   = 0.6
	recencyFloor       = 0.4
)

// corroborationStep adds 5% per corroborator, capped at 1.2.
const (
	corroborationStep = 0.05
	corroborationCap  = 1.2
)

// Resolution is the resolver's verdict on one observation.
type Resolution struct {
	Decision          string
	Confidence        float64
	CurrentConfidence float64
	Margin            float64
	Reasons           []string
}

// Resolver is the pure confidence and decision function: (current document,
// observation) -> {auto_commit, ask_user, tentative_reject} with reasons.
type Resolver struct {
	Now func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{Now: time.Now}
}

// Confidence computes the observation's confidence against the document's
// reliability table, clamped to [0,1] and rounded to 3 decimals.
func (r *Resolver) Confidence(doc *domain.Document, o *domain.StateObservation) (float64, []string) {
	reliability := doc.Reliability(o.Source.Type)
	intentFactor := domain.Intent(o.Intent).Factor()
	recency := r.recencyFactor(o.EventTS)
	corroboration := corroborationFactor(len(o.Corroborators))

	confidence := Round3(Clamp01(reliability * intentFactor * recency * corroboration))

	reasons := []string{
		fmt.Sprintf("source_reliability[%s]=%.2f", o.Source.Type, reliability),
		fmt.Sprintf("intent_factor[%s]=%.2f", o.Intent, intentFactor),
		fmt.Sprintf("recency_factor=%.3f", recency),
		fmt.Sprintf("corroboration_factor=%.2f (n=%d)", corroboration, len(o.Corroborators)),
	}
	return confidence, reasons
}

// Resolve routes an observation. forceCommit short-circuits every threshold.
func (r *Resolver) Resolve(doc *domain.Document, o *domain.StateObservation, forceCommit bool) Resolution {
	confidence, reasons := r.Confidence(doc, o)

	current := 0.0
	if rec, ok := doc.Record(o.EntityID, o.Domain, o.StoredField()); ok {
		current = rec.Confidence
	}
	margin := Round3(confidence - current)

	if forceCommit {
		return Resolution{
			Decision:          DecisionAutoCommit,
			Confidence:        confidence,
			CurrentConfidence: current,
			Margin:            margin,
			Reasons:           []string{"force_commit=true"},
		}
	}

	cfg := doc.DomainConfigFor(o.Domain)
	res := Resolution{
		Confidence:        confidence,
		CurrentConfidence: current,
		Margin:            margin,
	}

	switch {
	case confidence >= cfg.AutoThreshold && margin >= cfg.MarginThreshold:
		res.Decision = DecisionAutoCommit
		res.Reasons = append(reasons,
			fmt.Sprintf("confidence=%.3f >= auto_threshold=%.2f", confidence, cfg.AutoThreshold),
			fmt.Sprintf("margin=%.3f >= margin_threshold=%.2f", margin, cfg.MarginThreshold))
	case confidence >= cfg.AskThreshold:
		res.Decision = DecisionAskUser
		res.Reasons = append(reasons,
			fmt.Sprintf("confidence=%.3f in ask band [%.2f, %.2f)", confidence, cfg.AskThreshold, cfg.AutoThreshold))
	default:
		res.Decision = DecisionTentativeReject
		res.Reasons = append(reasons,
			fmt.Sprintf("confidence=%.3f < ask_threshold=%.2f", confidence, cfg.AskThreshold))
	}
	return res
}

// recencyFactor maps event age to [0.4, 1.0]. Unparseable or future
// timestamps count as age zero.
func (r *Resolver) recencyFactor(eventTS string) float64 {
	ts, err := time.Parse(time.RFC3339, eventTS)
	if err != nil {
		return 1.0
	}
	ageH := r.Now().Sub(ts).Hours()
	if ageH < 0 {
		ageH = 0
	}
	if ageH > recencyWindowHours {
		ageH = recencyWindowHours
	}
	f := 1 - ageH/recencyWindowHours*recencyDecaySpan
	if f < recencyFloor {
		f = recencyFloor
	}
	if f > 1 {
		f = 1
	}
	return f
}

func corroborationFactor(n int) float64 {
	f := 1 + corroborationStep*float64(n)
	if f > corroborationCap {
		f = corroborationCap
	}
	if f < 1 {
		f = 1
	}
	return f
}

// Clamp01 clamps to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Round3 rounds to 3 decimals, the precision every stored float carries.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
