package domain

// Learning event outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeCorrected = "corrected"
)

// LearningEvent records one ask_user outcome. The adaptive threshold learner
// derives per-domain proposals from these.
type LearningEvent struct {
	LearningEventID string  `json:"learning_event_id"`
	TS              string  `json:"ts"`
	EntityID        string  `json:"entity_id"`
	Domain          string  `json:"domain"`
	Field           string  `json:"field"`
	Decision        string  `json:"decision"`
	Action          string  `json:"action"`
	Outcome         string  `json:"outcome"`
	Confidence      float64 `json:"confidence"`
	Intent          string  `json:"intent"`
	SourceType      string  `json:"source_type"`
	SourceRef       string  `json:"source_ref"`
	PromptID        string  `json:"prompt_id"`
}
