package domain

// Action is a user's decision on a pending prompt.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

func ValidAction(a string) bool {
	switch Action(a) {
	case ActionConfirm, ActionReject, ActionEdit:
		return true
	}
	return false
}

// UserConfirmation is a human decision on a pending prompt. EditedValue is
// present iff Action == edit.
type UserConfirmation struct {
	PromptID       string   `json:"prompt_id"`
	EntityID       string   `json:"entity_id"`
	Domain         string   `json:"domain"`
	ProposedChange string   `json:"proposed_change,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	ReasonSummary  []string `json:"reason_summary,omitempty"`
	Action         string   `json:"action"`
	EditedValue    any      `json:"edited_value,omitempty"`
	TS             string   `json:"ts,omitempty"`
}

// PendingPrompt is an ask-user decision awaiting a human action. The stored
// observation is only committed (under a fresh event id) once the user
// confirms or edits.
type PendingPrompt struct {
	PromptID         string           `json:"prompt_id"`
	EntityID         string           `json:"entity_id"`
	Domain           string           `json:"domain"`
	ProposedChange   string           `json:"proposed_change"`
	Confidence       float64          `json:"confidence"`
	ReasonSummary    []string         `json:"reason_summary"`
	Action           string           `json:"action"`
	ObservationEvent StateObservation `json:"observation_event"`
	Source           SourceRef        `json:"source"`
	CreatedAt        string           `json:"created_at"`
}

// TentativeObservation is a low-confidence observation stashed without
// mutating state. It becomes a PendingPrompt if the review queue promotes it.
type TentativeObservation struct {
	StateObservation
	ObservedAt string   `json:"observed_at"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	PromotedAt string   `json:"promoted_at,omitempty"`
	PromptID   string   `json:"prompt_id,omitempty"`
}
