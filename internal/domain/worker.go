package domain

// WorkerState is the confirmation-loop worker's persistent runtime state,
// kept in a separate file from the canonical document.
type WorkerState struct {
	Version          int    `json:"version"`
	Target           string `json:"target"`
	EntityID         string `json:"entity_id"`
	SessionID        string `json:"session_id,omitempty"`
	SessionFile      string `json:"session_file,omitempty"`
	SessionCursor    int64  `json:"session_cursor"`
	ActivePromptID   string `json:"active_prompt_id,omitempty"`
	ActiveMessageID  string `json:"active_message_id,omitempty"`
	LastDispatchedAt string `json:"last_dispatched_at,omitempty"`
	LastDecisionAt   string `json:"last_decision_at,omitempty"`
}

// SessionMessage is one user-role message parsed out of a host-chat session
// file, stripped of the host's metadata envelope.
type SessionMessage struct {
	ID   string
	TS   string
	Text string
}

// Button is one inline chat button attached to a dispatched prompt.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}
