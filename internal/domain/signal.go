package domain

// SignalKind is the external feed a signal batch came from.
type SignalKind string

const (
	SignalKindCalendar SignalKind = "calendar"
	SignalKindEmail    SignalKind = "email"
)

// SignalMode distinguishes polled batches from pushed ones.
type SignalMode string

const (
	SignalModePoll    SignalMode = "poll"
	SignalModeWebhook SignalMode = "webhook"
)

// SignalSource identifies the feed a batch was read from.
type SignalSource struct {
	Kind string `json:"kind"`
	Mode string `json:"mode"`
	Ref  string `json:"ref"`
}

// SignalItem is one fact candidate inside a signal batch.
type SignalItem struct {
	Domain        string      `json:"domain"`
	Field         string      `json:"field"`
	Ref           string      `json:"ref"`
	Value         any         `json:"value"`
	Intent        string      `json:"intent,omitempty"`
	Corroborators []SourceRef `json:"corroborators,omitempty"`
}

// SignalEvent is a batch of calendar or email derived fact candidates. The
// adapter explodes each item into one StateObservation with a content-derived
// event id, so re-polling the same feed is a no-op.
type SignalEvent struct {
	SignalID string       `json:"signal_id"`
	EventTS  string       `json:"event_ts"`
	Source   SignalSource `json:"source"`
	EntityID string       `json:"entity_id"`
	Items    []SignalItem `json:"items"`
}

// ObservationSourceType maps a signal's kind and mode onto the observation
// source type. Unrecognized combinations fall back to email_poll.
func (s SignalSource) ObservationSourceType() SourceType {
	switch SignalKind(s.Kind) {
	case SignalKindCalendar:
		if SignalMode(s.Mode) == SignalModeWebhook {
			return SourceCalendarWebhook
		}
		return SourceCalendarPoll
	case SignalKindEmail:
		if SignalMode(s.Mode) == SignalModeWebhook {
			return SourceEmailWebhook
		}
		return SourceEmailPoll
	}
	return SourceEmailPoll
}
