package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/service"
	"go.uber.org/zap"
)

// inboundNamespace derives deterministic event ids from message identity, so
// a redelivered chat message can only ever be a duplicate.
var inboundNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("statetracker/inbound"))

// InboundMessage is one user message forwarded by the host runtime.
type InboundMessage struct {
	Channel      string `json:"channel"`
	Conversation string `json:"conversation"`
	MessageID    string `json:"message_id"`
	From         string `json:"from"`
	Timestamp    int64  `json:"timestamp"`
	Text         string `json:"text"`
}

// InboundResult reports what the bridge did with one inbound message.
type InboundResult struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	EventID  string `json:"event_id,omitempty"`
	PromptID string `json:"prompt_id,omitempty"`
	Action   string `json:"action,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

const (
	statusSkipped         = "skipped"
	statusDecisionApplied = "decision_applied"
	statusEditHelp        = "edit_help"
)

// EventIDFor derives the content-addressed event id of an inbound message.
func EventIDFor(m *InboundMessage) string {
	key := strings.Join([]string{
		m.Channel, m.Conversation, m.MessageID, m.From,
		strconv.FormatInt(m.Timestamp, 10), m.Text,
	}, "|")
	return uuid.NewSHA1(inboundNamespace, []byte(key)).String()
}

// HandleInbound filters one chat message, resolves it as a prompt decision if
// it reads like one, and otherwise ingests it as a low-trust observation.
func (b *Bridge) HandleInbound(ctx context.Context, m *InboundMessage) (*InboundResult, error) {
	if reason := b.filter(m); reason != "" {
		return &InboundResult{Status: statusSkipped, Reason: reason}, nil
	}

	b.docs.Lock()
	doc, err := b.docs.Load()
	b.docs.Unlock()
	if err != nil {
		return nil, err
	}
	state, err := b.runtime.Load()
	if err != nil {
		return nil, err
	}
	pendingIDs := make([]string, 0, len(doc.PendingConfirmations))
	for id := range doc.PendingConfirmations {
		pendingIDs = append(pendingIDs, id)
	}

	// A decision on a pending prompt outranks ingestion: "yes" while a check
	// is active is an answer, not a fact.
	if decision := service.ParseReply(m.Text, state.ActivePromptID, pendingIDs); decision != nil {
		return b.applyDecision(ctx, doc, state, decision)
	}

	if len(doc.PendingConfirmations) >= b.cfg.MaxPending {
		return &InboundResult{Status: statusSkipped, Reason: "pending_limit_reached"}, nil
	}

	d := service.InferDomain(m.Text)
	d = service.RefineFamilyToSchool(d, m.Text)
	obs := b.extractor.Extract(ctx, m.Text, service.ExtractOpts{
		EntityID:      b.cfg.EntityID,
		FieldOverride: d + ".current_assertion",
		SourceType:    b.cfg.SourceType,
		SourceRef:     fmt.Sprintf("message:%s:%s:%s", m.Channel, m.Conversation, m.MessageID),
		EventTS:       timestampISO(m.Timestamp, b.Now),
	})
	obs.EventID = EventIDFor(m)

	res, err := b.ingest.Ingest(ctx, obs, service.IngestOpts{})
	if err != nil {
		return nil, err
	}

	out := &InboundResult{Status: res.Status, EventID: res.EventID}
	if res.Prompt != nil {
		out.PromptID = res.Prompt.PromptID
		// Adopt the new prompt as active so a bare "yes" can answer it.
		if state.ActivePromptID == "" {
			state.ActivePromptID = res.Prompt.PromptID
			if err := b.runtime.Save(state); err != nil {
				b.logger.Warn("could not adopt prompt as active", zap.Error(err))
			}
		}
	}
	if res.Status == service.StatusCommitted && b.projection != nil {
		if _, perr := b.projection.Project(ctx); perr != nil {
			b.logger.Warn("post-ingest projection failed", zap.Error(perr))
		}
	}

	b.logger.Info("inbound message handled",
		zap.String("channel", m.Channel),
		zap.String("status", out.Status),
		zap.String("event_id", out.EventID))
	return out, nil
}

// filter returns a skip reason for messages the bridge should never ingest.
func (b *Bridge) filter(m *InboundMessage) string {
	if len(b.cfg.Channels) == 0 || !contains(b.cfg.Channels, m.Channel) {
		return "channel_not_enabled"
	}
	if len(b.cfg.AllowedSenders) > 0 && !contains(b.cfg.AllowedSenders, m.From) {
		return "sender_not_allowed"
	}
	text := strings.TrimSpace(m.Text)
	switch {
	case text == "":
		return "empty_text"
	case strings.HasPrefix(text, "/"):
		return "command_text"
	case len(text) < b.cfg.MinChars:
		return "too_short"
	case !hasLetters(text):
		return "no_letters"
	case strings.HasSuffix(text, "?"):
		return "question"
	}
	return ""
}

func (b *Bridge) applyDecision(ctx context.Context, doc *domain.Document, state *domain.WorkerState, decision *service.ReplyDecision) (*InboundResult, error) {
	if decision.NeedsValue {
		return &InboundResult{
			Status:   statusEditHelp,
			PromptID: decision.PromptID,
			Reply:    fmt.Sprintf("Reply with: edit %s: <new value>", shortID(decision.PromptID)),
		}, nil
	}

	prompt, ok := doc.PendingConfirmations[decision.PromptID]
	if !ok {
		return &InboundResult{Status: statusSkipped, Reason: "prompt_not_found", PromptID: decision.PromptID}, nil
	}

	c := service.BuildConfirmation(&prompt, decision.Action, decision.EditedValue, b.Now())
	res, err := b.confirm.ApplyConfirmation(ctx, c)
	if err != nil {
		return nil, err
	}

	if state.ActivePromptID == decision.PromptID {
		state.ActivePromptID = ""
		state.ActiveMessageID = ""
	}
	state.LastDecisionAt = b.Now().UTC().Format(time.RFC3339)
	if err := b.runtime.Save(state); err != nil {
		b.logger.Warn("could not persist worker state", zap.Error(err))
	}

	reply := fmt.Sprintf("Saved: %s", prompt.ProposedChange)
	if res.Status == service.StatusRejected {
		reply = fmt.Sprintf("Discarded: %s", prompt.ProposedChange)
	}
	return &InboundResult{
		Status:   statusDecisionApplied,
		PromptID: decision.PromptID,
		Action:   decision.Action,
		EventID:  res.EventID,
		Reply:    reply,
	}, nil
}

func timestampISO(ts int64, now func() time.Time) string {
	if ts <= 0 {
		return now().UTC().Format(time.RFC3339)
	}
	// Hosts disagree on seconds vs milliseconds.
	if ts > 1_000_000_000_000 {
		ts /= 1000
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func hasLetters(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
