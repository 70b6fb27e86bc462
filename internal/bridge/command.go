package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/service"
	"go.uber.org/zap"
)

// CommandResult is the chat reply produced by the /state-confirm command.
type CommandResult struct {
	Status   string          `json:"status"`
	Reply    string          `json:"reply"`
	PromptID string          `json:"prompt_id,omitempty"`
	Buttons  []domain.Button `json:"buttons,omitempty"`
}

const commandUsage = "Usage: /state-confirm [<prompt_id>] [yes|no|edit: <new value>]"

// HandleStateConfirm serves the /state-confirm command: bare it shows the
// active check, with a ref it shows that check, with a decision it applies
// one.
func (b *Bridge) HandleStateConfirm(ctx context.Context, text string) (*CommandResult, error) {
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "/state-confirm"))

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

	pending := doc.SortedPending()
	pendingIDs := make([]string, len(pending))
	for i, p := range pending {
		pendingIDs[i] = p.PromptID
	}

	if args == "" {
		if p := activeOrFirst(doc, state, pending); p != nil {
			return showPrompt(p), nil
		}
		return &CommandResult{Status: "empty", Reply: "No pending state checks."}, nil
	}

	// A lone ref shows that check without deciding it.
	if fields := strings.Fields(args); len(fields) == 1 && len(fields[0]) >= 8 && service.ParseReply(fields[0], "", pendingIDs) == nil {
		matches := prefixMatches(fields[0], pendingIDs)
		switch len(matches) {
		case 0:
			return &CommandResult{Status: "not_found", Reply: fmt.Sprintf("No pending check matches %s.", fields[0])}, nil
		case 1:
			p := doc.PendingConfirmations[matches[0]]
			return showPrompt(&p), nil
		default:
			shorts := make([]string, len(matches))
			for i, id := range matches {
				shorts[i] = shortID(id)
			}
			return &CommandResult{Status: "ambiguous", Reply: fmt.Sprintf("Ambiguous prompt id, matches: %s", strings.Join(shorts, ", "))}, nil
		}
	}

	decision := service.ParseReply(args, state.ActivePromptID, pendingIDs)
	if decision == nil {
		return &CommandResult{Status: "usage", Reply: commandUsage}, nil
	}
	if decision.NeedsValue {
		return &CommandResult{
			Status:   statusEditHelp,
			PromptID: decision.PromptID,
			Reply:    fmt.Sprintf("Reply with: /state-confirm %s edit: <new value>", shortID(decision.PromptID)),
		}, nil
	}

	prompt, ok := doc.PendingConfirmations[decision.PromptID]
	if !ok {
		return &CommandResult{Status: "not_found", Reply: "That state check already expired."}, nil
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

	out := &CommandResult{Status: res.Status, PromptID: decision.PromptID, Reply: reply}

	// Surface the next check for this entity so the queue keeps draining.
	b.docs.Lock()
	doc, err = b.docs.Load()
	b.docs.Unlock()
	if err == nil {
		if next := doc.PendingForEntity(b.cfg.EntityID); len(next) > 0 {
			shown := showPrompt(&next[0])
			out.Reply += "\n\nNext:\n" + shown.Reply
			out.Buttons = shown.Buttons
			state.ActivePromptID = next[0].PromptID
			if serr := b.runtime.Save(state); serr != nil {
				b.logger.Warn("could not persist worker state", zap.Error(serr))
			}
		}
	}
	return out, nil
}

func activeOrFirst(doc *domain.Document, state *domain.WorkerState, pending []domain.PendingPrompt) *domain.PendingPrompt {
	if state.ActivePromptID != "" {
		if p, ok := doc.PendingConfirmations[state.ActivePromptID]; ok {
			return &p
		}
	}
	if len(pending) > 0 {
		return &pending[0]
	}
	return nil
}

func showPrompt(p *domain.PendingPrompt) *CommandResult {
	return &CommandResult{
		Status:   "shown",
		PromptID: p.PromptID,
		Reply: fmt.Sprintf("State check %s: %s\nconfidence=%.3f | source=%s",
			shortID(p.PromptID), p.ProposedChange, p.Confidence, p.Source.Type),
		Buttons: []domain.Button{
			{Text: "Yes", CallbackData: fmt.Sprintf("/state-confirm %s yes", p.PromptID)},
			{Text: "No", CallbackData: fmt.Sprintf("/state-confirm %s no", p.PromptID)},
		},
	}
}

func prefixMatches(ref string, ids []string) []string {
	var out []string
	for _, id := range ids {
		if strings.HasPrefix(id, ref) {
			out = append(out, id)
		}
	}
	return out
}
