package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/statetracker/statetracker/internal/domain"
	"go.uber.org/zap"
)

// promptRefMinLen is the shortest prompt-id prefix accepted in a reply.
const promptRefMinLen = 8

// ReplyDecision is one user decision parsed out of a chat reply.
type ReplyDecision struct {
	PromptID    string
	Action      string
	EditedValue string
	// NeedsValue marks an edit reply that named no replacement value; the
	// worker answers with a usage hint instead of applying anything.
	NeedsValue bool
}

var (
	confirmWords = map[string]bool{"confirm": true, "approved": true, "yes": true, "y": true, "ok": true, "okay": true}
	rejectWords  = map[string]bool{"reject": true, "decline": true, "no": true, "n": true}
)

// ParseReply interprets a chat message as a decision on a pending prompt.
// Callback payloads, "action ref" grammar in either order, and bare yes/no
// tokens against the active prompt are all accepted; anything else returns
// nil and the message is left alone.
func ParseReply(text, activePromptID string, pendingIDs []string) *ReplyDecision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	// Button callback payloads.
	for prefix, action := range map[string]string{
		"state_confirm:": string(domain.ActionConfirm),
		"state_reject:":  string(domain.ActionReject),
		"state_edit:":    string(domain.ActionEdit),
	} {
		if strings.HasPrefix(trimmed, prefix) {
			id := resolvePromptRef(strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), pendingIDs)
			if id == "" {
				return nil
			}
			d := &ReplyDecision{PromptID: id, Action: action}
			if action == string(domain.ActionEdit) {
				d.NeedsValue = true
			}
			return d
		}
	}

	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "/state-confirm"))
	if trimmed == "" {
		return nil
	}

	// edit grammar first, so "edit: value" keeps its casing and spaces.
	if d := parseEdit(trimmed, activePromptID, pendingIDs); d != nil {
		return d
	}

	fields := strings.Fields(trimmed)
	lower := strings.ToLower(fields[0])

	if len(fields) == 1 {
		if activePromptID == "" {
			return nil
		}
		switch {
		case confirmWords[lower]:
			return &ReplyDecision{PromptID: activePromptID, Action: string(domain.ActionConfirm)}
		case rejectWords[lower]:
			return &ReplyDecision{PromptID: activePromptID, Action: string(domain.ActionReject)}
		}
		return nil
	}

	if len(fields) == 2 {
		// "confirm <ref>" or "<ref> yes", either order.
		first, second := strings.ToLower(fields[0]), strings.ToLower(fields[1])
		if action := wordAction(first); action != "" {
			if id := resolvePromptRef(fields[1], pendingIDs); id != "" {
				return &ReplyDecision{PromptID: id, Action: action}
			}
			return nil
		}
		if action := wordAction(second); action != "" {
			if id := resolvePromptRef(fields[0], pendingIDs); id != "" {
				return &ReplyDecision{PromptID: id, Action: action}
			}
		}
	}
	return nil
}

func wordAction(word string) string {
	switch {
	case confirmWords[word]:
		return string(domain.ActionConfirm)
	case rejectWords[word]:
		return string(domain.ActionReject)
	case word == "edit":
		return string(domain.ActionEdit)
	}
	return ""
}

// parseEdit handles the edit grammar: "edit", "edit: v", "edit - v",
// "edit <ref> v", "edit <ref>: v" and the ref-first "<ref> edit v".
func parseEdit(text, activePromptID string, pendingIDs []string) *ReplyDecision {
	// "<ref> edit [v]" binds the edit to the leading ref.
	if first, tail, ok := strings.Cut(text, " "); ok {
		tail = strings.TrimSpace(tail)
		if hasEditPrefix(tail) {
			if id := resolvePromptRef(first, pendingIDs); id != "" {
				return editDecision(id, stripEditPrefix(tail))
			}
		}
	}
	if !hasEditPrefix(text) {
		return nil
	}
	rest := stripEditPrefix(text)

	if rest == "" {
		if activePromptID == "" {
			return nil
		}
		return &ReplyDecision{PromptID: activePromptID, Action: string(domain.ActionEdit), NeedsValue: true}
	}

	// A leading prompt ref (colon- or space-separated from the value) binds
	// the edit to that prompt; otherwise the edit targets the active prompt
	// and the whole remainder is the value.
	if ref, value, ok := strings.Cut(rest, ":"); ok {
		if id := resolvePromptRef(strings.TrimSpace(ref), pendingIDs); id != "" {
			return editDecision(id, strings.TrimSpace(value))
		}
	}
	if ref, value, ok := strings.Cut(rest, " "); ok {
		if id := resolvePromptRef(ref, pendingIDs); id != "" {
			return editDecision(id, strings.TrimSpace(value))
		}
	}
	if id := resolvePromptRef(rest, pendingIDs); id != "" {
		return &ReplyDecision{PromptID: id, Action: string(domain.ActionEdit), NeedsValue: true}
	}
	if activePromptID == "" {
		return nil
	}
	return &ReplyDecision{PromptID: activePromptID, Action: string(domain.ActionEdit), EditedValue: rest}
}

func hasEditPrefix(text string) bool {
	lower := strings.ToLower(text)
	return lower == "edit" || strings.HasPrefix(lower, "edit ") || strings.HasPrefix(lower, "edit:") || strings.HasPrefix(lower, "edit-")
}

func stripEditPrefix(text string) string {
	rest := strings.TrimSpace(text[len("edit"):])
	return strings.TrimSpace(strings.TrimLeft(rest, ":-"))
}

func editDecision(id, value string) *ReplyDecision {
	d := &ReplyDecision{PromptID: id, Action: string(domain.ActionEdit)}
	if value == "" {
		d.NeedsValue = true
	} else {
		d.EditedValue = value
	}
	return d
}

// resolvePromptRef matches a unique pending prompt by id prefix. Ambiguous or
// short prefixes resolve to nothing.
func resolvePromptRef(ref string, pendingIDs []string) string {
	ref = strings.TrimSpace(ref)
	if len(ref) < promptRefMinLen {
		return ""
	}
	match := ""
	for _, id := range pendingIDs {
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return ""
			}
			match = id
		}
	}
	return match
}

// WorkerConfig configures the confirmation-loop worker.
type WorkerConfig struct {
	Target     string
	EntityID   string
	Interval   time.Duration
	SessionDir string
}

// WorkerService is the chat confirmation loop: it tails the host session
// file for user decisions, applies them, and dispatches the next pending
// prompt with inline buttons. Runtime state survives restarts in its own
// side-car file.
type WorkerService struct {
	docs      domain.DocumentStore
	confirm   *ConfirmService
	runtime   domain.RuntimeStateStore
	messenger domain.Messenger
	sessions  domain.SessionSource
	logger    *zap.Logger
	cfg       WorkerConfig

	Now func() time.Time

	nudge  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorkerService(docs domain.DocumentStore, confirm *ConfirmService, runtime domain.RuntimeStateStore, messenger domain.Messenger, sessions domain.SessionSource, logger *zap.Logger, cfg WorkerConfig) *WorkerService {
	if cfg.Interval <= 0 {
		cfg.Interval = 90 * time.Second
	}
	return &WorkerService{
		docs:      docs,
		confirm:   confirm,
		runtime:   runtime,
		messenger: messenger,
		sessions:  sessions,
		logger:    logger,
		cfg:       cfg,
		Now:       time.Now,
		nudge:     make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the worker loop in a background goroutine. Session-file writes
// nudge the loop ahead of the ticker.
func (s *WorkerService) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(s.cfg.SessionDir); werr != nil {
			s.logger.Warn("could not watch session dir", zap.String("dir", s.cfg.SessionDir), zap.Error(werr))
			watcher.Close()
			watcher = nil
		}
	} else {
		s.logger.Warn("fsnotify unavailable, ticker only", zap.Error(err))
		watcher = nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if watcher != nil {
			defer watcher.Close()
		}
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("confirmation worker started",
			zap.String("target", s.cfg.Target),
			zap.Duration("interval", s.cfg.Interval))

		for {
			var events chan fsnotify.Event
			if watcher != nil {
				events = watcher.Events
			}
			select {
			case ev := <-events:
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(ev.Name, ".jsonl") {
					select {
					case s.nudge <- struct{}{}:
					default:
					}
				}
				continue
			case <-s.nudge:
			case <-ticker.C:
			case <-s.stopCh:
				s.logger.Info("confirmation worker stopped")
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("worker tick failed", zap.Error(err))
			}
			cancel()
		}
	}()
}

// Stop gracefully stops the worker.
func (s *WorkerService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Tick runs one cycle: drain new session messages, apply any decisions, then
// dispatch the next pending prompt if none is in flight.
func (s *WorkerService) Tick(ctx context.Context) error {
	state, err := s.runtime.Load()
	if err != nil {
		return err
	}
	if state.Target == "" {
		state.Target = s.cfg.Target
	}
	if state.EntityID == "" {
		state.EntityID = s.cfg.EntityID
	}
	if state.Target == "" {
		return nil
	}

	path, err := s.sessions.Locate(state.Target)
	if err != nil {
		return err
	}
	if path != "" && path != state.SessionFile {
		// New session: skip its history, only messages after adoption count.
		state.SessionFile = path
		state.SessionCursor = fileSize(path)
	}

	var msgs []domain.SessionMessage
	if state.SessionFile != "" {
		var cursor int64
		msgs, cursor, err = s.sessions.ReadNew(state.SessionFile, state.SessionCursor)
		if err != nil {
			return err
		}
		state.SessionCursor = cursor
	}

	if err := s.cleanupStaleActive(state); err != nil {
		return err
	}

	for _, msg := range msgs {
		if err := s.handleMessage(ctx, state, msg); err != nil {
			return err
		}
	}

	if state.ActivePromptID == "" {
		if err := s.dispatchNext(ctx, state); err != nil {
			return err
		}
	}

	return s.runtime.Save(state)
}

// cleanupStaleActive drops an active prompt id that no longer exists in the
// document (resolved through another surface, or expired).
func (s *WorkerService) cleanupStaleActive(state *domain.WorkerState) error {
	if state.ActivePromptID == "" {
		return nil
	}
	s.docs.Lock()
	doc, err := s.docs.Load()
	s.docs.Unlock()
	if err != nil {
		return err
	}
	if _, ok := doc.PendingConfirmations[state.ActivePromptID]; !ok {
		s.logger.Debug("active prompt resolved elsewhere", zap.String("prompt_id", state.ActivePromptID))
		state.ActivePromptID = ""
		state.ActiveMessageID = ""
	}
	return nil
}

func (s *WorkerService) handleMessage(ctx context.Context, state *domain.WorkerState, msg domain.SessionMessage) error {
	s.docs.Lock()
	doc, err := s.docs.Load()
	s.docs.Unlock()
	if err != nil {
		return err
	}
	pendingIDs := make([]string, 0, len(doc.PendingConfirmations))
	for id := range doc.PendingConfirmations {
		pendingIDs = append(pendingIDs, id)
	}

	decision := ParseReply(msg.Text, state.ActivePromptID, pendingIDs)
	if decision == nil {
		return nil
	}
	if decision.NeedsValue {
		hint := fmt.Sprintf("Reply with: edit %s: <new value>", shortID(decision.PromptID))
		if _, err := s.messenger.Send(ctx, state.Target, hint, nil); err != nil {
			s.logger.Warn("could not send edit hint", zap.Error(err))
		}
		return nil
	}

	prompt, ok := doc.PendingConfirmations[decision.PromptID]
	if !ok {
		return nil
	}

	c := BuildConfirmation(&prompt, decision.Action, decision.EditedValue, s.Now())

	res, err := s.confirm.ApplyConfirmation(ctx, c)
	if err != nil {
		return err
	}

	state.LastDecisionAt = s.Now().UTC().Format(time.RFC3339)
	if state.ActivePromptID == decision.PromptID {
		state.ActivePromptID = ""
		state.ActiveMessageID = ""
	}

	var ack string
	switch res.Status {
	case StatusCommitted:
		ack = fmt.Sprintf("Saved: %s", prompt.ProposedChange)
		if decision.Action == string(domain.ActionEdit) {
			ack = fmt.Sprintf("Saved with your edit: %s = %s", prompt.ObservationEvent.StoredField(), decision.EditedValue)
		}
	case StatusRejected:
		ack = fmt.Sprintf("Discarded: %s", prompt.ProposedChange)
	case StatusNotFound:
		ack = "That state check already expired."
	default:
		ack = fmt.Sprintf("Could not apply that decision (%s).", res.Status)
	}
	if _, err := s.messenger.Send(ctx, state.Target, ack, nil); err != nil {
		s.logger.Warn("could not send ack", zap.Error(err))
	}

	s.logger.Info("decision applied from chat",
		zap.String("prompt_id", decision.PromptID),
		zap.String("action", decision.Action),
		zap.String("status", res.Status))
	return nil
}

// dispatchNext sends the oldest pending prompt with Yes/No buttons and marks
// it active.
func (s *WorkerService) dispatchNext(ctx context.Context, state *domain.WorkerState) error {
	s.docs.Lock()
	doc, err := s.docs.Load()
	s.docs.Unlock()
	if err != nil {
		return err
	}

	pending := doc.PendingForEntity(state.EntityID)
	if len(pending) == 0 {
		return nil
	}
	prompt := pending[0]

	text := fmt.Sprintf("State check: %s\nconfidence=%.3f | source=%s\nReply yes / no, or: edit %s: <new value>",
		prompt.ProposedChange, prompt.Confidence, prompt.Source.Type, shortID(prompt.PromptID))
	buttons := []domain.Button{
		{Text: "Yes", CallbackData: fmt.Sprintf("/state-confirm %s yes", prompt.PromptID)},
		{Text: "No", CallbackData: fmt.Sprintf("/state-confirm %s no", prompt.PromptID)},
	}

	msgID, err := s.messenger.Send(ctx, state.Target, text, buttons)
	if err != nil {
		return err
	}

	now := s.Now().UTC().Format(time.RFC3339)
	state.ActivePromptID = prompt.PromptID
	state.ActiveMessageID = msgID
	state.LastDispatchedAt = now
	// Only replies after the dispatch can be answers to it.
	if state.SessionFile != "" {
		state.SessionCursor = fileSize(state.SessionFile)
	}

	s.logger.Info("prompt dispatched",
		zap.String("prompt_id", prompt.PromptID),
		zap.String("target", state.Target))
	return nil
}

func shortID(id string) string {
	if len(id) > promptRefMinLen {
		return id[:promptRefMinLen]
	}
	return id
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
