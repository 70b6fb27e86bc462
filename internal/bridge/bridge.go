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

// Config gates what the bridge accepts from the host runtime.
type Config struct {
	EntityID       string
	MaxFields      int
	Channels       []string
	AllowedSenders []string
	MinChars       int
	MaxPending     int
	SourceType     string
}

// Bridge connects the engine to a host chat runtime: it injects a state
// snapshot before the assistant responds, ingests assertions from inbound
// user messages, and serves the /state-confirm command.
type Bridge struct {
	docs       domain.DocumentStore
	runtime    domain.RuntimeStateStore
	ingest     *service.IngestService
	confirm    *service.ConfirmService
	extractor  *service.Extractor
	projection *service.ProjectionService
	logger     *zap.Logger
	cfg        Config

	Now func() time.Time
}

func New(docs domain.DocumentStore, runtime domain.RuntimeStateStore, ingest *service.IngestService, confirm *service.ConfirmService, extractor *service.Extractor, projection *service.ProjectionService, logger *zap.Logger, cfg Config) *Bridge {
	if cfg.MaxFields <= 0 {
		cfg.MaxFields = 32
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 12
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10
	}
	if cfg.SourceType == "" {
		cfg.SourceType = string(domain.SourceConversationPlanning)
	}
	return &Bridge{
		docs:       docs,
		runtime:    runtime,
		ingest:     ingest,
		confirm:    confirm,
		extractor:  extractor,
		projection: projection,
		logger:     logger,
		cfg:        cfg,
		Now:        time.Now,
	}
}

// ContextResult is the pre-response snapshot handed to the host for
// prepending to the conversation context.
type ContextResult struct {
	Context string `json:"context"`
	Fields  int    `json:"fields"`
	Omitted int    `json:"omitted"`
	Pending int    `json:"pending"`
}

// InjectContext renders the committed-state snapshot the host prepends before
// the assistant answers, capped so a large document cannot flood the prompt.
func (b *Bridge) InjectContext(ctx context.Context) (*ContextResult, error) {
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

	records := doc.SortedRecords()
	shown := records
	omitted := 0
	if len(shown) > b.cfg.MaxFields {
		omitted = len(shown) - b.cfg.MaxFields
		shown = shown[:b.cfg.MaxFields]
	}
	pending := doc.PendingForEntity(b.cfg.EntityID)

	var sb strings.Builder
	sb.WriteString("## Known State (machine-tracked)\n")
	if len(shown) == 0 {
		sb.WriteString("- No committed state yet.\n")
	}
	for _, r := range shown {
		sb.WriteString(fmt.Sprintf("- [%s] %s.%s = %s (confidence=%.3f)\n",
			r.EntityID, r.Domain, r.Field, domain.DisplayValue(r.Record.Value), r.Record.Confidence))
	}
	if omitted > 0 {
		sb.WriteString(fmt.Sprintf("- %d more omitted\n", omitted))
	}
	sb.WriteString(fmt.Sprintf("Pending confirmations: %d\n", len(pending)))
	if state.ActivePromptID != "" {
		if p, ok := doc.PendingConfirmations[state.ActivePromptID]; ok {
			sb.WriteString(fmt.Sprintf("Active pending check: %s %s\n", shortID(p.PromptID), p.ProposedChange))
		}
	}
	sb.WriteString("If chat context conflicts with this snapshot, prefer this snapshot.\n")

	return &ContextResult{
		Context: sb.String(),
		Fields:  len(shown),
		Omitted: omitted,
		Pending: len(pending),
	}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
