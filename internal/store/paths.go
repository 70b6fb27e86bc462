package store

import "path/filepath"

// Persisted file names under the state root directory. The names are part of
// the external contract.
const (
	DocumentFile     = "state-tracker.json"
	AuditFile        = "state-changes.md"
	DLQFile          = "state-dlq.jsonl"
	LearningFile     = "state-learning-events.jsonl"
	RuntimeStateFile = "state-telegram-review-state.json"
	OutboxFile       = "state-outbox.jsonl"
)

// Paths resolves every persisted file under one root directory.
type Paths struct {
	Root string
}

func NewPaths(root string) Paths { return Paths{Root: root} }

func (p Paths) Document() string     { return filepath.Join(p.Root, DocumentFile) }
func (p Paths) Audit() string        { return filepath.Join(p.Root, AuditFile) }
func (p Paths) DLQ() string          { return filepath.Join(p.Root, DLQFile) }
func (p Paths) Learning() string     { return filepath.Join(p.Root, LearningFile) }
func (p Paths) RuntimeState() string { return filepath.Join(p.Root, RuntimeStateFile) }
func (p Paths) Outbox() string       { return filepath.Join(p.Root, OutboxFile) }
