package domain

import (
	"context"
	"time"
)

// DocumentStore persists the canonical document. Load returns a fresh
// in-memory copy; Save replaces the file atomically. Writers bracket every
// read-modify-write cycle with Lock/Unlock.
type DocumentStore interface {
	Load() (*Document, error)
	Save(*Document) error
	Path() string
	Lock()
	Unlock()
}

// AuditLog is the append-only human-readable change log.
type AuditLog interface {
	Append(msg string) error
	// Tail returns up to limit bullet lines, oldest first.
	Tail(limit int) ([]string, error)
}

// DLQLog is the append-only dead-letter line log.
type DLQLog interface {
	Append(*DLQEntry) error
	// Fold replays the log into per-entry state plus a malformed-line count.
	Fold() (map[string]*DLQEntry, int, error)
}

// LearningLog is the append-only learning-event log.
type LearningLog interface {
	Append(*LearningEvent) error
	ReadSince(cutoff time.Time) ([]LearningEvent, error)
}

// RuntimeStateStore persists the confirmation worker's state atomically.
type RuntimeStateStore interface {
	Load() (*WorkerState, error)
	Save(*WorkerState) error
}

// Messenger delivers prompt and acknowledgement messages to the chat target.
type Messenger interface {
	Send(ctx context.Context, target, text string, buttons []Button) (messageID string, err error)
}

// SessionSource locates and incrementally reads host-chat session files.
type SessionSource interface {
	// Locate returns the most recently updated session file addressed to
	// target, or "" when no session exists.
	Locate(target string) (path string, err error)
	// ReadNew parses user-role messages from bytes [cursor, EOF) and returns
	// the new cursor.
	ReadNew(path string, cursor int64) ([]SessionMessage, int64, error)
}
