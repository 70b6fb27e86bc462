package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// AuditLog is the append-only Markdown change log. Each entry is one bullet:
// "- <iso> | <message>".
type AuditLog struct {
	path string
	now  func() time.Time
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, now: time.Now}
}

// SetNow overrides the clock; tests only.
func (l *AuditLog) SetNow(now func() time.Time) { l.now = now }

func (l *AuditLog) Append(msg string) error {
	line := fmt.Sprintf("- %s | %s", l.now().UTC().Format(time.RFC3339), msg)
	return appendLine(l.path, line)
}

// Tail returns up to limit bullet lines, oldest first. A missing log reads
// as empty.
func (l *AuditLog) Tail(limit int) ([]string, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var bullets []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "- ") {
			bullets = append(bullets, line)
		}
	}
	if limit > 0 && len(bullets) > limit {
		bullets = bullets[len(bullets)-limit:]
	}
	return bullets, nil
}
