package store

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
)

// LearningLog is the append-only NDJSON log of ask_user outcomes.
type LearningLog struct {
	path string
}

func NewLearningLog(path string) *LearningLog {
	return &LearningLog{path: path}
}

func (l *LearningLog) Append(e *domain.LearningEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return appendLine(l.path, string(data))
}

// ReadSince returns events with ts >= cutoff, oldest first. Malformed lines
// and unparseable timestamps are skipped.
func (l *LearningLog) ReadSince(cutoff time.Time) ([]domain.LearningEvent, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []domain.LearningEvent
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e domain.LearningEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, e.TS)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
