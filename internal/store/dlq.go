package store

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/statetracker/statetracker/internal/domain"
)

// DLQLog is the append-only dead-letter line log. Creation and update records
// share the file; the authoritative per-entry state is the per-field
// last-write-wins fold of all lines keyed by dlq_id.
type DLQLog struct {
	path string
	mu   sync.Mutex

	// MalformedLines counts lines that failed to parse on the last Fold.
	malformedLines int
}

func NewDLQLog(path string) *DLQLog {
	return &DLQLog{path: path}
}

func (l *DLQLog) Append(e *domain.DLQEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return appendLine(l.path, string(data))
}

// Fold replays the log into per-entry state. Malformed lines are counted and
// skipped, never aborting the read.
func (l *DLQLog) Fold() (map[string]*domain.DLQEntry, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.malformedLines = 0
		return map[string]*domain.DLQEntry{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	merged := map[string]map[string]json.RawMessage{}
	order := []string{}
	malformed := 0

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			malformed++
			continue
		}
		var id string
		if raw, ok := fields["dlq_id"]; ok {
			_ = json.Unmarshal(raw, &id)
		}
		if id == "" {
			malformed++
			continue
		}
		m, ok := merged[id]
		if !ok {
			m = map[string]json.RawMessage{}
			merged[id] = m
			order = append(order, id)
		}
		for k, v := range fields {
			m[k] = v
		}
	}

	out := make(map[string]*domain.DLQEntry, len(merged))
	for _, id := range order {
		blob, err := json.Marshal(merged[id])
		if err != nil {
			malformed++
			continue
		}
		var e domain.DLQEntry
		if err := json.Unmarshal(blob, &e); err != nil {
			malformed++
			continue
		}
		out[id] = &e
	}

	l.malformedLines = malformed
	return out, malformed, nil
}
