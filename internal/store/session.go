package store

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/statetracker/statetracker/internal/domain"
)

// SessionSource discovers and incrementally reads host-chat session files.
// Sessions are newline-delimited JSON records; only user-role messages
// survive parsing, with the host's metadata envelope stripped.
type SessionSource struct {
	dir string
}

func NewSessionSource(dir string) *SessionSource {
	return &SessionSource{dir: dir}
}

// Locate returns the most recently modified session file whose name mentions
// the target, or "" when no session exists. Absent sessions are not an error.
func (s *SessionSource) Locate(target string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	needle := sanitizeTarget(target)
	best := ""
	var bestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Name()), needle) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best = filepath.Join(s.dir, e.Name())
			bestMod = mod
		}
	}
	return best, nil
}

// sessionLine tolerates the envelope shapes host runtimes emit.
type sessionLine struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	TS        string `json:"ts"`
	Timestamp any    `json:"timestamp"`
	Text      string `json:"text"`
	Content   any    `json:"content"`
	Message   *struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
}

// ReadNew parses user-role messages from bytes [cursor, EOF) and returns the
// new cursor (EOF). A cursor past EOF (truncated or rotated session) resets
// to the beginning.
func (s *SessionSource) ReadNew(path string, cursor int64) ([]domain.SessionMessage, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, cursor, nil
	}
	if err != nil {
		return nil, cursor, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, cursor, err
	}
	size := info.Size()
	if cursor < 0 || cursor > size {
		cursor = 0
	}
	if cursor == size {
		return nil, size, nil
	}
	if _, err := f.Seek(cursor, io.SeekStart); err != nil {
		return nil, cursor, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, cursor, err
	}

	var out []domain.SessionMessage
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec sessionLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		msg, ok := userMessage(rec)
		if ok {
			out = append(out, msg)
		}
	}
	return out, cursor + int64(len(data)), nil
}

func userMessage(rec sessionLine) (domain.SessionMessage, bool) {
	role := rec.Role
	content := rec.Content
	if rec.Message != nil {
		if rec.Message.Role != "" {
			role = rec.Message.Role
		}
		if rec.Message.Content != nil {
			content = rec.Message.Content
		}
	}
	if role != "user" {
		return domain.SessionMessage{}, false
	}

	text := rec.Text
	if text == "" {
		text = flattenContent(content)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.SessionMessage{}, false
	}

	ts := rec.TS
	if ts == "" && rec.Timestamp != nil {
		ts = strings.TrimSpace(stringify(rec.Timestamp))
	}
	return domain.SessionMessage{ID: rec.ID, TS: ts, Text: text}, true
}

// flattenContent joins the text parts of string-or-block-list content.
func flattenContent(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, el := range c {
			block, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := block["text"].(string); ok {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, _ := json.Marshal(t)
		return strings.Trim(string(b), `"`)
	}
}

func sanitizeTarget(target string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	t = strings.TrimPrefix(t, "@")
	return t
}
