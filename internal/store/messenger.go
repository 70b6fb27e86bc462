package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/statetracker/statetracker/internal/domain"
)

type outboxRecord struct {
	MessageID string          `json:"message_id"`
	TS        string          `json:"ts"`
	Target    string          `json:"target"`
	Text      string          `json:"text"`
	Buttons   []domain.Button `json:"buttons,omitempty"`
}

// OutboxMessenger appends outbound chat messages to an NDJSON outbox file.
// The host delivery agent drains the outbox; the engine only needs a message
// id back.
type OutboxMessenger struct {
	path string
}

func NewOutboxMessenger(path string) *OutboxMessenger {
	return &OutboxMessenger{path: path}
}

func (m *OutboxMessenger) Send(ctx context.Context, target, text string, buttons []domain.Button) (string, error) {
	rec := outboxRecord{
		MessageID: uuid.NewString(),
		TS:        time.Now().UTC().Format(time.RFC3339),
		Target:    target,
		Text:      text,
		Buttons:   buttons,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := appendLine(m.path, string(data)); err != nil {
		return "", err
	}
	return rec.MessageID, nil
}

// CommandMessenger spawns a configured send command with the message as JSON
// on stdin. The command's stdout, if non-empty, is used as the message id.
type CommandMessenger struct {
	command string
	timeout time.Duration
}

func NewCommandMessenger(command string) *CommandMessenger {
	return &CommandMessenger{command: command, timeout: 8 * time.Second}
}

func (m *CommandMessenger) Send(ctx context.Context, target, text string, buttons []domain.Button) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	payload, err := json.Marshal(outboxRecord{
		MessageID: uuid.NewString(),
		TS:        time.Now().UTC().Format(time.RFC3339),
		Target:    target,
		Text:      text,
		Buttons:   buttons,
	})
	if err != nil {
		return "", err
	}

	parts := strings.Fields(m.command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty send command")
	}
	cmd := exec.CommandContext(cctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("send command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if id := strings.TrimSpace(stdout.String()); id != "" {
		return id, nil
	}
	return uuid.NewString(), nil
}
