package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/statetracker/statetracker/internal/domain"
	"github.com/statetracker/statetracker/internal/schema"
	"go.uber.org/zap"
)

var (
	errEmptyClassifierCmd = errors.New("intent classifier command is empty")
	errClassifierOutput   = errors.New("intent classifier output rejected by schema")
)

// IntentClassifier decides how assertive an utterance is.
type IntentClassifier interface {
	Classify(ctx context.Context, domain, text string) string
}

// intentPatterns drive the built-in rule classifier. Every matching pattern
// scores one point for its intent; highest score wins, assertive on zero.
var intentPatterns = []struct {
	intent   domain.Intent
	patterns []*regexp.Regexp
}{
	{domain.IntentRetract, compileAll(
		`\bno longer\b`, `\bnot anymore\b`, `\bforget (that|about|the)\b`,
		`\bremove\b`, `\bcancel that\b`, `\bnever mind\b`, `\bscratch that\b`,
	)},
	{domain.IntentHypothetical, compileAll(
		`\bwhat if\b`, `\bmaybe\b`, `\bmight\b`, `\bcould\b`, `\bperhaps\b`,
		`\bi wonder\b`, `\bhypothetical`, `\bif we\b`, `\bif i\b`,
	)},
	{domain.IntentPlanning, compileAll(
		`\bplan(ning)? to\b`, `\bgoing to\b`, `\bwill\b`, `\bnext (week|month|year)\b`,
		`\btomorrow\b`, `\bschedul`, `\bintend to\b`, `\bupcoming\b`,
	)},
	{domain.IntentHistorical, compileAll(
		`\bused to\b`, `\blast (week|month|year)\b`, `\bpreviously\b`,
		`\bback (then|in)\b`, `\bwas\b`, `\bwere\b`, `\byears ago\b`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// FewShotExamples seed the external classifier prompt. Configuration, not
// code: the command classifier ships them with every request.
var FewShotExamples = []struct {
	Text   string `json:"text"`
	Intent string `json:"intent"`
}{
	{"We are staying in Tahoe this weekend", "assertive"},
	{"We might go to Tahoe if the weather holds", "hypothetical"},
	{"I'm going to book the Tahoe cabin next week", "planning"},
	{"We went to Tahoe last winter", "historical"},
	{"Forget the Tahoe trip, it's off", "retract"},
}

// RuleClassifier is the built-in regex-driven keyword scorer.
type RuleClassifier struct{}

func (RuleClassifier) Classify(_ context.Context, _, text string) string {
	lower := strings.ToLower(text)
	best := domain.IntentAssertive
	bestScore := 0
	for _, entry := range intentPatterns {
		score := 0
		for _, p := range entry.patterns {
			if p.MatchString(lower) {
				score++
			}
		}
		if score > bestScore {
			best = entry.intent
			bestScore = score
		}
	}
	return string(best)
}

// CommandClassifier spawns an external classifier process and validates its
// stdout against the intent schema. Any failure falls back to the rule
// classifier; free-form classifier output is never accepted.
type CommandClassifier struct {
	command   string
	validator *schema.Validator
	fallback  RuleClassifier
	logger    *zap.Logger
	timeout   time.Duration
}

func NewCommandClassifier(command string, validator *schema.Validator, logger *zap.Logger) *CommandClassifier {
	return &CommandClassifier{
		command:   command,
		validator: validator,
		logger:    logger,
		timeout:   8 * time.Second,
	}
}

type classifierRequest struct {
	Task           string   `json:"task"`
	Domain         string   `json:"domain"`
	Text           string   `json:"text"`
	AllowedIntents []string `json:"allowed_intents"`
	OutputSchema   string   `json:"output_schema"`
	FewShotPrompt  any      `json:"few_shot_prompt"`
}

type classifierResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Domain     string  `json:"domain"`
}

func (c *CommandClassifier) Classify(ctx context.Context, dom, text string) string {
	intent, err := c.classify(ctx, dom, text)
	if err != nil {
		c.logger.Warn("intent classifier command failed, using rule classifier", zap.Error(err))
		return c.fallback.Classify(ctx, dom, text)
	}
	return intent
}

func (c *CommandClassifier) classify(ctx context.Context, dom, text string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := classifierRequest{
		Task:   "intent_classification",
		Domain: dom,
		Text:   text,
		AllowedIntents: []string{
			string(domain.IntentAssertive), string(domain.IntentPlanning),
			string(domain.IntentHypothetical), string(domain.IntentHistorical),
			string(domain.IntentRetract),
		},
		OutputSchema:  schema.Intent,
		FewShotPrompt: FewShotExamples,
	}
	stdin, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	parts := strings.Fields(c.command)
	if len(parts) == 0 {
		return "", errEmptyClassifierCmd
	}
	cmd := exec.CommandContext(cctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return "", err
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if errs, verr := c.validator.Validate(schema.Intent, out); verr != nil || errs != nil {
		if verr != nil {
			return "", verr
		}
		c.logger.Warn("intent classifier output rejected by schema", zap.Strings("errors", errs))
		return "", errClassifierOutput
	}

	var resp classifierResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", err
	}
	return resp.Intent, nil
}
