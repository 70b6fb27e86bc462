package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by STATE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("STATE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func getString(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

// RootDir is the directory holding every persisted state file.
func RootDir() string {
	return getString("STATE_ROOT_DIR", "memory")
}

// EntityID is the default entity facts are asserted about.
func EntityID() string {
	return getString("STATE_ENTITY_ID", "user:primary")
}

// GogAccount selects the external calendar/mail fetcher account.
func GogAccount() string {
	return os.Getenv("STATE_GOG_ACCOUNT")
}

// PollerCronExpr is handed to the host scheduler; the engine itself only
// records it.
func PollerCronExpr() string {
	return getString("STATE_POLLER_CRON_EXPR", "*/30 * * * *")
}

// ReviewMaxPending caps the pending queue during review promotion.
func ReviewMaxPending() int {
	return getInt("STATE_REVIEW_MAX_PENDING", 10)
}

// ReviewLimit caps how many tentatives one promotion run may lift.
func ReviewLimit() int {
	return getInt("STATE_REVIEW_LIMIT", 5)
}

// ReviewMinConfidence is the promotion eligibility floor.
func ReviewMinConfidence() float64 {
	return getFloat("STATE_REVIEW_MIN_CONFIDENCE", 0.45)
}

// TelegramTarget is the chat target the confirmation worker talks to.
func TelegramTarget() string {
	return os.Getenv("STATE_TELEGRAM_TARGET")
}

// TelegramThreadID optionally pins prompts to one thread.
func TelegramThreadID() string {
	return os.Getenv("STATE_TELEGRAM_THREAD_ID")
}

// TelegramSendCmd, when set, is spawned to deliver chat messages (JSON on
// stdin). Unset, messages go to the outbox file.
func TelegramSendCmd() string {
	return os.Getenv("STATE_TELEGRAM_SEND_CMD")
}

// TelegramReviewInterval is the confirmation worker tick interval.
func TelegramReviewInterval() time.Duration {
	v := os.Getenv("STATE_TELEGRAM_REVIEW_INTERVAL")
	if v == "" {
		return 90 * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		if secs, serr := strconv.Atoi(v); serr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 90 * time.Second
	}
	return d
}

// IntentExtractorMode is "rule" (built-in) or "command" (child process).
func IntentExtractorMode() string {
	return getString("STATE_INTENT_EXTRACTOR_MODE", "rule")
}

// IntentExtractorCmd is the classifier child process command line.
func IntentExtractorCmd() string {
	return os.Getenv("STATE_INTENT_EXTRACTOR_CMD")
}

// AdaptiveMode overrides the stored learner mode: off, shadow or apply.
func AdaptiveMode() string {
	return os.Getenv("STATE_ADAPTIVE_MODE")
}

// IngestChannels lists channel ids the inbound-message hook accepts
// (comma-separated; empty disables the hook).
func IngestChannels() []string {
	return splitCSV(os.Getenv("STATE_INGEST_CHANNELS"))
}

// IngestAllowedSenders optionally restricts the inbound hook to a sender
// allowlist (comma-separated; empty allows all).
func IngestAllowedSenders() []string {
	return splitCSV(os.Getenv("STATE_INGEST_ALLOWED_SENDERS"))
}

// IngestMinChars is the minimum text length the inbound hook considers.
func IngestMinChars() int {
	return getInt("STATE_INGEST_MIN_CHARS", 12)
}

// IngestMaxPending skips inbound ingestion once this many prompts are queued.
func IngestMaxPending() int {
	return getInt("STATE_INGEST_MAX_PENDING", 10)
}

// IngestSourceType is the source type assigned to inbound chat observations.
// The default sits in the review band so a human sees it before it commits.
func IngestSourceType() string {
	return getString("STATE_INGEST_SOURCE_TYPE", "conversation_planning")
}

// SessionDir is where host-chat session files are discovered.
func SessionDir() string {
	return getString("STATE_SESSION_DIR", filepath.Join(RootDir(), "sessions"))
}

// InjectMaxFields caps the pre-response context snapshot.
func InjectMaxFields() int {
	return getInt("STATE_INJECT_MAX_FIELDS", 32)
}

// ProjectionArtifact is the Markdown file the projection engine rewrites.
func ProjectionArtifact() string {
	return getString("STATE_PROJECTION_ARTIFACT", filepath.Join(RootDir(), "state.md"))
}

func ServerPort() int {
	return getInt("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps := getFloat("RATE_LIMIT_RPS", 100)
	if rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst := getInt("RATE_LIMIT_BURST", 20)
	if burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	return getString("LOG_LEVEL", "info")
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
