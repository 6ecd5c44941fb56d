// Package logging configures zerolog for the dispatch binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a LOG_LEVEL value.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr so stdout stays free for command results.
	Output io.Writer
}

// DefaultConfig returns JSON output at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// FromSettings builds a Config from the LOG_LEVEL and LOG_PRETTY settings.
func FromSettings(level string, pretty bool) Config {
	cfg := DefaultConfig()
	cfg.Level = LogLevel(strings.ToLower(strings.TrimSpace(level)))
	cfg.Pretty = pretty
	return cfg
}

// Setup sets the global level and replaces log.Logger. Every component
// logger derived afterwards through NewLogger shares its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel maps unknown values to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a logger tagged with component from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForWorkday tags logger with the workday being dispatched.
func ForWorkday(logger zerolog.Logger, workday string) zerolog.Logger {
	return logger.With().Str("workday", workday).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Fetch cache hits and misses (key)
//   - Individual upstream queries and their outcome
//   - Per-recipient delivery results
//
// Info: Normal operation events
//   - Run start and finish (workday, progress)
//   - Batch completion (batch, processed, cursor)
//   - Continuation scheduled
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Upstream 429 and backoff applied
//   - Lookups resolved to None after an upstream failure
//   - Delivery failures for a single recipient
//   - Lease already held by another invocation
//
// Error: Error conditions requiring attention
//   - Checkpoint store unreachable
//   - Workday marked failed
//   - Continuation could not be scheduled
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting package (client, scheduler, server, ...)
//   - workday: Workday being dispatched (YYYY-MM-DD)
//   - key: Fetch key (works:<date>:<categories>)
//   - status_code: Upstream HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network, decode)
//   - backoff: Backoff applied after a rate-limit response
//   - batch: Batch number within the run
//   - cursor: Last recipient email processed
