// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the process-wide zerolog logger and returns it.
// Components should derive their own logger with NewLogger or With.
func Setup(cfg Config) zerolog.Logger {
	level := ParseLevel(string(cfg.Level))
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, used by tests and by components built
// without an explicit logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: request flow
//   - JQL sent to search, page tokens
//   - batch boundaries (first key, batch size)
//   - tree node expansion and frontier sizes
//   - cache hit/miss
//
// Info: normal operation
//   - bulk fetch start/finish with counts
//   - sprint list and report fetches
//   - server startup/shutdown
//
// Warn: degraded but continuing
//   - batch skipped after failure
//   - rate limit throttling active
//   - cache errors (fallback to direct request)
//
// Error: failures surfaced to the caller
//   - transport errors (no response)
//   - API errors with status and body
//   - cycle detected in hierarchy
//
// Context Fields:
//   - component: emitting package
//   - api: platform, agile or greenhopper
//   - endpoint: request path
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - key: issue key
//   - jql: query string
//   - batch_size / batch_index: bulk fetch batch info
//   - duration: elapsed time
