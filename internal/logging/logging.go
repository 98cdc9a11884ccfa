// Package logging builds the zerolog loggers used across the relay.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects the minimum level and the output format.
// Format is "console" (human readable) or "json".
type Config struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// New returns a root logger writing to w. A nil writer means stdout.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	out := w
	if !strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}

	SetLevel(cfg.Level)
	return zerolog.New(out).With().Timestamp().Str("app", "wsrelay").Logger()
}

// SetLevel applies level globally. Unknown values fall back to info.
func SetLevel(level string) zerolog.Level {
	lvl := ParseLevel(level, zerolog.InfoLevel)
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// ParseLevel maps a level name to a zerolog level, returning def when the
// name is empty or unknown.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// IsValidLevel reports whether s names a level ParseLevel understands.
func IsValidLevel(s string) bool {
	const sentinel = zerolog.Level(99)
	return ParseLevel(s, sentinel) != sentinel
}

// Since is a small helper for duration fields measured from start.
func Since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Microsecond)
}
