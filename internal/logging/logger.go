// Package logging builds the zerolog logger shared by the CLI and sessions.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment overrides, applied after flags and config.
const (
	EnvLevel  = "HWCARD_LOG_LEVEL"
	EnvFormat = "HWCARD_LOG_FORMAT"
)

// Format is the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Profile describes the logger to build.
type Profile struct {
	App    string
	Level  string // trace, debug, info, warn, error
	Format Format
	Out    io.Writer // defaults to stderr
}

// New builds the logger for p, installs it as the zerolog global and returns it.
func New(p Profile) (zerolog.Logger, error) {
	if v := strings.TrimSpace(os.Getenv(EnvLevel)); v != "" {
		p.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFormat)); v != "" {
		p.Format = Format(strings.ToLower(v))
	}

	level, err := ParseLevel(p.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	switch p.Format {
	case FormatJSON:
	case FormatText, "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", p.Format)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if p.App != "" {
		logger = logger.With().Str("app", p.App).Logger()
	}
	log.Logger = logger
	return logger, nil
}

// ParseLevel accepts zerolog level names. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}
