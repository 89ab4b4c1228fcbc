// Package logging builds the structured logger shared by the CLI and the
// ami client.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Format names accepted by Config.Format.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Config selects the logger's minimum level and output format.
type Config struct {
	Level  string
	Format string
}

// New builds a zerolog.Logger tagged with service="goami".
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "goami").
		Logger()
}
