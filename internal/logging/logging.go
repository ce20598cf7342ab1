// Package logging builds the structured zerolog.Logger every process
// (core and shard) starts from, matching the teacher's NewLogger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's minimum level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
	Role   string // "core" or "shard", tags every log line
}

// New builds a zerolog.Logger timestamped, leveled, and tagged with
// the process role.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", cfg.Role).
		Logger()
}
