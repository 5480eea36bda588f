package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"livesync/internal/config"
)

// New builds the root logger. Unknown levels fall back to info.
func New(cfg *config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "livesync").Logger()
}
