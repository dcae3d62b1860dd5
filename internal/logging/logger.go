package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/config"
)

// NewReloadable creates a stderr logger filtered by zerolog's global level,
// so SetLevel can change it at runtime.
func NewReloadable(cfg config.SystemConfig) zerolog.Logger {
	return newReloadable(cfg, os.Stderr)
}

func newReloadable(cfg config.SystemConfig, w io.Writer) zerolog.Logger {
	SetLevel(cfg.LogLevel)
	return NewWithWriter(cfg, w).Level(zerolog.TraceLevel)
}

// SetLevel sets the global level. Unknown levels fall back to info.
func SetLevel(level string) zerolog.Level {
	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// NewWithWriter creates a logger from the level and format settings.
// Unknown levels fall back to info; any format other than console is JSON.
func NewWithWriter(cfg config.SystemConfig, w io.Writer) zerolog.Logger {
	level := parseLevel(cfg.LogLevel)

	out := w
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
