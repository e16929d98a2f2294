package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a structured logger: colored text via tint in dev, JSON
// otherwise.
func New(level string, dev bool) *slog.Logger {
	return NewWithWriter(os.Stdout, level, dev)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, dev bool) *slog.Logger {
	lvl := ParseLevel(level)
	if dev {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
