package app

import (
	"io"
	"log/slog"
)

// newLogger builds an isolated slog.Logger; the global default is left alone.
// Unknown levels fall back to info, unknown formats to text.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
