package logger

import (
	"io"
	"log/slog"
	"strings"
)

type Options struct {
	Service string
	Env     string
	Level   string
}

// New builds the JSON logger used across the service and installs it as the
// slog default.
func New(w io.Writer, opts Options) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	log := slog.New(h).With("service", opts.Service, "env", opts.Env)
	slog.SetDefault(log)
	return log
}

func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
