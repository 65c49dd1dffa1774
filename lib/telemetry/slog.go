package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog replaces the default slog handler. Pass debug = true
// to enable debug logging (and request/response dumps elsewhere).
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
