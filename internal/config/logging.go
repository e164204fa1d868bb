package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger: text on stderr for operators, JSON in
// cfg.File for tooling. An empty File, or one that cannot be opened, leaves
// stderr only. The returned function closes the file.
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	level := cfg.SlogLevel()
	if cfg.File == "" {
		return slog.New(stderrHandler(os.Stderr, level)), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", cfg.File)
		return slog.New(stderrHandler(os.Stderr, level)), func() error { return nil }
	}
	return NewLogger(os.Stderr, file, level), file.Close
}

// NewLogger fans records out to a text handler on console and a JSON handler
// on file.
func NewLogger(console, file io.Writer, level slog.Level) *slog.Logger {
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler(console, level), fileHandler))
}

func stderrHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
