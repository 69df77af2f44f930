// Package logging builds the slog handlers used by the host commands.
//
// Text output (charmbracelet/log) is for humans watching a run; JSON output
// is for collectors. The runtime itself only ever holds *slog.Logger values,
// so the handler choice stays at the edge.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// TextHandler returns a human-readable slog handler at the given level.
// A nil writer defaults to stderr. Level "trace" additionally reports the
// caller, which is useful when a script misbehaves and the log line alone
// does not say where the call came from.
func TextHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}

	reportCaller := false
	reportTimestamp := false
	lvl := log.InfoLevel
	switch strings.ToLower(level) {
	case "trace":
		reportCaller = true
		reportTimestamp = true
		lvl = log.DebugLevel
	case "debug":
		reportTimestamp = true
		lvl = log.DebugLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}

	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
}

// JSONHandler returns a machine-readable slog handler at the given level.
// A nil writer defaults to stderr.
func JSONHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.NewJSONHandler(w, opts)
}

// New returns a logger in the requested format ("text" or "json").
// Unknown formats fall back to text.
func New(level, format string, w io.Writer) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(JSONHandler(level, w))
	}
	return slog.New(TextHandler(level, w))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
