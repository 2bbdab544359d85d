package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyTool      = "tool"
	KeySkill     = "skill"
	KeySession   = "session"
	KeyRound     = "round"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Setup installs the process default logger and returns it.
// format is "json" or "text"; level is one of debug, info, warn, error.
func Setup(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithSession returns a logger with the session attribute set.
func WithSession(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(slog.String(KeySession, id))
}

func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

func Tool(name string) slog.Attr {
	return slog.String(KeyTool, name)
}

func Skill(name string) slog.Attr {
	return slog.String(KeySkill, name)
}

func Round(n int) slog.Attr {
	return slog.Int(KeyRound, n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// Status returns success or error depending on ok.
func Status(ok bool) slog.Attr {
	if ok {
		return slog.String(KeyStatus, StatusSuccess)
	}
	return slog.String(KeyStatus, StatusError)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that slog omits from output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}
