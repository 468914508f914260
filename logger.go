package growable

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with array-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithSegmentBits adds the segment width to the logger.
func (l *Logger) WithSegmentBits(bits uint) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment_bits", bits),
	}
}

// LogGrow logs a growth step.
func (l *Logger) LogGrow(ctx context.Context, from, to, required int) {
	l.DebugContext(ctx, "array grown",
		"from_height", from,
		"to_height", to,
		"required_height", required,
	)
}

// LogPublishLost logs a lost publish race.
func (l *Logger) LogPublishLost(ctx context.Context, index uint64, level int) {
	l.DebugContext(ctx, "segment publish lost",
		"index", index,
		"level", level,
	)
}

// LogExhausted logs an allocation refused by the memory budget.
func (l *Logger) LogExhausted(ctx context.Context, index uint64, level int, err error) {
	l.WarnContext(ctx, "segment allocation failed",
		"index", index,
		"level", level,
		"error", err,
	)
}

// LogTeardown logs the result of a teardown.
func (l *Logger) LogTeardown(ctx context.Context, height, freed int, bytes int64) {
	l.InfoContext(ctx, "array torn down",
		"height", height,
		"segments_freed", freed,
		"bytes_released", bytes,
	)
}
