package psep

import (
	"context"
	"log/slog"
)

// Logger is the structured logging facade every component in this module
// accepts. It is intentionally small — shaped after the single-call-site
// Info/Debug/Error pattern idiomatic Go services log through — so callers
// can adapt any logging library to it. A nil Logger is always safe: every
// call site in this module nil-checks before logging.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l as a Logger. A nil l falls back to slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, kv ...any) { s.l.DebugContext(ctx, msg, kv...) }
func (s *SlogLogger) Info(ctx context.Context, msg string, kv ...any)  { s.l.InfoContext(ctx, msg, kv...) }
func (s *SlogLogger) Warn(ctx context.Context, msg string, kv ...any)  { s.l.WarnContext(ctx, msg, kv...) }
func (s *SlogLogger) Error(ctx context.Context, msg string, kv ...any) { s.l.ErrorContext(ctx, msg, kv...) }

// logDebug/logInfo/logWarn/logError are nil-safe helpers so call sites
// in this package never need an `if logger != nil` guard. They are
// unexported; the coordinator package keeps its own copy.
func logDebug(l Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Debug(ctx, msg, kv...)
	}
}

func logInfo(l Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Info(ctx, msg, kv...)
	}
}

func logWarn(l Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Warn(ctx, msg, kv...)
	}
}

func logError(l Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Error(ctx, msg, kv...)
	}
}
