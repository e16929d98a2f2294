package audit

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"

	"healthcred/pkg/platform/middleware/requesttime"
)

// Emitter is the interface for audit event emission.
// Satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger writes an audit line to the text log and emits the event.
// Emission failures are logged and never returned.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. emitter may be nil.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	if textLogger == nil {
		textLogger = slog.Default()
	}
	return &Logger{textLogger: textLogger, emitter: emitter}
}

// Record logs and emits event. Missing timestamp and request id are filled
// from ctx.
func (l *Logger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requesttime.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetReqID(ctx)
	}

	l.textLogger.InfoContext(ctx, event.Action,
		"log_type", "audit",
		"entity_id", event.EntityID,
		"holder_id", event.HolderID,
		"reference", event.Reference,
		"request_id", event.RequestID,
	)

	if l.emitter == nil {
		return
	}
	if err := l.emitter.Emit(ctx, event); err != nil {
		l.textLogger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", event.Action,
			"reference", event.Reference,
		)
	}
}
