package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joeycumines/logiface"
)

// slogLevel maps a logiface.Level to the nearest slog.Level, following the
// mapping documented on logiface.Level itself (emergency/alert/critical/error
// collapse to slog's ERROR, warning/notice to WARN, informational to INFO,
// debug/trace to DEBUG).
func slogLevel(level logiface.Level) slog.Level {
	switch {
	case level <= logiface.LevelError:
		return slog.LevelError
	case level <= logiface.LevelNotice:
		return slog.LevelWarn
	case level <= logiface.LevelInformational:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// handlerWriter is a logiface.Writer[*Event] that renders to a slog.Handler.
type handlerWriter struct {
	handler slog.Handler
}

// Write implements logiface.Writer.
func (w handlerWriter) Write(ev *Event) error {
	lvl := slogLevel(ev.level)
	ctx := context.Background()
	if !w.handler.Enabled(ctx, lvl) {
		return nil
	}
	rec := slog.NewRecord(time.Now(), lvl, ev.message, 0)
	rec.AddAttrs(ev.attrs...)
	return w.handler.Handle(ctx, rec)
}

// NewLogger builds the default *logiface.Logger[*Event] used by the client
// channel when no logger is supplied via WithLogger: it writes through h at
// the given floor level, sourced from a pooled Factory.
func NewLogger(h slog.Handler, level logiface.Level) *logiface.Logger[*Event] {
	if h == nil {
		h = slog.NewTextHandler(os.Stderr, nil)
	}
	return logiface.New[*Event](
		logiface.WithEventFactory[*Event](Factory{}),
		logiface.WithEventReleaser[*Event](Factory{}),
		logiface.WithWriter[*Event](handlerWriter{handler: h}),
		logiface.WithLevel[*Event](level),
	)
}

// Disabled returns a logger with logging fully disabled, used when the
// channel is constructed without a WithLogger option and no sink is wanted.
func Disabled() *logiface.Logger[*Event] {
	return logiface.New[*Event](
		logiface.WithEventFactory[*Event](Factory{}),
		logiface.WithEventReleaser[*Event](Factory{}),
		logiface.WithLevel[*Event](logiface.LevelDisabled),
	)
}
