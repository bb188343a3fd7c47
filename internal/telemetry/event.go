// Package telemetry implements a minimal github.com/joeycumines/logiface.Event
// backed by log/slog, used as the client channel's default structured
// logger. It is written directly against logiface's documented
// Event/Writer/EventFactory/EventReleaser contracts (logiface.go) rather than
// a vendored logiface-slog module, whose retrieved copy carries two
// conflicting package clauses (slog vs islog) and so is not safe to depend
// on without being able to compile it.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Event is a pooled logiface.Event implementation that accumulates fields
// and renders them to a slog.Handler on Write.
type Event struct {
	logiface.UnimplementedEvent

	level   logiface.Level
	message string
	attrs   []slog.Attr
}

var eventPool = sync.Pool{New: func() any { return &Event{attrs: make([]slog.Attr, 0, 8)} }}

// Level returns the level the event was created with.
func (e *Event) Level() logiface.Level { return e.level }

// AddField adds an arbitrary field, falling back to fmt-ish slog.Any.
func (e *Event) AddField(key string, val any) {
	e.attrs = append(e.attrs, slog.Any(key, val))
}

// AddMessage sets the event's log message.
func (e *Event) AddMessage(msg string) bool {
	e.message = msg
	return true
}

// AddError adds an error field using the conventional "error" key.
func (e *Event) AddError(err error) bool {
	e.attrs = append(e.attrs, slog.Any("error", err))
	return true
}

// AddString is an optional optimization avoiding the `any` boxing AddField requires.
func (e *Event) AddString(key string, val string) bool {
	e.attrs = append(e.attrs, slog.String(key, val))
	return true
}

// AddInt is an optional optimization avoiding the `any` boxing AddField requires.
func (e *Event) AddInt(key string, val int) bool {
	e.attrs = append(e.attrs, slog.Int(key, val))
	return true
}

// AddBool is an optional optimization avoiding the `any` boxing AddField requires.
func (e *Event) AddBool(key string, val bool) bool {
	e.attrs = append(e.attrs, slog.Bool(key, val))
	return true
}

// AddDuration is an optional optimization avoiding the `any` boxing AddField requires.
func (e *Event) AddDuration(key string, val time.Duration) bool {
	e.attrs = append(e.attrs, slog.Duration(key, val))
	return true
}

func (e *Event) reset() {
	e.level = logiface.LevelDisabled
	e.message = ""
	e.attrs = e.attrs[:0]
}

// Factory implements logiface.EventFactory[*Event] and logiface.EventReleaser[*Event]
// against a sync.Pool, following the pooling idiom used throughout the
// joeycumines/go-utilpkg family (go-eventloop's loop internals, go-catrate's
// categoryDataPool) for hot-path allocation avoidance.
type Factory struct{}

// NewEvent implements logiface.EventFactory.
func (Factory) NewEvent(level logiface.Level) *Event {
	ev := eventPool.Get().(*Event)
	ev.level = level
	return ev
}

// ReleaseEvent implements logiface.EventReleaser.
func (Factory) ReleaseEvent(ev *Event) {
	ev.reset()
	eventPool.Put(ev)
}
