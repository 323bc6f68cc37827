// Package listen holds the item consumers fed by the dispatcher.
package listen

import (
	"context"
	"log/slog"

	"github.com/ppiankov/birdman/internal/privacy"
	"github.com/ppiankov/birdman/internal/source"
)

// Listener consumes one item at a time.
type Listener interface {
	Name() string

	// Listen handles item. The payload is shared with other listeners;
	// implementations that modify it must work on item.Clone().
	Listen(ctx context.Context, item source.Item) error

	// Close flushes and releases the listener. It is idempotent, and a
	// later Listen reacquires whatever Close released so the listener
	// survives an orchestrator restart.
	Close() error
}

// Common holds the options every listener class accepts.
type Common struct {
	// Name overrides the listener name used in logs.
	Name string `yaml:"name"`
	// Sources restricts the listener to items from these source names.
	// Empty means every source.
	Sources []string `yaml:"sources"`
	// Redact lists regular expressions masked in payload strings before
	// the listener sees them.
	Redact []string `yaml:"redact"`
}

// Env carries what constructors need from the composition root.
type Env struct {
	Logger *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// keepKeys are never redacted so downstream bookkeeping keeps working.
var keepKeys = []string{"source", "id", "url", "written_at", "crawled_at"}

// redacting masks payload strings before handing items to the wrapped
// listener.
type redacting struct {
	Listener
	redactor *privacy.Redactor
}

// WithRedaction wraps l so that every item passes through r first. An
// empty redactor returns l unchanged.
func WithRedaction(l Listener, r *privacy.Redactor) Listener {
	if r.Empty() {
		return l
	}
	return &redacting{Listener: l, redactor: r}
}

func (r *redacting) Listen(ctx context.Context, item source.Item) error {
	return r.Listener.Listen(ctx, source.Item{
		Source:  item.Source,
		Payload: r.redactor.Payload(item.Payload),
	})
}
