package source

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Item is one crawled record tagged with the name of the source that
// produced it.
type Item struct {
	Source  string
	Payload map[string]any
}

// Clone returns a copy whose payload map can be modified without
// affecting other listeners. Nested values are shared.
func (it Item) Clone() Item {
	payload := make(map[string]any, len(it.Payload))
	for k, v := range it.Payload {
		payload[k] = v
	}
	return Item{Source: it.Source, Payload: payload}
}

// String returns the payload value for key when it is a string.
func (it Item) String(key string) string {
	s, _ := it.Payload[key].(string)
	return s
}

// EmitFunc hands one item to the consumer. It blocks until the item is
// accepted or ctx is done.
type EmitFunc func(ctx context.Context, item Item) error

// Source is a long-running polling unit.
type Source interface {
	// Name identifies the source in item tags and listener filters.
	Name() string

	// Run polls until ctx is cancelled or a fatal error occurs, handing
	// every new item to emit.
	Run(ctx context.Context, emit EmitFunc) error

	// Close releases network resources. It is idempotent and the source
	// may be run again afterwards.
	Close() error
}

// Record is what a Crawler reports for one upstream post.
type Record struct {
	ID       int64
	PostedAt time.Time
	Payload  map[string]any
}

// Crawler walks one site's content from newest to oldest.
type Crawler interface {
	// Crawl calls visit for each record, newest first, and stops as soon
	// as visit returns false. Transient request failures are retried
	// inside Crawl; what escapes is either a *TransientError (retries
	// exhausted), a *StructuralError or an unclassified error.
	Crawl(ctx context.Context, visit func(Record) bool) error

	Close() error
}

// Env carries what constructors need from the composition root.
type Env struct {
	Logger  *slog.Logger
	Cursors CursorStore
	Tracer  trace.Tracer
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
