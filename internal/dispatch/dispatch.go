// Package dispatch routes merged items to subscribed listeners.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/birdman/internal/listen"
	"github.com/ppiankov/birdman/internal/source"
)

const tracerName = "github.com/ppiankov/birdman/internal/dispatch"

// Subscription binds a listener to the sources it wants. An empty Sources
// list receives every item.
type Subscription struct {
	Name     string
	Sources  []string
	Listener listen.Listener
}

// Matches reports whether items from src go to this subscription.
func (s Subscription) Matches(src string) bool {
	return len(s.Sources) == 0 || slices.Contains(s.Sources, src)
}

func (s Subscription) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Listener.Name()
}

// Dispatcher delivers every item to the matching subscriptions in the
// order they were added. Delivery is synchronous: Dispatch returns after
// the last listener has handled the item.
type Dispatcher struct {
	logger *slog.Logger
	tracer trace.Tracer

	mu   sync.RWMutex
	subs []Subscription
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New creates a Dispatcher with the given subscriptions.
func New(subs []Subscription, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		subs:   slices.Clone(subs),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Add appends a subscription. It receives items dispatched after Add
// returns.
func (d *Dispatcher) Add(sub Subscription) {
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
}

// Subscriptions returns a snapshot in registration order.
func (d *Dispatcher) Subscriptions() []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.subs)
}

// Dispatch hands item to every matching listener. Listener failures are
// logged and never stop delivery to the rest. It returns the number of
// listeners that handled the item without error.
func (d *Dispatcher) Dispatch(ctx context.Context, item source.Item) int {
	subs := d.Subscriptions()

	ctx, span := d.tracer.Start(ctx, "dispatch.item", trace.WithAttributes(
		attribute.String("source", item.Source),
	))
	defer span.End()

	delivered, failed := 0, 0
	for _, sub := range subs {
		if !sub.Matches(item.Source) {
			continue
		}
		if err := d.deliver(ctx, sub, item); err != nil {
			failed++
			d.logger.Error("listener failed", "listener", sub.name(), "source", item.Source, "error", err)
			continue
		}
		delivered++
	}

	span.SetAttributes(attribute.Int("delivered", delivered), attribute.Int("failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d listeners failed", failed))
	}
	return delivered
}

// deliver calls the listener with panic recovery.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, item source.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			d.logger.Error("listener panic",
				"listener", sub.name(),
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("listener panic (correlation_id: %s)", correlationID)
		}
	}()
	return sub.Listener.Listen(ctx, item)
}
