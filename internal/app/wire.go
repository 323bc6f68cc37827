// Package app is the composition root: it turns a configuration document
// into a ready orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/dispatch"
	"github.com/ppiankov/birdman/internal/listen"
	"github.com/ppiankov/birdman/internal/orchestrator"
	"github.com/ppiankov/birdman/internal/registry"
	"github.com/ppiankov/birdman/internal/source"
	"github.com/ppiankov/birdman/internal/store"
	"github.com/ppiankov/birdman/internal/telemetry"
)

const (
	sourceTracer   = "github.com/ppiankov/birdman/internal/source"
	dispatchTracer = "github.com/ppiankov/birdman/internal/dispatch"
)

// Config is everything Build needs.
type Config struct {
	Document    *config.Document
	Credentials config.Options
	Logger      *slog.Logger
	// Stdout receives console and stdout jsonl output.
	Stdout io.Writer
	// Telemetry provides tracers; nil uses the global no-op ones.
	Telemetry *telemetry.Output
	// Sources and Listeners override the built-in registries.
	Sources   *registry.Registry[source.Constructor]
	Listeners *registry.Registry[listen.Constructor]
}

// App holds the built object graph.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	// State is the cursor database, nil when cursors live in memory.
	State *store.Store

	sources []source.Source
	subs    []dispatch.Subscription
}

// Build constructs every configured source and listener. On error
// everything built so far is released.
func Build(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Document == nil {
		return nil, errors.New("config document is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sourceReg := cfg.Sources
	if sourceReg == nil {
		sourceReg = source.NewRegistry()
	}
	listenerReg := cfg.Listeners
	if listenerReg == nil {
		listenerReg = listen.NewRegistry(cfg.Stdout)
	}

	sourceEntries, err := config.Compose(cfg.Document.Sources, cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	listenerEntries, err := config.Compose(cfg.Document.Listeners, nil)
	if err != nil {
		return nil, fmt.Errorf("listeners: %w", err)
	}

	a := &App{}
	var cursors source.CursorStore = source.NewMemoryCursors()
	if cfg.Document.State != "" {
		st, err := store.Open(cfg.Document.State)
		if err != nil {
			return nil, fmt.Errorf("open state: %w", err)
		}
		a.State = st
		cursors = st
	}

	env := source.Env{
		Logger:  logger,
		Cursors: cursors,
		Tracer:  cfg.Telemetry.Tracer(sourceTracer),
	}
	for _, entry := range sourceEntries {
		ctor, err := sourceReg.Lookup(entry.Class)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("sources[%d]: %w", entry.Index, err)
		}
		src, err := ctor(entry.Options, env)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("sources[%d] (%s): %w", entry.Index, entry.Class, err)
		}
		a.sources = append(a.sources, src)
	}

	lenv := listen.Env{Logger: logger}
	for _, entry := range listenerEntries {
		built, err := listen.Build(ctx, listenerReg, entry.Class, entry.Options, lenv)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("listeners[%d] (%s): %w", entry.Index, entry.Class, err)
		}
		a.subs = append(a.subs, dispatch.Subscription{
			Name:     built.Name,
			Sources:  built.Sources,
			Listener: built.Listener,
		})
	}

	orch, err := orchestrator.New(a.sources, a.subs,
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(cfg.Telemetry.Tracer(dispatchTracer)),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Orchestrator = orch
	return a, nil
}

// SourceNames lists the built sources in configuration order.
func (a *App) SourceNames() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// ListenerNames lists the built listeners in configuration order.
func (a *App) ListenerNames() []string {
	names := make([]string, 0, len(a.subs))
	for _, s := range a.subs {
		names = append(names, s.Name)
	}
	return names
}

// Close releases every source, listener and the state store of a graph
// that was never started. Orchestrator.Start releases sources and
// listeners itself; Run only closes the state store afterwards.
func (a *App) Close() error {
	var errs []error
	for _, s := range a.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source %s: %w", s.Name(), err))
		}
	}
	for _, sub := range a.subs {
		if err := sub.Listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener %s: %w", sub.Name, err))
		}
	}
	if err := a.closeState(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeState() error {
	if a.State == nil {
		return nil
	}
	err := a.State.Close()
	a.State = nil
	if err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	return nil
}

// Run builds the graph and blocks in Orchestrator.Start. onReady, when
// non-nil, receives the orchestrator before the first run starts.
func Run(ctx context.Context, cfg Config, onReady func(*orchestrator.Orchestrator)) error {
	a, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.closeState() }()

	if onReady != nil {
		onReady(a.Orchestrator)
	}
	return a.Orchestrator.Start(ctx)
}
