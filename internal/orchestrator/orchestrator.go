// Package orchestrator drives the merge-and-dispatch loop over a set of
// sources and listeners.
//
// The typical lifecycle is:
//
//	o, err := orchestrator.New(sources, subs, orchestrator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	err = o.Start(ctx) // blocks until ctx is cancelled or every source stopped
//
// Cancelling ctx is a normal stop and Start returns nil. Restart ends the
// current run and Start begins a fresh one over the same sources and
// listeners.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/birdman/internal/dispatch"
	"github.com/ppiankov/birdman/internal/merge"
	"github.com/ppiankov/birdman/internal/source"
)

var (
	// ErrRestart is the cause given to a run ended by Restart.
	ErrRestart = errors.New("restart requested")

	// ErrSourcesExhausted is returned by Start when every source stopped.
	ErrSourcesExhausted = errors.New("all sources stopped")

	// ErrNoSources is returned by New without any source.
	ErrNoSources = errors.New("at least one source is required")

	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// Orchestrator owns the sources and listeners of a process.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	sources []source.Source
	names   map[string]bool
	running bool
	merger  *merge.Merger
	cancel  context.CancelCauseFunc
	runs    int
}

// New validates the source set and builds an Orchestrator. Source names
// must be unique.
func New(sources []source.Source, subs []dispatch.Subscription, opts ...Option) (*Orchestrator, error) {
	cfg := &orchestratorConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	names := make(map[string]bool, len(sources))
	for _, src := range sources {
		if names[src.Name()] {
			return nil, fmt.Errorf("duplicate source name: %q", src.Name())
		}
		names[src.Name()] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(logger)}
	if cfg.tracer != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithTracer(cfg.tracer))
	}

	return &Orchestrator{
		logger:     logger.With("component", "orchestrator"),
		dispatcher: dispatch.New(subs, dispatchOpts...),
		sources:    slices.Clone(sources),
		names:      names,
	}, nil
}

// Sources returns the current source list.
func (o *Orchestrator) Sources() []source.Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.sources)
}

// Subscriptions returns the current listener subscriptions in
// registration order.
func (o *Orchestrator) Subscriptions() []dispatch.Subscription {
	return o.dispatcher.Subscriptions()
}

// Start runs until ctx is cancelled or every source has stopped.
//
// Each run ends with the same cleanup: per-source work is cancelled, every
// branch is awaited, then every source and every listener is closed once.
// A run ended by Restart is followed by a new run. Returns nil when ctx is
// cancelled and ErrSourcesExhausted when no source is left running. A ctx
// that is already cancelled still releases every source and listener.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	if ctx.Err() != nil {
		o.release(o.logger)
		return nil
	}
	for {
		err := o.run(ctx)
		if !errors.Is(err, ErrRestart) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		o.logger.Info("restarting")
	}
}

func (o *Orchestrator) run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	m := merge.New(ctx, o.logger)

	o.mu.Lock()
	o.runs++
	run := o.runs
	o.merger = m
	o.cancel = cancel
	sources := slices.Clone(o.sources)
	for _, src := range sources {
		_ = m.Attach(src)
	}
	o.mu.Unlock()

	logger := o.logger.With("run", run)
	logger.Info("run started", "sources", len(sources), "listeners", len(o.dispatcher.Subscriptions()))

	// listeners finish the item in hand even when the run is ending
	dispatchCtx := context.WithoutCancel(ctx)

	var result error
loop:
	for {
		select {
		case item := <-m.Items():
			o.dispatcher.Dispatch(dispatchCtx, item)
		case <-m.Done():
			result = ErrSourcesExhausted
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	// branches also end when the run is cancelled, so the cause wins
	switch {
	case errors.Is(context.Cause(ctx), ErrRestart):
		result = ErrRestart
	case parent.Err() != nil:
		result = nil
	}

	cancel(nil)
	o.cleanup(m, logger)
	logger.Info("run stopped", "reason", reason(result))
	return result
}

// cleanup waits for every branch, then releases the run.
func (o *Orchestrator) cleanup(m *merge.Merger, logger *slog.Logger) {
	m.Wait()
	o.release(logger)
}

// release closes each source and each listener exactly once.
func (o *Orchestrator) release(logger *slog.Logger) {
	o.mu.Lock()
	o.merger = nil
	o.cancel = nil
	sources := slices.Clone(o.sources)
	o.mu.Unlock()
	subs := o.dispatcher.Subscriptions()

	var g errgroup.Group
	for _, src := range sources {
		src := src
		g.Go(func() error {
			if err := src.Close(); err != nil {
				logger.Warn("close source", "source", src.Name(), "error", err)
			}
			return nil
		})
	}
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			if err := sub.Listener.Close(); err != nil {
				logger.Warn("close listener", "listener", sub.Listener.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Restart ends the current run; Start cleans up and begins a new one.
// It does nothing when no run is active.
func (o *Orchestrator) Restart() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel(ErrRestart)
	}
}

// AddSource registers src. During a run it starts polling immediately
// without disturbing the other sources.
func (o *Orchestrator) AddSource(src source.Source) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.names[src.Name()] {
		return fmt.Errorf("duplicate source name: %q", src.Name())
	}
	o.names[src.Name()] = true
	o.sources = append(o.sources, src)

	if o.merger == nil {
		return nil
	}
	if err := o.merger.Attach(src); err != nil && !errors.Is(err, merge.ErrStopped) {
		return err
	}
	return nil
}

// AddListener appends a subscription. During a run it receives every item
// dispatched after AddListener returns.
func (o *Orchestrator) AddListener(sub dispatch.Subscription) {
	o.dispatcher.Add(sub)
}

func reason(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, ErrRestart):
		return "restart"
	case errors.Is(err, ErrSourcesExhausted):
		return "sources exhausted"
	default:
		return err.Error()
	}
}
