// Package merge fans the items of many sources into one arrival-ordered
// stream.
//
// Every attached source runs in its own goroutine. An emitted item joins a
// ready queue and its branch waits until the item has been handed to the
// consumer, so each branch holds at most one queued item. The queue is
// drained in arrival order by a single pump: a branch that emits again
// queues behind every branch already waiting, which bounds how long any
// ready source waits to one item from each other source. A branch that
// fails, panics or returns is logged and simply stops contributing.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/ppiankov/birdman/internal/source"
)

// ErrStopped is returned by Attach once the merge has finished.
var ErrStopped = errors.New("merge stopped")

// Exit records how one branch ended.
type Exit struct {
	Source string
	Err    error
}

// pending is one emitted item waiting for its turn.
type pending struct {
	item source.Item
	ack  chan error
}

// Merger owns the branch goroutines of one run.
//
// All methods are safe for concurrent use.
type Merger struct {
	ctx    context.Context
	logger *slog.Logger
	out    chan source.Item
	done   chan struct{}
	wake   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	queue    []*pending
	active   int
	attached bool
	finished bool
	exits    []Exit
}

// New creates a Merger whose branches run under ctx. Cancelling ctx ends
// every branch.
func New(ctx context.Context, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{
		ctx:    ctx,
		logger: logger.With("component", "merge"),
		out:    make(chan source.Item),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go m.pump()
	return m
}

// Attach starts a branch for src. Items already in flight from other
// branches are unaffected.
func (m *Merger) Attach(src source.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return ErrStopped
	}
	m.active++
	m.attached = true
	m.wg.Add(1)
	go m.branch(src)
	return nil
}

// Items is the merged stream. It is never closed; select on Done as well.
func (m *Merger) Items() <-chan source.Item {
	return m.out
}

// Done is closed when every attached branch has ended. It stays open
// until at least one branch was attached.
func (m *Merger) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until all branches have exited.
func (m *Merger) Wait() {
	m.wg.Wait()
}

// Exits returns the branches that have ended so far, in the order they
// ended.
func (m *Merger) Exits() []Exit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Exit, len(m.exits))
	copy(out, m.exits)
	return out
}

// Active returns the number of running branches.
func (m *Merger) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Merger) branch(src source.Source) {
	defer m.wg.Done()

	name := src.Name()
	err := m.run(src)
	m.report(name, err)

	m.mu.Lock()
	m.exits = append(m.exits, Exit{Source: name, Err: err})
	m.active--
	if m.active == 0 && m.attached && !m.finished {
		m.finished = true
		close(m.done)
	}
	m.mu.Unlock()
}

// run calls src.Run with panic recovery.
func (m *Merger) run(src source.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			m.logger.Error("source panic",
				"source", src.Name(),
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%s: source panic (correlation_id: %s)", src.Name(), correlationID)
		}
	}()
	return src.Run(m.ctx, m.emit)
}

// emit queues item and blocks until the pump has handed it over.
func (m *Merger) emit(ctx context.Context, item source.Item) error {
	p := &pending{item: item, ack: make(chan error, 1)}
	m.mu.Lock()
	m.queue = append(m.queue, p)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}

	var err error
	select {
	case err = <-p.ack:
		return err
	case <-ctx.Done():
		err = ctx.Err()
	case <-m.ctx.Done():
		err = m.ctx.Err()
	}
	if m.withdraw(p) {
		return err
	}
	// the pump already took p and always acknowledges it
	return <-p.ack
}

// withdraw removes p from the queue. It reports false when the pump has
// already taken it.
func (m *Merger) withdraw(p *pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queue {
		if q == p {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Merger) next() *pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	p := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return p
}

// pump hands queued items to the consumer one at a time. It stops when the
// merge is cancelled or every branch has ended.
func (m *Merger) pump() {
	for {
		p := m.next()
		if p == nil {
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			case <-m.ctx.Done():
				return
			}
		}
		select {
		case m.out <- p.item:
			p.ack <- nil
		case <-m.ctx.Done():
			p.ack <- m.ctx.Err()
			return
		}
	}
}

func (m *Merger) report(name string, err error) {
	logger := m.logger.With("source", name)
	switch {
	case err == nil:
		logger.Info("source finished")
	case m.ctx.Err() != nil && errors.Is(err, m.ctx.Err()):
		logger.Debug("source cancelled")
	default:
		logger.Error("source stopped", "kind", source.Classify(err).String(), "error", err)
	}
}
