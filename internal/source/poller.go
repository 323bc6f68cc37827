package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRecrawlInterval = 30 * time.Minute
	DefaultTimeout         = 5 * time.Second
	DefaultPageInterval    = 500 * time.Millisecond
	DefaultMaxRetries      = 3
	DefaultMaxFailedEpochs = 5
	DefaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:59.0) Gecko/20100101 Firefox/59.0"

	maxEpochRetryDelay = time.Minute
	tracerName         = "github.com/ppiankov/birdman/internal/source"
)

// PollerConfig holds the options shared by every polling source.
type PollerConfig struct {
	Name            string            `yaml:"name"`
	RecrawlInterval time.Duration     `yaml:"recrawl_interval"`
	Timeout         time.Duration     `yaml:"timeout"`
	PageInterval    time.Duration     `yaml:"page_interval"`
	MaxRetries      int               `yaml:"max_retries"`
	MaxFailedEpochs int               `yaml:"max_failed_epochs"`
	CurrentPostID   int64             `yaml:"current_post_id"`
	CurrentDatetime time.Time         `yaml:"current_datetime"`
	UserAgent       string            `yaml:"user_agent"`
	Headers         map[string]string `yaml:"headers"`
}

// DefaultPollerConfig returns the defaults applied before decoding options.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		RecrawlInterval: DefaultRecrawlInterval,
		Timeout:         DefaultTimeout,
		PageInterval:    DefaultPageInterval,
		MaxRetries:      DefaultMaxRetries,
		MaxFailedEpochs: DefaultMaxFailedEpochs,
		UserAgent:       DefaultUserAgent,
	}
}

// State is the poller's position in its lifecycle.
type State string

const (
	StateInit      State = "init"
	StateCrawling  State = "crawling"
	StateSleeping  State = "sleeping"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Poller turns a Crawler into a Source: it runs crawl epochs, filters out
// records the cursor has already seen and commits the cursor once an
// epoch completes.
type Poller struct {
	name    string
	crawler Crawler
	cfg     PollerConfig
	cursors CursorStore
	logger  *slog.Logger
	tracer  trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	cursor   Cursor
	state    State
	restored bool
}

// NewPoller wraps crawler. The initial cursor comes from cfg and is
// advanced by any cursor found in env.Cursors when Run starts.
func NewPoller(name string, crawler Crawler, cfg PollerConfig, env Env) *Poller {
	tracer := env.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Poller{
		name:    name,
		crawler: crawler,
		cfg:     cfg,
		cursors: env.Cursors,
		logger:  env.logger().With("component", "source", "source", name),
		tracer:  tracer,
		now:     time.Now,
		sleep:   sleepContext,
		cursor:  Cursor{LastID: cfg.CurrentPostID, LastSeenAt: cfg.CurrentDatetime},
		state:   StateInit,
	}
}

func (p *Poller) Name() string { return p.name }

// Cursor returns the committed cursor.
func (p *Poller) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// PollEpoch performs one newest-to-oldest crawl. It emits every record the
// committed cursor has not seen and stops at the first one it has. The
// returned cursor is the pending value for the next epoch; the committed
// cursor is left untouched so an aborted epoch cannot move it.
func (p *Poller) PollEpoch(ctx context.Context, emit EmitFunc) (Cursor, error) {
	ctx, span := p.tracer.Start(ctx, "source.epoch", trace.WithAttributes(
		attribute.String("source", p.name),
	))
	defer span.End()

	current := p.Cursor()
	next := current
	first := true
	emitted := 0

	var emitErr error
	err := p.crawler.Crawl(ctx, func(rec Record) bool {
		if current.Seen(rec.ID, rec.PostedAt) {
			return false
		}
		if first {
			next = current.Advance(Cursor{LastID: rec.ID, LastSeenAt: rec.PostedAt})
			first = false
		}
		if err := emit(ctx, p.item(rec)); err != nil {
			emitErr = err
			return false
		}
		emitted++
		return true
	})
	if err == nil {
		err = emitErr
	}

	span.SetAttributes(attribute.Int("items", emitted))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return current, err
	}
	return next, nil
}

// item adds the bookkeeping keys every listener can rely on.
func (p *Poller) item(rec Record) Item {
	payload := rec.Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["source"] = p.name
	payload["id"] = rec.ID
	if _, ok := payload["written_at"]; !ok && !rec.PostedAt.IsZero() {
		payload["written_at"] = rec.PostedAt.Format(time.RFC3339)
	}
	payload["crawled_at"] = p.now().Format(time.RFC3339)
	return Item{Source: p.name, Payload: payload}
}

// Run loops over epochs until ctx is done or the source fails. A failed
// epoch leaves the cursor alone; transient failures retry the epoch until
// MaxFailedEpochs consecutive failures, structural and unclassified ones
// stop the source immediately.
func (p *Poller) Run(ctx context.Context, emit EmitFunc) error {
	p.restore(ctx)
	p.logger.Info("source started", "cursor_id", p.Cursor().LastID)

	failures := 0
	for {
		p.setState(StateCrawling)
		p.logger.Debug("start of crawling epoch")

		next, err := p.PollEpoch(ctx, emit)
		if ctx.Err() != nil {
			p.setState(StateCancelled)
			return ctx.Err()
		}

		if err != nil {
			switch Classify(err) {
			case KindTransient:
				failures++
				if failures > p.cfg.MaxFailedEpochs {
					p.setState(StateFailed)
					return fmt.Errorf("%s: %w after %d consecutive failed epochs: %w",
						p.name, ErrRetryBudgetExhausted, failures, err)
				}
				delay := epochRetryDelay(failures)
				p.logger.Warn("epoch failed, retrying",
					"error", err, "attempt", failures, "delay", delay.String())
				if err := p.sleep(ctx, delay); err != nil {
					p.setState(StateCancelled)
					return err
				}
				continue
			case KindStructural:
				p.setState(StateFailed)
				return err
			default:
				p.setState(StateFailed)
				return &UnknownError{Source: p.name, Err: err}
			}
		}

		failures = 0
		p.commit(ctx, next)
		p.logger.Debug("end of crawling epoch", "cursor_id", next.LastID)

		p.setState(StateSleeping)
		if err := p.sleep(ctx, p.cfg.RecrawlInterval); err != nil {
			p.setState(StateCancelled)
			return err
		}
	}
}

func (p *Poller) commit(ctx context.Context, next Cursor) {
	p.mu.Lock()
	p.cursor = p.cursor.Advance(next)
	committed := p.cursor
	p.mu.Unlock()

	if p.cursors == nil {
		return
	}
	if err := p.cursors.SaveCursor(ctx, p.name, committed); err != nil {
		p.logger.Warn("save cursor", "error", err)
	}
}

// restore folds the persisted cursor into the configured one, once.
func (p *Poller) restore(ctx context.Context) {
	p.mu.Lock()
	if p.restored || p.cursors == nil {
		p.mu.Unlock()
		return
	}
	p.restored = true
	p.mu.Unlock()

	stored, ok, err := p.cursors.LoadCursor(ctx, p.name)
	if err != nil {
		p.logger.Warn("load cursor", "error", err)
		return
	}
	if !ok {
		return
	}

	p.mu.Lock()
	p.cursor = p.cursor.Advance(stored)
	p.mu.Unlock()
}

// Close releases the crawler's resources.
func (p *Poller) Close() error {
	return p.crawler.Close()
}

func epochRetryDelay(failures int) time.Duration {
	d := time.Duration(failures) * time.Second
	if d > maxEpochRetryDelay {
		d = maxEpochRetryDelay
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
