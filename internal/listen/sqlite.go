package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/birdman/internal/source"
	"github.com/ppiankov/birdman/internal/store"
)

const (
	sqliteClass = "sqlite"
	pruneEvery  = time.Hour
)

// SQLiteConfig configures the sqlite listener.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	// RetainDays drops items crawled longer ago than this. Zero keeps
	// everything.
	RetainDays int `yaml:"retain_days"`
}

// SQLiteListener upserts items into the store's items table.
type SQLiteListener struct {
	name   string
	path   string
	retain int
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	store      *store.Store
	lastPruned time.Time
}

// NewSQLiteListener opens the database at cfg.Path and prunes it once.
func NewSQLiteListener(ctx context.Context, name string, cfg SQLiteConfig, logger *slog.Logger) (*SQLiteListener, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if cfg.RetainDays < 0 {
		return nil, fmt.Errorf("sqlite: retain_days must be >= 0, got %d", cfg.RetainDays)
	}

	l := &SQLiteListener{
		name:   name,
		path:   cfg.Path,
		retain: cfg.RetainDays,
		logger: logger.With("component", "listener", "listener", name),
		now:    time.Now,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	l.pruneLocked(ctx)
	return l, nil
}

func (l *SQLiteListener) Name() string { return l.name }

func (l *SQLiteListener) openLocked() error {
	if l.store != nil {
		return nil
	}
	st, err := store.Open(l.path)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	l.store = st
	return nil
}

// Listen stores item, replacing an earlier copy with the same id.
func (l *SQLiteListener) Listen(ctx context.Context, item source.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openLocked(); err != nil {
		return err
	}
	if err := l.store.InsertItem(ctx, item); err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	if l.retain > 0 && l.now().Sub(l.lastPruned) >= pruneEvery {
		l.pruneLocked(ctx)
	}
	return nil
}

func (l *SQLiteListener) pruneLocked(ctx context.Context) {
	if l.retain <= 0 {
		return
	}
	l.lastPruned = l.now()

	n, err := l.store.PruneOld(ctx, l.retain)
	if err != nil {
		l.logger.Warn("prune items", "error", err)
		return
	}
	if n > 0 {
		l.logger.Info("pruned items", "count", n, "retain_days", l.retain)
	}
}

// Close closes the database. A later Listen reopens it.
func (l *SQLiteListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}

func sqliteName(path string) string {
	return sqliteClass + ":" + path
}
