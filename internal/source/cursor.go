package source

import (
	"context"
	"sync"
	"time"
)

// Cursor records the newest item a source has already emitted.
type Cursor struct {
	LastID     int64
	LastSeenAt time.Time
}

// Seen reports whether a record was already emitted in an earlier epoch:
// its id is not above LastID, or its timestamp is not after LastSeenAt.
// The timestamp test is skipped when either side is the zero time.
func (c Cursor) Seen(id int64, postedAt time.Time) bool {
	if id <= c.LastID {
		return true
	}
	if c.LastSeenAt.IsZero() || postedAt.IsZero() {
		return false
	}
	return !postedAt.After(c.LastSeenAt)
}

// Advance returns the per-field maximum of c and next, so a cursor never
// moves backwards.
func (c Cursor) Advance(next Cursor) Cursor {
	out := c
	if next.LastID > out.LastID {
		out.LastID = next.LastID
	}
	if next.LastSeenAt.After(out.LastSeenAt) {
		out.LastSeenAt = next.LastSeenAt
	}
	return out
}

// IsZero reports whether the cursor means "crawl everything".
func (c Cursor) IsZero() bool {
	return c.LastID == 0 && c.LastSeenAt.IsZero()
}

// CursorStore persists cursors by source name.
type CursorStore interface {
	LoadCursor(ctx context.Context, source string) (Cursor, bool, error)
	SaveCursor(ctx context.Context, source string, c Cursor) error
}

// MemoryCursors is an in-process CursorStore. It keeps cursors across
// orchestrator restarts but not across process restarts.
type MemoryCursors struct {
	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewMemoryCursors creates an empty store.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{cursors: make(map[string]Cursor)}
}

func (m *MemoryCursors) LoadCursor(_ context.Context, source string) (Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[source]
	return c, ok, nil
}

func (m *MemoryCursors) SaveCursor(_ context.Context, source string, c Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[source] = m.cursors[source].Advance(c)
	return nil
}
