// Package store keeps crawl state and collected items in a SQLite file.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/birdman/internal/source"
)

const snippetRunes = 200

var errNotInitialized = errors.New("store is not initialized")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// CursorRow is one persisted source cursor.
type CursorRow struct {
	Source    string
	Cursor    source.Cursor
	UpdatedAt time.Time
}

// Item is one stored crawl result.
type Item struct {
	ID        int64
	Source    string
	ItemID    int64
	URL       string
	Title     string
	Nickname  string
	Snippet   string
	TextHash  string
	Payload   map[string]any
	WrittenAt time.Time
	CrawledAt time.Time
}

// SourceStats aggregates the stored items of one source.
type SourceStats struct {
	Source    string
	Items     int
	NewestID  int64
	LastCrawl time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Listeners and pollers write from different goroutines.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadCursor returns the stored cursor for name and whether one exists.
func (s *Store) LoadCursor(ctx context.Context, name string) (source.Cursor, bool, error) {
	if s == nil || s.db == nil {
		return source.Cursor{}, false, errNotInitialized
	}

	var (
		lastID   int64
		lastSeen string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT last_id, last_seen_at FROM cursors WHERE source = ?", name,
	).Scan(&lastID, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return source.Cursor{}, false, nil
	}
	if err != nil {
		return source.Cursor{}, false, fmt.Errorf("load cursor %s: %w", name, err)
	}

	seenAt, err := parseTime(lastSeen)
	if err != nil {
		return source.Cursor{}, false, fmt.Errorf("parse last_seen_at: %w", err)
	}
	return source.Cursor{LastID: lastID, LastSeenAt: seenAt}, true, nil
}

// SaveCursor stores c for name. The stored cursor only moves forward.
func (s *Store) SaveCursor(ctx context.Context, name string, c source.Cursor) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	var (
		lastID   int64
		lastSeen string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT last_id, last_seen_at FROM cursors WHERE source = ?", name,
	).Scan(&lastID, &lastSeen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		_ = tx.Rollback()
		return fmt.Errorf("read cursor %s: %w", name, err)
	default:
		seenAt, err := parseTime(lastSeen)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("parse last_seen_at: %w", err)
		}
		c = source.Cursor{LastID: lastID, LastSeenAt: seenAt}.Advance(c)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cursors (source, last_id, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_id = excluded.last_id,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`, name, c.LastID, formatCursorTime(c.LastSeenAt), formatTime(s.now()))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save cursor %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cursor: %w", err)
	}
	return nil
}

// ListCursors returns every stored cursor ordered by source name.
func (s *Store) ListCursors(ctx context.Context) ([]CursorRow, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT source, last_id, last_seen_at, updated_at FROM cursors ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CursorRow
	for rows.Next() {
		var (
			row               CursorRow
			lastSeen, updated string
		)
		if err := rows.Scan(&row.Source, &row.Cursor.LastID, &lastSeen, &updated); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		if row.Cursor.LastSeenAt, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parse last_seen_at: %w", err)
		}
		if row.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return out, nil
}

// DeleteCursor forgets the cursor for name so the next run starts from
// the configured current_post_id.
func (s *Store) DeleteCursor(ctx context.Context, name string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotInitialized
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM cursors WHERE source = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete cursor %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertItem upserts one crawled item keyed by (source, id).
func (s *Store) InsertItem(ctx context.Context, it source.Item) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(it.Source) == "" {
		return errors.New("source is required")
	}
	itemID, ok := payloadInt(it.Payload["id"])
	if !ok {
		return fmt.Errorf("item from %s has no numeric id", it.Source)
	}

	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	text := it.String("body")
	if text == "" {
		text = it.String("title")
	}
	snippet := firstNRunes(strings.TrimSpace(text), snippetRunes)

	crawledAt := s.now()
	if raw := it.String("crawled_at"); raw != "" {
		if t, err := parseTime(raw); err == nil {
			crawledAt = t
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (
			source, item_id, url, title, nickname, snippet, text_hash, payload, written_at, crawled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, item_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			nickname = excluded.nickname,
			snippet = excluded.snippet,
			text_hash = excluded.text_hash,
			payload = excluded.payload,
			written_at = excluded.written_at,
			crawled_at = excluded.crawled_at
	`,
		it.Source,
		itemID,
		nullString(it.String("url")),
		nullString(it.String("title")),
		nullString(it.String("nickname")),
		snippet,
		textHash(text),
		string(payload),
		it.String("written_at"),
		formatTime(crawledAt),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// RecentItems returns up to limit items, newest crawl first. An empty
// sourceName returns items of every source.
func (s *Store) RecentItems(ctx context.Context, sourceName string, limit int) ([]Item, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, source, item_id, url, title, nickname, snippet, text_hash, payload, written_at, crawled_at
		FROM items`
	var args []any
	if sourceName != "" {
		query += " WHERE source = ?"
		args = append(args, sourceName)
	}
	query += " ORDER BY crawled_at DESC, item_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// PruneOld deletes items crawled more than retainDays ago. Returns the
// number of items removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(s.now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE crawled_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats returns per-source aggregates for items crawled since the given time.
func (s *Store) Stats(ctx context.Context, since time.Time) ([]SourceStats, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*) AS total, MAX(item_id) AS newest, MAX(crawled_at) AS last_crawl
		FROM items
		WHERE crawled_at >= ?
		GROUP BY source
		ORDER BY source
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get source stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var (
			st        SourceStats
			lastCrawl string
		)
		if err := rows.Scan(&st.Source, &st.Items, &st.NewestID, &lastCrawl); err != nil {
			return nil, fmt.Errorf("scan source stats: %w", err)
		}
		if st.LastCrawl, err = parseTime(lastCrawl); err != nil {
			return nil, fmt.Errorf("parse last_crawl: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (Item, error) {
	var (
		it                        Item
		urlVal, titleVal, nickVal sql.NullString
		payload                   string
		writtenAt, crawledAt      string
	)
	if err := scanner.Scan(
		&it.ID,
		&it.Source,
		&it.ItemID,
		&urlVal,
		&titleVal,
		&nickVal,
		&it.Snippet,
		&it.TextHash,
		&payload,
		&writtenAt,
		&crawledAt,
	); err != nil {
		return Item{}, fmt.Errorf("scan item: %w", err)
	}
	it.URL = urlVal.String
	it.Title = titleVal.String
	it.Nickname = nickVal.String

	if err := json.Unmarshal([]byte(payload), &it.Payload); err != nil {
		return Item{}, fmt.Errorf("decode payload: %w", err)
	}

	var err error
	if writtenAt != "" {
		// Sources report written_at in their own formats; keep what parses.
		if t, perr := parseTime(writtenAt); perr == nil {
			it.WrittenAt = t
		}
	}
	if it.CrawledAt, err = parseTime(crawledAt); err != nil {
		return Item{}, fmt.Errorf("parse crawled_at: %w", err)
	}
	return it, nil
}

func payloadInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// formatCursorTime keeps the zero time as "" so it reads back as zero.
func formatCursorTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
