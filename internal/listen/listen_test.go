package listen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/privacy"
	"github.com/ppiankov/birdman/internal/registry"
	"github.com/ppiankov/birdman/internal/source"
	"github.com/ppiankov/birdman/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleItem() source.Item {
	return source.Item{Source: "dcinside.cat", Payload: map[string]any{
		"source":     "dcinside.cat",
		"id":         int64(105),
		"url":        "https://gall.dcinside.com/board/view/?id=cat&no=105",
		"title":      "고양이 사진",
		"nickname":   "냥집사",
		"body":       "first line\nsecond line",
		"written_at": "2024-05-01T12:42:00+09:00",
		"crawled_at": "2024-05-01T04:00:00Z",
	}}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestTextListener_DefaultFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "items.log")
	l, err := NewTextListener("text", TextConfig{File: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := l.Listen(context.Background(), sampleItem()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	partial := source.Item{Source: "rss.x", Payload: map[string]any{"url": "https://x.org/1"}}
	if err := l.Listen(context.Background(), partial); err != nil {
		t.Fatalf("listen partial: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := "https://gall.dcinside.com/board/view/?id=cat&no=105\t냥집사\t2024-05-01T12:42:00+09:00\n" +
		"https://x.org/1\t\t\n"
	if got := readFile(t, path); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
	if _, ok := partial.Payload["nickname"]; ok {
		t.Error("listener modified the shared payload")
	}
}

func TestTextListener_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.log")
	l, err := NewTextListener("text", TextConfig{
		File:         path,
		Format:       "{{.title}}▁{{.body}}",
		MustHaveKeys: []string{"title", "body"},
		SingleLine:   true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = l.Close() }()

	item := sampleItem()
	if err := l.Listen(context.Background(), item); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if got := readFile(t, path); got != "고양이 사진▁first line second line\n" {
		t.Errorf("file = %q", got)
	}
	if item.Payload["body"] != "first line\nsecond line" {
		t.Error("single_line rewrote the shared payload")
	}
}

func TestTextListener_MissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.log")
	l, err := NewTextListener("text", TextConfig{File: path, Format: "{{.score}}"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = l.Close() }()

	if err := l.Listen(context.Background(), sampleItem()); err == nil {
		t.Fatal("expected error for key outside must_have_keys")
	}
}

func TestTextListener_BadFormat(t *testing.T) {
	_, err := NewTextListener("text", TextConfig{File: filepath.Join(t.TempDir(), "x"), Format: "{{.url"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTextListener_ReopenAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	l, err := NewTextListener("text", TextConfig{File: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = l.Listen(context.Background(), sampleItem())
	if err := l.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := l.Listen(context.Background(), sampleItem()); err != nil {
		t.Fatalf("listen after close: %v", err)
	}
	_ = l.Close()

	if got := strings.Count(readFile(t, path), "\n"); got != 2 {
		t.Errorf("file has %d lines, want 2", got)
	}
}

func TestJSONLListener_Stdout(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewJSONLListener("jsonl", JSONLConfig{}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = l.Listen(context.Background(), sampleItem())
	_ = l.Listen(context.Background(), sampleItem())
	_ = l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["title"] != "고양이 사진" || got["id"] != float64(105) {
		t.Errorf("record = %v", got)
	}
	if !strings.Contains(lines[0], "&no=105") {
		t.Error("url was HTML-escaped")
	}
}

func TestJSONLListener_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.jsonl")
	l, err := NewJSONLListener("jsonl", JSONLConfig{File: path}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = l.Listen(context.Background(), sampleItem())
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := readFile(t, path); strings.Count(got, "\n") != 1 {
		t.Errorf("file = %q", got)
	}
}

func TestSQLiteListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	l, err := NewSQLiteListener(ctx, "sqlite", SQLiteConfig{Path: path, RetainDays: 30}, quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := l.Listen(ctx, sampleItem()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := l.Listen(ctx, sampleItem()); err != nil {
		t.Fatalf("listen again: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	next := sampleItem()
	next.Payload["id"] = int64(106)
	if err := l.Listen(ctx, next); err != nil {
		t.Fatalf("listen after close: %v", err)
	}
	_ = l.Close()

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()
	items, err := st.RecentItems(ctx, "dcinside.cat", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
}

func TestSQLiteListener_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewSQLiteListener(ctx, "sqlite", SQLiteConfig{}, quietLogger()); err == nil {
		t.Error("expected error without path")
	}
	cfg := SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db"), RetainDays: -1}
	if _, err := NewSQLiteListener(ctx, "sqlite", cfg, quietLogger()); err == nil {
		t.Error("expected error for negative retain_days")
	}
}

func TestConsoleListener(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewConsoleListener("console", ConsoleConfig{Color: "never", BodyChars: 10}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.now = func() time.Time { return time.Date(2024, 5, 1, 6, 42, 0, 0, time.UTC) }

	if err := l.Listen(context.Background(), sampleItem()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"[dcinside.cat] 고양이 사진",
		"냥집사 · 3 hours ago",
		"first line…",
		"https://gall.dcinside.com/board/view/?id=cat&no=105",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colour codes with color=never")
	}
}

func TestConsoleListener_BadColor(t *testing.T) {
	if _, err := NewConsoleListener("console", ConsoleConfig{Color: "rainbow"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown color mode")
	}
}

type recordingListener struct {
	items []source.Item
}

func (r *recordingListener) Name() string { return "recording" }

func (r *recordingListener) Listen(_ context.Context, item source.Item) error {
	r.items = append(r.items, item)
	return nil
}

func (r *recordingListener) Close() error { return nil }

func TestWithRedaction(t *testing.T) {
	rec := &recordingListener{}
	red, err := privacy.New([]string{`냥\S+`, `cat`}, keepKeys...)
	if err != nil {
		t.Fatalf("redactor: %v", err)
	}
	l := WithRedaction(rec, red)

	item := sampleItem()
	if err := l.Listen(context.Background(), item); err != nil {
		t.Fatalf("listen: %v", err)
	}
	got := rec.items[0].Payload
	if got["nickname"] != "[REDACTED]" {
		t.Errorf("nickname = %v", got["nickname"])
	}
	if got["url"] != item.Payload["url"] || got["source"] != "dcinside.cat" {
		t.Errorf("kept keys were rewritten: %v", got)
	}
	if item.Payload["nickname"] != "냥집사" {
		t.Error("shared payload modified")
	}
}

func TestWithRedaction_Empty(t *testing.T) {
	rec := &recordingListener{}
	if l := WithRedaction(rec, nil); l != Listener(rec) {
		t.Error("nil redactor should return the listener unchanged")
	}
}

func TestNewRegistry_Classes(t *testing.T) {
	reg := NewRegistry(io.Discard)
	want := []string{"console", "jsonl", "sqlite", "text"}
	got := reg.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("names = %v, want %v", got, want)
	}
}

func TestBuild(t *testing.T) {
	reg := NewRegistry(io.Discard)
	ctx := context.Background()
	dir := t.TempDir()
	env := Env{Logger: quietLogger()}

	tests := []struct {
		name        string
		class       string
		opts        config.Options
		wantName    string
		wantSources []string
		wantErr     error
	}{
		{"text", "text", config.Options{"file": filepath.Join(dir, "a.log")}, "text:a.log", nil, nil},
		{"text named", "text", config.Options{"file": filepath.Join(dir, "b.log"), "name": "archive", "sources": []any{"rss.x"}}, "archive", []string{"rss.x"}, nil},
		{"jsonl stdout", "jsonl", config.Options{}, "jsonl:stdout", nil, nil},
		{"sqlite", "sqlite", config.Options{"path": filepath.Join(dir, "s.db")}, "sqlite:" + filepath.Join(dir, "s.db"), nil, nil},
		{"console", "console", config.Options{"redact": []any{`\d+`}}, "console", nil, nil},
		{"unknown class", "slack", config.Options{}, "", nil, registry.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Build(ctx, reg, tt.class, tt.opts, env)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			defer func() { _ = b.Listener.Close() }()
			if b.Name != tt.wantName {
				t.Errorf("name = %q, want %q", b.Name, tt.wantName)
			}
			if strings.Join(b.Sources, ",") != strings.Join(tt.wantSources, ",") {
				t.Errorf("sources = %v, want %v", b.Sources, tt.wantSources)
			}
		})
	}
}

func TestBuild_BadRedactPattern(t *testing.T) {
	reg := NewRegistry(io.Discard)
	_, err := Build(context.Background(), reg, "console", config.Options{"redact": []any{"("}}, Env{})
	if err == nil {
		t.Fatal("expected error for invalid redact pattern")
	}
}
