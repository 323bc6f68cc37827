package source

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeCollector writes a shell script collector and returns its path.
func writeCollector(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell collectors need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "collector.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write collector: %v", err)
	}
	return path
}

func TestParseRecord(t *testing.T) {
	cc := &CommandCrawler{name: "command.test"}

	tests := []struct {
		name    string
		line    string
		wantID  int64
		wantErr bool
	}{
		{"full", `{"id": 100, "written_at": "2026-02-16T10:00:00Z", "text": "hello"}`, 100, false},
		{"no date", `{"id": 7}`, 7, false},
		{"missing id", `{"text": "x"}`, 0, true},
		{"string id", `{"id": "100"}`, 0, true},
		{"fractional id", `{"id": 1.5}`, 0, true},
		{"bad date", `{"id": 1, "written_at": "yesterday"}`, 0, true},
		{"invalid json", `{not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := cc.parseRecord([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.ID != tt.wantID {
				t.Errorf("id = %d, want %d", rec.ID, tt.wantID)
			}
		})
	}

	rec, _ := cc.parseRecord([]byte(`{"id": 1, "written_at": "2026-02-16T10:00:00Z"}`))
	if want := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC); !rec.PostedAt.Equal(want) {
		t.Errorf("posted at = %v, want %v", rec.PostedAt, want)
	}
}

func TestNewCommandCrawler(t *testing.T) {
	if _, err := NewCommandCrawler("x", CommandConfig{}); err == nil {
		t.Error("expected error for empty command")
	}
	_, err := NewCommandCrawler("x", CommandConfig{Command: "collect", CredentialsKey: "telegram"})
	if err == nil {
		t.Error("expected error for missing credentials")
	}
	if got := commandName("/opt/bin/collect-tg"); got != "command.collect-tg" {
		t.Errorf("commandName = %q", got)
	}
}

func TestCommandCrawler_Crawl(t *testing.T) {
	script := writeCollector(t, `
echo "{\"id\": 3, \"text\": \"$API_ID\"}"
echo ""
echo '{"id": 2, "text": "b"}'
echo '{"id": 1, "text": "c"}'
`)
	c, err := NewCommandCrawler("command.test", CommandConfig{
		Command:        script,
		CredentialsKey: "telegram",
		Auth:           map[string]any{"telegram": map[string]any{"api_id": 12345}},
	})
	if err != nil {
		t.Fatalf("NewCommandCrawler: %v", err)
	}

	var got []Record
	if err := c.Crawl(context.Background(), func(rec Record) bool {
		got = append(got, rec)
		return true
	}); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].Payload["text"] != "12345" {
		t.Errorf("credential not exported: %v", got[0].Payload["text"])
	}
}

func TestCommandCrawler_StopEarly(t *testing.T) {
	script := writeCollector(t, `
echo '{"id": 2}'
echo '{"id": 1}'
sleep 30
`)
	c, _ := NewCommandCrawler("command.test", CommandConfig{Command: script})

	start := time.Now()
	n := 0
	if err := c.Crawl(context.Background(), func(Record) bool { n++; return false }); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if n != 1 {
		t.Errorf("visited %d, want 1", n)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("collector was not stopped")
	}
}

func TestCommandCrawler_FailureIsTransient(t *testing.T) {
	script := writeCollector(t, `
echo "rate limited" >&2
exit 3
`)
	c, _ := NewCommandCrawler("command.test", CommandConfig{Command: script})

	err := c.Crawl(context.Background(), func(Record) bool { return true })
	if Classify(err) != KindTransient {
		t.Fatalf("err = %v, want transient", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("stderr missing from %q", err)
	}
}

func TestCommandCrawler_BadOutputIsStructural(t *testing.T) {
	script := writeCollector(t, `echo 'not json'`)
	c, _ := NewCommandCrawler("command.test", CommandConfig{Command: script})

	err := c.Crawl(context.Background(), func(Record) bool { return true })
	if Classify(err) != KindStructural {
		t.Fatalf("err = %v, want structural", err)
	}
}

func TestCommandCrawler_NotFound(t *testing.T) {
	c, _ := NewCommandCrawler("command.test", CommandConfig{Command: "birdman-no-such-collector"})

	err := c.Crawl(context.Background(), func(Record) bool { return true })
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != KindUnknown {
		t.Errorf("kind = %s, want unknown", Classify(err))
	}
}
