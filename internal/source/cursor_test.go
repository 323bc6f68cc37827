package source

import (
	"context"
	"testing"
	"time"
)

func TestCursor_Seen(t *testing.T) {
	base := time.Date(2021, 10, 20, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		cursor Cursor
		id     int64
		at     time.Time
		want   bool
	}{
		{"zero cursor", Cursor{}, 1, base, false},
		{"id below", Cursor{LastID: 100}, 99, time.Time{}, true},
		{"id equal", Cursor{LastID: 100}, 100, time.Time{}, true},
		{"id above", Cursor{LastID: 100}, 101, time.Time{}, false},
		{"older timestamp", Cursor{LastSeenAt: base}, 5, base.Add(-time.Minute), true},
		{"equal timestamp", Cursor{LastSeenAt: base}, 5, base, true},
		{"newer timestamp", Cursor{LastSeenAt: base}, 5, base.Add(time.Minute), false},
		{"undated record", Cursor{LastSeenAt: base}, 5, time.Time{}, false},
		{"id wins over time", Cursor{LastID: 10, LastSeenAt: base}, 9, base.Add(time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cursor.Seen(tt.id, tt.at); got != tt.want {
				t.Errorf("Seen(%d, %v) = %v, want %v", tt.id, tt.at, got, tt.want)
			}
		})
	}
}

func TestCursor_Advance(t *testing.T) {
	base := time.Date(2021, 10, 20, 0, 0, 0, 0, time.UTC)
	c := Cursor{LastID: 100, LastSeenAt: base}

	got := c.Advance(Cursor{LastID: 90, LastSeenAt: base.Add(time.Hour)})
	if got.LastID != 100 {
		t.Errorf("id moved back to %d", got.LastID)
	}
	if !got.LastSeenAt.Equal(base.Add(time.Hour)) {
		t.Errorf("timestamp = %v", got.LastSeenAt)
	}

	got = c.Advance(Cursor{LastID: 120})
	if got.LastID != 120 || !got.LastSeenAt.Equal(base) {
		t.Errorf("Advance = %+v", got)
	}
}

func TestMemoryCursors(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCursors()

	if _, ok, _ := m.LoadCursor(ctx, "a"); ok {
		t.Error("empty store reported a cursor")
	}
	_ = m.SaveCursor(ctx, "a", Cursor{LastID: 10})
	_ = m.SaveCursor(ctx, "a", Cursor{LastID: 5})

	c, ok, err := m.LoadCursor(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("LoadCursor: %v %v", ok, err)
	}
	if c.LastID != 10 {
		t.Errorf("cursor = %d, want 10", c.LastID)
	}
}
