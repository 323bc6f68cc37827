package merge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/birdman/internal/source"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource emits ids 1..count (forever when count is 0) and then
// returns err. A non-nil panicWith panics instead of emitting.
type fakeSource struct {
	name      string
	count     int
	err       error
	panicWith any
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Run(ctx context.Context, emit source.EmitFunc) error {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	for i := 1; f.count == 0 || i <= f.count; i++ {
		item := source.Item{Source: f.name, Payload: map[string]any{"id": int64(i)}}
		if err := emit(ctx, item); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeSource) Close() error { return nil }

func collect(t *testing.T, m *Merger) []source.Item {
	t.Helper()
	var items []source.Item
	timeout := time.After(5 * time.Second)
	for {
		select {
		case it := <-m.Items():
			items = append(items, it)
		case <-m.Done():
			return items
		case <-timeout:
			t.Fatalf("merge did not finish, got %d items", len(items))
		}
	}
}

func TestMerger_ArrivalOrderPerSource(t *testing.T) {
	m := New(context.Background(), quietLogger())
	if err := m.Attach(&fakeSource{name: "a", count: 5}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	items := collect(t, m)
	if len(items) != 5 {
		t.Fatalf("got %d items, want 5", len(items))
	}
	for i, it := range items {
		if it.Payload["id"] != int64(i+1) {
			t.Errorf("items[%d] id = %v", i, it.Payload["id"])
		}
	}
}

func TestMerger_Fairness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// endless sources emit in a tight loop without ever yielding
	m := New(ctx, quietLogger())
	_ = m.Attach(&fakeSource{name: "fast1"})
	_ = m.Attach(&fakeSource{name: "fast2"})

	const n = 20000
	counts := map[string]int{}
	var last string
	streak, maxStreak := 0, 0
	for i := 0; i < n; i++ {
		select {
		case it := <-m.Items():
			counts[it.Source]++
			if it.Source == last {
				streak++
			} else {
				last, streak = it.Source, 1
			}
			maxStreak = max(maxStreak, streak)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for items")
		}
	}
	cancel()
	m.Wait()

	for _, name := range []string{"fast1", "fast2"} {
		if counts[name] < n/4 {
			t.Errorf("%s got %d of %d items", name, counts[name], n)
		}
	}
	if maxStreak > 64 {
		t.Errorf("one source delivered %d items in a row", maxStreak)
	}
}

func TestMerger_ReadyBranchesTakeTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(ctx, quietLogger())
	names := []string{"a", "b", "c"}
	for _, name := range names {
		_ = m.Attach(&fakeSource{name: name})
	}

	// warm up until every branch has delivered once
	seen := map[string]bool{}
	var last string
	for len(seen) < len(names) {
		it := recvItem(t, m)
		seen[it.Source] = true
		last = it.Source
	}

	// With the last served branch queued again, no branch is between
	// emits, so the order is fixed by the queue.
	var got []string
	for i := 0; i < 30; i++ {
		waitQueued(t, m, last)
		it := recvItem(t, m)
		got = append(got, it.Source)
		last = it.Source
	}
	for i := 2; i < len(got); i++ {
		if got[i] == got[i-1] || got[i] == got[i-2] {
			t.Fatalf("served %v, want each source once per round", got)
		}
	}
}

func recvItem(t *testing.T, m *Merger) source.Item {
	t.Helper()
	select {
	case it := <-m.Items():
		return it
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for items")
		return source.Item{}
	}
}

// waitQueued waits until an item of the named source is queued.
func waitQueued(t *testing.T, m *Merger, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		m.mu.Lock()
		queued := false
		for _, p := range m.queue {
			if p.item.Source == name {
				queued = true
			}
		}
		m.mu.Unlock()
		if queued {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never queued again", name)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func TestMerger_Isolation(t *testing.T) {
	m := New(context.Background(), quietLogger())
	_ = m.Attach(&fakeSource{name: "panicky", panicWith: "boom"})
	_ = m.Attach(&fakeSource{name: "broken", err: &source.StructuralError{Source: "broken", Msg: "no rows"}})
	_ = m.Attach(&fakeSource{name: "healthy", count: 3})

	items := collect(t, m)
	m.Wait()

	healthy := 0
	for _, it := range items {
		if it.Source == "healthy" {
			healthy++
		}
	}
	if healthy != 3 {
		t.Errorf("healthy delivered %d items, want 3", healthy)
	}

	exits := map[string]error{}
	for _, e := range m.Exits() {
		exits[e.Source] = e.Err
	}
	if len(exits) != 3 {
		t.Fatalf("exits = %v", exits)
	}
	if err := exits["panicky"]; err == nil || !strings.Contains(err.Error(), "correlation_id") {
		t.Errorf("panic exit = %v", err)
	}
	if source.Classify(exits["broken"]) != source.KindStructural {
		t.Errorf("broken exit = %v", exits["broken"])
	}
	if exits["healthy"] != nil {
		t.Errorf("healthy exit = %v", exits["healthy"])
	}
}

func TestMerger_HotAttach(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(ctx, quietLogger())
	_ = m.Attach(&fakeSource{name: "first"})

	first := <-m.Items()
	if first.Source != "first" {
		t.Fatalf("first item from %q", first.Source)
	}

	if err := m.Attach(&fakeSource{name: "late", count: 1}); err != nil {
		t.Fatalf("attach while running: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case it := <-m.Items():
			if it.Source == "late" {
				cancel()
				m.Wait()
				return
			}
		case <-deadline:
			t.Fatal("late source never delivered")
		}
	}
}

func TestMerger_DoneRequiresAttach(t *testing.T) {
	m := New(context.Background(), quietLogger())
	select {
	case <-m.Done():
		t.Fatal("done closed before any attach")
	default:
	}
}

func TestMerger_AttachAfterDone(t *testing.T) {
	m := New(context.Background(), quietLogger())
	_ = m.Attach(&fakeSource{name: "once", count: 1})
	collect(t, m)

	if err := m.Attach(&fakeSource{name: "again", count: 1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("attach after done = %v, want ErrStopped", err)
	}
}

func TestMerger_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, quietLogger())
	_ = m.Attach(&fakeSource{name: "endless"})

	<-m.Items()
	cancel()
	collect(t, m)

	exits := m.Exits()
	if len(exits) != 1 || !errors.Is(exits[0].Err, context.Canceled) {
		t.Fatalf("exits = %+v", exits)
	}
	if m.Active() != 0 {
		t.Errorf("active = %d", m.Active())
	}
}
