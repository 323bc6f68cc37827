package registry

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New[func() int]("source")

	if err := r.Register("one", func() int { return 1 }); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctor, err := r.Lookup("one")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got := ctor(); got != 1 {
		t.Errorf("ctor() = %d, want 1", got)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New[func() int]("source")
	_ = r.Register("dup", func() int { return 1 })

	err := r.Register("dup", func() int { return 2 })
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	// first binding wins
	ctor, _ := r.Lookup("dup")
	if got := ctor(); got != 1 {
		t.Errorf("ctor() = %d, want 1 (first registration kept)", got)
	}
}

func TestRegisterEmptyName(t *testing.T) {
	r := New[int]("listener")
	if err := r.Register("  ", 1); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestLookupNotFound(t *testing.T) {
	r := New[int]("listener")
	_, err := r.Lookup("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	sources := New[string]("source")
	listeners := New[string]("listener")

	if err := sources.Register("text", "source-text"); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if err := listeners.Register("text", "listener-text"); err != nil {
		t.Fatalf("same name in other registry must succeed: %v", err)
	}

	s, _ := sources.Lookup("text")
	l, _ := listeners.Lookup("text")
	if s == l {
		t.Errorf("registries share a namespace: %q == %q", s, l)
	}
}

func TestNamesSorted(t *testing.T) {
	r := New[int]("source")
	r.MustRegister("rss", 1)
	r.MustRegister("dcinside", 2)
	r.MustRegister("hn", 3)

	want := []string{"dcinside", "hn", "rss"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := New[int]("source")
	r.MustRegister("x", 1)

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	r.MustRegister("x", 2)
}
