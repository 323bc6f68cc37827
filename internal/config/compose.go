package config

import (
	"errors"
	"fmt"
)

const (
	// GlobalClass marks the entry holding defaults for the rest of its list.
	GlobalClass = "global"

	// AuthKey is where credentials are attached in source options.
	AuthKey = "auth"
)

// ErrDuplicateGlobal is returned when a list carries more than one global entry.
var ErrDuplicateGlobal = errors.New("duplicate global config")

// Layers is the two-layer view of one entry. Lookups consult Overrides
// first, then Defaults. Only top-level keys are merged: a nested map in
// Overrides replaces the whole map from Defaults.
type Layers struct {
	Defaults  Options
	Overrides Options
}

// Get returns the value for key and whether any layer defines it.
func (l Layers) Get(key string) (any, bool) {
	if v, ok := l.Overrides[key]; ok {
		return v, true
	}
	v, ok := l.Defaults[key]
	return v, ok
}

// Flatten materializes the layers into one map.
func (l Layers) Flatten() Options {
	out := make(Options, len(l.Defaults)+len(l.Overrides))
	for k, v := range l.Defaults {
		if k == ClassKey {
			continue
		}
		out[k] = v
	}
	for k, v := range l.Overrides {
		out[k] = v
	}
	return out
}

// Entry is a composed configuration ready for a registry constructor.
type Entry struct {
	Class   string
	Index   int // position in the original list
	Options Options
}

// Compose resolves the global defaults of one list. The first global entry
// becomes the defaults layer; a second one fails with ErrDuplicateGlobal
// before any entry is returned. extra, when non-nil, is attached under
// AuthKey (used for source credentials only).
func Compose(entries []Options, extra Options) ([]Entry, error) {
	var (
		defaults Options
		rest     []Entry
	)

	for i, raw := range entries {
		class, err := raw.Class()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if class == GlobalClass {
			if defaults != nil {
				return nil, fmt.Errorf("entry %d: %w", i, ErrDuplicateGlobal)
			}
			defaults = raw
			continue
		}
		rest = append(rest, Entry{Class: class, Index: i, Options: raw})
	}

	for i := range rest {
		merged := Layers{Defaults: defaults, Overrides: rest[i].Options}.Flatten()
		if extra != nil {
			merged[AuthKey] = extra
		}
		rest[i].Options = merged
	}

	return rest, nil
}
