package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// ClassKey names the registry entry an option map is built for.
const ClassKey = "class"

// ErrMissingClass is returned for an entry without a usable class key.
var ErrMissingClass = errors.New("missing class")

// Options is one raw configuration entry.
type Options map[string]any

// Class returns the entry's class name.
func (o Options) Class() (string, error) {
	raw, ok := o[ClassKey]
	if !ok {
		return "", ErrMissingClass
	}
	class, ok := raw.(string)
	if !ok || strings.TrimSpace(class) == "" {
		return "", fmt.Errorf("%w: class must be a non-empty string, got %v", ErrMissingClass, raw)
	}
	return strings.TrimSpace(class), nil
}

// Clone returns a shallow copy.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Decode fills target (a pointer to struct) from the options. Struct fields
// use yaml tags and embedded structs are flattened. Fields already set on
// target act as defaults. Durations accept numbers (seconds) or strings
// like "90s", "30m", "7d". Times accept RFC 3339, "2006-01-02T15:04:05"
// and "2006-01-02".
func (o Options) Decode(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			timeHook,
		),
		WeaklyTypedInput: true,
		Squash:           true,
		TagName:          "yaml",
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(o)); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	return ParseDuration(data)
}

func timeHook(from, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case time.Time:
		return v, nil
	case string:
		return ParseTime(v)
	default:
		return data, nil
	}
}

// ParseDuration converts seconds (int or float) or a duration string into
// a time.Duration.
func ParseDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		d, err := str2duration.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("parse duration: unsupported value %v (%T)", value, value)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts the layouts used in configs and cursor overrides.
// The sentinel "0000-00-00T00:00:00" and "" both mean the zero time.
func ParseTime(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", s)
}
