// Package privacy masks sensitive text in item payloads before listeners
// write them anywhere.
package privacy

import (
	"fmt"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// Redactor replaces pattern matches in payload strings.
type Redactor struct {
	patterns []*regexp.Regexp
	skip     map[string]bool
}

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// New builds a Redactor. Keys listed in keep are never rewritten, so
// bookkeeping fields such as "source" or "url" stay usable.
func New(patterns []string, keep ...string) (*Redactor, error) {
	compiled, err := Compile(patterns)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[k] = true
	}
	return &Redactor{patterns: compiled, skip: skip}, nil
}

// Empty reports whether the redactor has nothing to do. A nil Redactor
// is empty.
func (r *Redactor) Empty() bool {
	return r == nil || len(r.patterns) == 0
}

// Apply replaces all matches of the compiled patterns in text with [REDACTED].
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Payload returns a copy of payload with every string value redacted,
// descending into nested maps and slices. The input is not modified.
func (r *Redactor) Payload(payload map[string]any) map[string]any {
	if r.Empty() {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if r.skip[k] {
			out[k] = v
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v any) any {
	switch x := v.(type) {
	case string:
		return Apply(x, r.patterns)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, nested := range x {
			out[k] = r.value(nested)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, nested := range x {
			out[i] = r.value(nested)
		}
		return out
	default:
		return v
	}
}
