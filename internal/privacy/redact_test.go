package privacy

import (
	"testing"
)

func TestCompile_Valid(t *testing.T) {
	patterns, err := Compile([]string{`(?i)token`, `\bsecret\b`})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(patterns) != 2 {
		t.Errorf("got %d patterns, want 2", len(patterns))
	}
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile([]string{`[invalid`})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestCompile_Empty(t *testing.T) {
	patterns, err := Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("got %d patterns, want 0", len(patterns))
	}
}

func TestApply_SinglePattern(t *testing.T) {
	patterns, _ := Compile([]string{`(?i)token`})
	result := Apply("My API Token is abc123", patterns)
	want := "My API [REDACTED] is abc123"
	if result != want {
		t.Errorf("got %q, want %q", result, want)
	}
}

func TestApply_MultiplePatterns(t *testing.T) {
	patterns, _ := Compile([]string{`(?i)token`, `(?i)secret`})
	result := Apply("Token and Secret values", patterns)
	want := "[REDACTED] and [REDACTED] values"
	if result != want {
		t.Errorf("got %q, want %q", result, want)
	}
}

func TestApply_MultipleMatches(t *testing.T) {
	patterns, _ := Compile([]string{`(?i)password`})
	result := Apply("password is password", patterns)
	want := "[REDACTED] is [REDACTED]"
	if result != want {
		t.Errorf("got %q, want %q", result, want)
	}
}

func TestApply_NoMatch(t *testing.T) {
	patterns, _ := Compile([]string{`(?i)token`})
	text := "nothing to redact here"
	result := Apply(text, patterns)
	if result != text {
		t.Errorf("got %q, want unchanged", result)
	}
}

func TestApply_EmptyPatterns(t *testing.T) {
	text := "should not change"
	result := Apply(text, nil)
	if result != text {
		t.Errorf("got %q, want unchanged", result)
	}
}

func TestRedactor_Payload(t *testing.T) {
	r, err := New([]string{`\b\d{3}-\d{4}-\d{4}\b`}, "url")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	in := map[string]any{
		"url":   "https://example.com/010-1234-5678",
		"body":  "call 010-1234-5678 now",
		"id":    int64(7),
		"extra": map[string]any{"phone": "010-9999-0000"},
		"list":  []any{"010-1111-2222", 3},
	}
	out := r.Payload(in)

	if out["body"] != "call [REDACTED] now" {
		t.Errorf("body = %q", out["body"])
	}
	if out["url"] != in["url"] {
		t.Errorf("kept key was rewritten: %q", out["url"])
	}
	if out["id"] != int64(7) {
		t.Errorf("id = %v", out["id"])
	}
	if got := out["extra"].(map[string]any)["phone"]; got != "[REDACTED]" {
		t.Errorf("nested = %v", got)
	}
	if got := out["list"].([]any)[0]; got != "[REDACTED]" {
		t.Errorf("slice = %v", got)
	}
	if in["body"] != "call 010-1234-5678 now" {
		t.Error("input payload was modified")
	}
}

func TestRedactor_Empty(t *testing.T) {
	var nilRedactor *Redactor
	if !nilRedactor.Empty() {
		t.Error("nil redactor must be empty")
	}
	r, _ := New(nil)
	in := map[string]any{"body": "x"}
	if out := r.Payload(in); out["body"] != "x" {
		t.Errorf("payload = %v", out)
	}
	if _, err := New([]string{"("}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
