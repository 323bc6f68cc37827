package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/birdman/internal/config"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath = config.DefaultConfigFile
		authPath = ""
		logFormat = "text"
		verbose = false
		statePath = ""
		statsDB = ""
		statsSince = "30d"
		statsFormat = "terminal"
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "birdman.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestExecuteVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.HasPrefix(out, "birdman ") {
		t.Errorf("output = %q", out)
	}
}

func TestClassesListsBuiltins(t *testing.T) {
	out, err := execute(t, "classes")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"dcinside", "rss", "command", "sqlite", "console", "jsonl"} {
		if !strings.Contains(out, "  "+want+"\n") {
			t.Errorf("missing class %s in:\n%s", want, out)
		}
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, `
sources:
  - class: global
    recrawl_interval: 1h
  - class: rss
    feed: https://blog.example.com/feed
  - class: dcinside
    gallery_id: cat
listeners:
  - class: text
    file: `+filepath.Join(dir, "out.log")+`
`)

	out, err := execute(t, "validate", "-c", cfg)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	for _, want := range []string{"Config is valid!", "rss.blog.example.com", "dcinside.cat", "text:out.log", "(memory)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestValidateRejectsUnknownClass(t *testing.T) {
	cfg := writeConfig(t, `
sources:
  - class: nntp
listeners:
  - class: console
`)

	_, err := execute(t, "validate", "-c", cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid config") || !strings.Contains(err.Error(), "nntp") {
		t.Errorf("error = %v", err)
	}
}

func TestValidateMissingConfig(t *testing.T) {
	_, err := execute(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInitWritesExamples(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "birdman.yaml")
	auth := filepath.Join(dir, "auth.yaml")

	out, err := execute(t, "init", "-c", cfg, "-a", auth)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Initialized 2 config files") {
		t.Errorf("output = %q", out)
	}

	doc, err := config.Load(cfg)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(doc.Sources) == 0 || len(doc.Listeners) == 0 {
		t.Errorf("example config has %d sources, %d listeners", len(doc.Sources), len(doc.Listeners))
	}
	if _, err := config.LoadCredentials(auth); err != nil {
		t.Errorf("example credentials do not load: %v", err)
	}

	info, err := os.Stat(auth)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("auth.yaml perm = %o, want 600", perm)
	}

	out, err = execute(t, "init", "-c", cfg, "-a", auth)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Already initialized.") {
		t.Errorf("second init output = %q", out)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	t.Cleanup(func() { logFormat = "text"; verbose = false })

	tests := []struct {
		format  string
		verbose bool
		want    string
		wantErr bool
	}{
		{format: "text", want: "level=INFO msg=hello"},
		{format: "json", want: `"msg":"hello"`},
		{format: "JSON", want: `"level":"INFO"`},
		{format: "text", verbose: true, want: "level=DEBUG msg=debugging"},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		logFormat = tt.format
		verbose = tt.verbose
		var buf bytes.Buffer
		logger, err := newLogger(&buf)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.format, err)
		}
		logger.Info("hello")
		logger.Debug("debugging")
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%s verbose=%v: output %q missing %q", tt.format, tt.verbose, buf.String(), tt.want)
		}
		if !tt.verbose && strings.Contains(buf.String(), "debugging") {
			t.Errorf("%s: debug logged without --verbose", tt.format)
		}
	}
}
