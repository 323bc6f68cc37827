package listen

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/ppiankov/birdman/internal/source"
)

const (
	textClass = "text"

	// DefaultTextFormat writes one tab-separated line per item.
	DefaultTextFormat = "{{.url}}\t{{.nickname}}\t{{.written_at}}"
	DefaultTextFile   = "birdman.log"
)

// TextConfig configures the text listener.
type TextConfig struct {
	File   string `yaml:"file"`
	Format string `yaml:"format"`
	// MustHaveKeys are filled with "" when absent from a payload. Any
	// other key the format references must be present.
	MustHaveKeys []string `yaml:"must_have_keys"`
	// SingleLine replaces line breaks in string values with spaces so
	// multi-line bodies keep one item per line.
	SingleLine bool `yaml:"single_line"`
}

// TextListener appends one formatted line per item to a file.
type TextListener struct {
	name   string
	tmpl   *template.Template
	keys   []string
	single bool

	mu  sync.Mutex
	out *appendFile
}

// NewTextListener opens cfg.File for appending, creating parent
// directories as needed.
func NewTextListener(name string, cfg TextConfig) (*TextListener, error) {
	if strings.TrimSpace(cfg.File) == "" {
		cfg.File = DefaultTextFile
	}
	if cfg.Format == "" {
		cfg.Format = DefaultTextFormat
	}
	if cfg.MustHaveKeys == nil {
		cfg.MustHaveKeys = []string{"url", "nickname", "written_at"}
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("text: parse format: %w", err)
	}

	out, err := openAppend(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}

	return &TextListener{
		name:   name,
		tmpl:   tmpl,
		keys:   cfg.MustHaveKeys,
		single: cfg.SingleLine,
		out:    out,
	}, nil
}

func (l *TextListener) Name() string { return l.name }

// Listen renders item and appends it as one line.
func (l *TextListener) Listen(_ context.Context, item source.Item) error {
	payload := item.Payload
	if l.single || l.missing(payload) {
		payload = item.Clone().Payload
		for _, k := range l.keys {
			if _, ok := payload[k]; !ok {
				payload[k] = ""
			}
		}
		if l.single {
			for k, v := range payload {
				if s, ok := v.(string); ok {
					payload[k] = lineBreaks.Replace(s)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := l.tmpl.Execute(&buf, payload); err != nil {
		return fmt.Errorf("%s: render %s: %w", l.name, item.Source, err)
	}
	buf.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%s: write: %w", l.name, err)
	}
	return nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func (l *TextListener) missing(payload map[string]any) bool {
	for _, k := range l.keys {
		if _, ok := payload[k]; !ok {
			return true
		}
	}
	return false
}

// Close closes the underlying file. A later Listen reopens it.
func (l *TextListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

func textName(file string) string {
	return textClass + ":" + filepath.Base(file)
}
