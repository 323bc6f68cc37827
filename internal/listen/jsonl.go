package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ppiankov/birdman/internal/source"
)

const jsonlClass = "jsonl"

// JSONLConfig configures the jsonl listener. An empty File writes to
// stdout.
type JSONLConfig struct {
	File string `yaml:"file"`
}

// JSONLListener writes each payload as one JSON object per line.
type JSONLListener struct {
	name string

	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLListener opens the output named by cfg.
func NewJSONLListener(name string, cfg JSONLConfig, stdout io.Writer) (*JSONLListener, error) {
	if strings.TrimSpace(cfg.File) == "" {
		if stdout == nil {
			stdout = os.Stdout
		}
		return newJSONL(name, stdout, nil), nil
	}

	out, err := openAppend(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	return newJSONL(name, out, out), nil
}

func newJSONL(name string, w io.Writer, closer io.Closer) *JSONLListener {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLListener{name: name, enc: enc, closer: closer}
}

func (l *JSONLListener) Name() string { return l.name }

// Listen encodes the item payload on its own line.
func (l *JSONLListener) Listen(_ context.Context, item source.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(item.Payload); err != nil {
		return fmt.Errorf("%s: encode %s: %w", l.name, item.Source, err)
	}
	return nil
}

// Close closes the output file. Stdout is left open.
func (l *JSONLListener) Close() error {
	if l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer.Close()
}

func jsonlName(file string) string {
	if file == "" {
		return jsonlClass + ":stdout"
	}
	return jsonlClass + ":" + filepath.Base(file)
}
