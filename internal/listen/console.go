package listen

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/ppiankov/birdman/internal/source"
)

const (
	consoleClass = "console"

	defaultBodyChars = 200
)

// ConsoleConfig configures the console listener.
type ConsoleConfig struct {
	// Color is "auto" (colour only on a terminal), "always" or "never".
	Color string `yaml:"color"`
	// BodyChars truncates the body preview. Zero uses the default, a
	// negative value hides the body.
	BodyChars int `yaml:"body_chars"`
}

type consoleStyles struct {
	source lipgloss.Style
	title  lipgloss.Style
	meta   lipgloss.Style
	url    lipgloss.Style
}

// ConsoleListener prints a short human-readable summary of every item.
type ConsoleListener struct {
	name      string
	styles    consoleStyles
	bodyChars int
	now       func() time.Time

	mu sync.Mutex
	w  io.Writer
}

// NewConsoleListener writes to w, or stdout when w is nil.
func NewConsoleListener(name string, cfg ConsoleConfig, w io.Writer) (*ConsoleListener, error) {
	if w == nil {
		w = os.Stdout
	}

	profile, err := consoleProfile(cfg.Color, w)
	if err != nil {
		return nil, err
	}
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)

	bodyChars := cfg.BodyChars
	if bodyChars == 0 {
		bodyChars = defaultBodyChars
	}

	return &ConsoleListener{
		name: name,
		styles: consoleStyles{
			source: r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
			title:  r.NewStyle().Bold(true),
			meta:   r.NewStyle().Foreground(lipgloss.Color("8")),
			url:    r.NewStyle().Foreground(lipgloss.Color("4")).Underline(true),
		},
		bodyChars: bodyChars,
		now:       time.Now,
		w:         w,
	}, nil
}

func consoleProfile(mode string, w io.Writer) (termenv.Profile, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) && os.Getenv("NO_COLOR") == "" {
			return termenv.ColorProfile(), nil
		}
		return termenv.Ascii, nil
	case "always":
		return termenv.ANSI256, nil
	case "never":
		return termenv.Ascii, nil
	default:
		return termenv.Ascii, fmt.Errorf("console: color must be auto, always or never, got %q", mode)
	}
}

func (l *ConsoleListener) Name() string { return l.name }

// Listen prints the item summary.
func (l *ConsoleListener) Listen(_ context.Context, item source.Item) error {
	out := l.render(item)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, out); err != nil {
		return fmt.Errorf("%s: write: %w", l.name, err)
	}
	return nil
}

func (l *ConsoleListener) render(item source.Item) string {
	var b strings.Builder

	title := item.String("title")
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "%s %s\n", l.styles.source.Render("["+item.Source+"]"), l.styles.title.Render(title))

	var meta []string
	if nick := item.String("nickname"); nick != "" {
		meta = append(meta, nick)
	}
	if written := item.String("written_at"); written != "" {
		if t, err := time.Parse(time.RFC3339, written); err == nil {
			meta = append(meta, humanize.RelTime(t, l.now(), "ago", "from now"))
		} else {
			meta = append(meta, written)
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, "  %s\n", l.styles.meta.Render(strings.Join(meta, " · ")))
	}

	if body := strings.Join(strings.Fields(item.String("body")), " "); body != "" && l.bodyChars > 0 {
		fmt.Fprintf(&b, "  %s\n", truncateRunes(body, l.bodyChars))
	}
	if url := item.String("url"); url != "" {
		fmt.Fprintf(&b, "  %s\n", l.styles.url.Render(url))
	}
	b.WriteByte('\n')
	return b.String()
}

// Close is a no-op; the writer belongs to the caller.
func (l *ConsoleListener) Close() error { return nil }

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
