package listen

import (
	"context"
	"fmt"
	"io"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/privacy"
	"github.com/ppiankov/birdman/internal/registry"
)

// Constructor builds a listener from its composed options.
type Constructor func(ctx context.Context, opts config.Options, env Env) (Listener, error)

// NewRegistry returns a registry holding every built-in listener class.
func NewRegistry(stdout io.Writer) *registry.Registry[Constructor] {
	reg := registry.New[Constructor]("listener")
	Register(reg, stdout)
	return reg
}

// Register adds the built-in listener classes to reg. Listeners that
// print without a configured file write to stdout.
func Register(reg *registry.Registry[Constructor], stdout io.Writer) {
	reg.MustRegister(textClass, newText)
	reg.MustRegister(jsonlClass, func(_ context.Context, opts config.Options, _ Env) (Listener, error) {
		var cfg JSONLConfig
		if err := opts.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("jsonl: %w", err)
		}
		return NewJSONLListener(jsonlName(cfg.File), cfg, stdout)
	})
	reg.MustRegister(sqliteClass, newSQLite)
	reg.MustRegister(consoleClass, func(_ context.Context, opts config.Options, _ Env) (Listener, error) {
		var cfg ConsoleConfig
		if err := opts.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("console: %w", err)
		}
		return NewConsoleListener(consoleClass, cfg, stdout)
	})
}

func newText(_ context.Context, opts config.Options, _ Env) (Listener, error) {
	var cfg TextConfig
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	file := cfg.File
	if file == "" {
		file = DefaultTextFile
	}
	return NewTextListener(textName(file), cfg)
}

func newSQLite(ctx context.Context, opts config.Options, env Env) (Listener, error) {
	var cfg SQLiteConfig
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return NewSQLiteListener(ctx, sqliteName(cfg.Path), cfg, env.logger())
}

// Built is a constructed listener together with its routing options.
type Built struct {
	Name     string
	Sources  []string
	Listener Listener
}

// Build looks up the class of opts in reg, constructs the listener and
// applies the common options.
func Build(ctx context.Context, reg *registry.Registry[Constructor], class string, opts config.Options, env Env) (Built, error) {
	var common Common
	if err := opts.Decode(&common); err != nil {
		return Built{}, fmt.Errorf("%s: %w", class, err)
	}
	redactor, err := privacy.New(common.Redact, keepKeys...)
	if err != nil {
		return Built{}, fmt.Errorf("%s: %w", class, err)
	}

	ctor, err := reg.Lookup(class)
	if err != nil {
		return Built{}, err
	}
	l, err := ctor(ctx, opts, env)
	if err != nil {
		return Built{}, err
	}

	name := common.Name
	if name == "" {
		name = l.Name()
	}
	return Built{
		Name:     name,
		Sources:  common.Sources,
		Listener: WithRedaction(l, redactor),
	}, nil
}
