package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "birdman.yaml"
	DefaultCredentialsFile = "auth.yaml"
	DefaultStatePath       = ".birdman/state.db"
)

// Document is the top-level configuration file. Sources and listeners stay
// raw option maps until Compose; each concrete class decodes its own keys.
type Document struct {
	// State is the sqlite path used to persist source cursors. Empty keeps
	// cursors in memory only.
	State     string    `yaml:"state"`
	Sources   []Options `yaml:"sources"`
	Listeners []Options `yaml:"listeners"`
}

// Load reads and validates a configuration document.
func Load(path string) (*Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Parse decodes a configuration document from YAML bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validate(&doc); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &doc, nil
}

// LoadCredentials reads the optional credentials document. An empty path
// yields nil options. Keys ending in "_env" are resolved from the
// environment into the same key without the suffix.
func LoadCredentials(path string) (Options, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Options
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	resolveEnv(creds)
	return creds, nil
}

func resolveEnv(opts Options) {
	for key, value := range opts {
		switch v := value.(type) {
		case map[string]any:
			resolveEnv(v)
		case Options:
			resolveEnv(v)
		case string:
			if name, ok := strings.CutSuffix(key, "_env"); ok && name != "" {
				if _, exists := opts[name]; !exists {
					opts[name] = os.Getenv(v)
				}
			}
		}
	}
}

func validate(doc *Document) error {
	hasSource := false
	for i, entry := range doc.Sources {
		class, err := entry.Class()
		if err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if class != GlobalClass {
			hasSource = true
		}
	}
	if !hasSource {
		return errors.New("sources: at least one source must be configured")
	}

	for i, entry := range doc.Listeners {
		if _, err := entry.Class(); err != nil {
			return fmt.Errorf("listeners[%d]: %w", i, err)
		}
	}
	return nil
}
