package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/birdman/internal/config"
)

const (
	commandClass          = "command"
	commandDefaultTimeout = 2 * time.Minute
	maxLineLength         = 1 << 20 // 1 MiB per JSONL line
)

// CommandConfig configures an external collector.
type CommandConfig struct {
	PollerConfig
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Dir            string            `yaml:"dir"`
	Env            map[string]string `yaml:"env"`
	CommandTimeout time.Duration     `yaml:"command_timeout"`
	CredentialsKey string            `yaml:"credentials_key"`
	Auth           map[string]any    `yaml:"auth"`
}

// CommandCrawler runs a collector that prints one JSON object per line,
// newest first. Every record needs a numeric "id"; "written_at" is
// optional and parsed like current_datetime.
type CommandCrawler struct {
	name    string
	command string
	args    []string
	dir     string
	env     []string
	timeout time.Duration
}

// NewCommandCrawler validates cfg. Credentials found under
// auth.<credentials_key> are exported to the collector as upper-cased
// environment variables.
func NewCommandCrawler(name string, cfg CommandConfig) (*CommandCrawler, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("command: command is required")
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	if cfg.CredentialsKey != "" {
		creds, ok := cfg.Auth[cfg.CredentialsKey].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("command: no credentials under %s.%s", config.AuthKey, cfg.CredentialsKey)
		}
		for k, v := range creds {
			env = append(env, strings.ToUpper(k)+"="+fmt.Sprint(v))
		}
	}

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = commandDefaultTimeout
	}

	return &CommandCrawler{
		name:    name,
		command: cfg.Command,
		args:    cfg.Args,
		dir:     cfg.Dir,
		env:     env,
		timeout: timeout,
	}, nil
}

func commandName(command string) string {
	return commandClass + "." + filepath.Base(command)
}

func (cc *CommandCrawler) Crawl(ctx context.Context, visit func(Record) bool) error {
	ctx, cancel := context.WithTimeout(ctx, cc.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cc.command, cc.args...)
	cmd.Dir = cc.dir
	cmd.Env = cc.env
	// Grandchildren may hold stderr open after the collector is killed.
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("command: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("command: %s not found: install the collector or fix the command path", cc.command)
		}
		return fmt.Errorf("command: start collector: %w", err)
	}

	stopped, parseErr := cc.readRecords(stdout, visit)
	if stopped || parseErr != nil {
		// Enough was read; the collector need not finish.
		cancel()
	}
	waitErr := cmd.Wait()

	if parseErr != nil {
		return parseErr
	}
	if stopped {
		return nil
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, msg)
		}
		return &TransientError{Source: cc.name, Err: fmt.Errorf("collector failed: %w", waitErr)}
	}
	return nil
}

// readRecords feeds each JSONL line to visit. It reports whether visit
// asked to stop.
func (cc *CommandCrawler) readRecords(r io.Reader, visit func(Record) bool) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := cc.parseRecord(line)
		if err != nil {
			return false, &StructuralError{Source: cc.name, Msg: fmt.Sprintf("collector output line %d", lineNum), Err: err}
		}
		if !visit(rec) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, &StructuralError{Source: cc.name, Msg: "read collector output", Err: err}
	}
	return false, nil
}

func (cc *CommandCrawler) parseRecord(line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Record{}, fmt.Errorf("invalid json: %w", err)
	}

	num, ok := payload["id"].(json.Number)
	if !ok {
		return Record{}, fmt.Errorf("missing numeric id")
	}
	id, err := num.Int64()
	if err != nil {
		return Record{}, fmt.Errorf("id %s: %w", num, err)
	}

	var postedAt time.Time
	if raw, ok := payload["written_at"].(string); ok {
		if postedAt, err = config.ParseTime(raw); err != nil {
			return Record{}, err
		}
	}
	return Record{ID: id, PostedAt: postedAt, Payload: payload}, nil
}

func (cc *CommandCrawler) Close() error { return nil }
