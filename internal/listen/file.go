package listen

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// appendFile is an append-only output that reopens itself on the first
// write after Close.
type appendFile struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// openAppend opens path for appending, creating parent directories.
func openAppend(path string) (*appendFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	a := &appendFile{path: path}
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *appendFile) open() error {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.path, err)
	}
	a.f = f
	return nil
}

func (a *appendFile) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		if err := a.open(); err != nil {
			return 0, err
		}
	}
	return a.f.Write(p)
}

func (a *appendFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
