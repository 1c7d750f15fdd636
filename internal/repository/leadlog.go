package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/opensource-voice/kestrel/internal/domain"
)

// LeadLog persists captured leads as a single JSON array on disk.
// Writes rewrite the whole document through a temp file and rename so a
// crash mid-write never leaves a truncated log behind.
type LeadLog struct {
	mu   sync.Mutex
	path string
}

// NewLeadLog creates a lead log at the given path. The file is created
// lazily on first append.
func NewLeadLog(path string) *LeadLog {
	if path == "" {
		path = "./leads.json"
	}
	return &LeadLog{path: path}
}

// Append adds a lead to the end of the log.
func (l *LeadLog) Append(ctx context.Context, lead *domain.Lead) error {
	if lead == nil {
		return fmt.Errorf("%w: nil lead", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	leads := l.load()
	leads = append(leads, lead)

	data, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode lead log: %v", ErrStorage, err)
	}

	dir := filepath.Dir(l.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create lead log directory: %v", ErrStorage, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".leads-*.json")
	if err != nil {
		return fmt.Errorf("%w: write lead log: %v", ErrStorage, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write lead log: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write lead log: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write lead log: %v", ErrStorage, err)
	}
	return nil
}

// List returns all captured leads in capture order.
func (l *LeadLog) List(ctx context.Context) ([]*domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(), nil
}

// load reads the log from disk. A missing or unreadable file yields an
// empty log so a bad document never blocks new captures.
func (l *LeadLog) load() []*domain.Lead {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("lead log unreadable, starting fresh", "path", l.path, "error", err)
		}
		return nil
	}

	var leads []*domain.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		slog.Warn("lead log corrupt, starting fresh", "path", l.path, "error", err)
		return nil
	}
	return leads
}
