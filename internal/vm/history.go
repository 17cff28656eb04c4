package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/javanstorm/qvmctl/internal/definition"
)

// RunRecord holds per-machine run statistics that survive restarts.
type RunRecord struct {
	// LastBoot is when the machine was last started.
	LastBoot time.Time `json:"last_boot,omitzero" yaml:"last_boot,omitempty"`

	// LastShutdown is when the machine last exited.
	LastShutdown time.Time `json:"last_shutdown,omitzero" yaml:"last_shutdown,omitempty"`

	// BootCount is the number of times the machine has started.
	BootCount int `json:"boot_count" yaml:"boot_count"`

	// CleanShutdown indicates if the last exit was requested or clean.
	CleanShutdown bool `json:"clean_shutdown" yaml:"clean_shutdown"`

	// LastExitCode is the exit code of the last emulator process.
	LastExitCode int `json:"last_exit_code" yaml:"last_exit_code"`
}

// History stores one RunRecord file per machine.
type History struct {
	dir string
	mu  sync.Mutex
}

// NewHistory creates a history store under dir.
func NewHistory(dir string) *History {
	return &History{dir: dir}
}

// Path returns the record file for name.
func (h *History) Path(name string) string {
	return filepath.Join(h.dir, definition.Sanitize(name)+".json")
}

// Load reads the record for name. A missing record is empty, not an error.
func (h *History) Load(name string) (*RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(name)
}

func (h *History) load(name string) (*RunRecord, error) {
	data, err := os.ReadFile(h.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return &RunRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return &rec, nil
}

func (h *History) save(name string, rec *RunRecord) error {
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	// Write atomically
	path := h.Path(name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func (h *History) update(name string, fn func(*RunRecord)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, err := h.load(name)
	if err != nil {
		return err
	}
	fn(rec)
	return h.save(name, rec)
}

// RecordBoot updates the record for a new start.
func (h *History) RecordBoot(name string, at time.Time) error {
	return h.update(name, func(rec *RunRecord) {
		rec.LastBoot = at
		rec.BootCount++
		rec.CleanShutdown = false
	})
}

// RecordShutdown updates the record for an exit.
func (h *History) RecordShutdown(name string, at time.Time, clean bool, exitCode int) error {
	return h.update(name, func(rec *RunRecord) {
		rec.LastShutdown = at
		rec.CleanShutdown = clean
		rec.LastExitCode = exitCode
	})
}

// Rename moves the record of oldName to newName.
func (h *History) Rename(oldName, newName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := os.Rename(h.Path(oldName), h.Path(newName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rename history: %w", err)
	}
	return nil
}

// Delete removes the record for name.
func (h *History) Delete(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := os.Remove(h.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
