// Package workspace manages the isolated per-job working directories.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrOutsideBase = errors.New("workspace path escapes the base directory")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager creates and removes job workspaces below a single base directory.
type Manager struct {
	baseDir string
	keep    bool
	logger  *slog.Logger
}

// NewManager returns a Manager rooted at baseDir. With keep set, workspaces
// are left on disk after the job for inspection.
func NewManager(baseDir string, keep bool, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace base %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace base %s: %w", abs, err)
	}
	return &Manager{baseDir: abs, keep: keep, logger: logger}, nil
}

// BaseDir returns the absolute base directory.
func (m *Manager) BaseDir() string { return m.baseDir }

// Create makes a fresh, empty directory for the job and returns its path
// together with a cleanup function. Any leftover directory with the same
// name is removed first.
func (m *Manager) Create(jobID string) (string, func(), error) {
	name := unsafeChars.ReplaceAllString(jobID, "_")
	if name == "" || strings.Trim(name, ".") == "" {
		return "", nil, fmt.Errorf("invalid job id %q for workspace", jobID)
	}

	path, err := m.resolve(name)
	if err != nil {
		return "", nil, err
	}
	if err := os.RemoveAll(path); err != nil {
		return "", nil, fmt.Errorf("failed to clear stale workspace %s: %w", path, err)
	}
	if err := os.Mkdir(path, 0o750); err != nil {
		return "", nil, fmt.Errorf("failed to create workspace %s: %w", path, err)
	}

	cleanup := func() {
		if m.keep {
			m.logger.Info("keeping workspace", "path", path)
			return
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.Error("failed to remove workspace", "path", path, "error", err)
		}
	}
	return path, cleanup, nil
}

func (m *Manager) resolve(name string) (string, error) {
	path := filepath.Join(m.baseDir, name)
	rel, err := filepath.Rel(m.baseDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, name)
	}
	return path, nil
}
