// Package local implements the spectra mirror on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/wiserep-spider/internal/storage"
)

// Config captures the parameters for the local mirror.
type Config struct {
	// Root is the mirror root; event directories are created beneath it.
	Root string `mapstructure:"root" yaml:"root"`
	// InternalDir holds page snapshots. Relative paths are taken from Root.
	InternalDir string `mapstructure:"internal_dir" yaml:"internal_dir"`
}

// Mirror writes event directories to the local filesystem.
type Mirror struct {
	root     string
	internal string
}

// New creates the mirror root and internal directory if needed and checks
// that the root is writable.
func New(cfg Config) (*Mirror, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("mirror root is required")
	}
	root := filepath.Clean(cfg.Root)

	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat mirror root: %w", err)
		}
		if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create mirror root: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("mirror root %s is not a directory", root)
	}

	testFile := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("mirror root is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	internal := cfg.InternalDir
	if strings.TrimSpace(internal) == "" {
		internal = storage.DefaultInternalDir
	}
	if !filepath.IsAbs(internal) {
		internal = filepath.Join(root, internal)
	}
	if err := os.MkdirAll(internal, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create internal directory: %w", err)
	}

	return &Mirror{root: root, internal: filepath.Clean(internal)}, nil
}

// Root returns the mirror root directory.
func (m *Mirror) Root() string {
	return m.root
}

// EventExists reports whether the event directory exists.
func (m *Mirror) EventExists(_ context.Context, event string) (bool, error) {
	dir, err := m.eventDir(event)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	return info.IsDir(), nil
}

// EnsureEvent creates the event directory.
func (m *Mirror) EnsureEvent(_ context.Context, event string) error {
	dir, err := m.eventDir(event)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// DeleteEvent removes the event directory and everything in it.
func (m *Mirror) DeleteEvent(_ context.Context, event string) error {
	dir, err := m.eventDir(event)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// WriteSpectrum writes one spectrum file and returns its file:// URI.
func (m *Mirror) WriteSpectrum(_ context.Context, event, filename string, data []byte) (string, error) {
	if err := storage.CheckSpectrum(event, filename); err != nil {
		return "", err
	}
	return m.write(filepath.Join(m.root, event, filename), data)
}

// WriteMetadata writes the event's README.json.
func (m *Mirror) WriteMetadata(_ context.Context, event string, data []byte) (string, error) {
	dir, err := m.eventDir(event)
	if err != nil {
		return "", err
	}
	return m.write(filepath.Join(dir, storage.MetadataFile), data)
}

// SavePage stores the results page snapshot in the internal directory.
func (m *Mirror) SavePage(_ context.Context, event string, html []byte) (string, error) {
	if err := storage.CheckName("event", event); err != nil {
		return "", err
	}
	return m.write(filepath.Join(m.internal, storage.SnapshotName(event)), html)
}

func (m *Mirror) eventDir(event string) (string, error) {
	if err := storage.CheckName("event", event); err != nil {
		return "", err
	}
	return filepath.Join(m.root, event), nil
}

func (m *Mirror) write(fullPath string, data []byte) (string, error) {
	// Clean the path and verify it's within a mirror directory to prevent path traversal.
	clean := filepath.Clean(fullPath)
	if !within(clean, m.root) && !within(clean, m.internal) {
		return "", fmt.Errorf("path traversal detected: %s", fullPath)
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(clean, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file://" + clean, nil
}

func within(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
