package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileName is the conventional name of the registry file in the mirror root.
const FileName = "lists.json"

type document struct {
	Excluded  []string `json:"non_SN"`
	Completed []string `json:"completed"`
}

// Registry is a JSON-file backed pair of name sets. Every mutation is
// written through to disk before it returns.
type Registry struct {
	mu        sync.RWMutex
	path      string
	excluded  map[string]struct{}
	completed map[string]struct{}
	// insertion order of each set, kept so the file diffs cleanly
	excludedOrder  []string
	completedOrder []string
}

// Load reads the registry at path. A missing file yields an empty registry
// that is created on the first write.
func Load(path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	r := &Registry{
		path:      path,
		excluded:  make(map[string]struct{}),
		completed: make(map[string]struct{}),
	}
	// #nosec G304 -- registry path comes from operator configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	for _, name := range doc.Excluded {
		r.excludedOrder = addName(r.excluded, r.excludedOrder, name)
	}
	for _, name := range doc.Completed {
		r.completedOrder = addName(r.completed, r.completedOrder, name)
	}
	return r, nil
}

// Path returns the file backing the registry.
func (r *Registry) Path() string {
	return r.path
}

// IsExcluded reports whether name was excluded by type.
func (r *Registry) IsExcluded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.excluded[name]
	return ok
}

// IsCompleted reports whether name was completed during the current pass.
func (r *Registry) IsCompleted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.completed[name]
	return ok
}

// MarkExcluded records name as excluded and persists the registry.
func (r *Registry) MarkExcluded(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.excludedOrder = addName(r.excluded, r.excludedOrder, name)
	return r.saveLocked()
}

// MarkCompleted records name as completed and persists the registry.
func (r *Registry) MarkCompleted(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completedOrder = addName(r.completed, r.completedOrder, name)
	return r.saveLocked()
}

// ResetCompleted clears the completed set, keeping exclusions.
func (r *Registry) ResetCompleted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = make(map[string]struct{})
	r.completedOrder = nil
	return r.saveLocked()
}

// Counts returns the size of the excluded and completed sets.
func (r *Registry) Counts() (excluded, completed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.excluded), len(r.completed)
}

// Excluded returns the excluded names sorted.
func (r *Registry) Excluded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.excludedOrder...)
	sort.Strings(out)
	return out
}

func (r *Registry) saveLocked() error {
	doc := document{
		Excluded:  nonNil(r.excludedOrder),
		Completed: nonNil(r.completedOrder),
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lists-*.json")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func addName(set map[string]struct{}, order []string, name string) []string {
	if _, ok := set[name]; ok {
		return order
	}
	set[name] = struct{}{}
	return append(order, name)
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
