// Package memory keeps the spectra mirror in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/wiserep-spider/internal/storage"
)

// Mirror stores event directories in maps and returns memory:// URIs.
type Mirror struct {
	mu     sync.RWMutex
	events map[string]map[string][]byte
	pages  map[string][]byte
}

// NewMirror creates an empty in-memory mirror.
func NewMirror() *Mirror {
	return &Mirror{
		events: make(map[string]map[string][]byte),
		pages:  make(map[string][]byte),
	}
}

// EventExists reports whether the event directory exists.
func (m *Mirror) EventExists(_ context.Context, event string) (bool, error) {
	if err := storage.CheckName("event", event); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[event]
	return ok, nil
}

// EnsureEvent creates the event directory.
func (m *Mirror) EnsureEvent(_ context.Context, event string) error {
	if err := storage.CheckName("event", event); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dir(event)
	return nil
}

// DeleteEvent drops the event directory.
func (m *Mirror) DeleteEvent(_ context.Context, event string) error {
	if err := storage.CheckName("event", event); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, event)
	return nil
}

// WriteSpectrum stores a copy of data.
func (m *Mirror) WriteSpectrum(_ context.Context, event, filename string, data []byte) (string, error) {
	if err := storage.CheckSpectrum(event, filename); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dir(event)[filename] = append([]byte(nil), data...)
	return uri(event, filename), nil
}

// WriteMetadata stores the event's README.json.
func (m *Mirror) WriteMetadata(ctx context.Context, event string, data []byte) (string, error) {
	return m.WriteSpectrum(ctx, event, storage.MetadataFile, data)
}

// SavePage stores the results page snapshot.
func (m *Mirror) SavePage(_ context.Context, event string, html []byte) (string, error) {
	if err := storage.CheckName("event", event); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := storage.SnapshotName(event)
	m.pages[name] = append([]byte(nil), html...)
	return uri(storage.DefaultInternalDir, name), nil
}

// Files lists the file names stored for event, sorted.
func (m *Mirror) Files(event string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.events[event]))
	for name := range m.events[event] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// File returns a stored file.
func (m *Mirror) File(event, filename string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.events[event][filename]
	return data, ok
}

// Page returns the stored results page for event.
func (m *Mirror) Page(event string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.pages[storage.SnapshotName(event)]
	return data, ok
}

func (m *Mirror) dir(event string) map[string][]byte {
	files, ok := m.events[event]
	if !ok {
		files = make(map[string][]byte)
		m.events[event] = files
	}
	return files
}

func uri(dir, name string) string {
	return fmt.Sprintf("memory://%s/%s", dir, name)
}
