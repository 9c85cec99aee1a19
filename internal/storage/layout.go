// Package storage describes the mirror layout shared by every backend:
//
//	<root>/<event>/<spectrum file>
//	<root>/<event>/README.json
//	<root>/<internal>/WISEREP-<event>.html
//
// Backends live in the local, gcs and memory subpackages.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MetadataFile is the per-event metadata record.
	MetadataFile = "README.json"
	// DefaultInternalDir holds page snapshots, logs and the registry.
	DefaultInternalDir = "internal"

	snapshotPrefix = "WISEREP-"
	snapshotSuffix = ".html"
)

// ErrInvalidName is returned for names that are not a single path segment.
var ErrInvalidName = errors.New("invalid mirror name")

// CheckName rejects empty names, dot segments and names containing path
// separators or NUL bytes.
func CheckName(kind, name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%s %q: %w", kind, name, ErrInvalidName)
	}
	return nil
}

// SnapshotName is the file name of the saved results page for event.
func SnapshotName(event string) string {
	return snapshotPrefix + event + snapshotSuffix
}

// CheckSpectrum validates an event directory and file name pair.
func CheckSpectrum(event, filename string) error {
	if err := CheckName("event", event); err != nil {
		return err
	}
	return CheckName("file", filename)
}
