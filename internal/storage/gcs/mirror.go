// Package gcs implements the spectra mirror on Google Cloud Storage.
// Event directories are object prefixes; EnsureEvent is a no-op.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	layout "github.com/JakeFAU/wiserep-spider/internal/storage"
)

// Config captures the parameters required to write the mirror to GCS.
type Config struct {
	Bucket      string
	Prefix      string
	InternalDir string
}

// Mirror writes event directories to a configured GCS bucket.
type Mirror struct {
	client   *storage.Client
	bucket   string
	prefix   string
	internal string
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	internal := strings.Trim(cfg.InternalDir, "/")
	if internal == "" {
		internal = layout.DefaultInternalDir
	}
	return &Mirror{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		internal: internal,
	}, nil
}

// EventExists reports whether any object lives under the event prefix.
func (m *Mirror) EventExists(ctx context.Context, event string) (bool, error) {
	if err := layout.CheckName("event", event); err != nil {
		return false, err
	}
	it := m.list(ctx, event)
	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list %s: %w", m.key(event)+"/", err)
	}
	return true, nil
}

// EnsureEvent does nothing; prefixes appear with their first object.
func (m *Mirror) EnsureEvent(_ context.Context, event string) error {
	return layout.CheckName("event", event)
}

// DeleteEvent removes every object under the event prefix.
func (m *Mirror) DeleteEvent(ctx context.Context, event string) error {
	if err := layout.CheckName("event", event); err != nil {
		return err
	}
	bkt := m.client.Bucket(m.bucket)
	it := m.list(ctx, event)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", m.key(event)+"/", err)
		}
		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
	}
}

// WriteSpectrum uploads one spectrum file and returns its gs:// URI.
func (m *Mirror) WriteSpectrum(ctx context.Context, event, filename string, data []byte) (string, error) {
	if err := layout.CheckSpectrum(event, filename); err != nil {
		return "", err
	}
	return m.put(ctx, m.key(event, filename), "text/plain", data)
}

// WriteMetadata uploads the event's README.json.
func (m *Mirror) WriteMetadata(ctx context.Context, event string, data []byte) (string, error) {
	if err := layout.CheckName("event", event); err != nil {
		return "", err
	}
	return m.put(ctx, m.key(event, layout.MetadataFile), "application/json", data)
}

// SavePage uploads the results page snapshot.
func (m *Mirror) SavePage(ctx context.Context, event string, html []byte) (string, error) {
	if err := layout.CheckName("event", event); err != nil {
		return "", err
	}
	return m.put(ctx, m.key(m.internal, layout.SnapshotName(event)), "text/html", html)
}

func (m *Mirror) list(ctx context.Context, event string) *storage.ObjectIterator {
	query := &storage.Query{Prefix: m.key(event) + "/"}
	// Name is a known attribute, so selection cannot fail.
	_ = query.SetAttrSelection([]string{"Name"})
	return m.client.Bucket(m.bucket).Objects(ctx, query)
}

func (m *Mirror) key(parts ...string) string {
	if m.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{m.prefix}, parts...)...)
}

func (m *Mirror) put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, name), nil
}
