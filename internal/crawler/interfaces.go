package crawler

import (
	"context"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// WebClient holds the browsing session against the site. Open navigates to a
// page; Submit posts the search form captured from the last page that had
// one, overriding the given fields.
type WebClient interface {
	Open(ctx context.Context, rawURL string) (*goquery.Document, error)
	Submit(ctx context.Context, values url.Values) (*goquery.Document, error)
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Mirror stores event directories, spectrum files and page snapshots.
type Mirror interface {
	EventExists(ctx context.Context, event string) (bool, error)
	EnsureEvent(ctx context.Context, event string) error
	DeleteEvent(ctx context.Context, event string) error
	WriteSpectrum(ctx context.Context, event, filename string, data []byte) (string, error)
	WriteMetadata(ctx context.Context, event string, data []byte) (string, error)
	SavePage(ctx context.Context, event string, html []byte) (string, error)
}

// Registry remembers excluded and completed event names. Mark and Reset
// persist before returning.
type Registry interface {
	IsExcluded(name string) bool
	IsCompleted(name string) bool
	MarkExcluded(name string) error
	MarkCompleted(name string) error
	ResetCompleted() error
}

// Journal appends human-readable audit lines.
type Journal interface {
	Scraper(line string)
	NonTarget(line string)
	Private(line string)
}

// OutcomeRecorder persists one row per finished event.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, report EventReport) error
}

// RunRecorder tracks crawl runs from start to finish.
type RunRecorder interface {
	StartRun(ctx context.Context, run RunSummary) error
	FinishRun(ctx context.Context, run RunSummary, runErr error) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests of downloaded files.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed request is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
