package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const testObjectsURL = "https://wiserep.test/objects/list"

// opLog records collaborator calls in order across fakes.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) index(op string) int {
	for i, o := range l.list() {
		if o == op {
			return i
		}
	}
	return -1
}

type fakeWeb struct {
	log       *opLog
	pages     map[string]string
	results   map[string]string
	files     map[string][]byte
	submitErr error
	submitted []url.Values
}

func newFakeWeb(log *opLog) *fakeWeb {
	return &fakeWeb{
		log:     log,
		pages:   make(map[string]string),
		results: make(map[string]string),
		files:   make(map[string][]byte),
	}
}

func (w *fakeWeb) parse(raw, html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	doc.Url, _ = url.Parse(raw)
	return doc, nil
}

func (w *fakeWeb) Open(_ context.Context, rawURL string) (*goquery.Document, error) {
	w.log.add("open %s", rawURL)
	html, ok := w.pages[rawURL]
	if !ok {
		return nil, &StatusError{URL: rawURL, Code: 404}
	}
	return w.parse(rawURL, html)
}

func (w *fakeWeb) Submit(_ context.Context, values url.Values) (*goquery.Document, error) {
	name := values.Get("name")
	w.log.add("submit %s", name)
	w.submitted = append(w.submitted, values)
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	html, ok := w.results[name]
	if !ok {
		html = "<html><body><p>No objects found</p></body></html>"
	}
	return w.parse(testObjectsURL, html)
}

func (w *fakeWeb) Download(_ context.Context, rawURL string) ([]byte, error) {
	w.log.add("download %s", rawURL)
	data, ok := w.files[rawURL]
	if !ok {
		return nil, &StatusError{URL: rawURL, Code: 404}
	}
	return data, nil
}

type fakeMirror struct {
	log      *opLog
	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string][]byte
	metadata map[string][]byte
	pages    map[string][]byte
	writeErr error
}

func newFakeMirror(log *opLog) *fakeMirror {
	return &fakeMirror{
		log:      log,
		dirs:     make(map[string]bool),
		files:    make(map[string][]byte),
		metadata: make(map[string][]byte),
		pages:    make(map[string][]byte),
	}
}

func (m *fakeMirror) EventExists(_ context.Context, event string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[event], nil
}

func (m *fakeMirror) EnsureEvent(_ context.Context, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirs[event] {
		m.log.add("mkdir %s", event)
	}
	m.dirs[event] = true
	return nil
}

func (m *fakeMirror) DeleteEvent(_ context.Context, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.add("rmdir %s", event)
	delete(m.dirs, event)
	for key := range m.files {
		if strings.HasPrefix(key, event+"/") {
			delete(m.files, key)
		}
	}
	delete(m.metadata, event)
	return nil
}

func (m *fakeMirror) WriteSpectrum(_ context.Context, event, filename string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return "", m.writeErr
	}
	m.files[event+"/"+filename] = data
	return "mem://" + event + "/" + filename, nil
}

func (m *fakeMirror) WriteMetadata(_ context.Context, event string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[event] = data
	return "mem://" + event + "/README.json", nil
}

func (m *fakeMirror) SavePage(_ context.Context, event string, html []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[event] = html
	return "mem://internal/WISEREP-" + event + ".html", nil
}

type fakeRegistry struct {
	excluded  map[string]bool
	completed map[string]bool
	resets    int
	markErr   error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{excluded: make(map[string]bool), completed: make(map[string]bool)}
}

func (r *fakeRegistry) IsExcluded(name string) bool  { return r.excluded[name] }
func (r *fakeRegistry) IsCompleted(name string) bool { return r.completed[name] }

func (r *fakeRegistry) MarkExcluded(name string) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.excluded[name] = true
	return nil
}

func (r *fakeRegistry) MarkCompleted(name string) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.completed[name] = true
	return nil
}

func (r *fakeRegistry) ResetCompleted() error {
	r.resets++
	r.completed = make(map[string]bool)
	return nil
}

type fakeJournal struct {
	scraper   []string
	nonTarget []string
	private   []string
}

func (j *fakeJournal) Scraper(line string)   { j.scraper = append(j.scraper, line) }
func (j *fakeJournal) NonTarget(line string) { j.nonTarget = append(j.nonTarget, line) }
func (j *fakeJournal) Private(line string)   { j.private = append(j.private, line) }

type fakeRecorder struct {
	reports []EventReport
	err     error
}

func (r *fakeRecorder) RecordOutcome(_ context.Context, rep EventReport) error {
	r.reports = append(r.reports, rep)
	return r.err
}

type fakeRuns struct {
	started  []RunSummary
	finished []RunSummary
	errs     []error
}

func (r *fakeRuns) StartRun(_ context.Context, run RunSummary) error {
	r.started = append(r.started, run)
	return nil
}

func (r *fakeRuns) FinishRun(_ context.Context, run RunSummary, runErr error) error {
	r.finished = append(r.finished, run)
	r.errs = append(r.errs, runErr)
	return nil
}

type fakePublisher struct {
	topics   []string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("msg-%d", len(p.topics)), nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("len-%d", len(data)), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fakeIDs struct{ err error }

func (f fakeIDs) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "run-1", nil
}

var errBoom = errors.New("boom")
