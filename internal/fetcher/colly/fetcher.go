// Package collyfetcher implements crawler.WebClient using gocolly.
//
// A Client is a browser-like session: it keeps cookies between requests and
// remembers the object search form from the last page that carried one, so
// Submit behaves like filling in and posting that form.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/crawler"
	"github.com/JakeFAU/wiserep-spider/internal/metrics"
)

// DefaultFormSelector matches the object search form on WISeREP pages.
const DefaultFormSelector = `form[action="/objects/list"]`

// ErrFormNotFound is returned by Submit before any page with the search form
// has been opened.
var ErrFormNotFound = errors.New("search form not found on any opened page")

// Config controls collector behavior. A positive RowsLimit overrides the
// rowslimit field of every captured search form.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	RowsLimit    int
	FormSelector string
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client implements crawler.WebClient using the Colly collector.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         crawler.RetryPolicy
	limiter       Limiter
	logger        *zap.Logger

	mu   sync.Mutex
	form *searchForm
}

type searchForm struct {
	action   string
	defaults url.Values
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	url  *url.URL
	code int
	body []byte
}

var _ crawler.WebClient = (*Client)(nil)

// New builds a Client. retry and limiter may be nil.
func New(cfg Config, retry crawler.RetryPolicy, limiter Limiter, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FormSelector == "" {
		cfg.FormSelector = DefaultFormSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Client{
		cfg:           cfg,
		baseCollector: c,
		retry:         retry,
		limiter:       limiter,
		logger:        logger,
	}
}

// Open navigates to rawURL and parses the page. When the page carries the
// search form, its defaults replace the remembered ones.
func (c *Client) Open(ctx context.Context, rawURL string) (*goquery.Document, error) {
	res, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := c.page(res)
	if err != nil {
		return nil, err
	}
	if form, ok := captureForm(doc, c.cfg.FormSelector, c.cfg.RowsLimit); ok {
		c.mu.Lock()
		c.form = form
		c.mu.Unlock()
	}
	return doc, nil
}

// Submit posts the remembered search form with values overriding its defaults.
// Results pages never change the remembered form, so values from one search
// do not leak into the next.
func (c *Client) Submit(ctx context.Context, values url.Values) (*goquery.Document, error) {
	c.mu.Lock()
	form := c.form
	c.mu.Unlock()
	if form == nil {
		return nil, ErrFormNotFound
	}
	fields := url.Values{}
	for k, v := range form.defaults {
		fields[k] = append([]string(nil), v...)
	}
	for k, v := range values {
		fields[k] = v
	}
	res, err := c.do(ctx, http.MethodPost, form.action, []byte(fields.Encode()))
	if err != nil {
		return nil, err
	}
	return c.page(res)
}

// Download fetches a file verbatim.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	res, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return res.body, nil
}

func (c *Client) page(res fetchResult) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", res.url, err)
	}
	doc.Url = res.url
	return doc, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (fetchResult, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fetchResult{}, fmt.Errorf("%s %s: %w", method, rawURL, err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return fetchResult{}, fmt.Errorf("wait for %s: %w", rawURL, err)
			}
		}
		start := time.Now()
		res, err := c.fetch(ctx, method, rawURL, body)
		metrics.ObserveFetch(rawURL, method, res.code, time.Since(start))
		if err == nil {
			return res, nil
		}
		if c.retry == nil || !c.retry.ShouldRetry(err, attempt) {
			return fetchResult{}, err
		}
		delay := c.retry.Backoff(attempt - 1)
		c.logger.Warn("request failed; retrying",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, delay); err != nil {
			return fetchResult{}, err
		}
	}
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, body []byte) (fetchResult, error) {
	var (
		result   fetchResult
		fetchErr error
	)
	collector := c.buildCollector(&result, &fetchErr)
	if err := runCollector(ctx, collector, method, rawURL, body); err != nil {
		// The collector may still be running after cancellation.
		if ctx.Err() != nil {
			return fetchResult{}, err
		}
		if fetchErr != nil {
			return result, fetchErr
		}
		return result, err
	}
	if fetchErr != nil {
		return result, fetchErr
	}
	return result, nil
}

func (c *Client) buildCollector(result *fetchResult, fetchErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *fetchResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = fetchResult{
			url:  r.Request.URL,
			code: r.StatusCode,
			body: append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.code = r.StatusCode
			if r.StatusCode < 200 || r.StatusCode > 299 {
				target := ""
				if r.Request != nil && r.Request.URL != nil {
					target = r.Request.URL.String()
				}
				*fetchErr = &crawler.StatusError{URL: target, Code: r.StatusCode}
				return
			}
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, method, rawURL string, body []byte) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			hdr := http.Header{}
			hdr.Set("Content-Type", "application/x-www-form-urlencoded")
			done <- collector.Request(method, rawURL, bytes.NewReader(body), nil, hdr)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly %s %s canceled: %w", method, rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly %s %s: %w", method, rawURL, err)
		}
		return nil
	}
}

// captureForm reads the default field values of the first form matching
// selector, the way a browser would submit it untouched.
func captureForm(doc *goquery.Document, selector string, rowsLimit int) (*searchForm, bool) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, false
	}
	action, _ := sel.Attr("action")
	target, err := url.Parse(strings.TrimSpace(action))
	if err != nil {
		return nil, false
	}
	if doc.Url != nil {
		target = doc.Url.ResolveReference(target)
	}

	fields := url.Values{}
	sel.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		value, _ := in.Attr("value")
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); checked {
				fields.Add(name, value)
			}
		default:
			fields.Add(name, value)
		}
	})
	sel.Find("select[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		selected := s.Find("option[selected]")
		if selected.Length() == 0 {
			if _, multiple := s.Attr("multiple"); multiple {
				return
			}
			selected = s.Find("option").First()
		}
		selected.Each(func(_ int, opt *goquery.Selection) {
			fields.Add(name, optionValue(opt))
		})
	})
	sel.Find("textarea[name]").Each(func(_ int, ta *goquery.Selection) {
		name, _ := ta.Attr("name")
		fields.Add(name, ta.Text())
	})
	if rowsLimit > 0 {
		fields.Set("rowslimit", strconv.Itoa(rowsLimit))
	}
	return &searchForm{action: target.String(), defaults: fields}, true
}

func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.Text())
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
