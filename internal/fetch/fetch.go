// Package fetch performs the HTTP side of a script run: plain GETs with a
// default header set, typed failure classification, retry with delay, and an
// optional cookie-carrying session scoped to one run.
//
// Timeouts apply per fetch call via the client timeout; callers wanting a
// tighter per-call deadline pass it on the context. Fetched bodies are
// decoded to UTF-8 using the response charset before scripts see them.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"scrapekit/internal/metrics"
	"scrapekit/internal/selection"
)

const defaultUserAgent = "scrapekit/0.1"

// statusBodyLimit bounds how much of an error response is kept for the
// error message.
const statusBodyLimit = 4096

// Config shapes a Client. The zero value works: default User-Agent, 30s
// timeout, no proxy.
type Config struct {
	// Name labels metrics and logs for this client's fetches, usually the
	// script name.
	Name string

	// UserAgent is sent unless a caller overrides the header per call.
	UserAgent string

	// Timeout bounds each fetch including body read. Zero means 30s.
	Timeout time.Duration

	// Headers are sent with every request, under caller overrides.
	Headers map[string]string

	// Proxy routes requests through an HTTP proxy URL. Empty uses the
	// environment's proxy settings.
	Proxy string

	// InsecureTLS skips certificate verification, for scraping hosts with
	// self-signed chains.
	InsecureTLS bool

	// MaxConnsPerHost caps connections per host. Zero means unlimited.
	MaxConnsPerHost int
}

// Client performs single GETs. Every run gets its own Client so header set
// and metrics labels never leak across runs.
type Client struct {
	hc      *http.Client
	name    string
	ua      string
	headers map[string]string
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: newTransport(cfg),
		},
		name:    cfg.Name,
		ua:      ua,
		headers: cfg.Headers,
	}
}

func newTransport(cfg Config) *http.Transport {
	t := &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		Proxy:               http.ProxyFromEnvironment,
	}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			t.Proxy = http.ProxyURL(u)
		}
	}
	if cfg.InsecureTLS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// Response is one successful fetch. Body is the raw payload; HTML is the
// same payload decoded to UTF-8 from the response charset.
type Response struct {
	URL     string
	Status  int
	Header  http.Header
	Body    []byte
	HTML    string
	Elapsed time.Duration
}

// Select runs a selector against the decoded body.
func (r *Response) Select(selector string) ([]selection.Node, error) {
	return selection.Select(r.HTML, selector)
}

// Tree parses the decoded body for structural traversal.
func (r *Response) Tree() (*selection.Tree, error) {
	return selection.Parse(r.HTML)
}

// Fetch GETs url with the client's default headers.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	return c.FetchWith(ctx, rawURL, nil)
}

// FetchWith GETs url with per-call headers layered over the defaults,
// overriding per key.
func (c *Client) FetchWith(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return do(ctx, c.hc, c.name, rawURL, c.ua, c.headers, nil, headers)
}

// do is the shared GET core for Client and Session. Header precedence, low
// to high: User-Agent, client defaults, session sticky headers, per-call.
func do(
	ctx context.Context,
	hc *http.Client,
	name, rawURL, ua string,
	defaults, sticky, headers map[string]string,
) (*Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, record(name, start, start, 0, 0,
			&Error{URL: rawURL, Kind: KindNetwork, cause: err})
	}

	req.Header.Set("User-Agent", ua)
	for k, v := range defaults {
		req.Header.Set(k, v)
	}
	for k, v := range sticky {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, record(name, start, start, 0, 0, classify(rawURL, err))
	}
	defer resp.Body.Close()
	headerAt := time.Now()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
		// Drain the rest so the connection can be reused.
		n, _ := io.Copy(io.Discard, resp.Body)
		fe := &Error{
			URL:        rawURL,
			Kind:       KindStatus,
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
			RetryAfter: parseRetryAfter(resp.Header),
		}
		return nil, record(name, start, headerAt, resp.StatusCode, int64(len(excerpt))+n, fe)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, record(name, start, headerAt, resp.StatusCode, int64(len(body)),
			classify(rawURL, err))
	}

	res := &Response{
		URL:     resp.Request.URL.String(),
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    body,
		HTML:    decodeHTML(body, resp.Header.Get("Content-Type")),
		Elapsed: time.Since(start),
	}
	record(name, start, headerAt, resp.StatusCode, int64(len(body)), nil)
	return res, nil
}

func record(name string, start, headerAt time.Time, status int, size int64, err error) error {
	metrics.RecordFetch(name, status, err, headerAt.Sub(start), time.Since(start), size)
	return err
}

// classify maps a transport-level error onto the failure taxonomy.
func classify(rawURL string, err error) *Error {
	kind := KindNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{URL: rawURL, Kind: kind, cause: err}
}

// decodeHTML converts body to UTF-8 using the content-type charset plus
// in-document sniffing. Undecodable input passes through unchanged; a
// mangled page is still more useful to a script than no page.
func decodeHTML(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}

	// delta-seconds
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	// HTTP-date
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// SleepContext waits for d or until ctx is done, whichever comes first.
// This is the runtime's suspension point primitive, shared by retry waits
// and the script-facing sleep.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
