package fetch

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Session is a Client variant that carries response cookies and sticky
// headers across fetches, for scripts that authenticate once and then walk
// many pages. A Session belongs to a single run and is discarded with it;
// it is not safe for concurrent use, which matches the one-sequence-per-run
// execution model.
type Session struct {
	hc      *http.Client
	name    string
	ua      string
	base    map[string]string
	sticky  map[string]string
	created time.Time
}

// NewSession builds a cookie-carrying session from cfg.
func NewSession(cfg Config) *Session {
	c := NewClient(cfg)
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{
		Timeout:   c.hc.Timeout,
		Transport: c.hc.Transport,
		Jar:       jar,
	}
	return &Session{
		hc:      hc,
		name:    c.name,
		ua:      c.ua,
		base:    c.headers,
		sticky:  make(map[string]string),
		created: time.Now(),
	}
}

// SetHeader pins a header on every subsequent fetch of this session, e.g. an
// auth token harvested from a login page. Per-call headers still win.
func (s *Session) SetHeader(k, v string) {
	s.sticky[k] = v
}

// Fetch GETs url with the session's cookies and sticky headers.
func (s *Session) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	return s.FetchWith(ctx, rawURL, nil)
}

// FetchWith GETs url with per-call headers layered over the session's.
func (s *Session) FetchWith(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return do(ctx, s.hc, s.name, rawURL, s.ua, s.base, s.sticky, headers)
}
