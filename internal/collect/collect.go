// Package collect walks paginated listings and harvests download items.
//
// A Collector drives the fetch-select-resolve loop shared by gallery-style
// scripts: fetch page 1, optionally discover how many pages the pager
// advertises, then visit every page in order and turn matching nodes into
// emit items. Item order is stable: page order first, document order within
// a page.
package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/selection"
)

// PageFetcher fetches one page. *fetch.Client, *fetch.Retry and
// *fetch.Session all satisfy it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Pager configures pagination on top of a page-URL template.
type Pager struct {
	// Selector matches the pager's link nodes on page 1. Default "a".
	Selector string

	// Attr is the attribute carrying the page link. Default "href".
	Attr string

	// Pattern extracts the page index: a regexp whose first capture group
	// is the number. Default `page=(\d+)`.
	Pattern string

	// MaxPages clamps the discovered page count. With Discover off it is
	// the page count itself; 0 means a single page.
	MaxPages int

	// Discover parses the pager on page 1 for the highest referenced page.
	// When false the collector visits exactly MaxPages pages blind.
	Discover bool
}

// DiscoverPages returns the highest page index referenced by pager links in
// html, at least 1, clamped to p.MaxPages. Pages without a matching pager
// count as a single page; only a broken selector or pattern errors.
func DiscoverPages(html string, p Pager) (int, error) {
	sel := p.Selector
	if sel == "" {
		sel = "a"
	}
	attr := p.Attr
	if attr == "" {
		attr = "href"
	}
	pat := p.Pattern
	if pat == "" {
		pat = `page=(\d+)`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return 0, fmt.Errorf("pager pattern %q: %w", pat, err)
	}

	nodes, err := selection.Select(html, sel)
	if err != nil {
		return 0, err
	}

	highest := 1
	for _, n := range nodes {
		m := re.FindStringSubmatch(n.Attr(attr))
		if len(m) < 2 {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil || v < 1 {
			continue
		}
		if v > highest {
			highest = v
		}
	}
	if p.MaxPages > 0 && highest > p.MaxPages {
		highest = p.MaxPages
	}
	return highest, nil
}

// ItemRules selects and filters the nodes harvested from each page.
type ItemRules struct {
	// Selector matches candidate nodes. Default "a".
	Selector string

	// Attr is the attribute holding the item URL. Empty tries href, then src.
	Attr string

	// Kind stamps every item. Empty derives the kind from the URL.
	Kind emit.Kind

	// Max stops collection once this many items exist. 0 = unlimited.
	Max int

	Filter Filter
}

// Filter drops harvested URLs by extension, kind, or host. The zero value
// allows everything. data: URLs carry their payload inline and pass
// unfiltered.
type Filter struct {
	AllowExt []string    // keep only these extensions; empty keeps all
	DenyExt  []string    // drop these extensions
	Kinds    []emit.Kind // keep only these kinds; empty keeps all
	Domains  []string    // allowed hosts, exact or any subdomain
}

// Allows reports whether u with the derived kind survives the filter.
func (f Filter) Allows(u *url.URL, kind emit.Kind) bool {
	if u.Scheme == "data" {
		return true
	}
	ext := normalizeExt(path.Ext(u.Path))
	if len(f.AllowExt) > 0 && !hasExt(f.AllowExt, ext) {
		return false
	}
	if hasExt(f.DenyExt, ext) {
		return false
	}
	if len(f.Kinds) > 0 && !hasKind(f.Kinds, kind) {
		return false
	}
	if len(f.Domains) > 0 && !hostAllowed(f.Domains, u.Hostname()) {
		return false
	}
	return true
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func hasExt(list []string, ext string) bool {
	for _, e := range list {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

func hasKind(list []emit.Kind, k emit.Kind) bool {
	for _, want := range list {
		if want == k {
			return true
		}
	}
	return false
}

func hostAllowed(domains []string, host string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Collector drives the page loop.
type Collector struct {
	Fetcher PageFetcher
	Pager   *Pager // nil = single page
	Items   ItemRules

	// Delay is the pause before each page fetch after the first.
	Delay time.Duration

	// OnItem observes each appended item, in order. May be nil. Scripts
	// point it at their partial sink.
	OnItem func(emit.Item)

	// Sleep replaces the delay sleeper in tests. Nil = fetch.SleepContext.
	Sleep func(context.Context, time.Duration) error

	// Log is optional.
	Log *slog.Logger
}

// Collect fetches every page of pageTemplate and returns the harvested
// items. On a mid-walk error it returns the items gathered so far along
// with the error; the caller decides whether a partial harvest is worth
// emitting.
func (c *Collector) Collect(ctx context.Context, pageTemplate string) ([]emit.Item, error) {
	log := c.logger()

	first := PageURL(pageTemplate, 1)
	resp, err := c.Fetcher.Fetch(ctx, first)
	if err != nil {
		return nil, err
	}

	pages := 1
	if c.Pager != nil {
		if c.Pager.Discover {
			pages, err = DiscoverPages(resp.HTML, *c.Pager)
			if err != nil {
				return nil, err
			}
		} else if c.Pager.MaxPages > 0 {
			pages = c.Pager.MaxPages
		}
	}
	log.Debug("pages resolved", "url", first, "pages", pages)

	seen := map[string]bool{}
	items, done, err := c.harvest(resp, nil, seen)
	if err != nil || done {
		return items, err
	}

	for p := 2; p <= pages; p++ {
		if err := c.pause(ctx); err != nil {
			return items, err
		}
		resp, err := c.Fetcher.Fetch(ctx, PageURL(pageTemplate, p))
		if err != nil {
			return items, err
		}
		items, done, err = c.harvest(resp, items, seen)
		if err != nil || done {
			return items, err
		}
		log.Debug("page harvested", "page", p, "items", len(items))
	}
	return items, nil
}

// harvest appends the page's matching items to items. done is true once
// ItemRules.Max is reached.
func (c *Collector) harvest(resp *fetch.Response, items []emit.Item, seen map[string]bool) ([]emit.Item, bool, error) {
	sel := c.Items.Selector
	if sel == "" {
		sel = "a"
	}
	nodes, err := selection.Select(resp.HTML, sel)
	if err != nil {
		return items, false, err
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return items, false, fmt.Errorf("page url %q: %w", resp.URL, err)
	}

	for _, n := range nodes {
		raw := c.itemURL(n)
		if raw == "" {
			continue
		}
		abs, ok := ResolveURL(base, raw)
		if !ok || seen[abs] {
			continue
		}

		u, err := url.Parse(abs)
		if err != nil {
			continue
		}
		kind := c.Items.Kind
		if kind == "" {
			kind = KindForURL(abs)
		}
		if !c.Items.Filter.Allows(u, kind) {
			continue
		}
		seen[abs] = true

		name := FilenameFromURL(abs)
		if name == "" {
			name = fmt.Sprintf("item-%d%s", len(items)+1, strings.ToLower(path.Ext(u.Path)))
		}
		it := emit.Item{
			URL:      abs,
			Filename: name,
			Title:    selection.CleanText(n.Text),
			Kind:     kind,
		}
		items = append(items, it)
		if c.OnItem != nil {
			c.OnItem(it)
		}
		if c.Items.Max > 0 && len(items) >= c.Items.Max {
			return items, true, nil
		}
	}
	return items, false, nil
}

func (c *Collector) itemURL(n selection.Node) string {
	if c.Items.Attr != "" {
		return strings.TrimSpace(n.Attr(c.Items.Attr))
	}
	if v := strings.TrimSpace(n.Attr("href")); v != "" {
		return v
	}
	return strings.TrimSpace(n.Attr("src"))
}

func (c *Collector) pause(ctx context.Context) error {
	fn := c.Sleep
	if fn == nil {
		fn = fetch.SleepContext
	}
	return fn(ctx, c.Delay)
}

func (c *Collector) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
