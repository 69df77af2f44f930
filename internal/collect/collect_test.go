package collect

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/selection"
)

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Response, error) {
	f.calls = append(f.calls, rawURL)
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, &fetch.Error{URL: rawURL, Kind: fetch.KindStatus, Status: 404}
	}
	return &fetch.Response{URL: rawURL, Status: 200, HTML: html}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

// ---- pagination discovery ----

func TestDiscoverPagesMaxReferenced(t *testing.T) {
	t.Parallel()

	html := `<div class="pager">
		<a href="?page=1">1</a>
		<a href="?page=3">3</a>
		<a href="?page=5">5</a>
	</div>`

	n, err := DiscoverPages(html, Pager{Selector: "div.pager a", Discover: true})
	if err != nil {
		t.Fatalf("DiscoverPages: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 pages, got %d", n)
	}
}

func TestDiscoverPagesNoPagerMeansOne(t *testing.T) {
	t.Parallel()

	n, err := DiscoverPages(`<p>no links here</p>`, Pager{Selector: "a.page"})
	if err != nil {
		t.Fatalf("DiscoverPages: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}

func TestDiscoverPagesClamp(t *testing.T) {
	t.Parallel()

	html := `<a class="page" href="?page=40">40</a>`
	n, err := DiscoverPages(html, Pager{Selector: "a.page", MaxPages: 10})
	if err != nil {
		t.Fatalf("DiscoverPages: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected clamp to 10, got %d", n)
	}
}

func TestDiscoverPagesCustomPattern(t *testing.T) {
	t.Parallel()

	html := `<a class="page" href="/board/p7">7</a><a class="page" href="/board/p2">2</a>`
	n, err := DiscoverPages(html, Pager{Selector: "a.page", Pattern: `/p(\d+)`})
	if err != nil {
		t.Fatalf("DiscoverPages: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}

func TestDiscoverPagesBadSelector(t *testing.T) {
	t.Parallel()

	_, err := DiscoverPages(`<a href="?page=2">2</a>`, Pager{Selector: "a[unclosed"})
	if !errors.Is(err, selection.ErrBadSelector) {
		t.Fatalf("expected ErrBadSelector, got %v", err)
	}
}

func TestDiscoverPagesBadPattern(t *testing.T) {
	t.Parallel()

	_, err := DiscoverPages(`<a href="?page=2">2</a>`, Pager{Selector: "a", Pattern: `page=(\d`})
	if err == nil {
		t.Fatalf("expected pattern error")
	}
}

// ---- collection ----

func TestCollectVisitsDiscoveredPagesInOrder(t *testing.T) {
	t.Parallel()

	base := "http://site.test/gallery"
	pager := `<div class="pager"><a href="?page=1">1</a><a href="?page=3">3</a><a href="?page=5">5</a></div>`
	pages := map[string]string{
		base: `<a class="img" href="/img/p1.jpg">p1</a>` + pager,
	}
	for p := 2; p <= 5; p++ {
		pages[fmt.Sprintf("%s?page=%d", base, p)] = fmt.Sprintf(`<a class="img" href="/img/p%d.jpg">p%d</a>`, p, p)
	}

	ff := &fakeFetcher{pages: pages}
	c := &Collector{
		Fetcher: ff,
		Pager:   &Pager{Selector: "div.pager a", Discover: true},
		Items:   ItemRules{Selector: "a.img"},
		Sleep:   noSleep,
	}

	items, err := c.Collect(context.Background(), base)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(ff.calls) != 5 {
		t.Fatalf("expected pages 1..5 fetched, got %v", ff.calls)
	}
	wantCalls := []string{
		base,
		base + "?page=2",
		base + "?page=3",
		base + "?page=4",
		base + "?page=5",
	}
	if !reflect.DeepEqual(ff.calls, wantCalls) {
		t.Fatalf("expected calls %v, got %v", wantCalls, ff.calls)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %#v", items)
	}
	for i, it := range items {
		want := fmt.Sprintf("p%d.jpg", i+1)
		if it.Filename != want {
			t.Fatalf("item %d: expected %s, got %#v", i, want, it)
		}
	}
}

func TestCollectFiltersAndResolves(t *testing.T) {
	t.Parallel()

	page := "http://site.test/board"
	ff := &fakeFetcher{pages: map[string]string{
		page: `<a href="/x.jpg">x</a><a href="http://y.test/z.png">z</a><a href="/q.svg">q</a>`,
	}}
	c := &Collector{
		Fetcher: ff,
		Items:   ItemRules{Selector: "a", Filter: Filter{DenyExt: []string{".svg"}}},
		Sleep:   noSleep,
	}

	items, err := c.Collect(context.Background(), page)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []emit.Item{
		{URL: "http://site.test/x.jpg", Filename: "x.jpg", Title: "x", Kind: emit.KindImage},
		{URL: "http://y.test/z.png", Filename: "z.png", Title: "z", Kind: emit.KindImage},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("expected %#v, got %#v", want, items)
	}
}

func TestCollectStopsAtMaxItems(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base: `<a href="/1.jpg">1</a><a href="/2.jpg">2</a><a href="/3.jpg">3</a>`,
	}}
	c := &Collector{
		Fetcher: ff,
		Pager:   &Pager{MaxPages: 9},
		Items:   ItemRules{Selector: "a", Max: 2},
		Sleep:   noSleep,
	}

	items, err := c.Collect(context.Background(), base)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %#v", items)
	}
	if len(ff.calls) != 1 {
		t.Fatalf("expected no further page fetches after max, got %v", ff.calls)
	}
}

func TestCollectDedupesAcrossPages(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base:             `<a href="/same.jpg">a</a><a href="/same.jpg">b</a>`,
		base + "?page=2": `<a href="/same.jpg">c</a><a href="/new.jpg">d</a>`,
	}}
	c := &Collector{
		Fetcher: ff,
		Pager:   &Pager{MaxPages: 2},
		Items:   ItemRules{Selector: "a"},
		Sleep:   noSleep,
	}

	items, err := c.Collect(context.Background(), base)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected same.jpg and new.jpg once each, got %#v", items)
	}
}

func TestCollectSleepsBetweenPages(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base:             `<a href="/1.jpg">1</a>`,
		base + "?page=2": `<a href="/2.jpg">2</a>`,
		base + "?page=3": `<a href="/3.jpg">3</a>`,
	}}

	var pauses []time.Duration
	c := &Collector{
		Fetcher: ff,
		Pager:   &Pager{MaxPages: 3},
		Items:   ItemRules{Selector: "a"},
		Delay:   150 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		},
	}

	if _, err := c.Collect(context.Background(), base); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pauses for 3 pages, got %v", pauses)
	}
	for _, d := range pauses {
		if d != 150*time.Millisecond {
			t.Fatalf("expected configured delay, got %v", pauses)
		}
	}
}

func TestCollectOnItemObservesOrder(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base: `<a href="/a.jpg">a</a><a href="/b.jpg">b</a>`,
	}}

	var streamed []string
	c := &Collector{
		Fetcher: ff,
		Items:   ItemRules{Selector: "a"},
		OnItem:  func(it emit.Item) { streamed = append(streamed, it.Filename) },
		Sleep:   noSleep,
	}

	items, err := c.Collect(context.Background(), base)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 || !reflect.DeepEqual(streamed, []string{"a.jpg", "b.jpg"}) {
		t.Fatalf("expected streamed a.jpg,b.jpg, got %v", streamed)
	}
}

func TestCollectKindAndDomainFilters(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base: `<a href="http://cdn.site.test/a.jpg">a</a>
			<a href="http://cdn.site.test/b.mp4">b</a>
			<a href="http://elsewhere.test/c.jpg">c</a>`,
	}}
	c := &Collector{
		Fetcher: ff,
		Items: ItemRules{
			Selector: "a",
			Filter: Filter{
				Kinds:   []emit.Kind{emit.KindImage},
				Domains: []string{"site.test"},
			},
		},
		Sleep: noSleep,
	}

	items, err := c.Collect(context.Background(), base)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 1 || items[0].Filename != "a.jpg" {
		t.Fatalf("expected only a.jpg to survive, got %#v", items)
	}
}

func TestCollectFirstPageErrorReturnsNothing(t *testing.T) {
	t.Parallel()

	ff := &fakeFetcher{pages: map[string]string{}}
	c := &Collector{Fetcher: ff, Items: ItemRules{Selector: "a"}, Sleep: noSleep}

	items, err := c.Collect(context.Background(), "http://site.test/missing")
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	var fe *fetch.Error
	if !errors.As(err, &fe) || fe.Status != 404 {
		t.Fatalf("expected 404 fetch error, got %v", err)
	}
	if items != nil {
		t.Fatalf("expected no items, got %#v", items)
	}
}

func TestCollectMidWalkErrorKeepsHarvest(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base: `<a href="/1.jpg">1</a>`,
		// page 2 missing
	}}
	c := &Collector{
		Fetcher: ff,
		Pager:   &Pager{MaxPages: 2},
		Items:   ItemRules{Selector: "a"},
		Sleep:   noSleep,
	}

	items, err := c.Collect(context.Background(), base)
	if err == nil {
		t.Fatalf("expected error from page 2")
	}
	if len(items) != 1 || items[0].Filename != "1.jpg" {
		t.Fatalf("expected page 1 harvest kept, got %#v", items)
	}
}

func TestCollectCanceledContextStopsWalk(t *testing.T) {
	t.Parallel()

	base := "http://site.test/g"
	ff := &fakeFetcher{pages: map[string]string{
		base:             `<a href="/1.jpg">1</a>`,
		base + "?page=2": `<a href="/2.jpg">2</a>`,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		Fetcher: ff,
		Pager:   &Pager{MaxPages: 2},
		Items:   ItemRules{Selector: "a"},
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	items, err := c.Collect(ctx, base)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected page 1 harvest kept, got %#v", items)
	}
	if len(ff.calls) != 1 {
		t.Fatalf("expected no fetch after cancel, got %v", ff.calls)
	}
}
