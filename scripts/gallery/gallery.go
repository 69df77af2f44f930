// Package gallery scrapes paginated image galleries. It is the
// option-driven reference script: everything it does goes through the
// pagination controller, so it exercises page discovery, filtering, and
// partial streaming end to end.
package gallery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"scrapekit/internal/collect"
	"scrapekit/internal/emit"
	"scrapekit/internal/runtime"
	"scrapekit/internal/schema"
)

func init() {
	runtime.Register(&runtime.Script{
		Meta: runtime.Metadata{
			Name:        "gallery",
			Author:      "scrapekit",
			Version:     "1.1.0",
			Description: "Scrapes images and videos from paginated gallery pages",
			Options: schema.MustParse([]byte(`[
				{"id": "url", "type": "url", "label": "Gallery URL", "required": true},
				{"id": "pages", "type": "number", "label": "Pages",
				 "description": "Page count; 0 discovers it from the pager", "default": 0, "min": 0, "max": 50},
				{"id": "tags", "type": "string", "label": "Tags",
				 "description": "Comma-separated tags stamped on every item"},
				{"id": "min_width", "type": "select", "label": "Minimum width", "default": "0",
				 "choices": ["0", "640", "1280"]},
				{"id": "skip_svg", "type": "bool", "label": "Skip SVG", "default": true},
				{"id": "concurrency", "type": "range", "label": "Download concurrency",
				 "default": 3, "min": 1, "max": 8, "depends_on": "url"}
			]`)),
		},
		Main: run,
	})
}

func run(ctx context.Context, r *runtime.Run) error {
	opts := r.Options()
	pageURL := opts.String("url", "")
	tags := splitTags(opts.String("tags", ""))

	var deny []string
	if opts.Bool("skip_svg", true) {
		deny = append(deny, "svg")
	}

	c := &collect.Collector{
		Fetcher: r.Retrying(),
		Pager: &collect.Pager{
			Selector: "a.page, nav.pagination a",
			Discover: opts.Int("pages", 0) == 0,
			MaxPages: opts.Int("pages", 0),
		},
		Items: collect.ItemRules{
			Selector: itemSelector(opts.String("min_width", "0")),
			Filter:   collect.Filter{DenyExt: deny},
		},
		Delay: r.PageDelay(),
		Sleep: r.Sleep,
		Log:   r.Log(),
		OnItem: func(it emit.Item) {
			it.Tags = tags
			r.Partial(it)
		},
	}

	items, err := c.Collect(ctx, pageURL)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Tags = tags
	}

	// The downloader decides how many of these to fetch at once; the run
	// itself stays sequential.
	r.Log().Info("collection done",
		"items", len(items), "concurrency", opts.Int("concurrency", 3))
	return r.Emit(dirFor(pageURL), items)
}

// itemSelector picks the anchor variant carrying at least the requested
// width. Galleries this script targets class their size variants as
// a.size-<width>; the smallest setting takes any linked or inline media.
func itemSelector(minWidth string) string {
	if minWidth == "" || minWidth == "0" {
		return "div.gallery a[href], div.gallery img[src]"
	}
	return fmt.Sprintf("div.gallery a.size-%s[href]", minWidth)
}

func splitTags(csv string) []string {
	var out []string
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// dirFor names the output directory after the gallery host.
func dirFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "gallery"
	}
	return u.Hostname() + "-gallery"
}
