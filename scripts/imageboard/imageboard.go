// Package imageboard scrapes media from imageboard threads. It is the
// URL-driven reference script: the host hands it a thread URL, and it walks
// the thread with a session because these boards gate full-size files
// behind a cookie set on the first page view.
package imageboard

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"scrapekit/internal/collect"
	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/runtime"
	"scrapekit/internal/schema"
)

func init() {
	runtime.Register(&runtime.Script{
		Meta: runtime.Metadata{
			Name:        "imageboard",
			Author:      "scrapekit",
			Version:     "1.0.0",
			Description: "Scrapes images and videos from imageboard threads",
			Domains:     []string{"*.imgboard.example", "imgboard.example"},
			// Declared in the mapping shape; the normalizer canonicalizes it.
			Options: schema.MustParse([]byte(`{
				"include_videos": {"type": "bool", "default": true,
				 "description": "Include webm/mp4 attachments"},
				"full_size": {"type": "bool", "default": true,
				 "description": "Follow file links for the full-size variant"},
				"max_items": {"type": "number", "default": 100, "min": 1, "max": 1000}
			}`)),
		},
		Resolve: run,
	})
}

// fileDelay is the politeness pause before each file-page fetch.
const fileDelay = 250 * time.Millisecond

func run(ctx context.Context, r *runtime.Run, rawURL string) error {
	opts := r.Options()
	maxItems := opts.Int("max_items", 100)

	kinds := []emit.Kind{emit.KindImage}
	if opts.Bool("include_videos", true) {
		kinds = append(kinds, emit.KindVideo)
	}
	filter := collect.Filter{Kinds: kinds}

	// The first view sets the board cookie that unlocks full-size files, so
	// every fetch in this run shares one session.
	sess := r.Session()
	resp, err := sess.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return err
	}

	nodes, err := resp.Select("a.file[href], div.post img[src]")
	if err != nil {
		return err
	}

	var items []emit.Item
	seen := map[string]bool{}
	for _, n := range nodes {
		href := n.Attr("href")
		if href == "" {
			href = n.Attr("src")
		}
		abs, ok := collect.ResolveURL(base, href)
		if !ok || seen[abs] {
			continue
		}
		seen[abs] = true

		if opts.Bool("full_size", true) && n.Tag == "a" {
			full, err := fullSize(ctx, r, sess, abs)
			if err != nil {
				return err
			}
			if full != "" {
				if seen[full] {
					continue
				}
				seen[full] = true
				abs = full
			}
		}

		u, err := url.Parse(abs)
		if err != nil {
			continue
		}
		kind := collect.KindForURL(abs)
		if !filter.Allows(u, kind) {
			continue
		}

		it := emit.Item{
			URL:      abs,
			Filename: collect.FilenameFromURL(abs),
			Title:    strings.TrimSpace(n.Text),
			Kind:     kind,
		}
		r.Partial(it)
		items = append(items, it)
		if len(items) >= maxItems {
			break
		}
	}

	return r.Emit(dirFor(base), items)
}

// fullSize follows a file anchor and returns the full-size media URL its
// view page advertises, or "" to keep the original link. Anchors that point
// straight at media are not view pages and are kept as-is. A failed view
// fetch also keeps the original link, the thumbnail being better than
// nothing; only cancellation ends the run.
func fullSize(ctx context.Context, r *runtime.Run, sess *fetch.Session, pageURL string) (string, error) {
	if collect.KindForURL(pageURL) != emit.KindMedia {
		return "", nil
	}
	if err := r.Sleep(ctx, fileDelay); err != nil {
		return "", err
	}
	resp, err := sess.Fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.Log().Warn("file page fetch failed", "url", pageURL, "err", err)
		return "", nil
	}
	nodes, err := resp.Select("img#full[src], video#full source[src]")
	if err != nil || len(nodes) == 0 {
		return "", nil
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return "", nil
	}
	abs, ok := collect.ResolveURL(base, nodes[0].Attr("src"))
	if !ok {
		return "", nil
	}
	return abs, nil
}

func dirFor(base *url.URL) string {
	thread := path.Base(base.Path)
	if thread == "" || thread == "/" || thread == "." {
		return base.Hostname()
	}
	return base.Hostname() + "-" + thread
}
