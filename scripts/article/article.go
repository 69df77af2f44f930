// Package article captures web articles as markdown documents. Instead of
// pointing at remote media, each emitted item carries its payload inline as
// a base64 data URL, so the consumer downloads nothing it has not already
// been handed.
package article

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"scrapekit/internal/collect"
	"scrapekit/internal/emit"
	"scrapekit/internal/runtime"
	"scrapekit/internal/schema"
	"scrapekit/internal/selection"
)

func init() {
	runtime.Register(&runtime.Script{
		Meta: runtime.Metadata{
			Name:        "article",
			Author:      "scrapekit",
			Version:     "1.0.0",
			Description: "Captures article pages as markdown data-URL documents",
			Options: schema.MustParse([]byte(`[
				{"id": "url", "type": "url", "label": "Article URL", "required": true},
				{"id": "selector", "type": "string", "label": "Content selector",
				 "description": "Element holding the article body", "default": "article"},
				{"id": "pages", "type": "number", "label": "Pages",
				 "description": "Multi-page articles: number of pages to capture",
				 "default": 1, "min": 1, "max": 20}
			]`)),
		},
		Main: run,
	})
}

func run(ctx context.Context, r *runtime.Run) error {
	opts := r.Options()
	template := opts.String("url", "")
	selector := opts.String("selector", "article")
	pages := opts.Int("pages", 1)

	var items []emit.Item
	for p := 1; p <= pages; p++ {
		resp, err := r.Retrying().Fetch(ctx, collect.PageURL(template, p))
		if err != nil {
			return err
		}

		it, err := capture(resp.HTML, selector, p)
		if err != nil {
			return err
		}
		if it == nil {
			r.Log().Warn("no article content on page", "page", p, "selector", selector)
			continue
		}
		r.Partial(*it)
		items = append(items, *it)
	}

	return r.Emit("articles", items)
}

// capture extracts the article body from html, sanitizes it, and renders
// one markdown document item. Returns nil when the selector matches
// nothing.
func capture(html, selector string, page int) (*emit.Item, error) {
	tree, err := selection.Parse(html)
	if err != nil {
		return nil, err
	}

	body, title, err := content(tree, selector)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, nil
	}

	// Sanitize before conversion: scripts, event handlers, and styling have
	// no place in a text capture.
	clean := bluemonday.UGCPolicy().Sanitize(body)

	markdown, err := md.NewConverter("", true, nil).ConvertString(clean)
	if err != nil {
		return nil, fmt.Errorf("markdown conversion: %w", err)
	}
	if title != "" {
		markdown = "# " + title + "\n\n" + markdown
	}

	return &emit.Item{
		URL:      "data:text/markdown;base64," + base64.StdEncoding.EncodeToString([]byte(markdown)),
		Filename: filename(title, page),
		Title:    title,
		Kind:     emit.KindDocument,
	}, nil
}

// content returns the outer HTML of the first element matching selector and
// the page title, preferring the heading inside the matched element over
// the document title.
func content(tree *selection.Tree, selector string) (body, title string, err error) {
	e, err := tree.First(selector)
	if err != nil || e == nil {
		return "", "", err
	}
	body, err = e.HTML()
	if err != nil {
		return "", "", err
	}
	if h := e.Find("h1"); h != nil {
		title = h.Text(true)
	}
	if title == "" {
		if t := tree.Find("title"); t != nil {
			title = t.Text(true)
		}
	}
	return body, title, nil
}

func filename(title string, page int) string {
	slug := slugify(title)
	if slug == "" {
		slug = "article"
	}
	if page > 1 {
		return fmt.Sprintf("%s-%d.md", slug, page)
	}
	return slug + ".md"
}

func slugify(s string) string {
	// Fold diacritics first so "Café" slugs to "cafe", not "caf".
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}

	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if n := b.Len(); n > 0 && b.String()[n-1] != '-' {
				b.WriteByte('-')
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
