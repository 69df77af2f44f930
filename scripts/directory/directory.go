// Package directory scrapes staff listings into vCard documents. Contact
// emails on these pages are obfuscated inside inline scripts, so the card
// walk pairs structural traversal with the JS-escape decoder; each contact
// becomes a data-URL vCard plus the avatar image when one is present.
package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"scrapekit/internal/collect"
	"scrapekit/internal/emit"
	"scrapekit/internal/runtime"
	"scrapekit/internal/schema"
	"scrapekit/internal/selection"
)

func init() {
	runtime.Register(&runtime.Script{
		Meta: runtime.Metadata{
			Name:        "directory",
			Author:      "scrapekit",
			Version:     "1.0.0",
			Description: "Extracts staff contacts as vCards, avatars included",
			Domains:     []string{"directory.example"},
			Options: schema.MustParse([]byte(`{
				"avatars": {"type": "bool", "default": true,
				 "description": "Also emit each contact's avatar image"},
				"require_email": {"type": "bool", "default": false,
				 "description": "Skip contacts whose email cannot be decoded"}
			}`)),
		},
		Resolve: run,
	})
}

func run(ctx context.Context, r *runtime.Run, rawURL string) error {
	opts := r.Options()

	resp, err := r.Retrying().Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return err
	}
	tree, err := resp.Tree()
	if err != nil {
		return err
	}

	var items []emit.Item
	for _, card := range tree.FindAll("div", map[string]string{"class": "contact"}) {
		c := readCard(card)
		if c.name == "" {
			continue
		}
		if c.email == "" {
			if opts.Bool("require_email", false) {
				r.Log().Warn("contact without decodable email skipped", "name", c.name)
				continue
			}
			r.Log().Info("no email decoded for contact", "name", c.name)
		}

		it := c.vcard()
		r.Partial(it)
		items = append(items, it)

		if opts.Bool("avatars", true) && c.avatar != "" {
			if abs, ok := collect.ResolveURL(base, c.avatar); ok {
				av := emit.Item{
					URL:      abs,
					Filename: collect.FilenameFromURL(abs),
					Title:    c.name,
					Kind:     emit.KindImage,
				}
				r.Partial(av)
				items = append(items, av)
			}
		}
	}

	return r.Emit(base.Hostname()+"-contacts", items)
}

type contact struct {
	name   string
	role   string
	email  string
	phone  string
	avatar string
}

// readCard pulls one contact out of its card element. The email lives in
// the card's inline script; everything else is plain markup.
func readCard(card *selection.Elem) contact {
	var c contact
	if h := card.Find("h3"); h != nil {
		c.name = h.Text(true)
	}
	if s := card.Find("script"); s != nil {
		c.email = emailIn(s.Text(false))
	}
	if img := card.Find("img"); img != nil {
		c.avatar = img.Attr("src")
	}
	for _, span := range card.FindAll("span", nil) {
		switch span.Attr("class") {
		case "role":
			c.role = span.Text(true)
		case "phone":
			c.phone = span.Text(true)
		}
	}
	return c
}

// vcard renders the contact as a data-URL item the consumer can write out
// without any further fetching.
func (c contact) vcard() emit.Item {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\nVERSION:3.0\r\n")
	fmt.Fprintf(&b, "FN:%s\r\n", c.name)
	if c.role != "" {
		fmt.Fprintf(&b, "TITLE:%s\r\n", c.role)
	}
	if c.email != "" {
		fmt.Fprintf(&b, "EMAIL:%s\r\n", c.email)
	}
	if c.phone != "" {
		fmt.Fprintf(&b, "TEL:%s\r\n", c.phone)
	}
	b.WriteString("END:VCARD\r\n")

	return emit.Item{
		URL:      "data:text/vcard;base64," + base64.StdEncoding.EncodeToString([]byte(b.String())),
		Filename: slug(c.name) + ".vcf",
		Title:    c.name,
		Kind:     emit.KindDocument,
	}
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "contact"
	}
	return out
}
