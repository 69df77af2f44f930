// Package selection evaluates CSS selector expressions against HTML and
// returns matched nodes with their tag, attributes, and text.
//
// Semantics:
//   - Matching is read-only and pure: the same (document, selector) inputs
//     always produce the same ordered result.
//   - Results preserve document order, never a sorted order.
//   - No match is an empty slice, never an error.
//   - Only a malformed selector expression is an error (ErrBadSelector);
//     it is a programmer error in the calling script.
//
// Selectors come from script bodies, so expressions are compiled explicitly
// instead of letting goquery's Find panic on bad input.
package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ErrBadSelector marks a selector expression that failed to compile.
var ErrBadSelector = errors.New("malformed selector")

// Node is a read-only view of one matched element.
type Node struct {
	Tag   string
	Attrs map[string]string
	Text  string
}

// Attr returns the named attribute or "" when absent.
func (n Node) Attr(name string) string { return n.Attrs[name] }

// HasAttr reports whether the attribute is present, including when empty.
func (n Node) HasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// Select parses html and returns every node matching selector, in document
// order. Supported selector forms include tag (`img`), attribute presence
// (`a[href]`), attribute substring (`a[href*=".jpg"]`), class (`.thumb`),
// and compound/descendant combinations (`div.gallery a[href] img`).
func Select(html, selector string) ([]Node, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return nil, err
	}
	return selectIn(doc.Selection, selector)
}

func parseDoc(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func selectIn(root *goquery.Selection, selector string) ([]Node, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}

	var nodes []Node
	root.FindMatcher(m).Each(func(_ int, sel *goquery.Selection) {
		nodes = append(nodes, nodeOf(sel))
	})
	return nodes, nil
}

func compile(selector string) (cascadia.Selector, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrBadSelector, selector, err)
	}
	return m, nil
}

func nodeOf(sel *goquery.Selection) Node {
	n := Node{Text: sel.Text()}
	if len(sel.Nodes) == 0 {
		return n
	}
	first := sel.Nodes[0]
	n.Tag = first.Data
	n.Attrs = make(map[string]string, len(first.Attr))
	for _, a := range first.Attr {
		n.Attrs[a.Key] = a.Val
	}
	return n
}

// CleanText collapses whitespace runs to single spaces and trims the ends.
// This is what scripts want for titles and labels pulled out of markup.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
