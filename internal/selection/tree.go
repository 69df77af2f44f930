package selection

import "github.com/PuerkitoBio/goquery"

// Tree is the structural traversal API over one parsed document, for scripts
// that need more than flat selector matching, such as walking from a matched
// table row to the sibling row after it.
//
// A Tree and the Elems reached through it are views over a single parse; the
// document is never mutated. They may be held for the duration of a run.
type Tree struct {
	doc *goquery.Document
}

// Parse builds a Tree from an HTML document.
func Parse(html string) (*Tree, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return nil, err
	}
	return &Tree{doc: doc}, nil
}

// Select runs a flat selector query against the already-parsed document,
// with the same semantics as the package-level Select.
func (t *Tree) Select(selector string) ([]Node, error) {
	return selectIn(t.doc.Selection, selector)
}

// Find returns the first element with the given tag, or nil when none.
func (t *Tree) Find(tag string) *Elem {
	return elemOf(t.doc.Find(tag).First())
}

// First returns the first element matching selector, or nil when none. It
// errors only on a malformed selector, like Select.
func (t *Tree) First(selector string) (*Elem, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	return elemOf(t.doc.FindMatcher(m).First()), nil
}

// FindAll returns every element with the given tag whose attributes match
// attrs, in document order. See Elem.FindAll for the filter semantics.
func (t *Tree) FindAll(tag string, attrs map[string]string) []*Elem {
	return findAll(t.doc.Selection, tag, attrs)
}

// Elem is one element within a Tree.
type Elem struct {
	sel *goquery.Selection
}

func elemOf(sel *goquery.Selection) *Elem {
	if sel == nil || sel.Length() == 0 {
		return nil
	}
	return &Elem{sel: sel.First()}
}

// Tag returns the element's tag name.
func (e *Elem) Tag() string {
	if len(e.sel.Nodes) == 0 {
		return ""
	}
	return e.sel.Nodes[0].Data
}

// Attr returns the named attribute or "" when absent.
func (e *Elem) Attr(name string) string {
	v, _ := e.sel.Attr(name)
	return v
}

// HasAttr reports whether the attribute is present.
func (e *Elem) HasAttr(name string) bool {
	_, ok := e.sel.Attr(name)
	return ok
}

// Text returns the element's combined text. With strip set, whitespace runs
// collapse to single spaces and the ends are trimmed.
func (e *Elem) Text(strip bool) string {
	if strip {
		return CleanText(e.sel.Text())
	}
	return e.sel.Text()
}

// Find returns the first descendant with the given tag, or nil when none.
func (e *Elem) Find(tag string) *Elem {
	return elemOf(e.sel.Find(tag).First())
}

// FindAll returns descendants with the given tag whose attributes match
// attrs, in document order.
//
// Filter semantics: every key in attrs must be present on the element; a
// non-empty value must match exactly, an empty value only requires presence.
// An empty tag matches any element. A nil attrs map applies no filter.
func (e *Elem) FindAll(tag string, attrs map[string]string) []*Elem {
	return findAll(e.sel, tag, attrs)
}

// Next returns the next sibling element, or nil at the end.
func (e *Elem) Next() *Elem {
	return elemOf(e.sel.Next())
}

// Prev returns the previous sibling element, or nil at the start.
func (e *Elem) Prev() *Elem {
	return elemOf(e.sel.Prev())
}

// Parent returns the parent element, or nil at the document root.
func (e *Elem) Parent() *Elem {
	return elemOf(e.sel.Parent())
}

// Node returns the value view of this element.
func (e *Elem) Node() Node {
	return nodeOf(e.sel)
}

// HTML returns the element's outer HTML as rendered from the parse tree.
func (e *Elem) HTML() (string, error) {
	return goquery.OuterHtml(e.sel)
}

func findAll(root *goquery.Selection, tag string, attrs map[string]string) []*Elem {
	if tag == "" {
		tag = "*"
	}
	matched := root.Find(tag)
	if len(attrs) > 0 {
		matched = matched.FilterFunction(func(_ int, sel *goquery.Selection) bool {
			for k, want := range attrs {
				got, ok := sel.Attr(k)
				if !ok {
					return false
				}
				if want != "" && got != want {
					return false
				}
			}
			return true
		})
	}

	var out []*Elem
	matched.Each(func(_ int, sel *goquery.Selection) {
		out = append(out, &Elem{sel: sel})
	})
	return out
}
