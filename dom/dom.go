// Package dom wraps a parsed HTML document behind the small surface the
// quell pipeline needs: element identity, attribute and inline-style editing,
// and a CSS selector engine covering the closed grammar the selector
// synthesizer emits.
//
// The document is an in-memory mirror of the live page. Rule effects are
// applied here first and mirrored outward through an effect sink, so the core
// stays testable on raw HTML without a browser.
package dom

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed HTML page.
type Document struct {
	root *html.Node
}

// Parse parses raw HTML into a Document.
func Parse(rawHTML []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("dom: parse HTML: %w", err)
	}
	return &Document{root: root}, nil
}

// Body returns the document body element, or nil for a malformed document.
func (d *Document) Body() *Element {
	n := findFirstAtom(d.root, atom.Body)
	if n == nil {
		return nil
	}
	return &Element{node: n, doc: d}
}

// Render serialises the document back to HTML.
func (d *Document) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return nil, fmt.Errorf("dom: render: %w", err)
	}
	return buf.Bytes(), nil
}

// Contains reports whether the element is still attached to this document.
func (d *Document) Contains(e *Element) bool {
	if e == nil || e.doc != d {
		return false
	}
	for n := e.node; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

// QuerySelectorAll returns all elements matching the selector, in document
// order. A malformed selector returns an error.
func (d *Document) QuerySelectorAll(selector string) ([]*Element, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	var matches []*Element
	d.walkElements(func(e *Element) {
		if sel.Matches(e) {
			matches = append(matches, e)
		}
	})
	return matches, nil
}

// CountMatches returns the number of elements the selector currently matches.
func (d *Document) CountMatches(selector string) (int, error) {
	els, err := d.QuerySelectorAll(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// ElementAt resolves an index path produced by Element.IndexPath: each entry
// selects the nth element child, starting below the root element. Returns nil
// when the path leads nowhere.
func (d *Document) ElementAt(path []int) *Element {
	var cur *html.Node
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			cur = c
			break
		}
	}
	if cur == nil {
		return nil
	}
	for _, idx := range path {
		i := 0
		var next *html.Node
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if i == idx {
				next = c
				break
			}
			i++
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return &Element{node: cur, doc: d}
}

// Elements returns every element in the document, in document order.
func (d *Document) Elements() []*Element {
	var all []*Element
	d.walkElements(func(e *Element) { all = append(all, e) })
	return all
}

func (d *Document) walkElements(fn func(*Element)) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			fn(&Element{node: n, doc: d})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
}

func findFirstAtom(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}
