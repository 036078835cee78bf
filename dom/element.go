package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is a live handle onto one element node of a Document. Two handles
// are the same element when Same reports true; handles stay valid while the
// node remains attached to the document.
type Element struct {
	node *html.Node
	doc  *Document
}

// Same reports whether both handles refer to the same underlying node.
func (e *Element) Same(other *Element) bool {
	return other != nil && e.node == other.node
}

// Tag returns the lowercase tag name.
func (e *Element) Tag() string {
	return e.node.Data
}

// Attr returns the value of an attribute, or "" when absent.
func (e *Element) Attr(key string) string {
	for _, a := range e.node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present.
func (e *Element) HasAttr(key string) bool {
	for _, a := range e.node.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(key, val string) {
	for i, a := range e.node.Attr {
		if a.Key == key {
			e.node.Attr[i].Val = val
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr removes an attribute if present.
func (e *Element) RemoveAttr(key string) {
	attrs := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Key != key {
			attrs = append(attrs, a)
		}
	}
	e.node.Attr = attrs
}

// Classes returns the element's class tokens.
func (e *Element) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

// Parent returns the parent element, or nil at the document root.
func (e *Element) Parent() *Element {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return &Element{node: p, doc: e.doc}
}

// IsRootContainer reports whether the element is the document root container
// (html or body) — positional fallback selectors never anchor on these.
func (e *Element) IsRootContainer() bool {
	return e.node.DataAtom == atom.Html || e.node.DataAtom == atom.Body
}

// NthOfType returns the element's 1-based position among same-tag element
// siblings under its parent.
func (e *Element) NthOfType() int {
	n := 1
	for sib := e.node.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == e.node.Data {
			n++
		}
	}
	return n
}

// Text returns the element's visible text, whitespace-collapsed. Script,
// style and noscript subtrees are skipped.
func (e *Element) Text() string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.node)
	return sb.String()
}

// IsMedia reports whether the element is an audio or video element.
func (e *Element) IsMedia() bool {
	return e.node.DataAtom == atom.Video || e.node.DataAtom == atom.Audio
}

// IndexPath returns the element's position as element-child indexes from the
// document's root element. A page binding uses it to address an element that
// carries no marker yet.
func (e *Element) IndexPath() []int {
	var path []int
	for n := e.node; n != nil && n.Parent != nil; n = n.Parent {
		if n.Parent.Type == html.DocumentNode {
			break
		}
		idx := 0
		for s := n.Parent.FirstChild; s != nil && s != n; s = s.NextSibling {
			if s.Type == html.ElementNode {
				idx++
			}
		}
		path = append([]int{idx}, path...)
	}
	return path
}

// AppendHTML parses a fragment and appends its nodes as children. This is how
// a page binding mirrors dynamic insertions into the document.
func (e *Element) AppendHTML(fragment string) error {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), e.node)
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}

// Remove detaches the element from its parent. Detached handles keep their
// node but no longer appear in queries.
func (e *Element) Remove() {
	if e.node.Parent != nil {
		e.node.Parent.RemoveChild(e.node)
	}
}

// HasAncestorWithAttr reports whether the element or any ancestor carries the
// attribute — used to keep rule effects away from the runtime's own UI.
func (e *Element) HasAncestorWithAttr(key string) bool {
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			if a.Key == key {
				return true
			}
		}
	}
	return false
}
