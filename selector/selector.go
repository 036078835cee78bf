// Package selector synthesizes stable CSS selectors for page elements.
//
// Given an element, Generate walks a fixed priority ladder — semantic
// attributes first, volatile-looking identifiers rejected, positional
// selectors only as a fallback — and returns the best selector that provably
// re-identifies the element, plus ranked alternatives and anchor metadata for
// diagnostics. It never fails: the bare tag name is always a sound last
// resort.
package selector

import (
	"fmt"
	"strings"

	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/rule"
)

// maxAnchorText caps the text captured as a diagnostic anchor.
const maxAnchorText = 100

// Result is the output of selector synthesis.
type Result struct {
	Selector     string
	Anchors      rule.AnchorSet
	Alternatives []string // remaining sound candidates, most specific first
}

// Generate synthesizes a selector for the element. Every returned selector is
// sound at generation time: it matches the source element.
func Generate(e *dom.Element) Result {
	var candidates []string

	if role := e.Attr("role"); role != "" && quotable(role) {
		candidates = append(candidates, fmt.Sprintf(`[role="%s"]`, role))
	}
	if label := e.Attr("aria-label"); label != "" && quotable(label) {
		candidates = append(candidates, fmt.Sprintf(`[aria-label="%s"]`, label))
	}
	if id := e.Attr("id"); stableID(id) {
		candidates = append(candidates, "#"+id)
	}
	if classes := stableClasses(e.Classes()); len(classes) > 0 {
		candidates = append(candidates, e.Tag()+"."+strings.Join(classes, "."))
	}
	if parent := e.Parent(); parent != nil && !parent.IsRootContainer() {
		candidates = append(candidates,
			fmt.Sprintf("%s > %s:nth-of-type(%d)", parent.Tag(), e.Tag(), e.NthOfType()))
	}
	candidates = append(candidates, e.Tag())

	var sound []string
	for _, c := range candidates {
		sel, err := dom.ParseSelector(c)
		if err != nil || !sel.Matches(e) {
			continue
		}
		sound = append(sound, c)
	}
	if len(sound) == 0 {
		// Unreachable for well-formed tags, but degrade rather than fail.
		sound = []string{e.Tag()}
	}

	return Result{
		Selector:     sound[0],
		Anchors:      anchors(e),
		Alternatives: sound[1:],
	}
}

func anchors(e *dom.Element) rule.AnchorSet {
	a := rule.AnchorSet{
		Role:      e.Attr("role"),
		AriaLabel: e.Attr("aria-label"),
		TestID:    e.Attr("data-testid"),
		Tag:       e.Tag(),
		ID:        e.Attr("id"),
	}
	if text := e.Text(); text != "" && len(text) < maxAnchorText {
		a.Text = text
	}
	return a
}

// stableID accepts ids composed only of lowercase letters, digits and
// hyphens, starting with a letter. Anything else — uppercase, underscores,
// hash-like tokens — is treated as generated and volatile.
func stableID(id string) bool {
	if id == "" || id[0] < 'a' || id[0] > 'z' {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return false
	}
	return true
}

// stableClasses filters out class tokens that look hash-generated: 32+
// alphanumeric characters with no separators.
func stableClasses(classes []string) []string {
	var out []string
	for _, c := range classes {
		if hashLike(c) || !selectorSafe(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func hashLike(c string) bool {
	if len(c) < 32 {
		return false
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		return false
	}
	return true
}

// selectorSafe rejects class tokens that would not survive the selector
// grammar (leading digits, exotic characters).
func selectorSafe(c string) bool {
	if c == "" {
		return false
	}
	first := c[0]
	if !(first >= 'a' && first <= 'z') && !(first >= 'A' && first <= 'Z') && first != '_' {
		return false
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' {
			continue
		}
		return false
	}
	return true
}

// quotable rejects attribute values the selector grammar cannot quote.
func quotable(v string) bool {
	return !strings.ContainsAny(v, `"'[]\`)
}
