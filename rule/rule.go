// Package rule defines the structured types shared by the quell pipeline.
// These are the public API contract: the applicator, scheduler, store and
// suggestion sources all exchange Rules, never raw selectors.
package rule

// Type is the visual-suppression effect a rule applies.
type Type string

const (
	Hide  Type = "hide"  // display:none — removes the element's box entirely
	Blank Type = "blank" // visibility:hidden — keeps the layout box, no reflow
	Mute  Type = "mute"  // stop playback, autoplay and animation
	Style Type = "style" // whitelisted inline style properties
)

// AnchorSet is structured metadata captured at rule creation time. It helps
// a human or agent recognise what the rule targets; matching never consults it.
type AnchorSet struct {
	Role      string `json:"role,omitempty"`
	AriaLabel string `json:"aria_label,omitempty"`
	TestID    string `json:"test_id,omitempty"`
	Tag       string `json:"tag,omitempty"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Rule is an immutable instruction to suppress or re-style elements matching
// a selector. Rules are value objects: created once, removed, never mutated.
type Rule struct {
	Type         Type              `json:"type"`
	Selector     string            `json:"selector"`
	Anchors      AnchorSet         `json:"anchors,omitempty"`
	Alternatives []string          `json:"alternatives,omitempty"` // ranked fallback selectors, most specific first
	Description  string            `json:"description,omitempty"`
	StyleProps   map[string]string `json:"style_props,omitempty"` // only whitelisted properties
	Amount       float64           `json:"amount,omitempty"`
}

// Key returns the identity under which a rule is tracked by the applicator
// and the store. Two rules with the same selector are the same rule.
func (r Rule) Key() string {
	return r.Selector
}

// Set is an ordered sequence of rules scoped to one host and path pattern.
// Order is application order; insertion order is preserved.
type Set struct {
	Host        string `json:"host"`
	PathPattern string `json:"path_pattern"`
	Rules       []Rule `json:"rules"`
}
