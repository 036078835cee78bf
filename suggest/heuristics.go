package suggest

import (
	"context"
	"strings"

	"github.com/quellhq/quell/rule"
)

// heuristicEntry maps prompt keywords to the selector patterns that commonly
// match the annoyance across sites.
type heuristicEntry struct {
	keywords []string
	rules    []rule.Rule
}

var heuristicTable = []heuristicEntry{
	{
		keywords: []string{"cookie", "consent", "gdpr"},
		rules: []rule.Rule{
			{Type: rule.Hide, Selector: `[aria-label="cookie banner"]`, Description: "cookie banner"},
			{Type: rule.Hide, Selector: "div.cookie-banner", Description: "cookie banner"},
			{Type: rule.Hide, Selector: "div.cookie-consent", Description: "cookie consent"},
			{Type: rule.Hide, Selector: "div.consent-banner", Description: "consent banner"},
		},
	},
	{
		keywords: []string{"ad", "ads", "advert", "sponsored", "banner"},
		rules: []rule.Rule{
			{Type: rule.Hide, Selector: `[role="banner"] .ad`, Description: "banner ad"},
			{Type: rule.Hide, Selector: "div.ad-slot", Description: "ad slot"},
			{Type: rule.Hide, Selector: "div.advertisement", Description: "advertisement"},
			{Type: rule.Hide, Selector: "aside.sponsored", Description: "sponsored content"},
		},
	},
	{
		keywords: []string{"popup", "modal", "overlay", "dialog"},
		rules: []rule.Rule{
			{Type: rule.Hide, Selector: `[role="dialog"]`, Description: "dialog overlay"},
			{Type: rule.Hide, Selector: "div.modal-overlay", Description: "modal overlay"},
			{Type: rule.Hide, Selector: "div.popup", Description: "popup"},
		},
	},
	{
		keywords: []string{"sidebar", "trending", "related"},
		rules: []rule.Rule{
			{Type: rule.Blank, Selector: `[role="complementary"]`, Description: "sidebar"},
			{Type: rule.Blank, Selector: "aside.sidebar", Description: "sidebar"},
			{Type: rule.Hide, Selector: "div.related-content", Description: "related content"},
		},
	},
	{
		keywords: []string{"newsletter", "subscribe", "signup"},
		rules: []rule.Rule{
			{Type: rule.Hide, Selector: "div.newsletter-signup", Description: "newsletter signup"},
			{Type: rule.Hide, Selector: `[aria-label="newsletter"]`, Description: "newsletter prompt"},
		},
	},
	{
		keywords: []string{"video", "autoplay", "animation", "moving"},
		rules: []rule.Rule{
			{Type: rule.Mute, Selector: "video", Description: "page video"},
			{Type: rule.Mute, Selector: "div.autoplay", Description: "autoplaying content"},
		},
	},
	{
		keywords: []string{"sticky", "floating", "follow"},
		rules: []rule.Rule{
			{Type: rule.Hide, Selector: "div.sticky-header", Description: "sticky header"},
			{Type: rule.Hide, Selector: "div.floating-bar", Description: "floating bar"},
		},
	},
}

// Heuristics is an offline Source built on keyword → selector patterns. It
// over-generates on purpose: the applicator discards candidates that match
// nothing or fail validation.
type Heuristics struct{}

// Suggest implements Source. Never errors; an unrecognized prompt returns an
// empty suggestion with a note.
func (Heuristics) Suggest(_ context.Context, req Request) (Suggestion, error) {
	prompt := strings.ToLower(req.Prompt)
	var out Suggestion
	seen := make(map[string]bool)

	for _, entry := range heuristicTable {
		if !matchesAny(prompt, entry.keywords) {
			continue
		}
		for _, r := range entry.rules {
			if seen[r.Selector] {
				continue
			}
			seen[r.Selector] = true
			out.Rules = append(out.Rules, r)
		}
	}

	if len(out.Rules) == 0 {
		out.Note = "no known pattern matched the request"
	}
	return out, nil
}

func matchesAny(prompt string, keywords []string) bool {
	for _, kw := range keywords {
		for _, word := range strings.FieldsFunc(prompt, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if word == kw {
				return true
			}
		}
	}
	return false
}
