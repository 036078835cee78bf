package rule

import (
	"fmt"
	"strings"
)

// MaxMatches is the boundedness threshold: a selector currently matching more
// elements than this is rejected as too broad before any DOM mutation.
const MaxMatches = 100

// protectedSelectors is the fixed denylist of page-critical targets. A rule
// whose selector equals or contains any of these is rejected outright, so a
// rule can never remove the page's main content or the document itself.
var protectedSelectors = []string{"body", "html", `[role="main"]`, "main"}

// styleWhitelist is the closed set of properties a Style rule may set.
var styleWhitelist = map[string]bool{
	"opacity":         true,
	"filter":          true,
	"backdrop-filter": true,
	"max-width":       true,
	"max-height":      true,
	"transform":       true,
}

// AllowedStyleProp reports whether a Style rule may set the given property.
func AllowedStyleProp(name string) bool {
	return styleWhitelist[strings.ToLower(strings.TrimSpace(name))]
}

// TargetsProtected reports whether a selector textually targets a protected
// entry. The check is per compound token and covers both the leading tag and
// any [role=main] attribute selector inside the compound, so "#sidebar" and
// ".mainbar" pass while "body > div", "main .ad", `[role="main"]` and
// `div[role="main"]` are all rejected.
func TargetsProtected(selector string) bool {
	for _, token := range splitCompounds(selector) {
		if compoundRole(token) == "main" {
			return true
		}
		switch compoundTag(token) {
		case "body", "html", "main":
			return true
		}
	}
	return false
}

// splitCompounds breaks a selector into compound tokens at whitespace and
// child combinators.
func splitCompounds(selector string) []string {
	return strings.FieldsFunc(selector, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '>' || r == '+' || r == '~' || r == ','
	})
}

// compoundRole extracts the value of a [role=...] attribute selector inside a
// compound token, unquoted and lowercased. Empty when the compound carries no
// role attribute selector.
func compoundRole(token string) string {
	rest := token
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			return ""
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			return ""
		}
		inner := rest[open+1 : open+end]
		rest = rest[open+end+1:]
		name, value, hasValue := strings.Cut(inner, "=")
		if !hasValue || !strings.EqualFold(strings.TrimSpace(name), "role") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		return strings.ToLower(value)
	}
}

// compoundTag returns the leading tag name of a compound token, lowercased.
// "main.foo" → "main"; "#main" → "".
func compoundTag(token string) string {
	end := 0
	for end < len(token) {
		c := token[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9' && end > 0) || c == '-' {
			end++
			continue
		}
		break
	}
	return strings.ToLower(token[:end])
}

// ValidationError codes.
const (
	CodeTooBroad        = "TOO_BROAD"
	CodeProtectedTarget = "PROTECTED_TARGET"
)

// ValidationError rejects a rule before any DOM mutation. It is surfaced to
// the user as a blocking message; a rejected rule is never partially applied.
type ValidationError struct {
	Code     string
	Selector string
	Matches  int // match count for TOO_BROAD
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeTooBroad:
		return fmt.Sprintf("rule: selector %q too broad: %d matches (max %d)", e.Selector, e.Matches, MaxMatches)
	case CodeProtectedTarget:
		return fmt.Sprintf("rule: selector %q targets a protected element", e.Selector)
	default:
		return fmt.Sprintf("rule: selector %q invalid: %s", e.Selector, e.Code)
	}
}
