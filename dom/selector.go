package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// Selector is a compiled CSS selector. The engine covers the closed grammar
// the synthesizer emits plus the usual structural forms:
//
//	tag, #id, .class chains, [attr], [attr="val"],
//	:nth-of-type(n), descendant (space) and child (>) combinators.
type Selector struct {
	parts []compound
	combs []combinator // combs[i] joins parts[i] and parts[i+1]
}

type combinator byte

const (
	combDescendant combinator = ' '
	combChild      combinator = '>'
)

type compound struct {
	tag       string
	id        string
	classes   []string
	attrs     []attrSelector
	nthOfType int // 0 = not constrained
}

type attrSelector struct {
	key    string
	val    string
	hasVal bool
}

// ParseSelector compiles a selector string, returning an error for anything
// outside the supported grammar. Rules carrying malformed selectors are
// skipped at apply time, never fatal.
func ParseSelector(s string) (*Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("dom: empty selector")
	}
	tokens, combs, err := splitSelector(s)
	if err != nil {
		return nil, err
	}
	sel := &Selector{combs: combs}
	for _, tok := range tokens {
		c, err := parseCompound(tok)
		if err != nil {
			return nil, err
		}
		sel.parts = append(sel.parts, c)
	}
	return sel, nil
}

// Matches reports whether the element matches the full selector.
func (s *Selector) Matches(e *Element) bool {
	return s.matchFrom(e, len(s.parts)-1)
}

func (s *Selector) matchFrom(e *Element, idx int) bool {
	if e == nil {
		return false
	}
	if !matchCompound(e, s.parts[idx]) {
		return false
	}
	if idx == 0 {
		return true
	}
	switch s.combs[idx-1] {
	case combChild:
		return s.matchFrom(e.Parent(), idx-1)
	default: // descendant
		for p := e.Parent(); p != nil; p = p.Parent() {
			if s.matchFrom(p, idx-1) {
				return true
			}
		}
		return false
	}
}

func matchCompound(e *Element, c compound) bool {
	if c.tag != "" && c.tag != "*" && e.Tag() != c.tag {
		return false
	}
	if c.id != "" && e.Attr("id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := e.Classes()
		for _, want := range c.classes {
			found := false
			for _, cls := range have {
				if cls == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		if a.hasVal {
			if e.Attr(a.key) != a.val {
				return false
			}
		} else if !e.HasAttr(a.key) {
			return false
		}
	}
	if c.nthOfType > 0 && e.NthOfType() != c.nthOfType {
		return false
	}
	return true
}

// splitSelector breaks a selector into compound tokens and the combinators
// between them. Brackets shield their content from splitting so attribute
// values may contain spaces.
func splitSelector(s string) ([]string, []combinator, error) {
	var tokens []string
	var combs []combinator
	var cur strings.Builder
	depth := 0
	pendingChild := false

	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		if len(tokens) > 0 {
			if pendingChild {
				combs = append(combs, combChild)
			} else {
				combs = append(combs, combDescendant)
			}
		} else if pendingChild {
			return fmt.Errorf("dom: selector %q: leading combinator", s)
		}
		tokens = append(tokens, cur.String())
		cur.Reset()
		pendingChild = false
		return nil
	}

	for _, r := range s {
		switch {
		case r == '[':
			depth++
			cur.WriteRune(r)
		case r == ']':
			depth--
			if depth < 0 {
				return nil, nil, fmt.Errorf("dom: selector %q: unbalanced brackets", s)
			}
			cur.WriteRune(r)
		case depth > 0:
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if err := flush(); err != nil {
				return nil, nil, err
			}
		case r == '>':
			if err := flush(); err != nil {
				return nil, nil, err
			}
			if pendingChild {
				return nil, nil, fmt.Errorf("dom: selector %q: duplicate combinator", s)
			}
			pendingChild = true
		default:
			cur.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, nil, fmt.Errorf("dom: selector %q: unbalanced brackets", s)
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	if pendingChild {
		return nil, nil, fmt.Errorf("dom: selector %q: trailing combinator", s)
	}
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("dom: empty selector")
	}
	return tokens, combs, nil
}

// parseCompound parses one compound token: [tag](#id|.class|[attr]|:nth-of-type(n))*
func parseCompound(tok string) (compound, error) {
	var c compound
	i := 0

	// Optional leading tag or universal selector.
	if i < len(tok) && (isNameStart(tok[i]) || tok[i] == '*') {
		if tok[i] == '*' {
			c.tag = "*"
			i++
		} else {
			start := i
			for i < len(tok) && isNameChar(tok[i]) {
				i++
			}
			c.tag = strings.ToLower(tok[start:i])
		}
	}

	for i < len(tok) {
		switch tok[i] {
		case '#':
			i++
			start := i
			for i < len(tok) && isNameChar(tok[i]) {
				i++
			}
			if i == start {
				return c, fmt.Errorf("dom: selector token %q: empty id", tok)
			}
			c.id = tok[start:i]
		case '.':
			i++
			start := i
			for i < len(tok) && isNameChar(tok[i]) {
				i++
			}
			if i == start {
				return c, fmt.Errorf("dom: selector token %q: empty class", tok)
			}
			c.classes = append(c.classes, tok[start:i])
		case '[':
			end := strings.IndexByte(tok[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("dom: selector token %q: unclosed attribute", tok)
			}
			attr, err := parseAttrSelector(tok[i+1 : i+end])
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, attr)
			i += end + 1
		case ':':
			rest := tok[i:]
			const prefix = ":nth-of-type("
			if !strings.HasPrefix(rest, prefix) {
				return c, fmt.Errorf("dom: selector token %q: unsupported pseudo-class", tok)
			}
			end := strings.IndexByte(rest, ')')
			if end < 0 {
				return c, fmt.Errorf("dom: selector token %q: unclosed pseudo-class", tok)
			}
			n, err := strconv.Atoi(rest[len(prefix):end])
			if err != nil || n < 1 {
				return c, fmt.Errorf("dom: selector token %q: bad nth-of-type index", tok)
			}
			c.nthOfType = n
			i += end + 1
		default:
			return c, fmt.Errorf("dom: selector token %q: unexpected %q", tok, tok[i])
		}
	}

	if c.tag == "" && c.id == "" && len(c.classes) == 0 && len(c.attrs) == 0 && c.nthOfType == 0 {
		return c, fmt.Errorf("dom: empty selector token")
	}
	return c, nil
}

func parseAttrSelector(body string) (attrSelector, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return attrSelector{}, fmt.Errorf("dom: empty attribute selector")
	}
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		return attrSelector{key: body}, nil
	}
	key := strings.TrimSpace(body[:eq])
	val := strings.TrimSpace(body[eq+1:])
	if key == "" {
		return attrSelector{}, fmt.Errorf("dom: attribute selector missing key")
	}
	if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') {
		if val[len(val)-1] != val[0] {
			return attrSelector{}, fmt.Errorf("dom: attribute selector %q: unbalanced quotes", body)
		}
		val = val[1 : len(val)-1]
	}
	return attrSelector{key: key, val: val, hasVal: true}, nil
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}
