package dom

import "strings"

// declaration is one property of an inline style attribute. Order is
// preserved across edits so unrelated page styling round-trips untouched.
type declaration struct {
	name      string
	value     string
	important bool
}

// StyleProp returns the value and priority of an inline style property.
func (e *Element) StyleProp(name string) (value string, important bool, ok bool) {
	for _, d := range parseStyle(e.Attr("style")) {
		if d.name == name {
			return d.value, d.important, true
		}
	}
	return "", false, false
}

// SetStyleProp sets an inline style property, replacing any prior value.
func (e *Element) SetStyleProp(name, value string, important bool) {
	decls := parseStyle(e.Attr("style"))
	replaced := false
	for i, d := range decls {
		if d.name == name {
			decls[i].value = value
			decls[i].important = important
			replaced = true
			break
		}
	}
	if !replaced {
		decls = append(decls, declaration{name: name, value: value, important: important})
	}
	e.writeStyle(decls)
}

// RemoveStyleProp removes an inline style property if present.
func (e *Element) RemoveStyleProp(name string) {
	decls := parseStyle(e.Attr("style"))
	out := decls[:0]
	for _, d := range decls {
		if d.name != name {
			out = append(out, d)
		}
	}
	e.writeStyle(out)
}

func (e *Element) writeStyle(decls []declaration) {
	if len(decls) == 0 {
		e.RemoveAttr("style")
		return
	}
	var sb strings.Builder
	for i, d := range decls {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(d.name)
		sb.WriteString(": ")
		sb.WriteString(d.value)
		if d.important {
			sb.WriteString(" !important")
		}
	}
	e.SetAttr("style", sb.String())
}

// parseStyle splits a style attribute into declarations. Malformed chunks are
// dropped rather than propagated — the live DOM is not under our control.
func parseStyle(style string) []declaration {
	var decls []declaration
	for _, chunk := range strings.Split(style, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		idx := strings.IndexByte(chunk, ':')
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(chunk[:idx])
		value := strings.TrimSpace(chunk[idx+1:])
		important := false
		if lower := strings.ToLower(value); strings.HasSuffix(lower, "!important") {
			value = strings.TrimSpace(value[:len(value)-len("!important")])
			important = true
		} else if strings.HasSuffix(lower, "! important") {
			value = strings.TrimSpace(value[:len(value)-len("! important")])
			important = true
		}
		if name == "" || value == "" {
			continue
		}
		decls = append(decls, declaration{name: strings.ToLower(name), value: value, important: important})
	}
	return decls
}
