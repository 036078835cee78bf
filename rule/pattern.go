package rule

import "strings"

// GeneralizePath replaces volatile path segments with a wildcard token so one
// rule generalises across templated routes: /user/123 → /user/*. A segment is
// volatile when it is purely numeric or looks like a hash (32+ hex characters).
func GeneralizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if isNumericSegment(seg) || isHexSegment(seg) {
			segs[i] = "*"
		}
	}
	return strings.Join(segs, "/")
}

// PatternMatches reports whether a stored path pattern matches a concrete
// path. Comparison is segment-wise; "*" matches any single segment. A concrete
// path also matches when its own generalisation equals the pattern.
func PatternMatches(pattern, path string) bool {
	if pattern == path {
		return true
	}
	pSegs := strings.Split(pattern, "/")
	cSegs := strings.Split(path, "/")
	if len(pSegs) != len(cSegs) {
		return false
	}
	for i := range pSegs {
		if pSegs[i] == "*" {
			continue
		}
		if pSegs[i] != cSegs[i] {
			return false
		}
	}
	return true
}

func isNumericSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHexSegment(seg string) bool {
	if len(seg) < 32 {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
