package rule

import "testing"

func TestGeneralizePath_NumericSegments(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/user/123", "/user/*"},
		{"/user/123/posts/456", "/user/*/posts/*"},
		{"/about", "/about"},
		{"/", "/"},
		{"", "/"},
		{"/v2/items", "/v2/items"},
	}
	for _, c := range cases {
		if got := GeneralizePath(c.in); got != c.want {
			t.Errorf("GeneralizePath(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGeneralizePath_HexSegments(t *testing.T) {
	got := GeneralizePath("/doc/3f2a9b8c1d4e5f607182934a5b6c7d8e")
	if got != "/doc/*" {
		t.Errorf("got %q, want /doc/*", got)
	}
	// Short hex-looking segments stay as-is.
	got = GeneralizePath("/doc/abc123")
	if got != "/doc/abc123" {
		t.Errorf("got %q, want /doc/abc123", got)
	}
}

func TestPatternMatches(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/user/*", "/user/999", true},
		{"/user/*", "/user/999/posts", false},
		{"/about", "/about", true},
		{"/user/*/posts/*", "/user/1/posts/2", true},
		{"/user/*", "/admin/1", false},
	}
	for _, c := range cases {
		if got := PatternMatches(c.pattern, c.path); got != c.want {
			t.Errorf("PatternMatches(%q, %q): got %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestTargetsProtected(t *testing.T) {
	protected := []string{
		"body", "html", "main", `[role="main"]`, "body > div",
		"main .ad", "div > main", "main.content", `[role=main]`,
		`div[role="main"]`, `div[role='main']`, `section[role=main]`,
		`div[data-x][role="main"]`, `div > p[role="main"]`,
	}
	for _, sel := range protected {
		if !TargetsProtected(sel) {
			t.Errorf("TargetsProtected(%q): got false, want true", sel)
		}
	}
	allowed := []string{
		"#sidebar", ".mainbar", "#main", "div.main-nav", `[role="banner"]`,
		"aside", "div > span", ".body-copy",
		`div[role="navigation"]`, `div[data-role="main"]`, `div[role]`,
	}
	for _, sel := range allowed {
		if TargetsProtected(sel) {
			t.Errorf("TargetsProtected(%q): got true, want false", sel)
		}
	}
}

func TestAllowedStyleProp(t *testing.T) {
	for _, p := range []string{"opacity", "filter", "backdrop-filter", "max-width", "max-height", "transform"} {
		if !AllowedStyleProp(p) {
			t.Errorf("AllowedStyleProp(%q): got false, want true", p)
		}
	}
	for _, p := range []string{"display", "position", "content", "background-image", ""} {
		if AllowedStyleProp(p) {
			t.Errorf("AllowedStyleProp(%q): got true, want false", p)
		}
	}
}

func TestValidationError_Messages(t *testing.T) {
	e := &ValidationError{Code: CodeTooBroad, Selector: "div", Matches: 150}
	if e.Error() == "" {
		t.Fatal("empty error message")
	}
	e = &ValidationError{Code: CodeProtectedTarget, Selector: "body"}
	if e.Error() == "" {
		t.Fatal("empty error message")
	}
}
