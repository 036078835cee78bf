package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/rule"
)

func TestHTTPSource_RoundTrip(t *testing.T) {
	var gotAuth string
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Suggestion{
			Rules: []rule.Rule{{Type: rule.Hide, Selector: "div.cookie-banner"}},
			Note:  "one match",
		})
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "sk-test")
	out, err := s.Suggest(context.Background(), Request{
		Prompt: "remove cookie banners",
		Host:   "news.example",
		Path:   "/",
	})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotReq.Prompt != "remove cookie banners" || gotReq.Host != "news.example" {
		t.Errorf("request forwarded: got %+v", gotReq)
	}
	if len(out.Rules) != 1 || out.Rules[0].Selector != "div.cookie-banner" {
		t.Fatalf("rules: got %+v", out.Rules)
	}
	if out.Note != "one match" {
		t.Errorf("note: got %q", out.Note)
	}
}

func TestHTTPSource_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "")
	if _, err := s.Suggest(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestHeuristics_KeywordMatching(t *testing.T) {
	h := Heuristics{}
	cases := []struct {
		prompt       string
		wantSelector string
	}{
		{"get rid of the cookie banner", "div.cookie-banner"},
		{"hide the ads please", "div.ad-slot"},
		{"close that popup", `[role="dialog"]`},
		{"dim the sidebar", `[role="complementary"]`},
		{"stop the autoplay video", "video"},
		{"remove the newsletter box", "div.newsletter-signup"},
	}
	for _, tc := range cases {
		out, err := h.Suggest(context.Background(), Request{Prompt: tc.prompt})
		if err != nil {
			t.Fatalf("%q: %v", tc.prompt, err)
		}
		found := false
		for _, r := range out.Rules {
			if r.Selector == tc.wantSelector {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%q: selector %q not suggested, got %+v", tc.prompt, tc.wantSelector, out.Rules)
		}
	}
}

func TestHeuristics_WordBoundaries(t *testing.T) {
	h := Heuristics{}
	// "adjust" contains "ad" as a substring but not as a word.
	out, err := h.Suggest(context.Background(), Request{Prompt: "adjust the layout"})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(out.Rules) != 0 {
		t.Fatalf("substring keyword matched: %+v", out.Rules)
	}
	if out.Note == "" {
		t.Error("empty suggestion carries no note")
	}
}

func TestHeuristics_MultipleCategoriesDeduplicated(t *testing.T) {
	h := Heuristics{}
	out, err := h.Suggest(context.Background(), Request{Prompt: "hide ads and the banner ads"})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range out.Rules {
		if seen[r.Selector] {
			t.Fatalf("duplicate selector %q in %+v", r.Selector, out.Rules)
		}
		seen[r.Selector] = true
	}
}

func TestWithFallback(t *testing.T) {
	failing := sourceFunc(func(context.Context, Request) (Suggestion, error) {
		return Suggestion{}, errors.New("remote down")
	})
	empty := sourceFunc(func(context.Context, Request) (Suggestion, error) {
		return Suggestion{}, nil
	})
	backup := sourceFunc(func(context.Context, Request) (Suggestion, error) {
		return Suggestion{Rules: []rule.Rule{{Type: rule.Hide, Selector: ".fallback"}}}, nil
	})

	out, err := WithFallback(failing, backup).Suggest(context.Background(), Request{})
	if err != nil {
		t.Fatalf("fallback after error: %v", err)
	}
	if len(out.Rules) != 1 || out.Rules[0].Selector != ".fallback" {
		t.Fatalf("rules: got %+v", out.Rules)
	}

	out, err = WithFallback(empty, backup).Suggest(context.Background(), Request{})
	if err != nil {
		t.Fatalf("fallback after empty: %v", err)
	}
	if len(out.Rules) != 1 {
		t.Fatalf("rules after empty primary: got %+v", out.Rules)
	}

	primary := sourceFunc(func(context.Context, Request) (Suggestion, error) {
		return Suggestion{Rules: []rule.Rule{{Type: rule.Hide, Selector: ".primary"}}}, nil
	})
	out, err = WithFallback(primary, backup).Suggest(context.Background(), Request{})
	if err != nil {
		t.Fatalf("primary path: %v", err)
	}
	if out.Rules[0].Selector != ".primary" {
		t.Fatalf("primary answer replaced: %+v", out.Rules)
	}
}

type sourceFunc func(context.Context, Request) (Suggestion, error)

func (f sourceFunc) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	return f(ctx, req)
}

func TestSketch(t *testing.T) {
	doc, err := dom.Parse([]byte(`<html><body>
		<h1>Front page</h1>
		<p>lead paragraph with some text</p>
		<h2>Second story</h2>
	</body></html>`))
	if err != nil {
		t.Fatalf("dom.Parse: %v", err)
	}

	md, err := Sketch(doc, 0)
	if err != nil {
		t.Fatalf("Sketch: %v", err)
	}
	if !strings.Contains(md, "Front page") {
		t.Errorf("sketch missing heading: %q", md)
	}

	short, err := Sketch(doc, 10)
	if err != nil {
		t.Fatalf("Sketch capped: %v", err)
	}
	if len([]rune(short)) > 10 {
		t.Errorf("cap not applied: %d runes", len([]rune(short)))
	}
}
