// Package suggest turns a natural-language request ("remove the cookie
// banners and mute the autoplay video") into candidate rules. Sources are
// pluggable: a remote model endpoint, a static keyword heuristic, or the two
// chained with fallback. Every returned rule is still validated by the
// applicator before anything touches the page.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quellhq/quell/rule"
)

// Request carries the prompt and page context handed to a source.
type Request struct {
	Prompt string `json:"prompt"`
	Host   string `json:"host"`
	Path   string `json:"path"`
	Sketch string `json:"sketch,omitempty"` // markdown outline of the page
}

// Suggestion is a source's answer: candidate rules plus an optional note for
// the user.
type Suggestion struct {
	Rules []rule.Rule `json:"rules"`
	Note  string      `json:"note,omitempty"`
}

// Source produces rule suggestions for a request.
type Source interface {
	Suggest(ctx context.Context, req Request) (Suggestion, error)
}

// HTTPSource asks a remote endpoint for suggestions: POST JSON request body,
// JSON Suggestion response.
type HTTPSource struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPSource creates an HTTPSource with a 30s timeout client.
func NewHTTPSource(endpoint, apiKey string) *HTTPSource {
	return &HTTPSource{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Suggest implements Source.
func (s *HTTPSource) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest: call endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Suggestion{}, fmt.Errorf("suggest: endpoint status %d", resp.StatusCode)
	}

	var out Suggestion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Suggestion{}, fmt.Errorf("suggest: decode response: %w", err)
	}
	return out, nil
}

// fallbackSource tries the primary and falls back when it errors or returns
// nothing.
type fallbackSource struct {
	primary  Source
	fallback Source
}

// WithFallback chains two sources: fallback answers when primary fails or
// comes back empty.
func WithFallback(primary, fallback Source) Source {
	return &fallbackSource{primary: primary, fallback: fallback}
}

func (f *fallbackSource) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	out, err := f.primary.Suggest(ctx, req)
	if err == nil && len(out.Rules) > 0 {
		return out, nil
	}
	return f.fallback.Suggest(ctx, req)
}
