package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/mutation"
	"github.com/quellhq/quell/navwatch"
	"github.com/quellhq/quell/runtime"
)

//go:embed binding.js
var bindingJS []byte

// bindingName is the Runtime binding the injected observer reports through.
const bindingName = "__quell_binding"

// Page wraps a Rod page with the quell binding: observer injection, snapshot
// refresh and input event routing into a Runtime.
type Page struct {
	page   *rod.Page
	rt     *runtime.Runtime
	host   string
	path   string
	logger *slog.Logger
}

// Open creates a stealth tab and navigates it.
func Open(ctx context.Context, mgr *Manager, pageURL string) (*Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("browser: parse url %q: %w", pageURL, err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Page{
		page:   page,
		host:   u.Hostname(),
		path:   path,
		logger: mgr.cfg.Logger,
	}, nil
}

// Host returns the page's hostname.
func (p *Page) Host() string { return p.host }

// Path returns the path the page was opened at.
func (p *Page) Path() string { return p.path }

// Snapshot serialises the live DOM and parses it into a document mirror.
func (p *Page) Snapshot(ctx context.Context) (*dom.Document, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	return dom.Parse([]byte(res.Value.Str()))
}

// Attach injects the observer and routes binding events into the runtime.
// The observer keeps reporting until the context is cancelled or the page
// closes.
func (p *Page) Attach(ctx context.Context, rt *runtime.Runtime) error {
	p.rt = rt

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		p.logger.Warn("browser: add binding failed (may already exist)", "error", err)
	}
	go p.listen(ctx)

	if _, err := p.page.Context(ctx).Eval(string(bindingJS)); err != nil {
		return fmt.Errorf("browser: inject binding: %w", err)
	}
	p.logger.Info("browser: binding attached", "host", p.host, "path", p.path)
	return nil
}

// RefreshSnapshot re-mirrors the live DOM into the runtime. Marker attributes
// survive serialisation, so the applicator re-links its registry.
func (p *Page) RefreshSnapshot(ctx context.Context) error {
	doc, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}
	p.rt.SetDocument(doc)
	return nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if p.page != nil {
		return p.page.Close()
	}
	return nil
}

// bindingSignal is one message from the injected observer.
type bindingSignal struct {
	Kind    string            `json:"kind"`   // mutations | navigation | hover | click | undo
	Method  string            `json:"method"` // push | replace | pop | hash
	Path    string            `json:"path"`
	Element []int             `json:"element"` // index path for hover/click
	Records []mutation.Record `json:"records"`
}

func (p *Page) listen(ctx context.Context) {
	p.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var sig bindingSignal
		if err := json.Unmarshal([]byte(e.Payload), &sig); err != nil {
			p.logger.Warn("browser: parse binding payload", "error", err)
			return
		}
		p.dispatch(ctx, sig)
	})()
}

func (p *Page) dispatch(ctx context.Context, sig bindingSignal) {
	switch sig.Kind {
	case "mutations":
		// Refresh the mirror before the scheduler's pass so new elements are
		// visible to rule selectors.
		if err := p.RefreshSnapshot(ctx); err != nil {
			p.logger.Warn("browser: snapshot refresh failed", "error", err)
		}
		p.rt.OnMutations(sig.Records, sig.Path)

	case "navigation":
		p.rt.OnNavigation(navwatch.Event{Kind: navKind(sig.Method), Path: sig.Path})

	case "hover":
		if el := p.rt.Document().ElementAt(sig.Element); el != nil {
			p.rt.Tweak().HandleHover(ctx, el)
		}

	case "click":
		if err := p.RefreshSnapshot(ctx); err != nil {
			p.logger.Warn("browser: snapshot refresh failed", "error", err)
		}
		el := p.rt.Document().ElementAt(sig.Element)
		if el == nil {
			p.logger.Warn("browser: clicked element not found in mirror", "element", sig.Element)
			return
		}
		if err := p.rt.Tweak().HandleClick(ctx, el); err != nil {
			p.logger.Error("browser: click handling failed", "error", err)
		}

	case "undo":
		if err := p.rt.Tweak().Undo(ctx); err != nil {
			p.logger.Error("browser: undo failed", "error", err)
		}

	default:
		p.logger.Debug("browser: unknown binding signal", "kind", sig.Kind)
	}
}

func navKind(method string) navwatch.Kind {
	switch method {
	case "push":
		return navwatch.KindPush
	case "replace":
		return navwatch.KindReplace
	case "pop":
		return navwatch.KindPop
	case "hash":
		return navwatch.KindHash
	default:
		return navwatch.KindDOMSwap
	}
}
