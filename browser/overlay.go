package browser

import (
	"context"
	"fmt"

	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/tweak"
)

// Overlay drives the injected selection UI. Everything it draws carries the
// runtime's UI marker, so rules and the observer ignore it.
type Overlay struct {
	page *Page
}

var _ tweak.Overlay = (*Overlay)(nil)

// NewOverlay returns the page's selection overlay.
func (p *Page) NewOverlay() *Overlay {
	return &Overlay{page: p}
}

func (o *Overlay) eval(ctx context.Context, js string, args ...any) error {
	_, err := o.page.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("browser: overlay: %w", err)
	}
	return nil
}

func (o *Overlay) EnterSelection(ctx context.Context) error {
	return o.eval(ctx, `() => window.__quell.overlay.enter()`)
}

func (o *Overlay) ExitSelection(ctx context.Context) error {
	return o.eval(ctx, `() => window.__quell.overlay.exit()`)
}

func (o *Overlay) Highlight(ctx context.Context, el *dom.Element) error {
	return o.eval(ctx, `(path) => window.__quell.overlay.highlight(path)`, el.IndexPath())
}

func (o *Overlay) ClearHighlight(ctx context.Context) error {
	return o.eval(ctx, `() => window.__quell.overlay.clearHighlight()`)
}

func (o *Overlay) Toast(ctx context.Context, message string) error {
	return o.eval(ctx, `(msg) => window.__quell.overlay.toast(msg)`, message)
}
