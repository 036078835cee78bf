package browser

import (
	"context"
	"fmt"

	"github.com/quellhq/quell/apply"
)

// Sink replays applicator effects onto the live page. Elements are addressed
// by marker id; the effect that first marks an element carries an index path
// instead, since the marker does not exist on the page yet.
func (p *Page) Sink() apply.Sink {
	return apply.CallbackSink(func(ctx context.Context, effects []apply.Effect) error {
		_, err := p.page.Context(ctx).Eval(
			`(effects) => window.__quell && window.__quell.applyEffects(effects)`, effects)
		if err != nil {
			return fmt.Errorf("browser: replay effects: %w", err)
		}
		return nil
	})
}
