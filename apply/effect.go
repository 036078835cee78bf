package apply

import "context"

// EffectOp is the kind of change mirrored outward to a live page binding.
type EffectOp string

const (
	EffectStyleSet    EffectOp = "style_set"
	EffectStyleRemove EffectOp = "style_remove"
	EffectAttrSet     EffectOp = "attr_set"
	EffectAttrRemove  EffectOp = "attr_remove"
	EffectMediaPause  EffectOp = "media_pause"
	EffectMediaResume EffectOp = "media_resume"
)

// Effect is one concrete change the applicator made to its document mirror.
// A page binding replays effects onto the real DOM; the marker id addresses
// the element there.
type Effect struct {
	Op       EffectOp `json:"op"`
	MarkerID string   `json:"marker_id"`
	RuleKey  string   `json:"rule_key,omitempty"`
	Name     string   `json:"name,omitempty"`
	Value    string   `json:"value,omitempty"`
	// Path is the element's index path from the root element, set only on the
	// effect that first marks an element — the one moment the marker id cannot
	// be used for addressing.
	Path      []int `json:"path,omitempty"`
	Important bool  `json:"important,omitempty"`
}

// Sink receives the effects of one apply or undo operation.
type Sink interface {
	SendEffects(ctx context.Context, effects []Effect) error
}

// CallbackSink adapts a function to the Sink interface — the in-process,
// zero-serialisation path.
type CallbackSink func(ctx context.Context, effects []Effect) error

// SendEffects implements Sink.
func (f CallbackSink) SendEffects(ctx context.Context, effects []Effect) error {
	return f(ctx, effects)
}

// discardSink drops effects; used when no page binding is attached.
type discardSink struct{}

func (discardSink) SendEffects(context.Context, []Effect) error { return nil }
