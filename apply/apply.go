// Package apply executes visual-suppression rules against a document and owns
// the applied-element registry: which element was changed by which rule, and
// how to put it back exactly.
//
// Safety model: every mutation is gated by a per-(rule, element) marker so
// overlapping triggers never double-apply; every mutation records the prior
// inline state so undo restores the pre-rule baseline byte for byte; and the
// runtime's own injected UI is never touched.
package apply

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/idgen"
	"github.com/quellhq/quell/rule"
)

// Marker attributes written onto page elements. MarkerAttr carries the
// ephemeral element id the registry is keyed by; AppliedAttr lists the keys
// of rules already applied to the element; UIAttr tags the runtime's own
// injected UI, which rules must never touch.
const (
	MarkerAttr  = "data-quell-id"
	AppliedAttr = "data-quell-applied"
	UIAttr      = "data-quell-ui"
)

// RuleKey returns the short token under which a rule is recorded in an
// element's AppliedAttr list.
func RuleKey(selector string) string {
	h := fnv.New32a()
	h.Write([]byte(selector))
	return fmt.Sprintf("%08x", h.Sum32())
}

// change is one reversible mutation made to an element.
type change struct {
	kind      changeKind
	name      string
	had       bool
	oldValue  string
	oldImport bool
}

type changeKind int

const (
	changeStyle changeKind = iota
	changeAttr
)

// appliedRule is the per-(element, rule) record driving undo.
type appliedRule struct {
	selector string
	key      string
	changes  []change
	paused   bool // a media pause was mirrored outward
}

// record maps one marked element to the rules that modified it.
type record struct {
	el    *dom.Element
	rules []appliedRule
}

// Config for creating an Applicator.
type Config struct {
	Doc    *dom.Document
	Sink   Sink            // optional; effects are dropped when nil
	IDGen  idgen.Generator // optional; defaults to NanoID(10)
	Logger *slog.Logger
}

// Applicator applies and reverses rules against a document.
type Applicator struct {
	doc     *dom.Document
	records map[string]*record // marker id → record
	known   map[string]bool    // rule keys currently applied
	newID   idgen.Generator
	sink    Sink
	logger  *slog.Logger
}

// New creates an Applicator for the given document.
func New(cfg Config) *Applicator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDGen == nil {
		cfg.IDGen = idgen.NanoID(10)
	}
	if cfg.Sink == nil {
		cfg.Sink = discardSink{}
	}
	return &Applicator{
		doc:     cfg.Doc,
		records: make(map[string]*record),
		known:   make(map[string]bool),
		newID:   cfg.IDGen,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
	}
}

// Validate rejects a rule before any DOM mutation: a selector matching more
// than rule.MaxMatches elements is too broad, and a selector targeting a
// protected element is never allowed.
func (a *Applicator) Validate(r rule.Rule) error {
	if rule.TargetsProtected(r.Selector) {
		return &rule.ValidationError{Code: rule.CodeProtectedTarget, Selector: r.Selector}
	}
	n, err := a.doc.CountMatches(r.Selector)
	if err != nil {
		return fmt.Errorf("apply: validate %q: %w", r.Selector, err)
	}
	if n > rule.MaxMatches {
		return &rule.ValidationError{Code: rule.CodeTooBroad, Selector: r.Selector, Matches: n}
	}
	return nil
}

// Apply executes a rule against every currently-matched element that has not
// already been processed by this rule and is not part of the runtime's own
// UI. It returns the count of newly affected elements; already-marked
// elements are skipped and not recounted. A malformed selector returns an
// error the caller logs and moves past — it never aborts a batch.
func (a *Applicator) Apply(ctx context.Context, r rule.Rule) (int, error) {
	// Type is a free string once a rule has been through an import bundle;
	// reject unknown types before any element is marked.
	switch r.Type {
	case rule.Hide, rule.Blank, rule.Mute, rule.Style:
	default:
		return 0, fmt.Errorf("apply: rule %q: unknown type %q", r.Selector, r.Type)
	}

	els, err := a.doc.QuerySelectorAll(r.Selector)
	if err != nil {
		return 0, fmt.Errorf("apply: rule %q: %w", r.Selector, err)
	}

	key := RuleKey(r.Selector)
	var effects []Effect
	count := 0

	for _, el := range els {
		if el.HasAncestorWithAttr(UIAttr) {
			continue
		}
		if a.hasApplied(el, key) {
			continue
		}
		rec, markEffects := a.ensureMarked(el)
		effects = append(effects, markEffects...)

		ar := appliedRule{selector: r.Selector, key: key}
		switch r.Type {
		case rule.Hide:
			a.setStyle(el, &ar, &effects, "display", "none")
		case rule.Blank:
			a.setStyle(el, &ar, &effects, "visibility", "hidden")
		case rule.Mute:
			a.mute(el, &ar, &effects)
		case rule.Style:
			for name, value := range r.StyleProps {
				if !rule.AllowedStyleProp(name) {
					a.logger.Warn("apply: style property not whitelisted, skipped",
						"selector", r.Selector, "property", name)
					continue
				}
				a.setStyle(el, &ar, &effects, strings.ToLower(name), value)
			}
		}

		rec.rules = append(rec.rules, ar)
		a.appendAppliedKey(el, key, &effects)
		count++
	}

	a.known[r.Selector] = true
	a.flush(ctx, effects)

	if count > 0 {
		a.logger.Info("apply: rule applied", "selector", r.Selector, "type", string(r.Type), "count", count)
	}
	return count, nil
}

// Undo reverses every change recorded for the given rule selector, restoring
// each element to its pre-rule state, and forgets the rule.
func (a *Applicator) Undo(ctx context.Context, selector string) error {
	key := RuleKey(selector)
	var effects []Effect
	restored := 0

	for id, rec := range a.records {
		if !a.revertRule(rec, key, &effects) {
			continue
		}
		restored++
		if len(rec.rules) == 0 {
			a.unmark(rec.el, &effects)
			delete(a.records, id)
		} else {
			a.rewriteAppliedAttr(rec, &effects)
		}
	}

	delete(a.known, selector)
	a.flush(ctx, effects)

	a.logger.Info("apply: rule undone", "selector", selector, "restored", restored)
	return nil
}

// ResetAll restores every marked element on the page and clears all
// bookkeeping.
func (a *Applicator) ResetAll(ctx context.Context) {
	var effects []Effect
	for id, rec := range a.records {
		for i := len(rec.rules) - 1; i >= 0; i-- {
			a.revertChanges(rec.el, rec.rules[i], &effects)
		}
		a.unmark(rec.el, &effects)
		delete(a.records, id)
	}
	a.known = make(map[string]bool)
	a.flush(ctx, effects)
	a.logger.Info("apply: reset all")
}

// Applied reports whether the rule selector is in the currently-known
// applied set.
func (a *Applicator) Applied(selector string) bool {
	return a.known[selector]
}

// AppliedCount returns the number of elements currently held in the registry.
func (a *Applicator) AppliedCount() int {
	return len(a.records)
}

// Sweep drops registry entries whose element has left the document — the
// explicit stand-in for weak references. Returns the number of entries
// collected.
func (a *Applicator) Sweep() int {
	swept := 0
	for id, rec := range a.records {
		if !a.doc.Contains(rec.el) {
			delete(a.records, id)
			swept++
		}
	}
	if swept > 0 {
		a.logger.Debug("apply: sweep collected departed elements", "count", swept)
	}
	return swept
}

// SetDocument rebinds the registry onto a fresh document mirror (after a
// snapshot refresh or document reset). Entries whose marker id no longer
// appears in the new document are dropped.
func (a *Applicator) SetDocument(doc *dom.Document) {
	a.doc = doc
	for id, rec := range a.records {
		els, err := doc.QuerySelectorAll(`[` + MarkerAttr + `="` + id + `"]`)
		if err != nil || len(els) == 0 {
			delete(a.records, id)
			continue
		}
		rec.el = els[0]
	}
}

// --- internals ---

func (a *Applicator) hasApplied(el *dom.Element, key string) bool {
	if id := el.Attr(MarkerAttr); id != "" {
		if rec, ok := a.records[id]; ok {
			for _, ar := range rec.rules {
				if ar.key == key {
					return true
				}
			}
		}
	}
	// Marker list survives snapshot refreshes even if the registry does not.
	for _, k := range strings.Fields(el.Attr(AppliedAttr)) {
		if k == key {
			return true
		}
	}
	return false
}

func (a *Applicator) ensureMarked(el *dom.Element) (*record, []Effect) {
	var effects []Effect
	id := el.Attr(MarkerAttr)
	if id == "" {
		id = a.newID()
		el.SetAttr(MarkerAttr, id)
		effects = append(effects, Effect{
			Op: EffectAttrSet, MarkerID: id, Name: MarkerAttr, Value: id,
			Path: el.IndexPath(),
		})
	}
	rec, ok := a.records[id]
	if !ok {
		rec = &record{el: el}
		a.records[id] = rec
	}
	return rec, effects
}

func (a *Applicator) setStyle(el *dom.Element, ar *appliedRule, effects *[]Effect, name, value string) {
	old, imp, had := el.StyleProp(name)
	ar.changes = append(ar.changes, change{kind: changeStyle, name: name, had: had, oldValue: old, oldImport: imp})
	el.SetStyleProp(name, value, true)
	*effects = append(*effects, Effect{
		Op: EffectStyleSet, MarkerID: el.Attr(MarkerAttr), RuleKey: ar.key,
		Name: name, Value: value, Important: true,
	})
}

func (a *Applicator) mute(el *dom.Element, ar *appliedRule, effects *[]Effect) {
	if el.HasAttr("autoplay") {
		ar.changes = append(ar.changes, change{kind: changeAttr, name: "autoplay", had: true, oldValue: el.Attr("autoplay")})
		el.RemoveAttr("autoplay")
		*effects = append(*effects, Effect{Op: EffectAttrRemove, MarkerID: el.Attr(MarkerAttr), RuleKey: ar.key, Name: "autoplay"})
	}
	a.setStyle(el, ar, effects, "animation", "none")
	a.setStyle(el, ar, effects, "transition", "none")
	if el.IsMedia() {
		ar.paused = true
		*effects = append(*effects, Effect{Op: EffectMediaPause, MarkerID: el.Attr(MarkerAttr), RuleKey: ar.key})
	}
}

// revertRule undoes one rule's changes on a record. Reports whether the rule
// was present.
func (a *Applicator) revertRule(rec *record, key string, effects *[]Effect) bool {
	for i, ar := range rec.rules {
		if ar.key != key {
			continue
		}
		a.revertChanges(rec.el, ar, effects)
		rec.rules = append(rec.rules[:i], rec.rules[i+1:]...)
		return true
	}
	return false
}

func (a *Applicator) revertChanges(el *dom.Element, ar appliedRule, effects *[]Effect) {
	id := el.Attr(MarkerAttr)
	for i := len(ar.changes) - 1; i >= 0; i-- {
		ch := ar.changes[i]
		switch ch.kind {
		case changeStyle:
			if ch.had {
				el.SetStyleProp(ch.name, ch.oldValue, ch.oldImport)
				*effects = append(*effects, Effect{Op: EffectStyleSet, MarkerID: id, Name: ch.name, Value: ch.oldValue, Important: ch.oldImport})
			} else {
				el.RemoveStyleProp(ch.name)
				*effects = append(*effects, Effect{Op: EffectStyleRemove, MarkerID: id, Name: ch.name})
			}
		case changeAttr:
			if ch.had {
				el.SetAttr(ch.name, ch.oldValue)
				*effects = append(*effects, Effect{Op: EffectAttrSet, MarkerID: id, Name: ch.name, Value: ch.oldValue})
			} else {
				el.RemoveAttr(ch.name)
				*effects = append(*effects, Effect{Op: EffectAttrRemove, MarkerID: id, Name: ch.name})
			}
		}
	}
	if ar.paused {
		*effects = append(*effects, Effect{Op: EffectMediaResume, MarkerID: id})
	}
}

func (a *Applicator) appendAppliedKey(el *dom.Element, key string, effects *[]Effect) {
	keys := strings.Fields(el.Attr(AppliedAttr))
	for _, k := range keys {
		if k == key {
			return
		}
	}
	keys = append(keys, key)
	val := strings.Join(keys, " ")
	el.SetAttr(AppliedAttr, val)
	*effects = append(*effects, Effect{Op: EffectAttrSet, MarkerID: el.Attr(MarkerAttr), Name: AppliedAttr, Value: val})
}

func (a *Applicator) rewriteAppliedAttr(rec *record, effects *[]Effect) {
	var keys []string
	for _, ar := range rec.rules {
		keys = append(keys, ar.key)
	}
	val := strings.Join(keys, " ")
	rec.el.SetAttr(AppliedAttr, val)
	*effects = append(*effects, Effect{Op: EffectAttrSet, MarkerID: rec.el.Attr(MarkerAttr), Name: AppliedAttr, Value: val})
}

func (a *Applicator) unmark(el *dom.Element, effects *[]Effect) {
	id := el.Attr(MarkerAttr)
	el.RemoveAttr(AppliedAttr)
	el.RemoveAttr(MarkerAttr)
	*effects = append(*effects,
		Effect{Op: EffectAttrRemove, MarkerID: id, Name: AppliedAttr},
		Effect{Op: EffectAttrRemove, MarkerID: id, Name: MarkerAttr},
	)
}

func (a *Applicator) flush(ctx context.Context, effects []Effect) {
	if len(effects) == 0 {
		return
	}
	if err := a.sink.SendEffects(ctx, effects); err != nil {
		a.logger.Error("apply: send effects failed", "error", err)
	}
}
