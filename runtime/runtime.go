// Package runtime composes the per-page pipeline: the applicator, the
// auto-apply scheduler, the navigation watcher, the tweak controller and the
// rule store, bound to one (host, document) pair. A page binding feeds it
// mutation records and navigation signals; user intent arrives as dispatched
// actions or MCP tool calls.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quellhq/quell/apply"
	"github.com/quellhq/quell/autoapply"
	"github.com/quellhq/quell/dispatch"
	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/mutation"
	"github.com/quellhq/quell/navwatch"
	"github.com/quellhq/quell/observability"
	"github.com/quellhq/quell/rule"
	"github.com/quellhq/quell/rulestore"
	"github.com/quellhq/quell/suggest"
	"github.com/quellhq/quell/tweak"
)

// Store is the persistence surface the runtime needs.
type Store interface {
	SaveRule(ctx context.Context, host, pathPattern string, r rule.Rule) error
	RemoveRule(ctx context.Context, host, selector string) error
	LoadRules(ctx context.Context, host, path string) ([]rule.Rule, error)
	RuleCount(ctx context.Context, host string) (int, error)
	DeleteHost(ctx context.Context, host string) (int64, error)
	SetAlwaysApply(ctx context.Context, host string, enabled bool) error
	AlwaysApply(ctx context.Context, host string) (bool, error)
}

var _ Store = (*rulestore.Store)(nil)

// Options configure a Runtime. Host, Doc and Store are required.
type Options struct {
	Host string
	Path string // defaults to "/"
	Doc  *dom.Document

	Store     Store
	Sink      apply.Sink     // optional; effects are dropped when nil
	Overlay   tweak.Overlay  // optional; selection mode is a no-op without one
	Suggester suggest.Source // optional; defaults to the offline heuristics
	Events    *observability.EventLogger
	Notifier  tweak.Notifier
	Logger    *slog.Logger
	Config    Config
}

// Runtime is the per-page composition root.
type Runtime struct {
	mu       sync.Mutex
	host     string
	path     string
	doc      *dom.Document
	active   []rule.Rule
	disabled bool // session-only: set by a temporary site reset

	app          *apply.Applicator
	sched        *autoapply.Scheduler
	nav          *navwatch.Watcher
	ctrl         *tweak.Controller
	store        Store
	suggester    suggest.Source
	events       *observability.EventLogger
	actions      *dispatch.Registry
	sketchMaxLen int
	logger       *slog.Logger
}

// New assembles a Runtime. Call Start to apply stored rules and begin the
// scheduler loop.
func New(opts Options) (*Runtime, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("runtime: host required")
	}
	if opts.Doc == nil {
		return nil, fmt.Errorf("runtime: document required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("runtime: store required")
	}
	opts.Config.defaults()
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Overlay == nil {
		opts.Overlay = noopOverlay{}
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Suggester == nil {
		opts.Suggester = suggest.Heuristics{}
	}

	r := &Runtime{
		host:         opts.Host,
		path:         opts.Path,
		doc:          opts.Doc,
		store:        opts.Store,
		suggester:    opts.Suggester,
		events:       opts.Events,
		sketchMaxLen: opts.Config.Suggest.SketchMaxLen,
		logger:       opts.Logger,
	}

	r.app = apply.New(apply.Config{Doc: opts.Doc, Sink: opts.Sink, Logger: opts.Logger})
	r.ctrl = tweak.New(
		tweak.Config{
			Host:        opts.Host,
			PathPattern: rule.GeneralizePath(opts.Path),
			MaxUndo:     opts.Config.MaxUndo,
		},
		opts.Overlay,
		&lockedApplier{mu: &r.mu, app: r.app},
		&trackingStore{rt: r},
		opts.Notifier,
		opts.Logger,
	)
	r.sched = autoapply.New(opts.Config.AutoApply, r.reapplyPass, opts.Logger)
	r.nav = navwatch.New(opts.Config.NavWatch, opts.Path, opts.Logger)
	r.nav.Subscribe(r.onRouteChange)
	r.actions = dispatch.New(dispatch.WithLogger(opts.Logger))
	r.registerActions()
	return r, nil
}

// Start launches the scheduler loop and applies stored rules unless the host
// has opted out of automatic application. Returns after the initial pass;
// the loop runs until the context is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	go r.sched.Run(ctx)

	always, err := r.store.AlwaysApply(ctx, r.host)
	if err != nil {
		return fmt.Errorf("runtime: read site preference: %w", err)
	}
	if !always {
		r.logger.Info("runtime: automatic apply disabled for host", "host", r.host)
		return nil
	}
	if _, err := r.ApplyStored(ctx); err != nil {
		return err
	}
	return nil
}

// Close detaches the navigation watcher. The scheduler stops with the Start
// context.
func (r *Runtime) Close() {
	r.nav.Close()
}

// Actions exposes the action registry for transports (HTTP surface, page
// binding).
func (r *Runtime) Actions() *dispatch.Registry {
	return r.actions
}

// ApplyStored loads the rules scoped to the current (host, path) and applies
// them in persisted order. Individual rule failures are logged and skipped.
// Returns the number of newly affected elements.
func (r *Runtime) ApplyStored(ctx context.Context) (int, error) {
	r.mu.Lock()
	host, path, disabled := r.host, r.path, r.disabled
	r.mu.Unlock()
	if disabled {
		return 0, nil
	}

	rules, err := r.store.LoadRules(ctx, host, path)
	if err != nil {
		return 0, fmt.Errorf("runtime: load rules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = rules
	r.app.Sweep()
	applied := 0
	for _, rl := range rules {
		n, err := r.app.Apply(ctx, rl)
		if err != nil {
			r.logger.Warn("runtime: stored rule skipped", "selector", rl.Selector, "error", err)
			continue
		}
		applied += n
	}
	r.logger.Info("runtime: stored rules applied",
		"host", host, "path", path, "rules", len(rules), "elements", applied)
	return applied, nil
}

// OnMutations is the entry point for mutation batches from the page binding.
// Records fan out to the scheduler (debounced re-apply) and the navigation
// watcher (content-swap heuristic). currentPath is the page's location at
// batch time; empty means unchanged.
func (r *Runtime) OnMutations(records []mutation.Record, currentPath string) {
	r.sched.Notify(records)
	if currentPath == "" {
		r.mu.Lock()
		currentPath = r.path
		r.mu.Unlock()
	}
	r.nav.ObserveMutations(records, currentPath)
}

// OnNavigation is the entry point for history events from the page binding.
func (r *Runtime) OnNavigation(ev navwatch.Event) {
	r.nav.Notify(ev)
}

// SetDocument rebinds the runtime onto a fresh document mirror after a
// snapshot refresh. The applicator re-links its registry by marker id.
func (r *Runtime) SetDocument(doc *dom.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
	r.app.SetDocument(doc)
}

// Document returns the current document mirror.
func (r *Runtime) Document() *dom.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// Path returns the current route path.
func (r *Runtime) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Tweak exposes the selection controller for the page binding's input events.
func (r *Runtime) Tweak() *tweak.Controller {
	return r.ctrl
}

// reapplyPass is the scheduler's debounced pass: drop departed elements, then
// re-run the active rule set. Already-marked elements are no-ops, so the pass
// only touches elements the last mutation burst introduced.
func (r *Runtime) reapplyPass(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return
	}
	r.app.Sweep()
	for _, rl := range r.active {
		if _, err := r.app.Apply(ctx, rl); err != nil {
			r.logger.Warn("runtime: re-apply skipped rule", "selector", rl.Selector, "error", err)
		}
	}
}

// onRouteChange fires once per settled path transition: selection state and
// undo history are cleared, rules that no longer match the new path are
// reverted, and the new path's rule set is applied.
func (r *Runtime) onRouteChange(path string) {
	ctx := context.Background()
	r.ctrl.ClearOnNavigation(ctx)

	r.mu.Lock()
	r.path = path
	host := r.host
	disabled := r.disabled
	r.mu.Unlock()
	r.ctrl.SetScope(host, rule.GeneralizePath(path))

	r.logger.Info("runtime: route changed", "host", host, "path", path)
	if disabled {
		return
	}

	always, err := r.store.AlwaysApply(ctx, host)
	if err != nil {
		r.logger.Error("runtime: read site preference", "error", err)
		return
	}
	if !always {
		return
	}

	rules, err := r.store.LoadRules(ctx, host, path)
	if err != nil {
		r.logger.Error("runtime: load rules after navigation", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	keep := make(map[string]bool, len(rules))
	for _, rl := range rules {
		keep[rl.Selector] = true
	}
	for _, old := range r.active {
		if keep[old.Selector] {
			continue
		}
		if err := r.app.Undo(ctx, old.Selector); err != nil {
			r.logger.Warn("runtime: revert out-of-scope rule", "selector", old.Selector, "error", err)
		}
	}
	r.active = rules
	r.app.Sweep()
	for _, rl := range rules {
		if _, err := r.app.Apply(ctx, rl); err != nil {
			r.logger.Warn("runtime: apply after navigation skipped rule", "selector", rl.Selector, "error", err)
		}
	}
}

// applyCandidates validates and applies candidate rules, persisting the ones
// that matched at least one element. Candidates that fail validation or match
// nothing are dropped silently; over-generating sources rely on this.
func (r *Runtime) applyCandidates(ctx context.Context, candidates []rule.Rule) (applied []rule.Rule, elements int) {
	r.mu.Lock()
	host, path := r.host, r.path
	for _, cand := range candidates {
		if err := r.app.Validate(cand); err != nil {
			r.logger.Debug("runtime: candidate rejected", "selector", cand.Selector, "error", err)
			continue
		}
		n, err := r.app.Apply(ctx, cand)
		if err != nil {
			r.logger.Debug("runtime: candidate failed", "selector", cand.Selector, "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		applied = append(applied, cand)
		elements += n
		r.active = append(r.active, cand)
	}
	r.mu.Unlock()

	pattern := rule.GeneralizePath(path)
	for _, rl := range applied {
		if err := r.store.SaveRule(ctx, host, pattern, rl); err != nil {
			r.logger.Error("runtime: persist candidate failed", "selector", rl.Selector, "error", err)
		}
	}
	return applied, elements
}

// trackAdopted records a rule created by the tweak controller so re-apply
// passes keep enforcing it.
func (r *Runtime) trackAdopted(rl rule.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.active {
		if cur.Selector == rl.Selector {
			return
		}
	}
	r.active = append(r.active, rl)
}

// dropTracked forgets a rule after an undo removed it.
func (r *Runtime) dropTracked(selector string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.active {
		if cur.Selector == selector {
			r.active = append(r.active[:i], r.active[i+1:]...)
			return
		}
	}
}

func (r *Runtime) logEvent(ctx context.Context, ev observability.Event) {
	if r.events == nil {
		return
	}
	r.events.LogEvent(ctx, ev)
}

// lockedApplier serialises tweak-driven mutations with the scheduler's
// re-apply passes; the applicator itself is not safe for concurrent use.
type lockedApplier struct {
	mu  *sync.Mutex
	app *apply.Applicator
}

func (l *lockedApplier) Validate(r rule.Rule) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.app.Validate(r)
}

func (l *lockedApplier) Apply(ctx context.Context, r rule.Rule) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.app.Apply(ctx, r)
}

func (l *lockedApplier) Undo(ctx context.Context, selector string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.app.Undo(ctx, selector)
}

// trackingStore persists tweak-created rules and keeps the runtime's active
// set in step, so a rule hidden by click survives the next re-apply pass.
type trackingStore struct {
	rt *Runtime
}

func (t *trackingStore) SaveRule(ctx context.Context, host, pathPattern string, rl rule.Rule) error {
	if err := t.rt.store.SaveRule(ctx, host, pathPattern, rl); err != nil {
		return err
	}
	t.rt.trackAdopted(rl)
	t.rt.logEvent(ctx, observability.Event{
		Type: observability.EventRuleApplied, Host: host, Path: t.rt.Path(),
		Selector: rl.Selector, Success: true,
	})
	return nil
}

func (t *trackingStore) RemoveRule(ctx context.Context, host, selector string) error {
	if err := t.rt.store.RemoveRule(ctx, host, selector); err != nil {
		return err
	}
	t.rt.dropTracked(selector)
	t.rt.logEvent(ctx, observability.Event{
		Type: observability.EventRuleUndone, Host: host, Path: t.rt.Path(),
		Selector: selector, Success: true,
	})
	return nil
}

type noopOverlay struct{}

func (noopOverlay) EnterSelection(context.Context) error          { return nil }
func (noopOverlay) ExitSelection(context.Context) error           { return nil }
func (noopOverlay) Highlight(context.Context, *dom.Element) error { return nil }
func (noopOverlay) ClearHighlight(context.Context) error          { return nil }
func (noopOverlay) Toast(context.Context, string) error           { return nil }

type noopNotifier struct{}

func (noopNotifier) TweakModeActive(bool)      {}
func (noopNotifier) ElementHidden(string, int) {}
func (noopNotifier) RuleUndone(string, int)    {}
