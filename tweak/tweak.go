// Package tweak implements the interactive element-selection mode: a small
// state machine that turns hover/click input into persisted hide rules, with
// a bounded undo stack that survives leaving the mode but not navigation.
package tweak

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/quellhq/quell/apply"
	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/rule"
	"github.com/quellhq/quell/selector"
)

// State of the controller. Idle means input is ignored.
type State int

const (
	Idle State = iota
	Selecting
)

// Overlay is the visual surface the controller drives on the page. All of its
// elements carry the runtime's UI marker so rules never touch them.
type Overlay interface {
	EnterSelection(ctx context.Context) error
	ExitSelection(ctx context.Context) error
	Highlight(ctx context.Context, el *dom.Element) error
	ClearHighlight(ctx context.Context) error
	Toast(ctx context.Context, message string) error
}

// Applier is the slice of the applicator the controller needs.
type Applier interface {
	Validate(r rule.Rule) error
	Apply(ctx context.Context, r rule.Rule) (int, error)
	Undo(ctx context.Context, selector string) error
}

// Persistence stores rules created by clicks and removes undone ones.
type Persistence interface {
	SaveRule(ctx context.Context, host, pathPattern string, r rule.Rule) error
	RemoveRule(ctx context.Context, host, selector string) error
}

// Notifier receives outward state-change notifications.
type Notifier interface {
	TweakModeActive(active bool)
	ElementHidden(description string, undoDepth int)
	RuleUndone(description string, undoDepth int)
}

// Config for a Controller. Host and PathPattern scope persisted rules.
type Config struct {
	Host        string
	PathPattern string
	// MaxUndo bounds the undo stack; oldest entries fall off. Default: 20.
	MaxUndo int
}

func (c *Config) defaults() {
	if c.MaxUndo <= 0 {
		c.MaxUndo = 20
	}
}

type undoEntry struct {
	selector    string
	description string
}

// Controller runs the selection state machine for one page.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	overlay  Overlay
	applier  Applier
	store    Persistence
	notifier Notifier
	undo     []undoEntry
	hovered  *dom.Element
	logger   *slog.Logger
}

// New creates a Controller in the Idle state.
func New(cfg Config, overlay Overlay, applier Applier, store Persistence, notifier Notifier, logger *slog.Logger) *Controller {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		overlay:  overlay,
		applier:  applier,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UndoDepth returns the number of rules the undo stack currently holds.
func (c *Controller) UndoDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.undo)
}

// SetScope updates the (host, path pattern) new rules are persisted under.
// Called on route changes.
func (c *Controller) SetScope(host, pathPattern string) {
	c.mu.Lock()
	c.cfg.Host = host
	c.cfg.PathPattern = pathPattern
	c.mu.Unlock()
}

// Enter switches to the Selecting state and shows the overlay. Entering while
// already selecting is a no-op.
func (c *Controller) Enter(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Selecting {
		return nil
	}
	if err := c.overlay.EnterSelection(ctx); err != nil {
		return err
	}
	c.state = Selecting
	c.notifier.TweakModeActive(true)
	c.logger.Info("tweak: selection mode entered", "host", c.cfg.Host)
	return nil
}

// Exit leaves the Selecting state, tearing the overlay down before returning.
// The undo stack is kept. Safe to call when already idle.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitLocked(ctx)
}

func (c *Controller) exitLocked(ctx context.Context) error {
	if c.state == Idle {
		return nil
	}
	c.hovered = nil
	if err := c.overlay.ClearHighlight(ctx); err != nil {
		c.logger.Warn("tweak: clear highlight on exit failed", "error", err)
	}
	if err := c.overlay.ExitSelection(ctx); err != nil {
		return err
	}
	c.state = Idle
	c.notifier.TweakModeActive(false)
	c.logger.Info("tweak: selection mode left")
	return nil
}

// HandleHover highlights the element under the cursor. Ignored when idle, for
// the runtime's own UI, and for the element already highlighted.
func (c *Controller) HandleHover(ctx context.Context, el *dom.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Selecting || el == nil || el.HasAncestorWithAttr(apply.UIAttr) {
		return
	}
	if c.hovered != nil && c.hovered.Same(el) {
		return
	}
	c.hovered = el
	if err := c.overlay.Highlight(ctx, el); err != nil {
		c.logger.Warn("tweak: highlight failed", "error", err)
	}
}

// HandleClick hides the clicked element: synthesizes a selector, validates,
// applies a hide rule, persists it and pushes it onto the undo stack. The
// controller stays in Selecting so more elements can be picked. A rejected
// rule surfaces as a toast, never as a mode exit.
func (c *Controller) HandleClick(ctx context.Context, el *dom.Element) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Selecting || el == nil || el.HasAncestorWithAttr(apply.UIAttr) {
		return nil
	}

	syn := selector.Generate(el)
	desc := Describe(el)
	r := rule.Rule{
		Type:         rule.Hide,
		Selector:     syn.Selector,
		Anchors:      syn.Anchors,
		Alternatives: syn.Alternatives,
		Description:  desc,
	}

	if err := c.applier.Validate(r); err != nil {
		var verr *rule.ValidationError
		if errors.As(err, &verr) {
			c.toast(ctx, rejectionMessage(verr))
			c.logger.Info("tweak: click rejected", "selector", r.Selector, "code", verr.Code)
			return nil
		}
		return err
	}
	if _, err := c.applier.Apply(ctx, r); err != nil {
		return err
	}
	if err := c.store.SaveRule(ctx, c.cfg.Host, c.cfg.PathPattern, r); err != nil {
		c.logger.Error("tweak: persist rule failed", "selector", r.Selector, "error", err)
	}

	c.pushUndo(undoEntry{selector: r.Selector, description: desc})
	c.hovered = nil
	if err := c.overlay.ClearHighlight(ctx); err != nil {
		c.logger.Warn("tweak: clear highlight failed", "error", err)
	}
	c.toast(ctx, "Hidden: "+desc)
	c.notifier.ElementHidden(desc, len(c.undo))
	return nil
}

// Undo reverts the most recent hide, removes the rule from persistence and
// pops the stack. Available both during and after selection mode; an empty
// stack is a no-op announced with a neutral toast.
func (c *Controller) Undo(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.undo) == 0 {
		c.toast(ctx, "Nothing to undo")
		return nil
	}
	entry := c.undo[len(c.undo)-1]
	if err := c.applier.Undo(ctx, entry.selector); err != nil {
		return err
	}
	if err := c.store.RemoveRule(ctx, c.cfg.Host, entry.selector); err != nil {
		c.logger.Error("tweak: remove persisted rule failed", "selector", entry.selector, "error", err)
	}
	c.undo = c.undo[:len(c.undo)-1]
	c.toast(ctx, "Restored: "+entry.description)
	c.notifier.RuleUndone(entry.description, len(c.undo))
	return nil
}

// ClearOnNavigation resets the controller for a new route: leaves selection
// mode if active and empties the undo stack. Undone history does not follow
// the user across pages.
func (c *Controller) ClearOnNavigation(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exitLocked(ctx); err != nil {
		c.logger.Warn("tweak: exit on navigation failed", "error", err)
	}
	c.undo = nil
}

func (c *Controller) pushUndo(e undoEntry) {
	c.undo = append(c.undo, e)
	if len(c.undo) > c.cfg.MaxUndo {
		c.undo = c.undo[len(c.undo)-c.cfg.MaxUndo:]
	}
}

func (c *Controller) toast(ctx context.Context, msg string) {
	if err := c.overlay.Toast(ctx, msg); err != nil {
		c.logger.Warn("tweak: toast failed", "error", err)
	}
}

func rejectionMessage(verr *rule.ValidationError) string {
	switch verr.Code {
	case rule.CodeTooBroad:
		return "Selection matches too many elements, pick something more specific"
	case rule.CodeProtectedTarget:
		return "That element cannot be hidden"
	default:
		return "Selection rejected"
	}
}

// maxDescription bounds the human-readable label derived for a rule.
const maxDescription = 60

var descPolicy = bluemonday.StrictPolicy()

// Describe derives a short human-readable label for an element, preferring
// semantic attributes over harvested text. Harvested values pass through a
// strict sanitizer since attribute content is page-controlled.
func Describe(el *dom.Element) string {
	for _, raw := range []string{el.Attr("aria-label"), el.Attr("title"), el.Text()} {
		if d := cleanDescription(raw); d != "" {
			return d
		}
	}
	if role := el.Attr("role"); role != "" {
		return el.Tag() + " (" + role + ")"
	}
	return el.Tag()
}

func cleanDescription(raw string) string {
	s := strings.Join(strings.Fields(descPolicy.Sanitize(raw)), " ")
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) > maxDescription {
		s = strings.TrimSpace(string(runes[:maxDescription])) + "…"
	}
	return s
}
