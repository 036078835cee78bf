package tweak

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/quellhq/quell/apply"
	"github.com/quellhq/quell/dom"
	"github.com/quellhq/quell/rule"
)

type fakeOverlay struct {
	entered, exited   int
	highlights, clear int
	toasts            []string
}

func (f *fakeOverlay) EnterSelection(context.Context) error { f.entered++; return nil }
func (f *fakeOverlay) ExitSelection(context.Context) error  { f.exited++; return nil }
func (f *fakeOverlay) Highlight(_ context.Context, _ *dom.Element) error {
	f.highlights++
	return nil
}
func (f *fakeOverlay) ClearHighlight(context.Context) error { f.clear++; return nil }
func (f *fakeOverlay) Toast(_ context.Context, msg string) error {
	f.toasts = append(f.toasts, msg)
	return nil
}

type fakeStore struct {
	saved   []rule.Rule
	removed []string
}

func (f *fakeStore) SaveRule(_ context.Context, _, _ string, r rule.Rule) error {
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeStore) RemoveRule(_ context.Context, _, selector string) error {
	f.removed = append(f.removed, selector)
	return nil
}

type fakeNotifier struct {
	active []bool
	hidden []string
	undone []string
	depths []int
}

func (f *fakeNotifier) TweakModeActive(active bool) { f.active = append(f.active, active) }
func (f *fakeNotifier) ElementHidden(desc string, depth int) {
	f.hidden = append(f.hidden, desc)
	f.depths = append(f.depths, depth)
}
func (f *fakeNotifier) RuleUndone(desc string, depth int) {
	f.undone = append(f.undone, desc)
	f.depths = append(f.depths, depth)
}

const testPage = `<html><body>
	<main id="content">
		<div role="banner" aria-label="Promo banner">buy now</div>
		<div class="sidebar">links</div>
	</main>
	<div data-quell-ui="1"><button>Done</button></div>
</body></html>`

func setup(t *testing.T, page string) (*Controller, *dom.Document, *fakeOverlay, *fakeStore, *fakeNotifier) {
	t.Helper()
	doc, err := dom.Parse([]byte(page))
	if err != nil {
		t.Fatalf("dom.Parse: %v", err)
	}
	ov := &fakeOverlay{}
	st := &fakeStore{}
	nt := &fakeNotifier{}
	ap := apply.New(apply.Config{Doc: doc})
	c := New(Config{Host: "news.example", PathPattern: "/"}, ov, ap, st, nt, nil)
	return c, doc, ov, st, nt
}

func pick(t *testing.T, d *dom.Document, sel string) *dom.Element {
	t.Helper()
	els, err := d.QuerySelectorAll(sel)
	if err != nil || len(els) == 0 {
		t.Fatalf("pick %q: %d matches, err=%v", sel, len(els), err)
	}
	return els[0]
}

func TestController_EnterExitLifecycle(t *testing.T) {
	c, _, ov, _, nt := setup(t, testPage)
	ctx := context.Background()

	if c.State() != Idle {
		t.Fatal("new controller not Idle")
	}
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("second Enter: %v", err)
	}
	if c.State() != Selecting {
		t.Fatal("not Selecting after Enter")
	}
	if ov.entered != 1 {
		t.Errorf("overlay entered %d times, want 1", ov.entered)
	}
	if err := c.Exit(ctx); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if c.State() != Idle {
		t.Fatal("not Idle after Exit")
	}
	want := []bool{true, false}
	if len(nt.active) != 2 || nt.active[0] != want[0] || nt.active[1] != want[1] {
		t.Errorf("TweakModeActive calls: got %v, want %v", nt.active, want)
	}
}

func TestController_ClickHidesPersistsAndNotifies(t *testing.T) {
	c, doc, ov, st, nt := setup(t, testPage)
	ctx := context.Background()
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	banner := pick(t, doc, `[role="banner"]`)
	c.HandleHover(ctx, banner)
	if ov.highlights != 1 {
		t.Errorf("highlights: got %d, want 1", ov.highlights)
	}

	if err := c.HandleClick(ctx, banner); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}

	if v, _, ok := banner.StyleProp("display"); !ok || v != "none" {
		t.Errorf("display after click: got %q ok=%v, want none", v, ok)
	}
	if len(st.saved) != 1 || st.saved[0].Selector != `[role="banner"]` {
		t.Fatalf("saved rules: got %+v", st.saved)
	}
	if st.saved[0].Type != rule.Hide {
		t.Errorf("saved type: got %q, want hide", st.saved[0].Type)
	}
	if c.UndoDepth() != 1 {
		t.Errorf("UndoDepth: got %d, want 1", c.UndoDepth())
	}
	if len(nt.hidden) != 1 || nt.hidden[0] != "Promo banner" {
		t.Errorf("ElementHidden: got %v, want [Promo banner]", nt.hidden)
	}
	if c.State() != Selecting {
		t.Error("controller left Selecting after a click")
	}
}

func TestController_InputIgnoredWhenIdle(t *testing.T) {
	c, doc, ov, st, _ := setup(t, testPage)
	ctx := context.Background()

	banner := pick(t, doc, `[role="banner"]`)
	c.HandleHover(ctx, banner)
	if err := c.HandleClick(ctx, banner); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
	if ov.highlights != 0 || len(st.saved) != 0 {
		t.Errorf("idle input acted: highlights=%d saved=%d", ov.highlights, len(st.saved))
	}
}

func TestController_OwnUIIgnored(t *testing.T) {
	c, doc, _, st, _ := setup(t, testPage)
	ctx := context.Background()
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	button := pick(t, doc, "button")
	c.HandleHover(ctx, button)
	if err := c.HandleClick(ctx, button); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
	if len(st.saved) != 0 {
		t.Fatalf("rule saved for runtime UI element: %+v", st.saved)
	}
}

func TestController_TooBroadClickRejectedWithToast(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body><section>")
	for i := 0; i < rule.MaxMatches+20; i++ {
		sb.WriteString("<p class=\"row\">x</p>")
	}
	sb.WriteString("</section></body></html>")

	c, doc, ov, st, _ := setup(t, sb.String())
	ctx := context.Background()
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	row := pick(t, doc, "p.row")
	if err := c.HandleClick(ctx, row); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
	if len(st.saved) != 0 {
		t.Fatalf("too-broad rule persisted: %+v", st.saved)
	}
	if len(ov.toasts) != 1 || !strings.Contains(ov.toasts[0], "too many") {
		t.Errorf("toasts: got %v", ov.toasts)
	}
	if c.State() != Selecting {
		t.Error("rejection exited selection mode")
	}
	if v, _, ok := row.StyleProp("display"); ok && v == "none" {
		t.Error("rejected click still hid the element")
	}
}

func TestController_UndoRevertsAndForgets(t *testing.T) {
	c, doc, ov, st, nt := setup(t, testPage)
	ctx := context.Background()
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	banner := pick(t, doc, `[role="banner"]`)
	if err := c.HandleClick(ctx, banner); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
	if err := c.Exit(ctx); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	// Undo works after leaving selection mode.
	if err := c.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if _, _, ok := banner.StyleProp("display"); ok {
		t.Error("display still set after undo")
	}
	if len(st.removed) != 1 || st.removed[0] != `[role="banner"]` {
		t.Errorf("removed: got %v", st.removed)
	}
	if len(nt.undone) != 1 || nt.undone[0] != "Promo banner" {
		t.Errorf("RuleUndone: got %v", nt.undone)
	}
	if c.UndoDepth() != 0 {
		t.Errorf("UndoDepth: got %d, want 0", c.UndoDepth())
	}

	// Empty stack: no store call, but the user still hears about it.
	toastsBefore := len(ov.toasts)
	if err := c.Undo(ctx); err != nil {
		t.Fatalf("Undo on empty stack: %v", err)
	}
	if len(st.removed) != 1 {
		t.Errorf("empty-stack undo touched the store: %v", st.removed)
	}
	if len(ov.toasts) != toastsBefore+1 || ov.toasts[len(ov.toasts)-1] != "Nothing to undo" {
		t.Errorf("empty-stack undo toast: got %v", ov.toasts[toastsBefore:])
	}
}

func TestController_UndoStackBounded(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body><section>")
	for i := 0; i < 5; i++ {
		sb.WriteString(fmt.Sprintf("<div id=\"slot-%d\">x</div>", i))
	}
	sb.WriteString("</section></body></html>")

	c, doc, _, _, _ := setup(t, sb.String())
	c.cfg.MaxUndo = 3
	ctx := context.Background()
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	for i := 0; i < 5; i++ {
		el := pick(t, doc, fmt.Sprintf("#slot-%d", i))
		if err := c.HandleClick(ctx, el); err != nil {
			t.Fatalf("click %d: %v", i, err)
		}
	}
	if got := c.UndoDepth(); got != 3 {
		t.Fatalf("UndoDepth: got %d, want 3", got)
	}
}

func TestController_ClearOnNavigation(t *testing.T) {
	c, doc, _, _, nt := setup(t, testPage)
	ctx := context.Background()
	if err := c.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := c.HandleClick(ctx, pick(t, doc, `[role="banner"]`)); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}

	c.ClearOnNavigation(ctx)

	if c.State() != Idle {
		t.Error("still Selecting after navigation")
	}
	if c.UndoDepth() != 0 {
		t.Errorf("UndoDepth after navigation: got %d, want 0", c.UndoDepth())
	}
	if len(nt.active) != 2 || nt.active[1] != false {
		t.Errorf("TweakModeActive calls: got %v", nt.active)
	}
}

func TestDescribe_Precedence(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{"aria-label wins", `<div aria-label="Close ad" title="t" role="banner">text</div>`, "Close ad"},
		{"title next", `<div title="Tooltip here">text</div>`, "Tooltip here"},
		{"short text", `<div>join our newsletter</div>`, "join our newsletter"},
		{"role fallback", `<div role="dialog"></div>`, "div (dialog)"},
		{"bare tag", `<aside></aside>`, "aside"},
	}
	for _, tc := range cases {
		d, err := dom.Parse([]byte("<html><body>" + tc.html + "</body></html>"))
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.name, err)
		}
		var el *dom.Element
		for _, e := range d.Elements() {
			if e.Tag() != "html" && e.Tag() != "head" && e.Tag() != "body" {
				el = e
				break
			}
		}
		if got := Describe(el); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDescribe_LongTextTruncated(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 20)
	d, err := dom.Parse([]byte("<html><body><div>" + long + "</div></body></html>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	el := pick(t, d, "div")
	got := Describe(el)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("long description not truncated: %q", got)
	}
	if len([]rune(got)) > maxDescription+1 {
		t.Errorf("description too long: %d runes", len([]rune(got)))
	}
}
