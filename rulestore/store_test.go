package rulestore

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/quellhq/quell/dbopen"
	"github.com/quellhq/quell/rule"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return FromDB(db)
}

func hideRule(selector string) rule.Rule {
	return rule.Rule{Type: rule.Hide, Selector: selector, Description: "test " + selector}
}

func TestSaveAndLoadRules_OrderPreserved(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	selectors := []string{".promo", "#banner", `[role="complementary"]`}
	for _, sel := range selectors {
		if err := s.SaveRule(ctx, "news.example", "/", hideRule(sel)); err != nil {
			t.Fatalf("SaveRule(%q): %v", sel, err)
		}
	}

	rules, err := s.LoadRules(ctx, "news.example", "/")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("loaded %d rules, want 3", len(rules))
	}
	for i, sel := range selectors {
		if rules[i].Selector != sel {
			t.Errorf("rule %d: got %q, want %q", i, rules[i].Selector, sel)
		}
	}
}

func TestSaveRule_SameSelectorUpdatesInPlace(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveRule(ctx, "news.example", "/", hideRule(".promo")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}
	if err := s.SaveRule(ctx, "news.example", "/", hideRule("#other")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	// Re-save .promo as a blank rule: same position, new type.
	updated := rule.Rule{Type: rule.Blank, Selector: ".promo"}
	if err := s.SaveRule(ctx, "news.example", "/", updated); err != nil {
		t.Fatalf("SaveRule update: %v", err)
	}

	rules, err := s.LoadRules(ctx, "news.example", "/")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("loaded %d rules, want 2", len(rules))
	}
	if rules[0].Selector != ".promo" || rules[0].Type != rule.Blank {
		t.Errorf("rule 0: got %q/%q, want .promo/blank", rules[0].Selector, rules[0].Type)
	}
}

func TestLoadRules_PathPatternFiltering(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveRule(ctx, "news.example", "/article/*", hideRule(".related")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}
	if err := s.SaveRule(ctx, "news.example", "/", hideRule(".promo")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	rules, err := s.LoadRules(ctx, "news.example", "/article/12345")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Selector != ".related" {
		t.Fatalf("article rules: got %+v, want [.related]", rules)
	}

	rules, err = s.LoadRules(ctx, "news.example", "/")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Selector != ".promo" {
		t.Fatalf("root rules: got %+v, want [.promo]", rules)
	}

	// Unknown host: empty, not an error.
	rules, err = s.LoadRules(ctx, "other.example", "/")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("unknown host rules: got %d, want 0", len(rules))
	}
}

func TestSaveRule_StructuredFieldsRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	in := rule.Rule{
		Type:     rule.Style,
		Selector: ".sidebar",
		Anchors: rule.AnchorSet{
			Role: "complementary",
			Tag:  "aside",
			Text: "trending now",
		},
		Alternatives: []string{"aside.sidebar", "aside:nth-of-type(1)"},
		Description:  "dim the sidebar",
		StyleProps:   map[string]string{"opacity": "0.3"},
		Amount:       0.3,
	}
	if err := s.SaveRule(ctx, "news.example", "/", in); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	rules, err := s.LoadRules(ctx, "news.example", "/")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("loaded %d rules, want 1", len(rules))
	}
	got := rules[0]
	if got.Anchors.Role != "complementary" || got.Anchors.Text != "trending now" {
		t.Errorf("anchors: got %+v", got.Anchors)
	}
	if len(got.Alternatives) != 2 || got.Alternatives[0] != "aside.sidebar" {
		t.Errorf("alternatives: got %v", got.Alternatives)
	}
	if got.StyleProps["opacity"] != "0.3" || got.Amount != 0.3 {
		t.Errorf("style props: got %v amount=%v", got.StyleProps, got.Amount)
	}
}

func TestRemoveRule_AcrossPathScopes(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveRule(ctx, "news.example", "/", hideRule(".promo")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}
	if err := s.SaveRule(ctx, "news.example", "/article/*", hideRule(".promo")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	if err := s.RemoveRule(ctx, "news.example", ".promo"); err != nil {
		t.Fatalf("RemoveRule: %v", err)
	}

	n, err := s.RuleCount(ctx, "news.example")
	if err != nil {
		t.Fatalf("RuleCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("rules after remove: got %d, want 0", n)
	}
}

func TestDeleteHost(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	s.SaveRule(ctx, "news.example", "/", hideRule(".promo"))
	s.SaveRule(ctx, "news.example", "/", hideRule("#banner"))
	s.SaveRule(ctx, "other.example", "/", hideRule(".ad"))
	s.SetAlwaysApply(ctx, "news.example", false)

	deleted, err := s.DeleteHost(ctx, "news.example")
	if err != nil {
		t.Fatalf("DeleteHost: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted: got %d, want 2", deleted)
	}

	// Preference gone: back to the default.
	always, err := s.AlwaysApply(ctx, "news.example")
	if err != nil {
		t.Fatalf("AlwaysApply: %v", err)
	}
	if !always {
		t.Error("preference survived DeleteHost")
	}

	// Other host untouched.
	n, _ := s.RuleCount(ctx, "other.example")
	if n != 1 {
		t.Errorf("other host rules: got %d, want 1", n)
	}
}

func TestExportImport_RoundTripAndMerge(t *testing.T) {
	src := openTest(t)
	ctx := context.Background()

	src.SaveRule(ctx, "news.example", "/", hideRule(".promo"))
	src.SaveRule(ctx, "news.example", "/article/*", hideRule(".related"))
	src.SaveRule(ctx, "shop.example", "/", hideRule("#newsletter"))

	sets, err := src.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(sets) != 3 {
		t.Fatalf("exported %d sets, want 3", len(sets))
	}

	dst := openTest(t)
	// Pre-existing rule in the destination must survive the merge untouched.
	dst.SaveRule(ctx, "news.example", "/", hideRule(".promo"))

	added, err := dst.ImportSets(ctx, sets)
	if err != nil {
		t.Fatalf("ImportSets: %v", err)
	}
	if added != 2 {
		t.Fatalf("added: got %d, want 2 (duplicate skipped)", added)
	}

	n, _ := dst.RuleCount(ctx, "news.example")
	if n != 2 {
		t.Errorf("news.example rules after import: got %d, want 2", n)
	}
}

func TestAlwaysApply_DefaultsTrue(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	always, err := s.AlwaysApply(ctx, "unseen.example")
	if err != nil {
		t.Fatalf("AlwaysApply: %v", err)
	}
	if !always {
		t.Fatal("default always_apply: got false, want true")
	}

	if err := s.SetAlwaysApply(ctx, "unseen.example", false); err != nil {
		t.Fatalf("SetAlwaysApply: %v", err)
	}
	always, err = s.AlwaysApply(ctx, "unseen.example")
	if err != nil {
		t.Fatalf("AlwaysApply: %v", err)
	}
	if always {
		t.Fatal("always_apply after disable: got true, want false")
	}
}

func TestMaintenance(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	s.SaveRule(ctx, "news.example", "/", hideRule(".promo"))
	// Default-valued pref for a ruleless host: prunable.
	s.SetAlwaysApply(ctx, "stale.example", true)
	// Non-default pref for a ruleless host: kept.
	s.SetAlwaysApply(ctx, "muted.example", false)

	res, err := s.Maintenance(ctx)
	if err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
	if res.PrefsCleaned != 1 {
		t.Errorf("PrefsCleaned: got %d, want 1", res.PrefsCleaned)
	}
	if res.SizeBefore <= 0 || res.SizeAfter <= 0 {
		t.Errorf("sizes not reported: before=%d after=%d", res.SizeBefore, res.SizeAfter)
	}

	always, _ := s.AlwaysApply(ctx, "muted.example")
	if always {
		t.Error("non-default preference pruned by maintenance")
	}
}
