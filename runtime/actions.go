package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quellhq/quell/observability"
	"github.com/quellhq/quell/rule"
	"github.com/quellhq/quell/suggest"
	"github.com/quellhq/quell/tweak"
)

// Action names the page binding and the HTTP surface dispatch.
const (
	ActionPageInfo    = "getPageInfo"
	ActionCleanPreset = "applyCleanPreset"
	ActionTweakStart  = "startTweakMode"
	// ActionTweakStartShort is the accepted short form of startTweakMode.
	ActionTweakStartShort = "startTweak"
	ActionTweakExit       = "exitTweakMode"
	ActionAsk             = "askAI"
	ActionUndo            = "undo"
	ActionResetSite       = "resetSite"
	ActionAlwaysApply     = "toggleAlwaysApply"
	ActionSaveSnapshot    = "saveCurrentConfig"
)

// cleanPresetPrompt drives the offline heuristics for the one-click preset:
// the usual suspects a reader wants gone everywhere.
const cleanPresetPrompt = "cookie consent ads banner popup overlay newsletter sticky"

func (r *Runtime) registerActions() {
	r.actions.Register(ActionPageInfo, r.handlePageInfo)
	r.actions.Register(ActionCleanPreset, r.handleCleanPreset)
	r.actions.Register(ActionTweakStart, r.handleTweakStart)
	r.actions.Register(ActionTweakStartShort, r.handleTweakStart)
	r.actions.Register(ActionTweakExit, r.handleTweakExit)
	r.actions.Register(ActionAsk, r.handleAsk)
	r.actions.Register(ActionUndo, r.handleUndo)
	r.actions.Register(ActionResetSite, r.handleResetSite)
	r.actions.Register(ActionAlwaysApply, r.handleAlwaysApply)
	r.actions.Register(ActionSaveSnapshot, r.handleSaveSnapshot)
}

// PageInfo is the getPageInfo response. Chips carries one label per active
// rule (its description, or the selector when none was recorded) for the
// caller's chip list.
type PageInfo struct {
	Host            string   `json:"host"`
	Path            string   `json:"path"`
	StoredRules     int      `json:"stored_rules"`
	ActiveRules     int      `json:"active_rules"`
	AppliedElements int      `json:"applied_elements"`
	Chips           []string `json:"chips"`
	PresetAvailable bool     `json:"preset_available"`
	TweakActive     bool     `json:"tweak_active"`
	UndoDepth       int      `json:"undo_depth"`
	AlwaysApply     bool     `json:"always_apply"`
	SessionDisabled bool     `json:"session_disabled"`
}

func (r *Runtime) handlePageInfo(ctx context.Context, _ []byte) ([]byte, error) {
	r.mu.Lock()
	info := PageInfo{
		Host:            r.host,
		Path:            r.path,
		ActiveRules:     len(r.active),
		AppliedElements: r.app.AppliedCount(),
		Chips:           []string{},
		PresetAvailable: !r.disabled,
		SessionDisabled: r.disabled,
	}
	for _, rl := range r.active {
		if rl.Description != "" {
			info.Chips = append(info.Chips, rl.Description)
		} else {
			info.Chips = append(info.Chips, rl.Selector)
		}
	}
	r.mu.Unlock()

	info.TweakActive = r.ctrl.State() == tweak.Selecting
	info.UndoDepth = r.ctrl.UndoDepth()

	stored, err := r.store.RuleCount(ctx, info.Host)
	if err != nil {
		return nil, err
	}
	info.StoredRules = stored

	always, err := r.store.AlwaysApply(ctx, info.Host)
	if err != nil {
		return nil, err
	}
	info.AlwaysApply = always
	return json.Marshal(info)
}

// presetResponse is the applyCleanPreset response.
type presetResponse struct {
	AppliedRules    int      `json:"applied_rules"`
	MatchedElements int      `json:"matched_elements"`
	Selectors       []string `json:"selectors"`
}

func (r *Runtime) handleCleanPreset(ctx context.Context, _ []byte) ([]byte, error) {
	started := time.Now()
	out, err := suggest.Heuristics{}.Suggest(ctx, suggest.Request{Prompt: cleanPresetPrompt})
	if err != nil {
		return nil, err
	}

	applied, elements := r.applyCandidates(ctx, out.Rules)
	resp := presetResponse{AppliedRules: len(applied), MatchedElements: elements, Selectors: []string{}}
	for _, rl := range applied {
		resp.Selectors = append(resp.Selectors, rl.Selector)
	}

	details, _ := json.Marshal(map[string]any{
		"candidates": len(out.Rules),
		"applied":    len(applied),
	})
	r.logEvent(ctx, observability.Event{
		Type: observability.EventPresetApplied, Host: r.host, Path: r.Path(),
		Details: string(details), Success: true,
		DurationMs: time.Since(started).Milliseconds(),
	})
	return json.Marshal(resp)
}

// tweakResponse is returned by startTweakMode, exitTweakMode and undo.
type tweakResponse struct {
	Active    bool `json:"active"`
	UndoDepth int  `json:"undo_depth"`
}

func (r *Runtime) handleTweakStart(ctx context.Context, _ []byte) ([]byte, error) {
	if err := r.ctrl.Enter(ctx); err != nil {
		return nil, err
	}
	r.logEvent(ctx, observability.Event{
		Type: observability.EventTweakSession, Host: r.host, Path: r.Path(),
		Details: `{"phase":"start"}`, Success: true,
	})
	return r.tweakState()
}

func (r *Runtime) handleTweakExit(ctx context.Context, _ []byte) ([]byte, error) {
	if err := r.ctrl.Exit(ctx); err != nil {
		return nil, err
	}
	r.logEvent(ctx, observability.Event{
		Type: observability.EventTweakSession, Host: r.host, Path: r.Path(),
		Details: `{"phase":"exit"}`, Success: true,
	})
	return r.tweakState()
}

func (r *Runtime) handleUndo(ctx context.Context, _ []byte) ([]byte, error) {
	if err := r.ctrl.Undo(ctx); err != nil {
		return nil, err
	}
	return r.tweakState()
}

func (r *Runtime) tweakState() ([]byte, error) {
	return json.Marshal(tweakResponse{
		Active:    r.ctrl.State() == tweak.Selecting,
		UndoDepth: r.ctrl.UndoDepth(),
	})
}

// askRequest is the askAI payload.
type askRequest struct {
	Prompt string `json:"prompt"`
}

// askResponse is the askAI response.
type askResponse struct {
	SuggestedRules  int      `json:"suggested_rules"`
	AppliedRules    int      `json:"applied_rules"`
	MatchedElements int      `json:"matched_elements"`
	Selectors       []string `json:"selectors"`
	Note            string   `json:"note,omitempty"`
}

func (r *Runtime) handleAsk(ctx context.Context, payload []byte) ([]byte, error) {
	var req askRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("runtime: decode ask request: %w", err)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("runtime: ask: prompt required")
	}
	started := time.Now()

	r.mu.Lock()
	host, path := r.host, r.path
	sketch, err := suggest.Sketch(r.doc, r.sketchMaxLen)
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn("runtime: page sketch failed", "error", err)
		sketch = ""
	}

	out, err := r.suggester.Suggest(ctx, suggest.Request{
		Prompt: req.Prompt,
		Host:   host,
		Path:   path,
		Sketch: sketch,
	})
	if err != nil {
		r.logEvent(ctx, observability.Event{
			Type: observability.EventSuggestion, Host: host, Path: path, Success: false,
			DurationMs: time.Since(started).Milliseconds(),
		})
		return nil, fmt.Errorf("runtime: suggestion source: %w", err)
	}

	applied, elements := r.applyCandidates(ctx, out.Rules)
	resp := askResponse{
		SuggestedRules:  len(out.Rules),
		AppliedRules:    len(applied),
		MatchedElements: elements,
		Selectors:       []string{},
		Note:            out.Note,
	}
	for _, rl := range applied {
		resp.Selectors = append(resp.Selectors, rl.Selector)
	}

	details, _ := json.Marshal(map[string]any{
		"suggested": len(out.Rules),
		"applied":   len(applied),
	})
	r.logEvent(ctx, observability.Event{
		Type: observability.EventSuggestion, Host: host, Path: path,
		Details: string(details), Success: true,
		DurationMs: time.Since(started).Milliseconds(),
	})
	return json.Marshal(resp)
}

// resetRequest is the resetSite payload.
type resetRequest struct {
	// Temporary restores the page for this session only; stored rules survive
	// and re-arm on the next page load.
	Temporary bool `json:"temporary"`
}

// resetResponse is the resetSite response.
type resetResponse struct {
	Temporary    bool  `json:"temporary"`
	DeletedRules int64 `json:"deleted_rules"`
}

func (r *Runtime) handleResetSite(ctx context.Context, payload []byte) ([]byte, error) {
	var req resetRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("runtime: decode reset request: %w", err)
		}
	}
	r.ctrl.ClearOnNavigation(ctx)

	r.mu.Lock()
	r.app.ResetAll(ctx)
	r.active = nil
	if req.Temporary {
		r.disabled = true
	}
	host := r.host
	r.mu.Unlock()

	resp := resetResponse{Temporary: req.Temporary}
	if !req.Temporary {
		deleted, err := r.store.DeleteHost(ctx, host)
		if err != nil {
			return nil, err
		}
		resp.DeletedRules = deleted
	}

	details, _ := json.Marshal(map[string]any{
		"temporary": req.Temporary,
		"deleted":   resp.DeletedRules,
	})
	r.logEvent(ctx, observability.Event{
		Type: observability.EventSiteReset, Host: host, Path: r.Path(),
		Details: string(details), Success: true,
	})
	return json.Marshal(resp)
}

// alwaysApplyRequest is the toggleAlwaysApply payload.
type alwaysApplyRequest struct {
	Enabled bool `json:"enabled"`
}

// alwaysApplyResponse is the toggleAlwaysApply response.
type alwaysApplyResponse struct {
	AlwaysApply     bool `json:"always_apply"`
	AppliedElements int  `json:"applied_elements"`
}

func (r *Runtime) handleAlwaysApply(ctx context.Context, payload []byte) ([]byte, error) {
	var req alwaysApplyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("runtime: decode always-apply request: %w", err)
	}
	if err := r.store.SetAlwaysApply(ctx, r.host, req.Enabled); err != nil {
		return nil, err
	}

	resp := alwaysApplyResponse{AlwaysApply: req.Enabled}
	if req.Enabled {
		// Re-enabling also lifts a temporary disable for this session.
		r.mu.Lock()
		r.disabled = false
		r.mu.Unlock()
		n, err := r.ApplyStored(ctx)
		if err != nil {
			return nil, err
		}
		resp.AppliedElements = n
	}
	return json.Marshal(resp)
}

// saveSnapshotResponse is the saveCurrentConfig response.
type saveSnapshotResponse struct {
	SavedRules int `json:"saved_rules"`
}

// handleSaveSnapshot persists the currently active rule set under the current
// scope, so ad-hoc state (preset or suggestion results applied before a
// temporary disable, for example) becomes durable.
func (r *Runtime) handleSaveSnapshot(ctx context.Context, _ []byte) ([]byte, error) {
	r.mu.Lock()
	host, path := r.host, r.path
	rules := make([]rule.Rule, len(r.active))
	copy(rules, r.active)
	r.mu.Unlock()

	pattern := rule.GeneralizePath(path)
	saved := 0
	for _, rl := range rules {
		if err := r.store.SaveRule(ctx, host, pattern, rl); err != nil {
			r.logger.Error("runtime: snapshot save failed", "selector", rl.Selector, "error", err)
			continue
		}
		saved++
	}
	return json.Marshal(saveSnapshotResponse{SavedRules: saved})
}
