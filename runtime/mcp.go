package runtime

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quellhq/quell/kit"
)

// RegisterMCP registers the quell page tools on an MCP server. Every tool
// routes through the action registry, so MCP calls and page-binding calls
// share one code path.
func (r *Runtime) RegisterMCP(srv *mcp.Server) {
	r.registerPageInfoTool(srv)
	r.registerCleanPresetTool(srv)
	r.registerTweakTool(srv)
	r.registerAskTool(srv)
	r.registerUndoTool(srv)
	r.registerResetSiteTool(srv)
	r.registerAlwaysApplyTool(srv)
	r.registerSaveSnapshotTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// callAction dispatches a registered action and re-wraps the JSON response so
// the MCP layer renders it as structured content.
func (r *Runtime) callAction(ctx context.Context, action string, req any) (any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := r.actions.Call(ctx, action, payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp), nil
}

// decodeNone is the decoder for tools without arguments.
func decodeNone(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{Request: nil}, nil
}

// --- page_info ---

func (r *Runtime) registerPageInfoTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_page_info",
		Description: "Get the current page state: host, path, stored and active rule counts, tweak mode and preferences.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.callAction(ctx, ActionPageInfo, nil)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- apply_preset ---

func (r *Runtime) registerCleanPresetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_apply_preset",
		Description: "Apply the built-in clean preset: hide cookie banners, ads, popups, newsletter prompts and sticky bars. Rules that matched something are persisted for this site.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.callAction(ctx, ActionCleanPreset, nil)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- tweak ---

type tweakToolRequest struct {
	Active bool `json:"active"`
}

func (r *Runtime) registerTweakTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_tweak_mode",
		Description: "Enter or leave interactive element-selection mode on the page.",
		InputSchema: inputSchema(map[string]any{
			"active": map[string]any{"type": "boolean", "description": "true to start selecting, false to stop"},
		}, []string{"active"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		t := req.(*tweakToolRequest)
		action := ActionTweakExit
		if t.Active {
			action = ActionTweakStart
		}
		return r.callAction(ctx, action, nil)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var t tweakToolRequest
		if err := json.Unmarshal(req.Params.Arguments, &t); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &t}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- ask ---

func (r *Runtime) registerAskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_ask",
		Description: "Describe an annoyance in natural language (e.g. 'remove the cookie banner and mute the video'). Matching rules are applied and persisted.",
		InputSchema: inputSchema(map[string]any{
			"prompt": map[string]any{"type": "string", "description": "What to suppress, in plain words"},
		}, []string{"prompt"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return r.callAction(ctx, ActionAsk, req.(*askRequest))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var a askRequest
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &a}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- undo ---

func (r *Runtime) registerUndoTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_undo",
		Description: "Revert the most recently hidden element and remove its stored rule.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.callAction(ctx, ActionUndo, nil)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- reset_site ---

func (r *Runtime) registerResetSiteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_reset_site",
		Description: "Restore the page to its unmodified state. Temporary resets keep stored rules for the next visit; permanent resets delete them.",
		InputSchema: inputSchema(map[string]any{
			"temporary": map[string]any{"type": "boolean", "description": "true to reset this session only (default: false, deletes stored rules)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return r.callAction(ctx, ActionResetSite, req.(*resetRequest))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr resetRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- always_apply ---

func (r *Runtime) registerAlwaysApplyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_always_apply",
		Description: "Enable or disable automatic rule application on page load for this site.",
		InputSchema: inputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "true to apply stored rules automatically"},
		}, []string{"enabled"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return r.callAction(ctx, ActionAlwaysApply, req.(*alwaysApplyRequest))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var a alwaysApplyRequest
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &a}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- save_config ---

func (r *Runtime) registerSaveSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quell_save_config",
		Description: "Persist the currently active rule set for this site so it re-applies on future visits.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.callAction(ctx, ActionSaveSnapshot, nil)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}
