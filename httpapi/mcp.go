package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/selmend/selmend/selector"
)

// RegisterMCP registers the healing tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerHealTool(srv)
	s.registerBatchHealTool(srv)
	s.registerLowConfidenceTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// endpoint is one tool invocation after decoding.
type endpoint func(ctx context.Context, req any) (any, error)

// registerTool bridges an endpoint onto an MCP tool: decode errors and
// endpoint errors become tool errors, successful responses are returned as
// JSON text content.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := ep(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

var selectorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":    map[string]any{"type": "string", "description": "Stored selector id, if known"},
		"value": map[string]any{"type": "string", "description": "Selector string"},
		"type":  map[string]any{"type": "string", "description": "Selector type (css, xpath, id, ...)"},
	},
	"required": []string{"value"},
}

var contextSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"page_url":           map[string]any{"type": "string"},
		"page_title":         map[string]any{"type": "string"},
		"html_snapshot":      map[string]any{"type": "string", "description": "Raw page HTML; enables browser-free healing"},
		"surrounding_text":   map[string]any{"type": "string"},
		"element_attributes": map[string]any{"type": "object"},
		"parent_selector":    map[string]any{"type": "string"},
		"sibling_selectors":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"tenant_id":          map[string]any{"type": "string"},
	},
}

// --- heal ---

func (s *Service) registerHealTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "selmend_heal",
		Description: "Heal one broken selector: try known alternatives, generated candidates, then composites, and return the best replacement with its confidence.",
		InputSchema: inputSchema(map[string]any{
			"selector": selectorSchema,
			"context":  contextSchema,
		}, []string{"selector", "context"}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*healRequest)
		hctx := normalizeContext(r.Context)
		healer, err := s.healerFor(hctx)
		if err != nil {
			return nil, err
		}
		broken := s.resolveSelector(ctx, r.Selector)
		result := healer.Heal(ctx, broken, hctx)
		s.events.LogResult(ctx, "", result)
		return result, nil
	}

	registerTool(srv, tool, ep, func(req *mcp.CallToolRequest) (any, error) {
		var r healRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.Selector.Value == "" {
			return nil, errors.New("selector.value is required")
		}
		return &r, nil
	})
}

// --- batch heal ---

func (s *Service) registerBatchHealTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "selmend_heal_batch",
		Description: "Heal a batch of broken selectors under one healing session and return per-selector results plus the session aggregate.",
		InputSchema: inputSchema(map[string]any{
			"selectors": map[string]any{"type": "array", "items": selectorSchema},
			"context":   contextSchema,
		}, []string{"selectors", "context"}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*batchHealRequest)
		hctx := normalizeContext(r.Context)
		healer, err := s.healerFor(hctx)
		if err != nil {
			return nil, err
		}

		sessionID := s.newSessionID()
		if err := s.store.InsertSession(ctx, sessionID, hctx.TenantID); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		for i := range r.Selectors {
			r.Selectors[i] = s.resolveSelector(ctx, r.Selectors[i])
		}

		results := healer.BatchHeal(ctx, r.Selectors,
			func(selector.Selector) selector.HealingContext { return hctx })

		for _, res := range results {
			if err := s.store.AppendSessionResult(ctx, sessionID, res); err != nil {
				s.logger.Warn("mcp: append session result", "session", sessionID, "error", err)
			}
			s.events.LogResult(ctx, sessionID, res)
		}
		if err := s.store.CompleteSession(ctx, sessionID); err != nil {
			s.logger.Warn("mcp: complete session", "session", sessionID, "error", err)
		}

		rec, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		return batchHealResponse{Session: rec, Results: results}, nil
	}

	registerTool(srv, tool, ep, func(req *mcp.CallToolRequest) (any, error) {
		var r batchHealRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if len(r.Selectors) == 0 {
			return nil, errors.New("selectors must not be empty")
		}
		return &r, nil
	})
}

// --- low confidence ---

type lowConfidenceReq struct {
	TenantID  string  `json:"tenant_id"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

func (s *Service) registerLowConfidenceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "selmend_low_confidence",
		Description: "List stored selectors whose smoothed success rate has fallen below a threshold, weakest first.",
		InputSchema: inputSchema(map[string]any{
			"tenant_id": map[string]any{"type": "string"},
			"threshold": map[string]any{"type": "number", "description": "Confidence threshold in [0,1], default 0.5"},
			"limit":     map[string]any{"type": "integer", "description": "Max selectors to return, default 50"},
		}, nil),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*lowConfidenceReq)
		threshold := r.Threshold
		if threshold <= 0 {
			threshold = 0.5
		}
		sels, err := s.store.LowConfidence(ctx, r.TenantID, threshold, r.Limit)
		if err != nil {
			return nil, err
		}
		if sels == nil {
			sels = []selector.Selector{}
		}
		return map[string]any{"selectors": sels}, nil
	}

	registerTool(srv, tool, ep, func(req *mcp.CallToolRequest) (any, error) {
		var r lowConfidenceReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.Threshold < 0 || r.Threshold > 1 {
			return nil, errors.New("threshold must be in [0,1]")
		}
		return &r, nil
	})
}
