package mcp

import (
	"context"
	"fmt"
	"strings"

	"grabctx-mcp-server/internal/prompt"
	"grabctx-mcp-server/internal/sink"
)

type GetSelectionTool struct {
	history *sink.History
}

func (t *GetSelectionTool) Name() string { return "get-selection" }
func (t *GetSelectionTool) Description() string {
	return `Read a captured selection session.

By default returns the latest session as rendered prompt text: framed
[grabctx:session ...] blocks with one [grabctx:element ...] per element,
stable ids and checksums.

Pass format="json" for the structured session instead.`
}
func (t *GetSelectionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to read (default: latest)",
			},
			"format": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"text", "json"},
				"description": "text (default) or json",
			},
		},
	}
}
func (t *GetSelectionTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "session_id")
	var (
		entry sink.Entry
		ok    bool
	)
	if id == "" {
		entry, ok = t.history.Latest()
	} else {
		entry, ok = t.history.Get(id)
	}
	if !ok {
		if id == "" {
			return nil, fmt.Errorf("no selection captured yet")
		}
		return nil, fmt.Errorf("unknown session: %s", id)
	}

	switch strings.ToLower(getStringArg(args, "format")) {
	case "", "text":
		return entry.Rendered, nil
	case "json":
		return entry.Session, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", getStringArg(args, "format"))
	}
}

type ListSelectionsTool struct {
	history *sink.History
}

func (t *ListSelectionsTool) Name() string { return "list-selections" }
func (t *ListSelectionsTool) Description() string {
	return `List remembered selection sessions, newest first, with their summary,
url, element count and checksum.`
}
func (t *ListSelectionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum sessions to return (default 10)",
			},
		},
	}
}
func (t *ListSelectionsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 10)
	if limit <= 0 {
		limit = 10
	}

	sessions := make([]map[string]interface{}, 0, limit)
	for _, id := range t.history.IDs() {
		if len(sessions) >= limit {
			break
		}
		entry, ok := t.history.Get(id)
		if !ok {
			continue
		}
		s := entry.Session
		sessions = append(sessions, map[string]interface{}{
			"id":         s.ID,
			"created_at": s.CreatedAt,
			"url":        s.URL,
			"summary":    s.Summary,
			"elements":   len(s.Elements),
			"checksum":   prompt.Checksum(s),
		})
	}
	return map[string]interface{}{"sessions": sessions, "total": t.history.Len()}, nil
}

type InspectElementTool struct {
	finder    ElementFinder
	inspector ElementInspector
}

func (t *InspectElementTool) Name() string { return "inspect-element" }
func (t *InspectElementTool) Description() string {
	return `Capture one element by CSS selector without user interaction and return
its rendered context block (DOM, component stack, styling, behavior, app,
test locators). Nothing is delivered to sinks.`
}
func (t *InspectElementTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector; the first match is inspected",
			},
			"format": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"text", "json"},
				"description": "text (default) or json",
			},
		},
		"required": []string{"selector"},
	}
}
func (t *InspectElementTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector := strings.TrimSpace(getStringArg(args, "selector"))
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}
	ref, err := t.finder.Find(ctx, selector)
	if err != nil {
		return nil, err
	}
	ec, err := t.inspector.Inspect(ctx, ref)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(getStringArg(args, "format"), "json") {
		return ec, nil
	}
	return prompt.RenderElement(ec), nil
}

type ListPagesTool struct {
	pages PageLister
}

func (t *ListPagesTool) Name() string { return "list-pages" }
func (t *ListPagesTool) Description() string {
	return `List open browser tabs with url, title and which one selection runs on.
Internal pages (chrome://, about:, devtools://) are flagged.`
}
func (t *ListPagesTool) InputSchema() map[string]interface{} { return emptySchema }
func (t *ListPagesTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	pages, err := t.pages.Pages(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"pages": pages}, nil
}
