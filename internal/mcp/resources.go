package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grabctx-mcp-server/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
	resourceMIMEText = "text/plain"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"grabctx://about",
			"grabctx About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, hotkey and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"grabctx://selection/latest",
			"Latest Selection",
			mcp.WithMIMEType(resourceMIMEText),
			mcp.WithResourceDescription("The most recently captured selection session, rendered as prompt text."),
		),
		s.handleLatestSelectionResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"grabctx://selection/{sessionId}",
			"Selection Session",
			mcp.WithTemplateMIMEType(resourceMIMEText),
			mcp.WithTemplateDescription("A remembered selection session by id, rendered as prompt text."),
		),
		s.handleSelectionResource,
	)

	if s.deps.Engine != nil {
		s.mcpServer.AddResourceTemplate(
			mcp.NewResourceTemplate(
				"grabctx://selection/{sessionId}/facts{?predicate,limit}",
				"Selection Facts",
				mcp.WithTemplateMIMEType(resourceMIMEJSON),
				mcp.WithTemplateDescription("Base facts recorded for one session (optionally filtered by predicate)."),
			),
			s.handleSessionFactsResource,
		)
	}
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	hotkey := "disabled"
	if s.deps.Hotkey != nil {
		hotkey = s.deps.Hotkey.String()
	}
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"hotkey":  hotkey,
		"state":   s.deps.Selection.State(),
		"notes": []string{
			"Resources are read-only; use tools to start, finalize or redeliver a selection.",
			"The user picks elements in the browser; Enter captures them into a session.",
			"Sessions are framed text with stable element ids and checksums.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleLatestSelectionResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	entry, ok := s.deps.History.Latest()
	if !ok {
		return nil, fmt.Errorf("no selection captured yet")
	}
	return textContents(request.Params.URI, entry.Rendered), nil
}

func (s *Server) handleSelectionResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := argString(request.Params.Arguments["sessionId"])
	if id == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	entry, ok := s.deps.History.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", id)
	}
	return textContents(request.Params.URI, entry.Rendered), nil
}

func (s *Server) handleSessionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	facts := selectSessionFacts(s.deps.Engine, sessionID, predicate, limit)
	payload := map[string]interface{}{
		"session_id": sessionID,
		"predicate":  predicate,
		"limit":      limit,
		"count":      len(facts),
		"facts":      facts,
	}
	return jsonContents(request.Params.URI, payload)
}

// selectSessionFacts returns the first limit base facts whose first argument
// is sessionID, in recording order.
func selectSessionFacts(engine *mangle.Engine, sessionID, predicate string, limit int) []mangle.Fact {
	if engine == nil || sessionID == "" || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for _, f := range source {
		if len(out) >= limit {
			break
		}
		if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != sessionID {
			continue
		}
		out = append(out, f)
	}
	return out
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func textContents(uri, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEText,
			Text:     text,
		},
	}
}
