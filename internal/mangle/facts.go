package mangle

import (
	"context"
	"log"
	"time"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/prompt"
)

// SessionFacts flattens a session into base facts for the selection schema.
// Elements are keyed by their stable element id.
func SessionFacts(s *bundle.SelectionSession) []Fact {
	if s == nil {
		return nil
	}
	ts := time.UnixMilli(s.CreatedAt)
	var facts []Fact
	add := func(pred string, args ...interface{}) {
		facts = append(facts, Fact{Predicate: pred, Args: args, Timestamp: ts})
	}

	add("session", s.ID, s.URL, s.CreatedAt)
	for i := range s.Elements {
		ec := &s.Elements[i]
		id := prompt.ElementID(ec)

		add("element", s.ID, id, ec.Selection.Tag)
		if ec.Selection.TestID != "" {
			add("element_test_id", s.ID, id, ec.Selection.TestID)
		}

		if ec.React != nil {
			add("element_tree_status", s.ID, id, string(ec.React.Status))
			if slice := ec.React.Slice; slice != nil {
				for _, f := range slice.Frames {
					if f.Kind == bundle.FrameComposite && f.Name != "" {
						add("element_component", s.ID, id, f.Name)
					}
				}
				if owner := slice.Owner(); owner != nil {
					add("element_owner", s.ID, id, owner.Name)
					if src := owner.Source; src != nil && src.File != "" {
						add("element_source", s.ID, id, src.File, src.Line, string(src.Confidence))
					}
				}
			}
		}

		if ec.Behavior != nil {
			for _, h := range ec.Behavior.Handlers {
				add("element_handler", s.ID, id, h.Name, h.Kind)
			}
		}

		if app := ec.App; app != nil {
			add("element_framework", s.ID, id, app.Framework)
			if app.RoutePattern != "" {
				add("element_route", s.ID, id, app.RoutePattern)
			}
			for _, d := range app.DataSources {
				add("element_data_source", s.ID, id, d.Kind)
			}
		}
	}
	return facts
}

// SessionCaptured records every captured session as facts.
func (e *Engine) SessionCaptured(ctx context.Context, s *bundle.SelectionSession, _ string) {
	if err := e.AddFacts(ctx, SessionFacts(s)); err != nil {
		log.Printf("[mangle] record session %s: %v", s.ID, err)
	}
}
