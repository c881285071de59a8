// Package prompt renders captured contexts into the line-oriented text
// protocol handed to agents. Output is deterministic: the same record always
// renders to the same bytes.
//
//	[grabctx:element id=el_1a2b checksum=9f00c1d2]
//	[section:selection]
//	tag="button"
//	[end:selection]
//	...
//	[/grabctx:element id=el_1a2b]
package prompt

import (
	"fmt"
	"strings"

	"grabctx-mcp-server/internal/bundle"
)

// Protocol markers.
const (
	elementOpen  = "[grabctx:element id=%s checksum=%s]"
	elementClose = "[/grabctx:element id=%s]"
	sessionOpen  = "[grabctx:session id=%s checksum=%s elements=%d]"
	sessionClose = "[/grabctx:session id=%s]"
)

// RenderElement renders one context as a framed block.
func RenderElement(ec *bundle.ElementContext) string {
	var w writer
	w.element(ec)
	return w.String()
}

// RenderSession renders the session header followed by every element block.
func RenderSession(s *bundle.SelectionSession) string {
	var w writer
	if s == nil {
		return ""
	}
	w.line(fmt.Sprintf(sessionOpen, s.ID, Checksum(s), len(s.Elements)))
	w.section("meta", func() {
		w.fact("sessionId", s.ID)
		w.fact("createdAt", s.CreatedAt)
		w.fact("url", s.URL)
		w.fact("instruction", s.Instruction)
		w.fact("summary", s.Summary)
		w.fact("elements", len(s.Elements))
	})
	for i := range s.Elements {
		w.element(&s.Elements[i])
	}
	w.line(fmt.Sprintf(sessionClose, s.ID))
	return w.String()
}

type writer struct {
	b strings.Builder
}

func (w *writer) String() string { return w.b.String() }

func (w *writer) line(s string) {
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}

func (w *writer) section(name string, body func()) {
	w.line("[section:" + name + "]")
	body()
	w.line("[end:" + name + "]")
}

// fact writes key=<json>, skipping null, empty strings, empty objects and
// empty arrays.
func (w *writer) fact(key string, v any) {
	w.emit(key, v, false)
}

// always writes key=<json> even when empty; a nil list renders as [].
func (w *writer) always(key string, v any) {
	w.emit(key, v, true)
}

func (w *writer) emit(key string, v any, keepEmpty bool) {
	enc, err := CanonicalJSON(v)
	if err != nil {
		enc = "null"
	}
	switch enc {
	case "null", `""`, "{}", "[]":
		if !keepEmpty {
			return
		}
		if enc == "null" {
			enc = "[]"
		}
	}
	w.line(key + "=" + enc)
}

func (w *writer) element(ec *bundle.ElementContext) {
	if ec == nil {
		return
	}
	id := ElementID(ec)
	w.line(fmt.Sprintf(elementOpen, id, Checksum(ec)))

	w.section("meta", func() {
		w.fact("elementId", id)
		if ec.React != nil {
			w.fact("componentTree", ec.React.Status)
			if owner := ec.React.Slice.Owner(); owner != nil {
				w.fact("component", owner.Name)
			}
		}
		if ec.App != nil {
			w.fact("framework", ec.App.Framework)
		}
	})

	sel := ec.Selection
	w.section("selection", func() {
		w.fact("tag", sel.Tag)
		w.fact("id", sel.ID)
		w.fact("testId", sel.TestID)
		w.fact("role", sel.Role)
		w.fact("classes", sel.Classes)
		w.fact("rect", sel.Rect)
	})

	if d := ec.DOM; d != nil {
		w.section("dom", func() {
			w.fact("selector", d.Selector)
			w.fact("pathSelector", d.PathSelector)
			w.fact("snippet", d.Snippet)
			w.fact("ancestors", d.Ancestors)
			w.fact("siblings", d.Siblings)
			w.fact("children", d.Children)
		})
	}

	if r := ec.React; r != nil {
		w.section("react", func() {
			w.fact("status", r.Status)
			w.fact("mode", r.Mode)
			w.always("stack", stackLines(r.Slice))
			if owner := r.Slice.Owner(); owner != nil {
				w.fact("owner", owner.Name)
				w.fact("ownerIndex", *r.Slice.OwnerIndex)
				w.fact("ownerSource", owner.Source)
				if snap := owner.Owner; snap != nil {
					w.fact("props", snap.Props)
					w.fact("state", snap.State)
					w.fact("context", snap.Context)
				}
			}
		})
	}

	if s := ec.Styling; s != nil {
		w.section("styling", func() {
			w.fact("layout", s.Layout)
			w.fact("spacing", s.Spacing)
			w.fact("size", s.Size)
			w.fact("typography", s.Typography)
			w.fact("colors", s.Colors)
			w.fact("clickable", s.Clickable)
		})
	}

	if b := ec.Behavior; b != nil {
		w.section("behavior", func() {
			w.fact("inference", b.Inference)
			w.fact("speculative", b.Speculative)
			w.always("handlers", b.Handlers)
		})
	}

	if a := ec.App; a != nil {
		w.section("app", func() {
			w.fact("url", a.URL)
			w.fact("framework", a.Framework)
			w.fact("routePattern", a.RoutePattern)
			w.fact("routeParams", a.RouteParams)
			w.fact("page", a.Page)
			w.fact("layouts", a.Layouts)
			w.always("hints", a.DataSources)
		})
	}

	if t := ec.Tests; t != nil {
		w.section("tests", func() {
			w.fact("testId", t.TestID)
			w.always("locators", t.Locators)
		})
	}

	w.line(fmt.Sprintf(elementClose, id))
}

// stackFrame is the compact per-frame form used in the stack fact.
type stackFrame struct {
	Name       string            `json:"name"`
	Kind       bundle.FrameKind  `json:"kind"`
	Source     string            `json:"source,omitempty"`
	Confidence bundle.Confidence `json:"confidence,omitempty"`
	Flags      []string          `json:"flags,omitempty"`
}

func stackLines(slice *bundle.ComponentTreeSlice) []stackFrame {
	if slice == nil {
		return []stackFrame{}
	}
	out := make([]stackFrame, 0, len(slice.Frames))
	for _, f := range slice.Frames {
		sf := stackFrame{Name: f.Name, Kind: f.Kind, Flags: flagNames(f.Flags)}
		if f.Source != nil {
			sf.Source = formatSource(f.Source)
			sf.Confidence = f.Source.Confidence
		}
		out = append(out, sf)
	}
	return out
}

func formatSource(src *bundle.SourceLocation) string {
	switch {
	case src.File == "":
		return ""
	case src.Line > 0 && src.Column > 0:
		return fmt.Sprintf("%s:%d:%d", src.File, src.Line, src.Column)
	case src.Line > 0:
		return fmt.Sprintf("%s:%d", src.File, src.Line)
	default:
		return src.File
	}
}

// flagNames lists the flags known to be set; unknown and false are dropped.
func flagNames(f bundle.FrameFlags) []string {
	var out []string
	add := func(name string, v *bool) {
		if v != nil && *v {
			out = append(out, name)
		}
	}
	add("suspense", f.Suspense)
	add("errorBoundary", f.ErrorBoundary)
	add("server", f.ServerComponent)
	add("layout", f.LayoutLike)
	return out
}
