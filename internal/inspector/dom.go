package inspector

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxSnippetChars   = 80
	maxAncestors      = 4
	maxChildSamples   = 5
	maxLocatorTextLen = 40
)

// snippetPolicy keeps structure and identifying attributes but strips
// scripts, inline handlers and styles from the outer HTML.
func snippetPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"a", "abbr", "article", "aside", "b", "blockquote", "br", "button", "code",
		"dd", "details", "div", "dl", "dt", "em", "fieldset", "figure", "footer",
		"form", "h1", "h2", "h3", "h4", "h5", "h6", "header", "hr", "i", "img",
		"input", "label", "legend", "li", "main", "nav", "ol", "optgroup", "option",
		"p", "pre", "section", "select", "small", "span", "strong", "summary",
		"table", "tbody", "td", "textarea", "th", "thead", "tr", "ul",
	)
	p.AllowAttrs("id", "class", "role", "type", "name", "title", "alt",
		"placeholder", "aria-label", "for", "value").Globally()
	p.AllowDataAttributes()
	return p
}

func (i *Inspector) domContext(ctx context.Context, ref page.Ref, el *page.Element) *bundle.DOMContext {
	dc := &bundle.DOMContext{
		Snippet:      i.snippet(el),
		Selector:     el.Selector,
		PathSelector: el.PathSelector,
	}

	nb, ok := guard("neighborhood", func() (*page.Neighborhood, error) { return i.dom.Neighborhood(ctx, ref) })
	if !ok || nb == nil {
		return dc
	}

	if n := len(nb.Ancestors); n > 0 {
		dc.Ancestors = nb.Ancestors[:min(n, maxAncestors)]
	}
	if nb.SiblingTotal > 0 {
		dc.Siblings = &bundle.SiblingSummary{
			Index:    nb.SiblingIndex,
			Total:    nb.SiblingTotal,
			Previous: nb.Previous,
			Next:     nb.Next,
		}
	}
	dc.Children = summarizeChildren(nb.Children)
	return dc
}

func summarizeChildren(children []bundle.NodeSummary) *bundle.ChildrenSummary {
	sum := &bundle.ChildrenSummary{Total: len(children)}
	if len(children) == 0 {
		return sum
	}
	sum.ByTag = make(map[string]int)
	for _, c := range children {
		sum.ByTag[c.Tag]++
	}
	sum.Samples = children[:min(len(children), maxChildSamples)]
	return sum
}

func (i *Inspector) snippet(el *page.Element) string {
	raw := el.HTML
	if raw != "" {
		raw = i.sanitizer.Sanitize(raw)
	}
	if strings.TrimSpace(raw) == "" {
		raw = el.Text
	}
	return truncate(collapseSpace(raw), maxSnippetChars)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n runes, the last being an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

var clickableRoles = map[string]bool{
	"button": true, "link": true, "checkbox": true, "radio": true, "switch": true,
	"tab": true, "menuitem": true, "option": true, "treeitem": true,
}

var clickableTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
	"summary": true, "label": true,
}

func (i *Inspector) styleFrame(ctx context.Context, ref page.Ref, el *page.Element) *bundle.StyleFrame {
	cs, ok := guard("computed style", func() (map[string]string, error) { return i.dom.ComputedStyle(ctx, ref) })
	if !ok || cs == nil {
		return nil
	}

	sf := &bundle.StyleFrame{
		Layout: pick(cs, map[string]string{
			"display":             "display",
			"position":            "position",
			"flexDirection":       "flex-direction",
			"justifyContent":      "justify-content",
			"alignItems":          "align-items",
			"gap":                 "gap",
			"gridTemplateColumns": "grid-template-columns",
			"overflow":            "overflow",
			"zIndex":              "z-index",
		}),
		Typography: pick(cs, map[string]string{
			"fontFamily": "font-family",
			"fontSize":   "font-size",
			"fontWeight": "font-weight",
			"lineHeight": "line-height",
			"textAlign":  "text-align",
		}),
		Colors: pick(cs, map[string]string{
			"color":           "color",
			"backgroundColor": "background-color",
			"borderColor":     "border-color",
		}),
		Size: map[string]string{
			"width":  px(el.Rect.Width),
			"height": px(el.Rect.Height),
		},
	}

	spacing := map[string]string{}
	if v := fourSides(cs, "margin"); v != "" {
		spacing["margin"] = v
	}
	if v := fourSides(cs, "padding"); v != "" {
		spacing["padding"] = v
	}
	if len(spacing) > 0 {
		sf.Spacing = spacing
	}

	tag := strings.ToLower(el.Tag)
	sf.Clickable = cs["cursor"] == "pointer" || clickableRoles[el.Role] || clickableTags[tag]
	return sf
}

// pick copies the listed CSS properties, dropping values that carry no
// information for a reader.
func pick(cs map[string]string, keys map[string]string) map[string]string {
	out := map[string]string{}
	for name, prop := range keys {
		v := strings.TrimSpace(cs[prop])
		switch v {
		case "", "none", "normal", "auto", "static", "rgba(0, 0, 0, 0)", "transparent":
			if prop != "display" || v == "" {
				continue
			}
		}
		out[name] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// fourSides rebuilds the CSS shorthand from the four longhand values.
func fourSides(cs map[string]string, prop string) string {
	t, r := cs[prop+"-top"], cs[prop+"-right"]
	b, l := cs[prop+"-bottom"], cs[prop+"-left"]
	if t == "" && r == "" && b == "" && l == "" {
		return ""
	}
	for _, v := range []*string{&t, &r, &b, &l} {
		if *v == "" {
			*v = "0px"
		}
	}
	switch {
	case t == r && r == b && b == l:
		if t == "0px" {
			return ""
		}
		return t
	case t == b && r == l:
		return t + " " + r
	case r == l:
		return t + " " + r + " " + b
	default:
		return t + " " + r + " " + b + " " + l
	}
}

func px(v float64) string {
	return strconv.Itoa(int(math.Round(v))) + "px"
}

func testHints(el *page.Element) *bundle.TestHints {
	hints := &bundle.TestHints{TestID: el.TestID, Locators: []string{}}
	if el.TestID != "" {
		hints.Locators = append(hints.Locators, fmt.Sprintf("getByTestId(%q)", el.TestID))
	}

	name := el.Name
	if name == "" {
		name = collapseSpace(el.Text)
	}
	role := el.Role
	if role == "" {
		role = implicitRole(strings.ToLower(el.Tag))
	}
	if role != "" {
		if name != "" && utf8.RuneCountInString(name) <= maxLocatorTextLen {
			hints.Locators = append(hints.Locators, fmt.Sprintf("getByRole(%q, { name: %q })", role, name))
		} else {
			hints.Locators = append(hints.Locators, fmt.Sprintf("getByRole(%q)", role))
		}
	}
	if text := collapseSpace(el.Text); text != "" && utf8.RuneCountInString(text) <= maxLocatorTextLen {
		hints.Locators = append(hints.Locators, fmt.Sprintf("getByText(%q)", text))
	}
	if el.Selector != "" {
		hints.Locators = append(hints.Locators, fmt.Sprintf("locator(%q)", el.Selector))
	}
	return hints
}

func implicitRole(tag string) string {
	switch tag {
	case "button":
		return "button"
	case "a":
		return "link"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "img":
		return "img"
	case "nav":
		return "navigation"
	}
	return ""
}
