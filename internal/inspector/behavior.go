package inspector

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"
)

var handlerKinds = map[string]string{
	"onClick":  "click",
	"onChange": "change",
	"onSubmit": "submit",
	"onInput":  "input",
	"onFocus":  "focus",
	"onBlur":   "blur",
}

// inferBehavior lists handler-looking props of the host element and its owner.
// Only names and callability are known; nothing was observed firing.
func inferBehavior(tree treeResult) *bundle.Behavior {
	b := &bundle.Behavior{
		Inference:   bundle.InferenceNone,
		Speculative: true,
		Handlers:    []bundle.HandlerBinding{},
	}

	b.Handlers = appendHandlers(b.Handlers, tree.hostProps, "element")
	if tree.ownerName != "" {
		b.Handlers = appendHandlers(b.Handlers, tree.ownerProps, "owner:"+tree.ownerName)
	}
	if len(b.Handlers) > 0 {
		b.Inference = bundle.InferencePropNameOnly
	}
	return b
}

func appendHandlers(dst []bundle.HandlerBinding, props map[string]any, source string) []bundle.HandlerBinding {
	names := make([]string, 0, len(props))
	for name, v := range props {
		if isHandlerName(name) && isCallable(v) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		dst = append(dst, bundle.HandlerBinding{Name: name, Kind: classifyHandler(name), Source: source})
	}
	return dst
}

// isHandlerName matches "on" followed by an upper-case letter.
func isHandlerName(name string) bool {
	if !strings.HasPrefix(name, "on") {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name[2:])
	return unicode.IsUpper(r)
}

func isCallable(v any) bool {
	switch v.(type) {
	case page.Func, *page.Func:
		return true
	}
	return false
}

func classifyHandler(name string) string {
	if kind, ok := handlerKinds[name]; ok {
		return kind
	}
	rest := name[2:]
	switch {
	case strings.HasPrefix(rest, "Key"):
		return "keyboard"
	case strings.HasPrefix(rest, "Pointer"), strings.HasPrefix(rest, "Mouse"):
		return "pointer"
	}
	return "other"
}
