package browser

import (
	"errors"
	"strings"
	"testing"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"

	"github.com/ysmood/gson"
)

func TestDecodeElement(t *testing.T) {
	v := gson.NewFrom(`{
		"tag": "button", "id": "save", "testId": "save-btn", "role": "button",
		"name": "Save", "text": "Save changes", "html": "<button id=\"save\">Save changes</button>",
		"classes": ["btn", "primary"], "rect": {"x": 10, "y": 20, "width": 80, "height": 24},
		"selector": "#save", "pathSelector": "#save"
	}`)

	el, err := decodeElement(v)
	if err != nil {
		t.Fatalf("decodeElement: %v", err)
	}
	if el.Tag != "button" || el.TestID != "save-btn" || el.Name != "Save" {
		t.Errorf("unexpected element: %+v", el)
	}
	if el.Rect != (bundle.Rect{X: 10, Y: 20, Width: 80, Height: 24}) {
		t.Errorf("rect = %+v", el.Rect)
	}
	if len(el.Classes) != 2 || el.Classes[1] != "primary" {
		t.Errorf("classes = %v", el.Classes)
	}
}

func TestDecodeElementDetached(t *testing.T) {
	if _, err := decodeElement(gson.New(nil)); !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached, got %v", err)
	}
	if _, err := decodeElement(gson.NewFrom(`{"id":"x"}`)); err == nil {
		t.Fatal("expected error for missing tag")
	}
}

func TestDecodeRect(t *testing.T) {
	if _, ok := decodeRect(gson.New(nil)); ok {
		t.Error("null rect should not decode")
	}
	r, ok := decodeRect(gson.NewFrom(`{"x":1.5,"y":2,"width":3,"height":4}`))
	if !ok || r.X != 1.5 || r.Height != 4 {
		t.Errorf("rect = %+v ok=%v", r, ok)
	}
}

func TestDecodeNeighborhood(t *testing.T) {
	v := gson.NewFrom(`{
		"ancestors": [{"tag":"form","id":"profile"},{"tag":"main"}],
		"siblingIndex": 1, "siblingTotal": 3,
		"previous": {"tag":"input","testId":"name"},
		"next": null,
		"children": [{"tag":"span","text":"Save"}]
	}`)
	n, err := decodeNeighborhood(v)
	if err != nil {
		t.Fatalf("decodeNeighborhood: %v", err)
	}
	if len(n.Ancestors) != 2 || n.Ancestors[0].ID != "profile" {
		t.Errorf("ancestors = %+v", n.Ancestors)
	}
	if n.SiblingIndex != 1 || n.SiblingTotal != 3 {
		t.Errorf("siblings = %d/%d", n.SiblingIndex, n.SiblingTotal)
	}
	if n.Previous == nil || n.Previous.TestID != "name" {
		t.Errorf("previous = %+v", n.Previous)
	}
	if n.Next != nil {
		t.Errorf("next = %+v, want nil", n.Next)
	}
	if len(n.Children) != 1 || n.Children[0].Text != "Save" {
		t.Errorf("children = %+v", n.Children)
	}
}

func TestDecodeFrames(t *testing.T) {
	v := gson.NewFrom(`[
		{"fiber": 7, "name": "button", "kind": "host", "flags": {"host": true}},
		{"fiber": 8, "name": "SaveButton", "kind": "composite", "flags": {"composite": true, "errorBoundary": false}},
		{"fiber": 9, "name": "AppLayout", "kind": "composite", "flags": {"composite": true, "layoutLike": true}}
	]`)
	frames, err := decodeFrames(v)
	if err != nil {
		t.Fatalf("decodeFrames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[0].Kind != bundle.FrameHost || frames[0].Flags.Host == nil || !*frames[0].Flags.Host {
		t.Errorf("host frame = %+v", frames[0])
	}
	if frames[1].Fiber != page.Fiber(8) || frames[1].Kind != bundle.FrameComposite {
		t.Errorf("composite frame = %+v", frames[1])
	}
	if eb := frames[1].Flags.ErrorBoundary; eb == nil || *eb {
		t.Errorf("explicit false errorBoundary = %v, want false", eb)
	}
	if frames[1].Flags.Suspense != nil {
		t.Error("omitted flag should stay unknown")
	}
	if frames[2].Flags.LayoutLike == nil {
		t.Error("layoutLike flag lost")
	}

	none, err := decodeFrames(gson.New(nil))
	if err != nil || none != nil {
		t.Errorf("null frames = %v, %v", none, err)
	}
}

func TestDecodeSource(t *testing.T) {
	src, err := decodeSource(gson.NewFrom(`{"file":"src/Save.tsx","line":12,"column":4,"origin":"debugSource"}`))
	if err != nil {
		t.Fatalf("decodeSource: %v", err)
	}
	if src == nil || src.File != "src/Save.tsx" || src.Line != 12 || src.Column != 4 || src.Origin != "debugSource" {
		t.Errorf("source = %+v", src)
	}

	for _, raw := range []string{`null`, `{"file":"","line":3}`} {
		src, err := decodeSource(gson.NewFrom(raw))
		if err != nil || src != nil {
			t.Errorf("%s: got %+v, %v", raw, src, err)
		}
	}
}

func TestDecodeInputsRestoresFuncs(t *testing.T) {
	v := gson.NewFrom(`{
		"props": {"label": "Save", "onClick": {"__grabctx_fn": "handleSave"}, "style": {"nested": {"__grabctx_fn": ""}}},
		"state": [true, {"__grabctx_fn": "setOpen"}],
		"context": {"Theme": {"mode": "dark"}}
	}`)
	in, err := decodeInputs(v)
	if err != nil {
		t.Fatalf("decodeInputs: %v", err)
	}
	if fn, ok := in.Props["onClick"].(page.Func); !ok || fn.Name != "handleSave" {
		t.Errorf("onClick = %#v", in.Props["onClick"])
	}
	nested := in.Props["style"].(map[string]any)["nested"]
	if fn, ok := nested.(page.Func); !ok || fn.String() != "[Function]" {
		t.Errorf("nested = %#v", nested)
	}
	if len(in.State) != 2 || in.State[0] != true {
		t.Errorf("state = %#v", in.State)
	}
	if _, ok := in.State[1].(page.Func); !ok {
		t.Errorf("state[1] = %#v", in.State[1])
	}
	if in.Context["Theme"].(map[string]any)["mode"] != "dark" {
		t.Errorf("context = %#v", in.Context)
	}
}

func TestRestoreFuncsKeepsLookalikes(t *testing.T) {
	v := map[string]any{"__grabctx_fn": "x", "other": 1.0}
	out, ok := restoreFuncs(v).(map[string]any)
	if !ok || len(out) != 2 {
		t.Errorf("map with extra keys should stay a map, got %#v", out)
	}
}

type recordedHandler struct {
	keys     []page.KeyEvent
	moves    []page.Ref
	clicks   []page.ClickEvent
	viewport int
}

func (h *recordedHandler) HandleKey(ev page.KeyEvent) { h.keys = append(h.keys, ev) }
func (h *recordedHandler) HandlePointerMove(r page.Ref) { h.moves = append(h.moves, r) }
func (h *recordedHandler) HandleClick(ev page.ClickEvent) { h.clicks = append(h.clicks, ev) }
func (h *recordedHandler) HandleViewportChange() { h.viewport++ }

func TestDispatch(t *testing.T) {
	h := &recordedHandler{}
	payloads := []string{
		`{"type":"key","key":"G","code":"KeyG","alt":true,"shift":true,"ctrl":false,"meta":false}`,
		`{"type":"pointer","target":12}`,
		`{"type":"click","target":12,"button":0,"shift":true}`,
		`{"type":"viewport"}`,
	}
	for _, p := range payloads {
		if err := dispatch(h, p); err != nil {
			t.Fatalf("dispatch %s: %v", p, err)
		}
	}

	if len(h.keys) != 1 || h.keys[0].Code != "KeyG" || !h.keys[0].Alt || !h.keys[0].Shift || h.keys[0].Ctrl {
		t.Errorf("keys = %+v", h.keys)
	}
	if len(h.moves) != 1 || h.moves[0] != 12 {
		t.Errorf("moves = %v", h.moves)
	}
	if len(h.clicks) != 1 || h.clicks[0].Target != 12 || !h.clicks[0].Modifiers.Any() {
		t.Errorf("clicks = %+v", h.clicks)
	}
	if h.viewport != 1 {
		t.Errorf("viewport = %d", h.viewport)
	}
}

func TestDispatchErrors(t *testing.T) {
	h := &recordedHandler{}
	if err := dispatch(h, `not json`); err == nil {
		t.Error("expected decode error")
	}
	if err := dispatch(h, `{"type":"wheel"}`); err == nil || !strings.Contains(err.Error(), "wheel") {
		t.Errorf("expected unknown type error, got %v", err)
	}
	if err := dispatch(nil, `{"type":"viewport"}`); err != nil {
		t.Errorf("nil handler should be ignored, got %v", err)
	}
}

func TestRuntimeScriptShape(t *testing.T) {
	js := strings.TrimSpace(runtimeJS)
	if !strings.HasPrefix(js, "() =>") {
		t.Fatalf("runtime must be a function expression, starts with %q", js[:10])
	}
	for _, name := range []string{
		bindingName, funcKey,
		"refOf", "connected", "parent", "isOverlayRoot", "describe", "rect", "neighborhood", "style", "location",
		"probe", "buildMode", "fiberFor", "frames", "source", "inputs",
		"showHover", "hideHover", "setSelection", "setStatus", "setHelp", "notify", "clear",
		"attachSelection", "detachSelection", "attachHotkey", "detachHotkey",
	} {
		if !strings.Contains(js, name) {
			t.Errorf("runtime is missing %s", name)
		}
	}
	if !strings.Contains(callJS, missingKey) {
		t.Error("dispatcher must report a missing runtime")
	}
}

func TestIsInternalURL(t *testing.T) {
	cases := map[string]bool{
		"about:blank":                 true,
		"chrome://newtab/":            true,
		"devtools://devtools/x":       true,
		"http://localhost:3000/":      false,
		"https://example.com/page?id": false,
	}
	for url, want := range cases {
		if got := isInternalURL(url); got != want {
			t.Errorf("isInternalURL(%q) = %v, want %v", url, got, want)
		}
	}
}
