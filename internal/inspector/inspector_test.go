package inspector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/heuristics"
	"grabctx-mcp-server/internal/page"
)

type fakeDOM struct {
	connected   bool
	element     *page.Element
	describeErr error
	nb          *page.Neighborhood
	nbErr       error
	style       map[string]string
	styleErr    error
	href        string
	panicStyle  bool
}

func (f *fakeDOM) Connected(context.Context, page.Ref) bool { return f.connected }
func (f *fakeDOM) Parent(context.Context, page.Ref) (page.Ref, bool) {
	return 0, false
}
func (f *fakeDOM) IsOverlayRoot(context.Context, page.Ref) bool { return false }
func (f *fakeDOM) Describe(context.Context, page.Ref) (*page.Element, error) {
	return f.element, f.describeErr
}
func (f *fakeDOM) Rect(context.Context, page.Ref) (bundle.Rect, bool) {
	return f.element.Rect, true
}
func (f *fakeDOM) Neighborhood(context.Context, page.Ref) (*page.Neighborhood, error) {
	return f.nb, f.nbErr
}
func (f *fakeDOM) ComputedStyle(context.Context, page.Ref) (map[string]string, error) {
	if f.panicStyle {
		panic("style accessor exploded")
	}
	return f.style, f.styleErr
}
func (f *fakeDOM) Location(context.Context) (string, error) {
	if f.href == "" {
		return "", errors.New("no location")
	}
	return f.href, nil
}

type fakeTree struct {
	status   bundle.TreeStatus
	probeErr error
	mode     page.BuildMode
	fiber    page.Fiber
	frames   []page.RawFrame
	sources  map[page.Fiber]*page.RawSource
	inputs   map[page.Fiber]*page.Inputs
	maxSeen  int
}

func (f *fakeTree) Probe(context.Context) (bundle.TreeStatus, error) { return f.status, f.probeErr }
func (f *fakeTree) BuildMode(context.Context) (page.BuildMode, error) { return f.mode, nil }
func (f *fakeTree) FiberFor(context.Context, page.Ref) (page.Fiber, error) { return f.fiber, nil }
func (f *fakeTree) Frames(_ context.Context, _ page.Fiber, max int) ([]page.RawFrame, error) {
	f.maxSeen = max
	return f.frames, nil
}
func (f *fakeTree) Source(_ context.Context, fb page.Fiber) (*page.RawSource, error) {
	if src, ok := f.sources[fb]; ok {
		return src, nil
	}
	return nil, errors.New("no source")
}
func (f *fakeTree) Inputs(_ context.Context, fb page.Fiber) (*page.Inputs, error) {
	return f.inputs[fb], nil
}

func buttonDOM() *fakeDOM {
	return &fakeDOM{
		connected: true,
		element: &page.Element{
			Tag:      "button",
			ID:       "save",
			TestID:   "save-btn",
			Classes:  []string{"btn", "primary"},
			Text:     "Save changes",
			HTML:     `<button id="save" class="btn primary" onclick="track()">Save   changes<script>alert(1)</script></button>`,
			Rect:     bundle.Rect{X: 10, Y: 20, Width: 120.4, Height: 31.6},
			Selector: "#save",
		},
		nb: &page.Neighborhood{
			Ancestors: []bundle.NodeSummary{
				{Tag: "div"}, {Tag: "form"}, {Tag: "section"}, {Tag: "main"}, {Tag: "body"},
			},
			SiblingIndex: 1,
			SiblingTotal: 2,
			Previous:     &bundle.NodeSummary{Tag: "button", Text: "Cancel"},
			Children: []bundle.NodeSummary{
				{Tag: "span"}, {Tag: "svg"}, {Tag: "span"}, {Tag: "span"}, {Tag: "i"}, {Tag: "b"},
			},
		},
		style: map[string]string{
			"display":          "inline-flex",
			"position":         "static",
			"cursor":           "pointer",
			"margin-top":       "4px",
			"margin-right":     "8px",
			"margin-bottom":    "4px",
			"margin-left":      "8px",
			"padding-top":      "0px",
			"padding-right":    "0px",
			"padding-bottom":   "0px",
			"padding-left":     "0px",
			"font-size":        "14px",
			"color":            "rgb(0, 0, 0)",
			"background-color": "rgba(0, 0, 0, 0)",
		},
		href: "http://localhost:3000/users/42/edit?tab=profile#top",
	}
}

func reactTree() *fakeTree {
	return &fakeTree{
		status: bundle.TreeOK,
		mode:   page.BuildDevelopment,
		fiber:  1,
		frames: []page.RawFrame{
			{Fiber: 1, Name: "button", Kind: bundle.FrameHost},
			{Fiber: 2, Name: "SaveButton", Kind: bundle.FrameComposite},
			{Fiber: 3, Name: "Page", Kind: bundle.FrameComposite},
		},
		sources: map[page.Fiber]*page.RawSource{
			2: {File: "src/components/SaveButton.tsx", Line: 12, Column: 3},
			3: {File: "src/app/users/[id]/edit/page.tsx", Line: 5},
		},
		inputs: map[page.Fiber]*page.Inputs{
			1: {Props: map[string]any{
				"onClick":   page.Func{Name: "handleClick"},
				"className": "btn primary",
			}},
			2: {
				Props: map[string]any{
					"onSave":       page.Func{Name: "save"},
					"onKeyDown":    page.Func{},
					"onMouseEnter": page.Func{},
					"onLabel":      "not a function",
					"data":         map[string]any{"id": float64(42)},
					"isLoading":    false,
					"error":        nil,
				},
				State: []any{"draft"},
			},
		},
	}
}

func newInspector(t *testing.T, dom page.DOM, tree page.ComponentTree, mode string) *Inspector {
	t.Helper()
	insp, err := New(dom, tree, config.InspectorConfig{Mode: mode, MaxFrames: 8}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return insp
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for _, frames := range []int{0, 65} {
		_, err := New(buttonDOM(), nil, config.InspectorConfig{Mode: config.InspectorModeBestEffort, MaxFrames: frames}, nil)
		if !errors.Is(err, config.ErrInvalidConfig) {
			t.Errorf("frames=%d: expected ErrInvalidConfig, got %v", frames, err)
		}
	}
	for _, frames := range []int{1, 64} {
		if _, err := New(buttonDOM(), nil, config.InspectorConfig{Mode: config.InspectorModeBestEffort, MaxFrames: frames}, nil); err != nil {
			t.Errorf("frames=%d: unexpected error %v", frames, err)
		}
	}
	if _, err := New(buttonDOM(), nil, config.InspectorConfig{Mode: "loud", MaxFrames: 8}, nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad mode, got %v", err)
	}
}

func TestInspectFullContext(t *testing.T) {
	insp := newInspector(t, buttonDOM(), reactTree(), config.InspectorModeBestEffort)

	ec, err := insp.Inspect(context.Background(), 7)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	if ec.Selection.Tag != "button" || ec.Selection.TestID != "save-btn" {
		t.Errorf("unexpected selection %+v", ec.Selection)
	}

	t.Run("react", func(t *testing.T) {
		if ec.React == nil || ec.React.Status != bundle.TreeOK {
			t.Fatalf("unexpected react context %+v", ec.React)
		}
		slice := ec.React.Slice
		if slice == nil || len(slice.Frames) != 3 {
			t.Fatalf("unexpected slice %+v", slice)
		}
		if slice.OwnerIndex == nil || *slice.OwnerIndex != 1 {
			t.Fatalf("expected owner index 1, got %v", slice.OwnerIndex)
		}
		owner := slice.Owner()
		if owner.Kind != bundle.FrameComposite || owner.Name != "SaveButton" {
			t.Errorf("unexpected owner %+v", owner)
		}
		if owner.Source == nil || owner.Source.Confidence != bundle.ConfidenceHigh {
			t.Errorf("expected high confidence source, got %+v", owner.Source)
		}
		if slice.Frames[0].Source != nil {
			t.Errorf("host frame should have no source, got %+v", slice.Frames[0].Source)
		}
		if owner.Owner == nil || owner.Owner.Props["onSave"] != "[Function save]" {
			t.Errorf("unexpected owner snapshot %+v", owner.Owner)
		}
		if slice.Frames[2].Owner != nil {
			t.Error("only the owner frame carries a snapshot")
		}
	})

	t.Run("dom", func(t *testing.T) {
		if ec.DOM == nil {
			t.Fatal("expected dom context")
		}
		snip := ec.DOM.Snippet
		if strings.Contains(snip, "onclick") || strings.Contains(snip, "script") || strings.Contains(snip, "alert") {
			t.Errorf("snippet not sanitized: %q", snip)
		}
		if !strings.Contains(snip, "Save changes") {
			t.Errorf("snippet lost text or spacing was not collapsed: %q", snip)
		}
		if len([]rune(snip)) > 80 {
			t.Errorf("snippet too long: %d runes", len([]rune(snip)))
		}
		if len(ec.DOM.Ancestors) != 4 {
			t.Errorf("expected 4 ancestors, got %d", len(ec.DOM.Ancestors))
		}
		if ec.DOM.Siblings == nil || ec.DOM.Siblings.Total != 2 || ec.DOM.Siblings.Previous == nil {
			t.Errorf("unexpected siblings %+v", ec.DOM.Siblings)
		}
		ch := ec.DOM.Children
		if ch == nil || ch.Total != 6 || ch.ByTag["span"] != 3 || len(ch.Samples) != 5 {
			t.Errorf("unexpected children %+v", ch)
		}
	})

	t.Run("styling", func(t *testing.T) {
		sf := ec.Styling
		if sf == nil {
			t.Fatal("expected style frame")
		}
		if !sf.Clickable {
			t.Error("expected clickable")
		}
		if sf.Spacing["margin"] != "4px 8px" {
			t.Errorf("margin = %q", sf.Spacing["margin"])
		}
		if _, ok := sf.Spacing["padding"]; ok {
			t.Error("zero padding should be omitted")
		}
		if sf.Size["width"] != "120px" || sf.Size["height"] != "32px" {
			t.Errorf("unexpected size %v", sf.Size)
		}
		if _, ok := sf.Layout["position"]; ok {
			t.Error("static position should be omitted")
		}
		if _, ok := sf.Colors["backgroundColor"]; ok {
			t.Error("transparent background should be omitted")
		}
	})

	t.Run("behavior", func(t *testing.T) {
		b := ec.Behavior
		if b == nil || b.Inference != bundle.InferencePropNameOnly || !b.Speculative {
			t.Fatalf("unexpected behavior %+v", b)
		}
		got := map[string]string{}
		for _, h := range b.Handlers {
			got[h.Name] = h.Kind + "@" + h.Source
		}
		want := map[string]string{
			"onClick":      "click@element",
			"onSave":       "other@owner:SaveButton",
			"onKeyDown":    "keyboard@owner:SaveButton",
			"onMouseEnter": "pointer@owner:SaveButton",
		}
		if len(got) != len(want) {
			t.Errorf("handlers = %v, want %v", got, want)
		}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("handler %s = %q, want %q", k, got[k], v)
			}
		}
	})

	t.Run("app", func(t *testing.T) {
		app := ec.App
		if app == nil || app.URL == nil {
			t.Fatalf("unexpected app %+v", app)
		}
		if app.URL.Path != "/users/42/edit" || app.URL.Query != "tab=profile" || app.URL.Fragment != "top" {
			t.Errorf("unexpected url parts %+v", app.URL)
		}
		if app.URL.Origin != "http://localhost:3000" {
			t.Errorf("origin = %q", app.URL.Origin)
		}
		if app.Framework != heuristics.FrameworkNextApp || app.RoutePattern != "/users/[id1]/edit" {
			t.Errorf("unexpected framework guess %q %q", app.Framework, app.RoutePattern)
		}
		if len(app.DataSources) != 1 || app.DataSources[0].Kind != heuristics.DataReactQuery {
			t.Errorf("unexpected data sources %+v", app.DataSources)
		}
	})

	t.Run("tests", func(t *testing.T) {
		if ec.Tests == nil || ec.Tests.TestID != "save-btn" {
			t.Fatalf("unexpected test hints %+v", ec.Tests)
		}
		if ec.Tests.Locators[0] != `getByTestId("save-btn")` {
			t.Errorf("first locator = %q", ec.Tests.Locators[0])
		}
	})
}

func TestInspectSkipsSuspenseOwner(t *testing.T) {
	suspense := true
	tree := reactTree()
	tree.frames = []page.RawFrame{
		{Fiber: 1, Name: "button", Kind: bundle.FrameHost},
		{Fiber: 4, Name: "Suspense", Kind: bundle.FrameComposite, Flags: bundle.FrameFlags{Suspense: &suspense}},
		{Fiber: 2, Name: "SaveButton", Kind: bundle.FrameComposite},
	}
	tree.inputs[4] = &page.Inputs{Props: map[string]any{"fallback": nil, "children": "..."}}
	insp := newInspector(t, buttonDOM(), tree, config.InspectorModeBestEffort)

	ec, err := insp.Inspect(context.Background(), 7)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	slice := ec.React.Slice
	if slice.OwnerIndex == nil || *slice.OwnerIndex != 2 {
		t.Fatalf("expected owner index 2, got %v", slice.OwnerIndex)
	}
	if name := slice.Owner().Name; name != "SaveButton" {
		t.Errorf("owner = %q, want SaveButton", name)
	}
	if slice.Frames[1].Owner != nil {
		t.Error("suspense boundary should not carry a snapshot")
	}

	found := false
	for _, h := range ec.Behavior.Handlers {
		if h.Name == "onSave" && h.Source == "owner:SaveButton" {
			found = true
		}
	}
	if !found {
		t.Errorf("owner handlers lost: %+v", ec.Behavior.Handlers)
	}
	if len(ec.App.DataSources) != 1 || ec.App.DataSources[0].Kind != heuristics.DataReactQuery {
		t.Errorf("unexpected data sources %+v", ec.App.DataSources)
	}
}

func TestInspectStatuses(t *testing.T) {
	tests := []struct {
		name string
		tree page.ComponentTree
		want bundle.TreeStatus
	}{
		{"no runtime", nil, bundle.TreeHookNotInstalled},
		{"hook missing", &fakeTree{status: bundle.TreeHookNotInstalled}, bundle.TreeHookNotInstalled},
		{"inactive", &fakeTree{status: bundle.TreeInactive}, bundle.TreeInactive},
		{"probe fails", &fakeTree{probeErr: errors.New("devtools hook threw")}, bundle.TreeInternalError},
		{"no fiber", &fakeTree{status: bundle.TreeOK}, bundle.TreeNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insp := newInspector(t, buttonDOM(), tt.tree, config.InspectorModeBestEffort)
			ec, err := insp.Inspect(context.Background(), 1)
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if ec.React == nil || ec.React.Status != tt.want {
				t.Errorf("status = %+v, want %q", ec.React, tt.want)
			}
			if ec.React.Slice != nil {
				t.Error("expected no slice")
			}
			if ec.Behavior.Inference != bundle.InferenceNone || ec.Behavior.Handlers == nil {
				t.Errorf("unexpected behavior %+v", ec.Behavior)
			}
			if ec.App == nil || len(ec.App.DataSources) != 1 || ec.App.DataSources[0].Kind != heuristics.DataUnknown {
				t.Errorf("expected a single unknown data source, got %+v", ec.App)
			}
		})
	}
}

func TestInspectRequiredMode(t *testing.T) {
	insp := newInspector(t, buttonDOM(), &fakeTree{status: bundle.TreeInactive}, config.InspectorModeRequired)
	_, err := insp.Inspect(context.Background(), 1)
	if !errors.Is(err, ErrComponentTreeRequired) {
		t.Errorf("expected ErrComponentTreeRequired, got %v", err)
	}

	insp = newInspector(t, buttonDOM(), reactTree(), config.InspectorModeRequired)
	if _, err := insp.Inspect(context.Background(), 1); err != nil {
		t.Errorf("unexpected error with a healthy tree: %v", err)
	}
}

func TestInspectOffModeReportsStatusOnly(t *testing.T) {
	tree := reactTree()
	insp := newInspector(t, buttonDOM(), tree, config.InspectorModeOff)
	ec, err := insp.Inspect(context.Background(), 1)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if ec.React.Status != bundle.TreeOK || ec.React.Slice != nil {
		t.Errorf("unexpected react context %+v", ec.React)
	}
	if tree.maxSeen != 0 {
		t.Error("frames should not be walked in off mode")
	}
}

func TestInspectPassesFrameLimit(t *testing.T) {
	tree := reactTree()
	insp, err := New(buttonDOM(), tree, config.InspectorConfig{Mode: config.InspectorModeBestEffort, MaxFrames: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ec, err := insp.Inspect(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if tree.maxSeen != 2 {
		t.Errorf("frames requested with max %d", tree.maxSeen)
	}
	// The fake ignores the limit; the inspector still enforces it.
	if got := len(ec.React.Slice.Frames); got != 2 {
		t.Errorf("got %d frames, want 2", got)
	}
}

func TestInspectDegradesPerSource(t *testing.T) {
	dom := buttonDOM()
	dom.nbErr = errors.New("neighborhood failed")
	dom.panicStyle = true
	dom.href = ""

	insp := newInspector(t, dom, reactTree(), config.InspectorModeBestEffort)
	ec, err := insp.Inspect(context.Background(), 1)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if ec.Styling != nil {
		t.Error("expected nil styling after accessor panic")
	}
	if ec.DOM == nil || ec.DOM.Ancestors != nil || ec.DOM.Snippet == "" {
		t.Errorf("expected snippet-only dom context, got %+v", ec.DOM)
	}
	if ec.App == nil || ec.App.URL != nil {
		t.Errorf("expected app without url, got %+v", ec.App)
	}
	if ec.React.Status != bundle.TreeOK {
		t.Errorf("tree status should be unaffected, got %q", ec.React.Status)
	}
}

func TestInspectDetachedElement(t *testing.T) {
	dom := buttonDOM()
	dom.connected = false
	insp := newInspector(t, dom, nil, config.InspectorModeBestEffort)
	if _, err := insp.Inspect(context.Background(), 1); !errors.Is(err, ErrElementUnavailable) {
		t.Errorf("expected ErrElementUnavailable, got %v", err)
	}

	dom = buttonDOM()
	dom.describeErr = errors.New("gone")
	insp = newInspector(t, dom, nil, config.InspectorModeBestEffort)
	if _, err := insp.Inspect(context.Background(), 1); !errors.Is(err, ErrElementUnavailable) {
		t.Errorf("expected ErrElementUnavailable, got %v", err)
	}
}

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		mode    page.BuildMode
		located bool
		want    bundle.Confidence
	}{
		{page.BuildDevelopment, true, bundle.ConfidenceHigh},
		{page.BuildProduction, true, bundle.ConfidenceLow},
		{page.BuildUnknown, true, bundle.ConfidenceMedium},
		{"", true, bundle.ConfidenceMedium},
		{page.BuildDevelopment, false, bundle.ConfidenceNone},
	}
	for _, tt := range tests {
		if got := confidenceFor(tt.mode, tt.located); got != tt.want {
			t.Errorf("confidenceFor(%q, %v) = %q, want %q", tt.mode, tt.located, got, tt.want)
		}
	}
}

func TestSnapshotBounds(t *testing.T) {
	props := map[string]any{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n"} {
		props[k] = k
	}
	props["a"] = map[string]any{
		"nested": map[string]any{"deep": map[string]any{"x": 1.0}},
		"list":   []any{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0},
	}
	props["b"] = []any{[]any{[]any{1.0, 2.0}}}

	snap := snapshotMap(props)
	if len(snap) != maxSnapshotEntries+1 {
		t.Fatalf("expected %d entries plus marker, got %d", maxSnapshotEntries, len(snap))
	}
	if snap[truncatedKey] != "+2 more" {
		t.Errorf("truncation marker = %v", snap[truncatedKey])
	}

	a := snap["a"].(map[string]any)
	nested := a["nested"].(map[string]any)
	if nested["deep"] != "[Object]" {
		t.Errorf("expected depth cut, got %v", nested["deep"])
	}
	list := a["list"].([]any)
	if len(list) != maxSnapshotArray+1 || list[maxSnapshotArray] != "… +2 more" {
		t.Errorf("unexpected list %v", list)
	}

	b := snap["b"].([]any)
	inner := b[0].([]any)
	if inner[0] != "[Array(2)]" {
		t.Errorf("expected array depth cut, got %v", inner[0])
	}

	wide := map[string]any{}
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9", "k10"} {
		wide[k] = true
	}
	snap = snapshotMap(map[string]any{"wide": wide})
	if got := len(snap["wide"].(map[string]any)); got != maxSnapshotKeys+1 {
		t.Errorf("expected %d keys plus marker, got %d", maxSnapshotKeys, got)
	}
}

func TestFourSides(t *testing.T) {
	tests := []struct {
		t, r, b, l string
		want       string
	}{
		{"8px", "8px", "8px", "8px", "8px"},
		{"4px", "8px", "4px", "8px", "4px 8px"},
		{"1px", "2px", "3px", "2px", "1px 2px 3px"},
		{"1px", "2px", "3px", "4px", "1px 2px 3px 4px"},
		{"0px", "0px", "0px", "0px", ""},
	}
	for _, tt := range tests {
		cs := map[string]string{"margin-top": tt.t, "margin-right": tt.r, "margin-bottom": tt.b, "margin-left": tt.l}
		if got := fourSides(cs, "margin"); got != tt.want {
			t.Errorf("fourSides(%v) = %q, want %q", cs, got, tt.want)
		}
	}
}
