// Package bundle defines the records produced by a selection session: one
// ElementContext per selected element and the SelectionSession that groups
// them. Every nested structure is best-effort; a nil field means the signal
// was unavailable, not that extraction failed.
package bundle

// Confidence grades a resolved source location.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// TreeStatus reports whether component-tree extraction could run.
type TreeStatus string

const (
	TreeHookNotInstalled TreeStatus = "hook-not-installed"
	TreeInactive         TreeStatus = "instrumentation-inactive"
	TreeNoMatch          TreeStatus = "no-matching-component"
	TreeInternalError    TreeStatus = "internal-error"
	TreeOK               TreeStatus = "ok"
)

// Rect is a viewport-relative rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementContext is the immutable snapshot for one selected element.
// Top-level fields are pointers so absence serializes as null; Tests is
// optional and omitted entirely when not computed.
type ElementContext struct {
	Selection Selection     `json:"selection"`
	DOM       *DOMContext   `json:"dom"`
	React     *ReactContext `json:"react"`
	Styling   *StyleFrame   `json:"styling"`
	Behavior  *Behavior     `json:"behavior"`
	App       *AppContext   `json:"app"`
	Tests     *TestHints    `json:"tests,omitempty"`
}

// Selection is the identity of the selected element.
type Selection struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id,omitempty"`
	TestID  string   `json:"testId,omitempty"`
	Role    string   `json:"role,omitempty"`
	Classes []string `json:"classes,omitempty"`
	Rect    Rect     `json:"rect"`
}

// NodeSummary is a one-line identity for a neighbouring element.
type NodeSummary struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id,omitempty"`
	TestID  string   `json:"testId,omitempty"`
	Classes []string `json:"classes,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// DOMContext summarizes the element's position in the document.
type DOMContext struct {
	Snippet      string           `json:"snippet,omitempty"`
	Selector     string           `json:"selector,omitempty"`
	PathSelector string           `json:"pathSelector,omitempty"`
	Ancestors    []NodeSummary    `json:"ancestors,omitempty"`
	Siblings     *SiblingSummary  `json:"siblings,omitempty"`
	Children     *ChildrenSummary `json:"children,omitempty"`
}

type SiblingSummary struct {
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Previous *NodeSummary `json:"previous,omitempty"`
	Next     *NodeSummary `json:"next,omitempty"`
}

type ChildrenSummary struct {
	Total   int            `json:"total"`
	ByTag   map[string]int `json:"byTag,omitempty"`
	Samples []NodeSummary  `json:"samples,omitempty"`
}

// ReactContext carries the component-tree status and, when available, the slice.
type ReactContext struct {
	Status TreeStatus          `json:"status"`
	Mode   string              `json:"mode,omitempty"`
	Slice  *ComponentTreeSlice `json:"slice,omitempty"`
}

// ComponentTreeSlice is an ordered run of frames from the host node outward.
// OwnerIndex, when set, always points at a composite frame.
type ComponentTreeSlice struct {
	Frames     []ComponentFrame `json:"frames"`
	OwnerIndex *int             `json:"ownerIndex"`
}

// Owner returns the owner frame or nil.
func (s *ComponentTreeSlice) Owner() *ComponentFrame {
	if s == nil || s.OwnerIndex == nil {
		return nil
	}
	i := *s.OwnerIndex
	if i < 0 || i >= len(s.Frames) {
		return nil
	}
	return &s.Frames[i]
}

// FrameKind distinguishes host (DOM) frames from composite (component) frames.
type FrameKind string

const (
	FrameHost      FrameKind = "host"
	FrameComposite FrameKind = "composite"
)

// ComponentFrame is one node of the component tree.
type ComponentFrame struct {
	Name   string          `json:"name"`
	Kind   FrameKind       `json:"kind"`
	Source *SourceLocation `json:"source"`
	Flags  FrameFlags      `json:"flags"`
	Owner  *OwnerSnapshot  `json:"owner,omitempty"`
}

// FrameFlags are tri-state: nil means the runtime could not tell.
type FrameFlags struct {
	Host            *bool `json:"host,omitempty"`
	Composite       *bool `json:"composite,omitempty"`
	Suspense        *bool `json:"suspense,omitempty"`
	ErrorBoundary   *bool `json:"errorBoundary,omitempty"`
	ServerComponent *bool `json:"serverComponent,omitempty"`
	LayoutLike      *bool `json:"layoutLike,omitempty"`
}

// SourceLocation is a best-effort pointer into application source.
type SourceLocation struct {
	File       string     `json:"file"`
	Line       int        `json:"line,omitempty"`
	Column     int        `json:"column,omitempty"`
	Confidence Confidence `json:"confidence"`
	Origin     string     `json:"origin,omitempty"`
}

// OwnerSnapshot holds bounded copies of the owner's inputs.
type OwnerSnapshot struct {
	Props   map[string]any `json:"props,omitempty"`
	State   []any          `json:"state,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// StyleFrame holds computed visual facts.
type StyleFrame struct {
	Layout     map[string]string `json:"layout,omitempty"`
	Spacing    map[string]string `json:"spacing,omitempty"`
	Size       map[string]string `json:"size,omitempty"`
	Typography map[string]string `json:"typography,omitempty"`
	Colors     map[string]string `json:"colors,omitempty"`
	Clickable  bool              `json:"clickable"`
}

// Inference levels for the behavior block.
const (
	InferenceNone         = "none"
	InferencePropNameOnly = "prop-name-only"
)

// Behavior lists handler bindings guessed from prop names. It is always
// speculative; nothing here was observed firing.
type Behavior struct {
	Inference   string           `json:"inference"`
	Speculative bool             `json:"speculative"`
	Handlers    []HandlerBinding `json:"handlers"`
}

type HandlerBinding struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

// AppContext describes routing and data-loading guesses for the page.
type AppContext struct {
	URL          *URLParts         `json:"url,omitempty"`
	Framework    string            `json:"framework"`
	RoutePattern string            `json:"routePattern,omitempty"`
	RouteParams  map[string]string `json:"routeParams,omitempty"`
	Page         *SourceLocation   `json:"page,omitempty"`
	Layouts      []SourceLocation  `json:"layouts,omitempty"`
	DataSources  []DataSourceHint  `json:"dataSources"`
}

type URLParts struct {
	Href     string `json:"href"`
	Origin   string `json:"origin,omitempty"`
	Path     string `json:"path"`
	Query    string `json:"query,omitempty"`
	Fragment string `json:"fragment,omitempty"`
}

// FrameworkDetectionResult is returned by framework strategies.
type FrameworkDetectionResult struct {
	Framework    string            `json:"framework"`
	RoutePattern string            `json:"routePattern,omitempty"`
	RouteParams  map[string]string `json:"routeParams,omitempty"`
	Page         *SourceLocation   `json:"page,omitempty"`
	Layouts      []SourceLocation  `json:"layouts,omitempty"`
}

// DataSourceHint is a guess at how the owner loads its data.
type DataSourceHint struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// TestHints suggests locators for writing tests against the element.
type TestHints struct {
	TestID   string   `json:"testId,omitempty"`
	Locators []string `json:"locators"`
}

// SelectionSession groups the contexts captured by one finalize action.
type SelectionSession struct {
	ID          string           `json:"id"`
	CreatedAt   int64            `json:"createdAt"`
	URL         string           `json:"url"`
	Instruction *string          `json:"instruction"`
	Summary     string           `json:"summary"`
	Elements    []ElementContext `json:"elements"`
}

// Bool returns a pointer to b, for tri-state flags.
func Bool(b bool) *bool { return &b }
