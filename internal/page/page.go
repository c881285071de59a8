// Package page declares the live-page capabilities the selection pipeline
// consumes. The browser bridge implements them over CDP; tests use fakes.
package page

import (
	"context"
	"fmt"

	"grabctx-mcp-server/internal/bundle"
)

// Ref is a handle to an element held by the page runtime. The page keeps a
// weak reference per handle, so a Ref may outlive its element.
type Ref int64

// Valid reports whether r refers to anything at all.
func (r Ref) Valid() bool { return r > 0 }

func (r Ref) String() string { return fmt.Sprintf("el#%d", int64(r)) }

// Fiber is a handle to a component-tree node resolved by the page runtime.
type Fiber int64

func (f Fiber) Valid() bool { return f > 0 }

// Func stands in for a callable value read from the component tree.
type Func struct {
	Name string
}

func (f Func) String() string {
	if f.Name == "" {
		return "[Function]"
	}
	return "[Function " + f.Name + "]"
}

// Element is the static description of one element.
type Element struct {
	Tag          string
	ID           string
	TestID       string
	Role         string
	Name         string // accessible name (aria-label or label text)
	Text         string
	HTML         string // outer HTML, possibly truncated by the runtime
	Classes      []string
	Rect         bundle.Rect
	Selector     string
	PathSelector string
}

// Neighborhood lists the element's surroundings, nearest ancestor first.
type Neighborhood struct {
	Ancestors    []bundle.NodeSummary
	SiblingIndex int
	SiblingTotal int
	Previous     *bundle.NodeSummary
	Next         *bundle.NodeSummary
	Children     []bundle.NodeSummary
}

// DOM reads element structure from the page.
type DOM interface {
	Connected(ctx context.Context, ref Ref) bool
	Parent(ctx context.Context, ref Ref) (Ref, bool)
	IsOverlayRoot(ctx context.Context, ref Ref) bool
	Describe(ctx context.Context, ref Ref) (*Element, error)
	Rect(ctx context.Context, ref Ref) (bundle.Rect, bool)
	Neighborhood(ctx context.Context, ref Ref) (*Neighborhood, error)
	ComputedStyle(ctx context.Context, ref Ref) (map[string]string, error)
	Location(ctx context.Context) (string, error)
}

// BuildMode is the component runtime's build flavour, used to grade sources.
type BuildMode string

const (
	BuildDevelopment BuildMode = "development"
	BuildProduction  BuildMode = "production"
	BuildUnknown     BuildMode = "unknown"
)

// RawFrame is one component-tree node as reported by the runtime.
type RawFrame struct {
	Fiber Fiber
	Name  string
	Kind  bundle.FrameKind
	Flags bundle.FrameFlags
}

// RawSource is an unresolved source position.
type RawSource struct {
	File   string
	Line   int
	Column int
	Origin string
}

// Inputs are the declared props, state slots and context values of a node.
// Values are decoded JSON with callables replaced by Func.
type Inputs struct {
	Props   map[string]any
	State   []any
	Context map[string]any
}

// ComponentTree introspects the UI framework's render tree. Every method may
// fail arbitrarily; callers are expected to degrade rather than abort.
type ComponentTree interface {
	// Probe reports hook-not-installed, instrumentation-inactive or ok.
	Probe(ctx context.Context) (bundle.TreeStatus, error)
	BuildMode(ctx context.Context) (BuildMode, error)
	// FiberFor returns an invalid Fiber when no node owns the element.
	FiberFor(ctx context.Context, ref Ref) (Fiber, error)
	// Frames walks from f outward, returning at most max frames.
	Frames(ctx context.Context, f Fiber, max int) ([]RawFrame, error)
	Source(ctx context.Context, f Fiber) (*RawSource, error)
	Inputs(ctx context.Context, f Fiber) (*Inputs, error)
}

// Overlay draws selection feedback on top of the page.
type Overlay interface {
	ShowHover(ctx context.Context, rect bundle.Rect, label string) error
	HideHover(ctx context.Context) error
	SetSelection(ctx context.Context, rects []bundle.Rect) error
	SetStatus(ctx context.Context, text string, visible bool) error
	SetHelp(ctx context.Context, visible bool) error
	// Notify shows a transient toast that expires on its own.
	Notify(ctx context.Context, text string, isError bool) error
	// Clear hides boxes, status and help. Toasts are left alone.
	Clear(ctx context.Context) error
}

// Input switches the page's event forwarding on and off.
type Input interface {
	AttachSelection(ctx context.Context) error
	DetachSelection(ctx context.Context) error
	AttachHotkey(ctx context.Context) error
	DetachHotkey(ctx context.Context) error
}

// Modifiers held during a key or pointer event.
type Modifiers struct {
	Alt   bool `json:"alt"`
	Shift bool `json:"shift"`
	Ctrl  bool `json:"ctrl"`
	Meta  bool `json:"meta"`
}

// Any reports whether a selection-toggling modifier is held.
func (m Modifiers) Any() bool { return m.Shift || m.Ctrl || m.Meta }

// KeyEvent mirrors the fields of a DOM keydown event the controller needs.
type KeyEvent struct {
	Key  string `json:"key"`
	Code string `json:"code"`
	Modifiers
}

// ClickEvent is a pointer click resolved to an element.
type ClickEvent struct {
	Target Ref `json:"target"`
	Button int `json:"button"`
	Modifiers
}
