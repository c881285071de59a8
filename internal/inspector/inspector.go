// Package inspector assembles one ElementContext per selected element from
// the page's DOM and component-tree capabilities.
//
// Every source is best-effort. Failures from the page are converted at a
// single boundary (guard) into nil fields or a tree status; only failing to
// describe the element itself aborts an inspection.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/heuristics"
	"grabctx-mcp-server/internal/page"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrElementUnavailable is returned when the element is detached or
	// cannot be described at all.
	ErrElementUnavailable = errors.New("element unavailable")
	// ErrComponentTreeRequired is returned in required mode when the
	// component tree cannot be read for the element.
	ErrComponentTreeRequired = errors.New("component tree required but unavailable")
)

// Inspector is safe for concurrent use once constructed.
type Inspector struct {
	dom       page.DOM
	tree      page.ComponentTree
	registry  *heuristics.Registry
	mode      string
	maxFrames int
	sanitizer *bluemonday.Policy
}

// New validates the inspector configuration up front so a bad mode or frame
// count fails at setup rather than on the first selection. tree may be nil
// when the page has no component runtime; registry defaults to the bundled
// strategies.
func New(dom page.DOM, tree page.ComponentTree, cfg config.InspectorConfig, registry *heuristics.Registry) (*Inspector, error) {
	if dom == nil {
		return nil, errors.New("inspector: dom accessor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = heuristics.Default()
	}
	return &Inspector{
		dom:       dom,
		tree:      tree,
		registry:  registry,
		mode:      cfg.Mode,
		maxFrames: cfg.MaxFrames,
		sanitizer: snippetPolicy(),
	}, nil
}

// Mode returns the configured component-tree mode.
func (i *Inspector) Mode() string { return i.mode }

// Inspect builds the context for ref.
func (i *Inspector) Inspect(ctx context.Context, ref page.Ref) (*bundle.ElementContext, error) {
	if !ref.Valid() || !i.dom.Connected(ctx, ref) {
		return nil, fmt.Errorf("%w: %s is not attached", ErrElementUnavailable, ref)
	}
	el, err := i.dom.Describe(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: describe %s: %v", ErrElementUnavailable, ref, err)
	}
	if el == nil {
		return nil, fmt.Errorf("%w: describe %s returned nothing", ErrElementUnavailable, ref)
	}

	tree := i.componentTree(ctx, ref)
	if i.mode == config.InspectorModeRequired && tree.react.Status != bundle.TreeOK {
		return nil, fmt.Errorf("%w: %s", ErrComponentTreeRequired, tree.react.Status)
	}

	ec := &bundle.ElementContext{
		Selection: bundle.Selection{
			Tag:     el.Tag,
			ID:      el.ID,
			TestID:  el.TestID,
			Role:    el.Role,
			Classes: el.Classes,
			Rect:    el.Rect,
		},
		React:    tree.react,
		DOM:      i.domContext(ctx, ref, el),
		Styling:  i.styleFrame(ctx, ref, el),
		Behavior: inferBehavior(tree),
		App:      i.appContext(ctx, tree),
		Tests:    testHints(el),
	}
	return ec, nil
}

func (i *Inspector) appContext(ctx context.Context, tree treeResult) *bundle.AppContext {
	app := &bundle.AppContext{}

	href, ok := guard("location", func() (string, error) { return i.dom.Location(ctx) })
	if ok && href != "" {
		app.URL = splitURL(href)
	}

	path := ""
	if app.URL != nil {
		path = app.URL.Path
	}
	var slice *bundle.ComponentTreeSlice
	if tree.react != nil {
		slice = tree.react.Slice
	}
	fw := i.registry.DetectFramework(heuristics.FrameworkInput{Slice: slice, Path: path})
	app.Framework = fw.Framework
	app.RoutePattern = fw.RoutePattern
	app.RouteParams = fw.RouteParams
	app.Page = fw.Page
	app.Layouts = fw.Layouts
	app.DataSources = i.registry.DetectDataSources(tree.ownerPropNames())
	return app
}

func splitURL(href string) *bundle.URLParts {
	u, err := url.Parse(href)
	if err != nil {
		return &bundle.URLParts{Href: href}
	}
	parts := &bundle.URLParts{
		Href:     href,
		Path:     u.EscapedPath(),
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
	if u.Scheme != "" && u.Host != "" {
		parts.Origin = u.Scheme + "://" + u.Host
	}
	if parts.Path == "" {
		parts.Path = "/"
	}
	return parts
}

// guard runs one page access and reports whether it produced a usable value.
// Errors and panics are logged and swallowed.
func guard[T any](op string, fn func() (T, error)) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[inspector] %s panicked: %v", op, r)
			var zero T
			v, ok = zero, false
		}
	}()
	v, err := fn()
	if err != nil {
		log.Printf("[inspector] %s: %v", op, err)
		return v, false
	}
	return v, true
}
