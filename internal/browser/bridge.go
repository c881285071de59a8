package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"
	"grabctx-mcp-server/internal/session"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

//go:embed runtime.js
var runtimeJS string

const (
	bindingName = "__grabctx_binding"
	missingKey  = "__grabctx_missing"
	funcKey     = "__grabctx_fn"

	eventBuffer = 256
)

// callJS dispatches to the page runtime, reporting a missing runtime
// instead of throwing so the bridge can reinstall it.
const callJS = `(name, args) => {
	const g = window.__grabctx;
	if (!g || typeof g[name] !== 'function') return { ` + missingKey + `: true };
	const v = g[name](...args);
	return v === undefined ? null : v;
}`

var (
	// ErrDetached is returned when a handle no longer resolves to a live element.
	ErrDetached = errors.New("element detached")
	// ErrNotInstalled is returned when the page runtime cannot be installed.
	ErrNotInstalled = errors.New("page runtime not installed")
)

// EventHandler receives user input forwarded from the page.
// *session.Controller implements it.
type EventHandler interface {
	HandleKey(ev page.KeyEvent)
	HandlePointerMove(target page.Ref)
	HandleClick(ev page.ClickEvent)
	HandleViewportChange()
}

// Bridge implements the page capabilities over one Rod page. Every call goes
// through the injected runtime; element and fiber handles are weak on the
// page side.
type Bridge struct {
	page        *rod.Page
	hotkey      *session.HotkeySpec
	evalTimeout time.Duration

	mu        sync.Mutex
	handler   EventHandler
	selecting bool
	hotkeyOn  bool
	removeDoc func() error
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBridge wraps p. A nil hotkey leaves the global toggle unbound.
func NewBridge(p *rod.Page, hotkey *session.HotkeySpec, evalTimeout time.Duration) *Bridge {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Bridge{page: p, hotkey: hotkey, evalTimeout: evalTimeout}
}

// Bind sets the receiver of forwarded events.
func (b *Bridge) Bind(h EventHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Install exposes the event binding, registers the runtime for future
// documents, injects it into the current one and starts the event loop.
func (b *Bridge) Install(ctx context.Context) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(b.page); err != nil {
		return fmt.Errorf("%w: add binding: %v", ErrNotInstalled, err)
	}
	remove, err := b.page.EvalOnNewDocument("(" + runtimeJS + ")()")
	if err != nil {
		return fmt.Errorf("%w: register runtime: %v", ErrNotInstalled, err)
	}
	if err := b.inject(ctx); err != nil {
		_ = remove()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.removeDoc = remove
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.run(loopCtx)
	log.Printf("[bridge] runtime installed")
	return nil
}

// Close stops the event loop and unregisters the runtime.
func (b *Bridge) Close() error {
	b.mu.Lock()
	cancel, done, remove := b.cancel, b.done, b.removeDoc
	b.cancel, b.removeDoc = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if remove != nil {
		return remove()
	}
	return nil
}

type pageEvent struct {
	payload   string
	navigated bool
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	events := make(chan pageEvent, eventBuffer)
	push := func(ev pageEvent) {
		select {
		case events <- ev:
		default:
			log.Printf("[bridge] event queue full, dropping event")
		}
	}

	wait := b.page.Context(ctx).EachEvent(
		func(ev *proto.RuntimeBindingCalled) {
			if ev.Name == bindingName {
				push(pageEvent{payload: ev.Payload})
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				push(pageEvent{navigated: true})
			}
		},
	)
	go wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.navigated {
				b.reattach(ctx)
				continue
			}
			b.mu.Lock()
			h := b.handler
			b.mu.Unlock()
			if err := dispatch(h, ev.payload); err != nil {
				log.Printf("[bridge] %v", err)
			}
		}
	}
}

// reattach restores listeners after the main frame navigates. The runtime
// itself is re-run by the new-document script.
func (b *Bridge) reattach(ctx context.Context) {
	b.mu.Lock()
	selecting, hotkeyOn := b.selecting, b.hotkeyOn
	b.mu.Unlock()

	if hotkeyOn {
		if err := b.AttachHotkey(ctx); err != nil {
			log.Printf("[bridge] reattach hotkey: %v", err)
		}
	}
	if selecting {
		if err := b.AttachSelection(ctx); err != nil {
			log.Printf("[bridge] reattach selection: %v", err)
		}
	}
}

func (b *Bridge) inject(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.evalTimeout)
	defer cancel()
	_, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           runtimeJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}
	return nil
}

// call invokes a runtime function, reinstalling the runtime once if the
// document was replaced underneath us.
func (b *Bridge) call(ctx context.Context, fn string, args ...interface{}) (gson.JSON, error) {
	v, err := b.eval(ctx, fn, args)
	if err != nil {
		return gson.JSON{}, err
	}
	if v.Get(missingKey).Bool() {
		if err := b.inject(ctx); err != nil {
			return gson.JSON{}, err
		}
		if v, err = b.eval(ctx, fn, args); err != nil {
			return gson.JSON{}, err
		}
		if v.Get(missingKey).Bool() {
			return gson.JSON{}, fmt.Errorf("%w: %s", ErrNotInstalled, fn)
		}
	}
	return v, nil
}

func (b *Bridge) eval(ctx context.Context, fn string, args []interface{}) (gson.JSON, error) {
	if args == nil {
		args = []interface{}{}
	}
	ctx, cancel := context.WithTimeout(ctx, b.evalTimeout)
	defer cancel()
	res, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           callJS,
		JSArgs:       []interface{}{fn, args},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return gson.JSON{}, fmt.Errorf("%s: %w", fn, err)
	}
	if res == nil {
		return gson.New(nil), nil
	}
	return res.Value, nil
}

// DOM

func (b *Bridge) Connected(ctx context.Context, ref page.Ref) bool {
	v, err := b.call(ctx, "connected", ref)
	return err == nil && v.Bool()
}

func (b *Bridge) Parent(ctx context.Context, ref page.Ref) (page.Ref, bool) {
	v, err := b.call(ctx, "parent", ref)
	if err != nil {
		return 0, false
	}
	parent := page.Ref(v.Int())
	return parent, parent.Valid()
}

func (b *Bridge) IsOverlayRoot(ctx context.Context, ref page.Ref) bool {
	v, err := b.call(ctx, "isOverlayRoot", ref)
	return err == nil && v.Bool()
}

func (b *Bridge) Describe(ctx context.Context, ref page.Ref) (*page.Element, error) {
	v, err := b.call(ctx, "describe", ref)
	if err != nil {
		return nil, err
	}
	return decodeElement(v)
}

func (b *Bridge) Rect(ctx context.Context, ref page.Ref) (bundle.Rect, bool) {
	v, err := b.call(ctx, "rect", ref)
	if err != nil {
		return bundle.Rect{}, false
	}
	return decodeRect(v)
}

func (b *Bridge) Neighborhood(ctx context.Context, ref page.Ref) (*page.Neighborhood, error) {
	v, err := b.call(ctx, "neighborhood", ref)
	if err != nil {
		return nil, err
	}
	return decodeNeighborhood(v)
}

func (b *Bridge) ComputedStyle(ctx context.Context, ref page.Ref) (map[string]string, error) {
	v, err := b.call(ctx, "style", ref)
	if err != nil {
		return nil, err
	}
	if v.Nil() {
		return nil, ErrDetached
	}
	out := make(map[string]string)
	if err := unmarshal(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) Location(ctx context.Context) (string, error) {
	v, err := b.call(ctx, "location")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// Find resolves a CSS selector to a handle for the first match.
func (b *Bridge) Find(ctx context.Context, selector string) (page.Ref, error) {
	v, err := b.call(ctx, "refOf", selector)
	if err != nil {
		return 0, err
	}
	ref := page.Ref(v.Int())
	if !ref.Valid() {
		return 0, fmt.Errorf("no element matches %q", selector)
	}
	return ref, nil
}

// Component tree

func (b *Bridge) Probe(ctx context.Context) (bundle.TreeStatus, error) {
	v, err := b.call(ctx, "probe")
	if err != nil {
		return bundle.TreeInternalError, err
	}
	return bundle.TreeStatus(v.Str()), nil
}

func (b *Bridge) BuildMode(ctx context.Context) (page.BuildMode, error) {
	v, err := b.call(ctx, "buildMode")
	if err != nil {
		return page.BuildUnknown, err
	}
	switch mode := page.BuildMode(v.Str()); mode {
	case page.BuildDevelopment, page.BuildProduction:
		return mode, nil
	default:
		return page.BuildUnknown, nil
	}
}

func (b *Bridge) FiberFor(ctx context.Context, ref page.Ref) (page.Fiber, error) {
	v, err := b.call(ctx, "fiberFor", ref)
	if err != nil {
		return 0, err
	}
	return page.Fiber(v.Int()), nil
}

func (b *Bridge) Frames(ctx context.Context, f page.Fiber, max int) ([]page.RawFrame, error) {
	v, err := b.call(ctx, "frames", f, max)
	if err != nil {
		return nil, err
	}
	return decodeFrames(v)
}

func (b *Bridge) Source(ctx context.Context, f page.Fiber) (*page.RawSource, error) {
	v, err := b.call(ctx, "source", f)
	if err != nil {
		return nil, err
	}
	return decodeSource(v)
}

func (b *Bridge) Inputs(ctx context.Context, f page.Fiber) (*page.Inputs, error) {
	v, err := b.call(ctx, "inputs", f)
	if err != nil {
		return nil, err
	}
	return decodeInputs(v)
}

// Overlay

func (b *Bridge) ShowHover(ctx context.Context, rect bundle.Rect, label string) error {
	_, err := b.call(ctx, "showHover", rect, label)
	return err
}

func (b *Bridge) HideHover(ctx context.Context) error {
	_, err := b.call(ctx, "hideHover")
	return err
}

func (b *Bridge) SetSelection(ctx context.Context, rects []bundle.Rect) error {
	if rects == nil {
		rects = []bundle.Rect{}
	}
	_, err := b.call(ctx, "setSelection", rects)
	return err
}

func (b *Bridge) SetStatus(ctx context.Context, text string, visible bool) error {
	_, err := b.call(ctx, "setStatus", text, visible)
	return err
}

func (b *Bridge) SetHelp(ctx context.Context, visible bool) error {
	_, err := b.call(ctx, "setHelp", visible)
	return err
}

func (b *Bridge) Notify(ctx context.Context, text string, isError bool) error {
	_, err := b.call(ctx, "notify", text, isError)
	return err
}

func (b *Bridge) Clear(ctx context.Context) error {
	_, err := b.call(ctx, "clear")
	return err
}

// Input

func (b *Bridge) AttachSelection(ctx context.Context) error {
	b.mu.Lock()
	b.selecting = true
	b.mu.Unlock()
	_, err := b.call(ctx, "attachSelection")
	return err
}

func (b *Bridge) DetachSelection(ctx context.Context) error {
	b.mu.Lock()
	b.selecting = false
	b.mu.Unlock()
	_, err := b.call(ctx, "detachSelection")
	return err
}

func (b *Bridge) AttachHotkey(ctx context.Context) error {
	if b.hotkey == nil {
		return nil
	}
	b.mu.Lock()
	b.hotkeyOn = true
	b.mu.Unlock()
	_, err := b.call(ctx, "attachHotkey", hotkeyArg(*b.hotkey))
	return err
}

func (b *Bridge) DetachHotkey(ctx context.Context) error {
	b.mu.Lock()
	b.hotkeyOn = false
	b.mu.Unlock()
	_, err := b.call(ctx, "detachHotkey")
	return err
}

func hotkeyArg(h session.HotkeySpec) map[string]interface{} {
	return map[string]interface{}{
		"alt":   h.Alt,
		"shift": h.Shift,
		"ctrl":  h.Ctrl,
		"meta":  h.Meta,
		"code":  h.Code,
		"key":   h.Key,
	}
}

var (
	_ page.DOM           = (*Bridge)(nil)
	_ page.ComponentTree = (*Bridge)(nil)
	_ page.Overlay       = (*Bridge)(nil)
	_ page.Input         = (*Bridge)(nil)
)
