// Package session drives the interactive selection: it turns key, pointer
// and viewport events into a selection set, and on finalize captures every
// selected element concurrently, renders the session and hands it to a sink.
//
// States are idle, selecting and sending. A help panel may be toggled while
// selecting. Leaving sending is unconditional: whatever happens during
// capture or delivery, the controller ends up idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"
	"grabctx-mcp-server/internal/pool"
	"grabctx-mcp-server/internal/prompt"
	"grabctx-mcp-server/internal/sink"

	"github.com/google/uuid"
)

var (
	// ErrNothingSelected is returned when finalize finds no connected
	// selection and no hovered element to fall back to.
	ErrNothingSelected = errors.New("nothing selected")
	// ErrCaptureFailed is returned when not a single element could be captured.
	ErrCaptureFailed = errors.New("no element could be captured")
	// ErrDeliveryFailed wraps sink errors. The session stays available for Redeliver.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrNoSession is returned by Redeliver before any session was captured.
	ErrNoSession = errors.New("no session captured yet")
	// ErrBusy is returned when an operation needs a state the controller is not in.
	ErrBusy = errors.New("selection controller busy")
	// ErrDisposed is returned after Dispose.
	ErrDisposed = errors.New("selection controller disposed")
)

// Event classes coalesced to one run per frame.
const (
	classHover    = "hover"
	classViewport = "viewport"
)

// Options wires a Controller to its collaborators. DOM, Overlay, Input,
// Inspector and Sink are required.
type Options struct {
	DOM       page.DOM
	Overlay   page.Overlay
	Input     page.Input
	Inspector Inspector
	Sink      sink.Sink

	Progress  ProgressReporter
	Observers []Observer
	Scheduler FrameScheduler
	// Hotkey toggles selection; nil disables the global toggle.
	Hotkey *HotkeySpec
	// Concurrency bounds in-flight inspections; <= 0 inspects all at once.
	Concurrency int

	Now   func() time.Time
	NewID func() string
}

// Controller owns the single active selection. All methods are safe for
// concurrent use; events from the page arrive on bridge goroutines.
type Controller struct {
	opts  Options
	ctx   context.Context
	stop  context.CancelFunc
	frame *coalescer

	mu           sync.Mutex
	state        State
	help         bool
	disposed     bool
	hovered      page.Ref
	pendingHover page.Ref
	selected     []page.Ref
	instruction  string
	last         *bundle.SelectionSession
	lastText     string

	wg sync.WaitGroup
}

// New builds an idle controller. ctx bounds every page call the controller
// makes on its own behalf; Dispose cancels it.
func New(ctx context.Context, opts Options) (*Controller, error) {
	switch {
	case opts.DOM == nil:
		return nil, errors.New("session: DOM accessor is required")
	case opts.Overlay == nil:
		return nil, errors.New("session: overlay is required")
	case opts.Input == nil:
		return nil, errors.New("session: input is required")
	case opts.Inspector == nil:
		return nil, errors.New("session: inspector is required")
	case opts.Sink == nil:
		return nil, errors.New("session: sink is required")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TimerScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Progress == nil {
		opts.Progress = ProgressFunc(func(Progress) {})
	}

	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		opts:  opts,
		ctx:   cctx,
		stop:  cancel,
		frame: newCoalescer(opts.Scheduler),
		state: StateIdle,
	}, nil
}

// Attach starts listening for the global hotkey, when one is configured.
func (c *Controller) Attach() error {
	if c.opts.Hotkey == nil {
		return nil
	}
	return c.opts.Input.AttachHotkey(c.ctx)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HelpVisible reports whether the help panel is shown.
func (c *Controller) HelpVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.help
}

// Hovered returns the element under the pointer, if any.
func (c *Controller) Hovered() page.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hovered
}

// Selected returns the connected part of the selection.
func (c *Controller) Selected() []page.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.liveSelectionLocked())
}

// Start enters selecting. Starting while already selecting is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.disposed:
		return ErrDisposed
	case c.state == StateSending:
		return ErrBusy
	case c.state == StateSelecting:
		return nil
	}
	return c.startLocked()
}

// Cancel returns to idle from selecting, exactly like Escape.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSelecting {
		return ErrBusy
	}
	c.resetLocked()
	return nil
}

// SetInstruction stores free text attached to the next captured session.
func (c *Controller) SetInstruction(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruction = text
}

// LastSession returns the latest captured session and its rendering.
func (c *Controller) LastSession() (*bundle.SelectionSession, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil, "", false
	}
	return c.last, c.lastText, true
}

// Wait blocks until background finalize runs started by Enter complete.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Dispose resets the controller, stops the hotkey listener and waits for
// any in-flight finalize.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	if c.state == StateSelecting {
		c.resetLocked()
	}
	c.mu.Unlock()

	c.wg.Wait()
	if c.opts.Hotkey != nil {
		if err := c.opts.Input.DetachHotkey(c.ctx); err != nil {
			log.Printf("[selection] detach hotkey: %v", err)
		}
	}
	c.stop()
}

// HandleKey processes a keydown forwarded from the page.
func (c *Controller) HandleKey(ev page.KeyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	if hk := c.opts.Hotkey; hk != nil && hk.Matches(ev) {
		switch c.state {
		case StateIdle:
			if err := c.startLocked(); err != nil {
				log.Printf("[selection] start: %v", err)
			}
		case StateSelecting:
			c.resetLocked()
		}
		// Ignored while sending.
		return
	}

	if c.state != StateSelecting || ev.Ctrl || ev.Meta {
		return
	}
	switch ev.Key {
	case "Escape":
		c.resetLocked()
	case "Enter":
		targets, err := c.beginFinalizeLocked()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := c.runFinalize(c.ctx, targets, err); err != nil {
				log.Printf("[selection] finalize: %v", err)
			}
		}()
	case "Backspace":
		live := c.liveSelectionLocked()
		if len(live) > 0 {
			c.selected = live[:len(live)-1]
			c.renderSelectionLocked()
		}
	case "x":
		c.selected = nil
		c.renderSelectionLocked()
	case "ArrowUp", "p":
		c.climbLocked()
	case "?", "h":
		c.help = !c.help
		c.overlay("help", func(ctx context.Context) error { return c.opts.Overlay.SetHelp(ctx, c.help) })
	}
}

// HandlePointerMove records the element under the pointer. The hover box
// is updated at most once per frame, for the latest target.
func (c *Controller) HandlePointerMove(target page.Ref) {
	c.mu.Lock()
	if c.state != StateSelecting {
		c.mu.Unlock()
		return
	}
	c.pendingHover = target
	c.mu.Unlock()

	c.frame.Request(classHover, c.flushHover)
}

func (c *Controller) flushHover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSelecting {
		return
	}
	target := c.pendingHover
	if !target.Valid() || c.opts.DOM.IsOverlayRoot(c.ctx, target) || !c.opts.DOM.Connected(c.ctx, target) {
		return
	}
	c.hovered = target
	c.renderHoverLocked()
}

// HandleViewportChange recomputes every box on the next frame.
func (c *Controller) HandleViewportChange() {
	c.mu.Lock()
	if c.state != StateSelecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.frame.Request(classViewport, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateSelecting {
			return
		}
		c.renderHoverLocked()
		c.renderSelectionLocked()
	})
}

// HandleClick replaces the selection, or toggles membership when shift,
// ctrl or meta is held.
func (c *Controller) HandleClick(ev page.ClickEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSelecting || ev.Button != 0 {
		return
	}
	target := ev.Target
	if !target.Valid() || c.opts.DOM.IsOverlayRoot(c.ctx, target) || !c.opts.DOM.Connected(c.ctx, target) {
		return
	}

	live := c.liveSelectionLocked()
	if ev.Modifiers.Any() {
		if i := slices.Index(live, target); i >= 0 {
			c.selected = slices.Delete(live, i, i+1)
		} else {
			c.selected = append(live, target)
		}
	} else {
		c.selected = []page.Ref{target}
	}
	c.renderSelectionLocked()
}

// Finalize captures the current selection (or the hovered element) and
// delivers it. It returns the session even when delivery fails.
func (c *Controller) Finalize(ctx context.Context) (*bundle.SelectionSession, error) {
	c.mu.Lock()
	if c.state != StateSelecting {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	targets, err := c.beginFinalizeLocked()
	c.mu.Unlock()
	return c.runFinalize(ctx, targets, err)
}

// Redeliver sends the last rendered session to the sink again.
func (c *Controller) Redeliver(ctx context.Context) error {
	c.mu.Lock()
	text, s := c.lastText, c.last
	c.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	total := len(s.Elements)
	c.report(PhaseDelivering, total, total, "Redelivering session "+s.ID)
	if err := c.opts.Sink.Deliver(ctx, text); err != nil {
		c.report(PhaseError, total, total, "Delivery failed: "+err.Error())
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	c.report(PhaseDone, total, total, "Redelivered session "+s.ID)
	return nil
}

func (c *Controller) startLocked() error {
	c.state = StateSelecting
	c.hovered = 0
	c.pendingHover = 0
	c.selected = nil
	c.help = false
	if err := c.opts.Input.AttachSelection(c.ctx); err != nil {
		c.state = StateIdle
		return fmt.Errorf("attach selection listeners: %w", err)
	}
	c.renderStatusLocked()
	log.Printf("[selection] started")
	return nil
}

func (c *Controller) resetLocked() {
	c.state = StateIdle
	c.hovered = 0
	c.pendingHover = 0
	c.selected = nil
	c.help = false
	if err := c.opts.Input.DetachSelection(c.ctx); err != nil {
		log.Printf("[selection] detach selection listeners: %v", err)
	}
	c.overlay("clear", func(ctx context.Context) error { return c.opts.Overlay.Clear(ctx) })
}

// beginFinalizeLocked moves to sending and picks the elements to capture.
// A non-nil error means there is nothing to capture; runFinalize still has
// to run so the controller returns to idle.
func (c *Controller) beginFinalizeLocked() ([]page.Ref, error) {
	targets := slices.Clone(c.liveSelectionLocked())
	if len(targets) == 0 && c.hovered.Valid() && c.opts.DOM.Connected(c.ctx, c.hovered) {
		targets = []page.Ref{c.hovered}
	}

	c.state = StateSending
	c.help = false
	if err := c.opts.Input.DetachSelection(c.ctx); err != nil {
		log.Printf("[selection] detach selection listeners: %v", err)
	}
	c.overlay("help", func(ctx context.Context) error { return c.opts.Overlay.SetHelp(ctx, false) })
	c.overlay("hover", func(ctx context.Context) error { return c.opts.Overlay.HideHover(ctx) })

	if len(targets) == 0 {
		return nil, ErrNothingSelected
	}
	return targets, nil
}

func (c *Controller) runFinalize(ctx context.Context, targets []page.Ref, pre error) (session *bundle.SelectionSession, err error) {
	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.hovered = 0
		c.pendingHover = 0
		c.selected = nil
		c.overlay("clear", func(ctx context.Context) error { return c.opts.Overlay.Clear(ctx) })
		c.mu.Unlock()
	}()

	if pre != nil {
		c.fail(0, 0, "Nothing selected")
		return nil, pre
	}

	// Once sending has begun the batch runs to completion.
	ctx = context.WithoutCancel(ctx)

	total := len(targets)
	c.report(PhaseCapturing, 0, total, fmt.Sprintf("Capturing %d element(s)", total))

	var done atomic.Int32
	results, err := pool.Map(ctx, targets, c.opts.Concurrency, func(ctx context.Context, _ int, ref page.Ref) (*bundle.ElementContext, error) {
		ec, err := c.opts.Inspector.Inspect(ctx, ref)
		n := int(done.Add(1))
		c.report(PhaseCapturing, n, total, fmt.Sprintf("Captured %d/%d", n, total))
		if err != nil {
			log.Printf("[selection] capture %s: %v", ref, err)
			return nil, nil
		}
		return ec, nil
	})
	if err != nil {
		c.fail(int(done.Load()), total, "Capture failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	elements := make([]bundle.ElementContext, 0, total)
	for _, ec := range results {
		if ec != nil {
			elements = append(elements, *ec)
		}
	}
	if len(elements) == 0 {
		c.fail(total, total, "No element could be captured")
		return nil, ErrCaptureFailed
	}

	session = c.buildSession(ctx, elements, total)
	text := prompt.RenderSession(session)

	c.mu.Lock()
	c.last, c.lastText = session, text
	c.mu.Unlock()

	for _, o := range c.opts.Observers {
		o.SessionCaptured(ctx, session, text)
	}

	c.report(PhaseDelivering, len(elements), total, "Delivering session")
	if err := c.opts.Sink.Deliver(ctx, text); err != nil {
		c.fail(len(elements), total, "Delivery failed: "+err.Error())
		return session, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	c.report(PhaseDone, len(elements), total, session.Summary)
	c.overlay("notify", func(ctx context.Context) error { return c.opts.Overlay.Notify(ctx, session.Summary, false) })
	return session, nil
}

func (c *Controller) buildSession(ctx context.Context, elements []bundle.ElementContext, attempted int) *bundle.SelectionSession {
	href, err := c.opts.DOM.Location(ctx)
	if err != nil {
		log.Printf("[selection] location: %v", err)
	}

	c.mu.Lock()
	var instruction *string
	if c.instruction != "" {
		text := c.instruction
		instruction = &text
		c.instruction = ""
	}
	c.mu.Unlock()

	return &bundle.SelectionSession{
		ID:          c.opts.NewID(),
		CreatedAt:   c.opts.Now().UnixMilli(),
		URL:         href,
		Instruction: instruction,
		Summary:     summarize(len(elements), attempted, href),
		Elements:    elements,
	}
}

func summarize(captured, attempted int, href string) string {
	noun := "elements"
	if attempted == 1 {
		noun = "element"
	}
	s := fmt.Sprintf("Captured %d of %d %s", captured, attempted, noun)
	if href != "" {
		s += " on " + href
	}
	if failed := attempted - captured; failed > 0 {
		s += fmt.Sprintf(" (%d failed)", failed)
	}
	return s
}

func (c *Controller) fail(completed, total int, msg string) {
	c.report(PhaseError, completed, total, msg)
	c.overlay("notify", func(ctx context.Context) error { return c.opts.Overlay.Notify(ctx, msg, true) })
}

func (c *Controller) report(phase Phase, completed, total int, msg string) {
	c.opts.Progress.Report(Progress{Phase: phase, Completed: completed, Total: total, Message: msg})
}

// liveSelectionLocked drops detached elements from the selection.
func (c *Controller) liveSelectionLocked() []page.Ref {
	live := c.selected[:0:0]
	for _, ref := range c.selected {
		if c.opts.DOM.Connected(c.ctx, ref) {
			live = append(live, ref)
		}
	}
	c.selected = live
	return live
}

func (c *Controller) climbLocked() {
	if !c.hovered.Valid() {
		return
	}
	parent, ok := c.opts.DOM.Parent(c.ctx, c.hovered)
	if !ok || !parent.Valid() || c.opts.DOM.IsOverlayRoot(c.ctx, parent) {
		return
	}
	c.hovered = parent
	c.renderHoverLocked()
}

func (c *Controller) renderHoverLocked() {
	if !c.hovered.Valid() {
		return
	}
	rect, ok := c.opts.DOM.Rect(c.ctx, c.hovered)
	if !ok {
		c.hovered = 0
		c.overlay("hover", func(ctx context.Context) error { return c.opts.Overlay.HideHover(ctx) })
		return
	}
	label := c.hovered.String()
	if el, err := c.opts.DOM.Describe(c.ctx, c.hovered); err == nil && el != nil {
		label = el.Tag
		if el.ID != "" {
			label += "#" + el.ID
		}
	}
	c.overlay("hover", func(ctx context.Context) error { return c.opts.Overlay.ShowHover(ctx, rect, label) })
}

func (c *Controller) renderSelectionLocked() {
	live := c.liveSelectionLocked()
	rects := make([]bundle.Rect, 0, len(live))
	for _, ref := range live {
		if r, ok := c.opts.DOM.Rect(c.ctx, ref); ok {
			rects = append(rects, r)
		}
	}
	c.overlay("selection", func(ctx context.Context) error { return c.opts.Overlay.SetSelection(ctx, rects) })
	c.renderStatusLocked()
}

func (c *Controller) renderStatusLocked() {
	text := fmt.Sprintf("%d selected · Enter to send · Esc to cancel · ? for help", len(c.selected))
	c.overlay("status", func(ctx context.Context) error { return c.opts.Overlay.SetStatus(ctx, text, true) })
}

// overlay runs one rendering call; rendering failures never change state.
func (c *Controller) overlay(op string, fn func(context.Context) error) {
	if err := fn(c.ctx); err != nil {
		log.Printf("[selection] overlay %s: %v", op, err)
	}
}
