package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"grabctx-mcp-server/internal/browser"
	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/inspector"
	"grabctx-mcp-server/internal/page"
	"grabctx-mcp-server/internal/session"
	"grabctx-mcp-server/internal/sink"

	"github.com/go-rod/rod"
)

var errPipelineClosed = errors.New("selection pipeline closed")

// stage is a connected page with its controller.
type stage struct {
	bridge    *browser.Bridge
	inspector *inspector.Inspector
	ctrl      *session.Controller
}

func (s *stage) close() {
	s.ctrl.Dispose()
	if err := s.bridge.Close(); err != nil {
		log.Printf("[pipeline] close bridge: %v", err)
	}
}

// pipeline builds the browser side on first use and forwards the selection
// surface to the controller. Until then it reports idle.
type pipeline struct {
	ctx   context.Context
	build func(ctx context.Context) (*stage, error)

	mu          sync.Mutex
	stage       *stage
	instruction string
	closed      bool
}

func newPipeline(ctx context.Context, build func(ctx context.Context) (*stage, error)) *pipeline {
	return &pipeline{ctx: ctx, build: build}
}

func (p *pipeline) ensure() (*stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errPipelineClosed
	}
	if p.stage != nil {
		return p.stage, nil
	}
	st, err := p.build(p.ctx)
	if err != nil {
		return nil, err
	}
	if p.instruction != "" {
		st.ctrl.SetInstruction(p.instruction)
	}
	p.stage = st
	return st, nil
}

func (p *pipeline) current() *stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

func (p *pipeline) State() session.State {
	if st := p.current(); st != nil {
		return st.ctrl.State()
	}
	return session.StateIdle
}

func (p *pipeline) Selected() []page.Ref {
	if st := p.current(); st != nil {
		return st.ctrl.Selected()
	}
	return nil
}

func (p *pipeline) Start() error {
	st, err := p.ensure()
	if err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	return st.ctrl.Start()
}

func (p *pipeline) Cancel() error {
	if st := p.current(); st != nil {
		return st.ctrl.Cancel()
	}
	return session.ErrBusy
}

func (p *pipeline) SetInstruction(text string) {
	p.mu.Lock()
	p.instruction = text
	st := p.stage
	p.mu.Unlock()
	if st != nil {
		st.ctrl.SetInstruction(text)
	}
}

func (p *pipeline) Finalize(ctx context.Context) (*bundle.SelectionSession, error) {
	if st := p.current(); st != nil {
		return st.ctrl.Finalize(ctx)
	}
	return nil, session.ErrBusy
}

func (p *pipeline) Redeliver(ctx context.Context) error {
	if st := p.current(); st != nil {
		return st.ctrl.Redeliver(ctx)
	}
	return session.ErrNoSession
}

func (p *pipeline) LastSession() (*bundle.SelectionSession, string, bool) {
	if st := p.current(); st != nil {
		return st.ctrl.LastSession()
	}
	return nil, "", false
}

func (p *pipeline) Find(ctx context.Context, selector string) (page.Ref, error) {
	st, err := p.ensure()
	if err != nil {
		return 0, fmt.Errorf("connect browser: %w", err)
	}
	return st.bridge.Find(ctx, selector)
}

func (p *pipeline) Inspect(ctx context.Context, ref page.Ref) (*bundle.ElementContext, error) {
	st, err := p.ensure()
	if err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return st.inspector.Inspect(ctx, ref)
}

// Close disposes the controller and unhooks the page. Later calls fail.
func (p *pipeline) Close() {
	p.mu.Lock()
	st := p.stage
	p.stage = nil
	p.closed = true
	p.mu.Unlock()
	if st != nil {
		st.close()
	}
}

// stageBuilder connects to the browser, installs the runtime on the target
// page and wires a controller to it.
type stageBuilder struct {
	cfg       config.Config
	sessions  *browser.SessionManager
	target    string
	hotkey    *session.HotkeySpec
	sink      sink.Sink
	progress  session.ProgressReporter
	observers []session.Observer
}

func (b stageBuilder) build(ctx context.Context) (*stage, error) {
	if err := b.sessions.Start(ctx); err != nil {
		return nil, err
	}

	var (
		target *rod.Page
		err    error
	)
	if b.target != "" {
		target, err = b.sessions.Attach(b.target)
	} else {
		target, err = b.sessions.ActivePage(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("select page: %w", err)
	}

	bridge := browser.NewBridge(target, b.hotkey, b.cfg.Browser.EvaluationTimeout())
	if err := bridge.Install(ctx); err != nil {
		return nil, err
	}

	insp, err := inspector.New(bridge, bridge, b.cfg.Inspector, nil)
	if err != nil {
		_ = bridge.Close()
		return nil, err
	}

	ctrl, err := session.New(ctx, session.Options{
		DOM:         bridge,
		Overlay:     bridge,
		Input:       bridge,
		Inspector:   insp,
		Sink:        b.sink,
		Progress:    b.progress,
		Observers:   b.observers,
		Scheduler:   session.TimerScheduler{Interval: b.cfg.Selection.FrameDuration()},
		Hotkey:      b.hotkey,
		Concurrency: b.cfg.Selection.Workers(),
	})
	if err != nil {
		_ = bridge.Close()
		return nil, err
	}
	bridge.Bind(ctrl)
	if err := ctrl.Attach(); err != nil {
		ctrl.Dispose()
		_ = bridge.Close()
		return nil, fmt.Errorf("attach hotkey: %w", err)
	}

	if info, err := target.Info(); err == nil {
		log.Printf("[pipeline] selection ready on %s", info.URL)
	}
	return &stage{bridge: bridge, inspector: insp, ctrl: ctrl}, nil
}

// buildSinks assembles the configured delivery targets. The returned
// websocket is non-nil when it must be started and closed by the caller.
func buildSinks(cfg config.SinksConfig) (*sink.Multi, *sink.WebSocket, error) {
	var (
		named []sink.Named
		ws    *sink.WebSocket
	)
	if cfg.Clipboard {
		named = append(named, sink.Named{Name: "clipboard", Sink: sink.NewClipboard()})
	}
	if cfg.Console {
		named = append(named, sink.Named{Name: "console", Sink: sink.NewConsole(os.Stderr)})
	}
	if cfg.File != "" {
		named = append(named, sink.Named{Name: "file", Sink: sink.File{Path: cfg.File}})
	}
	if cfg.WebSocket.Enabled {
		ws = sink.NewWebSocket(cfg.WebSocket.Path)
		named = append(named, sink.Named{Name: "websocket", Sink: ws})
	}
	if cfg.ObjectStore.Enabled {
		store, err := sink.NewObjectStore(cfg.ObjectStore)
		if err != nil {
			return nil, nil, fmt.Errorf("object store sink: %w", err)
		}
		named = append(named, sink.Named{Name: "object_store", Sink: store})
	}
	return sink.NewMulti(named...), ws, nil
}
