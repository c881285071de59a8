package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"grabctx-mcp-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNotConnected is returned by page operations before Start succeeds.
var ErrNotConnected = errors.New("browser not connected")

// PageInfo describes one open tab.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Internal bool   `json:"internal,omitempty"`
	Active   bool   `json:"active,omitempty"`
}

// SessionManager owns the Chrome connection and the page selection runs on.
type SessionManager struct {
	cfg config.BrowserConfig

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	launched   bool
	active     *rod.Page
}

func NewSessionManager(cfg config.BrowserConfig) *SessionManager {
	return &SessionManager{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		log.Printf("[browser] stale connection detected, reconnecting")
		m.browser = nil
		m.controlURL = ""
		m.active = nil
	}

	controlURL := m.cfg.DebuggerURL
	launched := false
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
		launched = true
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.launched = launched
	log.Printf("[browser] connected at %s", controlURL)
	return nil
}

func (m *SessionManager) launch() (string, error) {
	bin := m.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
	for _, raw := range m.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Let Rod pick the port and defaults when the configured flags fail.
	alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes a browser we launched. An attached browser belongs to the
// user and is only released.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil && m.launched {
		err = m.browser.Close()
	}
	m.browser = nil
	m.active = nil
	m.controlURL = ""
	log.Printf("[browser] shutdown complete")
	return err
}

// Pages lists open tabs.
func (m *SessionManager) Pages(ctx context.Context) ([]PageInfo, error) {
	m.mu.RLock()
	browser, active := m.browser, m.active
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	pages, err := browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	out := make([]PageInfo, 0, len(pages))
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		out = append(out, PageInfo{
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
			Internal: isInternalURL(info.URL),
			Active:   active != nil && active.TargetID == p.TargetID,
		})
	}
	return out, nil
}

// ActivePage returns the page selection runs on. On first use it picks the
// first regular tab, falling back to any tab and finally to a new one at
// the configured start URL.
func (m *SessionManager) ActivePage(ctx context.Context) (*rod.Page, error) {
	m.mu.RLock()
	browser, active := m.browser, m.active
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}
	if active != nil {
		return active, nil
	}

	// Pages keep the browser's context; request contexts end too early.
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	var chosen *rod.Page
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		if !isInternalURL(info.URL) {
			chosen = p
			break
		}
		if chosen == nil {
			chosen = p
		}
	}
	if chosen == nil {
		return m.Open(m.cfg.StartURL)
	}
	return m.setActive(chosen), nil
}

// Attach makes an existing tab the active page.
func (m *SessionManager) Attach(targetID string) (*rod.Page, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	p, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	return m.setActive(p), nil
}

// Open creates a visible tab at url and makes it the active page.
func (m *SessionManager) Open(url string) (*rod.Page, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}
	if url == "" {
		url = "about:blank"
	}

	p, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// A slow first load is not fatal; the runtime is injected on every document.
	if err := p.Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		log.Printf("[browser] wait load %s: %v", url, err)
	}
	return m.setActive(p), nil
}

func (m *SessionManager) setActive(p *rod.Page) *rod.Page {
	m.mu.Lock()
	m.active = p
	m.mu.Unlock()
	return p
}

func isInternalURL(url string) bool {
	internalPrefixes := []string{
		"chrome://",
		"chrome-extension://",
		"devtools://",
		"about:",
		"data:",
		"blob:",
	}
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
