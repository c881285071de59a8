package sink

import (
	"context"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"grabctx-mcp-server/internal/bundle"
)

// Entry is one remembered session.
type Entry struct {
	Session  *bundle.SelectionSession
	Rendered string
}

// History keeps the most recent sessions in memory for MCP reads. It is fed
// as a session observer, before delivery, so failed deliveries are kept too.
type History struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, Entry]
	order  []string
	latest string
}

// NewHistory remembers up to size sessions.
func NewHistory(size int) (*History, error) {
	if size <= 0 {
		size = 1
	}
	h := &History{}
	cache, err := lru.NewWithEvict[string, Entry](size, func(id string, _ Entry) {
		h.forget(id)
	})
	if err != nil {
		return nil, err
	}
	h.cache = cache
	return h, nil
}

// SessionCaptured implements the session observer hook.
func (h *History) SessionCaptured(_ context.Context, s *bundle.SelectionSession, rendered string) {
	h.Add(s, rendered)
}

// Add records a session, evicting the oldest one when full.
func (h *History) Add(s *bundle.SelectionSession, rendered string) {
	if s == nil {
		return
	}
	h.mu.Lock()
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == s.ID })
	h.order = append(h.order, s.ID)
	h.latest = s.ID
	h.mu.Unlock()
	h.cache.Add(s.ID, Entry{Session: s, Rendered: rendered})
}

// Get looks a session up by id.
func (h *History) Get(id string) (Entry, bool) {
	return h.cache.Get(id)
}

// Latest returns the most recently added session.
func (h *History) Latest() (Entry, bool) {
	h.mu.Lock()
	id := h.latest
	h.mu.Unlock()
	if id == "" {
		return Entry{}, false
	}
	return h.cache.Peek(id)
}

// IDs lists remembered session ids, newest first.
func (h *History) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		out = append(out, h.order[i])
	}
	return out
}

// Len returns the number of remembered sessions.
func (h *History) Len() int { return h.cache.Len() }

func (h *History) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if h.latest == id {
		h.latest = ""
	}
}
