// Package recorder writes a JSONL trace of selection activity: every
// progress update and a digest of every captured session. Only the newest
// few traces are kept.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/prompt"
	"grabctx-mcp-server/internal/session"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Event types written to the trace.
const (
	EventProgress = "progress"
	EventSession  = "session"
)

// Event is one line of the trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// SessionDigest is what the trace keeps of a session; the full rendering
// goes to the sinks.
type SessionDigest struct {
	URL      string   `json:"url"`
	Summary  string   `json:"summary"`
	Checksum string   `json:"checksum"`
	Elements []string `json:"elements"`
	Bytes    int      `json:"bytes"`
}

// Recorder appends events to the current trace file.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	runID    string
	now      func() time.Time
}

// NewRecorder creates the trace directory if needed.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, now: time.Now}, nil
}

// Start opens a new trace named after runID (a fresh uuid when empty),
// rotating out the oldest traces.
func (r *Recorder) Start(runID string) error {
	if runID == "" {
		runID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}
	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%013d_%s.jsonl", r.now().UnixMilli(), runID)
	f, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	r.encoder.SetEscapeHTML(false)
	r.runID = runID
	return nil
}

// RunID identifies the current trace.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Log writes one event. It is a no-op before Start or after Close.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: r.now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}

// Report records a progress update.
func (r *Recorder) Report(p session.Progress) {
	r.Log(EventProgress, "", p)
}

// SessionCaptured records a digest of the session.
func (r *Recorder) SessionCaptured(_ context.Context, s *bundle.SelectionSession, rendered string) {
	ids := make([]string, len(s.Elements))
	for i := range s.Elements {
		ids[i] = prompt.ElementID(&s.Elements[i])
	}
	r.Log(EventSession, s.ID, SessionDigest{
		URL:      s.URL,
		Summary:  s.Summary,
		Checksum: prompt.Checksum(s),
		Elements: ids,
		Bytes:    len(rendered),
	})
}

// rotate keeps the newest MaxRotatedFiles-1 traces to make room for one more.
// Trace names start with a zero-padded timestamp, so name order is age order.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}
	var traces []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || !strings.HasPrefix(e.Name(), "trace_") {
			continue
		}
		traces = append(traces, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(traces)))

	keep := MaxRotatedFiles - 1
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i]))
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.encoder = nil, nil
	return err
}
