package session

import (
	"context"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"
)

// State of the selection controller.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StateSending   State = "sending"
)

// Phase of a finalize run.
type Phase string

const (
	PhaseCapturing  Phase = "capturing"
	PhaseDelivering Phase = "delivering"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Progress is one update from a finalize or redeliver run.
type Progress struct {
	Phase     Phase  `json:"phase"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// ProgressReporter receives progress updates. Calls may come from worker
// goroutines.
type ProgressReporter interface {
	Report(Progress)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(Progress)

func (f ProgressFunc) Report(p Progress) { f(p) }

// MultiProgress fans a report out to several reporters.
type MultiProgress []ProgressReporter

func (m MultiProgress) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}

// Inspector builds the context for one element.
type Inspector interface {
	Inspect(ctx context.Context, ref page.Ref) (*bundle.ElementContext, error)
}

// Observer is told about every session built by the controller, before it
// is delivered.
type Observer interface {
	SessionCaptured(ctx context.Context, s *bundle.SelectionSession, rendered string)
}
