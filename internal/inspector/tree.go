package inspector

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/page"
)

// Snapshot bounds for owner inputs.
const (
	maxSnapshotEntries = 12
	maxSnapshotDepth   = 2
	maxSnapshotArray   = 5
	maxSnapshotKeys    = 8
	maxSnapshotString  = 120
)

// truncatedKey marks a map that lost entries to the bounds above.
const truncatedKey = "…"

type treeResult struct {
	react      *bundle.ReactContext
	hostProps  map[string]any
	ownerName  string
	ownerProps map[string]any
}

func (t treeResult) ownerPropNames() []string {
	names := make([]string, 0, len(t.ownerProps))
	for k := range t.ownerProps {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (i *Inspector) componentTree(ctx context.Context, ref page.Ref) treeResult {
	res := treeResult{react: &bundle.ReactContext{Mode: i.mode}}
	if i.tree == nil {
		res.react.Status = bundle.TreeHookNotInstalled
		return res
	}

	status, ok := guard("probe", func() (bundle.TreeStatus, error) { return i.tree.Probe(ctx) })
	switch {
	case !ok:
		res.react.Status = bundle.TreeInternalError
		return res
	case status != bundle.TreeOK:
		res.react.Status = status
		return res
	}

	fiber, ok := guard("fiber", func() (page.Fiber, error) { return i.tree.FiberFor(ctx, ref) })
	if !ok {
		res.react.Status = bundle.TreeInternalError
		return res
	}
	if !fiber.Valid() {
		res.react.Status = bundle.TreeNoMatch
		return res
	}
	res.react.Status = bundle.TreeOK
	if i.mode == config.InspectorModeOff {
		return res
	}

	raw, ok := guard("frames", func() ([]page.RawFrame, error) { return i.tree.Frames(ctx, fiber, i.maxFrames) })
	if !ok {
		res.react.Status = bundle.TreeInternalError
		return res
	}
	if len(raw) == 0 {
		res.react.Status = bundle.TreeNoMatch
		return res
	}
	if len(raw) > i.maxFrames {
		raw = raw[:i.maxFrames]
	}

	mode, ok := guard("build mode", func() (page.BuildMode, error) { return i.tree.BuildMode(ctx) })
	if !ok {
		mode = page.BuildUnknown
	}

	slice := &bundle.ComponentTreeSlice{Frames: make([]bundle.ComponentFrame, len(raw))}
	for idx, rf := range raw {
		frame := bundle.ComponentFrame{Name: rf.Name, Kind: rf.Kind, Flags: rf.Flags}
		if frame.Name == "" {
			frame.Name = "Anonymous"
		}
		if src, ok := guard("source", func() (*page.RawSource, error) { return i.tree.Source(ctx, rf.Fiber) }); ok {
			frame.Source = resolveSource(src, mode)
		}
		slice.Frames[idx] = frame

		if slice.OwnerIndex == nil && isComponent(rf) {
			owner := idx
			slice.OwnerIndex = &owner
		}
	}

	if host := raw[0]; host.Kind == bundle.FrameHost {
		if in, ok := guard("host inputs", func() (*page.Inputs, error) { return i.tree.Inputs(ctx, host.Fiber) }); ok && in != nil {
			res.hostProps = in.Props
		}
	}
	if owner := slice.Owner(); owner != nil {
		ownerFiber := raw[*slice.OwnerIndex].Fiber
		res.ownerName = owner.Name
		if in, ok := guard("owner inputs", func() (*page.Inputs, error) { return i.tree.Inputs(ctx, ownerFiber) }); ok && in != nil {
			res.ownerProps = in.Props
			owner.Owner = &bundle.OwnerSnapshot{
				Props:   snapshotMap(in.Props),
				State:   snapshotList(in.State),
				Context: snapshotMap(in.Context),
			}
		}
	}

	res.react.Slice = slice
	return res
}

// resolveSource grades a raw location by build mode. A missing file means
// there is nothing to point at, which is graded none regardless of mode.
func resolveSource(src *page.RawSource, mode page.BuildMode) *bundle.SourceLocation {
	if src == nil {
		return nil
	}
	loc := &bundle.SourceLocation{
		File:   src.File,
		Line:   src.Line,
		Column: src.Column,
		Origin: src.Origin,
	}
	loc.Confidence = confidenceFor(mode, src.File != "")
	return loc
}

func confidenceFor(mode page.BuildMode, located bool) bundle.Confidence {
	if !located {
		return bundle.ConfidenceNone
	}
	switch mode {
	case page.BuildDevelopment:
		return bundle.ConfidenceHigh
	case page.BuildProduction:
		return bundle.ConfidenceLow
	default:
		return bundle.ConfidenceMedium
	}
}

func snapshotMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return boundedMap(m, maxSnapshotEntries, 1)
}

func snapshotList(s []any) []any {
	if len(s) == 0 {
		return nil
	}
	return boundedList(s, maxSnapshotEntries, 1)
}

// snapshotValue copies v, collapsing containers nested deeper than
// maxSnapshotDepth into a short description.
func snapshotValue(v any, depth int) any {
	switch val := v.(type) {
	case nil, bool, float64, int, int64:
		return val
	case string:
		if utf8.RuneCountInString(val) > maxSnapshotString {
			return string([]rune(val)[:maxSnapshotString]) + "…"
		}
		return val
	case page.Func:
		return val.String()
	case *page.Func:
		return val.String()
	case map[string]any:
		if depth > maxSnapshotDepth {
			return "[Object]"
		}
		return boundedMap(val, maxSnapshotKeys, depth+1)
	case []any:
		if depth > maxSnapshotDepth {
			return fmt.Sprintf("[Array(%d)]", len(val))
		}
		return boundedList(val, maxSnapshotArray, depth+1)
	default:
		return fmt.Sprint(val)
	}
}

func boundedMap(m map[string]any, limit, depth int) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, min(len(keys), limit)+1)
	for idx, k := range keys {
		if idx == limit {
			out[truncatedKey] = fmt.Sprintf("+%d more", len(keys)-limit)
			break
		}
		out[k] = snapshotValue(m[k], depth)
	}
	return out
}

func boundedList(s []any, limit, depth int) []any {
	n := min(len(s), limit)
	out := make([]any, 0, n+1)
	for _, v := range s[:n] {
		out = append(out, snapshotValue(v, depth))
	}
	if len(s) > limit {
		out = append(out, fmt.Sprintf("… +%d more", len(s)-limit))
	}
	return out
}

// isComponent reports whether a frame is a user component. Suspense
// boundaries are composite fibers but never own the element.
func isComponent(rf page.RawFrame) bool {
	if rf.Kind != bundle.FrameComposite {
		return false
	}
	return rf.Flags.Suspense == nil || !*rf.Flags.Suspense
}
