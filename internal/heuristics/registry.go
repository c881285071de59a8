// Package heuristics turns raw page signals into best-effort guesses about the
// application: which router framework renders the page, which route pattern
// the URL matches, and how the owning component loads its data.
//
// Strategies are plain functions kept in ordered lists. A Registry is read-only
// after construction and safe for concurrent use.
package heuristics

import (
	"strings"

	"grabctx-mcp-server/internal/bundle"
)

// Framework tags reported in FrameworkDetectionResult.Framework.
const (
	FrameworkNextApp        = "next-app"
	FrameworkNextPages      = "next-pages"
	FrameworkReactRouter    = "react-router"
	FrameworkTanstackRouter = "tanstack-router"
	FrameworkUnknown        = "unknown"
)

// Data-source hint kinds.
const (
	DataReactQuery = "react-query-like"
	DataSWR        = "swr-like"
	DataRedux      = "redux-like"
	DataUnknown    = "unknown"
)

// FrameworkInput is what a framework strategy gets to look at.
type FrameworkInput struct {
	Slice *bundle.ComponentTreeSlice
	Path  string
}

// FrameworkStrategy returns nil to defer to the next strategy.
type FrameworkStrategy func(FrameworkInput) *bundle.FrameworkDetectionResult

// DataSourceStrategy receives lower-cased prop names of the owner component.
type DataSourceStrategy func(names []string) []bundle.DataSourceHint

// Registry holds the ordered strategy lists.
type Registry struct {
	frameworks  []FrameworkStrategy
	dataSources []DataSourceStrategy
}

// NewRegistry copies the given lists; later changes by the caller are not seen.
func NewRegistry(frameworks []FrameworkStrategy, dataSources []DataSourceStrategy) *Registry {
	return &Registry{
		frameworks:  append([]FrameworkStrategy(nil), frameworks...),
		dataSources: append([]DataSourceStrategy(nil), dataSources...),
	}
}

// Default returns a registry with the bundled strategies.
func Default() *Registry {
	return NewRegistry(
		[]FrameworkStrategy{NextLike},
		[]DataSourceStrategy{CommonDataLibraries},
	)
}

// DetectFramework returns the first non-nil strategy result, or an unknown
// result with empty structures.
func (r *Registry) DetectFramework(in FrameworkInput) bundle.FrameworkDetectionResult {
	for _, detect := range r.frameworks {
		if res := detect(in); res != nil {
			out := *res
			if out.Framework == "" {
				out.Framework = FrameworkUnknown
			}
			if out.RouteParams == nil {
				out.RouteParams = map[string]string{}
			}
			if out.Layouts == nil {
				out.Layouts = []bundle.SourceLocation{}
			}
			return out
		}
	}
	return bundle.FrameworkDetectionResult{
		Framework:   FrameworkUnknown,
		RouteParams: map[string]string{},
		Layouts:     []bundle.SourceLocation{},
	}
}

// DetectDataSources concatenates the hints of every strategy. The result is
// never empty: a lone unknown hint stands in when nothing matched.
func (r *Registry) DetectDataSources(names []string) []bundle.DataSourceHint {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}

	var hints []bundle.DataSourceHint
	for _, detect := range r.dataSources {
		hints = append(hints, detect(lowered)...)
	}
	if len(hints) == 0 {
		return []bundle.DataSourceHint{{Kind: DataUnknown}}
	}
	return hints
}

// CommonDataLibraries recognizes prop shapes left by popular data libraries.
func CommonDataLibraries(names []string) []bundle.DataSourceHint {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}

	var hints []bundle.DataSourceHint
	if set["data"] && set["isloading"] && set["error"] {
		hints = append(hints, bundle.DataSourceHint{Kind: DataReactQuery, Reason: "props data, isLoading and error"})
	}
	if n, ok := firstContaining(names, "swr"); ok {
		hints = append(hints, bundle.DataSourceHint{Kind: DataSWR, Reason: "prop " + n})
	}
	if n, ok := firstContaining(names, "selector"); ok {
		hints = append(hints, bundle.DataSourceHint{Kind: DataRedux, Reason: "prop " + n})
	}
	return hints
}

func firstContaining(names []string, sub string) (string, bool) {
	for _, n := range names {
		if strings.Contains(n, sub) {
			return n, true
		}
	}
	return "", false
}
