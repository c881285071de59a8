package heuristics

import (
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"grabctx-mcp-server/internal/bundle"
)

// NextLike reads file-system routing conventions off the component sources:
// page.* and index.* files are pages; layout.*, _app.* and _document.* files
// are layouts. Route patterns are only guessed for the Next.js tags, since
// only there does the URL mirror the file tree.
func NextLike(in FrameworkInput) *bundle.FrameworkDetectionResult {
	if in.Slice == nil {
		return nil
	}

	var (
		page    *bundle.SourceLocation
		layouts []bundle.SourceLocation
		files   []string
	)
	for _, fr := range in.Slice.Frames {
		if fr.Source == nil || fr.Source.File == "" {
			continue
		}
		file := normalizePath(fr.Source.File)
		files = append(files, file)
		if strings.Contains(file, "/node_modules/") {
			continue
		}
		switch {
		case page == nil && isPageFile(file):
			loc := *fr.Source
			page = &loc
		case isLayoutFile(file):
			layouts = append(layouts, *fr.Source)
		}
	}
	if len(files) == 0 {
		return nil
	}

	// The page file is the strongest signal, so it is checked first.
	if page != nil {
		files = append([]string{normalizePath(page.File)}, files...)
	}
	framework := frameworkFromFiles(files)
	if page == nil && len(layouts) == 0 && framework == FrameworkUnknown {
		return nil
	}

	res := &bundle.FrameworkDetectionResult{
		Framework: framework,
		Page:      page,
		Layouts:   layouts,
	}
	if framework == FrameworkNextApp || framework == FrameworkNextPages {
		res.RoutePattern, res.RouteParams = GuessRoute(in.Path)
	}
	return res
}

// GuessRoute replaces numeric segments with [idN] and segments that start
// with an upper-case letter with [paramN], returning the pattern and the
// replaced values. Camel-cased words such as "editProfile" are kept.
func GuessRoute(urlPath string) (string, map[string]string) {
	params := map[string]string{}
	if urlPath == "" {
		return "/", params
	}

	segments := strings.Split(urlPath, "/")
	ids, named := 0, 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		switch {
		case isNumeric(seg):
			ids++
			key := "id" + strconv.Itoa(ids)
			params[key] = seg
			segments[i] = "[" + key + "]"
		case startsUpper(seg):
			named++
			key := "param" + strconv.Itoa(named)
			params[key] = seg
			segments[i] = "[" + key + "]"
		}
	}
	pattern := strings.Join(segments, "/")
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return pattern, params
}

func frameworkFromFiles(files []string) string {
	rules := []struct {
		match func(string) bool
		tag   string
	}{
		{func(f string) bool { return strings.Contains(f, "/app/") }, FrameworkNextApp},
		{func(f string) bool { return strings.Contains(f, "/pages/") }, FrameworkNextPages},
		{func(f string) bool { return strings.Contains(f, "react-router") }, FrameworkReactRouter},
		{func(f string) bool { return strings.Contains(f, "tanstack") }, FrameworkTanstackRouter},
	}
	for _, rule := range rules {
		for _, f := range files {
			if rule.match(f) {
				return rule.tag
			}
		}
	}
	return FrameworkUnknown
}

func isPageFile(file string) bool {
	stem := fileStem(file)
	return stem == "page" || stem == "index"
}

func isLayoutFile(file string) bool {
	switch fileStem(file) {
	case "layout", "_app", "_document":
		return true
	}
	return false
}

// fileStem strips directory and every extension: "page.client.tsx" -> "page".
func fileStem(file string) string {
	base := path.Base(file)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func normalizePath(file string) string {
	file = strings.ReplaceAll(file, "\\", "/")
	if i := strings.Index(file, "://"); i >= 0 {
		// webpack://app/page.tsx -> /app/page.tsx
		file = file[i+2:]
	}
	if !strings.HasPrefix(file, "/") {
		file = "/" + file
	}
	return file
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
