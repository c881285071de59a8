package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"grabctx-mcp-server/internal/bundle"
)

// CanonicalJSON encodes v the way checksums see it: struct field order,
// sorted map keys, no HTML escaping and no trailing newline.
func CanonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Checksum hashes the canonical JSON of v. Values that cannot be encoded
// hash as the empty string.
func Checksum(v any) string {
	s, err := CanonicalJSON(v)
	if err != nil {
		s = ""
	}
	return hashString(s)
}

// hashString is h = h*31 + c over UTF-16 code units, kept to 32 bits and
// printed as unsigned lower-case hex.
func hashString(s string) string {
	var h uint32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + uint32(u)
	}
	return strconv.FormatUint(uint64(h), 16)
}

// ElementID derives a stable id from the element's identity, not its
// content, so the same element captured twice keeps its id.
func ElementID(ec *bundle.ElementContext) string {
	if ec == nil {
		return "el_" + hashString("")
	}
	var component, file string
	if ec.React != nil {
		if owner := ec.React.Slice.Owner(); owner != nil {
			component = owner.Name
			if owner.Source != nil {
				file = owner.Source.File
			}
		}
	}
	r := ec.Selection.Rect
	parts := []string{
		ec.Selection.ID,
		ec.Selection.TestID,
		ec.Selection.Tag,
		component,
		file,
		fmt.Sprintf("%d,%d,%d,%d", round(r.X), round(r.Y), round(r.Width), round(r.Height)),
	}
	return "el_" + hashString(strings.Join(parts, "|"))
}

func round(v float64) int64 {
	return int64(math.Round(v))
}
