package session

import (
	"errors"
	"fmt"
	"strings"

	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/page"
)

// ErrInvalidHotkey is returned for combinations that cannot be parsed.
var ErrInvalidHotkey = errors.New("invalid hotkey")

// HotkeySpec is a parsed modifier/key combination. Letters and digits match
// the physical key (KeyG, Digit1) so layouts and Alt-composed characters do
// not break them; anything else matches the logical key name.
type HotkeySpec struct {
	Alt, Shift, Ctrl, Meta bool
	Code                   string
	Key                    string
}

// ParseHotkey parses strings such as "Alt+Shift+G" or "Ctrl+F2".
func ParseHotkey(s string) (HotkeySpec, error) {
	var spec HotkeySpec
	parts := strings.Split(strings.TrimSpace(s), "+")
	if len(parts) == 0 || strings.TrimSpace(s) == "" {
		return spec, fmt.Errorf("%w: empty combination", ErrInvalidHotkey)
	}

	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "alt", "option", "opt":
			spec.Alt = true
		case "shift":
			spec.Shift = true
		case "ctrl", "control":
			spec.Ctrl = true
		case "meta", "cmd", "command", "super", "win":
			spec.Meta = true
		default:
			return spec, fmt.Errorf("%w: %q is not a modifier in %q", ErrInvalidHotkey, p, s)
		}
	}

	key := strings.TrimSpace(parts[len(parts)-1])
	switch {
	case key == "":
		return spec, fmt.Errorf("%w: missing key in %q", ErrInvalidHotkey, s)
	case len(key) == 1 && isLetter(key[0]):
		spec.Code = "Key" + strings.ToUpper(key)
	case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
		spec.Code = "Digit" + key
	default:
		spec.Key = key
	}
	return spec, nil
}

// HotkeyFromConfig returns nil when the hotkey is disabled.
func HotkeyFromConfig(h config.Hotkey) (*HotkeySpec, error) {
	if h.Disabled {
		return nil, nil
	}
	spec, err := ParseHotkey(h.Combo)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// Matches reports whether ev is exactly this combination.
func (h HotkeySpec) Matches(ev page.KeyEvent) bool {
	if ev.Alt != h.Alt || ev.Shift != h.Shift || ev.Ctrl != h.Ctrl || ev.Meta != h.Meta {
		return false
	}
	if h.Code != "" {
		return ev.Code == h.Code
	}
	return strings.EqualFold(ev.Key, h.Key)
}

func (h HotkeySpec) String() string {
	var parts []string
	if h.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if h.Alt {
		parts = append(parts, "Alt")
	}
	if h.Shift {
		parts = append(parts, "Shift")
	}
	if h.Meta {
		parts = append(parts, "Meta")
	}
	switch {
	case strings.HasPrefix(h.Code, "Key"):
		parts = append(parts, strings.TrimPrefix(h.Code, "Key"))
	case strings.HasPrefix(h.Code, "Digit"):
		parts = append(parts, strings.TrimPrefix(h.Code, "Digit"))
	default:
		parts = append(parts, h.Key)
	}
	return strings.Join(parts, "+")
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
