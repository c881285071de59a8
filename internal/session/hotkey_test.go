package session

import (
	"errors"
	"testing"

	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/page"
)

func TestParseHotkey(t *testing.T) {
	tests := []struct {
		in   string
		want HotkeySpec
	}{
		{"Alt+Shift+G", HotkeySpec{Alt: true, Shift: true, Code: "KeyG"}},
		{"ctrl+option+c", HotkeySpec{Ctrl: true, Alt: true, Code: "KeyC"}},
		{"Cmd+1", HotkeySpec{Meta: true, Code: "Digit1"}},
		{"Ctrl+F2", HotkeySpec{Ctrl: true, Key: "F2"}},
		{" Escape ", HotkeySpec{Key: "Escape"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHotkey(tt.in)
			if err != nil {
				t.Fatalf("ParseHotkey(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseHotkey(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseHotkeyErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "Alt+", "Hyper+G", "Alt++G"} {
		if _, err := ParseHotkey(in); !errors.Is(err, ErrInvalidHotkey) {
			t.Errorf("ParseHotkey(%q) = %v, want ErrInvalidHotkey", in, err)
		}
	}
}

func TestHotkeyMatches(t *testing.T) {
	spec, err := ParseHotkey("Alt+Shift+G")
	if err != nil {
		t.Fatal(err)
	}
	altShift := page.Modifiers{Alt: true, Shift: true}

	tests := []struct {
		name string
		ev   page.KeyEvent
		want bool
	}{
		{"exact", page.KeyEvent{Key: "G", Code: "KeyG", Modifiers: altShift}, true},
		{"composed character", page.KeyEvent{Key: "˝", Code: "KeyG", Modifiers: altShift}, true},
		{"missing shift", page.KeyEvent{Key: "g", Code: "KeyG", Modifiers: page.Modifiers{Alt: true}}, false},
		{"extra ctrl", page.KeyEvent{Key: "G", Code: "KeyG", Modifiers: page.Modifiers{Alt: true, Shift: true, Ctrl: true}}, false},
		{"other key", page.KeyEvent{Key: "H", Code: "KeyH", Modifiers: altShift}, false},
	}
	for _, tt := range tests {
		if got := spec.Matches(tt.ev); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}

	f2, _ := ParseHotkey("Ctrl+F2")
	if !f2.Matches(page.KeyEvent{Key: "f2", Modifiers: page.Modifiers{Ctrl: true}}) {
		t.Error("named keys should match case-insensitively")
	}
}

func TestHotkeyString(t *testing.T) {
	for _, in := range []string{"Alt+Shift+G", "Ctrl+F2", "Meta+7"} {
		spec, err := ParseHotkey(in)
		if err != nil {
			t.Fatal(err)
		}
		again, err := ParseHotkey(spec.String())
		if err != nil || again != spec {
			t.Errorf("%q did not round-trip through String: %q", in, spec.String())
		}
	}
}

func TestHotkeyFromConfig(t *testing.T) {
	spec, err := HotkeyFromConfig(config.Hotkey{Disabled: true})
	if err != nil || spec != nil {
		t.Errorf("disabled hotkey should yield nil, got %+v, %v", spec, err)
	}

	spec, err = HotkeyFromConfig(config.Hotkey{Combo: "Alt+Shift+G"})
	if err != nil || spec == nil || spec.Code != "KeyG" {
		t.Errorf("unexpected result %+v, %v", spec, err)
	}

	if _, err := HotkeyFromConfig(config.Hotkey{Combo: "Nope+G"}); !errors.Is(err, ErrInvalidHotkey) {
		t.Errorf("expected ErrInvalidHotkey, got %v", err)
	}
}

func TestCoalescerOnePendingRunPerClass(t *testing.T) {
	sched := &manualScheduler{}
	c := newCoalescer(sched)
	runs := 0

	if !c.Request("a", func() { runs++ }) {
		t.Fatal("first request should schedule")
	}
	if c.Request("a", func() { runs++ }) {
		t.Error("second request should coalesce")
	}
	if !c.Request("b", func() {}) {
		t.Error("other class should schedule independently")
	}
	sched.flush()
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	if !c.Request("a", func() { runs++ }) {
		t.Error("request after flush should schedule again")
	}
}
