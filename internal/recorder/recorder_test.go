package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/session"
)

func steppingClock() func() time.Time {
	t := time.UnixMilli(1700000000000)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	r.now = steppingClock()

	for i := 0; i < MaxRotatedFiles+2; i++ {
		if err := r.Start(""); err != nil {
			t.Fatal(err)
		}
		r.Log("test", "sess", map[string]string{"msg": "hello"})
	}
	newest := r.RunID()
	r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxRotatedFiles {
		t.Fatalf("expected %d files, got %d", MaxRotatedFiles, len(entries))
	}
	last := entries[len(entries)-1].Name()
	if !strings.Contains(last, newest) {
		t.Errorf("newest trace %s should survive rotation, have %s", newest, last)
	}
}

func TestRecorderIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "notes.jsonl")
	if err := os.WriteFile(keep, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	r.now = steppingClock()
	for i := 0; i < MaxRotatedFiles+1; i++ {
		if err := r.Start("run"); err != nil {
			t.Fatal(err)
		}
	}
	r.Close()
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("rotation removed a file it does not own: %v", err)
	}
}

func TestRecorderObservesSelection(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	r.Log("dropped", "", nil)
	if err := r.Start("run1"); err != nil {
		t.Fatal(err)
	}

	r.Report(session.Progress{Phase: session.PhaseCapturing, Completed: 1, Total: 2, Message: "Captured 1/2"})
	s := &bundle.SelectionSession{
		ID:       "s1",
		URL:      "http://app.test/",
		Summary:  "Captured 1 of 1 element",
		Elements: []bundle.ElementContext{{Selection: bundle.Selection{Tag: "a"}}},
	}
	r.SessionCaptured(context.Background(), s, "rendered <text>")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r.Log("after-close", "", nil)

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one trace, got %v (%v)", entries, err)
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []map[string]json.RawMessage
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]json.RawMessage
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0]["type"]) != `"progress"` || string(events[1]["type"]) != `"session"` {
		t.Errorf("unexpected event types %s, %s", events[0]["type"], events[1]["type"])
	}
	if string(events[1]["session_id"]) != `"s1"` {
		t.Errorf("session_id = %s", events[1]["session_id"])
	}

	var digest SessionDigest
	if err := json.Unmarshal(events[1]["data"], &digest); err != nil {
		t.Fatal(err)
	}
	if digest.Bytes != len("rendered <text>") || len(digest.Elements) != 1 || digest.Checksum == "" {
		t.Errorf("unexpected digest %+v", digest)
	}
	if !strings.HasPrefix(digest.Elements[0], "el_") {
		t.Errorf("element id = %s", digest.Elements[0])
	}
}
