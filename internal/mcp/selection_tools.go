package mcp

import (
	"context"
	"errors"
	"fmt"

	"grabctx-mcp-server/internal/session"
)

var emptySchema = map[string]interface{}{
	"type":       "object",
	"properties": map[string]interface{}{},
}

type StartSelectionTool struct {
	selection Selection
	hotkey    *session.HotkeySpec
}

func (t *StartSelectionTool) Name() string { return "start-selection" }
func (t *StartSelectionTool) Description() string {
	return `Put the browser page into element-selection mode.

The user then hovers and clicks elements in the page:
- Click selects one element; Shift/Ctrl/Cmd+Click adds or removes
- Enter sends the selection, Esc cancels, ? shows help

WORKFLOW:
1. set-instruction (optional) with what the user wants changed
2. start-selection
3. Ask the user to pick elements and press Enter (or call finalize-selection)
4. get-selection to read the rendered context

Returns: {state, hotkey}.`
}
func (t *StartSelectionTool) InputSchema() map[string]interface{} { return emptySchema }
func (t *StartSelectionTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.selection.Start(); err != nil {
		return nil, err
	}
	out := map[string]interface{}{"state": t.selection.State()}
	if t.hotkey != nil {
		out["hotkey"] = t.hotkey.String()
	}
	return out, nil
}

type CancelSelectionTool struct {
	selection Selection
}

func (t *CancelSelectionTool) Name() string { return "cancel-selection" }
func (t *CancelSelectionTool) Description() string {
	return `Leave selection mode and discard the current picks. No-op when idle;
fails while a session is being sent.`
}
func (t *CancelSelectionTool) InputSchema() map[string]interface{} { return emptySchema }
func (t *CancelSelectionTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.selection.Cancel(); err != nil {
		if errors.Is(err, session.ErrBusy) && t.selection.State() == session.StateIdle {
			return map[string]interface{}{"state": session.StateIdle, "cancelled": false}, nil
		}
		return nil, err
	}
	return map[string]interface{}{"state": t.selection.State(), "cancelled": true}, nil
}

type SelectionStatusTool struct {
	selection Selection
}

func (t *SelectionStatusTool) Name() string { return "selection-status" }
func (t *SelectionStatusTool) Description() string {
	return `Report the controller state (idle, selecting, sending), how many elements
are currently picked, and the id of the last captured session.`
}
func (t *SelectionStatusTool) InputSchema() map[string]interface{} { return emptySchema }
func (t *SelectionStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	out := map[string]interface{}{
		"state":    t.selection.State(),
		"selected": len(t.selection.Selected()),
	}
	if s, _, ok := t.selection.LastSession(); ok {
		out["last_session_id"] = s.ID
		out["last_summary"] = s.Summary
	}
	return out, nil
}

type SetInstructionTool struct {
	selection Selection
}

func (t *SetInstructionTool) Name() string { return "set-instruction" }
func (t *SetInstructionTool) Description() string {
	return `Attach a free-text instruction to the next captured session, e.g.
"make this button match the primary style". It is consumed by the next
finalize; an empty string clears it.`
}
func (t *SetInstructionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Instruction carried in the session header",
			},
		},
		"required": []string{"text"},
	}
}
func (t *SetInstructionTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	text := getStringArg(args, "text")
	t.selection.SetInstruction(text)
	return map[string]interface{}{"instruction": text}, nil
}

type FinalizeSelectionTool struct {
	selection Selection
}

func (t *FinalizeSelectionTool) Name() string { return "finalize-selection" }
func (t *FinalizeSelectionTool) Description() string {
	return `Capture the picked elements now, as if the user pressed Enter. Falls back
to the hovered element when nothing is picked. Requires selection mode.

Returns the rendered session text. When delivery to the configured sinks
fails the session is still returned; use redeliver to retry.`
}
func (t *FinalizeSelectionTool) InputSchema() map[string]interface{} { return emptySchema }
func (t *FinalizeSelectionTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	s, err := t.selection.Finalize(ctx)
	if s == nil {
		if err == nil {
			err = errors.New("no session captured")
		}
		return nil, err
	}
	_, text, _ := t.selection.LastSession()
	if err != nil {
		return fmt.Sprintf("%s\n\n(delivery failed: %v)", text, err), nil
	}
	return text, nil
}

type RedeliverTool struct {
	selection Selection
}

func (t *RedeliverTool) Name() string { return "redeliver" }
func (t *RedeliverTool) Description() string {
	return `Send the last captured session to the configured sinks again, e.g. after
a clipboard or upload failure.`
}
func (t *RedeliverTool) InputSchema() map[string]interface{} { return emptySchema }
func (t *RedeliverTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.selection.Redeliver(ctx); err != nil {
		return nil, err
	}
	s, _, _ := t.selection.LastSession()
	return map[string]interface{}{"success": true, "session_id": s.ID}, nil
}
