package browser

import (
	"encoding/json"
	"errors"
	"fmt"

	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/page"

	"github.com/ysmood/gson"
)

func unmarshal(v gson.JSON, out interface{}) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal runtime result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode runtime result: %w", err)
	}
	return nil
}

type wireElement struct {
	Tag          string      `json:"tag"`
	ID           string      `json:"id"`
	TestID       string      `json:"testId"`
	Role         string      `json:"role"`
	Name         string      `json:"name"`
	Text         string      `json:"text"`
	HTML         string      `json:"html"`
	Classes      []string    `json:"classes"`
	Rect         bundle.Rect `json:"rect"`
	Selector     string      `json:"selector"`
	PathSelector string      `json:"pathSelector"`
}

func decodeElement(v gson.JSON) (*page.Element, error) {
	if v.Nil() {
		return nil, ErrDetached
	}
	var w wireElement
	if err := unmarshal(v, &w); err != nil {
		return nil, err
	}
	if w.Tag == "" {
		return nil, errors.New("describe: missing tag")
	}
	return &page.Element{
		Tag:          w.Tag,
		ID:           w.ID,
		TestID:       w.TestID,
		Role:         w.Role,
		Name:         w.Name,
		Text:         w.Text,
		HTML:         w.HTML,
		Classes:      w.Classes,
		Rect:         w.Rect,
		Selector:     w.Selector,
		PathSelector: w.PathSelector,
	}, nil
}

func decodeRect(v gson.JSON) (bundle.Rect, bool) {
	if v.Nil() {
		return bundle.Rect{}, false
	}
	var r bundle.Rect
	if err := unmarshal(v, &r); err != nil {
		return bundle.Rect{}, false
	}
	return r, true
}

type wireNeighborhood struct {
	Ancestors    []bundle.NodeSummary `json:"ancestors"`
	SiblingIndex int                  `json:"siblingIndex"`
	SiblingTotal int                  `json:"siblingTotal"`
	Previous     *bundle.NodeSummary  `json:"previous"`
	Next         *bundle.NodeSummary  `json:"next"`
	Children     []bundle.NodeSummary `json:"children"`
}

func decodeNeighborhood(v gson.JSON) (*page.Neighborhood, error) {
	if v.Nil() {
		return nil, ErrDetached
	}
	var w wireNeighborhood
	if err := unmarshal(v, &w); err != nil {
		return nil, err
	}
	n := page.Neighborhood(w)
	return &n, nil
}

type wireFrame struct {
	Fiber page.Fiber        `json:"fiber"`
	Name  string            `json:"name"`
	Kind  string            `json:"kind"`
	Flags bundle.FrameFlags `json:"flags"`
}

// decodeFrames passes flags through as sent: a flag the runtime omits stays
// unknown, an explicit false stays false.
func decodeFrames(v gson.JSON) ([]page.RawFrame, error) {
	if v.Nil() {
		return nil, nil
	}
	var wire []wireFrame
	if err := unmarshal(v, &wire); err != nil {
		return nil, err
	}
	frames := make([]page.RawFrame, 0, len(wire))
	for _, w := range wire {
		kind := bundle.FrameComposite
		if w.Kind == string(bundle.FrameHost) {
			kind = bundle.FrameHost
		}
		frames = append(frames, page.RawFrame{
			Fiber: w.Fiber,
			Name:  w.Name,
			Kind:  kind,
			Flags: w.Flags,
		})
	}
	return frames, nil
}

func decodeSource(v gson.JSON) (*page.RawSource, error) {
	if v.Nil() {
		return nil, nil
	}
	var src page.RawSource
	if err := unmarshal(v, &src); err != nil {
		return nil, err
	}
	if src.File == "" {
		return nil, nil
	}
	return &src, nil
}

type wireInputs struct {
	Props   map[string]any `json:"props"`
	State   []any          `json:"state"`
	Context map[string]any `json:"context"`
}

func decodeInputs(v gson.JSON) (*page.Inputs, error) {
	if v.Nil() {
		return nil, nil
	}
	var w wireInputs
	if err := unmarshal(v, &w); err != nil {
		return nil, err
	}
	in := &page.Inputs{
		Props:   make(map[string]any, len(w.Props)),
		State:   make([]any, 0, len(w.State)),
		Context: make(map[string]any, len(w.Context)),
	}
	for k, val := range w.Props {
		in.Props[k] = restoreFuncs(val)
	}
	for _, val := range w.State {
		in.State = append(in.State, restoreFuncs(val))
	}
	for k, val := range w.Context {
		in.Context[k] = restoreFuncs(val)
	}
	return in, nil
}

// restoreFuncs turns the runtime's callable placeholders back into page.Func.
func restoreFuncs(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if name, ok := val[funcKey].(string); ok {
				return page.Func{Name: name}
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = restoreFuncs(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = restoreFuncs(item)
		}
		return out
	default:
		return v
	}
}

type wireEvent struct {
	Type   string   `json:"type"`
	Target page.Ref `json:"target"`
	Key    string   `json:"key"`
	Code   string   `json:"code"`
	Button int      `json:"button"`
	page.Modifiers
}

// dispatch decodes one binding payload and forwards it to h.
func dispatch(h EventHandler, payload string) error {
	var ev wireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if h == nil {
		return nil
	}
	switch ev.Type {
	case "key":
		h.HandleKey(page.KeyEvent{Key: ev.Key, Code: ev.Code, Modifiers: ev.Modifiers})
	case "pointer":
		h.HandlePointerMove(ev.Target)
	case "click":
		h.HandleClick(page.ClickEvent{Target: ev.Target, Button: ev.Button, Modifiers: ev.Modifiers})
	case "viewport":
		h.HandleViewportChange()
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
