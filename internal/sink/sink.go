// Package sink delivers rendered selection sessions to wherever the agent
// reads them: the clipboard, the terminal, a file, connected websocket
// clients or an object store.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Sink accepts one rendered session.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, text string) error

func (f Func) Deliver(ctx context.Context, text string) error { return f(ctx, text) }

// Named pairs a sink with the name used in logs and errors.
type Named struct {
	Name string
	Sink Sink
}

// Multi delivers to every sink concurrently. Every sink is attempted; the
// error of the first failing sink in list order is returned.
type Multi struct {
	sinks []Named
}

// NewMulti ignores nil sinks.
func NewMulti(sinks ...Named) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s.Sink != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Names lists the configured sinks in order.
func (m *Multi) Names() []string {
	out := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		out[i] = s.Name
	}
	return out
}

func (m *Multi) Deliver(ctx context.Context, text string) error {
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}
	errs := make([]error, len(m.sinks))
	var wg sync.WaitGroup
	for i, s := range m.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Sink.Deliver(ctx, text); err != nil {
				log.Printf("[sink:%s] deliver failed: %v", s.Name, err)
				errs[i] = fmt.Errorf("sink %s: %w", s.Name, err)
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ErrNoSinks is returned by an empty Multi.
var ErrNoSinks = errors.New("no sinks configured")

// File overwrites a file with the latest session.
type File struct {
	Path string
}

func (f File) Deliver(_ context.Context, text string) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}
