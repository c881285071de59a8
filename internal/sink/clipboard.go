package sink

import (
	"context"
	"errors"

	"github.com/atotto/clipboard"
)

// ErrClipboardUnavailable is returned when the host has no clipboard tool
// (xclip, xsel, wl-copy, pbcopy or clip.exe).
var ErrClipboardUnavailable = errors.New("clipboard unavailable")

// Clipboard copies the session to the system clipboard.
type Clipboard struct {
	write func(string) error
}

func NewClipboard() *Clipboard {
	return &Clipboard{write: clipboard.WriteAll}
}

func (c *Clipboard) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return ErrClipboardUnavailable
	}
	return c.write(text)
}
