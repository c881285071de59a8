package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	consoleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	consoleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	consoleMarker = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

// Console prints the session to a terminal. Framing lines are dimmed so the
// facts stand out; the text itself is unchanged.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole writes to out, or stderr when out is nil. Stdout is reserved
// for the MCP stdio transport.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{out: out}
}

func (c *Console) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "[") {
			lines[i] = consoleMarker.Render(line)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, consoleBox.Render(consoleTitle.Render("grabctx selection")+"\n"+strings.Join(lines, "\n")))
	return err
}
