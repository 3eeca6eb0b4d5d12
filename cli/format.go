// Terminal output styling.
//
// Information Hiding:
// - Terminal detection hidden
// - Markdown renderer setup hidden

package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	glamourstyles "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/richinex/agentpatterns/patterns"
)

const defaultWrapWidth = 100

// terminalFormatter renders markdown with glamour and headings with
// lipgloss.
type terminalFormatter struct {
	heading  lipgloss.Style
	renderer *glamour.TermRenderer
}

// NewFormatter returns a styling formatter when f is a terminal and
// patterns.Plain otherwise.
func NewFormatter(f *os.File) patterns.Formatter {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return patterns.Plain{}
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = defaultWrapWidth
	}
	return newTerminalFormatter(width)
}

func newTerminalFormatter(width int) patterns.Formatter {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(glamourstyles.DarkStyleConfig),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return patterns.Plain{}
	}
	return &terminalFormatter{
		heading: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")),
		renderer: renderer,
	}
}

func (f *terminalFormatter) Heading(text string) string {
	return f.heading.Render(text)
}

func (f *terminalFormatter) Markdown(text string) string {
	out, err := f.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
