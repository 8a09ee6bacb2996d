package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/logstream"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	syncedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printer writes log lines and statuses, colouring them on a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &printer{w: w, color: color}
}

func (p *printer) entry(e logstream.Entry) {
	line := e.Format()
	if p.color {
		switch e.Level {
		case logstream.LevelError:
			line = errorStyle.Render(line)
		case logstream.LevelWarn:
			line = warnStyle.Render(line)
		default:
			line = infoStyle.Render(line)
		}
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) status(s domain.Status) {
	text := string(s)
	if p.color {
		switch s {
		case domain.StatusRunning:
			text = runningStyle.Render(text)
		case domain.StatusSynced:
			text = syncedStyle.Render(text)
		default:
			text = errorStyle.Render(text)
		}
	}
	fmt.Fprintln(p.w, text)
}

func (p *printer) field(label, value string) {
	if p.color {
		label = labelStyle.Render(label)
	}
	fmt.Fprintf(p.w, "%s %s\n", label, value)
}
