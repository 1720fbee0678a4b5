// Package terminal renders run progress and the end-of-run summary for the
// one-shot CLI. Styling is applied only when the output is a terminal.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
	"github.com/chrisalpuerto/parallel-sessions/pkg/telemetry"
)

// Writer prints styled run output.
type Writer struct {
	out    io.Writer
	styled bool
	mu     sync.Mutex

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	headerStyle  lipgloss.Style
}

// New creates a Writer on stdout, styled when stdout is a terminal.
func New() *Writer {
	return NewWithOutput(os.Stdout, IsTerminal(os.Stdout))
}

// NewWithOutput creates a Writer on out. Unstyled writers emit plain text.
func NewWithOutput(out io.Writer, styled bool) *Writer {
	w := &Writer{out: out, styled: styled}
	if !styled {
		return w
	}
	w.errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
		Bold(true)
	w.warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"})
	w.successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"})
	w.infoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"})
	w.dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	w.headerStyle = lipgloss.NewStyle().
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"})
	return w
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func (w *Writer) render(style lipgloss.Style, s string) string {
	if !w.styled {
		return s
	}
	return style.Render(s)
}

func (w *Writer) line(style lipgloss.Style, s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.render(style, s))
}

// Error prints an error message in red.
func (w *Writer) Error(format string, args ...any) {
	w.line(w.errorStyle, "error: "+fmt.Sprintf(format, args...))
}

// Warn prints a warning message in yellow.
func (w *Writer) Warn(format string, args ...any) {
	w.line(w.warnStyle, "warning: "+fmt.Sprintf(format, args...))
}

// Success prints a success message in green.
func (w *Writer) Success(format string, args ...any) {
	w.line(w.successStyle, "✓ "+fmt.Sprintf(format, args...))
}

// Info prints an info message in blue.
func (w *Writer) Info(format string, args ...any) {
	w.line(w.infoStyle, fmt.Sprintf(format, args...))
}

// Header prints a section header.
func (w *Writer) Header(title string) {
	w.line(w.headerStyle, title)
}

// Event prints one progress line for a telemetry event. Events the run
// output does not care about are skipped.
func (w *Writer) Event(ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventSessionStatus:
		w.line(w.statusStyle(session.Status(ev.Status)),
			fmt.Sprintf("[%d] %-17s %s", ev.SessionID, ev.Status, ev.Action))
	case telemetry.EventCaptchaSolved:
		w.line(w.dimStyle, fmt.Sprintf("[%d] challenge solved", ev.SessionID))
	case telemetry.EventCaptchaFailed:
		w.line(w.warnStyle, fmt.Sprintf("[%d] challenge not solved", ev.SessionID))
	}
}

func (w *Writer) statusStyle(st session.Status) lipgloss.Style {
	switch st {
	case session.StatusComplete, session.StatusFinished:
		return w.successStyle
	case session.StatusFailed:
		return w.errorStyle
	case session.StatusSoldOut:
		return w.warnStyle
	}
	if st.IsTerminal() {
		return w.dimStyle
	}
	return w.infoStyle
}

// Summary prints a table of the final records followed by a count per status.
func (w *Writer) Summary(records []session.Record) {
	rows := make([][]string, 0, len(records))
	counts := make(map[session.Status]int)
	var order []session.Status
	for _, rec := range records {
		rows = append(rows, []string{
			fmt.Sprintf("%d", rec.ID),
			rec.EgressIdentity,
			string(rec.Status),
			rec.Action,
			rec.Email,
		})
		if counts[rec.Status] == 0 {
			order = append(order, rec.Status)
		}
		counts[rec.Status]++
	}

	table := renderTable([]string{"ID", "EGRESS", "STATUS", "ACTION", "EMAIL"}, rows)
	parts := make([]string, 0, len(order))
	for _, st := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", st, counts[st]))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.styled {
		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}).
			Padding(0, 1)
		fmt.Fprintln(w.out, box.Render(table))
	} else {
		fmt.Fprintln(w.out, table)
	}
	fmt.Fprintln(w.out, w.render(w.dimStyle, strings.Join(parts, " ")))
}

// renderTable lays rows out in width-aligned columns.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(cell)
			if i < len(cells)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		sb.WriteString("\n")
	}
	writeRow(header)
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(sb.String(), "\n")
}
